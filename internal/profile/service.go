package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rentwise/riskd/internal/auth"
	"github.com/rentwise/riskd/internal/bulk"
	"github.com/rentwise/riskd/internal/idgen"
	"github.com/rentwise/riskd/internal/logging"
	"github.com/rentwise/riskd/internal/metrics"
	"github.com/rentwise/riskd/internal/pagination"
	"github.com/rentwise/riskd/internal/traces"
	"github.com/rentwise/riskd/internal/validation"
)

// Event names emitted on profile mutations.
const (
	EventCreated = "profile_created"
	EventUpdated = "profile_updated"
	EventDeleted = "profile_deleted"
)

// EventEmitter receives profile mutations for live subscribers.
type EventEmitter interface {
	EmitProfile(event string, p *RiskProfile)
}

// Config bounds bulk work and category validation.
type Config struct {
	BulkMaxItems        int
	BulkWorkers         int
	AllowSlugCategories bool
}

// Service implements profile operations over a Store.
type Service struct {
	store  Store
	cfg    Config
	events EventEmitter
	now    func() time.Time
}

// NewService creates a profile service.
func NewService(store Store, cfg Config) *Service {
	return &Service{store: store, cfg: cfg, now: time.Now}
}

// WithEvents attaches a live event emitter.
func (s *Service) WithEvents(e EventEmitter) *Service {
	s.events = e
	return s
}

func (s *Service) options() Options {
	return Options{AllowSlugCategories: s.cfg.AllowSlugCategories}
}

// Create validates and stores one submission.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*RiskProfile, error) {
	p, errs := Normalize(req, s.options())
	if len(errs) > 0 {
		return nil, errs
	}
	return s.insert(ctx, p)
}

// CreateRaw decodes, validates and stores one raw JSON submission.
func (s *Service) CreateRaw(ctx context.Context, raw json.RawMessage) (*RiskProfile, error) {
	p, errs := Parse(raw, s.options())
	if len(errs) > 0 {
		return nil, errs
	}
	return s.insert(ctx, p)
}

func (s *Service) insert(ctx context.Context, p *RiskProfile) (*RiskProfile, error) {
	now := s.now().UTC()
	actor := auth.Actor(ctx)
	p.ID = idgen.New()
	p.Version = 1
	p.CreatedAt = now
	p.UpdatedAt = now
	p.CreatedBy = actor
	p.UpdatedBy = actor

	if err := s.store.Create(ctx, p, s.auditEntry(p, AuditCreate, actor, now)); err != nil {
		return nil, err
	}
	metrics.ProfilesCreatedTotal.Inc()
	s.emit(EventCreated, p)
	logging.L(ctx).Info("risk profile created", "profile_id", p.ID, "product_id", p.ProductID, "category_id", p.CategoryID)
	return p, nil
}

// BulkSummary identifies one created profile in a bulk result.
type BulkSummary struct {
	Index      int    `json:"index"`
	ID         string `json:"id"`
	ProductID  string `json:"productId"`
	CategoryID string `json:"categoryId"`
}

// BulkError describes one rejected item. Data echoes the item as submitted.
type BulkError struct {
	Index  int                     `json:"index"`
	Data   json.RawMessage         `json:"data"`
	Error  string                  `json:"error"`
	Fields []validation.FieldError `json:"fields,omitempty"`
}

// BulkResult aggregates a bulk create. Successful+Failed always equals the
// number of submitted items; Results and Errors are in input order.
type BulkResult struct {
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	Results    []BulkSummary `json:"results"`
	Errors     []BulkError   `json:"errors"`
}

// BulkCreate runs every item through validation and Create independently.
// One item's failure never affects another; committed items stay committed
// even if ctx is cancelled part way through.
func (s *Service) BulkCreate(ctx context.Context, items []json.RawMessage) (*BulkResult, error) {
	batch := make([]bulkItem, len(items))
	for i, raw := range items {
		batch[i] = bulkItem{data: bulk.Echo(raw), parse: func() (*RiskProfile, validation.ValidationErrors) {
			return Parse(raw, s.options())
		}}
	}
	return s.runBulk(ctx, batch)
}

// bulkItem is one unit of bulk work: the payload echoed back on failure and
// the parser producing the normalized profile.
type bulkItem struct {
	data  json.RawMessage
	parse func() (*RiskProfile, validation.ValidationErrors)
}

func (s *Service) runBulk(ctx context.Context, items []bulkItem) (*BulkResult, error) {
	if limit := s.cfg.BulkMaxItems; limit > 0 && len(items) > limit {
		return nil, fmt.Errorf("%w: %d items, limit is %d", ErrTooManyItems, len(items), limit)
	}

	ctx, span := traces.StartSpan(ctx, "profile.bulk_create", traces.BatchSize(len(items)))
	defer span.End()
	start := s.now()

	results := bulk.Run(ctx, items, s.cfg.BulkWorkers, func(ctx context.Context, _ int, item bulkItem) (*RiskProfile, error) {
		p, errs := item.parse()
		if len(errs) > 0 {
			return nil, errs
		}
		return s.insert(ctx, p)
	})

	out := &BulkResult{Results: []BulkSummary{}, Errors: []BulkError{}}
	log := logging.L(ctx)
	for _, r := range results {
		if r.Err != nil {
			out.Failed++
			be := BulkError{Index: r.Index, Data: items[r.Index].data, Error: r.Err.Error()}
			var verrs validation.ValidationErrors
			if errors.As(r.Err, &verrs) {
				be.Fields = verrs
			}
			out.Errors = append(out.Errors, be)
			log.Debug("bulk item rejected", "index", r.Index, "error", r.Err)
			continue
		}
		out.Successful++
		out.Results = append(out.Results, BulkSummary{
			Index:      r.Index,
			ID:         r.Value.ID,
			ProductID:  r.Value.ProductID,
			CategoryID: r.Value.CategoryID,
		})
	}

	log.Info("bulk profile create finished",
		"items", len(items), "successful", out.Successful, "failed", out.Failed,
		"duration", time.Since(start))
	return out, nil
}

// Get returns a profile by ID.
func (s *Service) Get(ctx context.Context, id string) (*RiskProfile, error) {
	return s.store.Get(ctx, id)
}

// GetByProduct returns every profile of a product, newest first.
func (s *Service) GetByProduct(ctx context.Context, productID string) ([]*RiskProfile, error) {
	return s.store.ListByProduct(ctx, productID)
}

// FindActive returns the active profile for a product/category pair.
func (s *Service) FindActive(ctx context.Context, productID, categoryID string) (*RiskProfile, error) {
	return s.store.FindActive(ctx, productID, categoryID)
}

// Page is one page of List results.
type Page struct {
	Profiles []*RiskProfile `json:"profiles"`
	pagination.Meta
}

// List returns profiles matching f.
func (s *Service) List(ctx context.Context, f Filter, p pagination.Params) (*Page, error) {
	items, total, err := s.store.List(ctx, f, p)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*RiskProfile{}
	}
	return &Page{Profiles: items, Meta: pagination.NewMeta(p, total)}, nil
}

// All returns every stored profile.
func (s *Service) All(ctx context.Context) ([]*RiskProfile, error) {
	return s.store.All(ctx)
}

// Update applies a partial update. When req.Version is set it must equal
// the stored version. Every successful update increments the version.
func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (*RiskProfile, error) {
	current, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Version != nil && *req.Version != current.Version {
		return nil, ErrVersionConflict
	}

	next, errs := Normalize(req.Merge(current), s.options())
	if len(errs) > 0 {
		return nil, errs
	}

	now := s.now().UTC()
	actor := auth.Actor(ctx)
	next.ID = current.ID
	next.Version = current.Version + 1
	next.CreatedAt = current.CreatedAt
	next.CreatedBy = current.CreatedBy
	next.UpdatedAt = now
	next.UpdatedBy = actor

	if err := s.store.Update(ctx, next, current.Version, s.auditEntry(next, AuditUpdate, actor, now)); err != nil {
		return nil, err
	}
	s.emit(EventUpdated, next)
	logging.L(ctx).Info("risk profile updated", "profile_id", id, "version", next.Version)
	return next, nil
}

// Delete removes a profile. The audit trail keeps its final snapshot.
func (s *Service) Delete(ctx context.Context, id string) error {
	current, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	actor := auth.Actor(ctx)
	if err := s.store.Delete(ctx, id, s.auditEntry(current, AuditDelete, actor, now)); err != nil {
		return err
	}
	s.emit(EventDeleted, current)
	logging.L(ctx).Info("risk profile deleted", "profile_id", id)
	return nil
}

// Audit returns the mutation history of a profile, oldest first. A profile
// that never existed is not found; a deleted one still has its history.
func (s *Service) Audit(ctx context.Context, id string) ([]*AuditEntry, error) {
	entries, err := s.store.ListAudit(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNotFound
	}
	return entries, nil
}

// Summary rolls up every stored profile.
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	all, err := s.store.All(ctx)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(all), nil
}

func (s *Service) auditEntry(p *RiskProfile, action AuditAction, actor string, at time.Time) *AuditEntry {
	snapshot, _ := json.Marshal(p)
	return &AuditEntry{
		ID:        idgen.New(),
		ProfileID: p.ID,
		Action:    action,
		Version:   p.Version,
		Snapshot:  snapshot,
		Actor:     actor,
		At:        at,
	}
}

func (s *Service) emit(event string, p *RiskProfile) {
	if s.events != nil {
		s.events.EmitProfile(event, p.Clone())
	}
}
