package profile

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/rentwise/riskd/internal/validation"
)

const maxTextLength = 500

// RequirementsInput is the loosely typed mandatoryRequirements block.
type RequirementsInput struct {
	Insurance               validation.Bool       `json:"insurance"`
	Inspection              validation.Bool       `json:"inspection"`
	MinCoverage             validation.Number     `json:"minCoverage"`
	InspectionTypes         validation.StringList `json:"inspectionTypes"`
	ComplianceDeadlineHours validation.Number     `json:"complianceDeadlineHours"`
}

// CreateRequest is one profile submission as received. Numbers and booleans
// may arrive as strings; unknown fields are ignored.
type CreateRequest struct {
	ProductID             string                `json:"productId"`
	CategoryID            string                `json:"categoryId"`
	RiskLevel             string                `json:"riskLevel"`
	MandatoryRequirements *RequirementsInput    `json:"mandatoryRequirements"`
	RiskFactors           validation.StringList `json:"riskFactors"`
	MitigationStrategies  validation.StringList `json:"mitigationStrategies"`
	EnforcementLevel      string                `json:"enforcementLevel"`
	AutoEnforcement       validation.Bool       `json:"autoEnforcement"`
	GracePeriodHours      validation.Number     `json:"gracePeriodHours"`
	IsActive              validation.Bool       `json:"isActive"`
}

// UpdateRequest is a partial profile. Absent fields keep their value;
// mandatoryRequirements is merged field by field.
type UpdateRequest struct {
	ProductID             *string               `json:"productId"`
	CategoryID            *string               `json:"categoryId"`
	RiskLevel             *string               `json:"riskLevel"`
	MandatoryRequirements *RequirementsInput    `json:"mandatoryRequirements"`
	RiskFactors           validation.StringList `json:"riskFactors"`
	MitigationStrategies  validation.StringList `json:"mitigationStrategies"`
	EnforcementLevel      *string               `json:"enforcementLevel"`
	AutoEnforcement       validation.Bool       `json:"autoEnforcement"`
	GracePeriodHours      validation.Number     `json:"gracePeriodHours"`
	IsActive              validation.Bool       `json:"isActive"`
	Version               *int                  `json:"version"`
}

// Options tunes validation.
type Options struct {
	// AllowSlugCategories accepts lowercase slugs as category ids.
	AllowSlugCategories bool
}

// DecodeCreate decodes one raw submission. Type mismatches on individual
// fields become field errors; the remaining fields are still decoded so the
// caller sees every problem at once.
func DecodeCreate(raw json.RawMessage) (CreateRequest, validation.ValidationErrors) {
	var req CreateRequest
	return req, decodeObject(raw, &req)
}

// DecodeUpdate is DecodeCreate for partial updates.
func DecodeUpdate(raw json.RawMessage) (UpdateRequest, validation.ValidationErrors) {
	var req UpdateRequest
	return req, decodeObject(raw, &req)
}

func decodeObject(raw json.RawMessage, dst any) validation.ValidationErrors {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return validation.Single("_", "must be a JSON object")
	}
	err := json.Unmarshal(trimmed, dst)
	if err == nil {
		return nil
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return validation.Single(typeErr.Field, "has the wrong type")
	}
	return validation.Single("_", "must be a JSON object")
}

// Parse decodes and normalizes one raw submission, reporting decode and
// validation failures together.
func Parse(raw json.RawMessage, opts Options) (*RiskProfile, validation.ValidationErrors) {
	req, decodeErrs := DecodeCreate(raw)
	if len(decodeErrs) > 0 && decodeErrs[0].Field == "_" {
		return nil, decodeErrs
	}
	p, errs := Normalize(req, opts)
	if len(decodeErrs) == 0 {
		return p, errs
	}
	seen := decodeErrs.Fields()
	for _, e := range errs {
		if _, dup := seen[e.Field]; !dup {
			decodeErrs = append(decodeErrs, e)
		}
	}
	return nil, decodeErrs
}

// Normalize validates a submission and produces the canonical profile
// fields. Identity and audit fields are left for the caller.
func Normalize(req CreateRequest, opts Options) (*RiskProfile, validation.ValidationErrors) {
	var errs validation.ValidationErrors

	p := &RiskProfile{
		ProductID:        strings.ToLower(strings.TrimSpace(req.ProductID)),
		CategoryID:       strings.TrimSpace(req.CategoryID),
		RiskLevel:        RiskLevel(strings.ToLower(strings.TrimSpace(req.RiskLevel))),
		EnforcementLevel: EnforcementLevel(strings.ToLower(strings.TrimSpace(req.EnforcementLevel))),
		GracePeriodHours: DefaultGracePeriodHours,
		IsActive:         true,
	}

	switch {
	case p.ProductID == "":
		errs.Add("productId", "is required")
	case !validation.IsUUID(p.ProductID):
		errs.Add("productId", "must be a valid UUID")
	}

	if p.CategoryID == "" {
		errs.Add("categoryId", "is required")
	} else if fe := validation.CategoryID("categoryId", p.CategoryID, opts.AllowSlugCategories)(); fe != nil {
		errs = append(errs, *fe)
	} else if validation.IsUUID(p.CategoryID) {
		p.CategoryID = strings.ToLower(p.CategoryID)
	}

	switch {
	case p.RiskLevel == "":
		errs.Add("riskLevel", "is required")
	case !oneOf(p.RiskLevel, RiskLevels):
		errs.Add("riskLevel", "must be one of low, medium, high, critical")
	}

	if p.EnforcementLevel == "" {
		p.EnforcementLevel = DefaultEnforcementLevel
	} else if !oneOf(p.EnforcementLevel, EnforcementLevels) {
		errs.Add("enforcementLevel", "must be one of lenient, moderate, strict, very_strict")
	}

	p.MandatoryRequirements = normalizeRequirements(req.MandatoryRequirements, &errs)
	p.RiskFactors = normalizeText("riskFactors", req.RiskFactors, &errs)
	p.MitigationStrategies = normalizeText("mitigationStrategies", req.MitigationStrategies, &errs)

	if v, ok := boolField("autoEnforcement", req.AutoEnforcement, &errs); ok {
		p.AutoEnforcement = v
	}
	if v, ok := boolField("isActive", req.IsActive, &errs); ok {
		p.IsActive = v
	}
	if v, ok := nonNegative("gracePeriodHours", req.GracePeriodHours, &errs); ok {
		p.GracePeriodHours = v
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return p, nil
}

func normalizeRequirements(in *RequirementsInput, errs *validation.ValidationErrors) Requirements {
	r := Requirements{
		InspectionTypes:         []string{},
		ComplianceDeadlineHours: DefaultComplianceDeadlineHours,
	}
	if in == nil {
		return r
	}
	const prefix = "mandatoryRequirements."
	if v, ok := boolField(prefix+"insurance", in.Insurance, errs); ok {
		r.Insurance = v
	}
	if v, ok := boolField(prefix+"inspection", in.Inspection, errs); ok {
		r.Inspection = v
	}
	if v, ok := nonNegative(prefix+"minCoverage", in.MinCoverage, errs); ok {
		r.MinCoverage = v
	}
	if v, ok := nonNegative(prefix+"complianceDeadlineHours", in.ComplianceDeadlineHours, errs); ok {
		r.ComplianceDeadlineHours = v
	}
	if in.InspectionTypes.Invalid {
		errs.Add(prefix+"inspectionTypes", "must be an array of strings")
		return r
	}
	seen := make(map[string]bool, len(in.InspectionTypes.Values))
	for _, t := range in.InspectionTypes.Values {
		t = strings.ToLower(validation.SanitizeString(t, maxTextLength))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		r.InspectionTypes = append(r.InspectionTypes, t)
	}
	return r
}

func normalizeText(field string, in validation.StringList, errs *validation.ValidationErrors) []string {
	out := []string{}
	if in.Invalid {
		errs.Add(field, "must be an array of strings")
		return out
	}
	for _, s := range in.Values {
		if s = validation.SanitizeString(s, maxTextLength); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func boolField(field string, b validation.Bool, errs *validation.ValidationErrors) (bool, bool) {
	if !b.Set {
		return false, false
	}
	if b.Invalid {
		errs.Add(field, "must be a boolean")
		return false, false
	}
	return b.Value, true
}

func nonNegative(field string, n validation.Number, errs *validation.ValidationErrors) (float64, bool) {
	if !n.Set {
		return 0, false
	}
	if n.Invalid {
		errs.Add(field, "must be a number")
		return 0, false
	}
	if n.Value < 0 {
		errs.Add(field, "must be greater than or equal to 0")
		return 0, false
	}
	return n.Value, true
}

func oneOf[T ~string](v T, allowed []T) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// ToRequest converts a stored profile back into a submission. Import and
// update both reuse Normalize through it.
func ToRequest(p *RiskProfile) CreateRequest {
	r := p.MandatoryRequirements
	return CreateRequest{
		ProductID:  p.ProductID,
		CategoryID: p.CategoryID,
		RiskLevel:  string(p.RiskLevel),
		MandatoryRequirements: &RequirementsInput{
			Insurance:               validation.BoolOf(r.Insurance),
			Inspection:              validation.BoolOf(r.Inspection),
			MinCoverage:             validation.NumberOf(r.MinCoverage),
			InspectionTypes:         validation.StringsOf(r.InspectionTypes...),
			ComplianceDeadlineHours: validation.NumberOf(r.ComplianceDeadlineHours),
		},
		RiskFactors:          validation.StringsOf(p.RiskFactors...),
		MitigationStrategies: validation.StringsOf(p.MitigationStrategies...),
		EnforcementLevel:     string(p.EnforcementLevel),
		AutoEnforcement:      validation.BoolOf(p.AutoEnforcement),
		GracePeriodHours:     validation.NumberOf(p.GracePeriodHours),
		IsActive:             validation.BoolOf(p.IsActive),
	}
}

// Merge overlays the set fields of u onto base and returns the combined
// submission.
func (u UpdateRequest) Merge(base *RiskProfile) CreateRequest {
	req := ToRequest(base)
	if u.ProductID != nil {
		req.ProductID = *u.ProductID
	}
	if u.CategoryID != nil {
		req.CategoryID = *u.CategoryID
	}
	if u.RiskLevel != nil {
		req.RiskLevel = *u.RiskLevel
	}
	if u.EnforcementLevel != nil {
		req.EnforcementLevel = *u.EnforcementLevel
	}
	if u.RiskFactors.Set {
		req.RiskFactors = u.RiskFactors
	}
	if u.MitigationStrategies.Set {
		req.MitigationStrategies = u.MitigationStrategies
	}
	if u.AutoEnforcement.Set {
		req.AutoEnforcement = u.AutoEnforcement
	}
	if u.GracePeriodHours.Set {
		req.GracePeriodHours = u.GracePeriodHours
	}
	if u.IsActive.Set {
		req.IsActive = u.IsActive
	}
	if m := u.MandatoryRequirements; m != nil {
		dst := req.MandatoryRequirements
		if m.Insurance.Set {
			dst.Insurance = m.Insurance
		}
		if m.Inspection.Set {
			dst.Inspection = m.Inspection
		}
		if m.MinCoverage.Set {
			dst.MinCoverage = m.MinCoverage
		}
		if m.InspectionTypes.Set {
			dst.InspectionTypes = m.InspectionTypes
		}
		if m.ComplianceDeadlineHours.Set {
			dst.ComplianceDeadlineHours = m.ComplianceDeadlineHours
		}
	}
	return req
}
