package profile

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rentwise/riskd/internal/apierr"
	"github.com/rentwise/riskd/internal/auth"
	"github.com/rentwise/riskd/internal/pagination"
	"github.com/rentwise/riskd/internal/validation"
)

// Handler provides HTTP endpoints for risk profiles.
type Handler struct {
	service *Service
}

// NewHandler creates a new profile handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts profile routes on an authenticated group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	admin := auth.RequireRole(auth.Admins...)

	r.POST("/profiles", admin, h.Create)
	r.POST("/profiles/bulk", admin, h.BulkCreate)
	r.POST("/profiles/import", admin, h.Import)
	r.GET("/profiles", h.List)
	r.GET("/profiles/export", h.Export)
	r.GET("/profiles/:id", h.Get)
	r.PUT("/profiles/:id", admin, h.Update)
	r.DELETE("/profiles/:id", admin, h.Delete)
	r.GET("/profiles/:id/audit", admin, h.Audit)
	r.GET("/products/:productId/profiles", h.ListByProduct)
}

// Create handles POST /v1/profiles
func (h *Handler) Create(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		apierr.Invalid(c, "could not read request body")
		return
	}
	p, err := h.service.CreateRaw(c.Request.Context(), raw)
	if err != nil {
		apierr.Write(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"profile": p})
}

// BulkCreate handles POST /v1/profiles/bulk
func (h *Handler) BulkCreate(c *gin.Context) {
	items, err := DecodeEnvelope(c.Request.Body)
	if err != nil {
		apierr.Write(c, err)
		return
	}
	result, err := h.service.BulkCreate(c.Request.Context(), items)
	if err != nil {
		apierr.Write(c, err)
		return
	}
	c.JSON(bulkStatus(result), result)
}

// Import handles POST /v1/profiles/import with a text/csv or JSON body.
func (h *Handler) Import(c *gin.Context) {
	var (
		result *BulkResult
		err    error
	)
	ctx := c.Request.Context()
	switch ct := c.ContentType(); {
	case ct == "text/csv" || ct == "application/csv" || c.Query("format") == "csv":
		result, err = h.service.ImportCSV(ctx, c.Request.Body)
	case ct == "" || ct == "application/json":
		result, err = h.service.ImportJSON(ctx, c.Request.Body)
	default:
		apierr.Invalid(c, "content type must be text/csv or application/json")
		return
	}
	if err != nil {
		apierr.Write(c, err)
		return
	}
	c.JSON(bulkStatus(result), result)
}

// bulkStatus is 201 when anything was created, else 200: the batch itself
// was processed either way.
func bulkStatus(r *BulkResult) int {
	if r.Successful > 0 {
		return http.StatusCreated
	}
	return http.StatusOK
}

// List handles GET /v1/profiles
func (h *Handler) List(c *gin.Context) {
	f, errs := filterFromQuery(c)
	if len(errs) > 0 {
		apierr.Write(c, errs)
		return
	}
	page, err := h.service.List(c.Request.Context(), f, pagination.FromQuery(c))
	if err != nil {
		apierr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func filterFromQuery(c *gin.Context) (Filter, validation.ValidationErrors) {
	var errs validation.ValidationErrors
	f := Filter{
		ProductID:  strings.ToLower(strings.TrimSpace(c.Query("productId"))),
		CategoryID: strings.TrimSpace(c.Query("categoryId")),
		CreatedBy:  strings.TrimSpace(c.Query("createdBy")),
		Search:     strings.TrimSpace(c.Query("search")),
	}
	if validation.IsUUID(f.CategoryID) {
		f.CategoryID = strings.ToLower(f.CategoryID)
	}

	for _, v := range c.QueryArray("riskLevel") {
		for _, part := range strings.Split(v, ",") {
			level := RiskLevel(strings.ToLower(strings.TrimSpace(part)))
			if level == "" {
				continue
			}
			if !oneOf(level, RiskLevels) {
				errs.Add("riskLevel", "must be one of low, medium, high, critical")
				continue
			}
			f.RiskLevels = append(f.RiskLevels, level)
		}
	}

	if v := c.Query("isActive"); v != "" {
		b := validation.ParseBool(v)
		if b.Invalid {
			errs.Add("isActive", "must be a boolean")
		} else {
			f.IsActive = &b.Value
		}
	}

	var ok bool
	if f.CreatedFrom, ok = parseDate(c.Query("createdFrom"), false); !ok {
		errs.Add("createdFrom", "must be an RFC 3339 timestamp or YYYY-MM-DD date")
	}
	if f.CreatedTo, ok = parseDate(c.Query("createdTo"), true); !ok {
		errs.Add("createdTo", "must be an RFC 3339 timestamp or YYYY-MM-DD date")
	}
	return f, errs
}

// parseDate accepts RFC 3339 or a bare date. A bare end date covers the
// whole day.
func parseDate(s string, endOfDay bool) (time.Time, bool) {
	if s == "" {
		return time.Time{}, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, false
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, true
}

// Export handles GET /v1/profiles/export?format=json|csv
func (h *Handler) Export(c *gin.Context) {
	f, errs := filterFromQuery(c)
	if len(errs) > 0 {
		apierr.Write(c, errs)
		return
	}
	all, err := h.service.All(c.Request.Context())
	if err != nil {
		apierr.Write(c, err)
		return
	}
	profiles := make([]*RiskProfile, 0, len(all))
	for _, p := range all {
		if f.Matches(p) {
			profiles = append(profiles, p)
		}
	}

	var buf bytes.Buffer
	switch format := strings.ToLower(c.DefaultQuery("format", "json")); format {
	case "csv":
		if err := WriteCSV(&buf, profiles); err != nil {
			apierr.Write(c, err)
			return
		}
		c.Header("Content-Disposition", `attachment; filename="risk-profiles.csv"`)
		c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
	case "json":
		if err := WriteJSON(&buf, profiles); err != nil {
			apierr.Write(c, err)
			return
		}
		c.Data(http.StatusOK, "application/json; charset=utf-8", buf.Bytes())
	default:
		apierr.Write(c, validation.Single("format", "must be json or csv"))
	}
}

// Get handles GET /v1/profiles/:id
func (h *Handler) Get(c *gin.Context) {
	p, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		apierr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": p})
}

// ListByProduct handles GET /v1/products/:productId/profiles
func (h *Handler) ListByProduct(c *gin.Context) {
	productID := strings.ToLower(c.Param("productId"))
	if !validation.IsUUID(productID) {
		apierr.Write(c, validation.Single("productId", "must be a valid UUID"))
		return
	}
	profiles, err := h.service.GetByProduct(c.Request.Context(), productID)
	if err != nil {
		apierr.Write(c, err)
		return
	}
	if profiles == nil {
		profiles = []*RiskProfile{}
	}
	c.JSON(http.StatusOK, gin.H{"profiles": profiles, "count": len(profiles)})
}

// Update handles PUT /v1/profiles/:id
func (h *Handler) Update(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		apierr.Invalid(c, "could not read request body")
		return
	}
	req, errs := DecodeUpdate(json.RawMessage(raw))
	if len(errs) > 0 {
		apierr.Write(c, errs)
		return
	}
	p, err := h.service.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		apierr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": p})
}

// Delete handles DELETE /v1/profiles/:id
func (h *Handler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		apierr.Write(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Audit handles GET /v1/profiles/:id/audit
func (h *Handler) Audit(c *gin.Context) {
	entries, err := h.service.Audit(c.Request.Context(), c.Param("id"))
	if err != nil {
		apierr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}
