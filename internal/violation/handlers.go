package violation

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rentwise/riskd/internal/apierr"
	"github.com/rentwise/riskd/internal/auth"
	"github.com/rentwise/riskd/internal/pagination"
	"github.com/rentwise/riskd/internal/validation"
)

// Handler provides HTTP endpoints for violations.
type Handler struct {
	service *Service
}

// NewHandler creates a new violation handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts violation routes on an authenticated group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	reporters := auth.RequireRole(auth.Reporters...)

	r.POST("/violations", reporters, h.Create)
	r.GET("/violations", h.List)

	g := r.Group("/violations/:id", validation.UUIDParamMiddleware("id"))
	g.GET("", h.Get)
	g.PATCH("/assign", reporters, h.Assign)
	g.PATCH("/investigate", reporters, h.Investigate)
	g.PATCH("/resolve", reporters, h.Resolve)
	g.PATCH("/escalate", reporters, h.Escalate)
	g.PATCH("/close", auth.RequireRole(auth.Admins...), h.Close)
}

// Create handles POST /v1/violations
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.Invalid(c, "Invalid request body")
		return
	}
	v, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		apierr.Write(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"violation": v})
}

// List handles GET /v1/violations
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
		BookingID:  strings.ToLower(strings.TrimSpace(c.Query("bookingId"))),
		ProductID:  strings.ToLower(strings.TrimSpace(c.Query("productId"))),
		ViolatorID: strings.TrimSpace(c.Query("violatorId")),
	}

	for _, v := range queryList(c, "status") {
		s := Status(strings.ToLower(v))
		if !contains(Statuses, s) {
			errs.Add("status", "must be one of %s", strings.Join(toStrings(Statuses), ", "))
			continue
		}
		f.Statuses = append(f.Statuses, s)
	}
	for _, v := range queryList(c, "severity") {
		sev, ok := ParseSeverity(v)
		if !ok {
			errs.Add("severity", "must be one of minor, moderate, major, critical")
			continue
		}
		f.Severities = append(f.Severities, sev)
	}
	for _, v := range queryList(c, "type") {
		t := Type(strings.ToLower(v))
		if !contains(Types, t) {
			errs.Add("type", "must be a known violation type")
			continue
		}
		f.Types = append(f.Types, t)
	}
	return f, errs
}

// queryList accepts repeated and comma-separated values.
func queryList(c *gin.Context, key string) []string {
	var out []string
	for _, v := range c.QueryArray(key) {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Get handles GET /v1/violations/:id
func (h *Handler) Get(c *gin.Context) {
	v, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		apierr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"violation": v})
}

// Assign handles PATCH /v1/violations/:id/assign
func (h *Handler) Assign(c *gin.Context) {
	var req struct {
		InspectorID string `json:"inspectorId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.Invalid(c, "inspectorId is required")
		return
	}
	h.respond(c)(h.service.Assign(c.Request.Context(), c.Param("id"), req.InspectorID))
}

// Investigate handles PATCH /v1/violations/:id/investigate
func (h *Handler) Investigate(c *gin.Context) {
	h.respond(c)(h.service.Investigate(c.Request.Context(), c.Param("id")))
}

// Resolve handles PATCH /v1/violations/:id/resolve
func (h *Handler) Resolve(c *gin.Context) {
	var req struct {
		ResolutionNotes   string   `json:"resolutionNotes"`
		ResolutionActions []string `json:"resolutionActions"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.Invalid(c, "resolutionNotes is required")
		return
	}
	h.respond(c)(h.service.Resolve(c.Request.Context(), c.Param("id"), req.ResolutionNotes, req.ResolutionActions))
}

// Escalate handles PATCH /v1/violations/:id/escalate
func (h *Handler) Escalate(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			apierr.Invalid(c, "Invalid request body")
			return
		}
	}
	h.respond(c)(h.service.Escalate(c.Request.Context(), c.Param("id"), req.Reason))
}

// Close handles PATCH /v1/violations/:id/close
func (h *Handler) Close(c *gin.Context) {
	h.respond(c)(h.service.Close(c.Request.Context(), c.Param("id")))
}

func (h *Handler) respond(c *gin.Context) func(*Violation, error) {
	return func(v *Violation, err error) {
		if err != nil {
			apierr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"violation": v})
	}
}
