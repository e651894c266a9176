package compliance

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rentwise/riskd/internal/apierr"
	"github.com/rentwise/riskd/internal/auth"
	"github.com/rentwise/riskd/internal/bulk"
	"github.com/rentwise/riskd/internal/validation"
)

// Handler provides HTTP endpoints for compliance evaluation.
type Handler struct {
	service *Service
}

// NewHandler creates a new compliance handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts compliance routes on an authenticated group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/enforce", auth.RequireRole(auth.Reporters...), h.Enforce)
	r.POST("/assess", h.Assess)
	r.POST("/assess/bulk", h.AssessBulk)
	r.GET("/assessments/:id", validation.UUIDParamMiddleware("id"), h.GetAssessment)
	r.POST("/compliance/check", h.Check)
	r.GET("/compliance/checks", h.ListChecks)
}

type bookingRequest struct {
	BookingID string `json:"bookingId"`
}

// Enforce handles POST /v1/enforce
func (h *Handler) Enforce(c *gin.Context) {
	var req bookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.Invalid(c, "Invalid request body")
		return
	}
	res, err := h.service.Enforce(c.Request.Context(), req.BookingID)
	if err != nil {
		apierr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Check handles POST /v1/compliance/check
func (h *Handler) Check(c *gin.Context) {
	var req bookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.Invalid(c, "Invalid request body")
		return
	}
	check, err := h.service.Check(c.Request.Context(), req.BookingID)
	if err != nil {
		apierr.Write(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"compliance": check})
}

// ListChecks handles GET /v1/compliance/checks?bookingId=
func (h *Handler) ListChecks(c *gin.Context) {
	checks, err := h.service.ListChecks(c.Request.Context(), c.Query("bookingId"))
	if err != nil {
		apierr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"checks": checks})
}

// Assess handles POST /v1/assess
func (h *Handler) Assess(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		apierr.Invalid(c, "could not read request body")
		return
	}
	a, err := h.service.AssessRaw(c.Request.Context(), raw)
	if err != nil {
		apierr.Write(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"assessment": a})
}

// AssessBulk handles POST /v1/assess/bulk
func (h *Handler) AssessBulk(c *gin.Context) {
	items, err := bulk.DecodeEnvelope(c.Request.Body, "assessments")
	if err != nil {
		apierr.Write(c, err)
		return
	}
	result, err := h.service.AssessBulk(c.Request.Context(), items)
	if err != nil {
		apierr.Write(c, err)
		return
	}
	status := http.StatusOK
	if result.Successful > 0 {
		status = http.StatusCreated
	}
	c.JSON(status, result)
}

// GetAssessment handles GET /v1/assessments/:id
func (h *Handler) GetAssessment(c *gin.Context) {
	a, err := h.service.GetAssessment(c.Request.Context(), c.Param("id"))
	if err != nil {
		apierr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assessment": a})
}
