package booking

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rentwise/riskd/internal/apierr"
	"github.com/rentwise/riskd/internal/auth"
	"github.com/rentwise/riskd/internal/validation"
)

// Handler provides HTTP endpoints for booking evidence.
type Handler struct {
	service *Service
}

// NewHandler creates a new booking handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts booking routes on an authenticated group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	g := r.Group("/bookings/:id", validation.UUIDParamMiddleware("id"))
	g.GET("", h.Get)
	g.PUT("", auth.RequireRole(auth.Admins...), h.Upsert)
	g.PUT("/insurance", auth.RequireRole(auth.Admins...), h.AttachInsurance)
	g.POST("/inspections", auth.RequireRole(auth.Reporters...), h.AddInspection)
}

// Get handles GET /v1/bookings/:id
func (h *Handler) Get(c *gin.Context) {
	b, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		apierr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"booking": b})
}

// Upsert handles PUT /v1/bookings/:id
func (h *Handler) Upsert(c *gin.Context) {
	var req UpsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.Invalid(c, "Invalid request body")
		return
	}
	b, err := h.service.Upsert(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		apierr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"booking": b})
}

// AttachInsurance handles PUT /v1/bookings/:id/insurance
func (h *Handler) AttachInsurance(c *gin.Context) {
	var req InsuranceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.Invalid(c, "Invalid request body")
		return
	}
	b, err := h.service.AttachInsurance(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		apierr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"booking": b})
}

// AddInspection handles POST /v1/bookings/:id/inspections
func (h *Handler) AddInspection(c *gin.Context) {
	var req InspectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.Invalid(c, "Invalid request body")
		return
	}
	b, err := h.service.AddInspection(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		apierr.Write(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"booking": b})
}
