package stats

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rentwise/riskd/internal/apierr"
)

// Handler provides the stats endpoints.
type Handler struct {
	service *Service
}

// NewHandler creates a new stats handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts stats routes on an authenticated group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/stats", h.Overview)
	r.GET("/trends", h.Trends)
}

// Overview handles GET /v1/stats
func (h *Handler) Overview(c *gin.Context) {
	out, err := h.service.Overview(c.Request.Context())
	if err != nil {
		apierr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// Trends handles GET /v1/trends?period=7d|30d|90d
func (h *Handler) Trends(c *gin.Context) {
	out, err := h.service.Trends(c.Request.Context(), c.Query("period"))
	if err != nil {
		apierr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
