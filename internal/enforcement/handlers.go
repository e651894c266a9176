package enforcement

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rentwise/riskd/internal/apierr"
	"github.com/rentwise/riskd/internal/auth"
	"github.com/rentwise/riskd/internal/pagination"
	"github.com/rentwise/riskd/internal/validation"
)

// Handler provides HTTP endpoints for enforcement actions.
type Handler struct {
	service *Service
}

// NewHandler creates a new enforcement handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts enforcement routes on an authenticated group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	admins := auth.RequireRole(auth.Admins...)
	reporters := auth.RequireRole(auth.Reporters...)

	r.POST("/enforcement-actions", reporters, h.Create)
	r.GET("/enforcement-actions", h.List)
	r.GET("/enforcement-actions/:id", validation.UUIDParamMiddleware("id"), h.Get)

	g := r.Group("/enforce/:id", validation.UUIDParamMiddleware("id"))
	g.PATCH("/approve", admins, h.Approve)
	g.PATCH("/execute", admins, h.Execute)
	g.PATCH("/reject", admins, h.Reject)
	g.PATCH("/cancel", reporters, h.Cancel)
}

// Create handles POST /v1/enforcement-actions
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.Invalid(c, "Invalid request body")
		return
	}
	a, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		apierr.Write(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"action": a})
}

// List handles GET /v1/enforcement-actions
func (h *Handler) List(c *gin.Context) {
	var errs validation.ValidationErrors
	f := Filter{
		ViolationID:  strings.ToLower(strings.TrimSpace(c.Query("violationId"))),
		TargetUserID: strings.TrimSpace(c.Query("targetUserId")),
	}
	for _, v := range queryList(c, "status") {
		st := Status(strings.ToLower(v))
		if !contains(Statuses, st) {
			errs.Add("status", "must be one of %s", strings.Join(toStrings(Statuses), ", "))
			continue
		}
		f.Statuses = append(f.Statuses, st)
	}
	for _, v := range queryList(c, "actionType") {
		t := ActionType(strings.ToLower(v))
		if !contains(ActionTypes, t) {
			errs.Add("actionType", "must be one of %s", strings.Join(toStrings(ActionTypes), ", "))
			continue
		}
		f.ActionTypes = append(f.ActionTypes, t)
	}
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

// Get handles GET /v1/enforcement-actions/:id
func (h *Handler) Get(c *gin.Context) {
	a, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		apierr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"action": a})
}

// Approve handles PATCH /v1/enforce/:id/approve
func (h *Handler) Approve(c *gin.Context) {
	h.respond(c)(h.service.Approve(c.Request.Context(), c.Param("id")))
}

// Execute handles PATCH /v1/enforce/:id/execute
func (h *Handler) Execute(c *gin.Context) {
	var req struct {
		ExecutionNotes string `json:"executionNotes"`
	}
	if !bindOptional(c, &req) {
		return
	}
	h.respond(c)(h.service.Execute(c.Request.Context(), c.Param("id"), req.ExecutionNotes))
}

// Reject handles PATCH /v1/enforce/:id/reject
func (h *Handler) Reject(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	if !bindOptional(c, &req) {
		return
	}
	h.respond(c)(h.service.Reject(c.Request.Context(), c.Param("id"), req.Reason))
}

// Cancel handles PATCH /v1/enforce/:id/cancel
func (h *Handler) Cancel(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	if !bindOptional(c, &req) {
		return
	}
	h.respond(c)(h.service.Cancel(c.Request.Context(), c.Param("id"), req.Reason))
}

// bindOptional decodes a body when one was sent.
func bindOptional(c *gin.Context, dst any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		apierr.Invalid(c, "Invalid request body")
		return false
	}
	return true
}

func (h *Handler) respond(c *gin.Context) func(*Action, error) {
	return func(a *Action, err error) {
		if err != nil {
			apierr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"action": a})
	}
}
