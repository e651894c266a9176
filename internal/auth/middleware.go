package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rentwise/riskd/internal/apierr"
	"github.com/rentwise/riskd/internal/logging"
)

// ContextKeyPrincipal is the gin context key for the authenticated caller.
const ContextKeyPrincipal = "principal"

// Middleware verifies the bearer token when present and records the caller
// in both the gin and the request context. It never rejects; pair it with
// RequireAuth or RequireRole.
func Middleware(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header != "" {
			if p, err := m.Verify(header); err == nil {
				c.Set(ContextKeyPrincipal, p)
				ctx := WithPrincipal(c.Request.Context(), p)
				ctx = logging.WithActor(ctx, p.UserID)
				c.Request = c.Request.WithContext(ctx)
			}
		}
		c.Next()
	}
}

// RequireAuth rejects requests without a valid token.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := GetPrincipal(c); !ok {
			apierr.Write(c, ErrNoToken)
			return
		}
		c.Next()
	}
}

// RequireRole rejects unauthenticated requests with 401 and callers outside
// roles with 403.
func RequireRole(roles ...Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := GetPrincipal(c)
		if !ok {
			apierr.Write(c, ErrNoToken)
			return
		}
		if !p.HasRole(roles...) {
			apierr.Write(c, ErrRole)
			return
		}
		c.Next()
	}
}

// GetPrincipal returns the authenticated caller, if any.
func GetPrincipal(c *gin.Context) (Principal, bool) {
	v, ok := c.Get(ContextKeyPrincipal)
	if !ok {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}

// Handler serves identity endpoints.
type Handler struct{}

// RegisterRoutes mounts GET /auth/me on an authenticated group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/auth/me", h.Me)
}

// Me handles GET /v1/auth/me
func (h *Handler) Me(c *gin.Context) {
	p, _ := GetPrincipal(c)
	c.JSON(http.StatusOK, gin.H{"principal": p})
}
