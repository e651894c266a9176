package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(m *Manager) *gin.Engine {
	r := gin.New()
	r.Use(Middleware(m))
	api := r.Group("/v1", RequireAuth())
	(&Handler{}).RegisterRoutes(api)
	api.POST("/profiles", RequireRole(Admins...), func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})
	return r
}

func do(r *gin.Engine, method, path, token string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestRequireAuth(t *testing.T) {
	m := NewManager(testSecret, "riskd")
	r := newRouter(m)

	w := do(r, "GET", "/v1/auth/me", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "authentication_error")

	w = do(r, "GET", "/v1/auth/me", "bogus")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	tok, _ := m.Issue("renter-7", RoleRenter, time.Hour)
	w = do(r, "GET", "/v1/auth/me", tok)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Principal Principal `json:"principal"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "renter-7", body.Principal.UserID)
	assert.Equal(t, RoleRenter, body.Principal.Role)
}

func TestRequireRole(t *testing.T) {
	m := NewManager(testSecret, "riskd")
	r := newRouter(m)

	renter, _ := m.Issue("u1", RoleRenter, time.Hour)
	w := do(r, "POST", "/v1/profiles", renter)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "authorization_error")

	admin, _ := m.Issue("u2", RoleAdmin, time.Hour)
	w = do(r, "POST", "/v1/profiles", admin)
	assert.Equal(t, http.StatusCreated, w.Code)

	super, _ := m.Issue("u3", RoleSuperAdmin, time.Hour)
	w = do(r, "POST", "/v1/profiles", super)
	assert.Equal(t, http.StatusCreated, w.Code)
}
