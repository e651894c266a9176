package booking

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rentwise/riskd/internal/auth"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T) (*gin.Engine, func(auth.Role) string) {
	t.Helper()
	mgr := auth.NewManager("0123456789abcdef0123456789abcdef", "riskd")
	r := gin.New()
	r.Use(auth.Middleware(mgr))
	NewHandler(NewService(NewMemoryStore(), false)).RegisterRoutes(r.Group("/v1", auth.RequireAuth()))

	token := func(role auth.Role) string {
		tok, err := mgr.Issue("user-1", role, time.Hour)
		require.NoError(t, err)
		return tok
	}
	return r, token
}

func call(r *gin.Engine, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_BookingLifecycle(t *testing.T) {
	r, token := newTestRouter(t)
	admin, inspector, renter := token(auth.RoleAdmin), token(auth.RoleInspector), token(auth.RoleRenter)
	path := "/v1/bookings/" + bookingID

	w := call(r, "GET", path, renter, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	body := `{"productId":"` + productID + `","categoryId":"` + categoryID + `","renterId":"r1","ownerId":"o1"}`
	w = call(r, "PUT", path, renter, body)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = call(r, "PUT", path, admin, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = call(r, "PUT", path+"/insurance", admin, `{"provider":"Acme","coverage":"1500.00"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"coverage":"1500"`)

	w = call(r, "POST", path+"/inspections", inspector, `{"type":"pre_rental","passed":true}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = call(r, "GET", path, renter, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"pre_rental"`)
}

func TestHandler_RejectsBadInput(t *testing.T) {
	r, token := newTestRouter(t)
	admin := token(auth.RoleAdmin)

	w := call(r, "GET", "/v1/bookings/not-a-uuid", admin, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = call(r, "PUT", "/v1/bookings/"+bookingID, admin, `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_request")

	w = call(r, "PUT", "/v1/bookings/"+bookingID, admin, `{"productId":"x"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "validation_error")
}
