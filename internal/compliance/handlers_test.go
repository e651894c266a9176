package compliance

import (
	"encoding/json"
	"fmt"
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

type testAPI struct {
	router *gin.Engine
	mgr    *auth.Manager
	f      *fixture
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	mgr := auth.NewManager("0123456789abcdef0123456789abcdef", "riskd")
	f := newFixture(t, Config{Dedupe: true, BulkMaxItems: 10})
	r := gin.New()
	r.Use(auth.Middleware(mgr))
	NewHandler(f.svc).RegisterRoutes(r.Group("/v1", auth.RequireAuth()))
	return &testAPI{router: r, mgr: mgr, f: f}
}

func (a *testAPI) do(t *testing.T, method, path string, role auth.Role, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if role != "" {
		tok, err := a.mgr.Issue("user-"+strings.ToLower(string(role)), role, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func TestHandler_Enforce(t *testing.T) {
	api := newTestAPI(t)
	api.f.profile(t, bothRequired+`,"autoEnforcement":true`)
	api.f.booking(t, nil)
	body := `{"bookingId":"` + bookingID + `"}`

	w := api.do(t, "POST", "/v1/enforce", auth.RoleRenter, body)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = api.do(t, "POST", "/v1/enforce", auth.RoleInspector, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res struct {
		Compliance         Check `json:"compliance"`
		ViolationsRecorded int   `json:"violationsRecorded"`
		DuplicatesSkipped  int   `json:"duplicatesSkipped"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, StatusNonCompliant, res.Compliance.ComplianceStatus)
	assert.Equal(t, 2, res.ViolationsRecorded)

	w = api.do(t, "POST", "/v1/enforce", auth.RoleAdmin, body)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, 0, res.ViolationsRecorded)
	assert.Equal(t, 2, res.DuplicatesSkipped)
	assert.NotEmpty(t, res.Compliance.SupersedesID)
}

func TestHandler_EnforceErrors(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, "POST", "/v1/enforce", auth.RoleAdmin, `{"bookingId":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(t, "POST", "/v1/enforce", auth.RoleAdmin, `{`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	api.f.booking(t, nil)
	w = api.do(t, "POST", "/v1/enforce", auth.RoleAdmin, `{"bookingId":"`+bookingID+`"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "no active risk profile")
}

func TestHandler_CheckAndHistory(t *testing.T) {
	api := newTestAPI(t)
	api.f.profile(t, bothRequired)
	api.f.booking(t, nil)

	w := api.do(t, "POST", "/v1/compliance/check", auth.RoleRenter, `{"bookingId":"`+bookingID+`"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = api.do(t, "GET", "/v1/compliance/checks?bookingId="+bookingID, auth.RoleOwner, "")
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Checks []Check `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out.Checks, 1)
	assert.Len(t, out.Checks[0].Requirements, 2)

	w = api.do(t, "GET", "/v1/compliance/checks", auth.RoleOwner, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_Assess(t *testing.T) {
	api := newTestAPI(t)
	api.f.profile(t, bothRequired)

	w := api.do(t, "POST", "/v1/assess", "", `{}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	body := fmt.Sprintf(`{"productId":%q,"categoryId":%q,"evidence":{"insurance":{"provider":"Acme","coverage":"100"}}}`, productID, categoryID)
	w = api.do(t, "POST", "/v1/assess", auth.RoleRenter, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var out struct {
		Assessment Assessment `json:"assessment"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, 50.0, out.Assessment.ComplianceScore)

	w = api.do(t, "GET", "/v1/assessments/"+out.Assessment.ID, auth.RoleRenter, "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = api.do(t, "GET", "/v1/assessments/not-a-uuid", auth.RoleRenter, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_AssessBulk(t *testing.T) {
	api := newTestAPI(t)
	api.f.profile(t, bothRequired)

	body := fmt.Sprintf(`{"assessments":[{"productId":%q,"categoryId":%q},{"productId":"bad"}]}`, productID, categoryID)
	w := api.do(t, "POST", "/v1/assess/bulk", auth.RoleAdmin, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var res BulkResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, 1, res.Successful)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Errors[0].Index)

	w = api.do(t, "POST", "/v1/assess/bulk", auth.RoleAdmin, `{"assessments":[{"productId":"bad"}]}`)
	assert.Equal(t, http.StatusOK, w.Code)

	w = api.do(t, "POST", "/v1/assess/bulk", auth.RoleAdmin, `{"items":[]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(t, "POST", "/v1/assess/bulk", auth.RoleAdmin, `{"assessments":[`+strings.Repeat(`{},`, 10)+`{}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
