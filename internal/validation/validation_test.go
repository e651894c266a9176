package validation

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsUUID(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"550e8400-e29b-41d4-a716-446655440000", true},
		{"550E8400-E29B-41D4-A716-446655440000", true},
		{"6ba7b810-9dad-11d1-80b4-00c04fd430c8", true}, // v1
		{"not-a-uuid", false},
		{"", false},
		{"550e8400e29b41d4a716446655440000", false},       // no hyphens
		{"{550e8400-e29b-41d4-a716-446655440000}", false}, // braces
		{"550e8400-e29b-61d4-a716-446655440000", false},   // version 6
		{"550e8400-e29b-41d4-c716-446655440000", false},   // non-RFC variant
		{"urn:uuid:550e8400-e29b-41d4-a716-446655440000", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsUUID(tt.in), tt.in)
	}
}

func TestCategoryID(t *testing.T) {
	assert.Nil(t, CategoryID("categoryId", "", false)())
	assert.Nil(t, CategoryID("categoryId", "7c9e6679-7425-40de-944b-e07fc1f90ae7", false)())

	fe := CategoryID("categoryId", "power-tools", false)()
	require.NotNil(t, fe)
	assert.Equal(t, "must be a valid UUID", fe.Message)

	assert.Nil(t, CategoryID("categoryId", "power-tools", true)())
	fe = CategoryID("categoryId", "Power Tools", true)()
	require.NotNil(t, fe)
	assert.Equal(t, "must be a valid UUID or lowercase slug", fe.Message)
}

func TestIsSlug(t *testing.T) {
	assert.True(t, IsSlug("power-tools"))
	assert.True(t, IsSlug("boats"))
	assert.False(t, IsSlug("Power Tools"))
	assert.False(t, IsSlug("-tools"))
	assert.False(t, IsSlug(""))
}

func TestValidate_CollectsEveryFailure(t *testing.T) {
	errs := Validate(
		Required("productId", ""),
		UUID("categoryId", "nope"),
		OneOf("riskLevel", "extreme", "low", "medium"),
		NonNegative("minCoverage", -1),
		Required("ok", "present"),
	)
	require.Len(t, errs, 4)

	fields := errs.Fields()
	assert.Equal(t, "is required", fields["productId"])
	assert.Equal(t, "must be a valid UUID", fields["categoryId"])
	assert.Contains(t, fields["riskLevel"], "must be one of")
	assert.Contains(t, fields["minCoverage"], "greater than or equal to 0")
	assert.Contains(t, errs.Error(), "productId: is required")
}

func TestValidationErrors_Err(t *testing.T) {
	var errs ValidationErrors
	assert.NoError(t, errs.Err())

	errs.Add("gracePeriodHours", "must be %s", "numeric")
	require.Error(t, errs.Err())
	assert.Equal(t, "gracePeriodHours: must be numeric", errs.Error())
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "hello", SanitizeString("  hello  ", 100))
	assert.Equal(t, "abc", SanitizeString("abcdef", 3))
	assert.Equal(t, "ab", SanitizeString("a\x00b", 100))
}

func TestSanitizeString_KeepsRunesWhole(t *testing.T) {
	// "é" and "€" are 2 and 3 bytes
	assert.Equal(t, "caf", SanitizeString("café", 4))
	assert.Equal(t, "café", SanitizeString("café", 5))
	assert.Equal(t, "", SanitizeString("€uro", 2))
	assert.Equal(t, "€", SanitizeString("€uro", 3))

	for n := 0; n <= len("naïve €10 ✓"); n++ {
		got := SanitizeString("naïve €10 ✓", n)
		assert.True(t, utf8.ValidString(got), "maxLen %d gave %q", n, got)
		assert.LessOrEqual(t, len(got), n)
	}
}

func TestUUIDParamMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/things/:id", UUIDParamMiddleware("id"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/things/abc", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "validation_error", body["error"])

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/things/550e8400-e29b-41d4-a716-446655440000", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequestSizeMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(RequestSizeMiddleware(8, 32))
	read := func(c *gin.Context) {
		if _, err := c.GetRawData(); err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	}
	r.POST("/profiles", read)
	r.POST("/profiles/bulk", read)
	r.POST("/profiles/import", read)

	body := strings.Repeat("x", 16)
	do := func(path string) int {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
		return w.Code
	}

	assert.Equal(t, http.StatusRequestEntityTooLarge, do("/profiles"))
	assert.Equal(t, http.StatusOK, do("/profiles/bulk"))
	assert.Equal(t, http.StatusOK, do("/profiles/import"))
}
