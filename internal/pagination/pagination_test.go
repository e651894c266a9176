package pagination

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestNew_Clamps(t *testing.T) {
	assert.Equal(t, Params{Page: 1, Limit: DefaultLimit}, New(0, 0))
	assert.Equal(t, Params{Page: 3, Limit: MaxLimit}, New(3, 1000))
	assert.Equal(t, 40, New(3, 20).Offset())
}

func TestNewMeta(t *testing.T) {
	m := NewMeta(New(2, 10), 25)
	assert.Equal(t, Meta{Total: 25, Page: 2, Limit: 10, TotalPages: 3, HasNext: true, HasPrev: true}, m)

	m = NewMeta(New(1, 10), 0)
	assert.Equal(t, 0, m.TotalPages)
	assert.False(t, m.HasNext)
	assert.False(t, m.HasPrev)
}

func TestSlice(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	page, meta := Slice(items, New(2, 2))
	assert.Equal(t, []int{3, 4}, page)
	assert.True(t, meta.HasNext)

	page, meta = Slice(items, New(3, 2))
	assert.Equal(t, []int{5}, page)
	assert.False(t, meta.HasNext)

	page, _ = Slice(items, New(9, 2))
	assert.Empty(t, page)
	assert.NotNil(t, page)
}

func TestFromQuery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/v1/profiles?page=4&limit=abc", nil)
	assert.Equal(t, Params{Page: 4, Limit: DefaultLimit}, FromQuery(c))
}
