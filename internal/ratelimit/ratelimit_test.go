package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
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

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func newLimiter(t *testing.T, cfg Config) (*Limiter, *fakeClock) {
	t.Helper()
	l := New(cfg)
	t.Cleanup(l.Stop)
	clock := &fakeClock{t: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}
	l.now = clock.Now
	return l, clock
}

func TestAllow_BurstThenRefill(t *testing.T) {
	l, clock := newLimiter(t, Config{RequestsPerMinute: 60, BurstSize: 5})

	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow("a"), "request %d within burst", i)
	}
	assert.False(t, l.Allow("a"))

	clock.Advance(time.Second)
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
}

func TestAllow_CapsAtBurst(t *testing.T) {
	l, clock := newLimiter(t, Config{RequestsPerMinute: 60, BurstSize: 3})

	require.True(t, l.Allow("a"))
	clock.Advance(time.Hour)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("a"))
	}
	assert.False(t, l.Allow("a"))
}

func TestAllow_KeysAreIndependent(t *testing.T) {
	l, _ := newLimiter(t, Config{RequestsPerMinute: 60, BurstSize: 1})

	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))
}

func TestEvict(t *testing.T) {
	l, clock := newLimiter(t, Config{RequestsPerMinute: 60, BurstSize: 1, CleanupInterval: time.Minute})

	l.Allow("old")
	clock.Advance(5 * time.Minute)
	l.Allow("new")
	l.evict(clock.Now().Add(-2 * time.Minute))

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.NotContains(t, l.clients, "old")
	assert.Contains(t, l.clients, "new")
}

func TestStop_Idempotent(t *testing.T) {
	l := New(Config{RequestsPerMinute: 60, BurstSize: 1})
	l.Stop()
	assert.NotPanics(t, l.Stop)
}

func TestDefaultConfig(t *testing.T) {
	assert.Equal(t, 60, DefaultConfig(600).BurstSize)
	assert.Equal(t, 10, DefaultConfig(30).BurstSize)
	assert.Equal(t, 30, DefaultConfig(30).RequestsPerMinute)
}

func TestMiddleware(t *testing.T) {
	mgr := auth.NewManager("test-secret-test-secret-test-secret", "riskd")
	l, _ := newLimiter(t, Config{RequestsPerMinute: 60, BurstSize: 1})

	r := gin.New()
	r.Use(auth.Middleware(mgr), l.Middleware())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, do("").Code)
	w := do("")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "rate_limit_exceeded")

	// Authenticated callers get their own bucket.
	token, err := mgr.Issue("user-1", auth.RoleAdmin, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, do(token).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(token).Code)
}
