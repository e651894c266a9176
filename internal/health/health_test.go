package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePinger struct{ err error }

func (f fakePinger) PingContext(context.Context) error { return f.err }

func TestRegistryEmpty(t *testing.T) {
	healthy, statuses := NewRegistry(0).CheckAll(context.Background())
	assert.True(t, healthy)
	assert.Empty(t, statuses)
}

func TestRegistryOneUnhealthy(t *testing.T) {
	r := NewRegistry(time.Second)
	r.Register("database", PingChecker("database", fakePinger{err: errors.New("connection refused")}))
	r.Register("store", Static("store", "memory"))

	healthy, statuses := r.CheckAll(context.Background())
	assert.False(t, healthy)
	require.Len(t, statuses, 2)
	assert.Equal(t, Status{Name: "database", Detail: "connection refused"}, statuses[0])
	assert.Equal(t, Status{Name: "store", Healthy: true, Detail: "memory"}, statuses[1])
}

func TestRegistryTimeoutAndDefaultName(t *testing.T) {
	r := NewRegistry(20 * time.Millisecond)
	r.Register("slow", func(ctx context.Context) Status {
		<-ctx.Done()
		return Status{Healthy: false, Detail: ctx.Err().Error()}
	})
	healthy, statuses := r.CheckAll(context.Background())
	assert.False(t, healthy)
	assert.Equal(t, "slow", statuses[0].Name)
	assert.Equal(t, context.DeadlineExceeded.Error(), statuses[0].Detail)
}

func TestRegistryRunsConcurrently(t *testing.T) {
	r := NewRegistry(time.Second)
	var running, peak atomic.Int32
	for i := 0; i < 4; i++ {
		r.Register("c", func(context.Context) Status {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(30 * time.Millisecond)
			running.Add(-1)
			return Status{Healthy: true}
		})
	}
	healthy, _ := r.CheckAll(context.Background())
	assert.True(t, healthy)
	assert.Greater(t, peak.Load(), int32(1))
}

func TestHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := NewRegistry(time.Second)
	var down atomic.Bool
	reg.Register("database", func(context.Context) Status {
		return Status{Name: "database", Healthy: !down.Load()}
	})
	r := gin.New()
	NewHandler(reg, "1.2.3").RegisterRoutes(r)

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
		return w
	}

	assert.Equal(t, http.StatusOK, get("/health/live").Code)
	w := get("/health/ready")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Status     string   `json:"status"`
		Version    string   `json:"version"`
		Subsystems []Status `json:"subsystems"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "1.2.3", body.Version)
	assert.Len(t, body.Subsystems, 1)

	down.Store(true)
	assert.Equal(t, http.StatusServiceUnavailable, get("/health").Code)
	assert.Equal(t, http.StatusOK, get("/health/live").Code, "liveness ignores subsystems")
}
