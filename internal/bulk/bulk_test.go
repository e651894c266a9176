package bulk

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkers(t *testing.T) {
	assert.Equal(t, 1, Workers(1, 0))
	assert.Equal(t, 3, Workers(3, 16))
	assert.Equal(t, 2, Workers(10, 2))
	assert.Equal(t, 1, Workers(0, 0))
	assert.LessOrEqual(t, Workers(10000, 0), 10000)
}

func TestRun_PreservesOrderAndIsolatesFailures(t *testing.T) {
	items := make([]int, 50)
	for i := range items {
		items[i] = i
	}

	results := Run(context.Background(), items, 8, func(_ context.Context, _ int, n int) (string, error) {
		// finish out of order
		time.Sleep(time.Duration(50-n) * 100 * time.Microsecond)
		if n%5 == 0 {
			return "", fmt.Errorf("item %d rejected", n)
		}
		return fmt.Sprintf("ok-%d", n), nil
	})

	require.Len(t, results, len(items))
	failed := 0
	for i, r := range results {
		assert.Equal(t, i, r.Index)
		if i%5 == 0 {
			assert.EqualError(t, r.Err, fmt.Sprintf("item %d rejected", i))
			failed++
			continue
		}
		assert.NoError(t, r.Err)
		assert.Equal(t, fmt.Sprintf("ok-%d", i), r.Value)
	}
	assert.Equal(t, 10, failed)
}

func TestRun_BoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	items := make([]struct{}, 40)

	Run(context.Background(), items, 3, func(context.Context, int, struct{}) (int, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		inFlight.Add(-1)
		return 0, nil
	})

	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestRun_CancellationStopsScheduling(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	items := make([]int, 20)
	var started atomic.Int32

	results := Run(ctx, items, 1, func(_ context.Context, i int, _ int) (int, error) {
		started.Add(1)
		if i == 2 {
			cancel()
		}
		return i, nil
	})

	require.Len(t, results, 20)
	// items that ran keep their results
	for i := 0; i <= 2; i++ {
		assert.NoError(t, results[i].Err)
		assert.Equal(t, i, results[i].Value)
	}
	assert.Less(t, started.Load(), int32(20))
	assert.True(t, errors.Is(results[19].Err, context.Canceled))
}

func TestRun_Empty(t *testing.T) {
	results := Run(context.Background(), []int(nil), 4, func(context.Context, int, int) (int, error) {
		t.Fatal("fn called for empty input")
		return 0, nil
	})
	assert.Empty(t, results)
}
