// Package bulk runs independent per-item operations on a bounded worker pool
// while keeping every result at its input index.
package bulk

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rentwise/riskd/internal/metrics"
	"github.com/rentwise/riskd/internal/traces"
)

// Result is the outcome of one item. Exactly one of Value or Err is
// meaningful.
type Result[T any] struct {
	Index int
	Value T
	Err   error
}

// Workers returns the pool size for n items: the configured size when
// positive, otherwise min(n, NumCPU*4).
func Workers(n, configured int) int {
	w := configured
	if w <= 0 {
		w = runtime.NumCPU() * 4
	}
	if w > n {
		w = n
	}
	if w < 1 {
		w = 1
	}
	return w
}

// Run calls fn once per item with at most workers concurrent calls and
// returns len(items) results in input order. A failing item never stops the
// others. Once ctx is cancelled no further items are started; those items
// report ctx.Err(). Items already started run to completion.
func Run[In, Out any](ctx context.Context, items []In, workers int, fn func(ctx context.Context, index int, item In) (Out, error)) []Result[Out] {
	results := make([]Result[Out], len(items))
	if len(items) == 0 {
		return results
	}

	ctx, span := traces.StartSpan(ctx, "bulk.run", traces.BatchSize(len(items)))
	defer span.End()
	start := time.Now()

	var g errgroup.Group
	g.SetLimit(Workers(len(items), workers))

	for i, item := range items {
		results[i].Index = i
		if err := ctx.Err(); err != nil {
			results[i].Err = err
			continue
		}
		g.Go(func() error {
			// re-check after waiting for a slot
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			v, err := fn(ctx, i, item)
			results[i].Value = v
			results[i].Err = err
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	metrics.BulkItemsTotal.WithLabelValues("success").Add(float64(len(items) - failed))
	metrics.BulkItemsTotal.WithLabelValues("failed").Add(float64(failed))
	metrics.BulkBatchDuration.Observe(time.Since(start).Seconds())
	return results
}
