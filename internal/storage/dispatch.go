package storage

import (
	"context"
	"time"

	"github.com/takeshy/tagstash/internal/metrics"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Dispatcher runs blocking remote API calls on worker goroutines, bounded by
// a semaphore and throttled by a rate limiter. Callers block only on a
// channel receive, so they can be cancelled while a call is in flight.
type Dispatcher struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	metrics *metrics.Metrics
}

// NewDispatcher creates a dispatcher allowing parallelism concurrent calls and
// at most rps calls per second. rps <= 0 disables throttling.
func NewDispatcher(parallelism int, rps float64, m *metrics.Metrics) *Dispatcher {
	if parallelism < 1 {
		parallelism = 4
	}
	limit := rate.Inf
	burst := parallelism
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Dispatcher{
		sem:     semaphore.NewWeighted(int64(parallelism)),
		limiter: rate.NewLimiter(limit, burst),
		metrics: m,
	}
}

// Do runs fn on a worker and waits for it or for ctx.
func (d *Dispatcher) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		defer d.sem.Release(1)
		start := time.Now()
		err := fn(ctx)
		d.metrics.RemoteCall(op, time.Since(start), err)
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func dispatch[T any](ctx context.Context, d *Dispatcher, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	err := d.Do(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		ch <- result{v, err}
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	r := <-ch
	return r.v, r.err
}
