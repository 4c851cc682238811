package storage

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherBoundsParallelism(t *testing.T) {
	d := NewDispatcher(2, 0, nil)
	var running, peak atomic.Int32

	errs := make(chan error, 6)
	for i := 0; i < 6; i++ {
		go func() {
			errs <- d.Do(context.Background(), "op", func(context.Context) error {
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				running.Add(-1)
				return nil
			})
		}()
	}
	for i := 0; i < 6; i++ {
		require.NoError(t, <-errs)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestDispatcherReturnsCallError(t *testing.T) {
	d := NewDispatcher(1, 0, nil)
	want := errors.New("boom")
	err := d.Do(context.Background(), "op", func(context.Context) error { return want })
	assert.ErrorIs(t, err, want)
}

func TestDispatcherHonorsCancellation(t *testing.T) {
	d := NewDispatcher(1, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	defer close(release)

	done := make(chan error, 1)
	go func() {
		done <- d.Do(ctx, "op", func(context.Context) error {
			<-release
			return nil
		})
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not return after cancellation")
	}
}

func TestDispatchGeneric(t *testing.T) {
	d := NewDispatcher(1, 0, nil)
	v, err := dispatch(context.Background(), d, "op", func(context.Context) (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}
