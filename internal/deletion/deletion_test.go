package deletion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/takeshy/tagstash/internal/metrics"
)

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and runs due timers synchronously.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

type recordingDeleter struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (d *recordingDeleter) Delete(_ context.Context, bucket, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, bucket+"/"+name)
	return d.err
}

func newTestRegistry(t *testing.T, opts Options) (*Registry, *fakeClock, *recordingDeleter, *metrics.Metrics) {
	t.Helper()
	clock := newFakeClock()
	del := &recordingDeleter{}
	m := metrics.MustNew(prometheus.NewRegistry())
	opts.Clock = clock
	opts.Metrics = m
	return NewRegistry(del.Delete, opts), clock, del, m
}

func TestConfirmDeletesExactlyOnce(t *testing.T) {
	r, _, del, m := newTestRegistry(t, Options{})
	ctx := context.Background()

	req := r.Begin("alice", "202406", "a.png", "")
	assert.Equal(t, StateAwaiting, req.State)
	assert.Equal(t, "a.png", req.DisplayName)
	assert.Equal(t, req.Created.Add(DefaultTimeout), req.Expires)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PendingDeletions()))

	got, err := r.Confirm(ctx, req.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, got.State)
	assert.Equal(t, []string{"202406/a.png"}, del.calls)

	_, err = r.Confirm(ctx, req.ID, "alice")
	require.ErrorIs(t, err, ErrNotPending)
	_, err = r.Cancel(req.ID, "alice")
	require.ErrorIs(t, err, ErrNotPending)

	assert.Len(t, del.calls, 1)
	assert.Zero(t, r.Len())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.PendingDeletions()))

	state, ok := r.Outcome(req.ID)
	require.True(t, ok)
	assert.Equal(t, StateConfirmed, state)

	select {
	case <-r.Done(req.ID):
	default:
		t.Fatal("done channel should be closed")
	}
}

func TestOnlyInitiatorCanAnswer(t *testing.T) {
	r, _, del, _ := newTestRegistry(t, Options{})
	ctx := context.Background()
	req := r.Begin("alice", "202406", "a.png", "a.png")

	_, err := r.Confirm(ctx, req.ID, "mallory")
	require.ErrorIs(t, err, ErrNotInitiator)
	_, err = r.Cancel(req.ID, "mallory")
	require.ErrorIs(t, err, ErrNotInitiator)

	got, ok := r.Get(req.ID)
	require.True(t, ok)
	assert.Equal(t, StateAwaiting, got.State)
	assert.Empty(t, del.calls)

	got, err = r.Cancel(req.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, got.State)
	assert.Empty(t, del.calls)
}

func TestTimeoutExpiresWithoutDelete(t *testing.T) {
	var expired []PendingDeletion
	r, clock, del, m := newTestRegistry(t, Options{
		OnExpire: func(p PendingDeletion) { expired = append(expired, p) },
	})
	req := r.Begin("alice", "202406", "a.png", "")
	done := r.Done(req.ID)

	clock.Advance(DefaultTimeout - time.Second)
	_, ok := r.Get(req.ID)
	require.True(t, ok)

	clock.Advance(time.Second)
	_, ok = r.Get(req.ID)
	assert.False(t, ok)

	require.Len(t, expired, 1)
	assert.Equal(t, StateExpired, expired[0].State)
	assert.Empty(t, del.calls)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.PendingDeletions()))

	select {
	case <-done:
	default:
		t.Fatal("done channel should be closed after expiry")
	}

	_, err := r.Confirm(context.Background(), req.ID, "alice")
	require.ErrorIs(t, err, ErrNotPending)
	assert.Empty(t, del.calls)
}

func TestConfirmStopsTimer(t *testing.T) {
	expiredCalls := 0
	r, clock, _, _ := newTestRegistry(t, Options{
		Timeout:  5 * time.Second,
		OnExpire: func(PendingDeletion) { expiredCalls++ },
	})
	req := r.Begin("alice", "202406", "a.png", "")

	_, err := r.Confirm(context.Background(), req.ID, "alice")
	require.NoError(t, err)
	clock.Advance(time.Minute)
	assert.Zero(t, expiredCalls)
}

func TestConfirmReportsDeleteFailure(t *testing.T) {
	r, _, del, _ := newTestRegistry(t, Options{})
	del.err = errors.New("backend down")
	req := r.Begin("alice", "202406", "a.png", "")

	got, err := r.Confirm(context.Background(), req.ID, "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend down")
	assert.Equal(t, StateConfirmed, got.State)

	_, err = r.Confirm(context.Background(), req.ID, "alice")
	require.ErrorIs(t, err, ErrNotPending)
	assert.Len(t, del.calls, 1)
}

func TestUnknownRequest(t *testing.T) {
	r, _, _, _ := newTestRegistry(t, Options{})

	_, err := r.Confirm(context.Background(), "nope", "alice")
	require.ErrorIs(t, err, ErrUnknownRequest)
	_, err = r.Cancel("nope", "alice")
	require.ErrorIs(t, err, ErrUnknownRequest)
}

func TestConcurrentConfirmDeletesOnce(t *testing.T) {
	r, _, del, _ := newTestRegistry(t, Options{})
	req := r.Begin("alice", "202406", "a.png", "")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.Confirm(context.Background(), req.ID, "alice")
		}()
	}
	wg.Wait()

	assert.Len(t, del.calls, 1)
}

func TestRealClockExpiry(t *testing.T) {
	del := &recordingDeleter{}
	r := NewRegistry(del.Delete, Options{Timeout: 20 * time.Millisecond})
	req := r.Begin("alice", "202406", "a.png", "")

	select {
	case <-r.Done(req.ID):
	case <-time.After(2 * time.Second):
		t.Fatal("request did not expire")
	}
	state, ok := r.Outcome(req.ID)
	require.True(t, ok)
	assert.Equal(t, StateExpired, state)
	assert.Empty(t, del.calls)
}
