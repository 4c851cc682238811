package deletion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/takeshy/tagstash/internal/metrics"
)

// DefaultTimeout is how long a request waits for its initiator.
const DefaultTimeout = 30 * time.Second

// State of a deletion request.
type State string

const (
	StateAwaiting  State = "awaiting"
	StateConfirmed State = "confirmed"
	StateCancelled State = "cancelled"
	StateExpired   State = "expired"
)

var (
	ErrNotInitiator   = errors.New("only the user who requested the deletion can answer it")
	ErrNotPending     = errors.New("deletion request is no longer pending")
	ErrUnknownRequest = errors.New("unknown deletion request")
)

// recentLimit bounds how many finished requests are remembered so late
// answers get ErrNotPending instead of ErrUnknownRequest.
const recentLimit = 256

// Timer is the subset of *time.Timer the registry needs.
type Timer interface {
	Stop() bool
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// DeleteFunc removes the file a confirmed request points at.
type DeleteFunc func(ctx context.Context, bucket, name string) error

// PendingDeletion is a snapshot of one deletion request.
type PendingDeletion struct {
	ID          string    `json:"id"`
	Actor       string    `json:"actor"`
	Bucket      string    `json:"bucket"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	State       State     `json:"state"`
	Created     time.Time `json:"created"`
	Expires     time.Time `json:"expires"`
}

// Path returns "bucket/name".
func (p PendingDeletion) Path() string { return p.Bucket + "/" + p.Name }

type entry struct {
	req   PendingDeletion
	timer Timer
	done  chan struct{}
}

// transition moves an awaiting request to a terminal state on behalf of actor.
func (e *entry) transition(actor string, to State) error {
	if e.req.State != StateAwaiting {
		return ErrNotPending
	}
	if actor != e.req.Actor {
		return ErrNotInitiator
	}
	e.finish(to)
	return nil
}

func (e *entry) finish(to State) {
	e.req.State = to
	if e.timer != nil {
		e.timer.Stop()
	}
}

// Options configures a Registry.
type Options struct {
	Timeout time.Duration
	Clock   Clock
	// OnExpire is called, outside the registry lock, when a request times out.
	OnExpire func(PendingDeletion)
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// Registry tracks deletion requests awaiting confirmation.
type Registry struct {
	del      DeleteFunc
	timeout  time.Duration
	clock    Clock
	onExpire func(PendingDeletion)
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	pending map[string]*entry
	recent  *lru.Cache[string, State]
}

// NewRegistry creates a registry that calls del for confirmed requests.
func NewRegistry(del DeleteFunc, opts Options) *Registry {
	recent, _ := lru.New[string, State](recentLimit)
	r := &Registry{
		del:      del,
		timeout:  opts.Timeout,
		clock:    opts.Clock,
		onExpire: opts.OnExpire,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		pending:  make(map[string]*entry),
		recent:   recent,
	}
	if r.timeout <= 0 {
		r.timeout = DefaultTimeout
	}
	if r.clock == nil {
		r.clock = realClock{}
	}
	if r.logger == nil {
		r.logger = slog.New(slog.DiscardHandler)
	}
	r.logger = r.logger.With("component", "deletion")
	return r
}

// Timeout returns how long requests stay pending.
func (r *Registry) Timeout() time.Duration { return r.timeout }

// Begin opens a deletion request for bucket/name on behalf of actor.
func (r *Registry) Begin(actor, bucket, name, displayName string) PendingDeletion {
	now := r.clock.Now()
	e := &entry{
		req: PendingDeletion{
			ID:          uuid.NewString(),
			Actor:       actor,
			Bucket:      bucket,
			Name:        name,
			DisplayName: displayName,
			State:       StateAwaiting,
			Created:     now,
			Expires:     now.Add(r.timeout),
		},
		done: make(chan struct{}),
	}
	if e.req.DisplayName == "" {
		e.req.DisplayName = name
	}

	r.mu.Lock()
	r.pending[e.req.ID] = e
	id := e.req.ID
	e.timer = r.clock.AfterFunc(r.timeout, func() { r.expire(id) })
	req := e.req
	r.mu.Unlock()

	r.metrics.DeletionPending(1)
	r.logger.Info("deletion requested", "id", req.ID, "actor", actor, "path", req.Path())
	return req
}

// Confirm accepts the request and deletes the file. The returned error is
// either a state error, leaving the request untouched, or the delete error.
// The delete runs at most once per request.
func (r *Registry) Confirm(ctx context.Context, id, actor string) (PendingDeletion, error) {
	req, err := r.finish(id, actor, StateConfirmed)
	if err != nil {
		return req, err
	}
	if err := r.del(ctx, req.Bucket, req.Name); err != nil {
		r.logger.Error("confirmed deletion failed", "id", id, "path", req.Path(), "error", err)
		return req, fmt.Errorf("failed to delete %s: %w", req.Path(), err)
	}
	r.logger.Info("file deleted", "id", id, "path", req.Path())
	return req, nil
}

// Cancel abandons the request without touching the file.
func (r *Registry) Cancel(id, actor string) (PendingDeletion, error) {
	return r.finish(id, actor, StateCancelled)
}

// Get returns a pending request.
func (r *Registry) Get(id string) (PendingDeletion, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.pending[id]
	if !ok {
		return PendingDeletion{}, false
	}
	return e.req, true
}

// Done returns a channel closed once the request leaves the awaiting
// state. Unknown ids yield an already closed channel.
func (r *Registry) Done(id string) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.pending[id]; ok {
		return e.done
	}
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Len returns the number of pending requests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Outcome reports the terminal state of a recently finished request.
func (r *Registry) Outcome(id string) (State, bool) {
	return r.recent.Get(id)
}

func (r *Registry) finish(id, actor string, to State) (PendingDeletion, error) {
	r.mu.Lock()
	e, ok := r.pending[id]
	if !ok {
		r.mu.Unlock()
		if state, ok := r.recent.Get(id); ok {
			return PendingDeletion{ID: id, State: state}, fmt.Errorf("%w (%s)", ErrNotPending, state)
		}
		return PendingDeletion{}, ErrUnknownRequest
	}
	if err := e.transition(actor, to); err != nil {
		req := e.req
		r.mu.Unlock()
		r.logger.Warn("deletion answer rejected", "id", id, "actor", actor, "error", err)
		return req, err
	}
	r.evict(e)
	req := e.req
	r.mu.Unlock()

	r.metrics.DeletionPending(-1)
	r.logger.Info("deletion request closed", "id", id, "state", to)
	return req, nil
}

func (r *Registry) expire(id string) {
	r.mu.Lock()
	e, ok := r.pending[id]
	if !ok || e.req.State != StateAwaiting {
		r.mu.Unlock()
		return
	}
	e.finish(StateExpired)
	r.evict(e)
	req := e.req
	r.mu.Unlock()

	r.metrics.DeletionPending(-1)
	r.logger.Info("deletion request expired", "id", id, "path", req.Path())
	if r.onExpire != nil {
		r.onExpire(req)
	}
}

// evict must be called with mu held.
func (r *Registry) evict(e *entry) {
	delete(r.pending, e.req.ID)
	r.recent.Add(e.req.ID, e.req.State)
	close(e.done)
}
