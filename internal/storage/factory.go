package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/takeshy/tagstash/internal/metrics"
)

// Options carries everything a backend factory may need.
type Options struct {
	Kind               Kind
	LocalRoot          string
	RemoteRootFolderID string
	RemoteBucketing    bool
	CredentialsPath    string
	Parallelism        int
	RequestsPerSecond  float64
	Logger             *slog.Logger
	Metrics            *metrics.Metrics
}

// Factory builds a backend from options.
type Factory func(ctx context.Context, opts Options) (Backend, error)

var factoryRegistry = struct {
	mu        sync.RWMutex
	factories map[Kind]Factory
}{
	factories: map[Kind]Factory{},
}

// RegisterFactory installs a factory for kind, taking precedence over the
// built-in implementations.
func RegisterFactory(kind Kind, factory Factory) {
	kind = normalizeKind(string(kind))
	if kind == "" || factory == nil {
		return
	}
	factoryRegistry.mu.Lock()
	defer factoryRegistry.mu.Unlock()
	factoryRegistry.factories[kind] = factory
}

func lookupFactory(kind Kind) (Factory, bool) {
	factoryRegistry.mu.RLock()
	defer factoryRegistry.mu.RUnlock()
	factory, ok := factoryRegistry.factories[kind]
	return factory, ok
}

// Build creates the backend selected by opts.Kind.
func Build(ctx context.Context, opts Options) (Backend, error) {
	kind := normalizeKind(string(opts.Kind))
	if factory, ok := lookupFactory(kind); ok {
		return factory(ctx, opts)
	}
	switch kind {
	case "", KindLocal:
		return NewLocalBackend(opts.LocalRoot, opts.Logger)
	case KindRemote:
		d := NewDispatcher(opts.Parallelism, opts.RequestsPerSecond, opts.Metrics)
		return NewRemoteBackend(ctx, opts.CredentialsPath, d, RemoteOptions{
			RootFolderID: opts.RemoteRootFolderID,
			Bucketing:    opts.RemoteBucketing,
			Logger:       opts.Logger,
		})
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", kind)
	}
}

func normalizeKind(kind string) Kind {
	return Kind(strings.ToLower(strings.TrimSpace(kind)))
}
