package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/takeshy/tagstash/internal/config"
	"github.com/takeshy/tagstash/internal/deletion"
	"github.com/takeshy/tagstash/internal/gemini"
	"github.com/takeshy/tagstash/internal/ingest"
	"github.com/takeshy/tagstash/internal/metrics"
	"github.com/takeshy/tagstash/internal/repository"
	"github.com/takeshy/tagstash/internal/storage"
)

// Actor is whoever issued a command.
type Actor struct {
	ID    string   `json:"id"`
	Roles []string `json:"roles"`
}

// Options configures a Service.
type Options struct {
	Store   *config.Store
	Tagger  *gemini.Tagger
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	// Build creates backends; defaults to storage.Build.
	Build storage.Factory
	// Now is the ingestion clock; defaults to time.Now.
	Now           func() time.Time
	DeletionClock deletion.Clock
	// Parallelism bounds concurrent ingestions; zero uses the pipeline default.
	Parallelism int
	// OnDeletionExpired is told about requests that timed out.
	OnDeletionExpired func(deletion.PendingDeletion)
}

// Service wires the configuration, the active backend and the pipeline,
// query and deletion components together.
type Service struct {
	store   *config.Store
	tagger  *gemini.Tagger
	metrics *metrics.Metrics
	logger  *slog.Logger
	build   storage.Factory
	now     func() time.Time
	workers int

	active    atomic.Pointer[activeBackend]
	pipeline  atomic.Pointer[ingest.Pipeline]
	repo      *repository.Service
	deletions *deletion.Registry

	// reinitMu serializes config saves with their backend re-init so the
	// outcome of each save can be reported.
	reinitMu  sync.Mutex
	reinitErr error
}

type activeBackend struct {
	backend storage.Backend
	opts    storage.Options
}

// New builds the service from the store's current configuration. When the
// configured backend cannot be created the local backend is used instead.
func New(ctx context.Context, opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("config store is required")
	}
	s := &Service{
		store:   opts.Store,
		tagger:  opts.Tagger,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		build:   opts.Build,
		now:     opts.Now,
		workers: opts.Parallelism,
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.build == nil {
		s.build = storage.Build
	}
	if s.tagger == nil {
		s.tagger = gemini.NewTagger(nil, "")
	}

	cfg := s.store.Current()
	s.tagger.UseModel(cfg.TaggingModelID)

	bopts := s.backendOptions(cfg)
	b, err := s.build(ctx, bopts)
	if err != nil && bopts.Kind != storage.KindLocal {
		s.logger.Error("failed to initialize configured backend, falling back to local", "backend", bopts.Kind, "error", err)
		bopts.Kind = storage.KindLocal
		b, err = s.build(ctx, bopts)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage backend: %w", err)
	}
	s.active.Store(&activeBackend{backend: b, opts: bopts})
	s.logger.Info("storage backend ready", "backend", b.Kind())

	s.pipeline.Store(s.newPipeline(cfg))
	s.repo = repository.New(s, cfg.RemoteParallelism, s.logger)
	s.deletions = deletion.NewRegistry(s.deleteFile, deletion.Options{
		Clock:    opts.DeletionClock,
		OnExpire: opts.OnDeletionExpired,
		Logger:   s.logger,
		Metrics:  s.metrics,
	})
	s.store.OnChange(s.onConfigChange)
	return s, nil
}

// Backend returns the active backend. It implements storage.Provider.
func (s *Service) Backend() storage.Backend {
	if a := s.active.Load(); a != nil {
		return a.backend
	}
	return nil
}

// Config returns the current configuration.
func (s *Service) Config() config.Config { return s.store.Current() }

// Repository exposes the query service.
func (s *Service) Repository() *repository.Service { return s.repo }

// Deletions exposes the deletion registry.
func (s *Service) Deletions() *deletion.Registry { return s.deletions }

// Pipeline returns the ingestion pipeline for the current configuration.
func (s *Service) Pipeline() *ingest.Pipeline { return s.pipeline.Load() }

// Close releases the active backend.
func (s *Service) Close() error {
	if a := s.active.Swap(nil); a != nil {
		return a.backend.Close()
	}
	return nil
}

func (s *Service) backendOptions(cfg config.Config) storage.Options {
	return storage.Options{
		Kind:               storage.Kind(cfg.ActiveBackend),
		LocalRoot:          cfg.LocalRoot,
		RemoteRootFolderID: cfg.RemoteRootFolderID,
		RemoteBucketing:    cfg.RemoteBucketingEnabled,
		CredentialsPath:    cfg.CredentialsPath,
		Parallelism:        cfg.RemoteParallelism,
		RequestsPerSecond:  cfg.RemoteRequestsPerSecond,
		Logger:             s.logger,
		Metrics:            s.metrics,
	}
}

func (s *Service) newPipeline(cfg config.Config) *ingest.Pipeline {
	return ingest.New(s.tagger, s, ingest.Options{
		AllowedExtensions: cfg.AllowedExtensions,
		StagingDir:        cfg.StagingDir,
		Now:               s.now,
		Parallelism:       s.workers,
		Logger:            s.logger,
		Metrics:           s.metrics,
	})
}

// onConfigChange rebuilds whatever depends on the changed settings. A
// backend that fails to build leaves the previous one in place.
func (s *Service) onConfigChange(old, cfg config.Config) {
	s.pipeline.Store(s.newPipeline(cfg))
	s.reinitErr = nil

	if cfg.TaggingModelID != old.TaggingModelID && cfg.TaggingModelID != s.tagger.Model() {
		s.logger.Info("tagging model changed in config", "model", cfg.TaggingModelID)
		s.tagger.UseModel(cfg.TaggingModelID)
	}

	cur := s.active.Load()
	next := s.backendOptions(cfg)
	if cur != nil && !backendChanged(cur.opts, next) {
		return
	}

	b, err := s.build(context.Background(), next)
	if err != nil {
		s.reinitErr = fmt.Errorf("backend re-initialization failed, keeping the previous backend: %w", err)
		s.logger.Warn("backend re-initialization failed, keeping previous backend", "backend", next.Kind, "error", err)
		return
	}
	prev := s.active.Swap(&activeBackend{backend: b, opts: next})
	s.logger.Info("storage backend re-initialized", "backend", b.Kind())
	if prev != nil {
		if err := prev.backend.Close(); err != nil {
			s.logger.Warn("failed to close previous backend", "error", err)
		}
	}
}

// backendChanged reports whether any setting the active backend was built
// from differs.
func backendChanged(a, b storage.Options) bool {
	if a.Kind != b.Kind {
		return true
	}
	switch a.Kind {
	case storage.KindRemote:
		return a.CredentialsPath != b.CredentialsPath ||
			a.RemoteRootFolderID != b.RemoteRootFolderID ||
			a.RemoteBucketing != b.RemoteBucketing ||
			a.Parallelism != b.Parallelism ||
			a.RequestsPerSecond != b.RequestsPerSecond
	default:
		return a.LocalRoot != b.LocalRoot
	}
}

func (s *Service) deleteFile(ctx context.Context, bucket, name string) error {
	b := s.Backend()
	if b == nil {
		return repository.ErrNoBackend
	}
	return b.Delete(ctx, bucket, name)
}

func (s *Service) requireAdmin(actor Actor) error {
	if !s.store.Current().IsAdmin(actor.Roles) {
		s.logger.Warn("permission denied", "actor", actor.ID)
		return ErrPermission
	}
	return nil
}
