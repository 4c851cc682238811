package app

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/takeshy/tagstash/internal/config"
	"github.com/takeshy/tagstash/internal/deletion"
	"github.com/takeshy/tagstash/internal/gemini"
	"github.com/takeshy/tagstash/internal/ingest"
	"github.com/takeshy/tagstash/internal/naming"
	"github.com/takeshy/tagstash/internal/repository"
)

// Upload ingests attachments in parallel. limit is the caller's per-file
// size cap; zero means none.
func (s *Service) Upload(ctx context.Context, actor Actor, atts []ingest.Attachment, limit int64, progress func(ingest.Result)) []ingest.Result {
	s.logger.Debug("upload", "actor", actor.ID, "files", len(atts))
	return s.Pipeline().IngestAll(ctx, atts, limit, progress)
}

func (s *Service) ListFiles(ctx context.Context, bucket, keyword string) ([]repository.FileSummary, error) {
	return s.repo.ListFiles(ctx, bucket, keyword)
}

func (s *Service) Search(ctx context.Context, keyword string) ([]repository.FileSummary, error) {
	return s.repo.Search(ctx, keyword)
}

func (s *Service) Info(ctx context.Context, ref string) (repository.FileSummary, error) {
	return s.repo.Info(ctx, ref)
}

// Get opens a file for download, refusing files above maxDownloadBytes.
func (s *Service) Get(ctx context.Context, ref string) (io.ReadCloser, repository.FileSummary, error) {
	return s.repo.Get(ctx, ref, s.store.Current().MaxDownloadBytes)
}

// Buckets lists every YYYYMM bucket, newest first.
func (s *Service) Buckets(ctx context.Context) ([]string, error) {
	return s.repo.Buckets(ctx)
}

func (s *Service) AutocompleteBuckets(ctx context.Context, partial string) ([]repository.Candidate, error) {
	return s.repo.AutocompleteBuckets(ctx, partial)
}

func (s *Service) AutocompleteFiles(ctx context.Context, partialBucket, partialName string) ([]repository.Candidate, error) {
	return s.repo.AutocompleteFiles(ctx, partialBucket, partialName)
}

// Retag replaces the tag token of a stored file. tags is comma separated;
// the literal "notags" clears them.
func (s *Service) Retag(ctx context.Context, actor Actor, ref, tags string) (repository.FileSummary, error) {
	if err := s.requireAdmin(actor); err != nil {
		return repository.FileSummary{}, err
	}

	token, err := parseTags(tags)
	if err != nil {
		return repository.FileSummary{}, err
	}

	f, err := s.repo.Resolve(ctx, ref)
	if err != nil {
		return repository.FileSummary{}, err
	}
	d := naming.Decode(f.Name)
	if d.Date == "" || d.TagsRaw == "" {
		return repository.FileSummary{}, fmt.Errorf("%w: %s does not follow the date_tags_name pattern and must be renamed by hand", ErrValidation, f.Name)
	}

	newName := naming.Encode(d.Date, token, d.Stem, d.Ext)
	if newName == f.Name {
		return repository.Summarize(f), nil
	}

	renamed, err := s.Backend().Rename(ctx, f.Bucket, f.Name, newName)
	if err != nil {
		return repository.FileSummary{}, fmt.Errorf("failed to rename %s: %w", f.Path(), err)
	}
	s.logger.Info("file retagged", "actor", actor.ID, "from", f.Path(), "to", renamed.Path())
	return repository.Summarize(renamed), nil
}

func parseTags(tags string) (string, error) {
	if strings.EqualFold(strings.TrimSpace(tags), naming.NoTags) {
		return naming.NoTags, nil
	}
	var parts []string
	for _, t := range strings.Split(tags, ",") {
		if t = strings.TrimSpace(t); t != "" {
			parts = append(parts, t)
		}
	}
	token := naming.JoinTags(parts)
	if token == naming.NoTags {
		return "", fmt.Errorf("%w: no tags given; use %q to clear tags", ErrValidation, naming.NoTags)
	}
	return token, nil
}

// BeginDelete opens a deletion request that the actor must confirm within
// the registry timeout.
func (s *Service) BeginDelete(ctx context.Context, actor Actor, ref string) (deletion.PendingDeletion, error) {
	if err := s.requireAdmin(actor); err != nil {
		return deletion.PendingDeletion{}, err
	}
	f, err := s.repo.Resolve(ctx, ref)
	if err != nil {
		return deletion.PendingDeletion{}, err
	}
	return s.deletions.Begin(actor.ID, f.Bucket, f.Name, f.Path()), nil
}

func (s *Service) ConfirmDelete(ctx context.Context, actor Actor, id string) (deletion.PendingDeletion, error) {
	return s.deletions.Confirm(ctx, id, actor.ID)
}

func (s *Service) CancelDelete(actor Actor, id string) (deletion.PendingDeletion, error) {
	return s.deletions.Cancel(id, actor.ID)
}

// ConfigChange reports a saved configuration and whether the backend could
// be rebuilt from it.
type ConfigChange struct {
	Config      config.Config
	Backend     string
	BackendWarn error
}

// SetConfig saves one key. The config is persisted even when the backend
// cannot be rebuilt; that failure is reported in BackendWarn.
func (s *Service) SetConfig(actor Actor, key, value string) (ConfigChange, error) {
	if err := s.requireAdmin(actor); err != nil {
		return ConfigChange{}, err
	}
	u, err := config.ParseUpdate(key, value)
	if err != nil {
		return ConfigChange{}, err
	}
	s.logger.Info("config change requested", "actor", actor.ID, "key", key)
	return s.save(u)
}

func (s *Service) save(u config.Update) (ConfigChange, error) {
	s.reinitMu.Lock()
	defer s.reinitMu.Unlock()

	cfg, err := s.store.Save(u)
	if err != nil {
		return ConfigChange{}, err
	}
	change := ConfigChange{Config: cfg, BackendWarn: s.reinitErr}
	if b := s.Backend(); b != nil {
		change.Backend = string(b.Kind())
	}
	return change, nil
}

// SetModel validates and switches the tagging model, then persists it.
func (s *Service) SetModel(ctx context.Context, actor Actor, model string) (string, error) {
	if err := s.requireAdmin(actor); err != nil {
		return "", err
	}
	id, err := s.tagger.SetModel(ctx, model)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if _, err := s.save(config.Update{TaggingModelID: config.Ptr(id)}); err != nil {
		return id, fmt.Errorf("model switched but could not be saved: %w", err)
	}
	return id, nil
}

func (s *Service) CurrentModel() string { return s.tagger.Model() }

func (s *Service) ListModels(ctx context.Context) ([]gemini.Model, error) {
	return s.tagger.ListModels(ctx)
}

// TaggingEnabled reports whether a Gemini API key is configured.
func (s *Service) TaggingEnabled() bool { return s.tagger.Enabled() }
