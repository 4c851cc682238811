package ingest

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/takeshy/tagstash/internal/fileutil"
	"github.com/takeshy/tagstash/internal/metrics"
	"github.com/takeshy/tagstash/internal/naming"
	"github.com/takeshy/tagstash/internal/storage"
)

// State is a step of one ingestion attempt.
type State string

const (
	StateReceived  State = "received"
	StateValidated State = "validated"
	StateStaged    State = "staged"
	StateTagged    State = "tagged"
	StateNamed     State = "named"
	StatePersisted State = "persisted"
	StateCleaned   State = "cleaned"
	StateAborted   State = "aborted"
)

var (
	// ErrValidation is returned when an attachment is rejected before anything is stored.
	ErrValidation = errors.New("validation failed")
	// ErrStaging is returned when the attachment could not be copied to the staging area.
	ErrStaging = errors.New("failed to stage file")
)

var (
	DefaultImageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp"}
	DefaultVideoExtensions = []string{".mp4", ".mov", ".avi", ".mkv", ".webm"}
)

// decodable lists the image formats registered above.
var decodable = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".gif": true}

// Tagger derives a tag token for a staged file. It must not fail.
type Tagger interface {
	Tag(ctx context.Context, path, displayName, mimeType string) string
}

// Result describes the outcome of one ingestion attempt. State is the last
// state reached.
type Result struct {
	Filename      string
	State         State
	CanonicalName string
	Bucket        string
	TagToken      string
	File          storage.FileRef
	Error         error
}

// Options configures a Pipeline.
type Options struct {
	// AllowedExtensions defaults to the image and video extensions above.
	AllowedExtensions []string
	// StagingDir defaults to os.TempDir().
	StagingDir string
	// Now defaults to time.Now.
	Now func() time.Time
	// SkipImageCheck disables decoding images before tagging.
	SkipImageCheck bool
	Parallelism    int
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
}

// Pipeline validates, stages, tags, names and persists attachments.
type Pipeline struct {
	tagger      Tagger
	backends    storage.Provider
	allowed     map[string]bool
	stagingDir  string
	now         func() time.Time
	checkImages bool
	parallelism int
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// New creates a pipeline writing to whatever backend p currently yields.
func New(tagger Tagger, p storage.Provider, opts Options) *Pipeline {
	exts := opts.AllowedExtensions
	if len(exts) == 0 {
		exts = append(append([]string{}, DefaultImageExtensions...), DefaultVideoExtensions...)
	}
	allowed := make(map[string]bool, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		allowed[e] = true
	}

	pl := &Pipeline{
		tagger:      tagger,
		backends:    p,
		allowed:     allowed,
		stagingDir:  opts.StagingDir,
		now:         opts.Now,
		checkImages: !opts.SkipImageCheck,
		parallelism: opts.Parallelism,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
	}
	if pl.stagingDir == "" {
		pl.stagingDir = os.TempDir()
	}
	if pl.now == nil {
		pl.now = time.Now
	}
	if pl.parallelism < 1 {
		pl.parallelism = 5
	}
	if pl.logger == nil {
		pl.logger = slog.New(slog.DiscardHandler)
	}
	pl.logger = pl.logger.With("component", "ingest")
	return pl
}

// Allowed reports whether filename has an accepted extension.
func (p *Pipeline) Allowed(filename string) bool {
	_, ext := naming.SplitExt(filename)
	return p.allowed[strings.ToLower(ext)]
}

// Ingest runs one attachment through the pipeline. limit is the maximum
// accepted size in bytes; zero or less means no limit. The staged copy is
// removed before Ingest returns, whatever the outcome.
func (p *Pipeline) Ingest(ctx context.Context, att Attachment, limit int64) (res Result, err error) {
	res = Result{Filename: att.Filename, State: StateReceived}
	log := p.logger.With("file", att.Filename)

	defer func() {
		res.Error = err
		p.metrics.IngestOutcome(outcome(err))
	}()

	if err := p.validate(att, limit); err != nil {
		log.Info("attachment rejected", "error", err)
		res.State = StateAborted
		return res, err
	}
	res.State = StateValidated
	log.Debug("validated")

	start := time.Now()
	staged, err := p.stage(att, limit)
	p.metrics.ObserveStage("stage", time.Since(start))
	if err != nil {
		if !errors.Is(err, ErrValidation) {
			log.Error("staging failed", "error", err)
		}
		res.State = StateAborted
		return res, err
	}
	defer func() {
		if rmErr := os.Remove(staged); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			log.Warn("failed to remove staged file", "path", staged, "error", rmErr)
		}
		if res.State == StatePersisted {
			res.State = StateCleaned
		}
		log.Debug("staging cleaned", "state", res.State)
	}()
	res.State = StateStaged
	log.Debug("staged", "path", staged)

	_, ext := naming.SplitExt(att.Filename)
	if p.checkImages && decodable[strings.ToLower(ext)] {
		if err := verifyImage(staged); err != nil {
			log.Info("attachment rejected", "error", err)
			res.State = StateAborted
			return res, err
		}
	}

	mimeType := att.MimeType
	if mimeType == "" {
		mimeType = fileutil.DetectMimeType(att.Filename)
	}
	start = time.Now()
	raw := p.tag(ctx, log, staged, att.Filename, mimeType)
	p.metrics.ObserveStage("tag", time.Since(start))
	res.State = StateTagged

	stem, _ := naming.SplitExt(att.Filename)
	now := p.now()
	res.TagToken = naming.SanitizeTags(raw)
	res.Bucket = naming.BucketLabel(now)
	res.CanonicalName = naming.Encode(naming.Date8(now), res.TagToken, naming.SanitizeStem(stem), naming.SanitizeExt(ext))
	res.State = StateNamed
	log.Debug("named", "name", res.CanonicalName, "bucket", res.Bucket)

	start = time.Now()
	ref, err := p.persist(ctx, staged, res.Bucket, res.CanonicalName)
	p.metrics.ObserveStage("persist", time.Since(start))
	if err != nil {
		if errors.Is(err, storage.ErrNamingConflict) {
			log.Warn("name already taken", "name", res.CanonicalName)
		} else {
			log.Error("persist failed", "name", res.CanonicalName, "error", err)
		}
		return res, err
	}
	res.File = ref
	res.State = StatePersisted
	log.Info("file stored", "path", ref.Path(), "tags", res.TagToken)
	return res, nil
}

// tag never lets a tagger failure escape, including a panic.
func (p *Pipeline) tag(ctx context.Context, log *slog.Logger, staged, filename, mimeType string) (raw string) {
	if p.tagger == nil {
		return naming.NoTags
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("tagger panicked, using notags", "panic", r)
			p.metrics.TaggingFallback("panic")
			raw = naming.NoTags
		}
	}()
	return p.tagger.Tag(ctx, staged, filename, mimeType)
}

func (p *Pipeline) validate(att Attachment, limit int64) error {
	if att.Open == nil {
		return fmt.Errorf("%w: no content", ErrValidation)
	}
	if !p.Allowed(att.Filename) {
		return fmt.Errorf("%w: unsupported file type %q (only images and videos are accepted)", ErrValidation, att.Filename)
	}
	if limit > 0 && att.Size > limit {
		return fmt.Errorf("%w: file is %d bytes, limit is %d", ErrValidation, att.Size, limit)
	}
	return nil
}

// stage copies the attachment to a uniquely named file in the staging dir.
func (p *Pipeline) stage(att Attachment, limit int64) (string, error) {
	_, ext := naming.SplitExt(att.Filename)
	path := filepath.Join(p.stagingDir, "tagstash-"+uuid.NewString()+naming.SanitizeExt(ext))

	src, err := att.Open()
	if err != nil {
		return "", fmt.Errorf("%w: failed to open attachment: %v", ErrStaging, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStaging, err)
	}

	var r io.Reader = src
	if limit > 0 {
		r = io.LimitReader(src, limit+1)
	}
	n, copyErr := io.Copy(dst, r)
	closeErr := dst.Close()

	switch {
	case copyErr != nil:
		err = fmt.Errorf("%w: %v", ErrStaging, copyErr)
	case closeErr != nil:
		err = fmt.Errorf("%w: %v", ErrStaging, closeErr)
	case limit > 0 && n > limit:
		err = fmt.Errorf("%w: file exceeds limit of %d bytes", ErrValidation, limit)
	}
	if err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func (p *Pipeline) persist(ctx context.Context, staged, label, name string) (storage.FileRef, error) {
	b := p.backends.Backend()
	if b == nil {
		return storage.FileRef{}, fmt.Errorf("%w: no storage backend configured", storage.ErrPersist)
	}
	bucket, err := b.EnsureBucket(ctx, label)
	if err != nil {
		return storage.FileRef{}, persistError(err)
	}

	f, err := os.Open(staged)
	if err != nil {
		return storage.FileRef{}, fmt.Errorf("%w: %v", storage.ErrPersist, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return storage.FileRef{}, fmt.Errorf("%w: %v", storage.ErrPersist, err)
	}
	ref, err := b.Write(ctx, bucket, name, f, info.Size())
	if err != nil {
		return storage.FileRef{}, persistError(err)
	}
	return ref, nil
}

func persistError(err error) error {
	if errors.Is(err, storage.ErrPersist) || errors.Is(err, storage.ErrNamingConflict) {
		return err
	}
	return fmt.Errorf("%w: %v", storage.ErrPersist, err)
}

func verifyImage(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStaging, err)
	}
	defer f.Close()
	if _, _, err := image.DecodeConfig(f); err != nil {
		return fmt.Errorf("%w: image file is damaged or not an image: %v", ErrValidation, err)
	}
	return nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "persisted"
	case errors.Is(err, ErrValidation):
		return "rejected"
	case errors.Is(err, ErrStaging):
		return "staging_error"
	case errors.Is(err, storage.ErrNamingConflict):
		return "conflict"
	default:
		return "persist_error"
	}
}
