package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/takeshy/tagstash/internal/fileutil"
	"github.com/takeshy/tagstash/internal/naming"
	"github.com/takeshy/tagstash/internal/storage"
)

// MinKeywordRunes is the shortest keyword Search accepts.
const MinKeywordRunes = 2

var (
	ErrKeywordTooShort = fmt.Errorf("keyword must be at least %d characters", MinKeywordRunes)
	ErrTooLarge        = errors.New("file is too large to download")
	ErrInvalidRef      = errors.New(`file reference must look like "bucket/name"`)
	ErrNoBackend       = errors.New("no storage backend configured")
	ErrAmbiguous       = errors.New("reference matches more than one file")
)

// FileSummary is a stored file with the metadata decoded from its name.
type FileSummary struct {
	Bucket   string    `json:"bucket"`
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Date     string    `json:"date,omitempty"`
	Tags     string    `json:"tags,omitempty"`
	TagsRaw  string    `json:"tags_raw,omitempty"`
	Stem     string    `json:"stem"`
	Ext      string    `json:"ext,omitempty"`
	Icon     string    `json:"icon"`
	Size     int64     `json:"size"`
	MimeType string    `json:"mime_type,omitempty"`
	Modified time.Time `json:"modified,omitempty"`
}

// Summarize decodes a stored file's name.
func Summarize(f storage.FileRef) FileSummary {
	d := naming.Decode(f.Name)
	return FileSummary{
		Bucket:   f.Bucket,
		Name:     f.Name,
		Path:     f.Path(),
		Date:     d.Date,
		Tags:     d.TagsDisplay,
		TagsRaw:  d.TagsRaw,
		Stem:     d.Stem,
		Ext:      d.Ext,
		Icon:     fileutil.Icon(f.Name),
		Size:     f.Size,
		MimeType: f.MimeType,
		Modified: f.Modified,
	}
}

// Service answers read-only queries against the active backend.
type Service struct {
	backends    storage.Provider
	parallelism int
	logger      *slog.Logger
}

// New creates a query service. parallelism bounds how many buckets are
// listed at once; values below 1 mean 4.
func New(p storage.Provider, parallelism int, logger *slog.Logger) *Service {
	if parallelism < 1 {
		parallelism = 4
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{backends: p, parallelism: parallelism, logger: logger.With("component", "repository")}
}

func (s *Service) backend() (storage.Backend, error) {
	b := s.backends.Backend()
	if b == nil {
		return nil, ErrNoBackend
	}
	return b, nil
}

// ListFiles lists one bucket, or every YYYYMM bucket newest-first when
// bucket is empty. keyword filters names case-insensitively. An empty
// result is not an error.
func (s *Service) ListFiles(ctx context.Context, bucket, keyword string) ([]FileSummary, error) {
	b, err := s.backend()
	if err != nil {
		return nil, err
	}
	keyword = strings.TrimSpace(keyword)

	if bucket = strings.TrimSpace(bucket); bucket != "" {
		files, err := b.List(ctx, bucket, keyword)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", bucket, err)
		}
		return summarizeAll(files), nil
	}

	buckets, err := s.periodBuckets(ctx, b)
	if err != nil {
		return nil, err
	}

	perBucket := make([][]storage.FileRef, len(buckets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for i, label := range buckets {
		g.Go(func() error {
			files, err := b.List(gctx, label, keyword)
			if err != nil {
				return fmt.Errorf("failed to list %s: %w", label, err)
			}
			perBucket[i] = files
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []FileSummary
	for _, files := range perBucket {
		out = append(out, summarizeAll(files)...)
	}
	return out, nil
}

// Search lists matching files across all buckets.
func (s *Service) Search(ctx context.Context, keyword string) ([]FileSummary, error) {
	keyword = strings.TrimSpace(keyword)
	if utf8.RuneCountInString(keyword) < MinKeywordRunes {
		return nil, ErrKeywordTooShort
	}
	return s.ListFiles(ctx, "", keyword)
}

// Info describes the file at ref ("bucket/name").
func (s *Service) Info(ctx context.Context, ref string) (FileSummary, error) {
	b, err := s.backend()
	if err != nil {
		return FileSummary{}, err
	}
	f, err := s.resolve(ctx, b, ref)
	if err != nil {
		return FileSummary{}, err
	}
	return Summarize(f), nil
}

// Get opens the file at ref for reading. Files larger than maxBytes are
// refused with ErrTooLarge; maxBytes <= 0 disables the check.
func (s *Service) Get(ctx context.Context, ref string, maxBytes int64) (io.ReadCloser, FileSummary, error) {
	b, err := s.backend()
	if err != nil {
		return nil, FileSummary{}, err
	}
	f, err := s.resolve(ctx, b, ref)
	if err != nil {
		return nil, FileSummary{}, err
	}
	if maxBytes > 0 && f.Size > maxBytes {
		return nil, Summarize(f), fmt.Errorf("%w: %s is %d bytes, limit is %d", ErrTooLarge, f.Path(), f.Size, maxBytes)
	}
	rc, f, err := b.Read(ctx, f.Bucket, f.Name)
	if err != nil {
		return nil, FileSummary{}, fmt.Errorf("failed to read %s: %w", ref, err)
	}
	return rc, Summarize(f), nil
}

// Resolve turns ref into a stored file. It accepts the shortened values
// produced by AutocompleteFiles and a hand-typed "prefix…" that matches
// exactly one file.
func (s *Service) Resolve(ctx context.Context, ref string) (storage.FileRef, error) {
	b, err := s.backend()
	if err != nil {
		return storage.FileRef{}, err
	}
	return s.resolve(ctx, b, ref)
}

func (s *Service) resolve(ctx context.Context, b storage.Backend, ref string) (storage.FileRef, error) {
	bucket, name, err := ParseRef(ref)
	if err != nil {
		return storage.FileRef{}, err
	}

	if !strings.Contains(name, ellipsis) {
		f, err := b.Resolve(ctx, bucket, name)
		if err != nil {
			return storage.FileRef{}, fmt.Errorf("%s: %w", ref, err)
		}
		return f, nil
	}

	// exact names win over the shortened forms
	if f, err := b.Resolve(ctx, bucket, name); err == nil {
		return f, nil
	}

	var match func(string) bool
	if head, digest, ok := splitDigest(name); ok {
		match = func(n string) bool { return strings.HasPrefix(n, head) && nameDigest(n) == digest }
	} else if prefix, ok := strings.CutSuffix(name, ellipsis); ok {
		match = func(n string) bool { return strings.HasPrefix(n, prefix) }
	} else {
		return storage.FileRef{}, fmt.Errorf("%s: %w", ref, storage.ErrNotFound)
	}

	files, err := b.List(ctx, bucket, "")
	if err != nil {
		return storage.FileRef{}, fmt.Errorf("failed to list %s: %w", bucket, err)
	}
	var matches []storage.FileRef
	for _, f := range files {
		if match(f.Name) {
			matches = append(matches, f)
		}
	}
	switch len(matches) {
	case 0:
		return storage.FileRef{}, fmt.Errorf("%s: %w", ref, storage.ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		return storage.FileRef{}, fmt.Errorf("%s: %w", ref, ErrAmbiguous)
	}
}

// ParseRef splits "bucket/name". Leading and trailing slashes are ignored.
func ParseRef(ref string) (bucket, name string, err error) {
	ref = strings.Trim(strings.TrimSpace(ref), "/")
	bucket, name, ok := strings.Cut(ref, "/")
	if !ok || bucket == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return bucket, name, nil
}

// Buckets returns every YYYYMM bucket label, newest first.
func (s *Service) Buckets(ctx context.Context) ([]string, error) {
	b, err := s.backend()
	if err != nil {
		return nil, err
	}
	return s.periodBuckets(ctx, b)
}

// periodBuckets returns the YYYYMM bucket labels, newest first.
func (s *Service) periodBuckets(ctx context.Context, b storage.Backend) ([]string, error) {
	all, err := b.ListBuckets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list buckets: %w", err)
	}
	var labels []string
	for _, l := range all {
		if naming.IsBucketLabel(l) {
			labels = append(labels, l)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(labels)))
	return labels, nil
}

func summarizeAll(files []storage.FileRef) []FileSummary {
	out := make([]FileSummary, 0, len(files))
	for _, f := range files {
		out = append(out, Summarize(f))
	}
	return out
}
