package ingest

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/takeshy/tagstash/internal/gemini"
	"github.com/takeshy/tagstash/internal/metrics"
	"github.com/takeshy/tagstash/internal/naming"
	"github.com/takeshy/tagstash/internal/storage"
)

var testDay = time.Date(2024, 6, 15, 10, 30, 0, 0, time.UTC)

type tagFunc func(ctx context.Context, path, displayName, mimeType string) string

func (f tagFunc) Tag(ctx context.Context, path, displayName, mimeType string) string {
	return f(ctx, path, displayName, mimeType)
}

func fixedTags(token string) Tagger {
	return tagFunc(func(context.Context, string, string, string) string { return token })
}

// countingBackend records every call that reaches the backend.
type countingBackend struct {
	storage.Backend
	mu    sync.Mutex
	calls int
}

func (c *countingBackend) count() {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
}

func (c *countingBackend) EnsureBucket(ctx context.Context, label string) (storage.BucketRef, error) {
	c.count()
	return c.Backend.EnsureBucket(ctx, label)
}

func (c *countingBackend) Write(ctx context.Context, b storage.BucketRef, name string, r io.Reader, size int64) (storage.FileRef, error) {
	c.count()
	return c.Backend.Write(ctx, b, name, r, size)
}

type fixture struct {
	root    string
	staging string
	backend *countingBackend
	metrics *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	local, err := storage.NewLocalBackend(root, nil)
	require.NoError(t, err)
	return &fixture{
		root:    root,
		staging: t.TempDir(),
		backend: &countingBackend{Backend: local},
		metrics: metrics.MustNew(prometheus.NewRegistry()),
	}
}

func (f *fixture) pipeline(tagger Tagger, mutate ...func(*Options)) *Pipeline {
	opts := Options{
		StagingDir: f.staging,
		Now:        func() time.Time { return testDay },
		Metrics:    f.metrics,
	}
	for _, m := range mutate {
		m(&opts)
	}
	return New(tagger, storage.Fixed(f.backend), opts)
}

func (f *fixture) assertNoStagedFiles(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(f.staging)
	require.NoError(t, err)
	assert.Empty(t, entries, "staging directory should be empty")
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestIngest_TaggedFile(t *testing.T) {
	f := newFixture(t)
	data := pngBytes(t)

	var seenPath, seenName, seenMime string
	tagger := tagFunc(func(_ context.Context, path, displayName, mimeType string) string {
		seenPath, seenName, seenMime = path, displayName, mimeType
		staged, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, data, staged)
		return "beach-sunset"
	})

	res, err := f.pipeline(tagger).Ingest(context.Background(), BytesAttachment("Vacation Photo.png", data, ""), 0)
	require.NoError(t, err)

	assert.Equal(t, StateCleaned, res.State)
	assert.Equal(t, "20240615_beach-sunset_Vacation_Photo.png", res.CanonicalName)
	assert.Equal(t, "202406", res.Bucket)
	assert.Equal(t, "beach-sunset", res.TagToken)
	assert.Equal(t, "202406/20240615_beach-sunset_Vacation_Photo.png", res.File.Path())

	assert.Equal(t, "Vacation Photo.png", seenName)
	assert.Equal(t, "image/png", seenMime)
	assert.Equal(t, f.staging, filepath.Dir(seenPath))
	assert.NotContains(t, filepath.Base(seenPath), "Vacation")

	stored, err := os.ReadFile(filepath.Join(f.root, "202406", res.CanonicalName))
	require.NoError(t, err)
	assert.Equal(t, data, stored)
	f.assertNoStagedFiles(t)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Ingestions().WithLabelValues("persisted")))
}

func TestIngest_RejectsUnsupportedType(t *testing.T) {
	f := newFixture(t)
	called := false
	tagger := tagFunc(func(context.Context, string, string, string) string {
		called = true
		return "x"
	})

	res, err := f.pipeline(tagger).Ingest(context.Background(), BytesAttachment("setup.exe", []byte("MZ"), ""), 0)

	require.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, StateAborted, res.State)
	assert.Empty(t, res.CanonicalName)
	assert.False(t, called)
	assert.Zero(t, f.backend.calls)
	f.assertNoStagedFiles(t)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Ingestions().WithLabelValues("rejected")))
}

func TestIngest_TaggingServiceFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := newFixture(t)
	tagger := gemini.NewTagger(gemini.NewClient("k", gemini.WithBaseURL(srv.URL)), "", gemini.WithMetrics(f.metrics))

	res, err := f.pipeline(tagger).Ingest(context.Background(), BytesAttachment("Vacation Photo.png", pngBytes(t), ""), 0)
	require.NoError(t, err)

	assert.Equal(t, "20240615_notags_Vacation_Photo.png", res.CanonicalName)
	assert.Equal(t, naming.NoTags, res.TagToken)
	assert.Equal(t, StateCleaned, res.State)
	f.assertNoStagedFiles(t)
}

func TestIngest_TaggerPanicDegrades(t *testing.T) {
	f := newFixture(t)
	tagger := tagFunc(func(context.Context, string, string, string) string { panic("tagger exploded") })

	res, err := f.pipeline(tagger).Ingest(context.Background(), BytesAttachment("clip.mp4", []byte("video"), ""), 0)
	require.NoError(t, err)
	assert.Equal(t, "20240615_notags_clip.mp4", res.CanonicalName)
	f.assertNoStagedFiles(t)
}

func TestIngest_TagTextIsResanitized(t *testing.T) {
	f := newFixture(t)

	res, err := f.pipeline(fixedTags("cat_dog / tree")).Ingest(context.Background(), BytesAttachment("a b.mp4", []byte("v"), "video/mp4"), 0)
	require.NoError(t, err)

	assert.Equal(t, "cat-dog-tree", res.TagToken)
	assert.Equal(t, "20240615_cat-dog-tree_a_b.mp4", res.CanonicalName)
	d := naming.Decode(res.CanonicalName)
	assert.Equal(t, "cat-dog-tree", d.TagsRaw)
	assert.Equal(t, "a_b", d.Stem)
}

func TestIngest_LongJapaneseNamePersists(t *testing.T) {
	f := newFixture(t)
	filename := strings.Repeat("沖縄旅行で撮った家族の写真", 20) + ".png"
	tags := strings.Repeat("沖縄、ビーチ、夕焼け、家族、", 20)

	res, err := f.pipeline(fixedTags(tags)).Ingest(context.Background(), BytesAttachment(filename, pngBytes(t), ""), 0)
	require.NoError(t, err)
	assert.Equal(t, StateCleaned, res.State)
	assert.LessOrEqual(t, len(res.CanonicalName), 255)
	assert.True(t, strings.HasPrefix(res.CanonicalName, "20240615_沖縄-ビーチ-夕焼け"))
	assert.True(t, strings.HasSuffix(res.CanonicalName, ".png"))
	assert.FileExists(t, filepath.Join(f.root, "202406", res.CanonicalName))
	f.assertNoStagedFiles(t)
}

func TestIngest_SizeLimit(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(fixedTags("x"))

	_, err := p.Ingest(context.Background(), BytesAttachment("big.mp4", make([]byte, 11), ""), 10)
	require.ErrorIs(t, err, ErrValidation)

	// Declared size lies; the staged copy is still capped.
	att := BytesAttachment("liar.mp4", make([]byte, 50), "")
	att.Size = 5
	res, err := p.Ingest(context.Background(), att, 10)
	require.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, StateAborted, res.State)

	assert.Zero(t, f.backend.calls)
	f.assertNoStagedFiles(t)
}

func TestIngest_CorruptImageRejected(t *testing.T) {
	f := newFixture(t)
	called := false
	tagger := tagFunc(func(context.Context, string, string, string) string {
		called = true
		return "x"
	})

	res, err := f.pipeline(tagger).Ingest(context.Background(), BytesAttachment("broken.png", []byte("not a png"), ""), 0)
	require.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, StateAborted, res.State)
	assert.False(t, called)
	f.assertNoStagedFiles(t)

	// webp cannot be decoded here, so it is accepted as-is
	_, err = f.pipeline(tagger).Ingest(context.Background(), BytesAttachment("pic.webp", []byte("RIFF"), ""), 0)
	require.NoError(t, err)

	_, err = f.pipeline(fixedTags("x"), func(o *Options) { o.SkipImageCheck = true }).
		Ingest(context.Background(), BytesAttachment("broken2.png", []byte("junk"), ""), 0)
	require.NoError(t, err)
}

func TestIngest_NameConflictKeepsExistingFile(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(fixedTags("beach"))

	_, err := p.Ingest(context.Background(), BytesAttachment("a.mp4", []byte("first"), ""), 0)
	require.NoError(t, err)

	res, err := p.Ingest(context.Background(), BytesAttachment("a.mp4", []byte("second"), ""), 0)
	require.ErrorIs(t, err, storage.ErrNamingConflict)
	assert.Equal(t, StateNamed, res.State)

	stored, err := os.ReadFile(filepath.Join(f.root, "202406", "20240615_beach_a.mp4"))
	require.NoError(t, err)
	assert.Equal(t, "first", string(stored))
	f.assertNoStagedFiles(t)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Ingestions().WithLabelValues("conflict")))
}

type failingWriteBackend struct{ storage.Backend }

func (failingWriteBackend) Write(context.Context, storage.BucketRef, string, io.Reader, int64) (storage.FileRef, error) {
	return storage.FileRef{}, errors.New("disk on fire")
}

func TestIngest_PersistFailureCleansUp(t *testing.T) {
	f := newFixture(t)
	p := New(fixedTags("x"), storage.Fixed(failingWriteBackend{f.backend}), Options{StagingDir: f.staging})

	_, err := p.Ingest(context.Background(), BytesAttachment("a.mp4", []byte("v"), ""), 0)
	require.ErrorIs(t, err, storage.ErrPersist)
	f.assertNoStagedFiles(t)
}

func TestIngest_NoBackend(t *testing.T) {
	f := newFixture(t)
	p := New(fixedTags("x"), storage.Fixed(nil), Options{StagingDir: f.staging})

	_, err := p.Ingest(context.Background(), BytesAttachment("a.mp4", []byte("v"), ""), 0)
	require.ErrorIs(t, err, storage.ErrPersist)
	f.assertNoStagedFiles(t)
}

func TestIngest_OpenFailure(t *testing.T) {
	f := newFixture(t)
	att := Attachment{
		Filename: "a.mp4",
		Size:     1,
		Open:     func() (io.ReadCloser, error) { return nil, errors.New("gone") },
	}

	res, err := f.pipeline(fixedTags("x")).Ingest(context.Background(), att, 0)
	require.ErrorIs(t, err, ErrStaging)
	assert.Equal(t, StateAborted, res.State)
	f.assertNoStagedFiles(t)
}

func TestIngest_StagingDirMissing(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(fixedTags("x"), func(o *Options) { o.StagingDir = filepath.Join(f.staging, "nope") })

	_, err := p.Ingest(context.Background(), BytesAttachment("a.mp4", []byte("v"), ""), 0)
	require.ErrorIs(t, err, ErrStaging)
}

func TestFileAttachment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.MOV")
	require.NoError(t, os.WriteFile(path, []byte("movie"), 0644))

	att, err := FileAttachment(path)
	require.NoError(t, err)
	assert.Equal(t, "clip.MOV", att.Filename)
	assert.Equal(t, int64(5), att.Size)
	assert.Equal(t, "video/quicktime", att.MimeType)

	_, err = FileAttachment(dir)
	assert.Error(t, err)
}

func TestIngestAll(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(fixedTags("batch"), func(o *Options) { o.Parallelism = 3 })

	atts := []Attachment{
		BytesAttachment("one.mp4", []byte("1"), ""),
		BytesAttachment("two.exe", []byte("2"), ""),
		BytesAttachment("three.mov", []byte("3"), ""),
		BytesAttachment("four.webm", []byte("4"), ""),
	}

	var mu sync.Mutex
	var seen []string
	results := p.IngestAll(context.Background(), atts, 0, func(r Result) {
		mu.Lock()
		seen = append(seen, r.Filename)
		mu.Unlock()
	})

	require.Len(t, results, 4)
	for i, r := range results {
		assert.Equal(t, atts[i].Filename, r.Filename)
	}
	assert.NoError(t, results[0].Error)
	assert.ErrorIs(t, results[1].Error, ErrValidation)
	assert.Equal(t, "20240615_batch_three.mov", results[2].CanonicalName)

	sort.Strings(seen)
	assert.Equal(t, []string{"four.webm", "one.mp4", "three.mov", "two.exe"}, seen)

	files, err := f.backend.List(context.Background(), "202406", "")
	require.NoError(t, err)
	assert.Len(t, files, 3)
	f.assertNoStagedFiles(t)
}

func TestAllowed(t *testing.T) {
	p := New(nil, storage.Fixed(nil), Options{AllowedExtensions: []string{"PNG", ".mp4", " "}})
	assert.True(t, p.Allowed("x.png"))
	assert.True(t, p.Allowed("x.MP4"))
	assert.False(t, p.Allowed("x.jpg"))
	assert.False(t, p.Allowed("png"))
}
