package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LocalBackend stores files under root/<bucket>/<name>.
type LocalBackend struct {
	root   string
	logger *slog.Logger
}

// NewLocalBackend creates a local backend rooted at root, creating the root
// directory if needed.
func NewLocalBackend(root string, logger *slog.Logger) (*LocalBackend, error) {
	if root == "" {
		return nil, fmt.Errorf("local root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve local root %q: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create local root %q: %w", abs, err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &LocalBackend{root: abs, logger: logger.With("component", "storage.local")}, nil
}

func (b *LocalBackend) Kind() Kind { return KindLocal }

// Root returns the absolute root directory.
func (b *LocalBackend) Root() string { return b.root }

func (b *LocalBackend) Close() error { return nil }

func (b *LocalBackend) EnsureBucket(_ context.Context, label string) (BucketRef, error) {
	if err := validateName(label); err != nil {
		return BucketRef{}, fmt.Errorf("bucket %q: %w", label, err)
	}
	dir := filepath.Join(b.root, label)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return BucketRef{}, fmt.Errorf("failed to create bucket %q: %w", label, err)
	}
	return BucketRef{Label: label, ID: dir}, nil
}

func (b *LocalBackend) Write(_ context.Context, bucket BucketRef, name string, r io.Reader, _ int64) (FileRef, error) {
	if err := validateName(name); err != nil {
		return FileRef{}, fmt.Errorf("name %q: %w", name, err)
	}
	path := filepath.Join(bucket.ID, name)

	// O_EXCL gives us the no-overwrite guarantee without a separate check.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return FileRef{}, fmt.Errorf("%s/%s: %w", bucket.Label, name, ErrNamingConflict)
		}
		return FileRef{}, fmt.Errorf("%w: %v", ErrPersist, err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return FileRef{}, fmt.Errorf("%w: write %s: %v", ErrPersist, name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return FileRef{}, fmt.Errorf("%w: close %s: %v", ErrPersist, name, err)
	}

	b.logger.Debug("file written", "bucket", bucket.Label, "name", name)
	return b.stat(bucket.Label, name)
}

func (b *LocalBackend) List(_ context.Context, bucket, keyword string) ([]FileRef, error) {
	if err := validateName(bucket); err != nil {
		return nil, fmt.Errorf("bucket %q: %w", bucket, err)
	}
	entries, err := os.ReadDir(filepath.Join(b.root, bucket))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read bucket %q: %w", bucket, err)
	}

	var files []FileRef
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || !matchesKeyword(e.Name(), keyword) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		files = append(files, b.fileRef(bucket, e.Name(), info))
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Name < files[j].Name
	})
	return files, nil
}

func (b *LocalBackend) ListBuckets(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(b.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read root: %w", err)
	}
	var labels []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			labels = append(labels, e.Name())
		}
	}
	return labels, nil
}

func (b *LocalBackend) Resolve(_ context.Context, bucket, name string) (FileRef, error) {
	if err := validateRef(bucket, name); err != nil {
		return FileRef{}, err
	}
	return b.stat(bucket, name)
}

func (b *LocalBackend) Read(ctx context.Context, bucket, name string) (io.ReadCloser, FileRef, error) {
	ref, err := b.Resolve(ctx, bucket, name)
	if err != nil {
		return nil, FileRef{}, err
	}
	f, err := os.Open(ref.ID)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, FileRef{}, fmt.Errorf("%s/%s: %w", bucket, name, ErrNotFound)
		}
		return nil, FileRef{}, fmt.Errorf("failed to open %s/%s: %w", bucket, name, err)
	}
	return f, ref, nil
}

func (b *LocalBackend) Delete(_ context.Context, bucket, name string) error {
	if err := validateRef(bucket, name); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(b.root, bucket, name)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s/%s: %w", bucket, name, ErrNotFound)
		}
		return fmt.Errorf("failed to delete %s/%s: %w", bucket, name, err)
	}
	b.logger.Info("file deleted", "bucket", bucket, "name", name)
	return nil
}

func (b *LocalBackend) Rename(_ context.Context, bucket, oldName, newName string) (FileRef, error) {
	if err := validateRef(bucket, oldName); err != nil {
		return FileRef{}, err
	}
	if err := validateName(newName); err != nil {
		return FileRef{}, fmt.Errorf("name %q: %w", newName, err)
	}
	if _, err := b.stat(bucket, oldName); err != nil {
		return FileRef{}, err
	}
	dst := filepath.Join(b.root, bucket, newName)
	if _, err := os.Lstat(dst); err == nil {
		return FileRef{}, fmt.Errorf("%s/%s: %w", bucket, newName, ErrNamingConflict)
	}
	if err := os.Rename(filepath.Join(b.root, bucket, oldName), dst); err != nil {
		return FileRef{}, fmt.Errorf("failed to rename %s/%s: %w", bucket, oldName, err)
	}
	return b.stat(bucket, newName)
}

func (b *LocalBackend) stat(bucket, name string) (FileRef, error) {
	info, err := os.Stat(filepath.Join(b.root, bucket, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return FileRef{}, fmt.Errorf("%s/%s: %w", bucket, name, ErrNotFound)
		}
		return FileRef{}, fmt.Errorf("failed to stat %s/%s: %w", bucket, name, err)
	}
	if info.IsDir() {
		return FileRef{}, fmt.Errorf("%s/%s: %w", bucket, name, ErrNotFound)
	}
	return b.fileRef(bucket, name, info), nil
}

func (b *LocalBackend) fileRef(bucket, name string, info fs.FileInfo) FileRef {
	return FileRef{
		Bucket:   bucket,
		Name:     name,
		ID:       filepath.Join(b.root, bucket, name),
		Size:     info.Size(),
		MimeType: mime.TypeByExtension(strings.ToLower(filepath.Ext(name))),
		Created:  info.ModTime(),
		Modified: info.ModTime(),
	}
}

func validateRef(bucket, name string) error {
	if err := validateName(bucket); err != nil {
		return fmt.Errorf("bucket %q: %w", bucket, err)
	}
	if err := validateName(name); err != nil {
		return fmt.Errorf("name %q: %w", name, err)
	}
	return nil
}
