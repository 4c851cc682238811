package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/takeshy/tagstash/internal/naming"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
)

const folderCacheSize = 128

var queryEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

// RemoteOptions configures a RemoteBackend.
type RemoteOptions struct {
	RootFolderID string
	// Bucketing stores files in per-period child folders of the root. When
	// false every file lives directly under the root and its bucket is
	// derived from the name's date prefix.
	Bucketing bool
	Logger    *slog.Logger
}

// RemoteBackend stores files in a Drive folder tree. Drive has no path
// concept, so buckets and files are found by (parent id, name) queries.
type RemoteBackend struct {
	files      driveFiles
	dispatcher *Dispatcher
	root       string
	bucketing  bool
	folders    *lru.Cache[string, string]
	logger     *slog.Logger
}

// NewRemoteBackend creates a Drive-backed backend using the service account
// credentials at credentialsPath.
func NewRemoteBackend(ctx context.Context, credentialsPath string, d *Dispatcher, opts RemoteOptions) (*RemoteBackend, error) {
	if opts.RootFolderID == "" {
		return nil, fmt.Errorf("remote root folder id is required")
	}
	files, err := newRealDrive(ctx, credentialsPath)
	if err != nil {
		return nil, err
	}
	return newRemoteBackend(files, d, opts)
}

func newRemoteBackend(files driveFiles, d *Dispatcher, opts RemoteOptions) (*RemoteBackend, error) {
	if opts.RootFolderID == "" {
		return nil, fmt.Errorf("remote root folder id is required")
	}
	if d == nil {
		d = NewDispatcher(4, 0, nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	cache, err := lru.New[string, string](folderCacheSize)
	if err != nil {
		return nil, err
	}
	return &RemoteBackend{
		files:      files,
		dispatcher: d,
		root:       opts.RootFolderID,
		bucketing:  opts.Bucketing,
		folders:    cache,
		logger:     logger.With("component", "storage.remote"),
	}, nil
}

func (b *RemoteBackend) Kind() Kind { return KindRemote }

func (b *RemoteBackend) Close() error {
	b.folders.Purge()
	return nil
}

// EnsureBucket looks the folder up before creating it. Two concurrent first
// writers may still both create a folder; after creating, the backend
// re-queries and settles on the oldest folder so every caller converges on
// the same id.
func (b *RemoteBackend) EnsureBucket(ctx context.Context, label string) (BucketRef, error) {
	if err := validateName(label); err != nil {
		return BucketRef{}, fmt.Errorf("bucket %q: %w", label, err)
	}
	if !b.bucketing {
		return BucketRef{Label: label, ID: b.root}, nil
	}

	id, err := b.lookupFolder(ctx, label)
	if err == nil {
		return BucketRef{Label: label, ID: id}, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return BucketRef{}, err
	}

	created, err := dispatch(ctx, b.dispatcher, "create_folder", func(ctx context.Context) (*drive.File, error) {
		return b.files.CreateFolder(ctx, b.root, label)
	})
	if err != nil {
		return BucketRef{}, fmt.Errorf("failed to create bucket folder %q: %w", label, err)
	}
	b.logger.Info("bucket folder created", "bucket", label, "id", created.Id)

	b.folders.Remove(label)
	id, err = b.lookupFolder(ctx, label)
	if err != nil {
		// not visible yet; the folder we created is still valid
		id = created.Id
	}
	if id != created.Id {
		b.logger.Warn("duplicate bucket folder detected, using oldest", "bucket", label, "created", created.Id, "using", id)
	}
	b.folders.Add(label, id)
	return BucketRef{Label: label, ID: id}, nil
}

func (b *RemoteBackend) Write(ctx context.Context, bucket BucketRef, name string, r io.Reader, _ int64) (FileRef, error) {
	if err := validateName(name); err != nil {
		return FileRef{}, fmt.Errorf("name %q: %w", name, err)
	}
	if _, err := b.findFile(ctx, bucket, name); err == nil {
		return FileRef{}, fmt.Errorf("%s/%s: %w", bucket.Label, name, ErrNamingConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return FileRef{}, fmt.Errorf("%w: %v", ErrPersist, err)
	}

	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	f, err := dispatch(ctx, b.dispatcher, "upload", func(ctx context.Context) (*drive.File, error) {
		return b.files.Upload(ctx, bucket.ID, name, mimeType, r)
	})
	if err != nil {
		return FileRef{}, fmt.Errorf("%w: upload %s/%s: %v", ErrPersist, bucket.Label, name, err)
	}
	b.logger.Debug("file uploaded", "bucket", bucket.Label, "name", name, "id", f.Id)
	return b.fileRef(bucket.Label, f), nil
}

func (b *RemoteBackend) List(ctx context.Context, bucket, keyword string) ([]FileRef, error) {
	if err := validateName(bucket); err != nil {
		return nil, fmt.Errorf("bucket %q: %w", bucket, err)
	}
	parent, err := b.bucketFolder(ctx, bucket)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	// Drive's "name contains" is a prefix-token match, so the substring
	// filter is applied here to keep results identical to the local backend.
	all, err := b.listAll(ctx, fmt.Sprintf("'%s' in parents and mimeType != '%s' and trashed = false", queryEscaper.Replace(parent), folderMimeType))
	if err != nil {
		return nil, err
	}

	var files []FileRef
	for _, f := range all {
		if !b.bucketing && naming.BucketOf(f.Name) != bucket {
			continue
		}
		if !matchesKeyword(f.Name, keyword) {
			continue
		}
		files = append(files, b.fileRef(bucket, f))
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].Name < files[j].Name
	})
	return files, nil
}

func (b *RemoteBackend) ListBuckets(ctx context.Context) ([]string, error) {
	if !b.bucketing {
		all, err := b.listAll(ctx, fmt.Sprintf("'%s' in parents and mimeType != '%s' and trashed = false", queryEscaper.Replace(b.root), folderMimeType))
		if err != nil {
			return nil, err
		}
		seen := make(map[string]bool)
		var labels []string
		for _, f := range all {
			if label := naming.BucketOf(f.Name); label != "" && !seen[label] {
				seen[label] = true
				labels = append(labels, label)
			}
		}
		return labels, nil
	}

	folders, err := b.listAll(ctx, fmt.Sprintf("'%s' in parents and mimeType = '%s' and trashed = false", queryEscaper.Replace(b.root), folderMimeType))
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var labels []string
	for _, f := range folders {
		if !seen[f.Name] {
			seen[f.Name] = true
			labels = append(labels, f.Name)
		}
	}
	return labels, nil
}

func (b *RemoteBackend) Resolve(ctx context.Context, bucket, name string) (FileRef, error) {
	if err := validateRef(bucket, name); err != nil {
		return FileRef{}, err
	}
	if !b.bucketing && naming.BucketOf(name) != bucket {
		return FileRef{}, fmt.Errorf("%s/%s: %w", bucket, name, ErrNotFound)
	}
	parent, err := b.bucketFolder(ctx, bucket)
	if err != nil {
		return FileRef{}, err
	}
	f, err := b.findFile(ctx, BucketRef{Label: bucket, ID: parent}, name)
	if err != nil {
		return FileRef{}, err
	}
	return b.fileRef(bucket, f), nil
}

func (b *RemoteBackend) Read(ctx context.Context, bucket, name string) (io.ReadCloser, FileRef, error) {
	ref, err := b.Resolve(ctx, bucket, name)
	if err != nil {
		return nil, FileRef{}, err
	}
	body, err := dispatch(ctx, b.dispatcher, "download", func(ctx context.Context) (io.ReadCloser, error) {
		return b.files.Download(ctx, ref.ID)
	})
	if err != nil {
		return nil, FileRef{}, fmt.Errorf("failed to download %s/%s: %w", bucket, name, notFoundOr(err))
	}
	return body, ref, nil
}

func (b *RemoteBackend) Delete(ctx context.Context, bucket, name string) error {
	ref, err := b.Resolve(ctx, bucket, name)
	if err != nil {
		return err
	}
	err = b.dispatcher.Do(ctx, "delete", func(ctx context.Context) error {
		return b.files.Delete(ctx, ref.ID)
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", bucket, name, notFoundOr(err))
	}
	b.logger.Info("file deleted", "bucket", bucket, "name", name, "id", ref.ID)
	return nil
}

func (b *RemoteBackend) Rename(ctx context.Context, bucket, oldName, newName string) (FileRef, error) {
	if err := validateName(newName); err != nil {
		return FileRef{}, fmt.Errorf("name %q: %w", newName, err)
	}
	ref, err := b.Resolve(ctx, bucket, oldName)
	if err != nil {
		return FileRef{}, err
	}
	if _, err := b.Resolve(ctx, bucket, newName); err == nil {
		return FileRef{}, fmt.Errorf("%s/%s: %w", bucket, newName, ErrNamingConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return FileRef{}, err
	}
	f, err := dispatch(ctx, b.dispatcher, "rename", func(ctx context.Context) (*drive.File, error) {
		return b.files.Rename(ctx, ref.ID, newName)
	})
	if err != nil {
		return FileRef{}, fmt.Errorf("failed to rename %s/%s: %w", bucket, oldName, notFoundOr(err))
	}
	return b.fileRef(bucket, f), nil
}

// bucketFolder returns the folder id holding bucket without creating it.
func (b *RemoteBackend) bucketFolder(ctx context.Context, bucket string) (string, error) {
	if !b.bucketing {
		return b.root, nil
	}
	return b.lookupFolder(ctx, bucket)
}

func (b *RemoteBackend) lookupFolder(ctx context.Context, label string) (string, error) {
	if id, ok := b.folders.Get(label); ok {
		return id, nil
	}
	q := fmt.Sprintf("'%s' in parents and name = '%s' and mimeType = '%s' and trashed = false",
		queryEscaper.Replace(b.root), queryEscaper.Replace(label), folderMimeType)
	folders, err := b.listAll(ctx, q)
	if err != nil {
		return "", err
	}
	if len(folders) == 0 {
		return "", fmt.Errorf("bucket %q: %w", label, ErrNotFound)
	}
	oldestFirst(folders)
	b.folders.Add(label, folders[0].Id)
	return folders[0].Id, nil
}

func (b *RemoteBackend) findFile(ctx context.Context, bucket BucketRef, name string) (*drive.File, error) {
	q := fmt.Sprintf("'%s' in parents and name = '%s' and mimeType != '%s' and trashed = false",
		queryEscaper.Replace(bucket.ID), queryEscaper.Replace(name), folderMimeType)
	files, err := b.listAll(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%s/%s: %w", bucket.Label, name, ErrNotFound)
	}
	oldestFirst(files)
	return files[0], nil
}

// listAll follows nextPageToken until the listing is exhausted.
func (b *RemoteBackend) listAll(ctx context.Context, query string) ([]*drive.File, error) {
	var all []*drive.File
	pageToken := ""
	for {
		page, err := dispatch(ctx, b.dispatcher, "list", func(ctx context.Context) (*drive.FileList, error) {
			return b.files.List(ctx, query, pageToken)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query remote files: %w", err)
		}
		all = append(all, page.Files...)
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}
	return all, nil
}

func (b *RemoteBackend) fileRef(bucket string, f *drive.File) FileRef {
	return FileRef{
		Bucket:   bucket,
		Name:     f.Name,
		ID:       f.Id,
		Size:     f.Size,
		MimeType: f.MimeType,
		Created:  parseTime(f.CreatedTime),
		Modified: parseTime(f.ModifiedTime),
	}
}

func oldestFirst(files []*drive.File) {
	sort.SliceStable(files, func(i, j int) bool {
		if files[i].CreatedTime != files[j].CreatedTime {
			return files[i].CreatedTime < files[j].CreatedTime
		}
		return files[i].Id < files[j].Id
	})
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func notFoundOr(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}
