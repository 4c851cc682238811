package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

// Kind names a backend implementation.
type Kind string

const (
	KindLocal  Kind = "local"
	KindRemote Kind = "remote"
)

var (
	// ErrNotFound is returned when a bucket or file does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNamingConflict is returned when the target name is already taken.
	ErrNamingConflict = errors.New("a file with that name already exists")
	// ErrPersist wraps backend write failures.
	ErrPersist = errors.New("failed to persist file")
	// ErrInvalidName is returned for bucket labels or names that could escape
	// their bucket.
	ErrInvalidName = errors.New("invalid name")
)

// BucketRef identifies a period bucket inside one backend. ID is a directory
// path for the local backend and a folder id for the remote one.
type BucketRef struct {
	Label string
	ID    string
}

// FileRef describes one stored file.
type FileRef struct {
	Bucket   string
	Name     string
	ID       string
	Size     int64
	MimeType string
	Created  time.Time
	Modified time.Time
}

// Path returns the logical "bucket/name" reference.
func (f FileRef) Path() string {
	return f.Bucket + "/" + f.Name
}

// Backend abstracts where file bytes live. Implementations address files by
// bucket label and name; callers never see paths or remote ids except through
// the opaque ID fields.
type Backend interface {
	Kind() Kind
	// EnsureBucket returns the bucket for label, creating it if absent.
	EnsureBucket(ctx context.Context, label string) (BucketRef, error)
	// Write stores r under name. It never overwrites: an existing name
	// yields ErrNamingConflict.
	Write(ctx context.Context, bucket BucketRef, name string, r io.Reader, size int64) (FileRef, error)
	// List returns the files in bucket whose names contain keyword
	// (case-insensitive), sorted by name. A missing bucket lists as empty.
	List(ctx context.Context, bucket, keyword string) ([]FileRef, error)
	// ListBuckets returns every bucket label known to the backend.
	ListBuckets(ctx context.Context) ([]string, error)
	// Resolve looks up a file by logical path.
	Resolve(ctx context.Context, bucket, name string) (FileRef, error)
	// Read opens a file for reading.
	Read(ctx context.Context, bucket, name string) (io.ReadCloser, FileRef, error)
	// Delete removes a file.
	Delete(ctx context.Context, bucket, name string) error
	// Rename changes a file's name inside its bucket without overwriting.
	Rename(ctx context.Context, bucket, oldName, newName string) (FileRef, error)
	Close() error
}

func validateName(s string) error {
	if s == "" || s == "." || s == ".." || strings.ContainsAny(s, `/\`) || strings.ContainsRune(s, 0) {
		return ErrInvalidName
	}
	return nil
}

func matchesKeyword(name, keyword string) bool {
	if keyword == "" {
		return true
	}
	return strings.Contains(strings.ToLower(name), strings.ToLower(keyword))
}

// Provider yields the backend currently in use. The active backend can be
// swapped at runtime, so callers fetch it per operation.
type Provider interface {
	Backend() Backend
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func() Backend

func (f ProviderFunc) Backend() Backend { return f() }

// Fixed returns a Provider that always yields b.
func Fixed(b Backend) Provider {
	return ProviderFunc(func() Backend { return b })
}
