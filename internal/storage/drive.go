package storage

import (
	"context"
	"fmt"
	"io"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

const (
	folderMimeType = "application/vnd.google-apps.folder"
	fileFields     = "id, name, mimeType, size, createdTime, modifiedTime"
	listFields     = "nextPageToken, files(" + fileFields + ")"
	pageSize       = 100
)

// driveFiles abstracts the subset of the Drive files API the remote backend
// needs, so tests can run against an in-memory fake.
type driveFiles interface {
	List(ctx context.Context, query, pageToken string) (*drive.FileList, error)
	CreateFolder(ctx context.Context, parentID, name string) (*drive.File, error)
	Upload(ctx context.Context, parentID, name, mimeType string, r io.Reader) (*drive.File, error)
	Download(ctx context.Context, id string) (io.ReadCloser, error)
	Delete(ctx context.Context, id string) error
	Rename(ctx context.Context, id, name string) (*drive.File, error)
}

// realDrive wraps *drive.Service to satisfy driveFiles.
type realDrive struct{ svc *drive.Service }

func newRealDrive(ctx context.Context, credentialsPath string) (*realDrive, error) {
	opts := []option.ClientOption{option.WithScopes(drive.DriveScope)}
	if credentialsPath != "" {
		opts = append(opts, option.WithAuthCredentialsFile(option.ServiceAccount, credentialsPath))
	}
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Drive client: %w", err)
	}
	return &realDrive{svc: svc}, nil
}

func (r *realDrive) List(ctx context.Context, query, pageToken string) (*drive.FileList, error) {
	call := r.svc.Files.List().
		Q(query).
		Fields(listFields).
		PageSize(pageSize).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	return call.Do()
}

func (r *realDrive) CreateFolder(ctx context.Context, parentID, name string) (*drive.File, error) {
	return r.svc.Files.Create(&drive.File{
		Name:     name,
		MimeType: folderMimeType,
		Parents:  []string{parentID},
	}).Fields(fileFields).SupportsAllDrives(true).Context(ctx).Do()
}

func (r *realDrive) Upload(ctx context.Context, parentID, name, mimeType string, body io.Reader) (*drive.File, error) {
	return r.svc.Files.Create(&drive.File{
		Name:     name,
		MimeType: mimeType,
		Parents:  []string{parentID},
	}).Media(body).Fields(fileFields).SupportsAllDrives(true).Context(ctx).Do()
}

func (r *realDrive) Download(ctx context.Context, id string) (io.ReadCloser, error) {
	resp, err := r.svc.Files.Get(id).SupportsAllDrives(true).Context(ctx).Download()
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (r *realDrive) Delete(ctx context.Context, id string) error {
	return r.svc.Files.Delete(id).SupportsAllDrives(true).Context(ctx).Do()
}

func (r *realDrive) Rename(ctx context.Context, id, name string) (*drive.File, error) {
	return r.svc.Files.Update(id, &drive.File{Name: name}).
		Fields(fileFields).SupportsAllDrives(true).Context(ctx).Do()
}
