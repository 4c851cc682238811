package ingest

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/takeshy/tagstash/internal/fileutil"
)

// Attachment is one incoming file. Open may be called at most once per
// ingestion attempt.
type Attachment struct {
	Filename string
	Size     int64
	MimeType string
	Open     func() (io.ReadCloser, error)
}

// FileAttachment builds an Attachment backed by a file on disk.
func FileAttachment(path string) (Attachment, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Attachment{}, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return Attachment{}, fmt.Errorf("%s is a directory", path)
	}
	return Attachment{
		Filename: filepath.Base(path),
		Size:     info.Size(),
		MimeType: fileutil.DetectMimeType(path),
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}

// BytesAttachment builds an Attachment from an in-memory payload.
func BytesAttachment(filename string, data []byte, mimeType string) Attachment {
	if mimeType == "" {
		mimeType = fileutil.DetectMimeType(filename)
	}
	return Attachment{
		Filename: filename,
		Size:     int64(len(data)),
		MimeType: mimeType,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}
