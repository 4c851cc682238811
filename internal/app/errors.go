package app

import (
	"errors"

	"github.com/takeshy/tagstash/internal/config"
	"github.com/takeshy/tagstash/internal/deletion"
	"github.com/takeshy/tagstash/internal/ingest"
	"github.com/takeshy/tagstash/internal/repository"
	"github.com/takeshy/tagstash/internal/storage"
)

var (
	// ErrPermission is returned when the actor lacks an admin role.
	ErrPermission = errors.New("you do not have permission to run this command")
	// ErrValidation is returned for malformed operator input.
	ErrValidation = ingest.ErrValidation
)

const (
	msgStoreFailed = "failed to store the file"
	msgFailed      = "operation failed"
)

// UserMessage returns the text shown to the person who triggered err.
// User-correctable errors are shown verbatim; everything else is reduced
// to a generic message and should be logged with full detail.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrPermission),
		errors.Is(err, ingest.ErrValidation),
		errors.Is(err, storage.ErrNamingConflict),
		errors.Is(err, storage.ErrNotFound),
		errors.Is(err, storage.ErrInvalidName),
		errors.Is(err, repository.ErrKeywordTooShort),
		errors.Is(err, repository.ErrInvalidRef),
		errors.Is(err, repository.ErrTooLarge),
		errors.Is(err, repository.ErrAmbiguous),
		errors.Is(err, repository.ErrNoBackend),
		errors.Is(err, config.ErrConfig),
		errors.Is(err, deletion.ErrNotInitiator),
		errors.Is(err, deletion.ErrNotPending),
		errors.Is(err, deletion.ErrUnknownRequest):
		return err.Error()
	case errors.Is(err, ingest.ErrStaging), errors.Is(err, storage.ErrPersist):
		return msgStoreFailed
	default:
		return msgFailed
	}
}
