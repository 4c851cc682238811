package mcp

import (
	"time"

	"github.com/takeshy/tagstash/internal/config"
	"github.com/takeshy/tagstash/internal/deletion"
	"github.com/takeshy/tagstash/internal/repository"
)

// UploadInput represents input for the upload tool
type UploadInput struct {
	ActorID string   `json:"actor_id" jsonschema:"id of the user issuing the command"`
	Roles   []string `json:"roles,omitempty" jsonschema:"role names held by the user"`
	FileName    string `json:"file_name" jsonschema:"original file name, including extension"`
	FileContent string `json:"file_content" jsonschema:"file content, base64 encoded"`
	MimeType    string `json:"mime_type,omitempty" jsonschema:"MIME type of the file, detected from the extension when omitted"`
	MaxBytes    int64  `json:"max_bytes,omitempty" jsonschema:"size limit enforced for this upload, 0 for none"`
}

// UploadOutput represents output from the upload tool
type UploadOutput struct {
	Success bool   `json:"success"`
	Path    string `json:"path,omitempty"`
	Tags    string `json:"tags,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ListInput represents input for the list_files tool
type ListInput struct {
	Bucket  string `json:"bucket,omitempty" jsonschema:"YYYYMM bucket to list, all buckets when omitted"`
	Keyword string `json:"keyword,omitempty" jsonschema:"case-insensitive substring of the file name"`
}

// SearchInput represents input for the search_files tool
type SearchInput struct {
	Keyword string `json:"keyword" jsonschema:"case-insensitive substring of the file name, at least 2 characters"`
}

// ListOutput represents output from the list_files and search_files tools
type ListOutput struct {
	Files []FileEntry `json:"files"`
	Total int         `json:"total"`
}

// FileInput addresses one stored file.
type FileInput struct {
	Path string `json:"path" jsonschema:"file reference in the form bucket/name"`
}

// FileInfoOutput represents output from the file_info tool
type FileInfoOutput struct {
	File FileEntry `json:"file"`
}

// DownloadOutput represents output from the download_file tool
type DownloadOutput struct {
	File        FileEntry `json:"file"`
	FileContent string    `json:"file_content"`
}

// AutocompleteBucketInput represents input for the autocomplete_bucket tool
type AutocompleteBucketInput struct {
	Partial string `json:"partial,omitempty" jsonschema:"what the user has typed so far"`
}

// AutocompleteFileInput represents input for the autocomplete_file tool
type AutocompleteFileInput struct {
	Bucket  string `json:"bucket,omitempty" jsonschema:"bucket chosen or typed so far"`
	Partial string `json:"partial,omitempty" jsonschema:"part of the file name typed so far"`
}

// AutocompleteOutput represents output from the autocomplete tools
type AutocompleteOutput struct {
	Candidates []repository.Candidate `json:"candidates"`
}

// RetagInput represents input for the retag tool
type RetagInput struct {
	ActorID string   `json:"actor_id" jsonschema:"id of the user issuing the command"`
	Roles   []string `json:"roles,omitempty" jsonschema:"role names held by the user"`
	Path string `json:"path" jsonschema:"file reference in the form bucket/name"`
	Tags string `json:"tags" jsonschema:"comma separated tags, or notags to clear them"`
}

// DeleteInput represents input for the delete_file tool
type DeleteInput struct {
	ActorID string   `json:"actor_id" jsonschema:"id of the user issuing the command"`
	Roles   []string `json:"roles,omitempty" jsonschema:"role names held by the user"`
	Path string `json:"path" jsonschema:"file reference in the form bucket/name"`
}

// DeletionAnswerInput represents input for confirm_delete and cancel_delete
type DeletionAnswerInput struct {
	ActorID string   `json:"actor_id" jsonschema:"id of the user issuing the command"`
	Roles   []string `json:"roles,omitempty" jsonschema:"role names held by the user"`
	RequestID string `json:"request_id" jsonschema:"id returned by delete_file"`
}

// DeletionOutput represents the state of a deletion request
type DeletionOutput struct {
	RequestID string `json:"request_id,omitempty"`
	Path      string `json:"path,omitempty"`
	State     string `json:"state,omitempty"`
	Expires   string `json:"expires,omitempty"`
	Error     string `json:"error,omitempty"`
}

// SetModelInput represents input for the set_model tool
type SetModelInput struct {
	ActorID string   `json:"actor_id" jsonschema:"id of the user issuing the command"`
	Roles   []string `json:"roles,omitempty" jsonschema:"role names held by the user"`
	Model string `json:"model" jsonschema:"Gemini model id, for example gemini-1.5-flash-latest"`
}

// ModelOutput represents output from the model tools
type ModelOutput struct {
	Model string `json:"model"`
}

// ListModelsInput represents input for the list_models tool
type ListModelsInput struct{}

// ListModelsOutput represents output from the list_models tool
type ListModelsOutput struct {
	Models []ModelInfo `json:"models"`
	Total  int         `json:"total"`
}

// ModelInfo represents information about a Gemini model
type ModelInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
}

// SetConfigInput represents input for the set_config tool
type SetConfigInput struct {
	ActorID string   `json:"actor_id" jsonschema:"id of the user issuing the command"`
	Roles   []string `json:"roles,omitempty" jsonschema:"role names held by the user"`
	Key   string `json:"key" jsonschema:"configuration key, for example activeBackend"`
	Value string `json:"value" jsonschema:"new value; lists are comma separated"`
}

// ConfigOutput represents output from the config tools
type ConfigOutput struct {
	Config  config.Config `json:"config"`
	Backend string        `json:"backend"`
	Warning string        `json:"warning,omitempty"`
}

// EmptyInput is used by tools without arguments.
type EmptyInput struct{}

// FileEntry is a stored file as reported to MCP clients.
type FileEntry struct {
	Path     string `json:"path"`
	Bucket   string `json:"bucket"`
	Name     string `json:"name"`
	Date     string `json:"date,omitempty"`
	Tags     string `json:"tags,omitempty"`
	Stem     string `json:"stem"`
	Ext      string `json:"ext,omitempty"`
	Icon     string `json:"icon"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type,omitempty"`
	Modified string `json:"modified,omitempty"`
}

func fileEntry(f repository.FileSummary) FileEntry {
	e := FileEntry{
		Path:     f.Path,
		Bucket:   f.Bucket,
		Name:     f.Name,
		Date:     f.Date,
		Tags:     f.Tags,
		Stem:     f.Stem,
		Ext:      f.Ext,
		Icon:     f.Icon,
		Size:     f.Size,
		MimeType: f.MimeType,
	}
	if !f.Modified.IsZero() {
		e.Modified = f.Modified.Format(time.RFC3339)
	}
	return e
}

func fileEntries(files []repository.FileSummary) []FileEntry {
	out := make([]FileEntry, 0, len(files))
	for _, f := range files {
		out = append(out, fileEntry(f))
	}
	return out
}

func deletionOutput(p deletion.PendingDeletion) DeletionOutput {
	return DeletionOutput{
		RequestID: p.ID,
		Path:      p.Path(),
		State:     string(p.State),
		Expires:   p.Expires.Format(time.RFC3339),
	}
}
