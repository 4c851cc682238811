package mcp

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/takeshy/tagstash/internal/app"
	"github.com/takeshy/tagstash/internal/ingest"
	"github.com/takeshy/tagstash/internal/naming"
	"github.com/takeshy/tagstash/internal/repository"
)

func actor(id string, roles []string) app.Actor {
	return app.Actor{ID: id, Roles: roles}
}

func textResult(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf(format, args...)},
		},
	}
}

// failure logs err in full and returns the reduced message as a tool error.
func (s *Server) failure(tool string, err error) (*mcp.CallToolResult, string) {
	msg := app.UserMessage(err)
	s.logger.Warn("tool failed", "tool", tool, "error", err)
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: msg},
		},
	}, msg
}

// handleUpload handles the upload tool
func (s *Server) handleUpload(ctx context.Context, req *mcp.CallToolRequest, input UploadInput) (*mcp.CallToolResult, UploadOutput, error) {
	output := UploadOutput{}

	// Validate input
	if input.ActorID == "" {
		return nil, output, fmt.Errorf("actor_id is required")
	}
	if input.FileName == "" {
		return nil, output, fmt.Errorf("file_name is required")
	}
	if input.FileContent == "" {
		return nil, output, fmt.Errorf("file_content is required")
	}

	content, err := base64.StdEncoding.DecodeString(input.FileContent)
	if err != nil {
		return nil, output, fmt.Errorf("failed to decode base64 content: %w", err)
	}

	att := ingest.BytesAttachment(input.FileName, content, input.MimeType)
	results := s.svc.Upload(ctx, actor(input.ActorID, input.Roles), []ingest.Attachment{att}, input.MaxBytes, nil)
	if len(results) == 0 {
		return nil, output, fmt.Errorf("upload produced no result")
	}
	r := results[0]
	if r.Error != nil {
		res, msg := s.failure("upload", r.Error)
		output.Error = msg
		return res, output, nil
	}

	output.Success = true
	output.Path = r.File.Path()
	output.Tags = naming.DisplayTags(r.TagToken)
	return textResult("Stored '%s' as %s (tags: %s)", input.FileName, output.Path, output.Tags), output, nil
}

// handleList handles the list_files tool
func (s *Server) handleList(ctx context.Context, req *mcp.CallToolRequest, input ListInput) (*mcp.CallToolResult, ListOutput, error) {
	output := ListOutput{Files: []FileEntry{}}

	files, err := s.svc.ListFiles(ctx, input.Bucket, input.Keyword)
	if err != nil {
		res, _ := s.failure("list_files", err)
		return res, output, nil
	}
	output.Files = fileEntries(files)
	output.Total = len(files)
	return listResult(files), output, nil
}

// handleSearch handles the search_files tool
func (s *Server) handleSearch(ctx context.Context, req *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, ListOutput, error) {
	output := ListOutput{Files: []FileEntry{}}

	if input.Keyword == "" {
		return nil, output, fmt.Errorf("keyword is required")
	}

	files, err := s.svc.Search(ctx, input.Keyword)
	if err != nil {
		res, _ := s.failure("search_files", err)
		return res, output, nil
	}
	output.Files = fileEntries(files)
	output.Total = len(files)
	return listResult(files), output, nil
}

func listResult(files []repository.FileSummary) *mcp.CallToolResult {
	if len(files) == 0 {
		return textResult("No files found")
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d file(s):\n", len(files))
	for _, f := range files {
		fmt.Fprintf(&sb, "%s %s  [%s]\n", f.Icon, f.Path, f.Tags)
	}
	return textResult("%s", sb.String())
}

// handleInfo handles the file_info tool
func (s *Server) handleInfo(ctx context.Context, req *mcp.CallToolRequest, input FileInput) (*mcp.CallToolResult, FileInfoOutput, error) {
	output := FileInfoOutput{}

	if input.Path == "" {
		return nil, output, fmt.Errorf("path is required")
	}

	f, err := s.svc.Info(ctx, input.Path)
	if err != nil {
		res, _ := s.failure("file_info", err)
		return res, output, nil
	}
	output.File = fileEntry(f)
	return textResult("%s %s\nDate: %s\nTags: %s\nName: %s%s\nSize: %d bytes",
		f.Icon, f.Path, f.Date, f.Tags, f.Stem, f.Ext, f.Size), output, nil
}

// handleDownload handles the download_file tool
func (s *Server) handleDownload(ctx context.Context, req *mcp.CallToolRequest, input FileInput) (*mcp.CallToolResult, DownloadOutput, error) {
	output := DownloadOutput{}

	if input.Path == "" {
		return nil, output, fmt.Errorf("path is required")
	}

	rc, f, err := s.svc.Get(ctx, input.Path)
	if err != nil {
		res, _ := s.failure("download_file", err)
		return res, output, nil
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rc); err != nil {
		res, _ := s.failure("download_file", fmt.Errorf("failed to read %s: %w", f.Path, err))
		return res, output, nil
	}
	output.File = fileEntry(f)
	output.FileContent = base64.StdEncoding.EncodeToString(buf.Bytes())
	return textResult("Downloaded %s (%d bytes)", f.Path, buf.Len()), output, nil
}

// handleAutocompleteBucket handles the autocomplete_bucket tool
func (s *Server) handleAutocompleteBucket(ctx context.Context, req *mcp.CallToolRequest, input AutocompleteBucketInput) (*mcp.CallToolResult, AutocompleteOutput, error) {
	output := AutocompleteOutput{Candidates: []repository.Candidate{}}

	cands, err := s.svc.AutocompleteBuckets(ctx, input.Partial)
	if err != nil {
		// Suggestions degrade to an empty list.
		s.logger.Warn("autocomplete failed", "tool", "autocomplete_bucket", "error", err)
		return textResult("No suggestions"), output, nil
	}
	output.Candidates = append(output.Candidates, cands...)
	return candidateResult(cands), output, nil
}

// handleAutocompleteFile handles the autocomplete_file tool
func (s *Server) handleAutocompleteFile(ctx context.Context, req *mcp.CallToolRequest, input AutocompleteFileInput) (*mcp.CallToolResult, AutocompleteOutput, error) {
	output := AutocompleteOutput{Candidates: []repository.Candidate{}}

	cands, err := s.svc.AutocompleteFiles(ctx, input.Bucket, input.Partial)
	if err != nil {
		s.logger.Warn("autocomplete failed", "tool", "autocomplete_file", "error", err)
		return textResult("No suggestions"), output, nil
	}
	output.Candidates = append(output.Candidates, cands...)
	return candidateResult(cands), output, nil
}

func candidateResult(cands []repository.Candidate) *mcp.CallToolResult {
	if len(cands) == 0 {
		return textResult("No suggestions")
	}
	var sb strings.Builder
	for _, c := range cands {
		fmt.Fprintf(&sb, "%s\n", c.Label)
	}
	return textResult("%s", sb.String())
}

// handleRetag handles the retag tool
func (s *Server) handleRetag(ctx context.Context, req *mcp.CallToolRequest, input RetagInput) (*mcp.CallToolResult, FileInfoOutput, error) {
	output := FileInfoOutput{}

	if input.Path == "" {
		return nil, output, fmt.Errorf("path is required")
	}

	f, err := s.svc.Retag(ctx, actor(input.ActorID, input.Roles), input.Path, input.Tags)
	if err != nil {
		res, _ := s.failure("retag", err)
		return res, output, nil
	}
	output.File = fileEntry(f)
	return textResult("Retagged as %s (tags: %s)", f.Path, f.Tags), output, nil
}

// handleDelete handles the delete_file tool
func (s *Server) handleDelete(ctx context.Context, req *mcp.CallToolRequest, input DeleteInput) (*mcp.CallToolResult, DeletionOutput, error) {
	output := DeletionOutput{}

	if input.ActorID == "" {
		return nil, output, fmt.Errorf("actor_id is required")
	}
	if input.Path == "" {
		return nil, output, fmt.Errorf("path is required")
	}

	p, err := s.svc.BeginDelete(ctx, actor(input.ActorID, input.Roles), input.Path)
	if err != nil {
		res, msg := s.failure("delete_file", err)
		output.Error = msg
		return res, output, nil
	}
	output = deletionOutput(p)
	return textResult("Delete %s? Call confirm_delete or cancel_delete with request_id %s within %s.",
		p.DisplayName, p.ID, s.svc.Deletions().Timeout()), output, nil
}

// handleConfirmDelete handles the confirm_delete tool
func (s *Server) handleConfirmDelete(ctx context.Context, req *mcp.CallToolRequest, input DeletionAnswerInput) (*mcp.CallToolResult, DeletionOutput, error) {
	output := DeletionOutput{RequestID: input.RequestID}

	if input.RequestID == "" {
		return nil, output, fmt.Errorf("request_id is required")
	}

	p, err := s.svc.ConfirmDelete(ctx, actor(input.ActorID, input.Roles), input.RequestID)
	if err != nil {
		res, msg := s.failure("confirm_delete", err)
		output.Error = msg
		return res, output, nil
	}
	output = deletionOutput(p)
	return textResult("Deleted %s", p.DisplayName), output, nil
}

// handleCancelDelete handles the cancel_delete tool
func (s *Server) handleCancelDelete(ctx context.Context, req *mcp.CallToolRequest, input DeletionAnswerInput) (*mcp.CallToolResult, DeletionOutput, error) {
	output := DeletionOutput{RequestID: input.RequestID}

	if input.RequestID == "" {
		return nil, output, fmt.Errorf("request_id is required")
	}

	p, err := s.svc.CancelDelete(actor(input.ActorID, input.Roles), input.RequestID)
	if err != nil {
		res, msg := s.failure("cancel_delete", err)
		output.Error = msg
		return res, output, nil
	}
	output = deletionOutput(p)
	return textResult("Deletion of %s cancelled", p.DisplayName), output, nil
}

// handleSetModel handles the set_model tool
func (s *Server) handleSetModel(ctx context.Context, req *mcp.CallToolRequest, input SetModelInput) (*mcp.CallToolResult, ModelOutput, error) {
	output := ModelOutput{Model: s.svc.CurrentModel()}

	if input.Model == "" {
		return nil, output, fmt.Errorf("model is required")
	}

	id, err := s.svc.SetModel(ctx, actor(input.ActorID, input.Roles), input.Model)
	if err != nil {
		res, _ := s.failure("set_model", err)
		return res, output, nil
	}
	output.Model = id
	return textResult("Tagging model set to %s", id), output, nil
}

// handleCurrentModel handles the current_model tool
func (s *Server) handleCurrentModel(ctx context.Context, req *mcp.CallToolRequest, input EmptyInput) (*mcp.CallToolResult, ModelOutput, error) {
	output := ModelOutput{Model: s.svc.CurrentModel()}
	if !s.svc.TaggingEnabled() {
		return textResult("Tagging model: %s (tagging disabled, no API key)", output.Model), output, nil
	}
	return textResult("Tagging model: %s", output.Model), output, nil
}

// handleListModels handles the list_models tool
func (s *Server) handleListModels(ctx context.Context, req *mcp.CallToolRequest, input ListModelsInput) (*mcp.CallToolResult, ListModelsOutput, error) {
	output := ListModelsOutput{Models: []ModelInfo{}}

	models, err := s.svc.ListModels(ctx)
	if err != nil {
		res, _ := s.failure("list_models", err)
		return res, output, nil
	}

	var sb strings.Builder
	for _, m := range models {
		output.Models = append(output.Models, ModelInfo{ID: m.ID(), DisplayName: m.DisplayName})
		fmt.Fprintf(&sb, "%s\t%s\n", m.ID(), m.DisplayName)
	}
	output.Total = len(output.Models)
	if output.Total == 0 {
		return textResult("No models available"), output, nil
	}
	return textResult("%s", sb.String()), output, nil
}

// handleSetConfig handles the set_config tool
func (s *Server) handleSetConfig(ctx context.Context, req *mcp.CallToolRequest, input SetConfigInput) (*mcp.CallToolResult, ConfigOutput, error) {
	output := ConfigOutput{}

	if input.Key == "" {
		return nil, output, fmt.Errorf("key is required")
	}

	change, err := s.svc.SetConfig(actor(input.ActorID, input.Roles), input.Key, input.Value)
	if err != nil {
		res, _ := s.failure("set_config", err)
		return res, output, nil
	}
	output.Config = change.Config
	output.Backend = change.Backend
	if change.BackendWarn != nil {
		s.logger.Warn("backend re-initialization failed", "error", change.BackendWarn)
		output.Warning = "saved, but the storage backend could not be re-initialized; the previous backend stays active"
		return textResult("Saved %s. Warning: %s", input.Key, output.Warning), output, nil
	}
	return textResult("Saved %s (active backend: %s)", input.Key, output.Backend), output, nil
}

// handleShowConfig handles the show_config tool
func (s *Server) handleShowConfig(ctx context.Context, req *mcp.CallToolRequest, input EmptyInput) (*mcp.CallToolResult, ConfigOutput, error) {
	output := ConfigOutput{Config: s.svc.Config()}
	if b := s.svc.Backend(); b != nil {
		output.Backend = string(b.Kind())
	}
	return textResult("Active backend: %s\nLocal root: %s\nRemote root folder: %s\nTagging model: %s",
		output.Backend, output.Config.LocalRoot, output.Config.RemoteRootFolderID, output.Config.TaggingModelID), output, nil
}
