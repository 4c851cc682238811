package mcp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/takeshy/tagstash/internal/app"
	"github.com/takeshy/tagstash/internal/config"
	"github.com/takeshy/tagstash/internal/metrics"
)

var today = time.Date(2024, 6, 15, 9, 0, 0, 0, time.UTC)

var pngBytes = func() []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		panic(err)
	}
	return buf.Bytes()
}()

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	root := filepath.Join(dir, "files")
	cfg := config.Defaults()
	cfg.LocalRoot = root
	cfg.StagingDir = t.TempDir()
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, data, 0644))

	store, err := config.NewStore(path, nil)
	require.NoError(t, err)
	_, err = store.Load()
	require.NoError(t, err)

	svc, err := app.New(context.Background(), app.Options{
		Store: store,
		Now:   func() time.Time { return today },
	})
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return NewServer(svc, "test", nil), root
}

func textOf(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func upload(t *testing.T, s *Server, name string, roles ...string) UploadOutput {
	t.Helper()
	_, out, err := s.handleUpload(context.Background(), nil, UploadInput{
		ActorID:     "alice",
		Roles:       roles,
		FileName:    name,
		FileContent: base64.StdEncoding.EncodeToString(pngBytes),
	})
	require.NoError(t, err)
	return out
}

func TestUploadAndQuery(t *testing.T) {
	s, root := newTestServer(t)
	ctx := context.Background()

	out := upload(t, s, "Beach Sunset.png")
	require.True(t, out.Success, out.Error)
	assert.Equal(t, "202406/20240615_notags_Beach_Sunset.png", out.Path)
	assert.Equal(t, "no tags", out.Tags)
	assert.FileExists(t, filepath.Join(root, "202406", "20240615_notags_Beach_Sunset.png"))

	_, list, err := s.handleList(ctx, nil, ListInput{})
	require.NoError(t, err)
	require.Equal(t, 1, list.Total)
	assert.Equal(t, "Beach_Sunset", list.Files[0].Stem)
	assert.Equal(t, "🖼️", list.Files[0].Icon)

	_, found, err := s.handleSearch(ctx, nil, SearchInput{Keyword: "sunset"})
	require.NoError(t, err)
	assert.Equal(t, 1, found.Total)

	res, _, err := s.handleSearch(ctx, nil, SearchInput{Keyword: "s"})
	require.NoError(t, err)
	assert.True(t, res.IsError)

	_, info, err := s.handleInfo(ctx, nil, FileInput{Path: out.Path})
	require.NoError(t, err)
	assert.Equal(t, "20240615", info.File.Date)

	_, dl, err := s.handleDownload(ctx, nil, FileInput{Path: out.Path})
	require.NoError(t, err)
	content, err := base64.StdEncoding.DecodeString(dl.FileContent)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, content)
}

func TestUploadRejected(t *testing.T) {
	s, _ := newTestServer(t)

	out := upload(t, s, "setup.exe")
	assert.False(t, out.Success)
	assert.Contains(t, out.Error, "unsupported file type")

	_, _, err := s.handleUpload(context.Background(), nil, UploadInput{ActorID: "alice", FileName: "a.png", FileContent: "%%%"})
	assert.Error(t, err)

	_, _, err = s.handleUpload(context.Background(), nil, UploadInput{FileName: "a.png", FileContent: "AA=="})
	assert.Error(t, err)
}

func TestUploadSizeLimit(t *testing.T) {
	s, _ := newTestServer(t)
	_, out, err := s.handleUpload(context.Background(), nil, UploadInput{
		ActorID:     "alice",
		FileName:    "big.png",
		FileContent: base64.StdEncoding.EncodeToString(pngBytes),
		MaxBytes:    10,
	})
	require.NoError(t, err)
	assert.False(t, out.Success)
}

func TestAutocomplete(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()
	upload(t, s, "cat.png")

	_, buckets, err := s.handleAutocompleteBucket(ctx, nil, AutocompleteBucketInput{Partial: "2024"})
	require.NoError(t, err)
	require.Len(t, buckets.Candidates, 1)
	assert.Equal(t, "202406", buckets.Candidates[0].Value)

	_, files, err := s.handleAutocompleteFile(ctx, nil, AutocompleteFileInput{Bucket: "202406", Partial: "cat"})
	require.NoError(t, err)
	require.Len(t, files.Candidates, 1)
	assert.Equal(t, "202406/20240615_notags_cat.png", files.Candidates[0].Value)

	_, none, err := s.handleAutocompleteFile(ctx, nil, AutocompleteFileInput{Partial: "dog"})
	require.NoError(t, err)
	assert.Empty(t, none.Candidates)
}

func TestRetagRequiresAdmin(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()
	out := upload(t, s, "cat.png")

	res, _, err := s.handleRetag(ctx, nil, RetagInput{ActorID: "bob", Path: out.Path, Tags: "Pets"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, app.ErrPermission.Error(), textOf(t, res))

	_, retagged, err := s.handleRetag(ctx, nil, RetagInput{ActorID: "alice", Roles: []string{"admin"}, Path: out.Path, Tags: "Pets, Cute"})
	require.NoError(t, err)
	assert.Equal(t, "202406/20240615_Pets-Cute_cat.png", retagged.File.Path)
}

func TestDeleteWorkflow(t *testing.T) {
	s, root := newTestServer(t)
	ctx := context.Background()
	out := upload(t, s, "cat.png")
	admin := []string{"admin"}

	_, begun, err := s.handleDelete(ctx, nil, DeleteInput{ActorID: "alice", Roles: admin, Path: out.Path})
	require.NoError(t, err)
	require.NotEmpty(t, begun.RequestID)
	assert.Equal(t, "awaiting", begun.State)

	// another user cannot answer
	res, other, err := s.handleConfirmDelete(ctx, nil, DeletionAnswerInput{ActorID: "mallory", Roles: admin, RequestID: begun.RequestID})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.NotEmpty(t, other.Error)
	assert.FileExists(t, filepath.Join(root, "202406", "20240615_notags_cat.png"))

	_, done, err := s.handleConfirmDelete(ctx, nil, DeletionAnswerInput{ActorID: "alice", RequestID: begun.RequestID})
	require.NoError(t, err)
	assert.Equal(t, "confirmed", done.State)
	assert.NoFileExists(t, filepath.Join(root, "202406", "20240615_notags_cat.png"))

	res, _, err = s.handleCancelDelete(ctx, nil, DeletionAnswerInput{ActorID: "alice", RequestID: begun.RequestID})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestCancelDelete(t *testing.T) {
	s, root := newTestServer(t)
	ctx := context.Background()
	out := upload(t, s, "cat.png")

	_, begun, err := s.handleDelete(ctx, nil, DeleteInput{ActorID: "alice", Roles: []string{"admin"}, Path: out.Path})
	require.NoError(t, err)
	_, cancelled, err := s.handleCancelDelete(ctx, nil, DeletionAnswerInput{ActorID: "alice", RequestID: begun.RequestID})
	require.NoError(t, err)
	assert.Equal(t, "cancelled", cancelled.State)
	assert.FileExists(t, filepath.Join(root, "202406", "20240615_notags_cat.png"))
}

func TestConfigTools(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	_, shown, err := s.handleShowConfig(ctx, nil, EmptyInput{})
	require.NoError(t, err)
	assert.Equal(t, "local", shown.Backend)

	res, _, err := s.handleSetConfig(ctx, nil, SetConfigInput{ActorID: "bob", Key: "maxDownloadBytes", Value: "10"})
	require.NoError(t, err)
	assert.True(t, res.IsError)

	_, saved, err := s.handleSetConfig(ctx, nil, SetConfigInput{ActorID: "alice", Roles: []string{"admin"}, Key: "maxDownloadBytes", Value: "10"})
	require.NoError(t, err)
	assert.Equal(t, int64(10), saved.Config.MaxDownloadBytes)

	res, _, err = s.handleSetConfig(ctx, nil, SetConfigInput{ActorID: "alice", Roles: []string{"admin"}, Key: "bogus", Value: "1"})
	require.NoError(t, err)
	assert.True(t, res.IsError)

	_, model, err := s.handleCurrentModel(ctx, nil, EmptyInput{})
	require.NoError(t, err)
	assert.Equal(t, "gemini-1.5-flash-latest", model.Model)
}

func TestInMemorySession(t *testing.T) {
	s, _ := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ct, st := mcp.NewInMemoryTransports()
	ss, err := s.mcpServer.Connect(ctx, st, nil)
	require.NoError(t, err)
	defer ss.Close()

	client := mcp.NewClient(&mcp.Implementation{Name: "test", Version: "v0"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	require.NoError(t, err)
	defer cs.Close()

	tools, err := cs.ListTools(ctx, nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	for _, want := range []string{"upload", "list_files", "search_files", "file_info", "download_file",
		"autocomplete_bucket", "autocomplete_file", "retag", "delete_file", "confirm_delete",
		"cancel_delete", "set_model", "current_model", "list_models", "set_config", "show_config"} {
		assert.Contains(t, names, want)
	}

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name: "upload",
		Arguments: map[string]any{
			"actor_id":     "alice",
			"file_name":    "dog.png",
			"file_content": base64.StdEncoding.EncodeToString(pngBytes),
		},
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, textOf(t, res), "202406/20240615_notags_dog.png")
}

func TestAPIKeyMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := APIKeyMiddleware("secret", next)

	tests := []struct {
		name   string
		mutate func(r *http.Request)
		want   int
	}{
		{"header", func(r *http.Request) { r.Header.Set("X-API-Key", "secret") }, http.StatusOK},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer secret") }, http.StatusOK},
		{"query", func(r *http.Request) { r.URL.RawQuery = "api_key=secret" }, http.StatusOK},
		{"wrong", func(r *http.Request) { r.Header.Set("X-API-Key", "nope") }, http.StatusUnauthorized},
		{"missing", func(r *http.Request) {}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.mutate(req)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestMuxServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)
	m.IngestOutcome("persisted")

	mux := NewMux(http.NotFoundHandler(), "secret", reg)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/metrics", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "tagstash_ingest_attempts_total")
}
