package mcp

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/takeshy/tagstash/internal/app"
)

// Server exposes the tagstash service as MCP tools.
type Server struct {
	mcpServer *mcp.Server
	svc       *app.Service
	logger    *slog.Logger
}

// NewServer creates a new MCP server for tagstash
func NewServer(svc *app.Service, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	// Create MCP server
	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    "tagstash",
		Version: version,
	}, nil)

	s := &Server{
		mcpServer: mcpServer,
		svc:       svc,
		logger:    logger.With("component", "mcp"),
	}

	// Register all tools
	s.registerTools()

	return s
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "upload",
		Description: "Store an image or video. The file is tagged automatically and saved under a name of the form YYYYMMDD_tags_name.ext in its YYYYMM bucket.",
	}, s.handleUpload)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_files",
		Description: "List stored files in one YYYYMM bucket, or in all buckets newest first. Optionally filter by a name keyword.",
	}, s.handleList)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "search_files",
		Description: "Search all buckets for files whose name, tags included, contains a keyword.",
	}, s.handleSearch)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "file_info",
		Description: "Show the date, tags, original name and size of a stored file.",
	}, s.handleInfo)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "download_file",
		Description: "Download a stored file as base64. Files above the configured download limit are refused.",
	}, s.handleDownload)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "autocomplete_bucket",
		Description: "Suggest up to 25 YYYYMM buckets matching partial input.",
	}, s.handleAutocompleteBucket)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "autocomplete_file",
		Description: "Suggest up to 25 files whose name contains the partial input; nothing is suggested for empty input. Each value is a bucket/name reference usable by the other tools.",
	}, s.handleAutocompleteFile)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "retag",
		Description: "Replace the tags of a stored file by renaming it. Admin only.",
	}, s.handleRetag)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "delete_file",
		Description: "Request deletion of a stored file. Admin only. The same user must call confirm_delete or cancel_delete within 30 seconds.",
	}, s.handleDelete)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "confirm_delete",
		Description: "Confirm a pending deletion request. Only the user who requested it can confirm.",
	}, s.handleConfirmDelete)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "cancel_delete",
		Description: "Cancel a pending deletion request. Only the user who requested it can cancel.",
	}, s.handleCancelDelete)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "set_model",
		Description: "Switch the Gemini model used for tagging. Admin only.",
	}, s.handleSetModel)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "current_model",
		Description: "Show the Gemini model used for tagging.",
	}, s.handleCurrentModel)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_models",
		Description: "List Gemini models that can be used for tagging.",
	}, s.handleListModels)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "set_config",
		Description: "Change one configuration key, for example activeBackend, localRoot or remoteRootFolderId. Admin only.",
	}, s.handleSetConfig)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "show_config",
		Description: "Show the current configuration and active storage backend.",
	}, s.handleShowConfig)
}

// RunStdio runs the server using stdio transport
func (s *Server) RunStdio(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcp.StdioTransport{})
}

// NewHTTPHandler creates an HTTP handler for SSE transport
func (s *Server) NewHTTPHandler() http.Handler {
	return mcp.NewSSEHandler(func(req *http.Request) *mcp.Server {
		return s.mcpServer
	}, nil)
}

// NewStreamableHTTPHandler creates a streamable HTTP handler
func (s *Server) NewStreamableHTTPHandler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(req *http.Request) *mcp.Server {
		return s.mcpServer
	}, nil)
}
