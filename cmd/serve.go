package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	mcpserver "github.com/takeshy/tagstash/internal/mcp"
)

var (
	serveTransport string
	servePort      int
	serveAPIKey    string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start MCP server for AI assistant integration",
	Long: `Start a Model Context Protocol (MCP) server that exposes tagstash
to chat front-ends and AI assistants. Every tool takes the id and roles
of the user it acts for.

Transport options:
  stdio: Standard input/output (default, for local CLI integration)
  sse:   Server-Sent Events over HTTP (for remote connections, requires API key)
  http:  Streamable HTTP (for bidirectional HTTP communication, requires API key)

HTTP transports also serve Prometheus metrics at /metrics.

Examples:
  # Start stdio server
  tagstash serve

  # Start HTTP/SSE server on port 8080 (API key required)
  tagstash serve --transport sse --port 8080 --serve-api-key mysecretkey

  # Or use environment variable for API key
  export TAGSTASH_SERVE_API_KEY=mysecretkey
  tagstash serve --transport http --port 8080

Claude Desktop Configuration (~/.config/claude/claude_desktop_config.json):
  {
    "mcpServers": {
      "tagstash": {
        "command": "/path/to/tagstash",
        "args": ["serve"],
        "env": {
          "GEMINI_API_KEY": "your-gemini-api-key"
        }
      }
    }
  }`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveTransport, "transport", "stdio", "Transport type: stdio, sse, or http")
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "Port for HTTP/SSE server")
	serveCmd.Flags().StringVar(&serveAPIKey, "serve-api-key", "", "API key for HTTP authentication (or TAGSTASH_SERVE_API_KEY env var)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	svc, logger, err := openService(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	// Create MCP server
	server := mcpserver.NewServer(svc, Version, logger)

	switch serveTransport {
	case "stdio":
		fmt.Fprintln(os.Stderr, "Starting MCP server on stdio...")
		return server.RunStdio(ctx)

	case "sse":
		return runHTTPServerWithShutdown(ctx, server.NewHTTPHandler(), "SSE")

	case "http":
		return runHTTPServerWithShutdown(ctx, server.NewStreamableHTTPHandler(), "HTTP")

	default:
		return fmt.Errorf("unknown transport: %s (must be stdio, sse, or http)", serveTransport)
	}
}

func runHTTPServerWithShutdown(ctx context.Context, handler http.Handler, transportName string) error {
	// Get serve API key
	httpAPIKey := serveAPIKey
	if httpAPIKey == "" {
		httpAPIKey = os.Getenv("TAGSTASH_SERVE_API_KEY")
	}

	// Require API key for HTTP server
	if httpAPIKey == "" {
		return fmt.Errorf("API key required for HTTP server. Use --serve-api-key or set TAGSTASH_SERVE_API_KEY environment variable")
	}

	addr := fmt.Sprintf(":%d", servePort)
	server := &http.Server{
		Addr:              addr,
		Handler:           mcpserver.NewMux(handler, httpAPIKey, prometheus.DefaultGatherer),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown on signal
	go func() {
		<-ctx.Done()
		fmt.Fprintln(os.Stderr, "\nShutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	fmt.Fprintf(os.Stderr, "Starting MCP %s server on http://localhost%s (API key authentication enabled)\n", transportName, addr)

	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
