package mcp

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// APIKeyMiddleware wraps an HTTP handler with API key authentication
func APIKeyMiddleware(apiKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Check header first
		providedKey := r.Header.Get("X-API-Key")
		if providedKey == "" {
			// Fall back to Authorization header with Bearer token
			if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
				providedKey = token
			}
		}
		if providedKey == "" {
			// Fall back to query parameter
			providedKey = r.URL.Query().Get("api_key")
		}

		if subtle.ConstantTimeCompare([]byte(providedKey), []byte(apiKey)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// NewMux mounts the MCP handler at / and Prometheus metrics at /metrics.
// When apiKey is set both routes require it. A nil gatherer serves the
// default registry.
func NewMux(handler http.Handler, apiKey string, gatherer prometheus.Gatherer) *http.ServeMux {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	var metrics http.Handler = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	if apiKey != "" {
		handler = APIKeyMiddleware(apiKey, handler)
		metrics = APIKeyMiddleware(apiKey, metrics)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics)
	mux.Handle("/", handler)
	return mux
}
