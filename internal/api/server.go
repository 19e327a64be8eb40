// ABOUTME: HTTP server assembly for the daemon API
// ABOUTME: Wraps routes with tracing, correlation IDs, and request logging

package api

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/observability"
)

// NewServer returns an http.Server serving h on addr.
func NewServer(addr string, h *Handler, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	var handler http.Handler = LoggingMiddleware(logger)(mux)
	handler = observability.CorrelationMiddleware(handler)
	handler = otelhttp.NewHandler(handler, "cvdmirror.api")

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
