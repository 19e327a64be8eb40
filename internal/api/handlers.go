// ABOUTME: HTTP handlers for the cvdmirror daemon API
// ABOUTME: Provides health, per-database status, manual update triggers, and metrics

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/dbupdater"
	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/observability"
	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/types"
)

// StatusProvider reports per-database and per-cycle state.
type StatusProvider interface {
	All() []dbupdater.DatabaseStatus
	Get(name string) *dbupdater.DatabaseStatus
	LastCycle() *dbupdater.CycleResult
}

// Scheduler queues cycles and reports its schedule.
type Scheduler interface {
	Trigger(only ...string) bool
	IsRunning() bool
	NextScheduled() time.Time
}

// Catalog loads the persisted list of tracked databases. Databases can be
// added or removed by the CLI while the daemon runs, so names are checked
// against it rather than against the status of past cycles.
type Catalog interface {
	Load(ctx context.Context) (*types.Metadata, error)
}

// CycleLockReporter reports whether a cycle is in progress.
type CycleLockReporter interface {
	Status() dbupdater.CycleLockStatus
}

// Handler provides HTTP handlers for the API.
type Handler struct {
	status    StatusProvider
	catalog   Catalog
	scheduler Scheduler
	lock      CycleLockReporter
	metrics   http.Handler
	audit     *observability.AuditLogger
	logger    *slog.Logger
}

// HandlerConfig holds configuration for API handlers.
type HandlerConfig struct {
	Status    StatusProvider
	Catalog   Catalog
	Scheduler Scheduler
	Lock      CycleLockReporter

	// Metrics serves /metrics when set.
	Metrics http.Handler

	Audit  *observability.AuditLogger
	Logger *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{
		status:    cfg.Status,
		catalog:   cfg.Catalog,
		scheduler: cfg.Scheduler,
		lock:      cfg.Lock,
		metrics:   cfg.Metrics,
		audit:     cfg.Audit,
		logger:    cfg.Logger,
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/health", h.HandleHealth)
	mux.HandleFunc("GET /api/v1/status", h.HandleStatus)
	mux.HandleFunc("GET /api/v1/databases/{name}", h.HandleGetDatabase)
	mux.HandleFunc("POST /api/v1/update", h.HandleTriggerUpdate)

	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics)
	}
}

type cycleState struct {
	Running bool      `json:"running"`
	Since   time.Time `json:"since,omitzero"`
	Waiters int       `json:"waiters"`
}

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	Databases     []dbupdater.DatabaseStatus `json:"databases"`
	LastCycle     *dbupdater.CycleResult     `json:"last_cycle,omitempty"`
	NextScheduled time.Time                  `json:"next_scheduled,omitzero"`
	Cycle         *cycleState                `json:"cycle,omitempty"`
}

// HandleHealth handles health check requests.
// GET /api/v1/health
// Reports "degraded" when the last cycle ended with errors.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	checks := make(map[string]any)

	if h.scheduler != nil {
		if h.scheduler.IsRunning() {
			checks["scheduler"] = "ok"
		} else {
			status = "degraded"
			checks["scheduler"] = "stopped"
		}
	}

	if h.status != nil {
		if last := h.status.LastCycle(); last != nil {
			checks["last_cycle"] = last.String()
			if last.HasErrors() {
				status = "degraded"
			}
		} else {
			checks["last_cycle"] = "none"
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"checks":    checks,
	})
}

// HandleStatus reports every tracked database and the last cycle.
// GET /api/v1/status
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if h.status == nil {
		writeError(w, http.StatusServiceUnavailable, "status tracking is not enabled")
		return
	}

	resp := StatusResponse{
		Databases: h.status.All(),
		LastCycle: h.status.LastCycle(),
	}
	if h.scheduler != nil {
		resp.NextScheduled = h.scheduler.NextScheduled()
	}
	if h.lock != nil {
		s := h.lock.Status()
		resp.Cycle = &cycleState{Running: s.Running, Since: s.Since, Waiters: s.Waiters}
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleGetDatabase reports one database.
// GET /api/v1/databases/{name}
func (h *Handler) HandleGetDatabase(w http.ResponseWriter, r *http.Request) {
	if h.status == nil {
		writeError(w, http.StatusServiceUnavailable, "status tracking is not enabled")
		return
	}

	name := r.PathValue("name")
	if h.catalog == nil {
		s := h.status.Get(name)
		if s == nil {
			writeError(w, http.StatusNotFound, "unknown database: "+name)
			return
		}
		writeJSON(w, http.StatusOK, s)
		return
	}

	m, err := h.catalog.Load(r.Context())
	if err != nil {
		h.logger.Error("failed to load metadata", slog.String("error", err.Error()))
		writeError(w, http.StatusServiceUnavailable, "metadata unavailable")
		return
	}
	rec := m.Lookup(name)
	if rec == nil {
		writeError(w, http.StatusNotFound, "unknown database: "+name)
		return
	}
	if s := h.status.Get(name); s != nil {
		writeJSON(w, http.StatusOK, s)
		return
	}
	writeJSON(w, http.StatusOK, dbupdater.PendingStatus(rec))
}

// unknownDatabase returns the first name that is not tracked, or "".
func (h *Handler) unknownDatabase(ctx context.Context, names []string) (string, error) {
	if len(names) == 0 {
		return "", nil
	}
	if h.catalog == nil {
		if h.status == nil {
			return "", nil
		}
		for _, name := range names {
			if h.status.Get(name) == nil {
				return name, nil
			}
		}
		return "", nil
	}

	m, err := h.catalog.Load(ctx)
	if err != nil {
		return "", err
	}
	for _, name := range names {
		if m.Lookup(name) == nil {
			return name, nil
		}
	}
	return "", nil
}

// TriggerRequest is the optional body of POST /api/v1/update.
type TriggerRequest struct {
	Databases []string `json:"databases"`
}

// HandleTriggerUpdate queues an update cycle.
// POST /api/v1/update
// Returns 202 Accepted, or 409 Conflict when a triggered cycle is already queued.
func (h *Handler) HandleTriggerUpdate(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler is not running")
		return
	}

	var req TriggerRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if db := r.URL.Query().Get("db"); db != "" {
		req.Databases = append(req.Databases, db)
	}

	unknown, err := h.unknownDatabase(r.Context(), req.Databases)
	if err != nil {
		h.logger.Error("failed to load metadata", slog.String("error", err.Error()))
		writeError(w, http.StatusServiceUnavailable, "metadata unavailable")
		return
	}
	if unknown != "" {
		writeError(w, http.StatusNotFound, "unknown database: "+unknown)
		return
	}

	accepted := h.scheduler.Trigger(req.Databases...)
	h.audit.LogUpdateTriggered(r.Context(), "api", accepted)

	if !accepted {
		writeError(w, http.StatusConflict, "an update is already queued")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":    "accepted",
		"databases": req.Databases,
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// LoggingMiddleware logs each request except health checks.
func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)

			if strings.HasSuffix(r.URL.Path, "/health") {
				return
			}
			logger.InfoContext(r.Context(), "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}
