// ABOUTME: Tests for the daemon HTTP API
// ABOUTME: Health, status, database lookup, triggers, and metrics routes

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/dbupdater"
	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/observability"
	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/state"
	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/types"
)

type fakeScheduler struct {
	mu      sync.Mutex
	accept  bool
	running bool
	next    time.Time
	calls   [][]string
}

func (f *fakeScheduler) Trigger(only ...string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, only)
	return f.accept
}

func (f *fakeScheduler) IsRunning() bool          { return f.running }
func (f *fakeScheduler) NextScheduled() time.Time { return f.next }

func newTracker(t *testing.T, cycle *dbupdater.CycleResult) *dbupdater.StatusTracker {
	t.Helper()

	tr := dbupdater.NewStatusTracker()
	tr.Sync(types.DefaultDatabases())
	if cycle != nil {
		tr.RecordCycle(cycle)
	}
	return tr
}

func serve(t *testing.T, h *Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHandler_HandleHealth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cycle   *dbupdater.CycleResult
		running bool
		want    string
	}{
		{name: "no cycle yet", running: true, want: "ok"},
		{name: "clean cycle", cycle: &dbupdater.CycleResult{Updated: 1}, running: true, want: "ok"},
		{name: "cycle with errors", cycle: &dbupdater.CycleResult{Errors: 2}, running: true, want: "degraded"},
		{name: "scheduler stopped", running: false, want: "degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := NewHandler(HandlerConfig{
				Status:    newTracker(t, tt.cycle),
				Scheduler: &fakeScheduler{running: tt.running},
				Logger:    observability.NopLogger(),
			})
			rec := serve(t, h, http.MethodGet, "/api/v1/health", nil)

			if rec.Code != http.StatusOK {
				t.Errorf("Status = %d, want %d", rec.Code, http.StatusOK)
			}
			var response map[string]any
			if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
				t.Fatalf("Decoding response: %v", err)
			}
			if response["status"] != tt.want {
				t.Errorf("status = %q, want %q", response["status"], tt.want)
			}
		})
	}
}

func TestHandler_HandleStatus(t *testing.T) {
	t.Parallel()

	next := time.Date(2026, 3, 1, 16, 0, 0, 0, time.UTC)
	lock := dbupdater.NewCycleLock()
	h := NewHandler(HandlerConfig{
		Status:    newTracker(t, &dbupdater.CycleResult{ID: "c1", NoUpdate: 3}),
		Scheduler: &fakeScheduler{running: true, next: next},
		Lock:      lock,
		Logger:    observability.NopLogger(),
	})

	rec := serve(t, h, http.MethodGet, "/api/v1/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d", rec.Code)
	}

	var resp StatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Decoding response: %v", err)
	}
	if len(resp.Databases) != 3 || resp.Databases[0].Name != "bytecode.cvd" {
		t.Errorf("Databases = %+v", resp.Databases)
	}
	if resp.LastCycle == nil || resp.LastCycle.ID != "c1" {
		t.Errorf("LastCycle = %+v", resp.LastCycle)
	}
	if !resp.NextScheduled.Equal(next) {
		t.Errorf("NextScheduled = %v, want %v", resp.NextScheduled, next)
	}
	if resp.Cycle == nil || resp.Cycle.Running {
		t.Errorf("Cycle = %+v", resp.Cycle)
	}
}

func TestHandler_HandleGetDatabase(t *testing.T) {
	t.Parallel()

	h := NewHandler(HandlerConfig{Status: newTracker(t, nil), Logger: observability.NopLogger()})

	rec := serve(t, h, http.MethodGet, "/api/v1/databases/daily.cvd", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d", rec.Code)
	}
	var s dbupdater.DatabaseStatus
	if err := json.NewDecoder(rec.Body).Decode(&s); err != nil {
		t.Fatalf("Decoding response: %v", err)
	}
	if s.Name != "daily.cvd" || s.Phase != dbupdater.PhasePending {
		t.Errorf("status = %+v", s)
	}

	rec = serve(t, h, http.MethodGet, "/api/v1/databases/nope.cvd", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown database Status = %d, want 404", rec.Code)
	}
}

func TestHandler_HandleTriggerUpdate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		target    string
		body      string
		accept    bool
		wantCode  int
		wantCalls int
		wantDBs   []string
	}{
		{name: "all databases", target: "/api/v1/update", accept: true, wantCode: http.StatusAccepted, wantCalls: 1},
		{name: "body selects database", target: "/api/v1/update", body: `{"databases":["daily.cvd"]}`, accept: true, wantCode: http.StatusAccepted, wantCalls: 1, wantDBs: []string{"daily.cvd"}},
		{name: "query selects database", target: "/api/v1/update?db=main.cvd", accept: true, wantCode: http.StatusAccepted, wantCalls: 1, wantDBs: []string{"main.cvd"}},
		{name: "already queued", target: "/api/v1/update", accept: false, wantCode: http.StatusConflict, wantCalls: 1},
		{name: "unknown database", target: "/api/v1/update?db=nope.cvd", accept: true, wantCode: http.StatusNotFound},
		{name: "bad body", target: "/api/v1/update", body: "{", accept: true, wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var audit bytes.Buffer
			sched := &fakeScheduler{accept: tt.accept, running: true}
			h := NewHandler(HandlerConfig{
				Status:    newTracker(t, nil),
				Scheduler: sched,
				Audit:     observability.NewAuditLogger(observability.NewLogger(observability.LoggingConfig{Format: "json"}, &audit)),
				Logger:    observability.NopLogger(),
			})

			rec := serve(t, h, http.MethodPost, tt.target, []byte(tt.body))
			if rec.Code != tt.wantCode {
				t.Errorf("Status = %d, want %d (body %s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if len(sched.calls) != tt.wantCalls {
				t.Fatalf("Trigger() calls = %d, want %d", len(sched.calls), tt.wantCalls)
			}
			if tt.wantCalls > 0 {
				if strings.Join(sched.calls[0], ",") != strings.Join(tt.wantDBs, ",") {
					t.Errorf("Trigger() databases = %v, want %v", sched.calls[0], tt.wantDBs)
				}
				if audit.Len() == 0 {
					t.Error("trigger not audited")
				}
			}
		})
	}
}

func TestHandler_TracksRegistryChangesBetweenCycles(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	base := t.TempDir()
	store := state.NewFileStore(filepath.Join(base, "state.yaml"), base)
	m, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := os.MkdirAll(m.Settings.DatabaseDir, 0o755); err != nil {
		t.Fatal(err)
	}

	// The daemon seeded its tracker at startup; the CLI then edits metadata.
	tracker := dbupdater.NewStatusTracker()
	tracker.Sync(m.Databases)

	reg := dbupdater.NewRegistry(store, dbupdater.RegistryConfig{Logger: observability.NopLogger()})
	if _, err := reg.Add(ctx, "extra.cvd", "https://mirror.example/extra.cvd"); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if _, err := reg.Remove(ctx, "main.cvd"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	sched := &fakeScheduler{accept: true, running: true}
	h := NewHandler(HandlerConfig{
		Status:    tracker,
		Catalog:   store,
		Scheduler: sched,
		Logger:    observability.NopLogger(),
	})

	rec := serve(t, h, http.MethodPost, "/api/v1/update?db=extra.cvd", nil)
	if rec.Code != http.StatusAccepted {
		t.Errorf("trigger added database Status = %d, want 202 (body %s)", rec.Code, rec.Body.String())
	}

	rec = serve(t, h, http.MethodGet, "/api/v1/databases/extra.cvd", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get added database Status = %d, want 200", rec.Code)
	}
	var s dbupdater.DatabaseStatus
	if err := json.NewDecoder(rec.Body).Decode(&s); err != nil {
		t.Fatalf("Decoding response: %v", err)
	}
	if s.Name != "extra.cvd" || s.Phase != dbupdater.PhasePending {
		t.Errorf("status = %+v", s)
	}

	if rec := serve(t, h, http.MethodGet, "/api/v1/databases/main.cvd", nil); rec.Code != http.StatusNotFound {
		t.Errorf("get removed database Status = %d, want 404", rec.Code)
	}
	if rec := serve(t, h, http.MethodPost, "/api/v1/update?db=main.cvd", nil); rec.Code != http.StatusNotFound {
		t.Errorf("trigger removed database Status = %d, want 404", rec.Code)
	}
	if len(sched.calls) != 1 {
		t.Errorf("Trigger() calls = %d, want 1", len(sched.calls))
	}
}

func TestHandler_NoSchedulerOrStatus(t *testing.T) {
	t.Parallel()

	h := NewHandler(HandlerConfig{Logger: observability.NopLogger()})

	for _, tc := range []struct{ method, target string }{
		{http.MethodPost, "/api/v1/update"},
		{http.MethodGet, "/api/v1/status"},
		{http.MethodGet, "/api/v1/databases/daily.cvd"},
	} {
		if rec := serve(t, h, tc.method, tc.target, nil); rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s %s Status = %d, want 503", tc.method, tc.target, rec.Code)
		}
	}
	if rec := serve(t, h, http.MethodGet, "/metrics", nil); rec.Code != http.StatusNotFound {
		t.Errorf("/metrics without registry Status = %d, want 404", rec.Code)
	}
}

func TestServer_MetricsAndCorrelation(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics := observability.NewUpdateMetrics(reg)
	metrics.SetLocalVersion("daily.cvd", 27500)

	h := NewHandler(HandlerConfig{
		Status:  newTracker(t, nil),
		Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Logger:  observability.NopLogger(),
	})
	srv := httptest.NewServer(NewServer(":0", h, observability.NopLogger()).Handler)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	defer resp.Body.Close()

	var body bytes.Buffer
	_, _ = body.ReadFrom(resp.Body)
	if !strings.Contains(body.String(), `database="daily.cvd"`) {
		t.Errorf("metrics missing local version gauge:\n%s", body.String())
	}
	if resp.Header.Get(observability.CorrelationIDHeader) == "" {
		t.Error("correlation ID header not set")
	}
}
