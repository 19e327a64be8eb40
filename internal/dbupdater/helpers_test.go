// ABOUTME: Shared fixtures for dbupdater tests
// ABOUTME: Fake distribution server, fake DNS, controllable clock, and CVD builders

package dbupdater

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/observability"
	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/resilience"
	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/state"
	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/transport"
	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/types"
)

// cvdBytes builds a database whose header carries version.
func cvdBytes(version int) []byte {
	return cvdWithHeader(fmt.Sprintf("ClamAV-VDB:01 Jan 2026 00-00 +0000:%d:4000000:90:sig:builder:1767225600", version))
}

func cvdWithHeader(header string) []byte {
	buf := bytes.Repeat([]byte(" "), 512)
	copy(buf, header)
	return append(buf, []byte("signature payload")...)
}

// testClock is a settable clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeUpstream imitates the distribution service.
type fakeUpstream struct {
	mu sync.Mutex

	// version is the current snapshot version of every .cvd.
	version int

	// header overrides the snapshot header when set.
	header string

	// patches lists the available cdiff versions.
	patches map[int]bool

	// rateLimited maps a path to the Retry-After value of a 429 answer.
	rateLimited map[string]string

	// notModified answers 304 to every conditional request.
	notModified bool

	requests  map[string]int
	snapshots []string
}

func newFakeUpstream(version int, patches ...int) *fakeUpstream {
	f := &fakeUpstream{
		version:     version,
		patches:     make(map[int]bool),
		rateLimited: make(map[string]string),
		requests:    make(map[string]int),
	}
	for _, v := range patches {
		f.patches[v] = true
	}
	return f
}

func (f *fakeUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p := r.URL.Path
	f.requests[p]++

	if retry, ok := f.rateLimited[p]; ok {
		if retry != "" {
			w.Header().Set("Retry-After", retry)
		}
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}
	if f.notModified && r.Header.Get("If-Modified-Since") != "" {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	switch {
	case strings.HasSuffix(p, types.PatchExt):
		v, err := types.PatchVersion(path.Base(p))
		if err != nil || !f.patches[v] {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, "cdiff %d", v)

	case strings.HasSuffix(p, types.VersionedExt):
		body := cvdBytes(f.version)
		if f.header != "" {
			body = cvdWithHeader(f.header)
		}
		if r.Header.Get("Range") != "" {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes 0-95/%d", len(body)))
			w.WriteHeader(http.StatusPartialContent)
			w.Write(body[:types.HeaderProbeSize])
			return
		}
		if q := r.URL.Query().Get("version"); q != "" {
			v, _ := strconv.Atoi(q)
			if f.header == "" {
				body = cvdBytes(v)
			}
		}
		f.snapshots = append(f.snapshots, r.URL.RequestURI())
		w.Write(body)

	default:
		fmt.Fprintf(w, "plain database %s", path.Base(p))
	}
}

func (f *fakeUpstream) set(fn func(f *fakeUpstream)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeUpstream) count(p string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[p]
}

func (f *fakeUpstream) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.requests {
		n += c
	}
	return n
}

func (f *fakeUpstream) snapshotRequests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.snapshots...)
}

// fakeDNS answers TXT queries from a fixed value.
type fakeDNS struct {
	mu     sync.Mutex
	answer string
	err    error
	calls  int
}

func (d *fakeDNS) LookupTXT(ctx context.Context, name string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	return []string{d.answer}, nil
}

func (d *fakeDNS) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// getterFunc adapts a function to Getter.
type getterFunc func(ctx context.Context, req transport.Request) (*transport.Response, error)

func (f getterFunc) Get(ctx context.Context, req transport.Request) (*transport.Response, error) {
	return f(ctx, req)
}

// recordingPublisher captures events and artifacts.
type recordingPublisher struct {
	mu     sync.Mutex
	events []DatabaseUpdatedEvent
	files  []string
	err    error
}

func (p *recordingPublisher) PublishDatabaseUpdated(ctx context.Context, event DatabaseUpdatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) PublishFile(ctx context.Context, name, path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.files = append(p.files, name)
	return p.err
}

// testMirror bundles a fake upstream with a real client, store, and orchestrator.
type testMirror struct {
	upstream *fakeUpstream
	server   *httptest.Server
	store    *state.FileStore
	dir      string
	clock    *testClock
	orch     *Orchestrator
}

type mirrorOption func(*Options)

func newTestMirror(t *testing.T, up *fakeUpstream, retention int, records func(base string) []*types.DatabaseRecord, opts ...mirrorOption) *testMirror {
	t.Helper()

	srv := httptest.NewServer(up)
	t.Cleanup(srv.Close)

	base := t.TempDir()
	store := state.NewFileStore(filepath.Join(base, "state.yaml"), base)

	m := types.NewMetadata(base)
	m.Settings.RotatePatches = retention >= 0
	m.Settings.PatchesToKeep = retention
	m.Databases = records(srv.URL)
	if err := store.Save(context.Background(), m); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	clock := newTestClock()
	client := transport.NewClient(transport.Config{
		MaxAttempts: 3,
		Backoff: resilience.BackoffConfig{
			InitialDelay: time.Millisecond,
			MaxDelay:     time.Millisecond,
		},
	}, observability.NopLogger())

	o := Options{
		Store:  store,
		HTTP:   client,
		Logger: observability.NopLogger(),
		Now:    clock.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &testMirror{
		upstream: up,
		server:   srv,
		store:    store,
		dir:      m.Settings.DatabaseDir,
		clock:    clock,
		orch:     NewOrchestrator(o),
	}
}

func (tm *testMirror) load(t *testing.T) *types.Metadata {
	t.Helper()
	m, err := tm.store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return m
}

func (tm *testMirror) record(t *testing.T, name string) *types.DatabaseRecord {
	t.Helper()
	rec := tm.load(t).Lookup(name)
	if rec == nil {
		t.Fatalf("record %s missing", name)
	}
	return rec
}

func dailyAt(local int) func(string) []*types.DatabaseRecord {
	return func(base string) []*types.DatabaseRecord {
		rec := types.NewDatabaseRecord("daily.cvd", base+"/daily.cvd")
		rec.LocalVersion = local
		return []*types.DatabaseRecord{rec}
	}
}

var errTestDNS = errors.New("dns unreachable")
