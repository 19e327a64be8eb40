// ABOUTME: Unit tests for the patch chain fetcher
// ABOUTME: Existing files, retention with rotation disabled, and transport failures

package dbupdater

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/observability"
	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/transport"
	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/types"
)

// patchGetter serves patches whose version is in available.
func patchGetter(available map[string]bool, calls *[]string) Getter {
	return getterFunc(func(ctx context.Context, req transport.Request) (*transport.Response, error) {
		name := req.URL[strings.LastIndexByte(req.URL, '/')+1:]
		*calls = append(*calls, name)
		if !available[name] {
			return &transport.Response{StatusCode: http.StatusNotFound}, nil
		}
		body := []byte("patch " + name)
		return &transport.Response{StatusCode: http.StatusOK, Body: body, ContentLength: int64(len(body))}, nil
	})
}

func TestPatchChainFetcher_ExistingFileTracked(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "daily-11.cdiff"), []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	var calls []string
	available := map[string]bool{"daily-11.cdiff": true, "daily-12.cdiff": true}
	f := NewPatchChainFetcher(patchGetter(available, &calls), FetcherConfig{
		DatabaseDir: dir,
		Retention:   -1,
		Logger:      observability.NopLogger(),
	})

	rec := types.NewDatabaseRecord("daily.cvd", "https://mirror.example/daily.cvd")
	rec.LocalVersion = 10

	applied, err := f.FetchChain(context.Background(), rec, 12)
	if err != nil {
		t.Fatalf("FetchChain() error = %v", err)
	}
	if applied != 1 {
		t.Errorf("applied = %d, want 1", applied)
	}
	if !slices.Equal(calls, []string{"daily-12.cdiff"}) {
		t.Errorf("requests = %v, want only daily-12.cdiff", calls)
	}
	if !slices.Equal(rec.Patches, []string{"daily-11.cdiff", "daily-12.cdiff"}) {
		t.Errorf("Patches = %v", rec.Patches)
	}
	if rec.LocalVersion != 10 {
		t.Errorf("LocalVersion = %d, chain must not change it", rec.LocalVersion)
	}

	got, _ := os.ReadFile(filepath.Join(dir, "daily-11.cdiff"))
	if string(got) != "old" {
		t.Errorf("existing patch overwritten: %q", got)
	}
}

func TestPatchChainFetcher_RotationDisabledKeepsAll(t *testing.T) {
	t.Parallel()

	var calls []string
	available := map[string]bool{}
	for _, v := range []string{"1", "2", "3", "4", "5"} {
		available["bytecode-"+v+".cdiff"] = true
	}
	f := NewPatchChainFetcher(patchGetter(available, &calls), FetcherConfig{
		DatabaseDir: t.TempDir(),
		Retention:   -1,
		Logger:      observability.NopLogger(),
	})

	rec := types.NewDatabaseRecord("bytecode.cvd", "https://mirror.example/bytecode.cvd")
	rec.Patches = []string{"bytecode-1.cdiff", "bytecode-2.cdiff"}
	rec.LocalVersion = 2

	if _, err := f.FetchChain(context.Background(), rec, 5); err != nil {
		t.Fatalf("FetchChain() error = %v", err)
	}
	if len(rec.Patches) != 5 {
		t.Errorf("Patches = %v, want all five", rec.Patches)
	}
}

func TestPatchChainFetcher_NetworkErrorIsGap(t *testing.T) {
	t.Parallel()

	f := NewPatchChainFetcher(getterFunc(func(ctx context.Context, req transport.Request) (*transport.Response, error) {
		return nil, errors.New("connection reset")
	}), FetcherConfig{DatabaseDir: t.TempDir(), Retention: 30, Logger: observability.NopLogger()})

	rec := types.NewDatabaseRecord("main.cvd", "https://mirror.example/main.cvd")
	rec.LocalVersion = 61

	applied, err := f.FetchChain(context.Background(), rec, 62)
	if err != nil {
		t.Errorf("FetchChain() error = %v, gaps are not errors", err)
	}
	if applied != 0 || len(rec.Patches) != 0 {
		t.Errorf("applied = %d, Patches = %v", applied, rec.Patches)
	}
}

func TestPatchChainFetcher_CanceledContext(t *testing.T) {
	t.Parallel()

	var calls []string
	f := NewPatchChainFetcher(patchGetter(map[string]bool{}, &calls), FetcherConfig{
		DatabaseDir: t.TempDir(),
		Logger:      observability.NopLogger(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := types.NewDatabaseRecord("daily.cvd", "https://mirror.example/daily.cvd")
	rec.LocalVersion = 1
	if _, err := f.FetchChain(ctx, rec, 3); !errors.Is(err, context.Canceled) {
		t.Errorf("FetchChain() error = %v, want context.Canceled", err)
	}
	if len(calls) != 0 {
		t.Errorf("requests made after cancel: %v", calls)
	}
}
