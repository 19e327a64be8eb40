// ABOUTME: Resolves the advertised remote version of a database
// ABOUTME: One shared DNS TXT query per cycle, falling back to an HTTP header probe

package dbupdater

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/resilience"
	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/transport"
	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/types"
)

// Method names the channel a version was resolved through.
type Method string

const (
	MethodNone Method = ""
	MethodDNS  Method = "dns"
	MethodHTTP Method = "http"
)

// ResolverConfig configures a VersionResolver.
type ResolverConfig struct {
	// RecordName is the TXT record advertising current versions.
	RecordName string

	// Breaker, if set, guards the DNS query across cycles.
	Breaker *resilience.CircuitBreaker

	Cooldown *CooldownGate
	Now      Clock
	Logger   *slog.Logger
}

// VersionResolver finds the version a database should be brought to.
type VersionResolver struct {
	http     Getter
	dns      TXTLookup
	config   ResolverConfig
	cooldown *CooldownGate
	logger   *slog.Logger

	mu       sync.Mutex
	queried  bool
	tokens   []string
	answer   string
	queryErr error
}

// NewVersionResolver creates a resolver. dns may be nil to disable the DNS path.
func NewVersionResolver(httpc Getter, dns TXTLookup, cfg ResolverConfig) *VersionResolver {
	if cfg.RecordName == "" {
		cfg.RecordName = transport.DefaultVersionRecord
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Cooldown == nil {
		cfg.Cooldown = NewCooldownGate(0, cfg.Logger)
	}

	return &VersionResolver{
		http:     httpc,
		dns:      dns,
		config:   cfg,
		cooldown: cfg.Cooldown,
		logger:   cfg.Logger.With(slog.String("component", "resolver")),
	}
}

// Reset forgets the cached DNS answer. Called at the start of every cycle.
func (r *VersionResolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.queried = false
	r.tokens = nil
	r.answer = ""
	r.queryErr = nil
}

// DNSAnswer returns the raw TXT answer of this cycle, or "" if none was obtained.
func (r *VersionResolver) DNSAnswer() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.answer
}

// Resolve returns the advertised version of rec. On success rec.LastChecked
// is set to now.
func (r *VersionResolver) Resolve(ctx context.Context, rec *types.DatabaseRecord) (int, Method, error) {
	if rec.DNSField > 0 && r.dns != nil {
		v, err := r.fromDNS(ctx, rec)
		if err == nil {
			rec.LastChecked = r.config.Now()
			return v, MethodDNS, nil
		}
		r.logger.Warn("dns version unavailable, probing over http",
			slog.String("database", rec.Name),
			slog.String("error", err.Error()),
		)
	}

	v, err := r.fromHTTP(ctx, rec)
	if err != nil {
		return 0, MethodNone, err
	}
	rec.LastChecked = r.config.Now()
	return v, MethodHTTP, nil
}

func (r *VersionResolver) fromDNS(ctx context.Context, rec *types.DatabaseRecord) (int, error) {
	tokens, err := r.lookup(ctx)
	if err != nil {
		return 0, err
	}

	if rec.DNSField >= len(tokens) {
		return 0, fmt.Errorf("dns answer has %d fields, need index %d", len(tokens), rec.DNSField)
	}
	v, err := strconv.Atoi(strings.TrimSpace(tokens[rec.DNSField]))
	if err != nil {
		return 0, fmt.Errorf("dns field %d: %w", rec.DNSField, err)
	}
	return v, nil
}

// lookup issues the TXT query at most once per cycle.
func (r *VersionResolver) lookup(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.queried {
		return r.tokens, r.queryErr
	}
	r.queried = true

	var records []string
	query := func(ctx context.Context) error {
		var err error
		records, err = r.dns.LookupTXT(ctx, r.config.RecordName)
		return err
	}

	var err error
	if r.config.Breaker != nil {
		err = r.config.Breaker.Execute(ctx, query)
	} else {
		err = query(ctx)
	}
	if err == nil && len(records) == 0 {
		err = transport.ErrNoTXTRecord
	}
	if err != nil {
		r.queryErr = fmt.Errorf("querying %s: %w", r.config.RecordName, err)
		return nil, r.queryErr
	}

	r.answer = records[0]
	r.tokens = strings.Split(records[0], ":")
	r.logger.Debug("dns versions resolved",
		slog.String("record", r.config.RecordName),
		slog.String("answer", r.answer),
	)
	return r.tokens, nil
}

func (r *VersionResolver) fromHTTP(ctx context.Context, rec *types.DatabaseRecord) (int, error) {
	if !rec.HasRemote() {
		return 0, fmt.Errorf("%w: %s", ErrInvalidURL, rec.URL)
	}

	resp, err := r.http.Get(ctx, transport.Request{
		URL:             rec.URL,
		IfModifiedSince: rec.LastModified,
		Range:           transport.HeaderRange,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: %w", ErrVersionQueryFailed, err)
	}

	switch resp.StatusCode {
	case http.StatusNotModified:
		return rec.LocalVersion, nil

	case http.StatusOK, http.StatusPartialContent:
		if resp.Truncated() {
			return 0, fmt.Errorf("%w: %w after %d attempts", ErrVersionQueryFailed, ErrTruncatedDownload, resp.Attempts)
		}
		v, err := types.ParseVersionHeader(resp.Body)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrVersionQueryFailed, err)
		}
		return v, nil

	case http.StatusTooManyRequests:
		r.cooldown.recordResponse(rec, resp, r.config.Now())
		return 0, ErrRateLimited

	default:
		return 0, fmt.Errorf("%w: unexpected status %d", ErrVersionQueryFailed, resp.StatusCode)
	}
}
