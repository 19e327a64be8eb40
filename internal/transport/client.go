// ABOUTME: HTTP client for the signature distribution service
// ABOUTME: Conditional and ranged GETs that retry when a transfer arrives truncated

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/resilience"
)

// ErrBodyTooLarge is returned when a response body exceeds Config.MaxSize.
var ErrBodyTooLarge = errors.New("response body exceeds size limit")

// Default client configuration values.
const (
	DefaultTimeout     = 5 * time.Minute
	DefaultMaxAttempts = 3
	DefaultMaxSize     = 500 * 1024 * 1024

	// DefaultRetryAfter is the cooldown used when a 429 carries no usable hint.
	DefaultRetryAfter = 12 * time.Hour
)

// HeaderRange requests only the version header of a database.
const HeaderRange = "bytes=0-95"

// UserAgent builds the User-Agent sent with every request.
func UserAgent(version, installID string) string {
	return fmt.Sprintf("cvdmirror/%s (%s)", version, installID)
}

// Config holds configuration for the HTTP client.
type Config struct {
	// Timeout bounds a single request including the body transfer.
	Timeout time.Duration

	// UserAgent for HTTP requests.
	UserAgent string

	// MaxSize limits the body size in bytes (0 = unlimited).
	MaxSize int64

	// MaxAttempts bounds total attempts when a transfer is truncated.
	MaxAttempts int

	// Backoff spaces out attempts after a truncated transfer.
	Backoff resilience.BackoffConfig

	// Transport overrides the underlying round tripper.
	Transport http.RoundTripper
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:     DefaultTimeout,
		UserAgent:   UserAgent("dev", "unknown"),
		MaxSize:     DefaultMaxSize,
		MaxAttempts: DefaultMaxAttempts,
		Backoff:     resilience.DefaultBackoffConfig(),
	}
}

// Request describes one GET.
type Request struct {
	URL string

	// IfModifiedSince is sent when non-zero.
	IfModifiedSince time.Time

	// Range is sent verbatim when set, e.g. HeaderRange.
	Range string
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode    int
	Header        http.Header
	Body          []byte
	ContentLength int64

	// Attempts is how many requests were made, counting retries.
	Attempts int

	short bool
}

// Truncated reports whether a content response delivered fewer bytes than it
// declared.
func (r *Response) Truncated() bool {
	if r.StatusCode != http.StatusOK && r.StatusCode != http.StatusPartialContent {
		return false
	}
	if r.short {
		return true
	}
	return r.ContentLength >= 0 && int64(len(r.Body)) < r.ContentLength
}

// RetryAfter returns the server's Retry-After hint relative to now. Both
// delta-seconds and HTTP-date forms are accepted; zero and past dates mean
// "retry immediately". ok is false when the header is absent or unparsable.
func (r *Response) RetryAfter(now time.Time) (d time.Duration, ok bool) {
	v := strings.TrimSpace(r.Header.Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		return max(at.Sub(now), 0), true
	}
	return 0, false
}

// Client issues GETs with bounded retry on truncation.
type Client struct {
	http   *http.Client
	config Config
	logger *slog.Logger
}

// NewClient creates a client. Zero values in cfg use defaults.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}

	base := cfg.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	return &Client{
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(base),
		},
		config: cfg,
		logger: logger.With(slog.String("component", "transport")),
	}
}

// Get performs req. A truncated 200/206 is retried until MaxAttempts is
// reached; the last response is returned even if it is still truncated.
// Any other status is returned as-is. Errors are transport failures only.
func (c *Client) Get(ctx context.Context, req Request) (*Response, error) {
	bcfg := c.config.Backoff
	bcfg.MaxRetries = c.config.MaxAttempts - 1
	if bcfg.MaxRetries == 0 {
		bcfg.MaxRetries = -1
	}
	backoff := resilience.NewBackoff(bcfg)

	var resp *Response
	for attempt := 1; ; attempt++ {
		var err error
		resp, err = c.do(ctx, req)
		if err != nil {
			return nil, err
		}
		resp.Attempts = attempt

		if !resp.Truncated() {
			return resp, nil
		}

		c.logger.WarnContext(ctx, "truncated transfer",
			slog.String("url", req.URL),
			slog.Int("attempt", attempt),
			slog.Int("received", len(resp.Body)),
			slog.Int64("expected", resp.ContentLength),
		)

		if err := backoff.Wait(ctx); err != nil {
			if errors.Is(err, resilience.ErrRetriesExhausted) {
				return resp, nil
			}
			return nil, err
		}
	}
}

func (c *Client) do(ctx context.Context, req Request) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	httpReq.Header.Set("User-Agent", c.config.UserAgent)
	httpReq.Header.Set("Accept", "*/*")
	if req.Range != "" {
		httpReq.Header.Set("Range", req.Range)
	}
	if !req.IfModifiedSince.IsZero() {
		httpReq.Header.Set("If-Modified-Since", req.IfModifiedSince.UTC().Format(http.TimeFormat))
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("performing request: %w", err)
	}
	defer httpResp.Body.Close()

	limit := c.config.MaxSize
	if limit > 0 && httpResp.ContentLength > limit {
		return nil, fmt.Errorf("%w: %s declares %d bytes, limit %d", ErrBodyTooLarge, req.URL, httpResp.ContentLength, limit)
	}

	// One byte past the limit tells an oversized body without a
	// Content-Length apart from one that fits exactly.
	var reader io.Reader = httpResp.Body
	if limit > 0 {
		reader = io.LimitReader(httpResp.Body, limit+1)
	}

	// A short body surfaces as a read error; the partial bytes are kept so
	// the caller can see how much arrived.
	body, readErr := io.ReadAll(reader)
	if readErr != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if limit > 0 && int64(len(body)) > limit {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrBodyTooLarge, req.URL, limit)
	}

	return &Response{
		StatusCode:    httpResp.StatusCode,
		Header:        httpResp.Header,
		Body:          body,
		ContentLength: httpResp.ContentLength,
		short:         readErr != nil,
	}, nil
}
