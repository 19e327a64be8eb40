// ABOUTME: Per-database cooldown gate honoring server rate-limit responses
// ABOUTME: Blocks network attempts until RetryAfter passes, then clears it

package dbupdater

import (
	"log/slog"
	"time"

	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/transport"
	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/types"
)

// CooldownGate decides whether a database may touch the network.
type CooldownGate struct {
	defaultHint time.Duration
	logger      *slog.Logger
}

// NewCooldownGate creates a gate. A zero defaultHint uses 12 hours.
func NewCooldownGate(defaultHint time.Duration, logger *slog.Logger) *CooldownGate {
	if defaultHint <= 0 {
		defaultHint = transport.DefaultRetryAfter
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CooldownGate{defaultHint: defaultHint, logger: logger}
}

// Allow reports whether rec may be updated at now. An expired cooldown is
// cleared as a side effect.
func (g *CooldownGate) Allow(rec *types.DatabaseRecord, now time.Time) bool {
	if rec.RetryAfter.IsZero() {
		return true
	}

	if rec.RetryAfter.After(now) {
		g.logger.Warn("skipping database on cooldown",
			slog.String("database", rec.Name),
			slog.Time("until", rec.RetryAfter),
		)
		return false
	}

	g.logger.Info("cooldown expired",
		slog.String("database", rec.Name),
		slog.Time("expired", rec.RetryAfter),
	)
	rec.RetryAfter = time.Time{}
	return true
}

// RecordRateLimited starts a cooldown of hint (or the default) from now.
func (g *CooldownGate) RecordRateLimited(rec *types.DatabaseRecord, hint time.Duration, now time.Time) {
	if hint <= 0 {
		hint = g.defaultHint
	}
	g.coolDown(rec, hint, now)
}

// recordResponse records a cooldown from a 429 response. An explicit
// Retry-After of zero is honored; a missing one uses the default.
func (g *CooldownGate) recordResponse(rec *types.DatabaseRecord, resp *transport.Response, now time.Time) {
	hint, ok := resp.RetryAfter(now)
	if !ok {
		hint = g.defaultHint
	}
	g.coolDown(rec, hint, now)
}

func (g *CooldownGate) coolDown(rec *types.DatabaseRecord, hint time.Duration, now time.Time) {
	rec.RetryAfter = now.Add(hint)

	g.logger.Warn("rate limited by server, cooling down",
		slog.String("database", rec.Name),
		slog.Duration("retry_after", hint),
		slog.Time("until", rec.RetryAfter),
	)
}
