// ABOUTME: Audit log for operator actions that change the mirror
// ABOUTME: Records database add/remove, cleanups, settings changes, and triggers

package observability

import (
	"context"
	"log/slog"
	"time"
)

// Audit action constants.
const (
	ActionAddDatabase    = "ADD_DATABASE"
	ActionRemoveDatabase = "REMOVE_DATABASE"
	ActionClean          = "CLEAN"
	ActionConfigSet      = "CONFIG_SET"
	ActionTriggerUpdate  = "TRIGGER_UPDATE"
)

// Audit result constants.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// AuditLogger writes audit events through a structured logger.
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger.
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{logger: logger}
}

func (a *AuditLogger) log(ctx context.Context, action, resource string, err error, attrs ...slog.Attr) {
	if a == nil || a.logger == nil {
		return
	}

	level := slog.LevelInfo
	result := ResultSuccess
	if err != nil {
		level = slog.LevelWarn
		result = ResultFailure
		attrs = append(attrs, slog.String("error", err.Error()))
	}

	attrs = append(attrs,
		slog.String("action", action),
		slog.String("resource", resource),
		slog.String("result", result),
		slog.Time("timestamp", time.Now().UTC()),
	)
	a.logger.LogAttrs(ctx, level, "audit_event", attrs...)
}

// LogDatabaseAdded records a newly tracked database.
func (a *AuditLogger) LogDatabaseAdded(ctx context.Context, name, url string, err error) {
	a.log(ctx, ActionAddDatabase, name, err, slog.String("url", RedactURL(url)))
}

// LogDatabaseRemoved records an untracked database and the files deleted with it.
func (a *AuditLogger) LogDatabaseRemoved(ctx context.Context, name string, filesRemoved int, err error) {
	a.log(ctx, ActionRemoveDatabase, name, err, slog.Int("files_removed", filesRemoved))
}

// LogClean records a cleanup of databases or logs.
func (a *AuditLogger) LogClean(ctx context.Context, target string, filesRemoved int, err error) {
	a.log(ctx, ActionClean, target, err, slog.Int("files_removed", filesRemoved))
}

// LogConfigSet records a settings change.
func (a *AuditLogger) LogConfigSet(ctx context.Context, key, value string, err error) {
	a.log(ctx, ActionConfigSet, key, err, slog.String("value", value))
}

// LogUpdateTriggered records a manual cycle trigger from the API.
func (a *AuditLogger) LogUpdateTriggered(ctx context.Context, source string, accepted bool) {
	a.log(ctx, ActionTriggerUpdate, source, nil, slog.Bool("accepted", accepted))
}
