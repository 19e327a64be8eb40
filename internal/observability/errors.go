// ABOUTME: Structured error context for per-database failure reporting
// ABOUTME: Error codes, transient/permanent categories, and slog integration

package observability

import (
	"fmt"
	"log/slog"
)

// Error category constants.
const (
	// CategoryTransient errors may clear up on a later cycle (network, 429).
	CategoryTransient = "transient"

	// CategoryPermanent errors need operator attention (bad URL, corrupt data).
	CategoryPermanent = "permanent"
)

// ErrorContext provides structured context for errors.
type ErrorContext struct {
	// Code is a stable identifier, e.g. "RATE_LIMITED".
	Code string `json:"code"`

	// Category is transient or permanent.
	Category string `json:"category"`

	// Operation is the step that failed, e.g. "resolve_version".
	Operation string `json:"operation"`

	// Database is the affected database name, if any.
	Database string `json:"database,omitempty"`

	// Details contains additional error context.
	Details any `json:"details,omitempty"`

	// Err is the underlying error if any.
	Err error `json:"-"`
}

// NewErrorContext creates a new error context.
func NewErrorContext(code, category, operation string) *ErrorContext {
	return &ErrorContext{
		Code:      code,
		Category:  category,
		Operation: operation,
	}
}

// ForDatabase sets the affected database.
func (e *ErrorContext) ForDatabase(name string) *ErrorContext {
	e.Database = name
	return e
}

// WithDetails adds additional context details.
func (e *ErrorContext) WithDetails(details any) *ErrorContext {
	e.Details = details
	return e
}

// WithError attaches the underlying error.
func (e *ErrorContext) WithError(err error) *ErrorContext {
	e.Err = err
	return e
}

// IsRetryable returns true if a later cycle may succeed.
func (e *ErrorContext) IsRetryable() bool {
	return e.Category == CategoryTransient
}

// Error implements the error interface.
func (e *ErrorContext) Error() string {
	prefix := fmt.Sprintf("[%s] %s", e.Code, e.Operation)
	if e.Database != "" {
		prefix += " " + e.Database
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", prefix, e.Err)
	}
	return prefix
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ErrorContext) Unwrap() error {
	return e.Err
}

// LogValue implements slog.LogValuer for structured logging.
func (e *ErrorContext) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("code", e.Code),
		slog.String("category", e.Category),
		slog.String("operation", e.Operation),
		slog.Bool("is_retryable", e.IsRetryable()),
	}

	if e.Database != "" {
		attrs = append(attrs, slog.String("database", e.Database))
	}
	if e.Details != nil {
		attrs = append(attrs, slog.Any("details", e.Details))
	}
	if e.Err != nil {
		attrs = append(attrs, slog.String("error", e.Err.Error()))
	}

	return slog.GroupValue(attrs...)
}
