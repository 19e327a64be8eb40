// ABOUTME: Sentinel errors for update cycles and their structured classification
// ABOUTME: Maps failures to error codes and transient/permanent categories for logging

package dbupdater

import (
	"context"
	"errors"

	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/observability"
	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/state"
)

var (
	// ErrRateLimited means the server answered 429 and a cooldown was recorded.
	ErrRateLimited = errors.New("rate limited by server")

	// ErrTruncatedDownload means a body stayed short after all attempts.
	ErrTruncatedDownload = errors.New("download truncated")

	// ErrVersionQueryFailed means neither DNS nor HTTP produced a version.
	ErrVersionQueryFailed = errors.New("version query failed")

	// ErrCorruptHeader means a written snapshot has an unusable version header.
	ErrCorruptHeader = errors.New("corrupt database header")

	// ErrPatchUnavailable means a patch could not be fetched. Never fatal.
	ErrPatchUnavailable = errors.New("patch unavailable")

	// ErrCoolingDown means the database was skipped because of a cooldown.
	ErrCoolingDown = errors.New("database cooling down")

	// ErrInvalidURL means the record has no usable HTTP origin.
	ErrInvalidURL = errors.New("missing or invalid url")

	// ErrUnknownDatabase means a requested name is not tracked.
	ErrUnknownDatabase = errors.New("unknown database")

	// ErrDownloadFailed means the server answered with an unexpected status.
	ErrDownloadFailed = errors.New("download failed")

	// ErrAlreadyTracked means Add was called for a name already in the list.
	ErrAlreadyTracked = errors.New("database already tracked")
)

// Error codes used in structured logs.
const (
	CodeRateLimited      = "RATE_LIMITED"
	CodeCoolingDown      = "COOLING_DOWN"
	CodeVersionQuery     = "VERSION_QUERY_FAILED"
	CodeTruncated        = "TRUNCATED_DOWNLOAD"
	CodeCorruptHeader    = "CORRUPT_HEADER"
	CodeInvalidURL       = "INVALID_URL"
	CodeDownloadFailed   = "DOWNLOAD_FAILED"
	CodeStorage          = "STORAGE_FAILURE"
	CodeCanceled         = "CANCELED"
	CodeUnclassified     = "UNCLASSIFIED"
	CodePatchUnavailable = "PATCH_UNAVAILABLE"
)

// classify wraps err with a code and category for logging.
func classify(err error, operation, database string) *observability.ErrorContext {
	code, category := CodeUnclassified, observability.CategoryTransient

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = CodeCanceled
	case errors.Is(err, ErrRateLimited):
		code = CodeRateLimited
	case errors.Is(err, ErrCoolingDown):
		code = CodeCoolingDown
	case errors.Is(err, ErrTruncatedDownload):
		code = CodeTruncated
	case errors.Is(err, ErrCorruptHeader):
		code, category = CodeCorruptHeader, observability.CategoryPermanent
	case errors.Is(err, ErrInvalidURL):
		code, category = CodeInvalidURL, observability.CategoryPermanent
	case errors.Is(err, state.ErrConfigIO):
		code, category = CodeStorage, observability.CategoryPermanent
	case errors.Is(err, ErrVersionQueryFailed):
		code = CodeVersionQuery
	case errors.Is(err, ErrPatchUnavailable):
		code = CodePatchUnavailable
	case errors.Is(err, ErrDownloadFailed):
		code = CodeDownloadFailed
	}

	return observability.NewErrorContext(code, category, operation).
		ForDatabase(database).
		WithError(err)
}
