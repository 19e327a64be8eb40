// ABOUTME: Dated log files in the configured log directory
// ABOUTME: One file per day, pruned to the newest N when rotation is on

package observability

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	logFilePrefix = "cvdmirror-"
	logFileSuffix = ".log"
	logDateLayout = "2006-01-02"
)

// LogFileName returns the log filename for the day of t.
func LogFileName(t time.Time) string {
	return logFilePrefix + t.Format(logDateLayout) + logFileSuffix
}

// OpenLogFile opens today's log file in dir for appending.
func OpenLogFile(dir string, now time.Time) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	path := filepath.Join(dir, LogFileName(now))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return f, nil
}

// ListLogFiles returns log file paths in dir, oldest first.
// A missing directory yields no files.
func ListLogFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading log directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, logFilePrefix) || !strings.HasSuffix(name, logFileSuffix) {
			continue
		}
		names = append(names, name)
	}

	// Dates are zero-padded, so lexical order is chronological.
	sort.Strings(names)

	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(dir, name)
	}
	return paths, nil
}

// PruneLogFiles deletes all but the newest keep log files and returns the
// removed paths.
func PruneLogFiles(dir string, keep int) ([]string, error) {
	if keep < 0 {
		keep = 0
	}
	paths, err := ListLogFiles(dir)
	if err != nil {
		return nil, err
	}
	if len(paths) <= keep {
		return nil, nil
	}

	var removed []string
	for _, p := range paths[:len(paths)-keep] {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("removing %s: %w", p, err)
		}
		removed = append(removed, p)
	}
	return removed, nil
}
