// ABOUTME: Main entry point for the cvdmirror CLI
// ABOUTME: Runs the cobra root command and maps cycle errors to the exit status

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version information (set by ldflags).
var (
	version   = "dev"
	gitSHA    = "unknown"
	buildTime = "unknown"
)

// maxExitCode is the largest status a process can report; larger values
// wrap modulo 256 and could read as success.
const maxExitCode = 255

// exitError carries a process exit status out of a command.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string {
	return e.msg
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	cancel()

	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return min(max(ee.code, 1), maxExitCode)
	}
	fmt.Fprintln(os.Stderr, "error:", err)
	return 1
}
