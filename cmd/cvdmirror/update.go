// ABOUTME: Update command running one cycle over all or selected databases
// ABOUTME: Exits with the number of databases that ended in error

package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/dbupdater"
	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/observability"
	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/resilience"
	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/transport"
)

func newUpdateCmd(opts *globalOptions) *cobra.Command {
	var noDNS bool

	cmd := &cobra.Command{
		Use:   "update [database...]",
		Short: "Update all or the named databases",
		Long: `Run one update cycle. Versions are resolved over DNS when possible and
over HTTP otherwise; patches are fetched before the full snapshot.

The exit status is the number of databases that ended in error.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.Close()

			orch := newOrchestrator(rt, orchestratorDeps{noDNS: noDNS})
			result, err := orch.Run(cmd.Context(), args...)
			if err != nil {
				return err
			}

			printCycle(cmd.OutOrStdout(), result)
			if result.Errors > 0 {
				return &exitError{code: result.Errors, msg: result.String()}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&noDNS, "no-dns", false, "resolve versions over HTTP only")

	return cmd
}

// orchestratorDeps are the optional integrations of a cycle.
type orchestratorDeps struct {
	noDNS     bool
	breaker   *resilience.CircuitBreaker
	distLock  dbupdater.Locker
	events    dbupdater.EventPublisher
	artifacts dbupdater.ArtifactPublisher
	metrics   *observability.UpdateMetrics
	status    *dbupdater.StatusTracker
}

func newOrchestrator(rt *runtime, deps orchestratorDeps) *dbupdater.Orchestrator {
	httpc := transport.NewClient(transport.Config{
		Timeout:     rt.cfg.HTTP.Timeout,
		UserAgent:   transport.UserAgent(version, rt.meta.Settings.UUID),
		MaxAttempts: rt.meta.Settings.MaxRetry,
	}, rt.logger)

	opts := dbupdater.Options{
		Store:      rt.store,
		HTTP:       httpc,
		RecordName: rt.cfg.DNS.RecordName,
		DNSBreaker: deps.breaker,
		DistLock:   deps.distLock,
		Events:     deps.events,
		Artifacts:  deps.artifacts,
		Metrics:    deps.metrics,
		Status:     deps.status,
		Logger:     rt.logger,
	}
	if !deps.noDNS {
		resolver := transport.NewTXTResolver(rt.nameserver(), rt.cfg.DNS.Timeout)
		opts.DNS = resolver
		rt.logger.Debug("dns version probe enabled",
			slog.String("record", rt.cfg.DNS.RecordName),
			slog.String("nameserver", resolver.Nameserver()),
		)
	}
	return dbupdater.NewOrchestrator(opts)
}

func printCycle(w io.Writer, result *dbupdater.CycleResult) {
	for _, db := range result.Databases {
		line := fmt.Sprintf("%-20s %-10s local=%d", db.Name, db.Status, db.LocalVersion)
		if db.RemoteVersion > 0 {
			line += fmt.Sprintf(" remote=%d (%s)", db.RemoteVersion, db.Method)
		}
		if db.PatchesWritten > 0 {
			line += fmt.Sprintf(" patches=%d", db.PatchesWritten)
		}
		if db.Error != "" {
			line += " error: " + db.Error
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w, result.String())
}
