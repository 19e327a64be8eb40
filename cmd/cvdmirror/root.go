// ABOUTME: Root command, global flags, and the shared runtime for subcommands
// ABOUTME: Loads config, opens the metadata store, and sets up logging

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/config"
	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/observability"
	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/state"
	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/types"
)

const serviceName = "cvdmirror"

// globalOptions are the persistent flags.
type globalOptions struct {
	cfgFile   string
	envFile   string
	logLevel  string
	logFormat string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "cvdmirror",
		Short: "Mirror ClamAV signature databases",
		Long: `cvdmirror keeps a local mirror of ClamAV signature databases current.

It resolves the newest versions over DNS or HTTP, downloads incremental
patches and full snapshots, honors the mirror's rate limits, and serves
the result as a directory that clamd or freshclam can consume.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.cfgFile, "config", "c", "", "config file (default: "+config.DefaultConfigPath()+")")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the config")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "log format (json, text)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newUpdateCmd(opts))
	cmd.AddCommand(newListCmd(opts))
	cmd.AddCommand(newShowCmd(opts))
	cmd.AddCommand(newAddCmd(opts))
	cmd.AddCommand(newRemoveCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))
	cmd.AddCommand(newCleanCmd(opts))
	cmd.AddCommand(newDaemonCmd(opts))

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "cvdmirror version %s\n", version)
			fmt.Fprintf(out, "  Git SHA:    %s\n", gitSHA)
			fmt.Fprintf(out, "  Build Time: %s\n", buildTime)
		},
	}
}

// runtime is what every command needs after startup.
type runtime struct {
	cfg    *config.Config
	logger *slog.Logger
	audit  *observability.AuditLogger
	store  state.Store
	meta   *types.Metadata

	logFile *os.File
}

// openRuntime loads configuration and metadata and builds the logger.
func openRuntime(ctx context.Context, opts *globalOptions, stderr io.Writer) (*runtime, error) {
	if err := config.LoadDotEnv(opts.envFile); err != nil {
		return nil, err
	}

	cfg, err := config.Load(opts.cfgFile)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.Log.Format = opts.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if cfg.State.Backend == "" || cfg.State.Backend == state.BackendFile {
		if err := os.MkdirAll(filepath.Dir(cfg.State.Path), 0o755); err != nil {
			return nil, fmt.Errorf("%w: creating state directory: %v", state.ErrConfigIO, err)
		}
	}

	store, err := state.Open(cfg.State)
	if err != nil {
		return nil, err
	}

	meta, err := store.Load(ctx)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	rt := &runtime{cfg: cfg, store: store, meta: meta}

	w := stderr
	if cfg.Log.File {
		f, err := observability.OpenLogFile(meta.Settings.LogDir, time.Now())
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		rt.logFile = f
		w = io.MultiWriter(stderr, f)
	}

	rt.logger = observability.NewLogger(observability.LoggingConfig{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: serviceName,
		Version:     version,
	}, w)
	rt.audit = observability.NewAuditLogger(rt.logger)

	rt.pruneLogs()
	return rt, nil
}

// nameserver returns the configured override or the stored nameserver.
func (rt *runtime) nameserver() string {
	if rt.cfg.DNS.Nameserver != "" {
		return rt.cfg.DNS.Nameserver
	}
	return rt.meta.Settings.Nameserver
}

// pruneLogs keeps LogsToKeep dated log files when rotation is enabled.
func (rt *runtime) pruneLogs() {
	s := rt.meta.Settings
	if !s.RotateLogs {
		return
	}
	removed, err := observability.PruneLogFiles(s.LogDir, s.LogsToKeep)
	if err != nil {
		rt.logger.Warn("failed to prune log files", slog.String("error", err.Error()))
		return
	}
	for _, p := range removed {
		rt.logger.Debug("removed old log file", slog.String("path", p))
	}
}

func (rt *runtime) Close() {
	if err := rt.store.Close(); err != nil {
		rt.logger.Warn("failed to close metadata store", slog.String("error", err.Error()))
	}
	if rt.logFile != nil {
		_ = rt.logFile.Close()
	}
}
