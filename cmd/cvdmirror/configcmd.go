// ABOUTME: Config commands showing and changing persisted mirror settings
// ABOUTME: Settings changes are validated, saved immediately, and audited

package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change mirror settings",
	}

	cmd.AddCommand(newConfigShowCmd(opts))
	cmd.AddCommand(newConfigSetCmd(opts))

	return cmd
}

func newConfigShowCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the persisted settings and the effective nameserver",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.Close()

			out, err := yaml.Marshal(rt.meta.Settings)
			if err != nil {
				return fmt.Errorf("encoding settings: %w", err)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s", out)
			fmt.Fprintf(w, "# state: %s (%s)\n", rt.cfg.State.Path, backendName(rt.cfg.State.Backend))
			if ns := rt.nameserver(); ns != rt.meta.Settings.Nameserver {
				fmt.Fprintf(w, "# effective nameserver: %s\n", ns)
			}
			return nil
		},
	}
}

func newConfigSetCmd(opts *globalOptions) *cobra.Command {
	var dbDir, logDir, nameserver string

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change the database directory, log directory, or nameserver",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if !flags.Changed("dbdir") && !flags.Changed("logdir") && !flags.Changed("nameserver") {
				return errors.New("nothing to set: use --dbdir, --logdir, or --nameserver")
			}

			rt, err := openRuntime(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx := cmd.Context()
			s := &rt.meta.Settings

			if flags.Changed("dbdir") {
				dir, err := ensureDir(dbDir)
				rt.audit.LogConfigSet(ctx, "database_dir", dir, err)
				if err != nil {
					return err
				}
				s.DatabaseDir = dir
			}
			if flags.Changed("logdir") {
				dir, err := ensureDir(logDir)
				rt.audit.LogConfigSet(ctx, "log_dir", dir, err)
				if err != nil {
					return err
				}
				s.LogDir = dir
			}
			if flags.Changed("nameserver") {
				err := validateNameserver(nameserver)
				rt.audit.LogConfigSet(ctx, "nameserver", nameserver, err)
				if err != nil {
					return err
				}
				s.Nameserver = nameserver
			}

			if err := rt.store.Save(ctx, rt.meta); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Settings saved")
			return nil
		},
	}

	cmd.Flags().StringVar(&dbDir, "dbdir", "", "directory for databases and patches")
	cmd.Flags().StringVar(&logDir, "logdir", "", "directory for log files")
	cmd.Flags().StringVar(&nameserver, "nameserver", "", "DNS server for version probes (empty for the system resolver)")

	return cmd
}

// ensureDir makes dir absolute and creates it.
func ensureDir(dir string) (string, error) {
	if dir == "" {
		return "", errors.New("directory must not be empty")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", abs, err)
	}
	return abs, nil
}

// validateNameserver accepts an empty value, an IP, or an IP with port.
func validateNameserver(ns string) error {
	if ns == "" {
		return nil
	}
	host := ns
	if h, _, err := net.SplitHostPort(ns); err == nil {
		host = h
	}
	if net.ParseIP(host) == nil {
		return fmt.Errorf("invalid nameserver %q: want an IP address", ns)
	}
	return nil
}

func backendName(b string) string {
	if b == "" {
		return "file"
	}
	return b
}
