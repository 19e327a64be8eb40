// ABOUTME: Clean command deleting downloaded databases, logs, or everything
// ABOUTME: "all" also purges the stored metadata

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/dbupdater"
)

func newCleanCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "clean <dbs|logs|all>",
		Short:     "Delete databases, log files, or all mirror state",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"dbs", "logs", "all"},
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.Close()

			reg := dbupdater.NewRegistry(rt.store, dbupdater.RegistryConfig{Audit: rt.audit, Logger: rt.logger})

			var n int
			switch args[0] {
			case "dbs":
				n, err = reg.CleanDatabases(cmd.Context())
			case "logs":
				n, err = reg.CleanLogs(cmd.Context())
			case "all":
				n, err = reg.CleanAll(cmd.Context())
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d files\n", n)
			return nil
		},
	}
}
