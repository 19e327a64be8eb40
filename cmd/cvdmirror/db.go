// ABOUTME: Database registry commands: list, show, add, and remove
// ABOUTME: Listing reconciles metadata with the files present on disk

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/spf13/cobra"

	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/dbupdater"
	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/types"
)

// Output formats for list and show.
const (
	outputText = "text"
	outputCSV  = "csv"
	outputJSON = "json"
)

func newListCmd(opts *globalOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tracked databases and files found on disk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.Close()

			reg := dbupdater.NewRegistry(rt.store, dbupdater.RegistryConfig{Audit: rt.audit, Logger: rt.logger})
			_, view, err := reg.Index(cmd.Context())
			if err != nil {
				return err
			}
			return writeRecords(cmd.OutOrStdout(), output, view)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", outputText, "output format (text, csv, json)")

	return cmd
}

func newShowCmd(opts *globalOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "show <database>",
		Short: "Show one database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.Close()

			reg := dbupdater.NewRegistry(rt.store, dbupdater.RegistryConfig{Audit: rt.audit, Logger: rt.logger})
			_, view, err := reg.Index(cmd.Context())
			if err != nil {
				return err
			}
			for _, rec := range view {
				if rec.Name == args[0] {
					if output == outputText {
						printRecord(cmd.OutOrStdout(), rec)
						return nil
					}
					return writeRecords(cmd.OutOrStdout(), output, []*types.DatabaseRecord{rec})
				}
			}
			return fmt.Errorf("%w: %s", dbupdater.ErrUnknownDatabase, args[0])
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", outputText, "output format (text, csv, json)")

	return cmd
}

func newAddCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add <database> <url>",
		Short: "Start tracking a database",
		Long: `Track a database downloaded from url. The file is fetched on the next
update. Files with extensions clamd does not load are accepted with a warning.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.Close()

			reg := dbupdater.NewRegistry(rt.store, dbupdater.RegistryConfig{Audit: rt.audit, Logger: rt.logger})
			rec, err := reg.Add(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s (%s)\n", rec.Name, rec.URL)
			return nil
		},
	}
}

func newRemoveCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <database>",
		Short: "Stop tracking a database and delete its files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.Close()

			reg := dbupdater.NewRegistry(rt.store, dbupdater.RegistryConfig{Audit: rt.audit, Logger: rt.logger})
			removed, err := reg.Remove(cmd.Context(), args[0])
			for _, name := range removed {
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", name)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
			return nil
		},
	}
}

// recordRow is the flat form of a record for CSV output.
type recordRow struct {
	Name         string `csv:"name"`
	URL          string `csv:"url"`
	LocalVersion int    `csv:"local_version"`
	LastModified string `csv:"last_modified"`
	LastChecked  string `csv:"last_checked"`
	RetryAfter   string `csv:"retry_after"`
	Patches      int    `csv:"patches"`
}

func toRow(rec *types.DatabaseRecord) recordRow {
	return recordRow{
		Name:         rec.Name,
		URL:          rec.URL,
		LocalVersion: rec.LocalVersion,
		LastModified: formatTime(rec.LastModified),
		LastChecked:  formatTime(rec.LastChecked),
		RetryAfter:   formatTime(rec.RetryAfter),
		Patches:      len(rec.Patches),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func writeRecords(w io.Writer, output string, recs []*types.DatabaseRecord) error {
	switch output {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(recs)

	case outputCSV:
		rows := make([]recordRow, len(recs))
		for i, rec := range recs {
			rows[i] = toRow(rec)
		}
		data, err := csvutil.Marshal(rows)
		if err != nil {
			return fmt.Errorf("encoding csv: %w", err)
		}
		_, err = w.Write(data)
		return err

	case outputText:
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tVERSION\tLAST MODIFIED\tPATCHES\tURL")
		for _, rec := range recs {
			r := toRow(rec)
			version := "-"
			if r.LocalVersion > 0 {
				version = fmt.Sprint(r.LocalVersion)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", r.Name, version, orDash(r.LastModified), r.Patches, r.URL)
		}
		return tw.Flush()

	default:
		return fmt.Errorf("unknown output format %q", output)
	}
}

func printRecord(w io.Writer, rec *types.DatabaseRecord) {
	r := toRow(rec)
	fmt.Fprintf(w, "Name:          %s\n", r.Name)
	fmt.Fprintf(w, "URL:           %s\n", r.URL)
	fmt.Fprintf(w, "Local version: %d\n", r.LocalVersion)
	fmt.Fprintf(w, "DNS field:     %d\n", rec.DNSField)
	fmt.Fprintf(w, "Last modified: %s\n", orDash(r.LastModified))
	fmt.Fprintf(w, "Last checked:  %s\n", orDash(r.LastChecked))
	if !rec.RetryAfter.IsZero() {
		fmt.Fprintf(w, "Retry after:   %s\n", r.RetryAfter)
	}
	if len(rec.Patches) > 0 {
		fmt.Fprintf(w, "Patches:       %s\n", strings.Join(rec.Patches, ", "))
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
