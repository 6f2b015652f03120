package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"whisperd/internal/audit"
)

type auditReport struct {
	Stats   audit.Stats   `json:"stats"`
	Entries []audit.Entry `json:"entries"`
}

func newAuditCommand(ctx *commandContext) *cobra.Command {
	var filter audit.Filter
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recorded requests and security rejections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cfg.Audit.Enabled {
				return fmt.Errorf("audit ledger is disabled (audit.enabled = false)")
			}
			store, err := audit.Open(cfg.Audit.Path, "cli")
			if err != nil {
				return fmt.Errorf("open audit ledger: %w", err)
			}
			defer store.Close()

			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			entries, err := store.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if entries == nil {
				entries = []audit.Entry{}
			}

			if jsonOutput {
				return writeJSON(cmd, auditReport{Stats: stats, Entries: entries})
			}
			printAudit(cmd, stats, entries, time.Now())
			return nil
		},
	}

	cmd.Flags().BoolVar(&filter.SecurityOnly, "security", false, "Only show security rejections")
	cmd.Flags().BoolVar(&filter.FailuresOnly, "failures", false, "Only show failed requests")
	cmd.Flags().IntVarP(&filter.Limit, "limit", "n", 50, "Maximum number of entries")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func printAudit(cmd *cobra.Command, stats audit.Stats, entries []audit.Entry, now time.Time) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Requests: %s  Failed: %s  Security: %s\n",
		humanize.Comma(stats.Total), humanize.Comma(stats.Failed), humanize.Comma(stats.Security))
	if len(entries) == 0 {
		fmt.Fprintln(out, "No audit entries")
		return
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		kind := string(e.ErrorKind)
		if kind == "" {
			kind = "-"
		}
		host := e.Host
		if host == "" {
			host = "-"
		}
		rows = append(rows, []string{
			humanize.RelTime(e.CreatedAt, now, "ago", "from now"),
			shortID(e.RunID),
			e.RequestID,
			e.Action,
			host,
			string(e.Outcome),
			kind,
			yesNo(e.Security),
			formatDuration(e.Duration),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"When", "Run", "ID", "Action", "Host", "Outcome", "Kind", "Security", "Duration"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
	))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return strconv.FormatInt(d.Milliseconds(), 10) + "ms"
	}
	return d.Round(100 * time.Millisecond).String()
}
