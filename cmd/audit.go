package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sudhirig/mfscore/internal/monitoring"
	"github.com/sudhirig/mfscore/internal/scorer"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Check stored NAVs, scores and runs for integrity problems",
	Long:  "Collects an integrity snapshot, prints the alerts it raises and exits non-zero when any alert is high severity.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		collector, err := newCollector(st)
		if err != nil {
			return err
		}
		snap, err := collector.Collect(ctx)
		if err != nil {
			return err
		}

		alerter := monitoring.NewAlerter(cfg.Monitor)
		alerts := alerter.Evaluate(snap)

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(map[string]any{"snapshot": snap, "alerts": alerts}); err != nil {
				return err
			}
		} else {
			formatSnapshot(os.Stdout, snap)
			formatAlerts(os.Stdout, alerts)
		}

		if send, _ := cmd.Flags().GetBool("send"); send && len(alerts) > 0 {
			sent := alerter.SendAlerts(ctx, alerts)
			fmt.Fprintf(os.Stderr, "Sent %d/%d alert(s)\n", sent, len(alerts))
		}

		if monitoring.HasSeverity(alerts, monitoring.SeverityHigh) {
			return eris.New("audit: high severity alerts raised")
		}
		return nil
	},
}

func init() {
	auditCmd.Flags().Bool("json", false, "print snapshot and alerts as JSON")
	auditCmd.Flags().Bool("send", false, "deliver alerts to monitor.webhook_url")
	rootCmd.AddCommand(auditCmd)
}

func newCollector(src monitoring.Source) (*monitoring.Collector, error) {
	sc, err := scorer.FromScoringConfig(cfg.Scoring)
	if err != nil {
		return nil, err
	}
	return monitoring.NewCollector(src, sc, cfg.Monitor), nil
}

func formatSnapshot(out io.Writer, snap *monitoring.Snapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if !snap.ScoreDate.IsZero() {
		_, _ = fmt.Fprintf(w, "Latest score date:\t%s\n", snap.ScoreDate.Format(time.DateOnly))
	}
	_, _ = fmt.Fprintf(w, "Scores checked:\t%d\n", snap.ScoresChecked)
	_, _ = fmt.Fprintf(w, "Out of budget:\t%d\n", snap.ComponentOutOfBudget+snap.TotalOutOfRange)
	_, _ = fmt.Fprintf(w, "Funds:\t%d\n", snap.Store.Funds)
	_, _ = fmt.Fprintf(w, "Stale funds:\t%d\n", snap.Store.StaleFunds)
	_, _ = fmt.Fprintf(w, "Non-positive NAVs:\t%d\n", snap.Store.NonPositiveNav)
	_, _ = fmt.Fprintf(w, "Missing benchmark:\t%d\n", snap.MissingBenchmark)
	_, _ = fmt.Fprintf(w, "Runs (%dh):\tfeed %d/%d failed, score %d/%d failed\n",
		snap.LookbackHours, snap.FeedFailed, snap.FeedRuns, snap.ScoreFailed, snap.ScoreRuns)
	_ = w.Flush()
}

func formatAlerts(out io.Writer, alerts []monitoring.Alert) {
	if len(alerts) == 0 {
		_, _ = fmt.Fprintln(out, "No alerts.")
		return
	}
	_, _ = fmt.Fprintf(out, "\n%d alert(s):\n", len(alerts))
	for _, a := range alerts {
		_, _ = fmt.Fprintf(out, "  [%s] %s: %s\n", a.Severity, a.Type, a.Message)
	}
}
