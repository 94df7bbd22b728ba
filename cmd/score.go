package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sudhirig/mfscore/internal/benchmark"
	"github.com/sudhirig/mfscore/internal/pipeline"
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score and rank every fund with NAV history",
	Long: "Computes period returns and risk metrics for each fund, scores them against " +
		"category benchmarks, ranks peer groups into quartiles and stores the results.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		opts, err := scoreOptions(cmd)
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("format")
		format, err = pipeline.ParseFormat(format)
		if err != nil {
			return err
		}
		output, _ := cmd.Flags().GetString("output")
		if format == pipeline.FormatXLSX && output == "" {
			return eris.New("score: --output is required for xlsx")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		engine, err := newScoreEngine(st)
		if err != nil {
			return err
		}

		res, runErr := engine.Run(ctx, opts)
		if res == nil {
			return runErr
		}
		formatSummary(os.Stderr, res)

		if err := writeScoreReport(format, output, res); err != nil {
			return err
		}
		return runErr
	},
}

func init() {
	addScoreFlags(scoreCmd)
	rootCmd.AddCommand(scoreCmd)
}

func addScoreFlags(c *cobra.Command) {
	c.Flags().String("date", "", "score date YYYY-MM-DD (default today)")
	c.Flags().StringSlice("fund", nil, "restrict to fund IDs, still ranked within their full peer group")
	c.Flags().String("category", "", "restrict to one category")
	c.Flags().Int("limit", 0, "max number of funds (0 = all)")
	c.Flags().Bool("dry-run", false, "compute and rank without writing scores")
	c.Flags().String("format", pipeline.FormatTable, "report format: table, csv or xlsx")
	c.Flags().String("output", "", "report file (default stdout)")
}

// newScoreEngine builds a scoring engine from the loaded config.
func newScoreEngine(st pipeline.Store) (*pipeline.Engine, error) {
	if err := cfg.Validate("scoring"); err != nil {
		return nil, err
	}
	pcfg, err := pipeline.ConfigFromScoring(cfg.Scoring, cfg.Feeds)
	if err != nil {
		return nil, err
	}
	tables, err := benchmark.Load(cfg.Scoring.BenchmarkFile)
	if err != nil {
		return nil, err
	}
	return pipeline.New(st, pcfg, tables), nil
}

func scoreOptions(cmd *cobra.Command) (pipeline.Options, error) {
	var opts pipeline.Options

	date, _ := cmd.Flags().GetString("date")
	if date != "" {
		d, err := time.Parse(time.DateOnly, date)
		if err != nil {
			return opts, eris.Errorf("score: invalid --date %q (want YYYY-MM-DD)", date)
		}
		opts.ScoreDate = d
	}

	funds, _ := cmd.Flags().GetStringSlice("fund")
	for _, f := range funds {
		id, err := strconv.ParseInt(strings.TrimSpace(f), 10, 64)
		if err != nil || id <= 0 {
			return opts, eris.Errorf("score: invalid --fund %q", f)
		}
		opts.FundIDs = append(opts.FundIDs, id)
	}

	opts.Category, _ = cmd.Flags().GetString("category")
	opts.Limit, _ = cmd.Flags().GetInt("limit")
	opts.DryRun, _ = cmd.Flags().GetBool("dry-run")
	return opts, nil
}

func writeScoreReport(format, output string, res *pipeline.Result) error {
	if len(res.Scores) == 0 {
		return nil
	}
	var out io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return eris.Wrapf(err, "score: create %s", output)
		}
		defer f.Close() //nolint:errcheck
		out = f
	}
	return pipeline.WriteReport(out, format, res.Scores)
}

// formatSummary writes the batch summary to out.
func formatSummary(out io.Writer, res *pipeline.Result) {
	s := res.Summary
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if res.RunID != "" {
		_, _ = fmt.Fprintf(w, "Run:\t%s\n", res.RunID)
	}
	_, _ = fmt.Fprintf(w, "Score date:\t%s\n", res.ScoreDate.Format(time.DateOnly))
	_, _ = fmt.Fprintf(w, "Config hash:\t%s\n", res.ConfigHash)
	_, _ = fmt.Fprintf(w, "Risk-free rate:\t%.2f%%\n", res.RiskFreeRate)
	_, _ = fmt.Fprintf(w, "Funds:\t%d\n", s.Funds)
	_, _ = fmt.Fprintf(w, "Scored:\t%d\n", s.Scored)
	_, _ = fmt.Fprintf(w, "  Partial:\t%d\n", s.Partial)
	_, _ = fmt.Fprintf(w, "  Default benchmark:\t%d\n", s.DefaultedCategory)
	_, _ = fmt.Fprintf(w, "Quartiles:\tQ1=%d Q2=%d Q3=%d Q4=%d\n", s.Quartiles[1], s.Quartiles[2], s.Quartiles[3], s.Quartiles[4])
	_, _ = fmt.Fprintf(w, "Insufficient data:\t%d\n", s.InsufficientData)
	_, _ = fmt.Fprintf(w, "Invalid:\t%d\n", s.Invalid)
	_, _ = fmt.Fprintf(w, "Storage failed:\t%d\n", s.StorageFailed)
	if s.Unprocessed > 0 {
		_, _ = fmt.Fprintf(w, "Unprocessed:\t%d\n", s.Unprocessed)
	}
	_ = w.Flush()

	for _, f := range s.Failures {
		_, _ = fmt.Fprintf(out, "  fund %d (%s): %s: %s\n", f.FundID, f.SchemeCode, f.Status, f.Reason)
	}
}
