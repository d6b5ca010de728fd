package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/trogers1052/drawdown-screener/internal/models"
	"github.com/trogers1052/drawdown-screener/internal/pipeline"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var (
		backfillDays int
		date         string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one screening pass and exit",
		Long: `Fetch daily bars for the universe, merge them into the stored series,
compute and rank drawdowns and write the results. With --backfill-days the
fetch window is widened to rebuild history.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := pipeline.Request{BackfillDays: backfillDays}
			if date != "" {
				d, err := time.Parse("2006-01-02", date)
				if err != nil {
					return fmt.Errorf("invalid --date %q: %w", date, err)
				}
				req.RunDate = d
			}
			if backfillDays < 0 {
				return fmt.Errorf("--backfill-days must not be negative")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.cfg.Pipeline.RunTimeout)
			defer cancel()

			a, err := newApp(ctx, opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.runner().Run(ctx, req)
			if report != nil {
				printReport(cmd, report)
			}
			if err != nil {
				return err
			}
			if report.Status == models.RunStatusFailed {
				return fmt.Errorf("run %s failed: %s", report.ID, report.Error)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&backfillDays, "backfill-days", 0, "fetch this many calendar days of history instead of the configured window")
	cmd.Flags().StringVar(&date, "date", "", "run date (YYYY-MM-DD), defaults to today")
	return cmd
}

func printReport(cmd *cobra.Command, r *models.RunReport) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s (%s): %s in %s\n", r.ID, models.DateKey(r.RunDate), r.Status, r.Duration().Round(time.Second))
	fmt.Fprintf(out, "  universe %d, fetched %d, computed %d, skipped %d, failed %d\n",
		r.UniverseSize, r.Fetched, r.Succeeded, r.TotalSkipped(), r.Failed)
	fmt.Fprintf(out, "  ranked %d, candidates written %d, portfolio positions %d\n",
		r.Ranked, r.CandidatesWritten, r.PortfolioPositions)
	if r.WorstDrawdownPct != nil {
		fmt.Fprintf(out, "  deepest drawdown %s %s%%\n", r.BestCandidate, r.WorstDrawdownPct.StringFixed(2))
	}
	if r.Error != "" {
		fmt.Fprintf(out, "  error: %s\n", r.Error)
	}
}
