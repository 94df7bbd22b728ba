package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sudhirig/mfscore/internal/monitoring"
	"github.com/sudhirig/mfscore/internal/navsync/feed"
	"github.com/sudhirig/mfscore/internal/pipeline"
	"github.com/sudhirig/mfscore/internal/scheduler"
)

const (
	jobNavSync = "navsync"
	jobScore   = "score"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run nightly feed syncs, scoring and integrity audits",
	Long: "Long-running process that syncs feeds and scores funds on the configured cron " +
		"schedules and audits the store in the background, alerting on problems.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("feeds"); err != nil {
			return err
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
		feeds := newFeedEngine(st)

		s := scheduler.New()
		if err := s.Register(ctx, jobNavSync, cfg.Schedule.NavSyncCron, func(ctx context.Context) error {
			summary, err := feeds.Run(ctx, feed.RunOpts{})
			if err != nil {
				return err
			}
			if len(summary.Failed) > 0 {
				return eris.Errorf("navsync: feeds failed: %v", summary.Failed)
			}
			return nil
		}); err != nil {
			return err
		}
		if err := s.Register(ctx, jobScore, cfg.Schedule.ScoreCron, func(ctx context.Context) error {
			_, err := engine.Run(ctx, pipeline.Options{})
			return err
		}); err != nil {
			return err
		}

		collector, err := newCollector(st)
		if err != nil {
			return err
		}
		checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitor), cfg.Monitor)
		go checker.Run(ctx)

		if runNow, _ := cmd.Flags().GetBool("run-now"); runNow {
			for _, job := range []string{jobNavSync, jobScore} {
				if err := s.RunNow(ctx, job); err != nil {
					zap.L().Warn("startup job failed", zap.String("job", job), zap.Error(err))
				}
			}
		}

		s.Start()
		<-ctx.Done()

		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
		defer cancel()
		s.Stop(stopCtx)
		return nil
	},
}

func init() {
	scheduleCmd.Flags().Bool("run-now", false, "sync feeds and score once before waiting for the schedule")
	rootCmd.AddCommand(scheduleCmd)
}
