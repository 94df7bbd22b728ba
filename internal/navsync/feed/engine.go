package feed

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sudhirig/mfscore/internal/fetcher"
	"github.com/sudhirig/mfscore/internal/model"
	"github.com/sudhirig/mfscore/internal/resilience"
)

// Engine runs feeds and records each run in run_log.
type Engine struct {
	store    Store
	fetcher  fetcher.Fetcher
	reg      *Registry
	breakers *resilience.ServiceBreakers
	now      func() time.Time
}

// RunOpts selects feeds and scheduling behaviour.
type RunOpts struct {
	Feeds []string // restrict to these feed names
	Force bool     // ignore ShouldRun scheduling
}

// RunSummary counts feed outcomes for one engine run.
type RunSummary struct {
	Synced  []string `json:"synced"`
	Skipped []string `json:"skipped"`
	Failed  []string `json:"failed"`
	Rows    int64    `json:"rows"`
}

// NewEngine creates a feed engine. breakers isolates each feed so a feed
// that keeps failing is skipped until its breaker cools down.
func NewEngine(s Store, f fetcher.Fetcher, reg *Registry, breakers *resilience.ServiceBreakers) *Engine {
	if breakers == nil {
		breakers = resilience.NewServiceBreakers(resilience.DefaultCircuitBreakerConfig())
	}
	return &Engine{store: s, fetcher: f, reg: reg, breakers: breakers, now: time.Now}
}

// Run syncs every selected feed that is due. A failing feed is recorded and
// does not stop the others; only run_log bookkeeping errors and
// cancellation abort the run.
func (e *Engine) Run(ctx context.Context, opts RunOpts) (*RunSummary, error) {
	log := zap.L().With(zap.String("component", "navsync.engine"))
	now := e.now().UTC()

	feeds, err := e.reg.Select(opts.Feeds)
	if err != nil {
		return nil, err
	}
	summary := &RunSummary{}
	if len(feeds) == 0 {
		log.Info("no feeds selected")
		return summary, nil
	}

	for _, fd := range feeds {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		name := fd.Name()
		flog := log.With(zap.String("feed", name), zap.String("cadence", string(fd.Cadence())))

		if !opts.Force {
			last, err := e.store.LastSuccess(ctx, model.RunKindFeed, name)
			if err != nil {
				return summary, eris.Wrapf(err, "engine: check last sync for %s", name)
			}
			if !fd.ShouldRun(now, last) {
				flog.Debug("skipping (not due)")
				summary.Skipped = append(summary.Skipped, name)
				continue
			}
		}

		runID, err := e.store.StartRun(ctx, model.RunKindFeed, name, nil, "")
		if err != nil {
			return summary, eris.Wrapf(err, "engine: start run for %s", name)
		}
		flog = flog.With(zap.String("run_id", runID))
		flog.Info("starting sync")

		start := time.Now()
		result, err := resilience.ExecuteVal(ctx, e.breakers.Get(name), func(ctx context.Context) (*Result, error) {
			return fd.Sync(ctx, e.store, e.fetcher)
		})
		elapsed := time.Since(start)

		if err != nil {
			if errors.Is(err, resilience.ErrCircuitOpen) {
				flog.Warn("feed circuit open, skipping")
			} else {
				flog.Error("sync failed", zap.Error(err), zap.Duration("elapsed", elapsed))
			}
			if logErr := e.store.FailRun(ctx, runID, err.Error()); logErr != nil {
				flog.Error("failed to record sync failure", zap.Error(logErr))
			}
			summary.Failed = append(summary.Failed, name)
			continue
		}

		if err := e.store.CompleteRun(ctx, runID, result.Rows, result.Metadata); err != nil {
			flog.Error("failed to record sync completion", zap.Error(err))
		}
		flog.Info("sync complete", zap.Int64("rows", result.Rows), zap.Duration("elapsed", elapsed))
		summary.Synced = append(summary.Synced, name)
		summary.Rows += result.Rows
	}

	log.Info("engine run complete",
		zap.Int("synced", len(summary.Synced)),
		zap.Int("skipped", len(summary.Skipped)),
		zap.Int("failed", len(summary.Failed)),
		zap.Int64("rows", summary.Rows),
	)
	return summary, nil
}
