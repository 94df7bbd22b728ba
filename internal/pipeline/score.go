package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/sudhirig/mfscore/internal/benchmark"
	"github.com/sudhirig/mfscore/internal/metrics"
	"github.com/sudhirig/mfscore/internal/model"
	"github.com/sudhirig/mfscore/internal/resilience"
	"github.com/sudhirig/mfscore/internal/scorer"
)

// Status is the per-fund outcome of a batch.
type Status string

const (
	StatusScored           Status = "scored"
	StatusInsufficientData Status = "insufficient_data"
	StatusInvalid          Status = "invalid"
	StatusStorageFailed    Status = "storage_failed"
)

// Outcome records what happened to one fund.
type Outcome struct {
	FundID     int64
	SchemeCode string
	Status     Status
	Reason     string
	// Score is set for scored funds.
	Score *model.FundScore
	// Written is set once Score has been upserted.
	Written bool
}

// scoreFund loads a fund's NAV history and scores it. The returned error is
// non-nil only when the batch must abort; every per-fund problem becomes an
// Outcome.
func (e *Engine) scoreFund(ctx context.Context, f model.Fund, b *batch) (Outcome, error) {
	out := Outcome{FundID: f.ID, SchemeCode: f.SchemeCode}
	log := e.log.With(zap.Int64("fund_id", f.ID), zap.String("scheme_code", f.SchemeCode))

	from := b.scoreDate.AddDate(0, 0, -navHistory)
	series, err := e.fetchNav(ctx, b, f.ID, from)
	switch {
	case err == nil:
	case errors.Is(err, resilience.ErrCircuitOpen), ctx.Err() != nil:
		return out, err
	case errors.Is(err, model.ErrNotFound):
		return skip(log, out, StatusInsufficientData, "no NAV history"), nil
	default:
		return skip(log, out, StatusStorageFailed, err.Error()), nil
	}

	if err := series.Validate(); err != nil {
		return skip(log, out, StatusInvalid, err.Error()), nil
	}
	if series.Len() < e.cfg.MinNavPoints {
		return skip(log, out, StatusInsufficientData,
			fmt.Sprintf("%d NAV points, need %d", series.Len(), e.cfg.MinNavPoints)), nil
	}

	tbl, known := e.tables.Lookup(f.Category)
	if !known {
		log.Warn("pipeline: scoring with default benchmark",
			zap.String("category", f.Category),
			zap.Error(model.ErrUnknownCategory),
		)
	}

	returns := metrics.ComputeReturns(series, b.scoreDate, model.AllPeriods(), e.cfg.Returns)
	risk := metrics.ComputeRisk(series, b.scoreDate, b.risk, metrics.RiskInput{
		Index:                     b.indices[benchmark.IndexForFund(f)],
		CategoryVolatilityPercent: tbl.TypicalVolatility,
	})
	if allAbsent(returns) && risk.Empty() {
		return skip(log, out, StatusInsufficientData, "no period return or risk metric computable"), nil
	}

	fs := scorer.Score(scorer.Input{
		FundID:       f.ID,
		Category:     f.Category,
		Subcategory:  f.Subcategory,
		AsOf:         b.scoreDate,
		Returns:      returns,
		Risk:         risk,
		Fundamentals: f.Fundamentals(),
	}, tbl, e.cfg.Scorer)
	fs.SchemeCode = f.SchemeCode
	fs.FundName = f.Name
	fs.DefaultBenchmark = !known
	fs.ConfigHash = b.hash

	out.Status = StatusScored
	out.Score = fs
	return out, nil
}

func (e *Engine) fetchNav(ctx context.Context, b *batch, fundID int64, from time.Time) (model.NavSeries, error) {
	return resilience.ExecuteVal(ctx, b.breaker, func(ctx context.Context) (model.NavSeries, error) {
		return resilience.DoVal(ctx, e.retry("get_nav_series", zap.Int64("fund_id", fundID)), func(ctx context.Context) (model.NavSeries, error) {
			fCtx, cancel := withTimeout(ctx, e.cfg.FetchTimeout)
			defer cancel()
			return e.store.GetNavSeries(fCtx, fundID, from, b.scoreDate)
		})
	})
}

// loadIndices reads each distinct benchmark index once. A missing index only
// downgrades beta to the volatility-ratio estimate.
func (e *Engine) loadIndices(ctx context.Context, funds []model.Fund, b *batch) (map[string]*model.NavSeries, error) {
	names := map[string]bool{}
	for _, f := range funds {
		names[benchmark.IndexForFund(f)] = true
	}
	sorted := make([]string, 0, len(names))
	for n := range names {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)

	from := b.scoreDate.Add(-b.risk.Lookback).AddDate(0, 0, -7)
	out := make(map[string]*model.NavSeries, len(sorted))
	for _, name := range sorted {
		s, err := resilience.ExecuteVal(ctx, b.breaker, func(ctx context.Context) (model.NavSeries, error) {
			return resilience.DoVal(ctx, e.retry("get_index_series", zap.String("index", name)), func(ctx context.Context) (model.NavSeries, error) {
				fCtx, cancel := withTimeout(ctx, e.cfg.FetchTimeout)
				defer cancel()
				return e.store.GetIndexSeries(fCtx, name, from, b.scoreDate)
			})
		})
		switch {
		case err == nil:
			out[name] = &s
		case errors.Is(err, resilience.ErrCircuitOpen), ctx.Err() != nil:
			return nil, abortError(ctx, err)
		case errors.Is(err, model.ErrNotFound):
			e.log.Debug("pipeline: no index history", zap.String("index", name))
		default:
			e.log.Warn("pipeline: index series unavailable", zap.String("index", name), zap.Error(err))
		}
	}
	return out, nil
}

func skip(log *zap.Logger, out Outcome, status Status, reason string) Outcome {
	out.Status = status
	out.Reason = reason
	log.Warn("pipeline: fund skipped", zap.String("status", string(status)), zap.String("reason", reason))
	return out
}

func allAbsent(returns map[model.Period]*float64) bool {
	for _, r := range returns {
		if r != nil {
			return false
		}
	}
	return true
}
