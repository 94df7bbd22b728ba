// Package pipeline runs a scoring batch: it loads the fund universe, scores
// every fund concurrently, ranks the peer groups once all scores are in and
// upserts one row per fund.
package pipeline

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sudhirig/mfscore/internal/benchmark"
	"github.com/sudhirig/mfscore/internal/config"
	"github.com/sudhirig/mfscore/internal/metrics"
	"github.com/sudhirig/mfscore/internal/model"
	"github.com/sudhirig/mfscore/internal/ranker"
	"github.com/sudhirig/mfscore/internal/resilience"
	"github.com/sudhirig/mfscore/internal/scorer"
	"github.com/sudhirig/mfscore/internal/store"
)

// Store is the persistence surface a batch needs.
type Store interface {
	store.NavReader
	store.ScoreWriter
	store.RunRecorder
}

// Risk-free rate sources.
const (
	RiskFreeFromConfig = "config"
	RiskFreeFromFRED   = "fred"
)

// navHistory covers the 5Y period plus its match tolerance.
const navHistory = 5*365 + 90

// Config parameterizes a batch.
type Config struct {
	Scorer           scorer.Config
	Returns          metrics.ReturnRules
	Risk             metrics.RiskConfig
	GroupBy          ranker.GroupBy
	MinReliableGroup int
	MinNavPoints     int

	Concurrency  int
	FetchTimeout time.Duration
	WriteTimeout time.Duration
	Retry        resilience.RetryConfig
	Breaker      resilience.CircuitBreakerConfig

	RiskFreeSource string
	RiskFreeSeries string
}

// DefaultConfig returns the standard batch configuration.
func DefaultConfig() Config {
	return Config{
		Scorer:           scorer.DefaultConfig(),
		Returns:          metrics.DefaultReturnRules(),
		Risk:             metrics.DefaultRiskConfig(),
		GroupBy:          ranker.GroupBySubcategory,
		MinReliableGroup: ranker.DefaultMinReliableGroup,
		MinNavPoints:     20,
		Concurrency:      8,
		FetchTimeout:     15 * time.Second,
		WriteTimeout:     10 * time.Second,
		Retry:            resilience.DefaultRetryConfig(),
		Breaker:          resilience.DefaultCircuitBreakerConfig(),
		RiskFreeSource:   RiskFreeFromConfig,
	}
}

// ConfigFromScoring builds a Config from the scoring and feeds sections.
func ConfigFromScoring(sc config.ScoringConfig, fc config.FeedsConfig) (Config, error) {
	cfg := DefaultConfig()

	sCfg, err := scorer.FromScoringConfig(sc)
	if err != nil {
		return Config{}, err
	}
	cfg.Scorer = sCfg

	if sc.GroupBy != "" {
		by, err := ranker.ParseGroupBy(sc.GroupBy)
		if err != nil {
			return Config{}, eris.Wrap(err, "pipeline: group_by")
		}
		cfg.GroupBy = by
	}
	if sc.MinReliableGroup > 0 {
		cfg.MinReliableGroup = sc.MinReliableGroup
	}
	if sc.MinNavPoints > 0 {
		cfg.MinNavPoints = sc.MinNavPoints
	}

	if sc.RiskLookbackDays > 0 {
		cfg.Risk.Lookback = time.Duration(sc.RiskLookbackDays) * 24 * time.Hour
	}
	if sc.OutlierThreshold > 0 {
		cfg.Risk.OutlierThreshold = sc.OutlierThreshold
	}
	if sc.MinDailyReturns > 0 {
		cfg.Risk.MinObservations = sc.MinDailyReturns
	}
	cfg.Risk.RiskFreeRatePercent = sc.RiskFreeRate

	if sc.Concurrency > 0 {
		cfg.Concurrency = sc.Concurrency
	}
	if sc.FetchTimeoutSecs > 0 {
		cfg.FetchTimeout = time.Duration(sc.FetchTimeoutSecs) * time.Second
	}
	if sc.WriteTimeoutSecs > 0 {
		cfg.WriteTimeout = time.Duration(sc.WriteTimeoutSecs) * time.Second
	}
	cfg.Retry = resilience.FromRetryConfig(sc.RetryMaxAttempts, sc.RetryInitialBackoffMs,
		sc.RetryMaxBackoffMs, sc.RetryMultiplier, sc.RetryJitter)
	cfg.Breaker = resilience.FromCircuitConfig(sc.CircuitThreshold, sc.CircuitResetSecs)

	switch sc.RiskFreeSource {
	case "", RiskFreeFromConfig:
		cfg.RiskFreeSource = RiskFreeFromConfig
	case RiskFreeFromFRED:
		cfg.RiskFreeSource = RiskFreeFromFRED
		cfg.RiskFreeSeries = fc.FREDSeries
	default:
		return Config{}, eris.Errorf("pipeline: unknown risk_free_source %q", sc.RiskFreeSource)
	}
	return cfg, nil
}

// Options selects what a batch scores.
type Options struct {
	// ScoreDate defaults to today (UTC).
	ScoreDate time.Time
	FundIDs   []int64
	Category  string
	Limit     int
	// DryRun computes and ranks without writing scores or a run log entry.
	DryRun bool
}

func (o Options) filtered() bool {
	return len(o.FundIDs) > 0 || o.Category != "" || o.Limit > 0
}

// Result is the outcome of one batch.
type Result struct {
	RunID        string             `json:"run_id,omitempty"`
	ScoreDate    time.Time          `json:"score_date"`
	ConfigHash   string             `json:"config_hash"`
	RiskFreeRate float64            `json:"risk_free_rate"`
	Scores       []*model.FundScore `json:"scores"`
	Summary      Summary            `json:"summary"`
}

// Engine runs scoring batches against a Store.
type Engine struct {
	store  Store
	cfg    Config
	tables *benchmark.Set
	log    *zap.Logger
	now    func() time.Time
}

// New creates an Engine. A nil tables uses the built-in benchmark set.
func New(st Store, cfg Config, tables *benchmark.Set) *Engine {
	if tables == nil {
		tables = benchmark.Defaults()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Engine{
		store:  st,
		cfg:    cfg,
		tables: tables,
		log:    zap.L().With(zap.String("component", "pipeline")),
		now:    time.Now,
	}
}

// batch is the per-run state shared by the worker goroutines.
type batch struct {
	scoreDate time.Time
	risk      metrics.RiskConfig
	hash      string
	indices   map[string]*model.NavSeries
	breaker   *resilience.CircuitBreaker
}

// Run scores one batch. Per-fund failures are recorded in the summary and
// never stop the batch; the batch aborts only when ctx is cancelled or the
// store circuit opens. Scores committed before an abort stay committed.
func (e *Engine) Run(ctx context.Context, opts Options) (*Result, error) {
	scoreDate := model.Day(opts.ScoreDate)
	if opts.ScoreDate.IsZero() {
		scoreDate = model.Day(e.now())
	}
	log := e.log.With(zap.String("score_date", scoreDate.Format(time.DateOnly)))

	b := &batch{
		scoreDate: scoreDate,
		risk:      e.cfg.Risk,
		breaker:   resilience.NewCircuitBreaker(withStateLog(e.cfg.Breaker, log)),
	}
	b.risk.RiskFreeRatePercent = e.riskFreeRate(ctx, scoreDate)
	b.hash = e.configHash(b.risk)

	res := &Result{ScoreDate: scoreDate, ConfigHash: b.hash, RiskFreeRate: b.risk.RiskFreeRatePercent}

	if !opts.DryRun {
		runID, err := e.store.StartRun(ctx, model.RunKindScore, "score", &scoreDate, b.hash)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: start run")
		}
		res.RunID = runID
		log = log.With(zap.String("run_id", runID))
	}
	log.Info("pipeline: starting batch",
		zap.String("config_hash", b.hash),
		zap.Float64("risk_free_rate", b.risk.RiskFreeRatePercent),
		zap.Bool("dry_run", opts.DryRun),
	)

	start := time.Now()
	err := e.run(ctx, opts, b, res)
	e.finish(ctx, res, err, log, time.Since(start))
	if err != nil {
		return res, err
	}
	return res, nil
}

func (e *Engine) run(ctx context.Context, opts Options, b *batch, res *Result) error {
	selected, err := e.listFunds(ctx, store.FundFilter{
		FundIDs:  opts.FundIDs,
		Category: opts.Category,
		HasNAV:   true,
		Limit:    opts.Limit,
	})
	if err != nil {
		return err
	}
	res.Summary.Funds = len(selected)
	if len(selected) == 0 {
		return nil
	}

	// A filtered run still ranks against the whole peer group; peers are
	// scored but never written.
	funds := selected
	if opts.filtered() {
		if funds, err = e.withPeers(ctx, selected); err != nil {
			return err
		}
	}
	n := len(selected)

	b.indices, err = e.loadIndices(ctx, funds, b)
	if err != nil {
		res.Summary.tally(nil, true)
		return err
	}

	// Score every fund. The ranker below is the only barrier.
	outcomes := make([]Outcome, len(funds))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i, f := range funds {
		if gCtx.Err() != nil {
			break
		}
		g.Go(func() error {
			out, err := e.scoreFund(gCtx, f, b)
			if err != nil {
				return err
			}
			outcomes[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		res.Summary.tally(outcomes[:n], !opts.DryRun)
		return abortError(ctx, err)
	}

	var scores []*model.FundScore
	for _, o := range outcomes {
		if o.Score != nil {
			scores = append(scores, o.Score)
		}
	}
	ranker.Rank(scores, e.cfg.GroupBy, e.cfg.MinReliableGroup)
	for _, o := range outcomes[:n] {
		if o.Score != nil {
			scorer.Apply(o.Score)
			res.Scores = append(res.Scores, o.Score)
		}
	}

	if opts.DryRun {
		res.Summary.tally(outcomes[:n], false)
		return nil
	}

	err = e.writeScores(ctx, outcomes[:n], b)
	res.Summary.tally(outcomes[:n], true)
	return err
}

func (e *Engine) listFunds(ctx context.Context, filter store.FundFilter) ([]model.Fund, error) {
	funds, err := resilience.DoVal(ctx, e.retry("list_funds"), func(ctx context.Context) ([]model.Fund, error) {
		return e.store.ListFunds(ctx, filter)
	})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: list funds")
	}
	return funds, nil
}

// withPeers returns selected followed by every other fund with NAV history
// that shares a peer group with one of them.
func (e *Engine) withPeers(ctx context.Context, selected []model.Fund) ([]model.Fund, error) {
	all, err := e.listFunds(ctx, store.FundFilter{HasNAV: true})
	if err != nil {
		return nil, err
	}
	groups := make(map[string]bool, len(selected))
	ids := make(map[int64]bool, len(selected))
	for _, f := range selected {
		groups[ranker.FundGroupKey(f, e.cfg.GroupBy)] = true
		ids[f.ID] = true
	}
	funds := slices.Clone(selected)
	for _, f := range all {
		if !ids[f.ID] && groups[ranker.FundGroupKey(f, e.cfg.GroupBy)] {
			ids[f.ID] = true
			funds = append(funds, f)
		}
	}
	if peers := len(funds) - len(selected); peers > 0 {
		e.log.Debug("pipeline: ranking filtered run against peers",
			zap.Int("selected", len(selected)), zap.Int("peers", peers))
	}
	return funds, nil
}

// writeScores upserts every scored fund. A rejected or failed write marks
// that fund as storage-failed; an open circuit aborts the rest.
func (e *Engine) writeScores(ctx context.Context, outcomes []Outcome, b *batch) error {
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i := range outcomes {
		o := &outcomes[i]
		if o.Score == nil {
			continue
		}
		if gCtx.Err() != nil {
			break
		}
		g.Go(func() error {
			err := e.writeScore(gCtx, b, o.Score)
			if err == nil {
				o.Written = true
				return nil
			}
			if errors.Is(err, resilience.ErrCircuitOpen) || gCtx.Err() != nil {
				return err
			}
			o.Status = StatusStorageFailed
			o.Reason = err.Error()
			e.log.Warn("pipeline: score write failed",
				zap.Int64("fund_id", o.FundID), zap.Error(err))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return abortError(ctx, err)
	}
	return nil
}

func (e *Engine) writeScore(ctx context.Context, b *batch, fs *model.FundScore) error {
	return b.breaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.Do(ctx, e.retry("upsert_fund_score", zap.Int64("fund_id", fs.FundID)), func(ctx context.Context) error {
			wCtx, cancel := withTimeout(ctx, e.cfg.WriteTimeout)
			defer cancel()
			return e.store.UpsertFundScore(wCtx, fs)
		})
	})
}

// finish records the batch outcome in the run log and logs the summary.
func (e *Engine) finish(ctx context.Context, res *Result, runErr error, log *zap.Logger, elapsed time.Duration) {
	s := res.Summary
	fields := []zap.Field{
		zap.Int("funds", s.Funds),
		zap.Int("scored", s.Scored),
		zap.Int("partial", s.Partial),
		zap.Int("insufficient_data", s.InsufficientData),
		zap.Int("invalid", s.Invalid),
		zap.Int("storage_failed", s.StorageFailed),
		zap.Int("defaulted_category", s.DefaultedCategory),
		zap.Duration("elapsed", elapsed),
	}
	if runErr != nil {
		log.Error("pipeline: batch aborted", append(fields, zap.Error(runErr))...)
	} else {
		log.Info("pipeline: batch complete", fields...)
	}
	if res.RunID == "" {
		return
	}

	// Bookkeeping must land even when the batch was cancelled.
	bCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if runErr != nil {
		if err := e.store.FailRun(bCtx, res.RunID, runErr.Error()); err != nil {
			log.Warn("pipeline: failed to record failed run", zap.Error(err))
		}
		return
	}
	if err := e.store.CompleteRun(bCtx, res.RunID, int64(s.Scored), s.Map()); err != nil {
		log.Warn("pipeline: failed to complete run", zap.Error(err))
	}
}

// riskFreeRate returns the configured rate, or the latest FRED observation
// on or before scoreDate when the source is fred. Lookup failures fall back
// to the configured rate.
func (e *Engine) riskFreeRate(ctx context.Context, scoreDate time.Time) float64 {
	fallback := e.cfg.Risk.RiskFreeRatePercent
	if e.cfg.RiskFreeSource != RiskFreeFromFRED || e.cfg.RiskFreeSeries == "" {
		return fallback
	}
	type obs struct {
		value float64
		date  time.Time
	}
	o, err := resilience.DoVal(ctx, e.retry("latest_macro_value"), func(ctx context.Context) (obs, error) {
		fCtx, cancel := withTimeout(ctx, e.cfg.FetchTimeout)
		defer cancel()
		v, d, err := e.store.LatestMacroValue(fCtx, e.cfg.RiskFreeSeries, scoreDate)
		return obs{v, d}, err
	})
	if err != nil {
		e.log.Warn("pipeline: risk-free rate unavailable, using configured rate",
			zap.String("series", e.cfg.RiskFreeSeries),
			zap.Float64("rate", fallback),
			zap.Error(err),
		)
		return fallback
	}
	e.log.Debug("pipeline: risk-free rate from macro series",
		zap.String("series", e.cfg.RiskFreeSeries),
		zap.Float64("rate", o.value),
		zap.Time("observed", o.date),
	)
	return o.value
}

// hashInput is everything that changes a score for identical NAV data.
type hashInput struct {
	Scorer           scorer.Config       `json:"scorer"`
	Returns          metrics.ReturnRules `json:"returns"`
	Risk             metrics.RiskConfig  `json:"risk"`
	GroupBy          ranker.GroupBy      `json:"group_by"`
	MinReliableGroup int                 `json:"min_reliable_group"`
	MinNavPoints     int                 `json:"min_nav_points"`
	Benchmarks       []benchmark.Table   `json:"benchmarks"`
}

func (e *Engine) configHash(risk metrics.RiskConfig) string {
	in := hashInput{
		Scorer:           e.cfg.Scorer,
		Returns:          e.cfg.Returns,
		Risk:             risk,
		GroupBy:          e.cfg.GroupBy,
		MinReliableGroup: e.cfg.MinReliableGroup,
		MinNavPoints:     e.cfg.MinNavPoints,
	}
	for _, c := range e.tables.Categories() {
		t, _ := e.tables.Lookup(c)
		in.Benchmarks = append(in.Benchmarks, t)
	}
	in.Benchmarks = append(in.Benchmarks, e.tables.Default())
	return scorer.ConfigHash(in)
}

func (e *Engine) retry(op string, fields ...zap.Field) resilience.RetryConfig {
	rc := e.cfg.Retry
	rc.OnRetry = resilience.RetryLogger("store", op, fields...)
	return rc
}

func withStateLog(cfg resilience.CircuitBreakerConfig, log *zap.Logger) resilience.CircuitBreakerConfig {
	cfg.OnStateChange = func(from, to resilience.CircuitState) {
		log.Warn("pipeline: store circuit state changed",
			zap.Stringer("from", from), zap.Stringer("to", to))
	}
	return cfg
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

// abortError prefers the caller's cancellation over the worker error it
// caused.
func abortError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return eris.Wrap(ctxErr, "pipeline: batch cancelled")
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return eris.Wrap(err, "pipeline: batch aborted, score store unavailable")
	}
	return eris.Wrap(err, "pipeline: batch aborted")
}
