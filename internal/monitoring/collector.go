// Package monitoring audits stored funds, NAVs, scores and runs for
// integrity problems and turns the findings into alerts.
package monitoring

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sudhirig/mfscore/internal/benchmark"
	"github.com/sudhirig/mfscore/internal/config"
	"github.com/sudhirig/mfscore/internal/model"
	"github.com/sudhirig/mfscore/internal/scorer"
	"github.com/sudhirig/mfscore/internal/store"
)

// maxViolations caps the sample of score violations kept in a snapshot.
const maxViolations = 20

// Violation is one persisted score component outside its allowed range.
type Violation struct {
	FundID int64   `json:"fund_id"`
	Field  string  `json:"field"`
	Value  float64 `json:"value"`
	Max    float64 `json:"max"`
}

// Snapshot holds a point-in-time view of data integrity.
type Snapshot struct {
	// Scores on the latest score date.
	ScoreDate            time.Time   `json:"score_date,omitzero"`
	ScoresChecked        int         `json:"scores_checked"`
	ComponentOutOfBudget int         `json:"component_out_of_budget"`
	TotalOutOfRange      int         `json:"total_out_of_range"`
	Violations           []Violation `json:"violations,omitempty"`

	Store store.IntegrityStats `json:"store"`
	// MissingBenchmark counts funds whose resolved benchmark index has no
	// closes, so beta falls back to the volatility ratio.
	MissingBenchmark int      `json:"missing_benchmark"`
	MissingIndices   []string `json:"missing_indices,omitempty"`

	// Runs started within the lookback window.
	FeedRuns    int      `json:"feed_runs"`
	FeedFailed  int      `json:"feed_failed"`
	ScoreRuns   int      `json:"score_runs"`
	ScoreFailed int      `json:"score_failed"`
	FailedRuns  []string `json:"failed_runs,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Source is the store surface the collector reads.
type Source interface {
	store.Auditor
	ListFunds(ctx context.Context, filter store.FundFilter) ([]model.Fund, error)
	ListScores(ctx context.Context, filter store.ScoreFilter) ([]model.FundScore, error)
	LatestScoreDate(ctx context.Context) (time.Time, error)
	ListRuns(ctx context.Context, limit int) ([]model.RunEntry, error)
}

// Collector gathers integrity snapshots.
type Collector struct {
	src     Source
	budgets scorer.Config
	cfg     config.MonitorConfig
	now     func() time.Time
}

// NewCollector creates a collector that checks score components against
// the budgets in sc.
func NewCollector(src Source, sc scorer.Config, cfg config.MonitorConfig) *Collector {
	return &Collector{src: src, budgets: sc, cfg: cfg, now: time.Now}
}

// Collect gathers a snapshot.
func (c *Collector) Collect(ctx context.Context) (*Snapshot, error) {
	now := c.now().UTC()
	snap := &Snapshot{LookbackHours: c.cfg.LookbackHours, CollectedAt: now}

	if err := c.collectScores(ctx, snap); err != nil {
		return nil, err
	}

	staleDays := c.cfg.StaleNavDays
	if staleDays <= 0 {
		staleDays = 5
	}
	stats, err := c.src.IntegrityStats(ctx, model.Day(now).AddDate(0, 0, -staleDays))
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: integrity stats")
	}
	snap.Store = *stats

	if err := c.collectBenchmarks(ctx, snap); err != nil {
		return nil, err
	}
	if err := c.collectRuns(ctx, snap, now); err != nil {
		return nil, err
	}
	return snap, nil
}

func (c *Collector) collectScores(ctx context.Context, snap *Snapshot) error {
	date, err := c.src.LatestScoreDate(ctx)
	if errors.Is(err, model.ErrNotFound) {
		return nil
	}
	if err != nil {
		return eris.Wrap(err, "monitoring: latest score date")
	}
	snap.ScoreDate = date

	const page = 1000
	for offset := 0; ; offset += page {
		scores, err := c.src.ListScores(ctx, store.ScoreFilter{ScoreDate: date, Limit: page, Offset: offset})
		if err != nil {
			return eris.Wrap(err, "monitoring: list scores")
		}
		for i := range scores {
			c.checkScore(snap, &scores[i])
		}
		snap.ScoresChecked += len(scores)
		if len(scores) < page {
			return nil
		}
	}
}

func (c *Collector) checkScore(snap *Snapshot, fs *model.FundScore) {
	components := []struct {
		field string
		v     float64
		max   float64
	}{
		{"historical_returns_total", fs.HistoricalReturnsTotal, c.budgets.HistoricalBudget},
		{"risk_grade_total", fs.RiskGradeTotal, c.budgets.RiskBudget},
		{"fundamentals_total", fs.FundamentalsTotal, c.budgets.FundamentalsBudget},
		{"other_metrics_total", fs.OtherMetricsTotal, c.budgets.OtherBudget},
	}
	for _, comp := range components {
		if comp.v < 0 || comp.v > comp.max {
			snap.ComponentOutOfBudget++
			snap.addViolation(Violation{FundID: fs.FundID, Field: comp.field, Value: comp.v, Max: comp.max})
		}
	}
	if fs.TotalScore < 0 || fs.TotalScore > 100 {
		snap.TotalOutOfRange++
		snap.addViolation(Violation{FundID: fs.FundID, Field: "total_score", Value: fs.TotalScore, Max: 100})
	}
}

func (s *Snapshot) addViolation(v Violation) {
	if len(s.Violations) < maxViolations {
		s.Violations = append(s.Violations, v)
	}
}

func (c *Collector) collectBenchmarks(ctx context.Context, snap *Snapshot) error {
	funds, err := c.src.ListFunds(ctx, store.FundFilter{HasNAV: true})
	if err != nil {
		return eris.Wrap(err, "monitoring: list funds")
	}
	missing := map[string]bool{}
	for _, f := range funds {
		index := benchmark.IndexForFund(f)
		if !slices.Contains(snap.Store.Indices, index) {
			snap.MissingBenchmark++
			missing[index] = true
		}
	}
	for name := range missing {
		snap.MissingIndices = append(snap.MissingIndices, name)
	}
	slices.Sort(snap.MissingIndices)
	return nil
}

func (c *Collector) collectRuns(ctx context.Context, snap *Snapshot, now time.Time) error {
	runs, err := c.src.ListRuns(ctx, 1000)
	if err != nil {
		return eris.Wrap(err, "monitoring: list runs")
	}
	cutoff := now.Add(-time.Duration(c.cfg.LookbackHours) * time.Hour)
	for _, r := range runs {
		if r.StartedAt.Before(cutoff) {
			continue
		}
		failed := r.Status == model.RunStatusFailed
		switch r.Kind {
		case model.RunKindFeed:
			snap.FeedRuns++
			if failed {
				snap.FeedFailed++
			}
		case model.RunKindScore:
			snap.ScoreRuns++
			if failed {
				snap.ScoreFailed++
			}
		}
		if failed {
			snap.FailedRuns = append(snap.FailedRuns, string(r.Kind)+":"+r.Name)
		}
	}
	return nil
}
