package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sudhirig/mfscore/internal/model"
	"github.com/sudhirig/mfscore/internal/scorer"
	"github.com/sudhirig/mfscore/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// mockSource implements Source for testing.
type mockSource struct {
	stats       store.IntegrityStats
	staleBefore time.Time
	funds       []model.Fund
	scores      []model.FundScore
	scoreDate   time.Time
	runs        []model.RunEntry
	statsErr    error
}

func (m *mockSource) IntegrityStats(_ context.Context, staleBefore time.Time) (*store.IntegrityStats, error) {
	m.staleBefore = staleBefore
	if m.statsErr != nil {
		return nil, m.statsErr
	}
	st := m.stats
	return &st, nil
}

func (m *mockSource) ListFunds(context.Context, store.FundFilter) ([]model.Fund, error) {
	return m.funds, nil
}

func (m *mockSource) ListScores(_ context.Context, f store.ScoreFilter) ([]model.FundScore, error) {
	if f.Offset >= len(m.scores) {
		return nil, nil
	}
	end := min(f.Offset+f.Limit, len(m.scores))
	return m.scores[f.Offset:end], nil
}

func (m *mockSource) LatestScoreDate(context.Context) (time.Time, error) {
	if m.scoreDate.IsZero() {
		return time.Time{}, eris.Wrap(model.ErrNotFound, "store: latest score date")
	}
	return m.scoreDate, nil
}

func (m *mockSource) ListRuns(context.Context, int) ([]model.RunEntry, error) {
	return m.runs, nil
}

var auditNow = time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)

func newTestCollector(src Source) *Collector {
	c := NewCollector(src, scorer.DefaultConfig(), testMonitorConfig())
	c.now = func() time.Time { return auditNow }
	return c
}

func TestCollector_Scores(t *testing.T) {
	day := time.Date(2024, 6, 28, 0, 0, 0, 0, time.UTC)
	src := &mockSource{
		scoreDate: day,
		scores: []model.FundScore{
			{FundID: 1, HistoricalReturnsTotal: 30, RiskGradeTotal: 20, FundamentalsTotal: 10, OtherMetricsTotal: 5, TotalScore: 65},
			{FundID: 2, HistoricalReturnsTotal: 41, RiskGradeTotal: 20, FundamentalsTotal: 25, OtherMetricsTotal: 5, TotalScore: 91},
			{FundID: 3, HistoricalReturnsTotal: 40, RiskGradeTotal: 30, FundamentalsTotal: 20, OtherMetricsTotal: 10, TotalScore: 100.5},
		},
	}

	snap, err := newTestCollector(src).Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, day, snap.ScoreDate)
	assert.Equal(t, 3, snap.ScoresChecked)
	assert.Equal(t, 2, snap.ComponentOutOfBudget, "fund 2 breaks historical and fundamentals budgets")
	assert.Equal(t, 1, snap.TotalOutOfRange)
	require.Len(t, snap.Violations, 3)
	assert.Equal(t, Violation{FundID: 2, Field: "historical_returns_total", Value: 41, Max: 40}, snap.Violations[0])
	assert.Equal(t, "total_score", snap.Violations[2].Field)
}

func TestCollector_ScoresPaged(t *testing.T) {
	src := &mockSource{scoreDate: auditNow}
	for i := range 2500 {
		src.scores = append(src.scores, model.FundScore{FundID: int64(i), TotalScore: -1})
	}

	snap, err := newTestCollector(src).Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2500, snap.ScoresChecked)
	assert.Equal(t, 2500, snap.TotalOutOfRange)
	assert.Len(t, snap.Violations, maxViolations)
}

func TestCollector_NothingScored(t *testing.T) {
	snap, err := newTestCollector(&mockSource{}).Collect(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.ScoreDate.IsZero())
	assert.Zero(t, snap.ScoresChecked)
}

func TestCollector_StaleCutoff(t *testing.T) {
	src := &mockSource{}
	_, err := newTestCollector(src).Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 26, 0, 0, 0, 0, time.UTC), src.staleBefore)
}

func TestCollector_Benchmarks(t *testing.T) {
	src := &mockSource{
		stats: store.IntegrityStats{Indices: []string{"NIFTY 50", "NIFTY BANK"}},
		funds: []model.Fund{
			{ID: 1, Category: "Equity", Subcategory: "Large Cap"},
			{ID: 2, Category: "Equity", Subcategory: "Mid Cap"},
			{ID: 3, Category: "Equity", Subcategory: "Sectoral", BenchmarkIndex: "NIFTY BANK"},
			{ID: 4, Category: "Debt", Subcategory: "Liquid"},
			{ID: 5, Category: "Equity", Subcategory: "Small Cap", BenchmarkIndex: "NIFTY MIDCAP 100"},
		},
	}

	snap, err := newTestCollector(src).Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, snap.MissingBenchmark)
	assert.Equal(t, []string{"NIFTY AAA CORPORATE BOND", "NIFTY MIDCAP 100"}, snap.MissingIndices)
}

func TestCollector_Runs(t *testing.T) {
	src := &mockSource{runs: []model.RunEntry{
		{Kind: model.RunKindFeed, Name: "amfi", Status: model.RunStatusComplete, StartedAt: auditNow.Add(-time.Hour)},
		{Kind: model.RunKindFeed, Name: "mfapi", Status: model.RunStatusFailed, StartedAt: auditNow.Add(-2 * time.Hour)},
		{Kind: model.RunKindScore, Name: "score", Status: model.RunStatusFailed, StartedAt: auditNow.Add(-3 * time.Hour)},
		{Kind: model.RunKindFeed, Name: "fred", Status: model.RunStatusFailed, StartedAt: auditNow.Add(-48 * time.Hour)},
	}}

	snap, err := newTestCollector(src).Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, snap.FeedRuns)
	assert.Equal(t, 1, snap.FeedFailed)
	assert.Equal(t, 1, snap.ScoreRuns)
	assert.Equal(t, 1, snap.ScoreFailed)
	assert.Equal(t, []string{"feed:mfapi", "score:score"}, snap.FailedRuns)
}

func TestCollector_StatsError(t *testing.T) {
	src := &mockSource{statsErr: errors.New("db down")}
	_, err := newTestCollector(src).Collect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "integrity stats")
}
