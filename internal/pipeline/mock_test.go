package pipeline

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/sudhirig/mfscore/internal/model"
	"github.com/sudhirig/mfscore/internal/resilience"
	"github.com/sudhirig/mfscore/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var scoreDay = time.Date(2024, 6, 28, 0, 0, 0, 0, time.UTC)

// --- Store Mock ---

type mockStore struct {
	mock.Mock

	mu      sync.Mutex
	written map[int64]*model.FundScore
}

func newMockStore() *mockStore {
	return &mockStore{written: map[int64]*model.FundScore{}}
}

func (m *mockStore) ListFunds(ctx context.Context, filter store.FundFilter) ([]model.Fund, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Fund), args.Error(1)
}

func (m *mockStore) GetNavSeries(ctx context.Context, fundID int64, from, to time.Time) (model.NavSeries, error) {
	args := m.Called(ctx, fundID, from, to)
	return args.Get(0).(model.NavSeries), args.Error(1)
}

func (m *mockStore) GetIndexSeries(ctx context.Context, indexName string, from, to time.Time) (model.NavSeries, error) {
	args := m.Called(ctx, indexName, from, to)
	return args.Get(0).(model.NavSeries), args.Error(1)
}

func (m *mockStore) LatestMacroValue(ctx context.Context, seriesID string, asOf time.Time) (float64, time.Time, error) {
	args := m.Called(ctx, seriesID, asOf)
	return args.Get(0).(float64), args.Get(1).(time.Time), args.Error(2)
}

func (m *mockStore) UpsertFundScore(ctx context.Context, fs *model.FundScore) error {
	args := m.Called(ctx, fs)
	if err := args.Error(0); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *fs
	m.written[fs.FundID] = &cp
	return nil
}

func (m *mockStore) StartRun(ctx context.Context, kind model.RunKind, name string, scoreDate *time.Time, configHash string) (string, error) {
	args := m.Called(ctx, kind, name, scoreDate, configHash)
	return args.String(0), args.Error(1)
}

func (m *mockStore) CompleteRun(ctx context.Context, id string, rows int64, summary map[string]any) error {
	args := m.Called(ctx, id, rows, summary)
	return args.Error(0)
}

func (m *mockStore) FailRun(ctx context.Context, id string, errMsg string) error {
	args := m.Called(ctx, id, errMsg)
	return args.Error(0)
}

func (m *mockStore) LastSuccess(ctx context.Context, kind model.RunKind, name string) (*time.Time, error) {
	args := m.Called(ctx, kind, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*time.Time), args.Error(1)
}

func (m *mockStore) ListRuns(ctx context.Context, limit int) ([]model.RunEntry, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.RunEntry), args.Error(1)
}

func (m *mockStore) writtenScore(fundID int64) *model.FundScore {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.written[fundID]
}

// --- Fixtures ---

// navSeries builds six years of weekday NAVs ending at scoreDay, growing
// at growth per day with a small deterministic wiggle.
func navSeries(fundID int64, growth, wiggle float64) model.NavSeries {
	s := model.NavSeries{FundID: fundID}
	start := scoreDay.AddDate(-6, 0, 0)
	i := 0
	for d := start; !d.After(scoreDay); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		v := 100 * math.Exp(growth*float64(i)) * (1 + wiggle*math.Sin(float64(i)*0.7))
		s.Points = append(s.Points, model.NavPoint{Date: d, Value: v})
		i++
	}
	return s
}

func equityFund(id int64) model.Fund {
	return model.Fund{
		ID:          id,
		SchemeCode:  fmt.Sprintf("1000%d", id),
		Name:        fmt.Sprintf("Fund %d", id),
		Category:    "Equity",
		Subcategory: "Large Cap Fund",
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Concurrency = 4
	cfg.Retry = resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
	cfg.Breaker = resilience.CircuitBreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute}
	return cfg
}

func newTestEngine(st Store, cfg Config) *Engine {
	e := New(st, cfg, nil)
	e.now = func() time.Time { return scoreDay.Add(20 * time.Hour) }
	return e
}

// expectUniverse registers funds and their NAV series; index lookups find
// nothing.
func expectUniverse(st *mockStore, funds []model.Fund, series map[int64]model.NavSeries) {
	st.On("ListFunds", mock.Anything, mock.AnythingOfType("store.FundFilter")).Return(funds, nil)
	st.On("GetIndexSeries", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(model.NavSeries{}, model.ErrNotFound).Maybe()
	for id, s := range series {
		st.On("GetNavSeries", mock.Anything, id, mock.Anything, mock.Anything).Return(s, nil)
	}
}

func expectRun(st *mockStore) {
	st.On("StartRun", mock.Anything, model.RunKindScore, "score", mock.Anything, mock.AnythingOfType("string")).
		Return("run-1", nil)
}
