package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudhirig/mfscore/internal/fetcher"
	"github.com/sudhirig/mfscore/internal/model"
	"github.com/sudhirig/mfscore/internal/resilience"
	"github.com/sudhirig/mfscore/internal/store"
)

// stubFeed is a Feed with canned results.
type stubFeed struct {
	name   string
	due    bool
	rows   int64
	err    error
	synced int
}

func (s *stubFeed) Name() string     { return s.name }
func (s *stubFeed) Cadence() Cadence { return Daily }

func (s *stubFeed) ShouldRun(time.Time, *time.Time) bool { return s.due }

func (s *stubFeed) Sync(context.Context, store.NavWriter, fetcher.Fetcher) (*Result, error) {
	s.synced++
	if s.err != nil {
		return nil, s.err
	}
	return &Result{Rows: s.rows, Metadata: map[string]any{"ok": true}}, nil
}

func newTestEngine(ms *memStore, feeds ...Feed) *Engine {
	reg := &Registry{feeds: map[string]Feed{}}
	for _, f := range feeds {
		reg.Register(f)
	}
	e := NewEngine(ms, testFetcher(), reg, nil)
	e.now = func() time.Time { return time.Date(2024, 7, 1, 6, 0, 0, 0, time.UTC) }
	return e
}

func TestEngineRun(t *testing.T) {
	ms := newMemStore()
	ok := &stubFeed{name: "ok", due: true, rows: 10}
	idle := &stubFeed{name: "idle", due: false}
	bad := &stubFeed{name: "bad", due: true, err: errors.New("upstream broke")}

	summary, err := newTestEngine(ms, ok, idle, bad).Run(context.Background(), RunOpts{})
	require.NoError(t, err)

	assert.Equal(t, []string{"ok"}, summary.Synced)
	assert.Equal(t, []string{"idle"}, summary.Skipped)
	assert.Equal(t, []string{"bad"}, summary.Failed)
	assert.Equal(t, int64(10), summary.Rows)
	assert.Zero(t, idle.synced)

	runs := ms.runsByName()
	assert.Equal(t, model.RunStatusComplete, runs["ok"])
	assert.Equal(t, model.RunStatusFailed, runs["bad"])
	assert.NotContains(t, runs, "idle")

	entries, err := ms.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	for _, e := range entries {
		assert.Equal(t, model.RunKindFeed, e.Kind)
		if e.Name == "bad" {
			assert.Contains(t, e.Error, "upstream broke")
		}
	}
}

func TestEngineRun_Force(t *testing.T) {
	ms := newMemStore()
	idle := &stubFeed{name: "idle", due: false, rows: 1}

	summary, err := newTestEngine(ms, idle).Run(context.Background(), RunOpts{Force: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"idle"}, summary.Synced)
	assert.Equal(t, 1, idle.synced)
}

func TestEngineRun_SelectsFeeds(t *testing.T) {
	ms := newMemStore()
	a := &stubFeed{name: "a", due: true}
	b := &stubFeed{name: "b", due: true}

	summary, err := newTestEngine(ms, a, b).Run(context.Background(), RunOpts{Feeds: []string{"b"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, summary.Synced)
	assert.Zero(t, a.synced)

	_, err = newTestEngine(ms, a).Run(context.Background(), RunOpts{Feeds: []string{"nope"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown feed")
}

func TestEngineRun_CircuitOpens(t *testing.T) {
	ms := newMemStore()
	flaky := &stubFeed{name: "flaky", due: true, err: resilience.NewTransientError(errors.New("503"), 503)}

	reg := &Registry{feeds: map[string]Feed{}}
	reg.Register(flaky)
	breakers := resilience.NewServiceBreakers(resilience.CircuitBreakerConfig{
		FailureThreshold:  1,
		ResetTimeout:      time.Hour,
		HalfOpenMaxProbes: 1,
	})
	e := NewEngine(ms, testFetcher(), reg, breakers)

	for range 3 {
		summary, err := e.Run(context.Background(), RunOpts{Force: true})
		require.NoError(t, err)
		assert.Equal(t, []string{"flaky"}, summary.Failed)
	}
	assert.Equal(t, 1, flaky.synced, "open circuit skips the upstream call")
}

func TestEngineRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestEngine(newMemStore(), &stubFeed{name: "a", due: true}).Run(ctx, RunOpts{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestEngineRun_LastSuccessGatesSchedule(t *testing.T) {
	ms := newMemStore()
	ms.lastOK["mfapi"] = time.Date(2024, 7, 1, 1, 0, 0, 0, time.UTC) // Monday

	reg := &Registry{feeds: map[string]Feed{}}
	reg.Register(&MFAPI{BaseURL: "http://unused"})
	e := NewEngine(ms, testFetcher(), reg, nil)
	e.now = func() time.Time { return time.Date(2024, 7, 3, 6, 0, 0, 0, time.UTC) }

	summary, err := e.Run(context.Background(), RunOpts{})
	require.NoError(t, err)
	assert.Equal(t, []string{"mfapi"}, summary.Skipped)
}
