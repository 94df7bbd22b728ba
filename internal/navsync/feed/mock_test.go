package feed

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sudhirig/mfscore/internal/fetcher"
	"github.com/sudhirig/mfscore/internal/model"
	"github.com/sudhirig/mfscore/internal/resilience"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func testFetcher() *fetcher.HTTPFetcher {
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:         "test",
		RequestsPerSecond: 1000,
		Burst:             100,
		Retry:             resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond},
	})
}

type runRecord struct {
	kind   model.RunKind
	name   string
	status string
	rows   int64
	err    string
	meta   map[string]any
}

// memStore is an in-memory feed.Store.
type memStore struct {
	mu      sync.Mutex
	nextID  int64
	funds   map[string]model.Fund
	ids     map[string]int64
	nav     map[int64][]model.NavPoint
	index   map[string][]model.NavPoint
	macro   map[string][]model.NavPoint
	runs    map[string]*runRecord
	runList []string
	lastOK  map[string]time.Time
}

func newMemStore() *memStore {
	return &memStore{
		funds:  map[string]model.Fund{},
		ids:    map[string]int64{},
		nav:    map[int64][]model.NavPoint{},
		index:  map[string][]model.NavPoint{},
		macro:  map[string][]model.NavPoint{},
		runs:   map[string]*runRecord{},
		lastOK: map[string]time.Time{},
	}
}

func (m *memStore) UpsertFunds(_ context.Context, funds []model.Fund) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range funds {
		if _, ok := m.ids[f.SchemeCode]; !ok {
			m.nextID++
			m.ids[f.SchemeCode] = m.nextID
		}
		f.ID = m.ids[f.SchemeCode]
		m.funds[f.SchemeCode] = f
	}
	out := make(map[string]int64, len(m.ids))
	for k, v := range m.ids {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) FundIDsBySchemeCode(ctx context.Context) (map[string]int64, error) {
	return m.UpsertFunds(ctx, nil)
}

func mergePoints(dst, src []model.NavPoint) []model.NavPoint {
	byDay := map[time.Time]float64{}
	for _, p := range dst {
		byDay[p.Date] = p.Value
	}
	for _, p := range src {
		byDay[p.Date] = p.Value
	}
	out := make([]model.NavPoint, 0, len(byDay))
	for d, v := range byDay {
		out = append(out, model.NavPoint{Date: d, Value: v})
	}
	slices.SortFunc(out, func(a, b model.NavPoint) int { return a.Date.Compare(b.Date) })
	return out
}

func (m *memStore) UpsertNav(_ context.Context, fundID int64, points []model.NavPoint) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nav[fundID] = mergePoints(m.nav[fundID], points)
	return int64(len(points)), nil
}

func (m *memStore) UpsertNavBatch(_ context.Context, navs map[int64]model.NavPoint) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range navs {
		m.nav[id] = mergePoints(m.nav[id], []model.NavPoint{p})
	}
	return int64(len(navs)), nil
}

func (m *memStore) UpsertIndex(_ context.Context, name string, points []model.NavPoint) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.index[name] = mergePoints(m.index[name], points)
	return int64(len(points)), nil
}

func (m *memStore) UpsertMacro(_ context.Context, id string, points []model.NavPoint) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.macro[id] = mergePoints(m.macro[id], points)
	return int64(len(points)), nil
}

func (m *memStore) StartRun(_ context.Context, kind model.RunKind, name string, _ *time.Time, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	m.runs[id] = &runRecord{kind: kind, name: name, status: model.RunStatusRunning}
	m.runList = append(m.runList, id)
	return id, nil
}

func (m *memStore) CompleteRun(_ context.Context, id string, rows int64, summary map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.runs[id]
	r.status, r.rows, r.meta = model.RunStatusComplete, rows, summary
	return nil
}

func (m *memStore) FailRun(_ context.Context, id string, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.runs[id]
	r.status, r.err = model.RunStatusFailed, errMsg
	return nil
}

func (m *memStore) LastSuccess(_ context.Context, _ model.RunKind, name string) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.lastOK[name]; ok {
		return &t, nil
	}
	return nil, nil
}

func (m *memStore) ListRuns(_ context.Context, _ int) ([]model.RunEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.RunEntry, 0, len(m.runList))
	for _, id := range m.runList {
		r := m.runs[id]
		out = append(out, model.RunEntry{ID: id, Kind: r.kind, Name: r.name, Status: r.status, Rows: r.rows, Error: r.err})
	}
	return out, nil
}

// runsByName returns the status of each recorded run keyed by feed name.
func (m *memStore) runsByName() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]string{}
	for _, r := range m.runs {
		out[r.name] = r.status
	}
	return out
}

var _ Store = (*memStore)(nil)
