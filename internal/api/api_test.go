package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sudhirig/mfscore/internal/model"
	"github.com/sudhirig/mfscore/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) GetFundScore(ctx context.Context, fundID int64, scoreDate time.Time) (*model.FundScore, error) {
	args := m.Called(ctx, fundID, scoreDate)
	fs, _ := args.Get(0).(*model.FundScore)
	return fs, args.Error(1)
}

func (m *mockStore) ListScores(ctx context.Context, filter store.ScoreFilter) ([]model.FundScore, error) {
	args := m.Called(ctx, filter)
	scores, _ := args.Get(0).([]model.FundScore)
	return scores, args.Error(1)
}

func (m *mockStore) LatestScoreDate(ctx context.Context) (time.Time, error) {
	args := m.Called(ctx)
	return args.Get(0).(time.Time), args.Error(1)
}

func (m *mockStore) ListRuns(ctx context.Context, limit int) ([]model.RunEntry, error) {
	args := m.Called(ctx, limit)
	runs, _ := args.Get(0).([]model.RunEntry)
	return runs, args.Error(1)
}

func (m *mockStore) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

var scoreDay = time.Date(2024, 6, 28, 0, 0, 0, 0, time.UTC)

func do(t *testing.T, st *mockStore, target string) *httptest.ResponseRecorder {
	t.Helper()
	h := New(st, Options{}).Handler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealth(t *testing.T) {
	st := &mockStore{}
	st.On("Ping", mock.Anything).Return(nil).Once()
	st.On("Ping", mock.Anything).Return(&model.StorageUnavailableError{Op: "ping", Err: eris.New("refused")}).Once()

	rec := do(t, st, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])

	rec = do(t, st, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	st.AssertExpectations(t)
}

func TestListScores_LatestDateWithFilters(t *testing.T) {
	st := &mockStore{}
	st.On("LatestScoreDate", mock.Anything).Return(scoreDay, nil)
	st.On("ListScores", mock.Anything, store.ScoreFilter{
		ScoreDate:      scoreDay,
		Category:       "Equity",
		Quartile:       1,
		Recommendation: model.StrongBuy,
		Limit:          10,
		Offset:         5,
	}).Return([]model.FundScore{
		{FundID: 1, ScoreDate: scoreDay, TotalScore: 81, Quartile: 1, Recommendation: model.StrongBuy},
	}, nil)

	rec := do(t, st, "/scores?category=Equity&quartile=1&recommendation=strong_buy&limit=10&offset=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body scoresResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "2024-06-28", body.ScoreDate)
	assert.Equal(t, 1, body.Count)
	require.Len(t, body.Scores, 1)
	assert.InDelta(t, 81, body.Scores[0].TotalScore, 1e-9)
	st.AssertExpectations(t)
}

func TestListScores_ExplicitDateSkipsLatest(t *testing.T) {
	st := &mockStore{}
	st.On("ListScores", mock.Anything, mock.MatchedBy(func(f store.ScoreFilter) bool {
		return f.ScoreDate.Equal(scoreDay) && f.Limit == defaultScoreLimit
	})).Return(nil, nil)

	rec := do(t, st, "/scores?date=2024-06-28")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 0, body["count"])
	assert.Equal(t, []any{}, body["scores"])
	st.AssertNotCalled(t, "LatestScoreDate", mock.Anything)
}

func TestListScores_LimitCapped(t *testing.T) {
	st := &mockStore{}
	st.On("ListScores", mock.Anything, mock.MatchedBy(func(f store.ScoreFilter) bool {
		return f.Limit == maxScoreLimit
	})).Return([]model.FundScore{}, nil)

	rec := do(t, st, "/scores?date=2024-06-28&limit=50000")
	assert.Equal(t, http.StatusOK, rec.Code)
	st.AssertExpectations(t)
}

func TestListScores_BadParams(t *testing.T) {
	for _, target := range []string{
		"/scores?date=28-06-2024",
		"/scores?quartile=5",
		"/scores?quartile=x",
		"/scores?recommendation=maybe",
		"/scores?limit=-1",
		"/scores?offset=abc",
	} {
		st := &mockStore{}
		rec := do(t, st, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		assert.NotEmpty(t, decode(t, rec)["error"], target)
		st.AssertNotCalled(t, "ListScores", mock.Anything, mock.Anything)
	}
}

func TestListScores_NothingScored(t *testing.T) {
	st := &mockStore{}
	st.On("LatestScoreDate", mock.Anything).Return(time.Time{}, eris.Wrap(model.ErrNotFound, "store: latest score date"))

	rec := do(t, st, "/scores")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "no scores recorded", decode(t, rec)["error"])
}

func TestListScores_StoreUnavailable(t *testing.T) {
	st := &mockStore{}
	st.On("ListScores", mock.Anything, mock.Anything).
		Return(nil, &model.StorageUnavailableError{Op: "list scores", Err: eris.New("timeout")})

	rec := do(t, st, "/scores?date=2024-06-28")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestFundScore(t *testing.T) {
	st := &mockStore{}
	st.On("LatestScoreDate", mock.Anything).Return(scoreDay, nil)
	st.On("GetFundScore", mock.Anything, int64(42), scoreDay).
		Return(&model.FundScore{FundID: 42, ScoreDate: scoreDay, TotalScore: 64.5, Quartile: 2}, nil)

	rec := do(t, st, "/funds/42/score")
	require.Equal(t, http.StatusOK, rec.Code)
	var fs model.FundScore
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fs))
	assert.Equal(t, int64(42), fs.FundID)
	assert.Equal(t, 2, fs.Quartile)
	st.AssertExpectations(t)
}

func TestFundScore_NotFound(t *testing.T) {
	st := &mockStore{}
	st.On("GetFundScore", mock.Anything, int64(7), scoreDay).Return(nil, eris.Wrap(model.ErrNotFound, "store: fund score"))

	rec := do(t, st, "/funds/7/score?date=2024-06-28")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "score not found", decode(t, rec)["error"])
}

func TestFundScore_BadID(t *testing.T) {
	for _, target := range []string{"/funds/abc/score", "/funds/0/score", "/funds/1/score?date=bad"} {
		rec := do(t, &mockStore{}, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestListRuns(t *testing.T) {
	st := &mockStore{}
	st.On("ListRuns", mock.Anything, defaultRunLimit).Return([]model.RunEntry{
		{ID: "run-1", Kind: model.RunKindScore, Name: "score", Status: model.RunStatusComplete, Rows: 12},
	}, nil).Once()
	st.On("ListRuns", mock.Anything, maxRunLimit).Return(nil, nil).Once()

	rec := do(t, st, "/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 1, body["count"])
	runs := body["runs"].([]any)
	assert.Equal(t, "run-1", runs[0].(map[string]any)["id"])

	rec = do(t, st, "/runs?limit=9999")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, decode(t, rec)["count"])
	st.AssertExpectations(t)
}

func TestListRuns_StoreError(t *testing.T) {
	st := &mockStore{}
	st.On("ListRuns", mock.Anything, defaultRunLimit).Return(nil, eris.Wrap(model.ErrNotFound, "odd"))

	rec := do(t, st, "/runs")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	h := New(&mockStore{}, Options{AllowedOrigins: []string{"https://dash.example.com"}}).Handler()
	req := httptest.NewRequest(http.MethodOptions, "/scores", nil)
	req.Header.Set("Origin", "https://dash.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "https://dash.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestIntParam(t *testing.T) {
	n, err := intParam("", 20, 200)
	require.NoError(t, err)
	assert.Equal(t, 20, n)

	n, err = intParam("500", 20, 200)
	require.NoError(t, err)
	assert.Equal(t, 200, n)

	n, err = intParam("500", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 500, n)

	_, err = intParam("-3", 0, 0)
	assert.Error(t, err)
}
