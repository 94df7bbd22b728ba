package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudhirig/mfscore/internal/model"
)

func TestSQLite_IntegrityStats(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	ids := seedFunds(t, s)

	_, err := s.UpsertFunds(ctx, []model.Fund{{SchemeCode: "100003", Name: "Orphan"}})
	require.NoError(t, err)

	_, err = s.UpsertNav(ctx, ids["100001"], []model.NavPoint{
		{Date: scoreDay.AddDate(0, 0, -1), Value: 0},
		{Date: scoreDay, Value: 58.1},
	})
	require.NoError(t, err)
	_, err = s.UpsertNav(ctx, ids["100002"], []model.NavPoint{{Date: scoreDay.AddDate(0, 0, -30), Value: 1000}})
	require.NoError(t, err)
	_, err = s.UpsertIndex(ctx, "NIFTY 50", []model.NavPoint{{Date: scoreDay, Value: 24000}})
	require.NoError(t, err)

	st, err := s.IntegrityStats(ctx, scoreDay.AddDate(0, 0, -5))
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.Funds)
	assert.Equal(t, int64(1), st.MissingCategory)
	assert.Equal(t, int64(1), st.MissingAMC)
	assert.Equal(t, int64(2), st.MissingExpense)
	assert.Equal(t, int64(3), st.Unassigned)
	assert.Equal(t, int64(1), st.NonPositiveNav)
	assert.Equal(t, int64(1), st.StaleFunds)
	assert.Equal(t, scoreDay, st.LatestNavDate)
	assert.Equal(t, []string{"NIFTY 50"}, st.Indices)
}

func TestSQLite_IntegrityStatsEmpty(t *testing.T) {
	st, err := newTestSQLite(t).IntegrityStats(context.Background(), scoreDay)
	require.NoError(t, err)
	assert.Zero(t, st.Funds)
	assert.True(t, st.LatestNavDate.IsZero())
	assert.Empty(t, st.Indices)
}
