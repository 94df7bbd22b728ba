package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sudhirig/mfscore/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresFromPool(mock), mock
}

func TestPostgres_UpsertFundScore(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	fs := sampleScore(7, 72.5)

	mock.ExpectExec(`INSERT INTO fund_scores \(fund_id, score_date, category`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.UpsertFundScore(context.Background(), fs))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpsertFundScore_CheckViolation(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	fs := sampleScore(7, 72.5)

	mock.ExpectExec("INSERT INTO fund_scores").
		WillReturnError(&pgconn.PgError{Code: "23514", ConstraintName: "fund_scores_total_score_check"})

	err := s.UpsertFundScore(context.Background(), fs)
	var ce *model.ConflictError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, int64(7), ce.FundID)
	assert.Equal(t, "fund_scores_total_score_check", ce.Constraint)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpsertFundScore_ConnectionLost(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec("INSERT INTO fund_scores").
		WillReturnError(&pgconn.PgError{Code: "08006", Message: "connection failure"})

	err := s.UpsertFundScore(context.Background(), sampleScore(7, 50))
	var ue *model.StorageUnavailableError
	require.True(t, errors.As(err, &ue))
	assert.Contains(t, ue.Op, "fund 7")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetNavSeries_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	from := time.Date(2019, 6, 28, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT nav_date, nav_value FROM nav_data").
		WithArgs(int64(7), from, nil).
		WillReturnRows(pgxmock.NewRows([]string{"nav_date", "nav_value"}))

	_, err := s.GetNavSeries(context.Background(), 7, from, time.Time{})
	assert.True(t, errors.Is(err, model.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetFundScore_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM fund_scores s JOIN funds f`).
		WithArgs(int64(9), scoreDay).
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetFundScore(context.Background(), 9, scoreDay)
	assert.True(t, errors.Is(err, model.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ListScores_Filters(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`WHERE s.score_date = \$1 AND lower\(s.category\) = lower\(\$2\) AND s.quartile = \$3 ORDER BY s.total_score DESC, s.fund_id LIMIT \$4 OFFSET \$5`).
		WithArgs(scoreDay, "Equity", 1, 20, 40).
		WillReturnRows(pgxmock.NewRows(append(append([]string{}, scoreColumns...), "scheme_code", "fund_name")))

	out, err := s.ListScores(context.Background(), ScoreFilter{
		ScoreDate: scoreDay, Category: "Equity", Quartile: 1, Limit: 20, Offset: 40,
	})
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ListFunds_Query(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM funds f WHERE true AND f.id = ANY\(\$1\) AND EXISTS .* ORDER BY f.id LIMIT \$2`).
		WithArgs([]int64{1, 2}, 10).
		WillReturnRows(pgxmock.NewRows([]string{"id", "scheme_code", "fund_name", "amc_name", "category",
			"subcategory", "expense_ratio", "aum_crore", "inception_date", "benchmark_index"}))

	funds, err := s.ListFunds(context.Background(), FundFilter{FundIDs: []int64{1, 2}, HasNAV: true, Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, funds)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpsertNav_BulkUpsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	points := []model.NavPoint{
		{Date: scoreDay.AddDate(0, 0, -1), Value: 100},
		{Date: scoreDay, Value: 101},
	}

	mock.ExpectQuery("SELECT EXISTS").WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_nav_data"}, []string{"fund_id", "nav_date", "nav_value"}).
		WillReturnResult(2)
	mock.ExpectExec("DELETE FROM").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("INSERT INTO nav_data").WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := s.UpsertNav(context.Background(), 7, points)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpsertNav_FirstLoadCopies(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	points := []model.NavPoint{
		{Date: scoreDay, Value: 101},
		{Date: scoreDay.AddDate(0, 0, -1), Value: 100},
		{Date: scoreDay.Add(6 * time.Hour), Value: 101.5},
	}

	mock.ExpectQuery("SELECT EXISTS").WithArgs(int64(9)).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectCopyFrom(pgx.Identifier{"nav_data"}, []string{"fund_id", "nav_date", "nav_value"}).
		WillReturnResult(2)

	n, err := s.UpsertNav(context.Background(), 9, points)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpsertNav_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	n, err := s.UpsertNav(context.Background(), 9, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Ping(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec("SELECT 1").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	require.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
