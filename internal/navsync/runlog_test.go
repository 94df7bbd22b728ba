package navsync

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudhirig/mfscore/internal/model"
)

var fixedNow = time.Date(2024, 6, 28, 23, 0, 0, 0, time.UTC)

func newMockRunLog(t *testing.T) (*RunLog, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	l := NewRunLog(mock)
	l.now = func() time.Time { return fixedNow }
	return l, mock
}

func TestRunLog_Start(t *testing.T) {
	l, mock := newMockRunLog(t)
	sd := time.Date(2024, 6, 28, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO run_log").
		WithArgs(pgxmock.AnyArg(), "score", "nightly", &sd, "abc123", model.RunStatusRunning, fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	id, err := l.Start(context.Background(), model.RunKindScore, "nightly", &sd, "abc123")
	require.NoError(t, err)
	assert.Len(t, id, 36)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunLog_Complete(t *testing.T) {
	l, mock := newMockRunLog(t)

	mock.ExpectExec("UPDATE run_log SET status").
		WithArgs(model.RunStatusComplete, fixedNow, int64(120), []byte(`{"scored":120}`), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := l.Complete(context.Background(), "run-1", 120, map[string]any{"scored": 120})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunLog_Fail(t *testing.T) {
	l, mock := newMockRunLog(t)

	mock.ExpectExec("UPDATE run_log SET status").
		WithArgs(model.RunStatusFailed, fixedNow, "store down", "run-2").
		WillReturnError(fmt.Errorf("conn closed"))

	err := l.Fail(context.Background(), "run-2", "store down")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "runlog: fail run-2")
}

func TestRunLog_LastSuccess(t *testing.T) {
	l, mock := newMockRunLog(t)

	mock.ExpectQuery("SELECT started_at FROM run_log").
		WithArgs("feed", "amfi").
		WillReturnRows(pgxmock.NewRows([]string{"started_at"}).AddRow(fixedNow))
	got, err := l.LastSuccess(context.Background(), model.RunKindFeed, "amfi")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, fixedNow, *got)

	mock.ExpectQuery("SELECT started_at FROM run_log").
		WithArgs("feed", "fred").
		WillReturnError(pgx.ErrNoRows)
	got, err = l.LastSuccess(context.Background(), model.RunKindFeed, "fred")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunLog_List(t *testing.T) {
	l, mock := newMockRunLog(t)
	sd := time.Date(2024, 6, 28, 0, 0, 0, 0, time.UTC)
	errMsg := "timeout"
	done := fixedNow.Add(time.Minute)

	cols := []string{"id", "kind", "name", "score_date", "config_hash", "status", "started_at", "completed_at", "rows", "error", "summary"}
	mock.ExpectQuery("SELECT id, kind, name").
		WithArgs(50).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow("r1", "score", "nightly", &sd, "h", "complete", fixedNow, &done, int64(10), (*string)(nil), []byte(`{"scored":10}`)).
			AddRow("r2", "feed", "amfi", (*time.Time)(nil), "", "failed", fixedNow, &done, int64(0), &errMsg, []byte(nil)))

	entries, err := l.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, model.RunKindScore, entries[0].Kind)
	assert.Equal(t, "nightly", entries[0].Name)
	assert.InDelta(t, 10, entries[0].Summary["scored"], 0.001)
	assert.Equal(t, "timeout", entries[1].Error)
	assert.Nil(t, entries[1].ScoreDate)
	assert.NoError(t, mock.ExpectationsWereMet())
}
