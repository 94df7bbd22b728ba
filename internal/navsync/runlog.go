package navsync

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sudhirig/mfscore/internal/db"
	"github.com/sudhirig/mfscore/internal/model"
)

// RunLog reads and writes run_log. Feed syncs and scoring batches both
// record one row per run.
type RunLog struct {
	pool db.Pool
	now  func() time.Time
}

// NewRunLog creates a RunLog backed by pool.
func NewRunLog(pool db.Pool) *RunLog {
	return &RunLog{pool: pool, now: time.Now}
}

// Start inserts a running entry and returns its ID.
func (l *RunLog) Start(ctx context.Context, kind model.RunKind, name string, scoreDate *time.Time, configHash string) (string, error) {
	id := uuid.NewString()
	_, err := l.pool.Exec(ctx,
		`INSERT INTO run_log (id, kind, name, score_date, config_hash, status, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, string(kind), name, scoreDate, configHash, model.RunStatusRunning, l.now().UTC(),
	)
	if err != nil {
		return "", eris.Wrapf(err, "runlog: start %s %s", kind, name)
	}
	return id, nil
}

// Complete marks a run complete with its row count and summary.
func (l *RunLog) Complete(ctx context.Context, id string, rows int64, summary map[string]any) error {
	var summaryJSON []byte
	if summary != nil {
		var err error
		if summaryJSON, err = json.Marshal(summary); err != nil {
			return eris.Wrap(err, "runlog: marshal summary")
		}
	}
	_, err := l.pool.Exec(ctx,
		`UPDATE run_log SET status = $1, completed_at = $2, rows = $3, summary = $4 WHERE id = $5`,
		model.RunStatusComplete, l.now().UTC(), rows, summaryJSON, id,
	)
	return eris.Wrapf(err, "runlog: complete %s", id)
}

// Fail marks a run failed.
func (l *RunLog) Fail(ctx context.Context, id string, errMsg string) error {
	_, err := l.pool.Exec(ctx,
		`UPDATE run_log SET status = $1, completed_at = $2, error = $3 WHERE id = $4`,
		model.RunStatusFailed, l.now().UTC(), errMsg, id,
	)
	return eris.Wrapf(err, "runlog: fail %s", id)
}

// LastSuccess returns when the latest complete run of (kind, name) started,
// or nil if there is none.
func (l *RunLog) LastSuccess(ctx context.Context, kind model.RunKind, name string) (*time.Time, error) {
	var t time.Time
	err := l.pool.QueryRow(ctx,
		`SELECT started_at FROM run_log
		 WHERE kind = $1 AND name = $2 AND status = 'complete'
		 ORDER BY started_at DESC LIMIT 1`,
		string(kind), name,
	).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "runlog: last success for %s", name)
	}
	return &t, nil
}

// List returns the most recent runs first. limit <= 0 means 50.
func (l *RunLog) List(ctx context.Context, limit int) ([]model.RunEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.pool.Query(ctx,
		`SELECT id, kind, name, score_date, config_hash, status, started_at, completed_at, rows, error, summary
		 FROM run_log ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: list")
	}
	defer rows.Close()

	var entries []model.RunEntry
	for rows.Next() {
		var (
			e           model.RunEntry
			kind        string
			errStr      *string
			summaryJSON []byte
		)
		if err := rows.Scan(&e.ID, &kind, &e.Name, &e.ScoreDate, &e.ConfigHash, &e.Status, &e.StartedAt,
			&e.CompletedAt, &e.Rows, &errStr, &summaryJSON); err != nil {
			return nil, eris.Wrap(err, "runlog: scan entry")
		}
		e.Kind = model.RunKind(kind)
		if errStr != nil {
			e.Error = *errStr
		}
		if len(summaryJSON) > 0 {
			_ = json.Unmarshal(summaryJSON, &e.Summary)
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "runlog: iterate")
}
