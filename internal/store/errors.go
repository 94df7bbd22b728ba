package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"

	"github.com/sudhirig/mfscore/internal/model"
	"github.com/sudhirig/mfscore/internal/resilience"
)

// unavailableCodes are SQLSTATEs outside class 08 that mean the server
// cannot serve the request right now.
var unavailableCodes = map[string]bool{
	"57P01": true, // admin_shutdown
	"57P02": true, // crash_shutdown
	"57P03": true, // cannot_connect_now
	"53300": true, // too_many_connections
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
}

// classify maps a driver error onto the model taxonomy. Integrity
// violations on a score write become *model.ConflictError; connection loss,
// server shutdown and deadlines become *model.StorageUnavailableError.
func classify(op string, err error, fs *model.FundScore) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
		return eris.Wrapf(model.ErrNotFound, "store: %s", op)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "23"):
			return conflict(fs, pgErr.ConstraintName, err)
		case strings.HasPrefix(pgErr.Code, "08"), unavailableCodes[pgErr.Code]:
			return &model.StorageUnavailableError{Op: op, Err: err}
		}
		return eris.Wrapf(err, "store: %s", op)
	}

	if isSQLiteConstraint(err) {
		return conflict(fs, "", err)
	}
	if isSQLiteBusy(err) || pgconn.Timeout(err) || errors.Is(err, context.DeadlineExceeded) ||
		resilience.IsTransient(err) {
		return &model.StorageUnavailableError{Op: op, Err: err}
	}
	return eris.Wrapf(err, "store: %s", op)
}

func conflict(fs *model.FundScore, constraint string, err error) error {
	ce := &model.ConflictError{Constraint: constraint, Err: err}
	if fs != nil {
		ce.FundID = fs.FundID
		ce.ScoreDate = fs.ScoreDate
	}
	return ce
}

// modernc.org/sqlite reports result codes in the message text.
func isSQLiteConstraint(err error) bool {
	return strings.Contains(err.Error(), "constraint failed")
}

func isSQLiteBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// pgDate converts a zero time to NULL for open-ended range bounds.
func pgDate(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return model.Day(t)
}
