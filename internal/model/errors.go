package model

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
)

var (
	// ErrInsufficientData means a computation had too few NAV points or
	// daily returns. It yields absent results rather than failing a fund.
	ErrInsufficientData = eris.New("insufficient data")

	// ErrNotFound means the fund has no NAV rows (or no score row).
	ErrNotFound = eris.New("not found")

	// ErrUnknownCategory means no benchmark table exists for a category.
	// Scoring recovers with the default table.
	ErrUnknownCategory = eris.New("unknown category")
)

// InvalidInputError rejects a fund's series: non-monotonic or duplicate
// dates, or non-positive NAV values. Fatal to that fund only.
type InvalidInputError struct {
	FundID int64
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input for fund %d: %s", e.FundID, e.Reason)
}

// ConflictError is returned when the score store rejects a write for
// integrity reasons (check or foreign-key violation). A normal overwrite of
// an existing (fund, date) row is not a conflict.
type ConflictError struct {
	FundID     int64
	ScoreDate  time.Time
	Constraint string
	Err        error
}

func (e *ConflictError) Error() string {
	msg := fmt.Sprintf("score conflict for fund %d on %s", e.FundID, e.ScoreDate.Format(time.DateOnly))
	if e.Constraint != "" {
		msg += " (" + e.Constraint + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConflictError) Unwrap() error { return e.Err }

// StorageUnavailableError is a transient store failure. Callers retry it with
// backoff; once retries are exhausted it may abort the batch.
type StorageUnavailableError struct {
	Op  string
	Err error
}

func (e *StorageUnavailableError) Error() string {
	if e.Err == nil {
		return "storage unavailable during " + e.Op
	}
	return "storage unavailable during " + e.Op + ": " + e.Err.Error()
}

func (e *StorageUnavailableError) Unwrap() error { return e.Err }

// Transient marks the error as retryable for resilience.IsTransient.
func (e *StorageUnavailableError) Transient() bool { return true }
