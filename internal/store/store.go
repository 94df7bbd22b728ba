// Package store persists funds, NAV history, scores and run bookkeeping.
// PostgresStore is the production backend; SQLiteStore runs the same
// pipeline against a local file.
package store

import (
	"context"
	"time"

	"github.com/sudhirig/mfscore/internal/model"
)

// FundFilter selects the fund universe for a scoring run.
type FundFilter struct {
	FundIDs  []int64 `json:"fund_ids,omitempty"`
	Category string  `json:"category,omitempty"`
	// HasNAV restricts to funds with at least one NAV row.
	HasNAV bool `json:"has_nav,omitempty"`
	Limit  int  `json:"limit,omitempty"`
}

// ScoreFilter selects persisted scores. A zero ScoreDate means the latest
// scored date.
type ScoreFilter struct {
	ScoreDate      time.Time            `json:"score_date,omitempty"`
	Category       string               `json:"category,omitempty"`
	Quartile       int                  `json:"quartile,omitempty"`
	Recommendation model.Recommendation `json:"recommendation,omitempty"`
	Limit          int                  `json:"limit,omitempty"`
	Offset         int                  `json:"offset,omitempty"`
}

// NavReader reads the scoring inputs. Zero from/to bounds are open.
type NavReader interface {
	ListFunds(ctx context.Context, filter FundFilter) ([]model.Fund, error)
	// GetNavSeries fails with model.ErrNotFound when the fund has no rows
	// in range.
	GetNavSeries(ctx context.Context, fundID int64, from, to time.Time) (model.NavSeries, error)
	GetIndexSeries(ctx context.Context, indexName string, from, to time.Time) (model.NavSeries, error)
	// LatestMacroValue returns the latest observation on or before asOf.
	LatestMacroValue(ctx context.Context, seriesID string, asOf time.Time) (float64, time.Time, error)
}

// NavWriter is used by the feeds.
type NavWriter interface {
	// UpsertFunds inserts or updates funds by scheme code and returns the
	// fund ID of every scheme code written.
	UpsertFunds(ctx context.Context, funds []model.Fund) (map[string]int64, error)
	UpsertNav(ctx context.Context, fundID int64, points []model.NavPoint) (int64, error)
	// UpsertNavBatch writes one NAV point per fund in a single batch.
	UpsertNavBatch(ctx context.Context, navs map[int64]model.NavPoint) (int64, error)
	UpsertIndex(ctx context.Context, indexName string, points []model.NavPoint) (int64, error)
	UpsertMacro(ctx context.Context, seriesID string, points []model.NavPoint) (int64, error)
	FundIDsBySchemeCode(ctx context.Context) (map[string]int64, error)
}

// ScoreWriter persists one fund's score atomically. Rewriting an existing
// (fund, date) overwrites it; an integrity rejection is a
// *model.ConflictError and a transient failure a
// *model.StorageUnavailableError.
type ScoreWriter interface {
	UpsertFundScore(ctx context.Context, fs *model.FundScore) error
}

// ScoreReader reads persisted scores.
type ScoreReader interface {
	GetFundScore(ctx context.Context, fundID int64, scoreDate time.Time) (*model.FundScore, error)
	ListScores(ctx context.Context, filter ScoreFilter) ([]model.FundScore, error)
	// LatestScoreDate fails with model.ErrNotFound when nothing is scored.
	LatestScoreDate(ctx context.Context) (time.Time, error)
}

// RunRecorder writes and reads run_log.
type RunRecorder interface {
	StartRun(ctx context.Context, kind model.RunKind, name string, scoreDate *time.Time, configHash string) (string, error)
	CompleteRun(ctx context.Context, id string, rows int64, summary map[string]any) error
	FailRun(ctx context.Context, id string, errMsg string) error
	LastSuccess(ctx context.Context, kind model.RunKind, name string) (*time.Time, error)
	ListRuns(ctx context.Context, limit int) ([]model.RunEntry, error)
}

// Store is the full persistence surface.
type Store interface {
	NavReader
	NavWriter
	ScoreWriter
	ScoreReader
	RunRecorder
	Auditor
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
