// Package feed collects NAV history, fund metadata, benchmark index closes
// and the risk-free rate from public sources into the store.
package feed

import (
	"context"
	"time"

	"github.com/sudhirig/mfscore/internal/fetcher"
	"github.com/sudhirig/mfscore/internal/store"
)

// Cadence describes how often a feed publishes new data.
type Cadence string

const (
	Daily   Cadence = "daily"
	Weekly  Cadence = "weekly"
	Monthly Cadence = "monthly"
)

// Result holds the outcome of one feed sync.
type Result struct {
	Rows     int64          `json:"rows"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Feed is one upstream data source.
type Feed interface {
	// Name is the unique feed identifier used in run_log.
	Name() string
	Cadence() Cadence
	// ShouldRun decides whether the feed is due given the time of the last
	// successful sync (nil if never synced).
	ShouldRun(now time.Time, lastSync *time.Time) bool
	Sync(ctx context.Context, w store.NavWriter, f fetcher.Fetcher) (*Result, error)
}

// Store is what the engine needs from persistence.
type Store interface {
	store.NavWriter
	store.RunRecorder
}
