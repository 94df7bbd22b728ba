package model

import "time"

// RunKind distinguishes run_log rows.
type RunKind string

const (
	RunKindScore RunKind = "score"
	RunKindFeed  RunKind = "feed"
)

// Run status values stored in run_log.status.
const (
	RunStatusRunning  = "running"
	RunStatusComplete = "complete"
	RunStatusFailed   = "failed"
)

// RunEntry is a row in run_log: one scoring batch or one feed sync.
type RunEntry struct {
	ID          string         `json:"id"`
	Kind        RunKind        `json:"kind"`
	Name        string         `json:"name"`
	ScoreDate   *time.Time     `json:"score_date,omitempty"`
	ConfigHash  string         `json:"config_hash,omitempty"`
	Status      string         `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Rows        int64          `json:"rows"`
	Error       string         `json:"error,omitempty"`
	Summary     map[string]any `json:"summary,omitempty"`
}
