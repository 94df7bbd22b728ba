package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudhirig/mfscore/internal/model"
	"github.com/sudhirig/mfscore/internal/monitoring"
	"github.com/sudhirig/mfscore/internal/navsync/feed"
)

func TestFormatRunsList(t *testing.T) {
	started := time.Date(2024, 6, 28, 23, 0, 0, 0, time.UTC)
	done := started.Add(95 * time.Second)
	day := time.Date(2024, 6, 28, 0, 0, 0, 0, time.UTC)

	var buf bytes.Buffer
	formatRunsList(&buf, []model.RunEntry{
		{ID: "9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d", Kind: model.RunKindScore, Name: "score",
			ScoreDate: &day, Status: model.RunStatusComplete, StartedAt: started, CompletedAt: &done, Rows: 1200},
		{ID: "short", Kind: model.RunKindFeed, Name: "amfi", Status: model.RunStatusRunning, StartedAt: started},
	})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "SCORE_DATE")
	assert.Contains(t, lines[2], "9b1deb4d")
	assert.NotContains(t, lines[2], "9b1deb4d-3b7d")
	assert.Contains(t, lines[2], "2024-06-28")
	assert.Contains(t, lines[2], "1200")
	assert.Contains(t, lines[2], "1m35s")
	assert.Contains(t, lines[3], "amfi")
	assert.Contains(t, lines[3], "running")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abcdefgh", truncateID("abcdefghijkl"))
	assert.Equal(t, "abc", truncateID("abc"))
}

func TestFormatFeedSummary(t *testing.T) {
	var buf bytes.Buffer
	formatFeedSummary(&buf, &feed.RunSummary{Synced: []string{"amfi", "mfapi"}, Failed: []string{"fred"}, Rows: 420})
	out := buf.String()
	assert.Contains(t, out, "Synced:  amfi, mfapi")
	assert.Contains(t, out, "Skipped: -")
	assert.Contains(t, out, "Failed:  fred")
	assert.Contains(t, out, "Rows:    420")
}

func TestFormatAlerts(t *testing.T) {
	var buf bytes.Buffer
	formatAlerts(&buf, nil)
	assert.Equal(t, "No alerts.\n", buf.String())

	buf.Reset()
	formatAlerts(&buf, []monitoring.Alert{
		{Type: monitoring.AlertInvalidNav, Severity: monitoring.SeverityHigh, Message: "3 NAV record(s) with zero or negative values"},
	})
	assert.Contains(t, buf.String(), "[high] invalid_nav: 3 NAV record(s)")
}

func TestFormatSnapshot(t *testing.T) {
	var buf bytes.Buffer
	snap := &monitoring.Snapshot{
		ScoreDate:     time.Date(2024, 6, 28, 0, 0, 0, 0, time.UTC),
		ScoresChecked: 12,
		LookbackHours: 24,
		FeedRuns:      3,
		FeedFailed:    1,
	}
	snap.Store.Funds = 40
	formatSnapshot(&buf, snap)
	out := buf.String()
	assert.Contains(t, out, "2024-06-28")
	assert.Contains(t, out, "feed 1/3 failed")
}
