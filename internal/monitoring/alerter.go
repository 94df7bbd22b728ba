package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sudhirig/mfscore/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertScoreIntegrity   AlertType = "score_integrity"
	AlertInvalidNav       AlertType = "invalid_nav"
	AlertStaleNav         AlertType = "stale_nav"
	AlertMetadataGap      AlertType = "metadata_gap"
	AlertMissingBenchmark AlertType = "missing_benchmark"
	AlertRunFailure       AlertType = "run_failure"
)

// Severity levels.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a Snapshot against configured thresholds
// and sends alerts via webhook.
type Alerter struct {
	cfg    config.MonitorConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitorConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot and returns any alerts, most severe first.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()
	add := func(t AlertType, severity, msg string, details map[string]any) {
		alerts = append(alerts, Alert{Type: t, Severity: severity, Message: msg, Details: details, Timestamp: now})
	}

	if n := snap.ComponentOutOfBudget + snap.TotalOutOfRange; n > 0 {
		add(AlertScoreIntegrity, SeverityHigh,
			fmt.Sprintf("%d score value(s) outside their allowed range on %s", n, snap.ScoreDate.Format(time.DateOnly)),
			map[string]any{
				"component_out_of_budget": snap.ComponentOutOfBudget,
				"total_out_of_range":      snap.TotalOutOfRange,
				"sample":                  snap.Violations,
			})
	}

	if snap.Store.NonPositiveNav > 0 {
		add(AlertInvalidNav, SeverityHigh,
			fmt.Sprintf("%d NAV record(s) with zero or negative values", snap.Store.NonPositiveNav),
			map[string]any{"non_positive_nav": snap.Store.NonPositiveNav})
	}

	if failed := snap.FeedFailed + snap.ScoreFailed; failed > 0 {
		add(AlertRunFailure, SeverityHigh,
			fmt.Sprintf("%d run(s) failed in last %dh: %s", failed, snap.LookbackHours, strings.Join(snap.FailedRuns, ", ")),
			map[string]any{
				"feed_failed":  snap.FeedFailed,
				"feed_runs":    snap.FeedRuns,
				"score_failed": snap.ScoreFailed,
				"score_runs":   snap.ScoreRuns,
			})
	}

	if snap.Store.Funds > 0 && snap.Store.StaleFunds > 0 {
		share := float64(snap.Store.StaleFunds) / float64(snap.Store.Funds)
		if share > a.cfg.StaleFundThreshold {
			add(AlertStaleNav, SeverityMedium,
				fmt.Sprintf("%.1f%% of funds have no NAV in the last %d days (threshold %.1f%%)",
					share*100, a.cfg.StaleNavDays, a.cfg.StaleFundThreshold*100),
				map[string]any{
					"stale_funds":     snap.Store.StaleFunds,
					"funds":           snap.Store.Funds,
					"latest_nav_date": snap.Store.LatestNavDate.Format(time.DateOnly),
				})
		}
	}

	if snap.Store.MissingCategory > 0 || snap.Store.MissingAMC > 0 {
		add(AlertMetadataGap, SeverityLow,
			fmt.Sprintf("%d fund(s) missing category, %d missing AMC", snap.Store.MissingCategory, snap.Store.MissingAMC),
			map[string]any{
				"missing_category": snap.Store.MissingCategory,
				"missing_amc":      snap.Store.MissingAMC,
				"missing_expense":  snap.Store.MissingExpense,
			})
	}

	if snap.MissingBenchmark > 0 {
		add(AlertMissingBenchmark, SeverityLow,
			fmt.Sprintf("%d fund(s) benchmarked to indices with no closes: %s",
				snap.MissingBenchmark, strings.Join(snap.MissingIndices, ", ")),
			map[string]any{
				"missing_benchmark": snap.MissingBenchmark,
				"indices":           snap.MissingIndices,
				"unassigned":        snap.Store.Unassigned,
			})
	}

	return alerts
}

// HasSeverity reports whether any alert has the given severity.
func HasSeverity(alerts []Alert, severity string) bool {
	for _, a := range alerts {
		if a.Severity == severity {
			return true
		}
	}
	return false
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
