package store

import (
	"context"
	"fmt"
	"time"

	"github.com/sudhirig/mfscore/internal/model"
)

// IntegrityStats are the data-quality counts read by the audit.
type IntegrityStats struct {
	Funds           int64     `json:"funds"`
	MissingCategory int64     `json:"missing_category"`
	MissingAMC      int64     `json:"missing_amc"`
	MissingExpense  int64     `json:"missing_expense"`
	NonPositiveNav  int64     `json:"non_positive_nav"`
	StaleFunds      int64     `json:"stale_funds"`
	LatestNavDate   time.Time `json:"latest_nav_date"`

	// Unassigned funds have no explicit benchmark_index and fall back to
	// the category rules.
	Unassigned int64 `json:"unassigned_benchmark"`
	// Indices lists index names with at least one close.
	Indices []string `json:"indices"`
}

// Auditor reads integrity statistics. Funds whose latest NAV predates
// staleBefore count as stale.
type Auditor interface {
	IntegrityStats(ctx context.Context, staleBefore time.Time) (*IntegrityStats, error)
}

func integrityStatsSQL(ph string) string {
	return fmt.Sprintf(`SELECT
	(SELECT count(*) FROM funds),
	(SELECT count(*) FROM funds WHERE category = ''),
	(SELECT count(*) FROM funds WHERE amc_name = ''),
	(SELECT count(*) FROM funds WHERE expense_ratio IS NULL),
	(SELECT count(*) FROM funds WHERE benchmark_index = ''),
	(SELECT count(*) FROM nav_data WHERE nav_value <= 0),
	(SELECT count(*) FROM (SELECT fund_id FROM nav_data GROUP BY fund_id HAVING max(nav_date) < %s) stale),
	(SELECT max(nav_date) FROM nav_data)`, ph)
}

const indexNamesSQL = `SELECT DISTINCT index_name FROM market_indices ORDER BY index_name`

var (
	pgIntegrityStats     = integrityStatsSQL("$1")
	sqliteIntegrityStats = integrityStatsSQL("?")
)

func (s *PostgresStore) IntegrityStats(ctx context.Context, staleBefore time.Time) (*IntegrityStats, error) {
	var (
		st     IntegrityStats
		latest sqlDate
	)
	err := s.pool.QueryRow(ctx, pgIntegrityStats, model.Day(staleBefore)).
		Scan(&st.Funds, &st.MissingCategory, &st.MissingAMC, &st.MissingExpense, &st.Unassigned, &st.NonPositiveNav, &st.StaleFunds, &latest)
	if err != nil {
		return nil, classify("integrity stats", err, nil)
	}
	st.LatestNavDate = latest.Time

	rows, err := s.pool.Query(ctx, indexNamesSQL)
	if err != nil {
		return nil, classify("list indices", err, nil)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, classify("scan index name", err, nil)
		}
		st.Indices = append(st.Indices, name)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list indices", err, nil)
	}
	return &st, nil
}

func (s *SQLiteStore) IntegrityStats(ctx context.Context, staleBefore time.Time) (*IntegrityStats, error) {
	var (
		st     IntegrityStats
		latest sqlDate
	)
	err := s.db.QueryRowContext(ctx, sqliteIntegrityStats, sqliteDate(staleBefore)).
		Scan(&st.Funds, &st.MissingCategory, &st.MissingAMC, &st.MissingExpense, &st.Unassigned, &st.NonPositiveNav, &st.StaleFunds, &latest)
	if err != nil {
		return nil, classify("integrity stats", err, nil)
	}
	st.LatestNavDate = latest.Time

	rows, err := s.db.QueryContext(ctx, indexNamesSQL)
	if err != nil {
		return nil, classify("list indices", err, nil)
	}
	defer rows.Close() //nolint:errcheck
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, classify("scan index name", err, nil)
		}
		st.Indices = append(st.Indices, name)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list indices", err, nil)
	}
	return &st, nil
}

var (
	_ Auditor = (*PostgresStore)(nil)
	_ Auditor = (*SQLiteStore)(nil)
)
