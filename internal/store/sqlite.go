package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/sudhirig/mfscore/internal/model"
)

// SQLiteStore implements Store on modernc.org/sqlite. Dates are stored as
// YYYY-MM-DD text.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at dsn in WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One writer connection avoids SQLITE_BUSY under concurrent upserts.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

var _ Store = (*SQLiteStore)(nil)

func sqliteDate(t time.Time) any { return model.Day(t).Format(time.DateOnly) }

func sqliteBound(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return sqliteDate(t)
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS funds (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	scheme_code     TEXT NOT NULL UNIQUE,
	fund_name       TEXT NOT NULL,
	amc_name        TEXT NOT NULL DEFAULT '',
	category        TEXT NOT NULL DEFAULT '',
	subcategory     TEXT NOT NULL DEFAULT '',
	expense_ratio   REAL,
	aum_crore       REAL,
	inception_date  TEXT,
	benchmark_index TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS nav_data (
	fund_id   INTEGER NOT NULL REFERENCES funds(id) ON DELETE CASCADE,
	nav_date  TEXT NOT NULL,
	nav_value REAL NOT NULL,
	PRIMARY KEY (fund_id, nav_date)
);

CREATE TABLE IF NOT EXISTS market_indices (
	index_name  TEXT NOT NULL,
	index_date  TEXT NOT NULL,
	close_value REAL NOT NULL,
	PRIMARY KEY (index_name, index_date)
);

CREATE TABLE IF NOT EXISTS macro_series (
	series_id TEXT NOT NULL,
	obs_date  TEXT NOT NULL,
	value     REAL NOT NULL,
	PRIMARY KEY (series_id, obs_date)
);

CREATE TABLE IF NOT EXISTS fund_scores (
	fund_id     INTEGER NOT NULL REFERENCES funds(id) ON DELETE CASCADE,
	score_date  TEXT NOT NULL,
	category    TEXT NOT NULL DEFAULT '',
	subcategory TEXT NOT NULL DEFAULT '',
	return_1m REAL, return_3m REAL, return_6m REAL, return_1y REAL, return_3y REAL, return_5y REAL, return_ytd REAL,
	score_1m REAL, score_3m REAL, score_6m REAL, score_1y REAL, score_3y REAL, score_5y REAL, score_ytd REAL,
	volatility_pct    REAL,
	max_drawdown_pct  REAL CHECK (max_drawdown_pct BETWEEN 0 AND 100),
	annual_return_pct REAL,
	sharpe_ratio      REAL,
	beta              REAL,
	beta_method       TEXT NOT NULL DEFAULT '',
	risk_observations INTEGER NOT NULL DEFAULT 0,
	historical_returns_total REAL NOT NULL CHECK (historical_returns_total BETWEEN 0 AND 40),
	risk_grade_total         REAL NOT NULL CHECK (risk_grade_total BETWEEN 0 AND 30),
	fundamentals_total       REAL NOT NULL CHECK (fundamentals_total BETWEEN 0 AND 30),
	other_metrics_total      REAL NOT NULL CHECK (other_metrics_total BETWEEN 0 AND 30),
	total_score              REAL NOT NULL CHECK (total_score BETWEEN 0 AND 100),
	rank            INTEGER,
	quartile        INTEGER CHECK (quartile BETWEEN 1 AND 4),
	percentile      INTEGER CHECK (percentile BETWEEN 0 AND 100),
	peer_group      TEXT NOT NULL DEFAULT '',
	peer_group_size INTEGER NOT NULL DEFAULT 0,
	low_sample      INTEGER NOT NULL DEFAULT 0,
	recommendation  TEXT CHECK (recommendation IN ('STRONG_BUY', 'BUY', 'HOLD', 'SELL', 'STRONG_SELL')),
	default_benchmark INTEGER NOT NULL DEFAULT 0,
	config_hash       TEXT NOT NULL DEFAULT '',
	updated_at        TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (fund_id, score_date)
);

CREATE INDEX IF NOT EXISTS idx_fund_scores_date_quartile ON fund_scores(score_date, quartile);

CREATE TABLE IF NOT EXISTS run_log (
	id           TEXT PRIMARY KEY,
	kind         TEXT NOT NULL,
	name         TEXT NOT NULL,
	score_date   TEXT,
	config_hash  TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL,
	started_at   DATETIME NOT NULL,
	completed_at DATETIME,
	rows         INTEGER NOT NULL DEFAULT 0,
	error        TEXT,
	summary      TEXT
);
`

// Migrate creates the schema.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteSchema)
	return eris.Wrap(err, "sqlite: migrate")
}

// Ping checks the database handle.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return classify("ping", s.db.PingContext(ctx), nil)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- NavReader ---

func (s *SQLiteStore) ListFunds(ctx context.Context, f FundFilter) ([]model.Fund, error) {
	query := `SELECT f.id, f.scheme_code, f.fund_name, f.amc_name, f.category, f.subcategory,
		f.expense_ratio, f.aum_crore, f.inception_date, f.benchmark_index
		FROM funds f WHERE 1=1`
	var args []any
	if len(f.FundIDs) > 0 {
		query += " AND f.id IN (" + strings.TrimSuffix(strings.Repeat("?,", len(f.FundIDs)), ",") + ")"
		for _, id := range f.FundIDs {
			args = append(args, id)
		}
	}
	if f.Category != "" {
		query += " AND lower(f.category) = lower(?)"
		args = append(args, f.Category)
	}
	if f.HasNAV {
		query += " AND EXISTS (SELECT 1 FROM nav_data n WHERE n.fund_id = f.id)"
	}
	query += " ORDER BY f.id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("list funds", err, nil)
	}
	defer rows.Close()

	var funds []model.Fund
	for rows.Next() {
		fund, err := scanFund(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan fund")
		}
		funds = append(funds, fund)
	}
	return funds, classify("list funds", rows.Err(), nil)
}

func (s *SQLiteStore) GetNavSeries(ctx context.Context, fundID int64, from, to time.Time) (model.NavSeries, error) {
	series, err := s.series(ctx,
		`SELECT nav_date, nav_value FROM nav_data
		 WHERE fund_id = ?1 AND (?2 IS NULL OR nav_date >= ?2) AND (?3 IS NULL OR nav_date <= ?3)
		 ORDER BY nav_date`,
		fundID, sqliteBound(from), sqliteBound(to))
	if err != nil {
		return model.NavSeries{}, eris.Wrapf(err, "sqlite: nav series for fund %d", fundID)
	}
	series.FundID = fundID
	return series, nil
}

func (s *SQLiteStore) GetIndexSeries(ctx context.Context, indexName string, from, to time.Time) (model.NavSeries, error) {
	series, err := s.series(ctx,
		`SELECT index_date, close_value FROM market_indices
		 WHERE index_name = ?1 AND (?2 IS NULL OR index_date >= ?2) AND (?3 IS NULL OR index_date <= ?3)
		 ORDER BY index_date`,
		indexName, sqliteBound(from), sqliteBound(to))
	if err != nil {
		return model.NavSeries{}, eris.Wrapf(err, "sqlite: index series %s", indexName)
	}
	return series, nil
}

func (s *SQLiteStore) series(ctx context.Context, query string, args ...any) (model.NavSeries, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return model.NavSeries{}, classify("read series", err, nil)
	}
	defer rows.Close()

	var series model.NavSeries
	for rows.Next() {
		var (
			d sqlDate
			v decimal.Decimal
		)
		if err := rows.Scan(&d, &v); err != nil {
			return model.NavSeries{}, eris.Wrap(err, "scan point")
		}
		series.Points = append(series.Points, model.NavPoint{Date: d.Time, Value: v.InexactFloat64()})
	}
	if err := rows.Err(); err != nil {
		return model.NavSeries{}, classify("read series", err, nil)
	}
	if len(series.Points) == 0 {
		return model.NavSeries{}, model.ErrNotFound
	}
	return series, nil
}

func (s *SQLiteStore) LatestMacroValue(ctx context.Context, seriesID string, asOf time.Time) (float64, time.Time, error) {
	var (
		d sqlDate
		v decimal.Decimal
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT obs_date, value FROM macro_series WHERE series_id = ? AND obs_date <= ?
		 ORDER BY obs_date DESC LIMIT 1`,
		seriesID, sqliteDate(asOf),
	).Scan(&d, &v)
	if err != nil {
		return 0, time.Time{}, classify("latest macro "+seriesID, err, nil)
	}
	return v.InexactFloat64(), d.Time, nil
}

// --- NavWriter ---

func (s *SQLiteStore) UpsertFunds(ctx context.Context, funds []model.Fund) (map[string]int64, error) {
	err := s.inTx(ctx, `INSERT INTO funds (scheme_code, fund_name, amc_name, category, subcategory, benchmark_index,
			expense_ratio, aum_crore, inception_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (scheme_code) DO UPDATE SET fund_name = excluded.fund_name,
			amc_name = coalesce(nullif(excluded.amc_name, ''), funds.amc_name),
			category = coalesce(nullif(excluded.category, ''), funds.category),
			subcategory = coalesce(nullif(excluded.subcategory, ''), funds.subcategory),
			benchmark_index = coalesce(nullif(excluded.benchmark_index, ''), funds.benchmark_index),
			expense_ratio = coalesce(excluded.expense_ratio, funds.expense_ratio),
			aum_crore = coalesce(excluded.aum_crore, funds.aum_crore),
			inception_date = coalesce(excluded.inception_date, funds.inception_date)`,
		len(funds), func(i int) []any {
			f := funds[i]
			var inception any
			if f.InceptionDate != nil {
				inception = sqliteDate(*f.InceptionDate)
			}
			return []any{f.SchemeCode, f.Name, f.AMC, f.Category, f.Subcategory, f.BenchmarkIndex,
				f.ExpenseRatio, f.AUMCrore, inception}
		})
	if err != nil {
		return nil, classify("upsert funds", err, nil)
	}
	return s.FundIDsBySchemeCode(ctx)
}

func (s *SQLiteStore) FundIDsBySchemeCode(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT scheme_code, id FROM funds`)
	if err != nil {
		return nil, classify("fund ids", err, nil)
	}
	defer rows.Close()

	ids := make(map[string]int64)
	for rows.Next() {
		var code string
		var id int64
		if err := rows.Scan(&code, &id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan fund id")
		}
		ids[code] = id
	}
	return ids, classify("fund ids", rows.Err(), nil)
}

const sqliteNavUpsert = `INSERT INTO nav_data (fund_id, nav_date, nav_value) VALUES (?, ?, ?)
	ON CONFLICT (fund_id, nav_date) DO UPDATE SET nav_value = excluded.nav_value`

func (s *SQLiteStore) UpsertNav(ctx context.Context, fundID int64, points []model.NavPoint) (int64, error) {
	return s.upsertPoints(ctx, sqliteNavUpsert, fundID, points)
}

func (s *SQLiteStore) UpsertNavBatch(ctx context.Context, navs map[int64]model.NavPoint) (int64, error) {
	ids := sortedIDs(navs)
	err := s.inTx(ctx, sqliteNavUpsert, len(ids), func(i int) []any {
		p := navs[ids[i]]
		return []any{ids[i], sqliteDate(p.Date), p.Value}
	})
	if err != nil {
		return 0, classify("upsert nav batch", err, nil)
	}
	return int64(len(ids)), nil
}

func (s *SQLiteStore) UpsertIndex(ctx context.Context, indexName string, points []model.NavPoint) (int64, error) {
	return s.upsertPoints(ctx,
		`INSERT INTO market_indices (index_name, index_date, close_value) VALUES (?, ?, ?)
		 ON CONFLICT (index_name, index_date) DO UPDATE SET close_value = excluded.close_value`, indexName, points)
}

func (s *SQLiteStore) UpsertMacro(ctx context.Context, seriesID string, points []model.NavPoint) (int64, error) {
	return s.upsertPoints(ctx,
		`INSERT INTO macro_series (series_id, obs_date, value) VALUES (?, ?, ?)
		 ON CONFLICT (series_id, obs_date) DO UPDATE SET value = excluded.value`, seriesID, points)
}

func (s *SQLiteStore) upsertPoints(ctx context.Context, stmt string, key any, points []model.NavPoint) (int64, error) {
	err := s.inTx(ctx, stmt, len(points), func(i int) []any {
		return []any{key, sqliteDate(points[i].Date), points[i].Value}
	})
	if err != nil {
		return 0, classify("upsert points", err, nil)
	}
	return int64(len(points)), nil
}

// inTx runs stmt n times with args(i) inside one transaction.
func (s *SQLiteStore) inTx(ctx context.Context, stmt string, n int, args func(i int) []any) error {
	if n == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	prep, err := tx.PrepareContext(ctx, stmt)
	if err != nil {
		return err
	}
	defer prep.Close() //nolint:errcheck

	for i := 0; i < n; i++ {
		if _, err := prep.ExecContext(ctx, args(i)...); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// --- Scores ---

var sqliteUpsertScore = upsertScoreSQL(func(int) string { return "?" }, "CURRENT_TIMESTAMP")

func (s *SQLiteStore) UpsertFundScore(ctx context.Context, fs *model.FundScore) error {
	_, err := s.db.ExecContext(ctx, sqliteUpsertScore, scoreArgs(fs, sqliteDate)...)
	return classify(fmt.Sprintf("upsert score for fund %d", fs.FundID), err, fs)
}

func (s *SQLiteStore) GetFundScore(ctx context.Context, fundID int64, scoreDate time.Time) (*model.FundScore, error) {
	fs, err := scanScore(s.db.QueryRowContext(ctx,
		selectScoreSQL()+" WHERE s.fund_id = ? AND s.score_date = ?", fundID, sqliteDate(scoreDate)))
	if err != nil {
		return nil, classify(fmt.Sprintf("get score for fund %d", fundID), err, nil)
	}
	return fs, nil
}

func (s *SQLiteStore) ListScores(ctx context.Context, f ScoreFilter) ([]model.FundScore, error) {
	date := f.ScoreDate
	if date.IsZero() {
		latest, err := s.LatestScoreDate(ctx)
		if err != nil {
			return nil, err
		}
		date = latest
	}

	query := selectScoreSQL() + " WHERE s.score_date = ?"
	args := []any{sqliteDate(date)}
	if f.Category != "" {
		query += " AND lower(s.category) = lower(?)"
		args = append(args, f.Category)
	}
	if f.Quartile > 0 {
		query += " AND s.quartile = ?"
		args = append(args, f.Quartile)
	}
	if f.Recommendation != "" {
		query += " AND s.recommendation = ?"
		args = append(args, string(f.Recommendation))
	}
	query += " ORDER BY s.total_score DESC, s.fund_id LIMIT ? OFFSET ?"
	args = append(args, limitOrDefault(f.Limit), max(f.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("list scores", err, nil)
	}
	defer rows.Close()

	var out []model.FundScore
	for rows.Next() {
		fs, err := scanScore(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan score")
		}
		out = append(out, *fs)
	}
	return out, classify("list scores", rows.Err(), nil)
}

func (s *SQLiteStore) LatestScoreDate(ctx context.Context) (time.Time, error) {
	var d sqlDate
	if err := s.db.QueryRowContext(ctx, `SELECT max(score_date) FROM fund_scores`).Scan(&d); err != nil {
		return time.Time{}, classify("latest score date", err, nil)
	}
	if !d.Valid {
		return time.Time{}, eris.Wrap(model.ErrNotFound, "store: no scores")
	}
	return d.Time, nil
}

// --- Runs ---

func (s *SQLiteStore) StartRun(ctx context.Context, kind model.RunKind, name string, scoreDate *time.Time, configHash string) (string, error) {
	id := uuid.NewString()
	var sd any
	if scoreDate != nil {
		sd = sqliteDate(*scoreDate)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_log (id, kind, name, score_date, config_hash, status, started_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, string(kind), name, sd, configHash, model.RunStatusRunning, s.now().UTC(),
	)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: start run %s", name)
	}
	return id, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, id string, rows int64, summary map[string]any) error {
	var summaryJSON *string
	if summary != nil {
		b, err := json.Marshal(summary)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal summary")
		}
		str := string(b)
		summaryJSON = &str
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE run_log SET status = ?, completed_at = ?, rows = ?, summary = ? WHERE id = ?`,
		model.RunStatusComplete, s.now().UTC(), rows, summaryJSON, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", id)
	}
	return checkRowsAffected(res, "run", id)
}

func (s *SQLiteStore) FailRun(ctx context.Context, id string, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE run_log SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		model.RunStatusFailed, s.now().UTC(), errMsg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", id)
	}
	return checkRowsAffected(res, "run", id)
}

func (s *SQLiteStore) LastSuccess(ctx context.Context, kind model.RunKind, name string) (*time.Time, error) {
	var t time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT started_at FROM run_log WHERE kind = ? AND name = ? AND status = 'complete'
		 ORDER BY started_at DESC LIMIT 1`,
		string(kind), name,
	).Scan(&t)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: last success for %s", name)
	}
	return &t, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.RunEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, name, score_date, config_hash, status, started_at, completed_at, rows, error, summary
		 FROM run_log ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var entries []model.RunEntry
	for rows.Next() {
		var (
			e           model.RunEntry
			kind        string
			sd          sqlDate
			completedAt sql.NullTime
			errStr      sql.NullString
			summaryJSON sql.NullString
		)
		if err := rows.Scan(&e.ID, &kind, &e.Name, &sd, &e.ConfigHash, &e.Status, &e.StartedAt,
			&completedAt, &e.Rows, &errStr, &summaryJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		e.Kind = model.RunKind(kind)
		e.ScoreDate = sd.ptr()
		if completedAt.Valid {
			e.CompletedAt = &completedAt.Time
		}
		e.Error = errStr.String
		if summaryJSON.Valid {
			_ = json.Unmarshal([]byte(summaryJSON.String), &e.Summary)
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(model.ErrNotFound, "%s %s", entity, id)
	}
	return nil
}
