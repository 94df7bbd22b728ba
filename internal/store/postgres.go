package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sudhirig/mfscore/internal/db"
	"github.com/sudhirig/mfscore/internal/model"
	"github.com/sudhirig/mfscore/internal/navsync"
)

// PostgresStore implements Store on pgx.
type PostgresStore struct {
	pool    db.Pool
	runs    *navsync.RunLog
	closeFn func()
}

// NewPostgres connects to Postgres. maxConns <= 0 keeps the pgx default.
func NewPostgres(ctx context.Context, url string, maxConns int32) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, url, maxConns)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: open")
	}
	s := NewPostgresFromPool(pool)
	s.closeFn = pool.Close
	return s, nil
}

// NewPostgresFromPool wraps an existing pool; the caller keeps ownership.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, runs: navsync.NewRunLog(pool)}
}

// Pool exposes the handle for components that query Postgres directly.
func (s *PostgresStore) Pool() db.Pool { return s.pool }

// Migrate applies the embedded schema migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return navsync.Migrate(ctx, s.pool)
}

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return classify("ping", err, nil)
}

// Close releases the pool if this store opened it.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)

// --- NavReader ---

func (s *PostgresStore) ListFunds(ctx context.Context, f FundFilter) ([]model.Fund, error) {
	query := `SELECT f.id, f.scheme_code, f.fund_name, f.amc_name, f.category, f.subcategory,
		f.expense_ratio, f.aum_crore, f.inception_date, f.benchmark_index
		FROM funds f WHERE true`
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if len(f.FundIDs) > 0 {
		query += " AND f.id = ANY(" + next(f.FundIDs) + ")"
	}
	if f.Category != "" {
		query += " AND lower(f.category) = lower(" + next(f.Category) + ")"
	}
	if f.HasNAV {
		query += " AND EXISTS (SELECT 1 FROM nav_data n WHERE n.fund_id = f.id)"
	}
	query += " ORDER BY f.id"
	if f.Limit > 0 {
		query += " LIMIT " + next(f.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("list funds", err, nil)
	}
	defer rows.Close()

	var funds []model.Fund
	for rows.Next() {
		fund, err := scanFund(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan fund")
		}
		funds = append(funds, fund)
	}
	return funds, classify("list funds", rows.Err(), nil)
}

func scanFund(row scanner) (model.Fund, error) {
	var (
		f         model.Fund
		er, aum   decimal.NullDecimal
		inception sqlDate
	)
	if err := row.Scan(&f.ID, &f.SchemeCode, &f.Name, &f.AMC, &f.Category, &f.Subcategory,
		&er, &aum, &inception, &f.BenchmarkIndex); err != nil {
		return f, err
	}
	f.ExpenseRatio = nullFloat(er)
	f.AUMCrore = nullFloat(aum)
	f.InceptionDate = inception.ptr()
	return f, nil
}

func (s *PostgresStore) GetNavSeries(ctx context.Context, fundID int64, from, to time.Time) (model.NavSeries, error) {
	series, err := s.series(ctx,
		`SELECT nav_date, nav_value FROM nav_data
		 WHERE fund_id = $1 AND ($2::date IS NULL OR nav_date >= $2) AND ($3::date IS NULL OR nav_date <= $3)
		 ORDER BY nav_date`,
		fundID, pgDate(from), pgDate(to))
	if err != nil {
		return model.NavSeries{}, eris.Wrapf(err, "postgres: nav series for fund %d", fundID)
	}
	series.FundID = fundID
	return series, nil
}

func (s *PostgresStore) GetIndexSeries(ctx context.Context, indexName string, from, to time.Time) (model.NavSeries, error) {
	series, err := s.series(ctx,
		`SELECT index_date, close_value FROM market_indices
		 WHERE index_name = $1 AND ($2::date IS NULL OR index_date >= $2) AND ($3::date IS NULL OR index_date <= $3)
		 ORDER BY index_date`,
		indexName, pgDate(from), pgDate(to))
	if err != nil {
		return model.NavSeries{}, eris.Wrapf(err, "postgres: index series %s", indexName)
	}
	return series, nil
}

func (s *PostgresStore) series(ctx context.Context, query string, args ...any) (model.NavSeries, error) {
	rows, err := s.pool.Query(ctx, query, args...)
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

func (s *PostgresStore) LatestMacroValue(ctx context.Context, seriesID string, asOf time.Time) (float64, time.Time, error) {
	var (
		d sqlDate
		v decimal.Decimal
	)
	err := s.pool.QueryRow(ctx,
		`SELECT obs_date, value FROM macro_series WHERE series_id = $1 AND obs_date <= $2
		 ORDER BY obs_date DESC LIMIT 1`,
		seriesID, model.Day(asOf),
	).Scan(&d, &v)
	if err != nil {
		return 0, time.Time{}, classify("latest macro "+seriesID, err, nil)
	}
	return v.InexactFloat64(), d.Time, nil
}

// --- NavWriter ---

var fundUpsert = db.UpsertConfig{
	Table:        "funds",
	Columns:      []string{"scheme_code", "fund_name", "amc_name", "category", "subcategory", "benchmark_index"},
	ConflictKeys: []string{"scheme_code"},
	KeepNonBlank: []string{"amc_name", "category", "subcategory", "benchmark_index"},
}

func (s *PostgresStore) UpsertFunds(ctx context.Context, funds []model.Fund) (map[string]int64, error) {
	rows := make([][]any, 0, len(funds))
	for _, f := range funds {
		rows = append(rows, []any{f.SchemeCode, f.Name, f.AMC, f.Category, f.Subcategory, f.BenchmarkIndex})
	}
	if _, err := db.BulkUpsert(ctx, s.pool, fundUpsert, rows); err != nil {
		return nil, classify("upsert funds", err, nil)
	}
	return s.FundIDsBySchemeCode(ctx)
}

func (s *PostgresStore) FundIDsBySchemeCode(ctx context.Context) (map[string]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT scheme_code, id FROM funds`)
	if err != nil {
		return nil, classify("fund ids", err, nil)
	}
	defer rows.Close()

	ids := make(map[string]int64)
	for rows.Next() {
		var code string
		var id int64
		if err := rows.Scan(&code, &id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan fund id")
		}
		ids[code] = id
	}
	return ids, classify("fund ids", rows.Err(), nil)
}

var navUpsert = db.UpsertConfig{
	Table:        "nav_data",
	Columns:      []string{"fund_id", "nav_date", "nav_value"},
	ConflictKeys: []string{"fund_id", "nav_date"},
}

// UpsertNav merges points into the fund's history. A fund with no rows yet
// is loaded with a plain COPY.
func (s *PostgresStore) UpsertNav(ctx context.Context, fundID int64, points []model.NavPoint) (int64, error) {
	if len(points) == 0 {
		return 0, nil
	}
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM nav_data WHERE fund_id = $1)`, fundID).Scan(&exists)
	if err != nil {
		return 0, classify("nav exists", err, nil)
	}
	if exists {
		return s.upsertPoints(ctx, navUpsert, fundID, points)
	}

	byDate := make(map[time.Time]float64, len(points))
	for _, p := range points {
		byDate[model.Day(p.Date)] = p.Value
	}
	rows := make([][]any, 0, len(byDate))
	for _, d := range slices.SortedFunc(maps.Keys(byDate), time.Time.Compare) {
		rows = append(rows, []any{fundID, d, byDate[d]})
	}
	n, err := db.CopyFrom(ctx, s.pool, navUpsert.Table, navUpsert.Columns, rows)
	if err != nil {
		return 0, classify("copy nav", err, nil)
	}
	return n, nil
}

func (s *PostgresStore) UpsertNavBatch(ctx context.Context, navs map[int64]model.NavPoint) (int64, error) {
	rows := make([][]any, 0, len(navs))
	for _, id := range sortedIDs(navs) {
		p := navs[id]
		rows = append(rows, []any{id, model.Day(p.Date), p.Value})
	}
	n, err := db.BulkUpsert(ctx, s.pool, navUpsert, rows)
	if err != nil {
		return 0, classify("upsert nav batch", err, nil)
	}
	return n, nil
}

func (s *PostgresStore) UpsertIndex(ctx context.Context, indexName string, points []model.NavPoint) (int64, error) {
	return s.upsertPoints(ctx, db.UpsertConfig{
		Table:        "market_indices",
		Columns:      []string{"index_name", "index_date", "close_value"},
		ConflictKeys: []string{"index_name", "index_date"},
	}, indexName, points)
}

func (s *PostgresStore) UpsertMacro(ctx context.Context, seriesID string, points []model.NavPoint) (int64, error) {
	return s.upsertPoints(ctx, db.UpsertConfig{
		Table:        "macro_series",
		Columns:      []string{"series_id", "obs_date", "value"},
		ConflictKeys: []string{"series_id", "obs_date"},
	}, seriesID, points)
}

func (s *PostgresStore) upsertPoints(ctx context.Context, cfg db.UpsertConfig, key any, points []model.NavPoint) (int64, error) {
	rows := make([][]any, len(points))
	for i, p := range points {
		rows[i] = []any{key, model.Day(p.Date), p.Value}
	}
	n, err := db.BulkUpsert(ctx, s.pool, cfg, rows)
	if err != nil {
		return 0, classify("upsert "+cfg.Table, err, nil)
	}
	return n, nil
}

// --- Scores ---

var pgUpsertScore = upsertScoreSQL(func(i int) string { return fmt.Sprintf("$%d", i) }, "now()")

func (s *PostgresStore) UpsertFundScore(ctx context.Context, fs *model.FundScore) error {
	_, err := s.pool.Exec(ctx, pgUpsertScore, scoreArgs(fs, func(t time.Time) any { return t })...)
	return classify(fmt.Sprintf("upsert score for fund %d", fs.FundID), err, fs)
}

func (s *PostgresStore) GetFundScore(ctx context.Context, fundID int64, scoreDate time.Time) (*model.FundScore, error) {
	fs, err := scanScore(s.pool.QueryRow(ctx,
		selectScoreSQL()+" WHERE s.fund_id = $1 AND s.score_date = $2", fundID, model.Day(scoreDate)))
	if err != nil {
		return nil, classify(fmt.Sprintf("get score for fund %d", fundID), err, nil)
	}
	return fs, nil
}

func (s *PostgresStore) ListScores(ctx context.Context, f ScoreFilter) ([]model.FundScore, error) {
	date := f.ScoreDate
	if date.IsZero() {
		latest, err := s.LatestScoreDate(ctx)
		if err != nil {
			return nil, err
		}
		date = latest
	}

	args := []any{model.Day(date)}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	query := selectScoreSQL() + " WHERE s.score_date = $1"
	if f.Category != "" {
		query += " AND lower(s.category) = lower(" + next(f.Category) + ")"
	}
	if f.Quartile > 0 {
		query += " AND s.quartile = " + next(f.Quartile)
	}
	if f.Recommendation != "" {
		query += " AND s.recommendation = " + next(string(f.Recommendation))
	}
	query += " ORDER BY s.total_score DESC, s.fund_id"
	query += " LIMIT " + next(limitOrDefault(f.Limit))
	if f.Offset > 0 {
		query += " OFFSET " + next(f.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("list scores", err, nil)
	}
	defer rows.Close()

	var out []model.FundScore
	for rows.Next() {
		fs, err := scanScore(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan score")
		}
		out = append(out, *fs)
	}
	return out, classify("list scores", rows.Err(), nil)
}

func (s *PostgresStore) LatestScoreDate(ctx context.Context) (time.Time, error) {
	var d sqlDate
	if err := s.pool.QueryRow(ctx, `SELECT max(score_date) FROM fund_scores`).Scan(&d); err != nil {
		return time.Time{}, classify("latest score date", err, nil)
	}
	if !d.Valid {
		return time.Time{}, eris.Wrap(model.ErrNotFound, "store: no scores")
	}
	return d.Time, nil
}

func sortedIDs(navs map[int64]model.NavPoint) []int64 {
	ids := make([]int64, 0, len(navs))
	for id := range navs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func limitOrDefault(n int) int {
	if n <= 0 {
		return 100
	}
	return n
}

// --- Runs ---

func (s *PostgresStore) StartRun(ctx context.Context, kind model.RunKind, name string, scoreDate *time.Time, configHash string) (string, error) {
	return s.runs.Start(ctx, kind, name, scoreDate, configHash)
}

func (s *PostgresStore) CompleteRun(ctx context.Context, id string, rows int64, summary map[string]any) error {
	return s.runs.Complete(ctx, id, rows, summary)
}

func (s *PostgresStore) FailRun(ctx context.Context, id string, errMsg string) error {
	return s.runs.Fail(ctx, id, errMsg)
}

func (s *PostgresStore) LastSuccess(ctx context.Context, kind model.RunKind, name string) (*time.Time, error) {
	return s.runs.LastSuccess(ctx, kind, name)
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.RunEntry, error) {
	return s.runs.List(ctx, limit)
}

// RunLog exposes the run log for audit queries.
func (s *PostgresStore) RunLog() *navsync.RunLog { return s.runs }
