package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sudhirig/mfscore/internal/model"
)

func returnCol(p model.Period) string { return "return_" + strings.ToLower(string(p)) }
func scoreCol(p model.Period) string  { return "score_" + strings.ToLower(string(p)) }

// scoreColumns is the fund_scores column order used for writes and reads.
var scoreColumns = func() []string {
	cols := []string{"fund_id", "score_date", "category", "subcategory"}
	for _, p := range model.AllPeriods() {
		cols = append(cols, returnCol(p))
	}
	for _, p := range model.AllPeriods() {
		cols = append(cols, scoreCol(p))
	}
	return append(cols,
		"volatility_pct", "max_drawdown_pct", "annual_return_pct", "sharpe_ratio", "beta", "beta_method", "risk_observations",
		"historical_returns_total", "risk_grade_total", "fundamentals_total", "other_metrics_total", "total_score",
		"rank", "quartile", "percentile", "peer_group", "peer_group_size", "low_sample", "recommendation",
		"default_benchmark", "config_hash",
	)
}()

// upsertScoreSQL builds the single-statement score upsert. placeholder
// renders the i-th (1-based) bind parameter.
func upsertScoreSQL(placeholder func(int) string, touch string) string {
	ph := make([]string, len(scoreColumns))
	var set []string
	for i, c := range scoreColumns {
		ph[i] = placeholder(i + 1)
		if c != "fund_id" && c != "score_date" {
			set = append(set, c+" = excluded."+c)
		}
	}
	set = append(set, "updated_at = "+touch)
	return fmt.Sprintf("INSERT INTO fund_scores (%s) VALUES (%s) ON CONFLICT (fund_id, score_date) DO UPDATE SET %s",
		strings.Join(scoreColumns, ", "), strings.Join(ph, ", "), strings.Join(set, ", "))
}

// selectScoreSQL selects scoreColumns plus the fund's scheme code and name.
func selectScoreSQL() string {
	cols := make([]string, len(scoreColumns))
	for i, c := range scoreColumns {
		cols[i] = "s." + c
	}
	return "SELECT " + strings.Join(cols, ", ") + ", f.scheme_code, f.fund_name FROM fund_scores s JOIN funds f ON f.id = s.fund_id"
}

// scoreArgs flattens a score in scoreColumns order. date encodes score_date
// for the backend.
func scoreArgs(fs *model.FundScore, date func(time.Time) any) []any {
	args := []any{fs.FundID, date(model.Day(fs.ScoreDate)), fs.Category, fs.Subcategory}
	for _, p := range model.AllPeriods() {
		args = append(args, fs.PeriodReturns[p])
	}
	for _, p := range model.AllPeriods() {
		if v, ok := fs.PeriodScores[p]; ok {
			args = append(args, &v)
		} else {
			args = append(args, (*float64)(nil))
		}
	}
	r := fs.Risk
	args = append(args,
		r.VolatilityPercent, r.MaxDrawdownPercent, r.AnnualReturnPercent, r.SharpeRatio, r.Beta, string(r.BetaMethod), r.Observations,
		fs.HistoricalReturnsTotal, fs.RiskGradeTotal, fs.FundamentalsTotal, fs.OtherMetricsTotal, fs.TotalScore,
		positive(fs.Rank), positive(fs.Quartile), nullIfUnranked(fs.Percentile, fs.Rank), fs.PeerGroup, fs.PeerGroupSize, fs.LowSample,
		nullString(string(fs.Recommendation)),
		fs.DefaultBenchmark, fs.ConfigHash,
	)
	return args
}

func positive(v int) *int {
	if v <= 0 {
		return nil
	}
	return &v
}

func nullIfUnranked(v, rank int) *int {
	if rank <= 0 {
		return nil
	}
	return &v
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// scanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanScore reads one row produced by selectScoreSQL.
func scanScore(row scanner) (*model.FundScore, error) {
	var (
		fs             model.FundScore
		date           sqlDate
		returns        [7]decimal.NullDecimal
		periodScores   [7]decimal.NullDecimal
		vol, dd, ann   decimal.NullDecimal
		sharpe, beta   decimal.NullDecimal
		betaMethod     string
		hist, risk     decimal.Decimal
		fund, other    decimal.Decimal
		total          decimal.Decimal
		rank, quartile *int64
		percentile     *int64
		recommendation *string
		schemeCode     *string
		fundName       *string
	)

	dest := []any{&fs.FundID, &date, &fs.Category, &fs.Subcategory}
	for i := range returns {
		dest = append(dest, &returns[i])
	}
	for i := range periodScores {
		dest = append(dest, &periodScores[i])
	}
	dest = append(dest,
		&vol, &dd, &ann, &sharpe, &beta, &betaMethod, &fs.Risk.Observations,
		&hist, &risk, &fund, &other, &total,
		&rank, &quartile, &percentile, &fs.PeerGroup, &fs.PeerGroupSize, &fs.LowSample, &recommendation,
		&fs.DefaultBenchmark, &fs.ConfigHash,
		&schemeCode, &fundName,
	)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	fs.ScoreDate = date.Time
	fs.PeriodReturns = make(map[model.Period]*float64, len(returns))
	fs.PeriodScores = make(map[model.Period]float64, len(periodScores))
	for i, p := range model.AllPeriods() {
		fs.PeriodReturns[p] = nullFloat(returns[i])
		if periodScores[i].Valid {
			fs.PeriodScores[p] = periodScores[i].Decimal.InexactFloat64()
		}
	}
	fs.Risk.VolatilityPercent = nullFloat(vol)
	fs.Risk.MaxDrawdownPercent = nullFloat(dd)
	fs.Risk.AnnualReturnPercent = nullFloat(ann)
	fs.Risk.SharpeRatio = nullFloat(sharpe)
	fs.Risk.Beta = nullFloat(beta)
	fs.Risk.BetaMethod = model.BetaMethod(betaMethod)
	fs.HistoricalReturnsTotal = hist.InexactFloat64()
	fs.RiskGradeTotal = risk.InexactFloat64()
	fs.FundamentalsTotal = fund.InexactFloat64()
	fs.OtherMetricsTotal = other.InexactFloat64()
	fs.TotalScore = total.InexactFloat64()
	fs.Rank = intOrZero(rank)
	fs.Quartile = intOrZero(quartile)
	fs.Percentile = intOrZero(percentile)
	if recommendation != nil {
		fs.Recommendation = model.Recommendation(*recommendation)
	}
	if schemeCode != nil {
		fs.SchemeCode = *schemeCode
	}
	if fundName != nil {
		fs.FundName = *fundName
	}
	return &fs, nil
}

func nullFloat(d decimal.NullDecimal) *float64 {
	if !d.Valid {
		return nil
	}
	v := d.Decimal.InexactFloat64()
	return &v
}

func intOrZero(v *int64) int {
	if v == nil {
		return 0
	}
	return int(*v)
}

// sqlDate scans DATE columns from Postgres (time.Time) and SQLite (TEXT).
type sqlDate struct {
	Time  time.Time
	Valid bool
}

// Scan implements sql.Scanner.
func (d *sqlDate) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = sqlDate{}
		return nil
	case time.Time:
		*d = sqlDate{Time: model.Day(v), Valid: true}
		return nil
	case string:
		return d.parse(v)
	case []byte:
		return d.parse(string(v))
	default:
		return eris.Errorf("store: cannot scan %T into date", src)
	}
}

func (d *sqlDate) parse(s string) error {
	if len(s) >= len(time.DateOnly) {
		s = s[:len(time.DateOnly)]
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return eris.Wrapf(err, "store: parse date %q", s)
	}
	*d = sqlDate{Time: t, Valid: true}
	return nil
}

func (d sqlDate) ptr() *time.Time {
	if !d.Valid {
		return nil
	}
	t := d.Time
	return &t
}
