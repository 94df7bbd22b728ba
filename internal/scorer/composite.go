package scorer

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sudhirig/mfscore/internal/benchmark"
	"github.com/sudhirig/mfscore/internal/model"
)

// Input is everything the composite scorer reads for one fund.
type Input struct {
	FundID       int64
	Category     string
	Subcategory  string
	AsOf         time.Time
	Returns      map[model.Period]*float64
	Risk         model.RiskProfile
	Fundamentals model.Fundamentals
}

// weighted accumulates sub-scores whose inputs may be absent. Absent inputs
// carry no weight, so the average is renormalized over what is present.
type weighted struct {
	sum, weight float64
}

func (w *weighted) add(score, weight float64) {
	if weight <= 0 {
		return
	}
	w.sum += score * weight
	w.weight += weight
}

// scaled returns the weighted average (0..100) scaled into budget points.
func (w weighted) scaled(budget float64) float64 {
	if w.weight == 0 {
		return 0
	}
	return w.sum / w.weight / 100 * budget
}

// Score computes the component totals and the clamped total for one fund.
// It is pure: identical inputs always give identical output. Ranking fields
// and the recommendation are left for the ranker and Recommend.
func Score(in Input, tbl benchmark.Table, cfg Config) *model.FundScore {
	fs := &model.FundScore{
		FundID:        in.FundID,
		ScoreDate:     model.Day(in.AsOf),
		Category:      in.Category,
		Subcategory:   in.Subcategory,
		PeriodReturns: make(map[model.Period]*float64, len(in.Returns)),
		PeriodScores:  make(map[model.Period]float64, len(in.Returns)),
		Risk:          in.Risk,
	}

	var hist weighted
	for _, p := range model.AllPeriods() {
		r, ok := in.Returns[p]
		if !ok || r == nil {
			fs.PeriodReturns[p] = nil
			continue
		}
		v := *r
		fs.PeriodReturns[p] = &v
		ps := tbl.PeriodScore(p, v)
		fs.PeriodScores[p] = ps
		hist.add(ps, cfg.PeriodWeights[p])
	}

	var risk weighted
	if in.Risk.VolatilityPercent != nil {
		risk.add(tbl.Volatility.Score(*in.Risk.VolatilityPercent), cfg.VolatilityWeight)
	}
	if in.Risk.MaxDrawdownPercent != nil {
		risk.add(tbl.Drawdown.Score(*in.Risk.MaxDrawdownPercent), cfg.DrawdownWeight)
	}

	var fund weighted
	if er := in.Fundamentals.ExpenseRatio; er != nil && *er >= 0 {
		fund.add(cfg.ExpenseBand.Score(*er), cfg.ExpenseWeight)
	}
	if aum := in.Fundamentals.AUMCrore; aum != nil && *aum > 0 {
		fund.add(logBand(cfg.AUMBand).Score(math.Log10(*aum)), cfg.AUMWeight)
	}
	if inc := in.Fundamentals.InceptionDate; inc != nil && !inc.After(in.AsOf) {
		years := in.AsOf.Sub(*inc).Hours() / 24 / 365.25
		fund.add(cfg.AgeBand.Score(years), cfg.AgeWeight)
	}

	var other weighted
	if in.Risk.SharpeRatio != nil {
		other.add(cfg.SharpeBand.Score(*in.Risk.SharpeRatio), cfg.SharpeWeight)
	}
	if in.Risk.Beta != nil {
		closeness := 1 - math.Abs(*in.Risk.Beta-1)/cfg.BetaTolerance
		other.add(math.Max(0, closeness)*100, cfg.BetaWeight)
	}

	fs.HistoricalReturnsTotal = round2(hist.scaled(cfg.HistoricalBudget))
	fs.RiskGradeTotal = round2(risk.scaled(cfg.RiskBudget))
	fs.FundamentalsTotal = round2(fund.scaled(cfg.FundamentalsBudget))
	fs.OtherMetricsTotal = round2(other.scaled(cfg.OtherBudget))
	fs.TotalScore = Total(fs.HistoricalReturnsTotal, fs.RiskGradeTotal, fs.FundamentalsTotal, fs.OtherMetricsTotal)
	return fs
}

// Total sums component totals in decimal and clamps the result to [0, 100].
// Components are never capped individually.
func Total(components ...float64) float64 {
	sum := decimal.Zero
	for _, c := range components {
		sum = sum.Add(decimal.NewFromFloat(c))
	}
	lo, hi := decimal.NewFromInt(0), decimal.NewFromInt(100)
	if sum.LessThan(lo) {
		sum = lo
	}
	if sum.GreaterThan(hi) {
		sum = hi
	}
	return sum.Round(2).InexactFloat64()
}

// round2 rounds half away from zero to 2 decimal places.
func round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

func logBand(b benchmark.Band) benchmark.Band {
	return benchmark.Band{Best: math.Log10(b.Best), Worst: math.Log10(b.Worst)}
}
