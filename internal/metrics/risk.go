package metrics

import (
	"math"
	"time"

	"github.com/sudhirig/mfscore/internal/model"
)

// Volatilities at or below volEpsilon percent are treated as zero.
const volEpsilon = 1e-9

// RiskConfig parameterizes ComputeRisk.
type RiskConfig struct {
	// Lookback is the window of NAV history ending at asOf.
	Lookback time.Duration `json:"lookback"`
	// OutlierThreshold discards daily returns with |r| above it as data errors.
	OutlierThreshold float64 `json:"outlier_threshold"`
	// MinObservations is the minimum count of usable daily returns.
	MinObservations     int     `json:"min_observations"`
	RiskFreeRatePercent float64 `json:"risk_free_rate_percent"`
	TradingDays         int     `json:"trading_days"`
	BetaMin             float64 `json:"beta_min"`
	BetaMax             float64 `json:"beta_max"`
	// MinBetaOverlap is the minimum count of date-aligned fund/index returns
	// required for a regression beta.
	MinBetaOverlap int `json:"min_beta_overlap"`
}

// DefaultRiskConfig returns the standard risk parameters.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		Lookback:            365 * day,
		OutlierThreshold:    0.5,
		MinObservations:     100,
		RiskFreeRatePercent: 6.0,
		TradingDays:         252,
		BetaMin:             0.1,
		BetaMax:             5.0,
		MinBetaOverlap:      60,
	}
}

// RiskInput carries the optional comparison data for beta.
type RiskInput struct {
	// Index is the fund's benchmark index series. When it overlaps enough,
	// beta is a regression beta.
	Index *model.NavSeries
	// CategoryVolatilityPercent is the typical annual volatility of the
	// fund's category, used for the volatility-ratio beta estimate.
	CategoryVolatilityPercent float64
}

// ComputeRisk derives volatility, max drawdown, Sharpe and beta from the NAV
// points in [asOf-Lookback, asOf]. With fewer than MinObservations usable
// daily returns every metric is absent.
func ComputeRisk(s model.NavSeries, asOf time.Time, cfg RiskConfig, in RiskInput) model.RiskProfile {
	asOf = model.Day(asOf)
	var from time.Time
	if cfg.Lookback > 0 {
		from = asOf.Add(-cfg.Lookback)
	}
	w := s.Window(from, asOf)

	rets := dailyReturns(w.Points, cfg.OutlierThreshold)
	prof := model.RiskProfile{Observations: len(rets)}
	if len(rets) < cfg.MinObservations || len(rets) < 2 {
		return prof
	}

	tradingDays := float64(cfg.TradingDays)
	if tradingDays <= 0 {
		tradingDays = 252
	}

	vol := SampleStdDev(rets) * math.Sqrt(tradingDays) * 100
	annRet := Mean(rets) * tradingDays * 100
	dd := MaxDrawdown(filterOutliers(w.Points, cfg.OutlierThreshold))

	if finite(vol) {
		prof.VolatilityPercent = &vol
	}
	prof.MaxDrawdownPercent = &dd
	if finite(annRet) {
		prof.AnnualReturnPercent = &annRet
	}
	if vol > volEpsilon && finite(vol) && finite(annRet) {
		sharpe := (annRet - cfg.RiskFreeRatePercent) / vol
		if finite(sharpe) {
			prof.SharpeRatio = &sharpe
		}
	}

	if in.Index != nil {
		if b, ok := regressionBeta(w.Points, in.Index.Points, cfg); ok {
			b = Clamp(b, cfg.BetaMin, cfg.BetaMax)
			prof.Beta = &b
			prof.BetaMethod = model.BetaRegression
			return prof
		}
	}
	if in.CategoryVolatilityPercent > 0 && prof.VolatilityPercent != nil {
		b := Clamp(vol/in.CategoryVolatilityPercent, cfg.BetaMin, cfg.BetaMax)
		if finite(b) {
			prof.Beta = &b
			prof.BetaMethod = model.BetaVolatilityRatio
		}
	}
	return prof
}

// dailyReturns converts consecutive NAVs to simple returns, dropping any
// whose magnitude exceeds threshold. A threshold <= 0 keeps everything.
func dailyReturns(pts []model.NavPoint, threshold float64) []float64 {
	if len(pts) < 2 {
		return nil
	}
	out := make([]float64, 0, len(pts)-1)
	for i := 1; i < len(pts); i++ {
		prev := pts[i-1].Value
		if prev <= 0 {
			continue
		}
		r := (pts[i].Value - prev) / prev
		if !finite(r) {
			continue
		}
		if threshold > 0 && math.Abs(r) > threshold {
			continue
		}
		out = append(out, r)
	}
	return out
}

// filterOutliers drops isolated prints that move more than threshold from
// the last accepted point. A point that agrees with the rejected print just
// before it confirms a new level and is accepted. A threshold <= 0 keeps
// everything.
func filterOutliers(pts []model.NavPoint, threshold float64) []model.NavPoint {
	if threshold <= 0 || len(pts) < 2 {
		return pts
	}
	out := make([]model.NavPoint, 0, len(pts))
	rejected := false
	for i, p := range pts {
		if len(out) == 0 {
			out = append(out, p)
			continue
		}
		ok := within(out[len(out)-1].Value, p.Value, threshold)
		if !ok && rejected {
			ok = within(pts[i-1].Value, p.Value, threshold)
		}
		rejected = !ok
		if ok {
			out = append(out, p)
		}
	}
	return out
}

func within(prev, cur, threshold float64) bool {
	if prev <= 0 {
		return true
	}
	r := (cur - prev) / prev
	return finite(r) && math.Abs(r) <= threshold
}

// MaxDrawdown returns the largest peak-to-trough decline in percent, scanning
// forward with a running peak. The result is in [0, 100] for positive NAVs.
func MaxDrawdown(pts []model.NavPoint) float64 {
	var peak, worst float64
	for _, p := range pts {
		if p.Value > peak {
			peak = p.Value
			continue
		}
		if peak <= 0 {
			continue
		}
		dd := (peak - p.Value) / peak * 100
		if dd > worst {
			worst = dd
		}
	}
	return Clamp(worst, 0, 100)
}

// regressionBeta computes cov(fund, index) / var(index) over daily returns on
// dates where both series have consecutive observations.
func regressionBeta(fund, index []model.NavPoint, cfg RiskConfig) (float64, bool) {
	idx := make(map[time.Time]float64, len(index))
	for _, p := range index {
		idx[model.Day(p.Date)] = p.Value
	}

	var fr, ir []float64
	for i := 1; i < len(fund); i++ {
		prevDate, curDate := model.Day(fund[i-1].Date), model.Day(fund[i].Date)
		ip, ok1 := idx[prevDate]
		ic, ok2 := idx[curDate]
		if !ok1 || !ok2 || ip <= 0 || fund[i-1].Value <= 0 {
			continue
		}
		f := (fund[i].Value - fund[i-1].Value) / fund[i-1].Value
		x := (ic - ip) / ip
		if cfg.OutlierThreshold > 0 && (math.Abs(f) > cfg.OutlierThreshold || math.Abs(x) > cfg.OutlierThreshold) {
			continue
		}
		fr = append(fr, f)
		ir = append(ir, x)
	}

	if len(fr) < cfg.MinBetaOverlap || len(fr) < 2 {
		return 0, false
	}
	v := SampleStdDev(ir)
	v *= v
	if v == 0 {
		return 0, false
	}
	b := SampleCovariance(fr, ir) / v
	return b, finite(b)
}
