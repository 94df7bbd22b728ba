package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// BetaMethod labels how a RiskProfile's beta was obtained.
type BetaMethod string

const (
	// BetaRegression is cov(fund, index) / var(index) over aligned daily returns.
	BetaRegression BetaMethod = "regression"
	// BetaVolatilityRatio is an approximation: fund volatility divided by a
	// category-typical volatility. It is not a covariance beta.
	BetaVolatilityRatio BetaMethod = "volatility_ratio"
)

// RiskProfile holds the risk metrics derived from a NAV series. Nil fields
// are absent. An all-nil profile means insufficient data, not zero risk.
type RiskProfile struct {
	VolatilityPercent   *float64   `json:"volatility_percent,omitempty"`
	MaxDrawdownPercent  *float64   `json:"max_drawdown_percent,omitempty"`
	AnnualReturnPercent *float64   `json:"annual_return_percent,omitempty"`
	SharpeRatio         *float64   `json:"sharpe_ratio,omitempty"`
	Beta                *float64   `json:"beta,omitempty"`
	BetaMethod          BetaMethod `json:"beta_method,omitempty"`
	Observations        int        `json:"observations"`
}

// Empty reports whether every metric is absent.
func (r RiskProfile) Empty() bool {
	return r.VolatilityPercent == nil && r.MaxDrawdownPercent == nil &&
		r.SharpeRatio == nil && r.Beta == nil
}

// Recommendation is the discrete advice derived from a score.
type Recommendation string

const (
	StrongBuy  Recommendation = "STRONG_BUY"
	Buy        Recommendation = "BUY"
	Hold       Recommendation = "HOLD"
	Sell       Recommendation = "SELL"
	StrongSell Recommendation = "STRONG_SELL"
)

// ParseRecommendation accepts a recommendation in any case.
func ParseRecommendation(s string) (Recommendation, error) {
	r := Recommendation(strings.ToUpper(strings.TrimSpace(s)))
	switch r {
	case StrongBuy, Buy, Hold, Sell, StrongSell:
		return r, nil
	default:
		return "", eris.Errorf("unknown recommendation: %q", s)
	}
}

// FundScore is the scored snapshot of one fund on one date. There is at most
// one per (FundID, ScoreDate); re-scoring overwrites it.
type FundScore struct {
	FundID      int64     `json:"fund_id"`
	SchemeCode  string    `json:"scheme_code,omitempty"`
	FundName    string    `json:"fund_name,omitempty"`
	ScoreDate   time.Time `json:"score_date"`
	Category    string    `json:"category"`
	Subcategory string    `json:"subcategory,omitempty"`

	PeriodReturns map[Period]*float64 `json:"period_returns"`
	PeriodScores  map[Period]float64  `json:"period_scores"`
	Risk          RiskProfile         `json:"risk"`

	HistoricalReturnsTotal float64 `json:"historical_returns_total"`
	RiskGradeTotal         float64 `json:"risk_grade_total"`
	FundamentalsTotal      float64 `json:"fundamentals_total"`
	OtherMetricsTotal      float64 `json:"other_metrics_total"`
	TotalScore             float64 `json:"total_score"`

	Rank           int            `json:"rank"`
	Quartile       int            `json:"quartile"`
	Percentile     int            `json:"percentile"`
	PeerGroup      string         `json:"peer_group"`
	PeerGroupSize  int            `json:"peer_group_size"`
	LowSample      bool           `json:"low_sample"`
	Recommendation Recommendation `json:"recommendation"`

	DefaultBenchmark bool   `json:"default_benchmark"`
	ConfigHash       string `json:"config_hash,omitempty"`
}

// ComponentSum is the unclamped sum of the four component totals.
func (s *FundScore) ComponentSum() float64 {
	return s.HistoricalReturnsTotal + s.RiskGradeTotal + s.FundamentalsTotal + s.OtherMetricsTotal
}

// Partial reports whether any period return or the risk profile is absent.
func (s *FundScore) Partial() bool {
	if s.Risk.Empty() {
		return true
	}
	for _, p := range AllPeriods() {
		if s.PeriodReturns[p] == nil {
			return true
		}
	}
	return false
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }
