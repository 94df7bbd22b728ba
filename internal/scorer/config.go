// Package scorer combines period returns, risk metrics and fund metadata into
// a 100-point composite score and maps scores to recommendations.
package scorer

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sudhirig/mfscore/internal/benchmark"
	"github.com/sudhirig/mfscore/internal/config"
	"github.com/sudhirig/mfscore/internal/model"
)

// Component budget ceilings.
const (
	MaxHistoricalBudget   = 40
	MaxRiskBudget         = 30
	MaxFundamentalsBudget = 30
	MaxOtherBudget        = 30
)

// Config holds every scoring parameter that is not category specific.
type Config struct {
	// Point budgets.
	HistoricalBudget   float64 `json:"historical_budget"`
	RiskBudget         float64 `json:"risk_budget"`
	FundamentalsBudget float64 `json:"fundamentals_budget"`
	OtherBudget        float64 `json:"other_budget"`

	// Relative weight of each period inside the historical component.
	PeriodWeights map[model.Period]float64 `json:"period_weights"`

	// Risk component weights.
	VolatilityWeight float64 `json:"volatility_weight"`
	DrawdownWeight   float64 `json:"drawdown_weight"`

	// Fundamentals component weights and bands.
	ExpenseWeight float64        `json:"expense_weight"`
	AUMWeight     float64        `json:"aum_weight"`
	AgeWeight     float64        `json:"age_weight"`
	ExpenseBand   benchmark.Band `json:"expense_band"`
	// AUMBand is in crore and graded on a log10 scale.
	AUMBand benchmark.Band `json:"aum_band"`
	// AgeBand is fund age in years.
	AgeBand benchmark.Band `json:"age_band"`

	// Other-metrics component weights and bands.
	SharpeWeight  float64        `json:"sharpe_weight"`
	BetaWeight    float64        `json:"beta_weight"`
	SharpeBand    benchmark.Band `json:"sharpe_band"`
	BetaTolerance float64        `json:"beta_tolerance"`
}

// DefaultConfig returns the standard scoring configuration. Budgets sum to 100.
func DefaultConfig() Config {
	return Config{
		HistoricalBudget:   40,
		RiskBudget:         30,
		FundamentalsBudget: 20,
		OtherBudget:        10,

		PeriodWeights: map[model.Period]float64{
			model.Period1M:  0.5,
			model.Period3M:  1,
			model.Period6M:  1,
			model.Period1Y:  2,
			model.Period3Y:  2.5,
			model.Period5Y:  2.5,
			model.PeriodYTD: 0.5,
		},

		VolatilityWeight: 50,
		DrawdownWeight:   50,

		ExpenseWeight: 60,
		AUMWeight:     25,
		AgeWeight:     15,
		ExpenseBand:   benchmark.Band{Best: 0.5, Worst: 2.5},
		AUMBand:       benchmark.Band{Best: 10000, Worst: 50},
		AgeBand:       benchmark.Band{Best: 10, Worst: 1},

		SharpeWeight:  70,
		BetaWeight:    30,
		SharpeBand:    benchmark.Band{Best: 1.5, Worst: 0},
		BetaTolerance: 1,
	}
}

// FromScoringConfig overlays the configured budgets and period weights on
// DefaultConfig and validates the result.
func FromScoringConfig(c config.ScoringConfig) (Config, error) {
	cfg := DefaultConfig()
	if c.Budgets != (config.BudgetConfig{}) {
		cfg.HistoricalBudget = c.Budgets.Historical
		cfg.RiskBudget = c.Budgets.Risk
		cfg.FundamentalsBudget = c.Budgets.Fundamentals
		cfg.OtherBudget = c.Budgets.Other
	}
	if len(c.PeriodWeights) > 0 {
		weights := make(map[model.Period]float64, len(c.PeriodWeights))
		for k, w := range c.PeriodWeights {
			p, err := model.ParsePeriod(k)
			if err != nil {
				return Config{}, eris.Wrap(err, "scorer: period_weights")
			}
			weights[p] = w
		}
		cfg.PeriodWeights = weights
	}
	if err := ValidateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// BudgetSum returns the sum of all component budgets.
func BudgetSum(c Config) float64 {
	return c.HistoricalBudget + c.RiskBudget + c.FundamentalsBudget + c.OtherBudget
}

// ValidateConfig checks that a Config is internally consistent.
func ValidateConfig(c Config) error {
	var errs []string

	budgets := []struct {
		name     string
		val, max float64
	}{
		{"historical_budget", c.HistoricalBudget, MaxHistoricalBudget},
		{"risk_budget", c.RiskBudget, MaxRiskBudget},
		{"fundamentals_budget", c.FundamentalsBudget, MaxFundamentalsBudget},
		{"other_budget", c.OtherBudget, MaxOtherBudget},
	}
	for _, b := range budgets {
		if b.val < 0 || b.val > b.max {
			errs = append(errs, fmt.Sprintf("%s must be between 0 and %.0f", b.name, b.max))
		}
	}
	if BudgetSum(c) <= 0 {
		errs = append(errs, "budget sum must be > 0")
	}

	var periodSum float64
	for _, p := range model.AllPeriods() {
		w := c.PeriodWeights[p]
		if w < 0 {
			errs = append(errs, fmt.Sprintf("period weight %s must be >= 0", p))
		}
		periodSum += w
	}
	if periodSum <= 0 {
		errs = append(errs, "period weights must sum to > 0")
	}

	weights := []struct {
		name string
		val  float64
	}{
		{"volatility_weight", c.VolatilityWeight},
		{"drawdown_weight", c.DrawdownWeight},
		{"expense_weight", c.ExpenseWeight},
		{"aum_weight", c.AUMWeight},
		{"age_weight", c.AgeWeight},
		{"sharpe_weight", c.SharpeWeight},
		{"beta_weight", c.BetaWeight},
	}
	for _, w := range weights {
		if w.val < 0 {
			errs = append(errs, fmt.Sprintf("%s must be >= 0", w.name))
		}
	}

	if c.ExpenseBand.Best == c.ExpenseBand.Worst {
		errs = append(errs, "expense_band is degenerate")
	}
	if c.AUMBand.Best <= 0 || c.AUMBand.Worst <= 0 || c.AUMBand.Best == c.AUMBand.Worst {
		errs = append(errs, "aum_band bounds must be positive and distinct")
	}
	if c.AgeBand.Best == c.AgeBand.Worst {
		errs = append(errs, "age_band is degenerate")
	}
	if c.SharpeBand.Best == c.SharpeBand.Worst {
		errs = append(errs, "sharpe_band is degenerate")
	}
	if c.BetaTolerance <= 0 || math.IsInf(c.BetaTolerance, 0) {
		errs = append(errs, "beta_tolerance must be > 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("scorer: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ConfigHash returns a SHA-256 hash of any scoring configuration value so a
// persisted score can be traced to the parameters that produced it.
func ConfigHash(cfg any) string {
	data, err := json.Marshal(cfg)
	if err != nil {
		return ""
	}
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:16]) // 32 hex chars
}
