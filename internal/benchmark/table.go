// Package benchmark holds the per-category threshold tables the composite
// scorer grades returns and risk against.
package benchmark

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sudhirig/mfscore/internal/model"
)

// Tier is one grade in a category's return ladder. A period return earns
// Score when it is at or above MinReturn[period].
type Tier struct {
	Name      string                   `yaml:"name" json:"name"`
	Score     float64                  `yaml:"score" json:"score"`
	MinReturn map[model.Period]float64 `yaml:"min_return" json:"min_return"`
}

// Band maps a metric linearly onto 0..100: Best scores 100, Worst scores 0.
// Best may be above or below Worst.
type Band struct {
	Best  float64 `yaml:"best" json:"best"`
	Worst float64 `yaml:"worst" json:"worst"`
}

// Score returns the clamped 0..100 position of v within the band.
func (b Band) Score(v float64) float64 {
	if b.Best == b.Worst {
		return 0
	}
	s := (v - b.Worst) / (b.Best - b.Worst) * 100
	return math.Max(0, math.Min(100, s))
}

// Table is the benchmark configuration of one category.
type Table struct {
	Category string `yaml:"category" json:"category"`
	// Tiers are ordered best first.
	Tiers      []Tier `yaml:"tiers" json:"tiers"`
	Volatility Band   `yaml:"volatility" json:"volatility"`
	Drawdown   Band   `yaml:"drawdown" json:"drawdown"`
	// TypicalVolatility is the category's usual annualized volatility in
	// percent, used for the volatility-ratio beta estimate.
	TypicalVolatility float64 `yaml:"typical_volatility" json:"typical_volatility"`
}

// PeriodScore grades a raw period return against the tier ladder. Returns
// below the last tier score 0.
func (t Table) PeriodScore(p model.Period, pct float64) float64 {
	for _, tier := range t.Tiers {
		if threshold, ok := tier.MinReturn[p]; ok && pct >= threshold {
			return tier.Score
		}
	}
	return 0
}

// Validate checks the table is usable: at least one tier, every tier covers
// every period, scores in [0,100] and strictly decreasing, thresholds
// non-increasing down the ladder, risk bands decreasing.
func (t Table) Validate() error {
	var errs []string
	name := t.Category
	if name == "" {
		name = "(unnamed)"
	}

	if len(t.Tiers) == 0 {
		errs = append(errs, "no tiers")
	}
	seen := make(map[string]bool, len(t.Tiers))
	for i, tier := range t.Tiers {
		if tier.Name == "" {
			errs = append(errs, fmt.Sprintf("tier %d has no name", i))
		} else if seen[tier.Name] {
			errs = append(errs, fmt.Sprintf("duplicate tier %q", tier.Name))
		}
		seen[tier.Name] = true

		if tier.Score < 0 || tier.Score > 100 {
			errs = append(errs, fmt.Sprintf("tier %q score must be between 0 and 100", tier.Name))
		}
		if i > 0 && tier.Score >= t.Tiers[i-1].Score {
			errs = append(errs, fmt.Sprintf("tier %q score must be below tier %q", tier.Name, t.Tiers[i-1].Name))
		}
		for _, p := range model.AllPeriods() {
			v, ok := tier.MinReturn[p]
			if !ok {
				errs = append(errs, fmt.Sprintf("tier %q missing threshold for %s", tier.Name, p))
				continue
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				errs = append(errs, fmt.Sprintf("tier %q threshold for %s is not finite", tier.Name, p))
			}
			if i > 0 {
				if prev, ok := t.Tiers[i-1].MinReturn[p]; ok && v > prev {
					errs = append(errs, fmt.Sprintf("tier %q threshold for %s exceeds tier %q", tier.Name, p, t.Tiers[i-1].Name))
				}
			}
		}
	}

	// Lower volatility and drawdown score higher.
	if !(t.Volatility.Best < t.Volatility.Worst) {
		errs = append(errs, "volatility band best must be below worst")
	}
	if !(t.Drawdown.Best < t.Drawdown.Worst) {
		errs = append(errs, "drawdown band best must be below worst")
	}
	if t.TypicalVolatility <= 0 {
		errs = append(errs, "typical_volatility must be > 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("benchmark: table %s invalid: %s", name, strings.Join(errs, "; "))
	}
	return nil
}

// normalize folds a category name to its lookup key.
func normalize(category string) string {
	return strings.Join(strings.Fields(strings.ToLower(category)), " ")
}
