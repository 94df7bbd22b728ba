package metrics

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/sudhirig/mfscore/internal/model"
)

const day = 24 * time.Hour

// ReturnRule controls how a period's historical point is matched.
type ReturnRule struct {
	// Tolerance is the maximum distance between the matched point and the
	// period's target date.
	Tolerance time.Duration `json:"tolerance" yaml:"tolerance"`
	// MinPoints is the minimum number of NAV points between the start of the
	// tolerance window and asOf.
	MinPoints int `json:"min_points" yaml:"min_points"`
	// ForwardOnly restricts matches to points on or after the target date.
	ForwardOnly bool `json:"forward_only" yaml:"forward_only"`
}

// ReturnRules is the full return-matching configuration.
type ReturnRules struct {
	Periods map[model.Period]ReturnRule `json:"periods"`
	// CurrentTolerance bounds how stale the "current" NAV may be relative
	// to asOf.
	CurrentTolerance time.Duration `json:"current_tolerance"`
}

// DefaultReturnRules returns the standard per-period tolerances.
func DefaultReturnRules() ReturnRules {
	return ReturnRules{
		Periods: map[model.Period]ReturnRule{
			model.Period1M:  {Tolerance: 7 * day, MinPoints: 15},
			model.Period3M:  {Tolerance: 10 * day, MinPoints: 40},
			model.Period6M:  {Tolerance: 15 * day, MinPoints: 80},
			model.Period1Y:  {Tolerance: 30 * day, MinPoints: 150},
			model.Period3Y:  {Tolerance: 60 * day, MinPoints: 450},
			model.Period5Y:  {Tolerance: 60 * day, MinPoints: 750},
			model.PeriodYTD: {Tolerance: 15 * day, MinPoints: 2, ForwardOnly: true},
		},
		CurrentTolerance: 10 * day,
	}
}

// ComputeReturn returns the percentage change between the NAV at or before
// asOf and the NAV closest to the period's target date. Errors wrap
// model.ErrInsufficientData when the period has no usable match.
func ComputeReturn(s model.NavSeries, asOf time.Time, p model.Period, rules ReturnRules) (float64, error) {
	rule, ok := rules.Periods[p]
	if !ok {
		return 0, eris.Errorf("metrics: no return rule for period %s", p)
	}
	asOf = model.Day(asOf)

	ci := s.IndexAtOrBefore(asOf)
	if ci < 0 {
		return 0, eris.Wrapf(model.ErrInsufficientData, "metrics: %s: no NAV on or before %s", p, asOf.Format(time.DateOnly))
	}
	current := s.Points[ci]
	if rules.CurrentTolerance > 0 && asOf.Sub(current.Date) > rules.CurrentTolerance {
		return 0, eris.Wrapf(model.ErrInsufficientData, "metrics: %s: latest NAV %s is stale", p, current.Date.Format(time.DateOnly))
	}

	target := p.Start(asOf)
	from := target.Add(-rule.Tolerance)
	if rule.ForwardOnly {
		from = target
	}

	if n := ci - s.IndexAtOrBefore(from.Add(-time.Nanosecond)); n < rule.MinPoints {
		return 0, eris.Wrapf(model.ErrInsufficientData, "metrics: %s: %d points, need %d", p, n, rule.MinPoints)
	}

	mi := matchNearest(s, target, rule, ci)
	if mi < 0 {
		return 0, eris.Wrapf(model.ErrInsufficientData, "metrics: %s: no NAV within tolerance of %s", p, target.Format(time.DateOnly))
	}
	matched := s.Points[mi].Value
	if matched <= 0 {
		return 0, eris.Wrapf(model.ErrInsufficientData, "metrics: %s: non-positive historical NAV", p)
	}

	pct := (current.Value - matched) / matched * 100
	if !finite(pct) {
		return 0, eris.Wrapf(model.ErrInsufficientData, "metrics: %s: non-finite return", p)
	}
	return pct, nil
}

// matchNearest returns the index of the point closest to target within the
// rule's tolerance and strictly before limit, or -1. Equal distances resolve
// to the earlier point.
func matchNearest(s model.NavSeries, target time.Time, rule ReturnRule, limit int) int {
	start := s.IndexAtOrBefore(target.Add(-rule.Tolerance))
	if start < 0 {
		start = 0
	}
	best := -1
	var bestDist time.Duration
	for i := start; i < limit; i++ {
		d := s.Points[i].Date.Sub(target)
		if d > rule.Tolerance {
			break
		}
		if rule.ForwardOnly && d < 0 {
			continue
		}
		if d < 0 {
			d = -d
		}
		if d > rule.Tolerance {
			continue
		}
		if best < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// ComputeReturns evaluates every period and returns raw percentages keyed by
// period. Absent periods map to nil.
func ComputeReturns(s model.NavSeries, asOf time.Time, periods []model.Period, rules ReturnRules) map[model.Period]*float64 {
	out := make(map[model.Period]*float64, len(periods))
	for _, p := range periods {
		v, err := ComputeReturn(s, asOf, p, rules)
		if err != nil {
			out[p] = nil
			continue
		}
		out[p] = &v
	}
	return out
}
