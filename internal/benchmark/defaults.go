package benchmark

import "github.com/sudhirig/mfscore/internal/model"

// Return thresholds are point-to-point percentages (not annualized) in the
// order 1M, 3M, 6M, 1Y, 3Y, 5Y, YTD.
type ladder [7]float64

func tiers(excellent, good, average, poor ladder) []Tier {
	mk := func(name string, score float64, l ladder) Tier {
		m := make(map[model.Period]float64, len(l))
		for i, p := range model.AllPeriods() {
			m[p] = l[i]
		}
		return Tier{Name: name, Score: score, MinReturn: m}
	}
	return []Tier{
		mk("excellent", 100, excellent),
		mk("good", 75, good),
		mk("average", 50, average),
		mk("poor", 25, poor),
	}
}

// EquityTable is the built-in ladder for equity schemes.
func EquityTable() Table {
	return Table{
		Category: "Equity",
		Tiers: tiers(
			ladder{3, 8, 15, 25, 60, 100, 12},
			ladder{1.5, 4, 8, 15, 40, 70, 7},
			ladder{0, 1, 3, 8, 20, 40, 2},
			ladder{-3, -5, -8, -5, 0, 10, -5},
		),
		Volatility:        Band{Best: 10, Worst: 35},
		Drawdown:          Band{Best: 10, Worst: 50},
		TypicalVolatility: 18,
	}
}

// DebtTable is the built-in ladder for debt schemes.
func DebtTable() Table {
	return Table{
		Category: "Debt",
		Tiers: tiers(
			ladder{0.8, 2.2, 4.5, 8.5, 25, 45, 5},
			ladder{0.6, 1.8, 3.6, 7, 20, 36, 4},
			ladder{0.4, 1.2, 2.5, 5.5, 15, 27, 2.5},
			ladder{0, 0, 0, 2, 5, 10, 0},
		),
		Volatility:        Band{Best: 0.5, Worst: 8},
		Drawdown:          Band{Best: 0.5, Worst: 10},
		TypicalVolatility: 2.5,
	}
}

// HybridTable is the built-in ladder for hybrid schemes.
func HybridTable() Table {
	return Table{
		Category: "Hybrid",
		Tiers: tiers(
			ladder{2, 6, 11, 18, 45, 80, 9},
			ladder{1, 3, 6, 11, 30, 55, 5},
			ladder{0, 1, 2, 6, 15, 30, 1.5},
			ladder{-2, -4, -6, -3, 0, 5, -4},
		),
		Volatility:        Band{Best: 5, Worst: 22},
		Drawdown:          Band{Best: 5, Worst: 35},
		TypicalVolatility: 10,
	}
}

// DefaultTable is used for categories without a table. It grades on the
// hybrid ladder so neither equity nor debt funds are graded at an extreme.
func DefaultTable() Table {
	t := HybridTable()
	t.Category = DefaultCategory
	return t
}

// Defaults returns the built-in set: Equity, Debt, Hybrid, Solution
// Oriented (hybrid ladder) and Other (equity ladder, index funds and ETFs).
func Defaults() *Set {
	solution := HybridTable()
	solution.Category = "Solution Oriented"
	other := EquityTable()
	other.Category = "Other"

	s, err := NewSet(DefaultTable(), EquityTable(), DebtTable(), HybridTable(), solution, other)
	if err != nil {
		// Built-in tables are covered by tests.
		panic(err)
	}
	return s
}
