package model

import "time"

// Fund is a mutual fund scheme as recorded in the funds table.
type Fund struct {
	ID             int64      `json:"id"`
	SchemeCode     string     `json:"scheme_code"`
	Name           string     `json:"name"`
	AMC            string     `json:"amc"`
	Category       string     `json:"category"`
	Subcategory    string     `json:"subcategory,omitempty"`
	ExpenseRatio   *float64   `json:"expense_ratio,omitempty"`
	AUMCrore       *float64   `json:"aum_crore,omitempty"`
	InceptionDate  *time.Time `json:"inception_date,omitempty"`
	BenchmarkIndex string     `json:"benchmark_index,omitempty"`
}

// Fundamentals holds the non-NAV inputs to the fundamentals component.
type Fundamentals struct {
	ExpenseRatio  *float64
	AUMCrore      *float64
	InceptionDate *time.Time
}

// Fundamentals extracts the scoring inputs from the fund's metadata.
func (f Fund) Fundamentals() Fundamentals {
	return Fundamentals{
		ExpenseRatio:  f.ExpenseRatio,
		AUMCrore:      f.AUMCrore,
		InceptionDate: f.InceptionDate,
	}
}
