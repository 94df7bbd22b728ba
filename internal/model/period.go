package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// Period identifies a trailing return window.
type Period string

const (
	Period1M  Period = "1M"
	Period3M  Period = "3M"
	Period6M  Period = "6M"
	Period1Y  Period = "1Y"
	Period3Y  Period = "3Y"
	Period5Y  Period = "5Y"
	PeriodYTD Period = "YTD"
)

// AllPeriods returns every supported period in display order.
func AllPeriods() []Period {
	return []Period{Period1M, Period3M, Period6M, Period1Y, Period3Y, Period5Y, PeriodYTD}
}

// ParsePeriod converts a string like "1Y" or "ytd" into a Period.
func ParsePeriod(s string) (Period, error) {
	switch s {
	case "1M", "1m":
		return Period1M, nil
	case "3M", "3m":
		return Period3M, nil
	case "6M", "6m":
		return Period6M, nil
	case "1Y", "1y":
		return Period1Y, nil
	case "3Y", "3y":
		return Period3Y, nil
	case "5Y", "5y":
		return Period5Y, nil
	case "YTD", "ytd":
		return PeriodYTD, nil
	default:
		return "", eris.Errorf("unknown period: %q (valid: 1M, 3M, 6M, 1Y, 3Y, 5Y, YTD)", s)
	}
}

// Start returns the target date the period is measured from, relative to asOf.
// For YTD this is January 1 of asOf's calendar year. Month and year steps
// clamp to the last day of the target month, so 1M before March 31 is the
// end of February.
func (p Period) Start(asOf time.Time) time.Time {
	d := Day(asOf)
	switch p {
	case Period1M:
		return monthsBefore(d, 1)
	case Period3M:
		return monthsBefore(d, 3)
	case Period6M:
		return monthsBefore(d, 6)
	case Period1Y:
		return monthsBefore(d, 12)
	case Period3Y:
		return monthsBefore(d, 36)
	case Period5Y:
		return monthsBefore(d, 60)
	case PeriodYTD:
		return time.Date(d.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	default:
		return d
	}
}

func monthsBefore(d time.Time, n int) time.Time {
	first := time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -n, 0)
	last := first.AddDate(0, 1, -1).Day()
	return first.AddDate(0, 0, min(d.Day(), last)-1)
}

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
