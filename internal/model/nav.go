package model

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// NavPoint is a single recorded net asset value.
type NavPoint struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// NavSeries is the ordered NAV history of one fund. Callers treat it as
// read-only; the loader owns construction.
type NavSeries struct {
	FundID int64      `json:"fund_id"`
	Points []NavPoint `json:"points"`
}

// Len returns the number of points in the series.
func (s NavSeries) Len() int { return len(s.Points) }

// First returns the earliest point. ok is false for an empty series.
func (s NavSeries) First() (NavPoint, bool) {
	if len(s.Points) == 0 {
		return NavPoint{}, false
	}
	return s.Points[0], true
}

// Last returns the most recent point. ok is false for an empty series.
func (s NavSeries) Last() (NavPoint, bool) {
	if len(s.Points) == 0 {
		return NavPoint{}, false
	}
	return s.Points[len(s.Points)-1], true
}

// Validate checks that dates are strictly ascending and every value is a
// positive finite number.
func (s NavSeries) Validate() error {
	for i, p := range s.Points {
		if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) || p.Value <= 0 {
			return &InvalidInputError{
				FundID: s.FundID,
				Reason: fmt.Sprintf("non-positive or non-finite NAV %v on %s", p.Value, p.Date.Format(time.DateOnly)),
			}
		}
		if i > 0 && !p.Date.After(s.Points[i-1].Date) {
			return &InvalidInputError{
				FundID: s.FundID,
				Reason: fmt.Sprintf("dates not strictly ascending at %s", p.Date.Format(time.DateOnly)),
			}
		}
	}
	return nil
}

// IndexAtOrBefore returns the index of the last point dated on or before t,
// or -1 when every point is after t.
func (s NavSeries) IndexAtOrBefore(t time.Time) int {
	i := sort.Search(len(s.Points), func(i int) bool {
		return s.Points[i].Date.After(t)
	})
	return i - 1
}

// Window returns the sub-series with from <= date <= to. The returned
// series shares the backing array.
func (s NavSeries) Window(from, to time.Time) NavSeries {
	lo := sort.Search(len(s.Points), func(i int) bool {
		return !s.Points[i].Date.Before(from)
	})
	hi := sort.Search(len(s.Points), func(i int) bool {
		return s.Points[i].Date.After(to)
	})
	if hi < lo {
		hi = lo
	}
	return NavSeries{FundID: s.FundID, Points: s.Points[lo:hi]}
}
