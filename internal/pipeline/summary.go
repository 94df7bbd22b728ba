package pipeline

import (
	"github.com/sudhirig/mfscore/internal/model"
	"github.com/sudhirig/mfscore/internal/ranker"
)

// maxRunLogFailures caps the failures copied into a run log summary.
const maxRunLogFailures = 50

// Failure names a fund that was not scored, or whose score was not stored.
type Failure struct {
	FundID     int64  `json:"fund_id"`
	SchemeCode string `json:"scheme_code,omitempty"`
	Status     Status `json:"status"`
	Reason     string `json:"reason"`
}

// Summary counts a batch's per-fund outcomes. No fund is dropped silently:
// every fund in the universe is either scored, listed in Failures or, after
// an abort, counted as Unprocessed.
type Summary struct {
	Funds int `json:"funds"`
	// Scored counts funds whose score was computed and, outside a dry run,
	// stored.
	Scored            int       `json:"scored"`
	Partial           int       `json:"partial"`
	InsufficientData  int       `json:"insufficient_data"`
	Invalid           int       `json:"invalid"`
	StorageFailed     int       `json:"storage_failed"`
	Unprocessed       int       `json:"unprocessed"`
	DefaultedCategory int       `json:"defaulted_category"`
	Quartiles         [5]int    `json:"quartiles"`
	Failures          []Failure `json:"failures,omitempty"`
}

// tally recounts the summary. With stored set, a scored fund whose score
// was never written counts as unprocessed.
func (s *Summary) tally(outcomes []Outcome, stored bool) {
	s.Scored, s.Partial, s.InsufficientData, s.Invalid = 0, 0, 0, 0
	s.StorageFailed, s.Unprocessed, s.DefaultedCategory = 0, 0, 0
	s.Failures = nil
	for _, o := range outcomes {
		switch o.Status {
		case StatusScored:
			if stored && !o.Written {
				s.Unprocessed++
				continue
			}
			s.Scored++
			if o.Score.Partial() {
				s.Partial++
			}
			if o.Score.DefaultBenchmark {
				s.DefaultedCategory++
			}
			continue
		case StatusInsufficientData:
			s.InsufficientData++
		case StatusInvalid:
			s.Invalid++
		case StatusStorageFailed:
			s.StorageFailed++
		default:
			s.Unprocessed++
			continue
		}
		s.Failures = append(s.Failures, Failure{
			FundID:     o.FundID,
			SchemeCode: o.SchemeCode,
			Status:     o.Status,
			Reason:     o.Reason,
		})
	}
	if s.Funds > len(outcomes) {
		s.Unprocessed += s.Funds - len(outcomes)
	}

	var scored []*model.FundScore
	for _, o := range outcomes {
		if o.Status == StatusScored && (!stored || o.Written) {
			scored = append(scored, o.Score)
		}
	}
	s.Quartiles = ranker.QuartileCounts(scored)
}

// Skipped is the number of funds without a stored score.
func (s Summary) Skipped() int {
	return s.InsufficientData + s.Invalid + s.StorageFailed + s.Unprocessed
}

// Map renders the summary for the run log.
func (s Summary) Map() map[string]any {
	m := map[string]any{
		"funds":              s.Funds,
		"scored":             s.Scored,
		"partial":            s.Partial,
		"insufficient_data":  s.InsufficientData,
		"invalid":            s.Invalid,
		"storage_failed":     s.StorageFailed,
		"unprocessed":        s.Unprocessed,
		"defaulted_category": s.DefaultedCategory,
		"quartiles":          s.Quartiles[1:],
	}
	if len(s.Failures) > 0 {
		failures := s.Failures
		if len(failures) > maxRunLogFailures {
			failures = failures[:maxRunLogFailures]
		}
		m["failures"] = failures
	}
	return m
}
