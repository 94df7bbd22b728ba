package feed

import (
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sudhirig/mfscore/internal/model"
)

// parsePositive parses a NAV or close value. Placeholders such as "N.A.",
// "-" or "." and non-positive values are rejected.
func parsePositive(s string) (float64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// parseDate accepts the date layouts used by the feeds.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"02-Jan-2006", "02-01-2006", time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return model.Day(t), nil
		}
	}
	return time.Time{}, eris.Errorf("feed: unrecognised date %q", s)
}

var titleCaser = cases.Title(language.English, cases.NoLower)

// ParseSchemeCategory splits a SEBI scheme category such as
// "Equity Scheme - Large Cap Fund" into ("Equity", "Large Cap").
func ParseSchemeCategory(s string) (category, subcategory string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ""
	}
	head, tail, _ := strings.Cut(s, " - ")
	category = strings.TrimSpace(head)
	category = strings.TrimSuffix(category, " Schemes")
	category = strings.TrimSuffix(category, " Scheme")
	category = titleCaser.String(category)

	subcategory = strings.TrimSpace(tail)
	subcategory = strings.TrimSuffix(subcategory, " Fund")
	subcategory = strings.TrimSuffix(subcategory, " Funds")
	subcategory = titleCaser.String(subcategory)
	return category, subcategory
}

// ParseIndexSymbols parses "INDEX NAME=SYMBOL" pairs. Entries without "="
// use the symbol as the index name.
func ParseIndexSymbols(pairs []string) map[string]string {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		name, symbol, ok := strings.Cut(p, "=")
		if !ok {
			symbol = name
		}
		name, symbol = strings.TrimSpace(name), strings.TrimSpace(symbol)
		if name == "" || symbol == "" {
			continue
		}
		out[strings.ToUpper(name)] = symbol
	}
	return out
}

// parseRate parses a macro observation, which may be zero or negative.
func parseRate(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == "." {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	return v, err == nil
}
