package benchmark

import (
	"strings"

	"github.com/sudhirig/mfscore/internal/model"
)

// IndexRule assigns a benchmark index to funds whose category matches and
// whose subcategory contains SubcategoryContains (empty matches any).
type IndexRule struct {
	Category            string
	SubcategoryContains string
	Index               string
}

// FallbackIndex is assigned when no rule matches.
const FallbackIndex = "NIFTY 50"

// DefaultIndexRules are evaluated in order; the first match wins.
var DefaultIndexRules = []IndexRule{
	{"Equity", "Large Cap", "NIFTY 50"},
	{"Equity", "Mid Cap", "NIFTY MIDCAP 100"},
	{"Equity", "Small Cap", "NIFTY SMALLCAP 100"},
	{"Equity", "Bank", "NIFTY BANK"},
	{"Equity", "IT", "NIFTY IT"},
	{"Equity", "Pharma", "NIFTY PHARMA"},
	{"Equity", "ELSS", "NIFTY 500"},
	{"Equity", "Index", "NIFTY 50"},
	{"Equity", "", "NIFTY 500"},
	{"Debt", "Liquid", "NIFTY AAA CORPORATE BOND"},
	{"Debt", "Overnight", "NIFTY AAA CORPORATE BOND"},
	{"Debt", "Gilt", "NIFTY 10 YR BENCHMARK G-SEC"},
	{"Debt", "Long Duration", "NIFTY 10 YR BENCHMARK G-SEC"},
	{"Debt", "", "NIFTY COMPOSITE DEBT"},
	{"Hybrid", "Conservative", "NIFTY AAA CORPORATE BOND"},
	{"Hybrid", "", "NIFTY 50"},
}

// IndexFor returns the benchmark index for a fund using DefaultIndexRules.
func IndexFor(category, subcategory string) string {
	return IndexForRules(DefaultIndexRules, category, subcategory)
}

// IndexForFund returns the fund's recorded benchmark index, or the
// rule-based assignment when none is recorded.
func IndexForFund(f model.Fund) string {
	if idx := strings.TrimSpace(f.BenchmarkIndex); idx != "" {
		return idx
	}
	return IndexFor(f.Category, f.Subcategory)
}

// IndexForRules returns the index of the first matching rule, or
// FallbackIndex. Category comparison ignores case and a trailing "Scheme";
// subcategory matching is a case-sensitive substring test.
func IndexForRules(rules []IndexRule, category, subcategory string) string {
	key := categoryKey(category)
	for _, r := range rules {
		if categoryKey(r.Category) != key {
			continue
		}
		if r.SubcategoryContains == "" || strings.Contains(subcategory, r.SubcategoryContains) {
			return r.Index
		}
	}
	return FallbackIndex
}
