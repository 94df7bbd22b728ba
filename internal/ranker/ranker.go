// Package ranker assigns rank, quartile and percentile within peer groups.
package ranker

import (
	"math"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sudhirig/mfscore/internal/model"
)

// GroupBy selects how funds are partitioned into peer groups.
type GroupBy string

const (
	GroupBySubcategory GroupBy = "subcategory"
	GroupByCategory    GroupBy = "category"
	GroupByUniverse    GroupBy = "universe"
)

// UniverseGroup is the peer group name when every fund ranks together.
const UniverseGroup = "ALL"

// DefaultMinReliableGroup is the group size below which quartiles are
// flagged as low-sample.
const DefaultMinReliableGroup = 4

// ParseGroupBy validates a group-by mode.
func ParseGroupBy(s string) (GroupBy, error) {
	switch g := GroupBy(strings.ToLower(strings.TrimSpace(s))); g {
	case GroupBySubcategory, GroupByCategory, GroupByUniverse:
		return g, nil
	case "":
		return GroupBySubcategory, nil
	default:
		return "", eris.Errorf("ranker: unknown group_by %q", s)
	}
}

// GroupKey returns the peer group of a score. Funds without a subcategory
// fall back to their category, and funds without either form their own
// "Uncategorized" group.
func GroupKey(fs *model.FundScore, by GroupBy) string {
	return Key(fs.Category, fs.Subcategory, by)
}

// FundGroupKey returns the peer group a fund will be ranked in.
func FundGroupKey(f model.Fund, by GroupBy) string {
	return Key(f.Category, f.Subcategory, by)
}

// Key maps a category and subcategory to a peer group name.
func Key(category, subcategory string, by GroupBy) string {
	switch by {
	case GroupByUniverse:
		return UniverseGroup
	case GroupByCategory:
		return orUncategorized(category)
	default:
		if s := strings.TrimSpace(subcategory); s != "" {
			return s
		}
		return orUncategorized(category)
	}
}

func orUncategorized(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return "Uncategorized"
	}
	return s
}

// Rank partitions scores into peer groups and annotates every score in
// place. All scores must share one score date. Scores are ordered by total
// descending with ties broken by ascending fund ID.
func Rank(scores []*model.FundScore, by GroupBy, minReliable int) {
	groups := make(map[string][]*model.FundScore)
	for _, fs := range scores {
		k := GroupKey(fs, by)
		groups[k] = append(groups[k], fs)
	}
	for k, g := range groups {
		RankGroup(g, k, minReliable)
	}
}

// RankGroup ranks a single peer group in place and reorders the slice into
// rank order.
func RankGroup(group []*model.FundScore, name string, minReliable int) {
	sort.SliceStable(group, func(i, j int) bool {
		if group[i].TotalScore != group[j].TotalScore {
			return group[i].TotalScore > group[j].TotalScore
		}
		return group[i].FundID < group[j].FundID
	})

	n := len(group)
	for i, fs := range group {
		rank := i + 1
		fs.Rank = rank
		fs.Quartile = Quartile(rank, n)
		fs.Percentile = Percentile(rank, n)
		fs.PeerGroup = name
		fs.PeerGroupSize = n
		fs.LowSample = n < minReliable
	}
}

// Quartile returns the quartile of rank within a group of n. Quartiles are
// balanced: each holds floor(n/4) or ceil(n/4) members and the larger ones
// come first. Groups smaller than four fill quartiles 1..n.
func Quartile(rank, n int) int {
	if n <= 0 || rank <= 0 {
		return 0
	}
	i := min(rank, n) - 1
	size, extra := n/4, n%4
	big := extra * (size + 1)
	if i < big {
		return i/(size+1) + 1
	}
	return extra + (i-big)/size + 1
}

// Percentile returns round((n-rank)/(n-1)*100), or 100 for a group of one.
func Percentile(rank, n int) int {
	if n <= 1 {
		return 100
	}
	return int(math.Round(float64(n-rank) / float64(n-1) * 100))
}

// QuartileCounts returns the number of scores in each quartile; index 0
// counts unranked scores.
func QuartileCounts(scores []*model.FundScore) [5]int {
	var c [5]int
	for _, fs := range scores {
		if fs.Quartile >= 1 && fs.Quartile <= 4 {
			c[fs.Quartile]++
		} else {
			c[0]++
		}
	}
	return c
}
