package confluence

import (
	"fmt"
	"sort"
	"strings"
)

// Filter names one scorable confluence condition.
type Filter string

const (
	FilterTimeWindow  Filter = "time_window"
	FilterBias        Filter = "bias"
	FilterSweep       Filter = "sweep"
	FilterGap         Filter = "gap"
	FilterOrderBlock  Filter = "order_block"
	FilterRetracement Filter = "retracement"
)

// AllFilters is the default scorable set.
var AllFilters = []Filter{
	FilterTimeWindow,
	FilterBias,
	FilterSweep,
	FilterGap,
	FilterOrderBlock,
	FilterRetracement,
}

// ParseFilters converts configured names into a deduplicated filter set.
// Unknown names are an error.
func ParseFilters(names []string) ([]Filter, error) {
	known := make(map[Filter]bool, len(AllFilters))
	for _, f := range AllFilters {
		known[f] = true
	}

	seen := make(map[Filter]bool, len(names))
	out := make([]Filter, 0, len(names))
	for _, n := range names {
		f := Filter(strings.ToLower(strings.TrimSpace(n)))
		if !known[f] {
			return nil, fmt.Errorf("unknown confluence filter %q", n)
		}
		if seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out, nil
}

// Scorer counts satisfied filters and gates on a minimum score.
type Scorer struct {
	filters  []Filter
	minScore int
}

// NewScorer creates a scorer over the given filter set. An empty set scores
// every known filter.
func NewScorer(filters []Filter, minScore int) *Scorer {
	if len(filters) == 0 {
		filters = AllFilters
	}
	return &Scorer{filters: filters, minScore: minScore}
}

// Score returns one point per enabled filter that holds, together with the
// names of the satisfied filters in sorted order.
func (s *Scorer) Score(satisfied map[Filter]bool) (int, []Filter) {
	score := 0
	hit := make([]Filter, 0, len(s.filters))
	for _, f := range s.filters {
		if satisfied[f] {
			score++
			hit = append(hit, f)
		}
	}
	sort.Slice(hit, func(i, j int) bool { return hit[i] < hit[j] })
	return score, hit
}

// ShouldTrade determines if the score reaches the configured minimum
func (s *Scorer) ShouldTrade(score int) bool {
	return score >= s.minScore
}
