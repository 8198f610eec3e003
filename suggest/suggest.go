// Package suggest ranks near-miss candidate names for "did you mean"
// diagnostics.
package suggest

import (
	"sort"
)

// MaxDistance is the edit-distance threshold beyond which a candidate is
// never suggested.
const MaxDistance = 2

// MaxSuggestions is the number of ranked suggestions returned.
const MaxSuggestions = 3

// Closest returns up to MaxSuggestions candidate names within MaxDistance
// edits of target, ranked by distance and then lexicographically.
// Candidates whose length differs from the target by more than the
// threshold are skipped without computing a distance, and the distance
// computation aborts as soon as a row's running minimum exceeds the
// threshold.
func Closest(target string, candidates []string) []string {
	type ranked struct {
		name string
		dist int
	}
	var matches []ranked

	for _, cand := range candidates {
		if cand == target {
			continue
		}
		diff := len(cand) - len(target)
		if diff < -MaxDistance || diff > MaxDistance {
			continue
		}
		if d, ok := boundedDistance(target, cand, MaxDistance); ok {
			matches = append(matches, ranked{name: cand, dist: d})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].dist != matches[j].dist {
			return matches[i].dist < matches[j].dist
		}
		return matches[i].name < matches[j].name
	})

	n := len(matches)
	if n > MaxSuggestions {
		n = MaxSuggestions
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = matches[i].name
	}
	return out
}

// boundedDistance computes the Levenshtein distance between a and b,
// bailing out early once every cell of a row exceeds max.
func boundedDistance(a, b string, max int) (int, bool) {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		rowMin := curr[0]
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			d := prev[j] + 1
			if ins := curr[j-1] + 1; ins < d {
				d = ins
			}
			if sub := prev[j-1] + cost; sub < d {
				d = sub
			}
			curr[j] = d
			if d < rowMin {
				rowMin = d
			}
		}
		if rowMin > max {
			return 0, false
		}
		prev, curr = curr, prev
	}

	if prev[len(rb)] > max {
		return 0, false
	}
	return prev[len(rb)], true
}
