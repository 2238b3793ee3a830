package search

import "sort"

// DefaultRRFK is the standard Reciprocal Rank Fusion damping constant. It
// keeps a single list's top pick from dominating the fused ranking.
const DefaultRRFK = 60

// Fuse merges ranked lists with Reciprocal Rank Fusion: each item's 1-based
// rank in a list contributes 1/(k+rank) to its fused score, and a chunk
// found by multiple lists accumulates the contributions. The fused list is
// sorted by descending score; ties keep first-seen order.
func Fuse(lists [][]Result, k int) []Result {
	if k <= 0 {
		k = DefaultRRFK
	}

	scores := make(map[string]float64)
	byID := make(map[string]Result)
	var order []string

	for _, list := range lists {
		for rank, r := range list {
			id := r.Chunk.ID
			if _, seen := scores[id]; !seen {
				order = append(order, id)
				byID[id] = r
			}
			scores[id] += 1.0 / float64(k+rank+1)
		}
	}

	fused := make([]Result, 0, len(order))
	for _, id := range order {
		r := byID[id]
		r.Score = scores[id]
		fused = append(fused, r)
	}

	sort.SliceStable(fused, func(a, b int) bool { return fused[a].Score > fused[b].Score })
	return fused
}
