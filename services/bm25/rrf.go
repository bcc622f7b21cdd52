package bm25

import "sort"

// RRFConstant is the smoothing constant k in reciprocal rank fusion.
const RRFConstant = 60

// Fuse combines rankings (ordered lists of identifiers) by reciprocal-rank
// sum: score(id) = sum over rankings of 1/(k + rank), rank 1-based. An id
// missing from a ranking contributes 0 from that ranking.
func Fuse(rankings ...[]string) map[string]float64 {
	scores := make(map[string]float64)
	for _, ranking := range rankings {
		for i, id := range ranking {
			scores[id] += 1.0 / float64(RRFConstant+i+1)
		}
	}
	return scores
}

// FuseOrdered returns the fused ordering, descending by RRF score with ties
// broken by identifier for deterministic output.
func FuseOrdered(rankings ...[]string) []string {
	scores := Fuse(rankings...)

	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool {
		if scores[ids[i]] != scores[ids[j]] {
			return scores[ids[i]] > scores[ids[j]]
		}
		return ids[i] < ids[j]
	})

	return ids
}
