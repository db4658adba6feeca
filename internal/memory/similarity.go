package memory

import (
	"math"
	"sort"
)

// CosineSimilarity calculates cosine similarity between two vectors.
// Mismatched lengths, empty inputs, and zero-norm vectors all score 0: a
// stale or foreign embedding means "no similarity", never an error.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0.0
	}

	var dotProduct, normA, normB float64
	for i := 0; i < len(a); i++ {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Ranked pairs a candidate index with its similarity score.
type Ranked struct {
	Index int
	Score float64
}

// RankBySimilarity scores every candidate against the query vector and
// returns them in descending score order. The sort is stable, so ties keep
// their original order.
func RankBySimilarity(candidates [][]float32, query []float32) []Ranked {
	ranked := make([]Ranked, len(candidates))
	for i, c := range candidates {
		ranked[i] = Ranked{Index: i, Score: CosineSimilarity(c, query)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}
