package service

import (
	"cmp"
	"math"
	"slices"

	"github.com/deidaraiorek/deifind/internal/embedding"
	"github.com/deidaraiorek/deifind/internal/storage"
)

type ImageResult struct {
	Path  string  `json:"path"`
	ID    int64   `json:"id"`
	Score float32 `json:"score"`
}

// Rank scores every candidate against query by cosine similarity and returns
// the k best, highest first. Candidates scoring NaN (zero or mismatched
// vectors) are not matches and are left out. Equal scores keep id order.
func Rank(query []float32, candidates []storage.StoredVector, k int) []ImageResult {
	results := make([]ImageResult, 0, len(candidates))
	for _, c := range candidates {
		score := embedding.Cosine(query, c.Values)
		if math.IsNaN(float64(score)) {
			continue
		}
		results = append(results, ImageResult{Path: c.Path, ID: c.ID, Score: score})
	}

	slices.SortFunc(results, func(a, b ImageResult) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results
}
