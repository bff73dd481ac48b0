// Package similarity provides cosine scoring and deterministic
// nearest-neighbor lookup over candidate vectors.
package similarity

import (
	"math"
	"sort"
)

// Score calculates cosine similarity between two vectors, in [-1, 1].
// Mismatched lengths or zero-magnitude vectors score 0; it never divides by zero.
func Score(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct float64
	var normA float64
	var normB float64

	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Candidate is a named vector offered to Nearest.
type Candidate struct {
	Key    string
	Vector []float32
}

// Match is a scored candidate returned by Nearest.
type Match struct {
	Key   string
	Score float64
}

// Nearest returns up to k candidates scoring at least minScore against the
// query vector, sorted descending by score. Ties keep candidate insertion
// order, so results are deterministic for a given candidate slice.
func Nearest(query []float32, candidates []Candidate, k int, minScore float64) []Match {
	if k <= 0 || len(candidates) == 0 {
		return nil
	}

	matches := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		score := Score(query, c.Vector)
		if score >= minScore {
			matches = append(matches, Match{Key: c.Key, Score: score})
		}
	}

	// Stable sort preserves insertion order across equal scores.
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}
