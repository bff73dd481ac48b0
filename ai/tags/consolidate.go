package tags

import (
	"context"
	"log/slog"

	"github.com/hrygo/mnemora/ai/similarity"
	"github.com/hrygo/mnemora/store"
)

// MergeResult describes one consolidation merge.
type MergeResult struct {
	Survivor string  `json:"survivor"`
	Loser    string  `json:"loser"`
	Score    float64 `json:"score"`
}

// Consolidate runs a full pairwise scan over non-archived tags and merges
// every pair scoring at least minSimilarity. The entry with the lower usage
// count merges into the other; on equal usage the longer (more descriptive)
// name survives. The loser's usage transfers in full and the loser is
// archived. Running it again immediately produces no further merges.
func (r *Registry) Consolidate(ctx context.Context, minSimilarity float64) ([]MergeResult, error) {
	if minSimilarity <= 0 {
		minSimilarity = r.cfg.ConsolidateMinSimilarity
	}

	// Make sure deferred durable writes are visible before scanning.
	if err := r.store.Flush(ctx); err != nil {
		return nil, err
	}

	active := store.Active
	tags, err := r.store.ListTags(ctx, &store.FindTag{RowStatus: &active})
	if err != nil {
		return nil, err
	}

	// Usage counts drift as merges apply; track them locally so later pairs
	// see the transferred usage.
	usage := make(map[string]int, len(tags))
	gone := make(map[string]bool, len(tags))
	for _, tag := range tags {
		usage[tag.Name] = tag.UsageCount
	}

	var merges []MergeResult
	for i := 0; i < len(tags); i++ {
		for j := i + 1; j < len(tags); j++ {
			a, b := tags[i], tags[j]
			if a.Name == b.Name || gone[a.Name] || gone[b.Name] {
				continue
			}

			vecA, vecB := r.cachedVector(a), r.cachedVector(b)
			if vecA == nil || vecB == nil {
				continue
			}
			score := similarity.Score(vecA, vecB)
			if score < minSimilarity {
				continue
			}

			survivor, loser := pickSurvivor(a.Name, b.Name, usage)
			if err := r.store.MergeTags(ctx, survivor, loser); err != nil {
				return merges, err
			}

			usage[survivor] += usage[loser]
			usage[loser] = 0
			gone[loser] = true
			r.vectors.Remove(loser)

			merges = append(merges, MergeResult{Survivor: survivor, Loser: loser, Score: score})
			slog.Info("consolidated tags", "survivor", survivor, "loser", loser, "score", score)
		}
	}

	return merges, nil
}

// pickSurvivor chooses which of two near-duplicate tags survives a merge:
// higher usage wins; on equal usage the longer name is kept as the more
// descriptive one; identical lengths fall back to the lexicographically
// smaller name for determinism.
func pickSurvivor(a, b string, usage map[string]int) (survivor, loser string) {
	switch {
	case usage[a] > usage[b]:
		return a, b
	case usage[b] > usage[a]:
		return b, a
	case len(a) > len(b):
		return a, b
	case len(b) > len(a):
		return b, a
	case a < b:
		return a, b
	default:
		return b, a
	}
}
