package tags

import (
	"context"
	"sort"
	"strings"

	"github.com/hrygo/mnemora/ai/similarity"
)

// MappingResult reports how raw input tags were mapped onto the existing
// vocabulary, for caller transparency.
type MappingResult struct {
	FinalTags        []string `json:"finalTags"`
	RawTags          []string `json:"rawTags"`
	AutoReplacements int      `json:"autoReplacements"`
	MappingApplied   bool     `json:"mappingApplied"`
}

// MapTags maps raw input tags onto the vocabulary before a memory commits:
// an input scoring above the auto-replace floor is silently swapped for the
// existing tag; weaker matches join a candidate pool that is ranked by
// similarity to the memory content; the result is capped at maxTags. The
// registry itself is not mutated here; tags are registered only when the
// ingestion commits.
func (r *Registry) MapTags(ctx context.Context, inputTags []string, content string, maxTags int) (*MappingResult, error) {
	if maxTags <= 0 {
		maxTags = r.cfg.MaxTagsPerMemory
	}

	raw := make([]string, 0, len(inputTags))
	for _, tag := range inputTags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag != "" {
			raw = append(raw, tag)
		}
	}
	if len(raw) == 0 {
		return &MappingResult{FinalTags: []string{}, RawTags: []string{}}, nil
	}

	suggestions, err := r.Suggest(ctx, raw, 5, r.cfg.CandidateSimilarity)
	if err != nil {
		return nil, err
	}

	type candidate struct {
		name  string
		score float64
	}

	final := make([]string, 0, maxTags)
	seen := make(map[string]bool)
	autoReplaced := 0
	var pool []candidate

	appendFinal := func(name string) {
		if !seen[name] && len(final) < maxTags {
			seen[name] = true
			final = append(final, name)
		}
	}

	for _, tag := range raw {
		matched := suggestions[tag]

		replaced := false
		for _, s := range matched {
			if !s.IsNew && s.Score >= r.cfg.AutoReplaceSimilarity {
				appendFinal(s.Name)
				autoReplaced++
				replaced = true
				break
			}
		}
		if replaced {
			continue
		}

		for _, s := range matched {
			if !s.IsNew && s.Score >= r.cfg.CandidateSimilarity {
				pool = append(pool, candidate{name: s.Name, score: s.Score})
			}
		}
		// The original input stays in the running with a neutral score.
		pool = append(pool, candidate{name: tag, score: 0.5})
	}

	// Fill remaining slots, preferring candidates whose meaning is closest
	// to the content itself.
	if len(final) < maxTags && len(pool) > 0 {
		if contentVec := r.contentVector(ctx, content); contentVec != nil {
			for i := range pool {
				if tag, err := r.store.GetTag(ctx, pool[i].name); err == nil {
					if vec := r.cachedVector(tag); vec != nil {
						pool[i].score = similarity.Score(contentVec, vec)
					}
				}
			}
		}

		sort.SliceStable(pool, func(i, j int) bool {
			if pool[i].score != pool[j].score {
				return pool[i].score > pool[j].score
			}
			return pool[i].name < pool[j].name
		})

		for _, c := range pool {
			appendFinal(c.name)
		}
	}

	return &MappingResult{
		FinalTags:        final,
		RawTags:          raw,
		AutoReplacements: autoReplaced,
		MappingApplied:   autoReplaced > 0 || len(final) != len(raw),
	}, nil
}

// contentVector embeds memory content through the bounded content cache.
// Returns nil when embeddings are unavailable; mapping then falls back to
// input order.
func (r *Registry) contentVector(ctx context.Context, content string) []float32 {
	if r.embedder == nil || content == "" {
		return nil
	}
	if vec, _, ok := r.vectors.GetContent(content); ok {
		return vec
	}
	vec, err := r.embedder.Embed(ctx, content)
	if err != nil {
		return nil
	}
	r.vectors.PutContent(content, vec, r.embedder.ModelID())
	return vec
}
