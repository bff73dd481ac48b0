// Package tags implements the canonical tag registry: suggestion against the
// existing vocabulary, idempotent registration, near-duplicate consolidation,
// and idle-tag decay. It is the component that keeps the controlled
// vocabulary from proliferating.
package tags

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/mnemora/ai"
	"github.com/hrygo/mnemora/ai/cache"
	"github.com/hrygo/mnemora/ai/similarity"
	"github.com/hrygo/mnemora/store"
)

// scoreEpsilon is the tolerance under which two similarity scores are
// considered tied for deterministic tie-breaking.
const scoreEpsilon = 1e-9

// Config tunes the registry thresholds.
type Config struct {
	// SuggestMinSimilarity is the floor for storage-side suggestions.
	SuggestMinSimilarity float64
	// ConsolidateMinSimilarity is the floor for merging near-duplicates.
	ConsolidateMinSimilarity float64
	// AutoReplaceSimilarity is the floor above which smart mapping silently
	// replaces an input tag with an existing one.
	AutoReplaceSimilarity float64
	// CandidateSimilarity is the floor for smart-mapping candidate pooling.
	CandidateSimilarity float64
	// MaxTagsPerMemory caps how many tags smart mapping keeps per memory.
	MaxTagsPerMemory int
}

// DefaultConfig returns the default registry thresholds.
func DefaultConfig() Config {
	return Config{
		SuggestMinSimilarity:     0.7,
		ConsolidateMinSimilarity: 0.8,
		AutoReplaceSimilarity:    0.9,
		CandidateSimilarity:      0.75,
		MaxTagsPerMemory:         3,
	}
}

// Suggestion is a single suggested tag for a concept term.
type Suggestion struct {
	Name       string  `json:"name"`
	Score      float64 `json:"score"`
	UsageCount int     `json:"usageCount"`
	// IsNew marks a proposed tag that does not exist yet. It is persisted
	// only when an ingestion commits a memory using it.
	IsNew bool `json:"isNew"`
}

// Registry owns the tag vocabulary. It is created at startup and passed to
// the components that need it; there is no global instance.
type Registry struct {
	store    *store.Store
	embedder ai.EmbeddingService // nil means lexical-only mode
	vectors  *cache.VectorCache
	cfg      Config
}

// NewRegistry creates a tag registry. embedder may be nil, in which case all
// similarity falls back to lexical heuristics.
func NewRegistry(s *store.Store, embedder ai.EmbeddingService, vectors *cache.VectorCache, cfg Config) *Registry {
	if cfg.SuggestMinSimilarity <= 0 {
		cfg.SuggestMinSimilarity = 0.7
	}
	if cfg.ConsolidateMinSimilarity <= 0 {
		cfg.ConsolidateMinSimilarity = 0.8
	}
	if cfg.AutoReplaceSimilarity <= 0 {
		cfg.AutoReplaceSimilarity = 0.9
	}
	if cfg.CandidateSimilarity <= 0 {
		cfg.CandidateSimilarity = 0.75
	}
	if cfg.MaxTagsPerMemory <= 0 {
		cfg.MaxTagsPerMemory = 3
	}

	return &Registry{
		store:    s,
		embedder: embedder,
		vectors:  vectors,
		cfg:      cfg,
	}
}

// Register creates the tag if absent and bumps its usage count. Idempotent:
// registering the same name twice yields one entry used twice. The embedding
// is computed lazily and best-effort; a failed or timed-out embedding call
// leaves the entry exactly as it was.
func (r *Registry) Register(ctx context.Context, name string) (*store.Tag, error) {
	tag, err := r.store.UpsertTag(ctx, name)
	if err != nil {
		return nil, err
	}

	if !tag.HasEmbedding() && r.embedder != nil {
		if updated, err := r.ensureEmbedding(ctx, tag); err != nil {
			slog.Warn("tag embedding deferred", "tag", tag.Name, "error", err)
		} else {
			tag = updated
		}
	}

	return tag, nil
}

// Suggest embeds the concept terms in one batched call and returns, per term,
// the nearest non-archived tags scoring at least minSimilarity. Terms with no
// match above the floor get the raw term back as a proposed new tag. Suggest
// never mutates the registry, so it is safe for query-side expansion.
func (r *Registry) Suggest(ctx context.Context, terms []string, maxResults int, minSimilarity float64) (map[string][]Suggestion, error) {
	if maxResults <= 0 {
		maxResults = 5
	}
	if minSimilarity <= 0 {
		minSimilarity = r.cfg.SuggestMinSimilarity
	}

	normalized := make([]string, 0, len(terms))
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term != "" {
			normalized = append(normalized, term)
		}
	}
	if len(normalized) == 0 {
		return map[string][]Suggestion{}, nil
	}

	active := store.Active
	existing, err := r.store.ListTags(ctx, &store.FindTag{RowStatus: &active})
	if err != nil {
		return nil, err
	}

	termVectors, embedErr := r.embedTerms(ctx, normalized)

	result := make(map[string][]Suggestion, len(normalized))
	for i, term := range normalized {
		var suggestions []Suggestion
		if embedErr == nil {
			suggestions = r.suggestSemantic(termVectors[i], existing, maxResults, minSimilarity)
		} else {
			suggestions = suggestLexical(term, existing, maxResults, minSimilarity)
		}

		if len(suggestions) == 0 {
			suggestions = append(suggestions, Suggestion{Name: term, Score: 0, IsNew: true})
		}
		result[term] = suggestions
	}

	return result, nil
}

// embedTerms batches all terms into one provider call.
func (r *Registry) embedTerms(ctx context.Context, terms []string) ([][]float32, error) {
	if r.embedder == nil {
		return nil, ai.ErrEmbeddingUnavailable
	}
	vectors, err := r.embedder.EmbedBatch(ctx, terms)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(terms) {
		return nil, errors.Wrapf(ai.ErrEmbeddingUnavailable,
			"embedding count mismatch: got %d, want %d", len(vectors), len(terms))
	}
	return vectors, nil
}

// suggestSemantic ranks existing tags against a concept vector. Scores tied
// within epsilon are broken by usage count descending, then name ascending.
func (r *Registry) suggestSemantic(termVec []float32, existing []*store.Tag, maxResults int, minSimilarity float64) []Suggestion {
	type scored struct {
		tag   *store.Tag
		score float64
	}

	candidates := make([]scored, 0, len(existing))
	for _, tag := range existing {
		vec := r.cachedVector(tag)
		if vec == nil {
			continue
		}
		score := similarity.Score(termVec, vec)
		if score >= minSimilarity {
			candidates = append(candidates, scored{tag: tag, score: score})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		di := candidates[i].score - candidates[j].score
		if di > scoreEpsilon {
			return true
		}
		if di < -scoreEpsilon {
			return false
		}
		if candidates[i].tag.UsageCount != candidates[j].tag.UsageCount {
			return candidates[i].tag.UsageCount > candidates[j].tag.UsageCount
		}
		return candidates[i].tag.Name < candidates[j].tag.Name
	})

	if len(candidates) > maxResults {
		candidates = candidates[:maxResults]
	}

	suggestions := make([]Suggestion, 0, len(candidates))
	for _, c := range candidates {
		suggestions = append(suggestions, Suggestion{
			Name:       c.tag.Name,
			Score:      c.score,
			UsageCount: c.tag.UsageCount,
		})
	}
	return suggestions
}

// suggestLexical is the degraded path when embeddings are unavailable:
// substring containment heuristics over the existing vocabulary.
func suggestLexical(term string, existing []*store.Tag, maxResults int, minSimilarity float64) []Suggestion {
	suggestions := make([]Suggestion, 0, maxResults)
	for _, tag := range existing {
		score := lexicalScore(term, tag.Name)
		if score >= minSimilarity {
			suggestions = append(suggestions, Suggestion{
				Name:       tag.Name,
				Score:      score,
				UsageCount: tag.UsageCount,
			})
		}
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		if suggestions[i].Score != suggestions[j].Score {
			return suggestions[i].Score > suggestions[j].Score
		}
		if suggestions[i].UsageCount != suggestions[j].UsageCount {
			return suggestions[i].UsageCount > suggestions[j].UsageCount
		}
		return suggestions[i].Name < suggestions[j].Name
	})

	if len(suggestions) > maxResults {
		suggestions = suggestions[:maxResults]
	}
	return suggestions
}

// lexicalScore mirrors the containment heuristic used before embeddings
// existed: full containment beats word overlap in either direction.
func lexicalScore(term, tag string) float64 {
	switch {
	case term == tag:
		return 1.0
	case strings.Contains(tag, term) || strings.Contains(term, tag):
		return 0.8
	case wordsOverlap(term, tag):
		return 0.6
	case wordsOverlap(tag, term):
		return 0.4
	default:
		return 0
	}
}

func wordsOverlap(source, target string) bool {
	for _, word := range strings.Fields(source) {
		if strings.Contains(target, word) {
			return true
		}
	}
	return false
}

// cachedVector returns the tag's vector from the vector cache, falling back
// to the stored embedding (and warming the cache).
func (r *Registry) cachedVector(tag *store.Tag) []float32 {
	if vec, _, ok := r.vectors.Get(tag.Name); ok {
		return vec
	}
	if tag.HasEmbedding() {
		r.vectors.Put(tag.Name, tag.Embedding, tag.EmbeddingModel)
		return tag.Embedding
	}
	return nil
}

// ensureEmbedding computes and persists the tag's embedding. Vector and model
// identifier are written together so an interrupted call leaves the prior state.
func (r *Registry) ensureEmbedding(ctx context.Context, tag *store.Tag) (*store.Tag, error) {
	vec, err := r.embedder.Embed(ctx, tag.Name)
	if err != nil {
		return nil, err
	}

	model := r.embedder.ModelID()
	updated, err := r.store.UpdateTag(ctx, &store.UpdateTag{
		Name:           tag.Name,
		Embedding:      &vec,
		EmbeddingModel: &model,
	})
	if err != nil {
		return nil, err
	}

	r.vectors.Put(updated.Name, vec, model)
	return updated, nil
}

// Decay archives tags that have not been used for longer than idleThreshold.
// Archival through this routine is irreversible; unarchive is a manual
// operation.
func (r *Registry) Decay(ctx context.Context, idleThreshold time.Duration) (int, error) {
	active := store.Active
	tags, err := r.store.ListTags(ctx, &store.FindTag{RowStatus: &active})
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-idleThreshold).Unix()
	archived := 0
	for _, tag := range tags {
		if tag.LastUsedTs >= cutoff {
			continue
		}
		status := store.Archived
		if _, err := r.store.UpdateTag(ctx, &store.UpdateTag{Name: tag.Name, RowStatus: &status}); err != nil {
			return archived, err
		}
		r.vectors.Remove(tag.Name)
		archived++
	}

	if archived > 0 {
		slog.Info("decayed idle tags", "count", archived, "idleThreshold", idleThreshold)
	}
	return archived, nil
}
