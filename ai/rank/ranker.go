// Package rank blends semantic, lexical, importance, recency, and usage
// signals into one relevance score for retrieval results.
package rank

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/hrygo/mnemora/ai/query"
	"github.com/hrygo/mnemora/store"
)

// Config holds the blend weights and decay parameters. The weights are
// deliberate configuration, not hardcoded truths; the defaults below are the
// recommended starting point.
type Config struct {
	SemanticWeight   float64
	LexicalWeight    float64
	ImportanceWeight float64
	RecencyWeight    float64
	UsageWeight      float64

	// RecencyHalfLife controls the exponential decay of the recency signal.
	RecencyHalfLife time.Duration
	// MinRelevance excludes results scoring below it.
	MinRelevance float64
}

// DefaultConfig returns the default blend:
// 0.4 semantic + 0.3 lexical + 0.1 importance + 0.1 recency + 0.1 usage.
func DefaultConfig() Config {
	return Config{
		SemanticWeight:   0.4,
		LexicalWeight:    0.3,
		ImportanceWeight: 0.1,
		RecencyWeight:    0.1,
		UsageWeight:      0.1,
		RecencyHalfLife:  30 * 24 * time.Hour,
		MinRelevance:     0.3,
	}
}

// Candidate pairs a memory with its semantic similarity to the query. The
// semantic component is the max over the record's tag embeddings and, when
// available, its content embedding; callers computing no embedding pass 0 and
// the blend degrades to lexical-plus-metadata scoring.
type Candidate struct {
	Memory   *store.Memory
	Semantic float64
}

// Result is a ranked memory.
type Result struct {
	Memory          *store.Memory `json:"memory"`
	Score           float64       `json:"score"`
	MatchedConcepts []string      `json:"matchedConcepts,omitempty"`
}

// Ranker scores and orders retrieval candidates.
type Ranker struct {
	cfg Config

	// now is swappable for tests.
	now func() time.Time
}

// New creates a ranker with the given config; zero weights fall back to the
// defaults.
func New(cfg Config) *Ranker {
	defaults := DefaultConfig()
	if cfg.SemanticWeight <= 0 && cfg.LexicalWeight <= 0 {
		cfg.SemanticWeight = defaults.SemanticWeight
		cfg.LexicalWeight = defaults.LexicalWeight
		cfg.ImportanceWeight = defaults.ImportanceWeight
		cfg.RecencyWeight = defaults.RecencyWeight
		cfg.UsageWeight = defaults.UsageWeight
	}
	if cfg.RecencyHalfLife <= 0 {
		cfg.RecencyHalfLife = defaults.RecencyHalfLife
	}
	if cfg.MinRelevance <= 0 {
		cfg.MinRelevance = defaults.MinRelevance
	}
	return &Ranker{cfg: cfg, now: time.Now}
}

// Rank scores all candidates against the expansion, drops those below
// minRelevance (the config floor when minRelevance is 0), and returns the
// rest sorted descending by score with creation-time ties going to the
// newest record.
func (r *Ranker) Rank(candidates []Candidate, expansion *query.Expansion, minRelevance float64) []Result {
	if minRelevance <= 0 {
		minRelevance = r.cfg.MinRelevance
	}

	now := r.now()
	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		score, matched := r.score(c, expansion, now)
		if score < minRelevance {
			continue
		}
		results = append(results, Result{Memory: c.Memory, Score: score, MatchedConcepts: matched})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Memory.CreatedTs > results[j].Memory.CreatedTs
	})

	return results
}

func (r *Ranker) score(c Candidate, expansion *query.Expansion, now time.Time) (float64, []string) {
	lexical, matched := lexicalOverlap(c.Memory, expansion)

	score := r.cfg.SemanticWeight*clamp01(c.Semantic) +
		r.cfg.LexicalWeight*lexical +
		r.cfg.ImportanceWeight*(float64(c.Memory.Importance)/5.0) +
		r.cfg.RecencyWeight*r.recencyDecay(c.Memory.CreatedTs, now) +
		r.cfg.UsageWeight*usageBoost(c.Memory, now)

	return score, matched
}

// lexicalOverlap returns the fraction of concept terms found verbatim
// (case-insensitive) in the content or tags, plus the matched terms. The
// expansion broadens matching: a memory carrying one of the query's expanded
// tags, or sitting in one of its expanded categories, counts as a hit even
// when the literal concept term is absent.
func lexicalOverlap(memory *store.Memory, expansion *query.Expansion) (float64, []string) {
	concepts := expansion.Concepts
	if len(concepts) == 0 {
		return 0, nil
	}

	content := strings.ToLower(memory.Content)
	seen := make(map[string]bool, len(concepts))
	matched := make([]string, 0, len(concepts))
	for _, concept := range concepts {
		if strings.Contains(content, concept) || memory.HasTag(concept) {
			seen[concept] = true
			matched = append(matched, concept)
		}
	}
	for _, tag := range expansion.ExpandedTags {
		if !seen[tag] && memory.HasTag(tag) {
			seen[tag] = true
			matched = append(matched, tag)
		}
	}
	for _, category := range expansion.ExpandedCategories {
		if !seen[category] && memory.Category == category {
			seen[category] = true
			matched = append(matched, category)
		}
	}

	overlap := float64(len(matched)) / float64(len(concepts))
	if overlap > 1 {
		overlap = 1
	}
	return overlap, matched
}

// recencyDecay is an exponential half-life decay of age since creation,
// bounded to [0,1]: a record as old as the half-life scores 0.5.
func (r *Ranker) recencyDecay(createdTs int64, now time.Time) float64 {
	age := now.Sub(time.Unix(createdTs, 0))
	if age <= 0 {
		return 1
	}
	return math.Exp2(-age.Hours() / r.cfg.RecencyHalfLife.Hours())
}

// usageBoost is a saturating blend of access recency and access frequency,
// bounded to [0,1]. Both components follow x/(x+k) saturation so heavy use
// approaches but never exceeds the cap.
func usageBoost(memory *store.Memory, now time.Time) float64 {
	// Recency of last access: full weight when just touched, half after a week.
	idleDays := now.Sub(time.Unix(memory.LastAccessedTs, 0)).Hours() / 24
	if idleDays < 0 {
		idleDays = 0
	}
	accessRecency := 7.0 / (7.0 + idleDays)

	// Frequency: saturates at ~0.9 around 10 accesses.
	frequency := float64(memory.AccessCount) / (float64(memory.AccessCount) + 1.5)

	return clamp01(0.5*accessRecency + 0.5*frequency)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
