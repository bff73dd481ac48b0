package rank

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/mnemora/ai/query"
	"github.com/hrygo/mnemora/store"
)

func fixedRanker() (*Ranker, time.Time) {
	r := New(DefaultConfig())
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	return r, now
}

func memoryAt(id string, created time.Time, importance int, content string, tags ...string) *store.Memory {
	return &store.Memory{
		ID:             id,
		Content:        content,
		Tags:           tags,
		Importance:     importance,
		CreatedTs:      created.Unix(),
		LastAccessedTs: created.Unix(),
	}
}

func TestLexicalOverlap(t *testing.T) {
	m := memoryAt("m", time.Now(), 3, "the urgent deadline for the migration", "projects")

	score, matched := lexicalOverlap(m, &query.Expansion{Concepts: []string{"urgent", "deadline", "cooking"}})
	assert.InDelta(t, 2.0/3.0, score, 1e-9)
	assert.Equal(t, []string{"urgent", "deadline"}, matched)

	// Tag membership counts as a lexical hit too.
	score, matched = lexicalOverlap(m, &query.Expansion{Concepts: []string{"projects"}})
	assert.Equal(t, 1.0, score)
	assert.Equal(t, []string{"projects"}, matched)

	score, _ = lexicalOverlap(m, &query.Expansion{})
	assert.Zero(t, score)
}

func TestLexicalOverlapUsesExpansion(t *testing.T) {
	m := memoryAt("m", time.Now(), 3, "notes on the pipeline rewrite", "python")
	m.Category = "projects"

	// The literal term misses, but the expanded tag lands on the memory.
	score, matched := lexicalOverlap(m, &query.Expansion{
		Concepts:     []string{"py"},
		ExpandedTags: []string{"python"},
	})
	assert.Equal(t, 1.0, score)
	assert.Equal(t, []string{"python"}, matched)

	// Expanded categories broaden matching the same way.
	score, matched = lexicalOverlap(m, &query.Expansion{
		Concepts:           []string{"proj"},
		ExpandedCategories: []string{"projects"},
	})
	assert.Equal(t, 1.0, score)
	assert.Equal(t, []string{"projects"}, matched)

	// Expansion hits never push overlap past 1 or double count a concept.
	score, matched = lexicalOverlap(m, &query.Expansion{
		Concepts:           []string{"python"},
		ExpandedTags:       []string{"python"},
		ExpandedCategories: []string{"projects"},
	})
	assert.Equal(t, 1.0, score)
	assert.Equal(t, []string{"python", "projects"}, matched)
}

func TestRecencyDecay(t *testing.T) {
	r, now := fixedRanker()

	assert.InDelta(t, 1.0, r.recencyDecay(now.Unix(), now), 1e-9)

	halfLifeAgo := now.Add(-30 * 24 * time.Hour)
	assert.InDelta(t, 0.5, r.recencyDecay(halfLifeAgo.Unix(), now), 1e-6)

	ancient := now.AddDate(-10, 0, 0)
	assert.Less(t, r.recencyDecay(ancient.Unix(), now), 0.01)
}

func TestRankOrdersByBlendedScore(t *testing.T) {
	r, now := fixedRanker()
	expansion := &query.Expansion{Concepts: []string{"deadline"}}

	fresh := memoryAt("fresh", now.Add(-time.Hour), 3, "urgent deadline for release")
	stale := memoryAt("stale", now.AddDate(-2, 0, 0), 3, "urgent deadline for release")
	unrelated := memoryAt("unrelated", now.Add(-time.Hour), 3, "grocery list")

	results := r.Rank([]Candidate{
		{Memory: unrelated, Semantic: 0},
		{Memory: stale, Semantic: 0.8},
		{Memory: fresh, Semantic: 0.8},
	}, expansion, 0.3)

	require.Len(t, results, 2)
	assert.Equal(t, "fresh", results[0].Memory.ID)
	assert.Equal(t, "stale", results[1].Memory.ID)
	assert.Equal(t, []string{"deadline"}, results[0].MatchedConcepts)
	// The unrelated memory never clears the relevance floor.
	for _, result := range results {
		assert.GreaterOrEqual(t, result.Score, 0.3)
	}
}

func TestRankImportanceBreaksLexicalTies(t *testing.T) {
	r, now := fixedRanker()
	expansion := &query.Expansion{Concepts: []string{"deadline"}}

	critical := memoryAt("critical", now.Add(-time.Hour), 5, "deadline tomorrow")
	minor := memoryAt("minor", now.Add(-time.Hour), 1, "deadline tomorrow")

	results := r.Rank([]Candidate{
		{Memory: minor, Semantic: 0.5},
		{Memory: critical, Semantic: 0.5},
	}, expansion, 0)

	require.Len(t, results, 2)
	assert.Equal(t, "critical", results[0].Memory.ID)
}

func TestRankEqualScoresPreferNewer(t *testing.T) {
	r, now := fixedRanker()
	expansion := &query.Expansion{Concepts: []string{"deadline"}}

	older := memoryAt("older", now.Add(-time.Hour), 3, "deadline tomorrow")
	newer := memoryAt("newer", now.Add(-time.Hour), 3, "deadline tomorrow")
	newer.CreatedTs++

	results := r.Rank([]Candidate{
		{Memory: older, Semantic: 0.5},
		{Memory: newer, Semantic: 0.5},
	}, expansion, 0)

	require.Len(t, results, 2)
	assert.Equal(t, "newer", results[0].Memory.ID)
}

func TestRankWithoutSemanticSignal(t *testing.T) {
	// Embedding outage: semantic scores are all zero, lexical carries.
	r, now := fixedRanker()
	expansion := &query.Expansion{Concepts: []string{"urgent", "deadline"}}

	match := memoryAt("match", now.Add(-time.Hour), 4, "urgent deadline for the launch")
	miss := memoryAt("miss", now.Add(-time.Hour), 4, "vacation photos")

	results := r.Rank([]Candidate{
		{Memory: miss},
		{Memory: match},
	}, expansion, 0.3)

	require.Len(t, results, 1)
	assert.Equal(t, "match", results[0].Memory.ID)
}

func TestUsageBoostSaturates(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	hot := &store.Memory{LastAccessedTs: now.Unix(), AccessCount: 100}
	cold := &store.Memory{LastAccessedTs: now.AddDate(0, -6, 0).Unix(), AccessCount: 0}

	hotBoost := usageBoost(hot, now)
	coldBoost := usageBoost(cold, now)

	assert.Greater(t, hotBoost, coldBoost)
	assert.LessOrEqual(t, hotBoost, 1.0)
	assert.GreaterOrEqual(t, coldBoost, 0.0)
}
