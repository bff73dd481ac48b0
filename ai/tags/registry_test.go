package tags

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/mnemora/ai"
	"github.com/hrygo/mnemora/ai/cache"
	"github.com/hrygo/mnemora/internal/profile"
	"github.com/hrygo/mnemora/store"
	"github.com/hrygo/mnemora/store/db/memdb"
)

// mockEmbeddingService returns fixed vectors per term so similarity outcomes
// are fully deterministic.
type mockEmbeddingService struct {
	vectors map[string][]float32
	model   string
	fail    bool
}

func newMockEmbeddingService() *mockEmbeddingService {
	return &mockEmbeddingService{
		model: "mock-model-v1",
		vectors: map[string][]float32{
			"python":     {1, 0, 0},
			"py":         {0.98, 0.199, 0},
			"pythn":      {0.97, 0.243, 0},
			"javascript": {0, 1, 0},
			"golang":     {0, 0, 1},
			"go":         {0.1, 0, 0.995},
			"cooking":    {0, 0.7, 0.7},
		},
	}
}

func (m *mockEmbeddingService) Embed(_ context.Context, text string) ([]float32, error) {
	if m.fail {
		return nil, ai.ErrEmbeddingUnavailable
	}
	if vec, ok := m.vectors[text]; ok {
		return vec, nil
	}
	// Unknown texts land far from everything registered.
	return []float32{0, -1, 0}, nil
}

func (m *mockEmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if m.fail {
		return nil, ai.ErrEmbeddingUnavailable
	}
	result := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := m.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		result[i] = vec
	}
	return result, nil
}

func (m *mockEmbeddingService) Dimensions() int {
	return 3
}

func (m *mockEmbeddingService) ModelID() string {
	return m.model
}

func newTestRegistry(t *testing.T, embedder ai.EmbeddingService) (*Registry, *store.Store) {
	t.Helper()
	p := &profile.Profile{Mode: "dev", Driver: "memory"}
	driver, err := memdb.NewDB(p)
	require.NoError(t, err)
	s := store.New(driver, p)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return NewRegistry(s, embedder, cache.NewVectorCache(64), DefaultConfig()), s
}

func TestRegisterIdempotent(t *testing.T) {
	ctx := context.Background()
	r, s := newTestRegistry(t, newMockEmbeddingService())

	for i := 0; i < 3; i++ {
		_, err := r.Register(ctx, "python")
		require.NoError(t, err)
	}

	tag, err := s.GetTag(ctx, "python")
	require.NoError(t, err)
	assert.Equal(t, 3, tag.UsageCount)
	assert.True(t, tag.HasEmbedding())
	assert.Equal(t, "mock-model-v1", tag.EmbeddingModel)

	all, err := s.ListTags(ctx, &store.FindTag{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRegisterSurvivesEmbeddingOutage(t *testing.T) {
	ctx := context.Background()
	embedder := newMockEmbeddingService()
	embedder.fail = true
	r, s := newTestRegistry(t, embedder)

	_, err := r.Register(ctx, "python")
	require.NoError(t, err)

	tag, err := s.GetTag(ctx, "python")
	require.NoError(t, err)
	assert.Equal(t, 1, tag.UsageCount)
	assert.False(t, tag.HasEmbedding())
}

func TestSuggestSemantic(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t, newMockEmbeddingService())

	for _, name := range []string{"python", "javascript", "golang"} {
		_, err := r.Register(ctx, name)
		require.NoError(t, err)
	}

	t.Run("near-synonym maps to existing tag", func(t *testing.T) {
		result, err := r.Suggest(ctx, []string{"py"}, 5, 0.7)
		require.NoError(t, err)
		suggestions := result["py"]
		require.NotEmpty(t, suggestions)
		assert.Equal(t, "python", suggestions[0].Name)
		assert.False(t, suggestions[0].IsNew)
		assert.GreaterOrEqual(t, suggestions[0].Score, 0.9)
	})

	t.Run("unrelated term proposes a new tag", func(t *testing.T) {
		result, err := r.Suggest(ctx, []string{"cooking"}, 5, 0.7)
		require.NoError(t, err)
		suggestions := result["cooking"]
		require.Len(t, suggestions, 1)
		assert.Equal(t, "cooking", suggestions[0].Name)
		assert.True(t, suggestions[0].IsNew)
	})

	t.Run("terms are normalized", func(t *testing.T) {
		result, err := r.Suggest(ctx, []string{"  PY  "}, 5, 0.7)
		require.NoError(t, err)
		assert.Contains(t, result, "py")
	})
}

func TestSuggestTieBreak(t *testing.T) {
	ctx := context.Background()
	embedder := newMockEmbeddingService()
	// Two tags at the exact same spot in vector space.
	embedder.vectors["alpha"] = []float32{1, 0, 0}
	embedder.vectors["beta"] = []float32{1, 0, 0}
	r, _ := newTestRegistry(t, embedder)

	_, err := r.Register(ctx, "alpha")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := r.Register(ctx, "beta")
		require.NoError(t, err)
	}

	result, err := r.Suggest(ctx, []string{"python"}, 5, 0.7)
	require.NoError(t, err)
	suggestions := result["python"]
	require.Len(t, suggestions, 2)
	// Equal scores break by usage count.
	assert.Equal(t, "beta", suggestions[0].Name)
	assert.Equal(t, "alpha", suggestions[1].Name)
}

func TestSuggestLexicalFallback(t *testing.T) {
	ctx := context.Background()
	r, s := newTestRegistry(t, nil)

	for _, name := range []string{"machine-learning", "python"} {
		_, err := s.UpsertTag(ctx, name)
		require.NoError(t, err)
	}

	t.Run("exact match scores one", func(t *testing.T) {
		result, err := r.Suggest(ctx, []string{"python"}, 5, 0.7)
		require.NoError(t, err)
		suggestions := result["python"]
		require.NotEmpty(t, suggestions)
		assert.Equal(t, "python", suggestions[0].Name)
		assert.Equal(t, 1.0, suggestions[0].Score)
	})

	t.Run("containment scores below exact", func(t *testing.T) {
		result, err := r.Suggest(ctx, []string{"machine"}, 5, 0.7)
		require.NoError(t, err)
		suggestions := result["machine"]
		require.NotEmpty(t, suggestions)
		assert.Equal(t, "machine-learning", suggestions[0].Name)
		assert.Equal(t, 0.8, suggestions[0].Score)
	})
}

func TestLexicalScore(t *testing.T) {
	assert.Equal(t, 1.0, lexicalScore("python", "python"))
	assert.Equal(t, 0.8, lexicalScore("machine", "machine-learning"))
	assert.Equal(t, 0.8, lexicalScore("machine-learning-ops", "machine-learning"))
	assert.Equal(t, 0.6, lexicalScore("deep learning", "learning-path"))
	assert.Equal(t, 0.0, lexicalScore("cooking", "python"))
}

func TestPickSurvivor(t *testing.T) {
	usage := map[string]int{"popular": 10, "rare": 2, "kubernetes": 3, "k8s": 3}

	survivor, loser := pickSurvivor("popular", "rare", usage)
	assert.Equal(t, "popular", survivor)
	assert.Equal(t, "rare", loser)

	// Equal usage keeps the longer, more descriptive name.
	survivor, loser = pickSurvivor("k8s", "kubernetes", usage)
	assert.Equal(t, "kubernetes", survivor)
	assert.Equal(t, "k8s", loser)

	// Equal usage and length fall back to the lexicographically smaller name.
	usage["aa"], usage["bb"] = 1, 1
	survivor, loser = pickSurvivor("bb", "aa", usage)
	assert.Equal(t, "aa", survivor)
	assert.Equal(t, "bb", loser)
}

func TestConsolidate(t *testing.T) {
	ctx := context.Background()
	r, s := newTestRegistry(t, newMockEmbeddingService())

	for i := 0; i < 5; i++ {
		_, err := r.Register(ctx, "python")
		require.NoError(t, err)
	}
	for i := 0; i < 2; i++ {
		_, err := r.Register(ctx, "pythn")
		require.NoError(t, err)
	}
	_, err := r.Register(ctx, "javascript")
	require.NoError(t, err)

	merges, err := r.Consolidate(ctx, 0.8)
	require.NoError(t, err)
	require.Len(t, merges, 1)
	assert.Equal(t, "python", merges[0].Survivor)
	assert.Equal(t, "pythn", merges[0].Loser)
	assert.GreaterOrEqual(t, merges[0].Score, 0.8)

	survivor, err := s.GetTag(ctx, "python")
	require.NoError(t, err)
	assert.Equal(t, 7, survivor.UsageCount)

	loser, err := s.GetTag(ctx, "pythn")
	require.NoError(t, err)
	assert.Equal(t, store.Archived, loser.RowStatus)

	untouched, err := s.GetTag(ctx, "javascript")
	require.NoError(t, err)
	assert.Equal(t, store.Active, untouched.RowStatus)

	// Fixed point: a second run finds nothing to merge.
	merges, err = r.Consolidate(ctx, 0.8)
	require.NoError(t, err)
	assert.Empty(t, merges)
}

func TestMapTags(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t, newMockEmbeddingService())

	for i := 0; i < 3; i++ {
		_, err := r.Register(ctx, "python")
		require.NoError(t, err)
	}

	t.Run("near-synonym is auto-replaced", func(t *testing.T) {
		result, err := r.MapTags(ctx, []string{"py", "cooking"}, "notes about programming", 3)
		require.NoError(t, err)
		assert.Equal(t, 1, result.AutoReplacements)
		assert.True(t, result.MappingApplied)
		assert.Contains(t, result.FinalTags, "python")
		assert.Contains(t, result.FinalTags, "cooking")
		assert.NotContains(t, result.FinalTags, "py")
	})

	t.Run("result is capped at maxTags", func(t *testing.T) {
		result, err := r.MapTags(ctx, []string{"one", "two", "three", "four", "five"}, "", 3)
		require.NoError(t, err)
		assert.Len(t, result.FinalTags, 3)
	})

	t.Run("empty input yields empty result", func(t *testing.T) {
		result, err := r.MapTags(ctx, []string{"", "  "}, "", 3)
		require.NoError(t, err)
		assert.Empty(t, result.FinalTags)
		assert.False(t, result.MappingApplied)
	})
}

func TestDecay(t *testing.T) {
	ctx := context.Background()
	r, s := newTestRegistry(t, nil)

	_, err := s.UpsertTag(ctx, "fresh")
	require.NoError(t, err)

	_, err = s.UpsertTag(ctx, "stale")
	require.NoError(t, err)
	old := int64(1000)
	_, err = s.UpdateTag(ctx, &store.UpdateTag{Name: "stale", LastUsedTs: &old})
	require.NoError(t, err)

	archived, err := r.Decay(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, archived)

	tag, err := s.GetTag(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, store.Archived, tag.RowStatus)

	tag, err = s.GetTag(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, store.Active, tag.RowStatus)

	_, err = s.GetTag(ctx, "missing")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}
