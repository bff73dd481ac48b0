package engine

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/mnemora/ai"
	"github.com/hrygo/mnemora/ai/metrics"
	"github.com/hrygo/mnemora/internal/profile"
	"github.com/hrygo/mnemora/store"
	"github.com/hrygo/mnemora/store/db/memdb"
)

// fakeEmbedder maps known terms to fixed vectors so semantic behavior is
// deterministic. Unknown texts land on a far-away vector.
type fakeEmbedder struct {
	vectors map[string][]float32
	fail    bool
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{
		vectors: map[string][]float32{
			"python": {1, 0, 0},
			"py":     {0.98, 0.199, 0},
		},
	}
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.fail {
		return nil, ai.ErrEmbeddingUnavailable
	}
	if vec, ok := f.vectors[text]; ok {
		return vec, nil
	}
	return []float32{0, 0, 1}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	result := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := f.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		result[i] = vec
	}
	return result, nil
}

func (f *fakeEmbedder) Dimensions() int { return 3 }
func (f *fakeEmbedder) ModelID() string { return "fake-model" }

func testProfile() *profile.Profile {
	return &profile.Profile{
		Mode:             "dev",
		Driver:           "memory",
		MaxTagsPerMemory: 3,
		MinRelevance:     0.3,
		RecencyHalfLife:  30,
		ContentCacheSize: 64,
	}
}

func newTestEngine(t *testing.T, embedder ai.EmbeddingService) *Engine {
	t.Helper()
	p := testProfile()
	driver, err := memdb.NewDB(p)
	require.NoError(t, err)
	s := store.New(driver, p)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return New(p, s, embedder, nil)
}

func TestMemorizeValidation(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)

	t.Run("empty content is rejected", func(t *testing.T) {
		_, err := e.Memorize(ctx, &MemorizeRequest{Content: "   "})
		require.Error(t, err)
		assert.True(t, errors.Is(err, store.ErrInvalidArgument))
	})

	t.Run("importance out of range is rejected", func(t *testing.T) {
		_, err := e.Memorize(ctx, &MemorizeRequest{Content: "x", Importance: 6})
		require.Error(t, err)
		assert.True(t, errors.Is(err, store.ErrInvalidArgument))
	})

	t.Run("unknown category error names the available set", func(t *testing.T) {
		_, err := e.Memorize(ctx, &MemorizeRequest{Content: "x", Category: "nonsense"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, store.ErrInvalidArgument))
		assert.Contains(t, err.Error(), "facts")
		assert.Contains(t, err.Error(), "projects")
	})
}

func TestMemorizeDefaults(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)

	result, err := e.Memorize(ctx, &MemorizeRequest{Content: "the answer is 42"})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Memory.Importance)
	assert.Equal(t, "facts", result.Memory.Category)
	assert.Zero(t, result.Memory.ExpiresTs)
	assert.Zero(t, result.CategoryConfidence)
}

func TestMemorizeClassifiesCategory(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)

	result, err := e.Memorize(ctx, &MemorizeRequest{
		Content: "remind me to rotate the credentials, don't forget it is due next week",
	})
	require.NoError(t, err)
	assert.Equal(t, "reminders", result.Memory.Category)
	assert.Greater(t, result.CategoryConfidence, 0.0)
}

func TestMemorizeRegistersTags(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)

	_, err := e.Memorize(ctx, &MemorizeRequest{
		Content:  "prefers vim keybindings",
		Tags:     []string{"Editors", "vim"},
		Category: "preferences",
	})
	require.NoError(t, err)

	tag, err := e.Store.GetTag(ctx, "editors")
	require.NoError(t, err)
	assert.Equal(t, 1, tag.UsageCount)

	tag, err = e.Store.GetTag(ctx, "vim")
	require.NoError(t, err)
	assert.Equal(t, 1, tag.UsageCount)
}

func TestMemorizeMapsSynonymTags(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, newFakeEmbedder())

	// Three captures tagged python, Python, py end up as one registry entry.
	for _, tag := range []string{"python", "Python", "py"} {
		_, err := e.Memorize(ctx, &MemorizeRequest{
			Content:  "snippet tagged " + tag,
			Tags:     []string{tag},
			Category: "facts",
		})
		require.NoError(t, err)
	}

	canonical, err := e.Store.GetTag(ctx, "python")
	require.NoError(t, err)
	assert.Equal(t, 3, canonical.UsageCount)

	_, err = e.Store.GetTag(ctx, "py")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestMemorizeReportsDuplicates(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)

	first, err := e.Memorize(ctx, &MemorizeRequest{Content: "the database password rotates monthly", Category: "facts"})
	require.NoError(t, err)
	assert.Empty(t, first.SimilarExistingIDs)

	second, err := e.Memorize(ctx, &MemorizeRequest{Content: "the database password rotates monthly", Category: "facts"})
	require.NoError(t, err)
	require.Len(t, second.SimilarExistingIDs, 1)
	assert.Equal(t, first.Memory.ID, second.SimilarExistingIDs[0])

	// The duplicate was reported, not blocked.
	assert.NotEqual(t, first.Memory.ID, second.Memory.ID)
}

func TestMemorizeSemanticDuplicate(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, newFakeEmbedder())

	// Both contents are unknown to the fake embedder and land on the same
	// vector, so they are near-identical semantically while differing as text.
	first, err := e.Memorize(ctx, &MemorizeRequest{Content: "rotate the credentials every quarter", Category: "facts"})
	require.NoError(t, err)

	second, err := e.Memorize(ctx, &MemorizeRequest{Content: "credentials must rotate quarterly", Category: "facts"})
	require.NoError(t, err)
	assert.Contains(t, second.SimilarExistingIDs, first.Memory.ID)
}

// failingDriver simulates a persistence failure on the memory write.
type failingDriver struct {
	store.Driver
	failCreate bool
}

func (d *failingDriver) CreateMemory(ctx context.Context, create *store.Memory) (*store.Memory, error) {
	if d.failCreate {
		return nil, errors.New("disk full")
	}
	return d.Driver.CreateMemory(ctx, create)
}

func TestMemorizeFailedWriteLeavesTagsUnregistered(t *testing.T) {
	ctx := context.Background()
	p := testProfile()
	driver, err := memdb.NewDB(p)
	require.NoError(t, err)
	failing := &failingDriver{Driver: driver, failCreate: true}
	s := store.New(failing, p)
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() { _ = s.Close() })
	e := New(p, s, nil, nil)

	_, err = e.Memorize(ctx, &MemorizeRequest{
		Content:  "write that never lands",
		Tags:     []string{"python"},
		Category: "facts",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrPersistenceFailure))

	// The failed write left the vocabulary untouched.
	_, err = e.Store.GetTag(ctx, "python")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	// Once the store recovers the same request commits and registers its tag.
	failing.failCreate = false
	_, err = e.Memorize(ctx, &MemorizeRequest{
		Content:  "write that lands",
		Tags:     []string{"python"},
		Category: "facts",
	})
	require.NoError(t, err)
	tag, err := e.Store.GetTag(ctx, "python")
	require.NoError(t, err)
	assert.Equal(t, 1, tag.UsageCount)
}

func TestSearchLexical(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)

	_, err := e.Memorize(ctx, &MemorizeRequest{
		Content:    "urgent deadline for the quarterly report",
		Category:   "projects",
		Importance: 5,
	})
	require.NoError(t, err)
	_, err = e.Memorize(ctx, &MemorizeRequest{
		Content:  "favorite pizza toppings",
		Category: "preferences",
	})
	require.NoError(t, err)

	result, err := e.Search(ctx, "urgent deadline", nil)
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.Contains(t, result.Results[0].Memory.Content, "urgent deadline")
	assert.Equal(t, 1, result.TotalFound)
	require.NotNil(t, result.QueryAnalysis)
	assert.Contains(t, result.QueryAnalysis.Concepts, "urgent")
}

func TestSearchDegradesOnEmbeddingOutage(t *testing.T) {
	ctx := context.Background()
	embedder := newFakeEmbedder()
	e := newTestEngine(t, embedder)

	_, err := e.Memorize(ctx, &MemorizeRequest{
		Content:  "urgent deadline for the audit",
		Category: "projects",
	})
	require.NoError(t, err)

	embedder.fail = true
	result, err := e.Search(ctx, "urgent deadline", nil)
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
}

func TestSearchExpiredMemories(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)

	_, err := e.Store.CreateMemory(ctx, &store.Memory{
		ID:         "expired",
		Content:    "expired deadline note",
		Category:   "projects",
		Importance: 3,
		ExpiresTs:  1, // long past
	})
	require.NoError(t, err)

	result, err := e.Search(ctx, "deadline note", nil)
	require.NoError(t, err)
	assert.Empty(t, result.Results)

	result, err = e.Search(ctx, "deadline note", &SearchOptions{IncludeExpired: true})
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.Equal(t, "expired", result.Results[0].Memory.ID)
}

func TestSearchObservesEmbeddingDuration(t *testing.T) {
	ctx := context.Background()
	p := testProfile()
	driver, err := memdb.NewDB(p)
	require.NoError(t, err)
	s := store.New(driver, p)
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() { _ = s.Close() })

	m := metrics.New(prometheus.NewRegistry())
	e := New(p, s, newFakeEmbedder(), m)

	_, err = e.Search(ctx, "deadline", nil)
	require.NoError(t, err)

	pb := &dto.Metric{}
	require.NoError(t, m.EmbeddingDuration.Write(pb))
	assert.Equal(t, uint64(1), pb.GetHistogram().GetSampleCount())
}

func TestSearchMatchesViaExpandedTag(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)

	_, err := e.Memorize(ctx, &MemorizeRequest{
		Content:  "notes on the pipeline rewrite",
		Tags:     []string{"python"},
		Category: "projects",
	})
	require.NoError(t, err)

	// The literal query term matches neither content nor tags; the expansion
	// lands on the canonical tag and carries the match.
	result, err := e.Search(ctx, "py", nil)
	require.NoError(t, err)
	require.NotNil(t, result.QueryAnalysis)
	assert.Contains(t, result.QueryAnalysis.ExpandedTags, "python")
	require.Len(t, result.Results, 1)
	assert.Contains(t, result.Results[0].MatchedConcepts, "python")
	assert.Equal(t, 1, result.TotalFound)
}

func TestSearchExplicitTimeRange(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)

	_, err := e.Store.CreateMemory(ctx, &store.Memory{
		ID:         "old",
		Content:    "deadline from last year",
		Category:   "projects",
		Importance: 3,
		CreatedTs:  time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC).Unix(),
	})
	require.NoError(t, err)

	_, err = e.Memorize(ctx, &MemorizeRequest{
		Content:  "deadline for this quarter",
		Category: "projects",
	})
	require.NoError(t, err)

	result, err := e.Search(ctx, "deadline", &SearchOptions{
		TimeRange: &TimeRange{After: "2026-01-01T00:00:00Z"},
	})
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.Contains(t, result.Results[0].Memory.Content, "this quarter")

	_, err = e.Search(ctx, "deadline", &SearchOptions{
		TimeRange: &TimeRange{After: "not-a-date"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrInvalidArgument)

	_, err = e.Search(ctx, "deadline", &SearchOptions{
		TimeRange: &TimeRange{After: "2026-06-01T00:00:00Z", Before: "2026-01-01T00:00:00Z"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrInvalidArgument)
}

func TestSearchOptions(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)

	for i := 0; i < 3; i++ {
		_, err := e.Memorize(ctx, &MemorizeRequest{
			Content:    "deadline reminder entry",
			Category:   "projects",
			Importance: i + 2,
		})
		require.NoError(t, err)
	}
	_, err := e.Memorize(ctx, &MemorizeRequest{
		Content:  "deadline in another category",
		Category: "facts",
	})
	require.NoError(t, err)

	t.Run("limit truncates but total is reported", func(t *testing.T) {
		result, err := e.Search(ctx, "deadline", &SearchOptions{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, result.Results, 2)
		assert.Equal(t, 4, result.TotalFound)
	})

	t.Run("category narrows the scan", func(t *testing.T) {
		result, err := e.Search(ctx, "deadline", &SearchOptions{Category: "facts"})
		require.NoError(t, err)
		require.Len(t, result.Results, 1)
		assert.Equal(t, "facts", result.Results[0].Memory.Category)
	})

	t.Run("importance floor filters candidates", func(t *testing.T) {
		result, err := e.Search(ctx, "deadline", &SearchOptions{ImportanceMin: 4})
		require.NoError(t, err)
		require.Len(t, result.Results, 1)
		assert.Equal(t, 4, result.Results[0].Memory.Importance)
	})
}

func TestConsolidateFixedPoint(t *testing.T) {
	ctx := context.Background()
	embedder := newFakeEmbedder()
	embedder.vectors["pythn"] = []float32{0.97, 0.243, 0}
	e := newTestEngine(t, embedder)

	for i := 0; i < 2; i++ {
		_, err := e.Registry().Register(ctx, "python")
		require.NoError(t, err)
	}
	_, err := e.Registry().Register(ctx, "pythn")
	require.NoError(t, err)

	merges, err := e.Consolidate(ctx)
	require.NoError(t, err)
	require.Len(t, merges, 1)
	assert.Equal(t, "python", merges[0].Survivor)

	merges, err = e.Consolidate(ctx)
	require.NoError(t, err)
	assert.Empty(t, merges)
}
