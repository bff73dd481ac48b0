package migrate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/mnemora/ai"
	"github.com/hrygo/mnemora/ai/cache"
	"github.com/hrygo/mnemora/internal/profile"
	"github.com/hrygo/mnemora/store"
	"github.com/hrygo/mnemora/store/db/memdb"
)

type stubEmbedder struct {
	model string
	calls int
	fail  bool
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (s *stubEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	s.calls++
	if s.fail {
		return nil, ai.ErrEmbeddingUnavailable
	}
	result := make([][]float32, len(texts))
	for i := range texts {
		result[i] = []float32{1, 0, 0}
	}
	return result, nil
}

func (s *stubEmbedder) Dimensions() int { return 3 }
func (s *stubEmbedder) ModelID() string { return s.model }

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	p := &profile.Profile{Mode: "dev", Driver: "memory"}
	driver, err := memdb.NewDB(p)
	require.NoError(t, err)
	s := store.New(driver, p)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedTag(t *testing.T, s *store.Store, name, model string) {
	t.Helper()
	ctx := context.Background()
	_, err := s.UpsertTag(ctx, name)
	require.NoError(t, err)
	if model != "" {
		vec := []float32{0.5, 0.5, 0}
		_, err = s.UpdateTag(ctx, &store.UpdateTag{Name: name, Embedding: &vec, EmbeddingModel: &model})
		require.NoError(t, err)
	}
}

func TestSentinelMigratesStaleTags(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	seedTag(t, s, "current", "new-model")
	seedTag(t, s, "outdated", "old-model")
	seedTag(t, s, "missing", "")

	embedder := &stubEmbedder{model: "new-model"}
	vectors := cache.NewVectorCache(16)
	sentinel := NewSentinel(s, embedder, vectors, Config{BatchSize: 10, BatchDelay: time.Millisecond})

	report, err := sentinel.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, 2, report.Migrated)
	assert.Zero(t, report.Failed)

	// Stale entries now carry the active model; the current one is untouched.
	for _, name := range []string{"outdated", "missing"} {
		tag, err := s.GetTag(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, "new-model", tag.EmbeddingModel)
		assert.Equal(t, []float32{1, 0, 0}, tag.Embedding)
	}
	current, err := s.GetTag(ctx, "current")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.5, 0}, current.Embedding)

	// The cache is warmed for the migrated tags.
	vec, model, ok := vectors.Get("outdated")
	require.True(t, ok)
	assert.Equal(t, "new-model", model)
	assert.Equal(t, []float32{1, 0, 0}, vec)
}

// flushCountingDriver records Flush calls to the underlying driver.
type flushCountingDriver struct {
	store.Driver
	flushes int
}

func (d *flushCountingDriver) Flush(ctx context.Context) error {
	d.flushes++
	return d.Driver.Flush(ctx)
}

func TestSentinelFlushesBeforeScanning(t *testing.T) {
	ctx := context.Background()
	p := &profile.Profile{Mode: "dev", Driver: "memory"}
	inner, err := memdb.NewDB(p)
	require.NoError(t, err)
	driver := &flushCountingDriver{Driver: inner}
	s := store.New(driver, p)
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() { _ = s.Close() })

	embedder := &stubEmbedder{model: "new-model"}
	sentinel := NewSentinel(s, embedder, cache.NewVectorCache(16), DefaultConfig())

	_, err = sentinel.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, driver.flushes)
}

func TestSentinelNoopWhenCurrent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedTag(t, s, "current", "new-model")

	embedder := &stubEmbedder{model: "new-model"}
	sentinel := NewSentinel(s, embedder, cache.NewVectorCache(16), DefaultConfig())

	report, err := sentinel.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Checked)
	assert.Zero(t, embedder.calls)
}

func TestSentinelBatching(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		seedTag(t, s, name, "old-model")
	}

	embedder := &stubEmbedder{model: "new-model"}
	sentinel := NewSentinel(s, embedder, cache.NewVectorCache(16), Config{BatchSize: 2, BatchDelay: time.Millisecond})

	report, err := sentinel.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Migrated)
	assert.Equal(t, 3, embedder.calls)
}

func TestSentinelFailedBatchLeavesTagsStale(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedTag(t, s, "outdated", "old-model")

	embedder := &stubEmbedder{model: "new-model", fail: true}
	sentinel := NewSentinel(s, embedder, cache.NewVectorCache(16), Config{BatchSize: 10, BatchDelay: time.Millisecond})

	report, err := sentinel.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Zero(t, report.Migrated)

	tag, err := s.GetTag(ctx, "outdated")
	require.NoError(t, err)
	assert.Equal(t, "old-model", tag.EmbeddingModel)

	// A later healthy run picks the tag up again.
	embedder.fail = false
	report, err = sentinel.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Migrated)
}
