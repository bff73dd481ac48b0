// Package migrate heals the tag registry after an embedding model switch.
// Embeddings from different models live in incompatible spaces, so every tag
// vector produced by another model must be recomputed before similarity
// scores against it mean anything.
package migrate

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/hrygo/mnemora/ai"
	"github.com/hrygo/mnemora/ai/cache"
	"github.com/hrygo/mnemora/store"
)

// Config tunes batching and pacing of the re-embedding pass.
type Config struct {
	// BatchSize is the number of tags embedded per provider call.
	BatchSize int
	// BatchDelay paces consecutive batches to stay under provider rate limits.
	BatchDelay time.Duration
}

// DefaultConfig returns the default pacing: 20 tags per batch, one batch
// every 500ms.
func DefaultConfig() Config {
	return Config{BatchSize: 20, BatchDelay: 500 * time.Millisecond}
}

// Report summarizes one sentinel run.
type Report struct {
	Checked  int
	Migrated int
	Failed   int
}

// Sentinel scans for tags whose stored embedding was produced by a different
// model than the active one and re-embeds them in paced batches. Running it
// when everything is current is a no-op, so it is safe to call on every start.
type Sentinel struct {
	store    *store.Store
	embedder ai.EmbeddingService
	vectors  *cache.VectorCache
	cfg      Config
}

// NewSentinel creates a migration sentinel.
func NewSentinel(s *store.Store, embedder ai.EmbeddingService, vectors *cache.VectorCache, cfg Config) *Sentinel {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.BatchDelay <= 0 {
		cfg.BatchDelay = DefaultConfig().BatchDelay
	}
	return &Sentinel{store: s, embedder: embedder, vectors: vectors, cfg: cfg}
}

// Run performs one full migration pass. A failed batch is logged and skipped;
// its tags stay stale and are picked up on the next run. Each tag's vector
// and model identifier are written together so a crash mid-run never leaves
// a vector attributed to the wrong model.
func (s *Sentinel) Run(ctx context.Context) (*Report, error) {
	// Make sure deferred durable writes are visible before scanning.
	if err := s.store.Flush(ctx); err != nil {
		return nil, err
	}

	modelID := s.embedder.ModelID()
	active := store.Active
	stale, err := s.store.ListTags(ctx, &store.FindTag{
		RowStatus:     &active,
		StaleForModel: &modelID,
	})
	if err != nil {
		return nil, err
	}

	report := &Report{Checked: len(stale)}
	if len(stale) == 0 {
		return report, nil
	}

	slog.Info("embedding migration started",
		slog.String("model", modelID),
		slog.Int("stale", len(stale)),
		slog.Int("batchSize", s.cfg.BatchSize))

	limiter := rate.NewLimiter(rate.Every(s.cfg.BatchDelay), 1)
	for start := 0; start < len(stale); start += s.cfg.BatchSize {
		end := start + s.cfg.BatchSize
		if end > len(stale) {
			end = len(stale)
		}
		if err := limiter.Wait(ctx); err != nil {
			return report, err
		}
		s.migrateBatch(ctx, stale[start:end], modelID, report)
	}

	slog.Info("embedding migration finished",
		slog.Int("checked", report.Checked),
		slog.Int("migrated", report.Migrated),
		slog.Int("failed", report.Failed))
	return report, nil
}

func (s *Sentinel) migrateBatch(ctx context.Context, batch []*store.Tag, modelID string, report *Report) {
	names := make([]string, len(batch))
	for i, tag := range batch {
		names[i] = tag.Name
	}

	vectors, err := s.embedder.EmbedBatch(ctx, names)
	if err != nil || len(vectors) != len(batch) {
		report.Failed += len(batch)
		slog.Warn("embedding migration batch failed",
			slog.Int("size", len(batch)),
			slog.Any("error", err))
		return
	}

	for i, tag := range batch {
		vector := vectors[i]
		if _, err := s.store.UpdateTag(ctx, &store.UpdateTag{
			Name:           tag.Name,
			Embedding:      &vector,
			EmbeddingModel: &modelID,
		}); err != nil {
			report.Failed++
			slog.Warn("embedding migration update failed",
				slog.String("tag", tag.Name),
				slog.Any("error", err))
			continue
		}
		if s.vectors != nil {
			s.vectors.Put(tag.Name, vector, modelID)
		}
		report.Migrated++
	}
}
