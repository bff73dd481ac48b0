// Package engine composes the store, embedding, tag, query, and ranking
// layers into the two top-level operations: memorize and search.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/hrygo/mnemora/ai"
	"github.com/hrygo/mnemora/ai/cache"
	"github.com/hrygo/mnemora/ai/classify"
	"github.com/hrygo/mnemora/ai/metrics"
	"github.com/hrygo/mnemora/ai/migrate"
	"github.com/hrygo/mnemora/ai/query"
	"github.com/hrygo/mnemora/ai/rank"
	"github.com/hrygo/mnemora/ai/tags"
	"github.com/hrygo/mnemora/internal/profile"
	"github.com/hrygo/mnemora/store"
)

// Engine is the top-level memory intelligence facade.
type Engine struct {
	Profile *profile.Profile
	Store   *store.Store

	embedder   ai.EmbeddingService // nil in lexical-only mode
	vectors    *cache.VectorCache
	registry   *tags.Registry
	planner    *query.Planner
	ranker     *rank.Ranker
	classifier classify.Classifier
	metrics    *metrics.Metrics
}

// New wires an engine from a profile and an opened store. The embedding
// service is optional: without it every semantic path degrades to the lexical
// fallback instead of failing.
func New(p *profile.Profile, s *store.Store, embedder ai.EmbeddingService, m *metrics.Metrics) *Engine {
	vectors := cache.NewVectorCache(p.ContentCacheSize)

	registry := tags.NewRegistry(s, embedder, vectors, tags.Config{
		SuggestMinSimilarity:     p.SuggestMinSimilarity,
		ConsolidateMinSimilarity: p.ConsolidateMinSimilarity,
		MaxTagsPerMemory:         p.MaxTagsPerMemory,
	})

	ranker := rank.New(rank.Config{
		RecencyHalfLife: time.Duration(p.RecencyHalfLife) * 24 * time.Hour,
		MinRelevance:    p.MinRelevance,
	})

	return &Engine{
		Profile:    p,
		Store:      s,
		embedder:   embedder,
		vectors:    vectors,
		registry:   registry,
		planner:    query.NewPlanner(registry, s, p.QueryExpandMinSimilarity),
		ranker:     ranker,
		classifier: classify.NewKeywordClassifier(),
		metrics:    m,
	}
}

// Registry exposes the tag registry for tag-level operations.
func (e *Engine) Registry() *tags.Registry {
	return e.registry
}

// Planner exposes the query planner.
func (e *Engine) Planner() *query.Planner {
	return e.planner
}

// Startup seeds system categories and runs the embedding migration sentinel.
// Call once after the store is migrated, before serving.
func (e *Engine) Startup(ctx context.Context) error {
	if e.embedder == nil {
		slog.Info("embedding disabled, running in lexical-only mode")
		return nil
	}

	sentinel := migrate.NewSentinel(e.Store, e.embedder, e.vectors, migrate.Config{
		BatchSize:  e.Profile.MigrateBatchSize,
		BatchDelay: time.Duration(e.Profile.MigrateBatchDelay) * time.Millisecond,
	})
	report, err := sentinel.Run(ctx)
	if err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.TagsMigrated.Add(float64(report.Migrated))
	}

	return e.warmTagVectors(ctx)
}

// warmTagVectors loads persisted tag embeddings for the active model into the
// in-process cache so the first search does not start cold.
func (e *Engine) warmTagVectors(ctx context.Context) error {
	active := store.Active
	all, err := e.Store.ListTags(ctx, &store.FindTag{RowStatus: &active})
	if err != nil {
		return err
	}
	modelID := e.embedder.ModelID()
	warmed := 0
	for _, tag := range all {
		if tag.HasEmbedding() && tag.EmbeddingModel == modelID {
			e.vectors.Put(tag.Name, tag.Embedding, modelID)
			warmed++
		}
	}
	slog.Info("tag vector cache warmed", slog.Int("tags", warmed))
	return nil
}

// Consolidate merges near-duplicate tags and returns the merges performed.
func (e *Engine) Consolidate(ctx context.Context) ([]tags.MergeResult, error) {
	merges, err := e.registry.Consolidate(ctx, e.Profile.ConsolidateMinSimilarity)
	if err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.TagMerges.Add(float64(len(merges)))
	}
	return merges, nil
}
