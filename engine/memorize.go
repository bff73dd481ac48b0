package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/hrygo/mnemora/ai/classify"
	"github.com/hrygo/mnemora/ai/similarity"
	"github.com/hrygo/mnemora/ai/tags"
	"github.com/hrygo/mnemora/store"
)

// duplicateSimilarity is the content-similarity floor above which an existing
// memory is reported alongside a new one.
const duplicateSimilarity = 0.9

// duplicateScanLimit bounds how many recent memories the duplicate check
// compares against.
const duplicateScanLimit = 50

// classifyConfidenceFloor is the minimum classifier confidence to accept its
// category over the default.
const classifyConfidenceFloor = 0.3

// MemorizeRequest is the input to Memorize.
type MemorizeRequest struct {
	Content    string   `json:"content"`
	Tags       []string `json:"tags"`
	Category   string   `json:"category"`
	Importance int      `json:"importance"` // 0 means default (3)
	TTLDays    int      `json:"ttlDays"`    // 0 means never expires
}

// MemorizeResult reports what was stored and how the input was transformed
// on the way in.
type MemorizeResult struct {
	Memory             *store.Memory       `json:"memory"`
	Mapping            *tags.MappingResult `json:"mapping,omitempty"`
	SimilarExistingIDs []string            `json:"similarExistingIds,omitempty"`
	// CategoryConfidence is the classifier confidence when the category was
	// detected rather than supplied; 1 for an explicit category.
	CategoryConfidence float64 `json:"categoryConfidence"`
}

// Memorize stores one memory. Input tags go through smart mapping onto the
// existing vocabulary, the category is validated against the curated set (or
// classified when absent), and near-duplicate existing memories are reported
// without blocking the write.
func (e *Engine) Memorize(ctx context.Context, req *MemorizeRequest) (*MemorizeResult, error) {
	result, err := e.memorize(ctx, req)
	if e.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		e.metrics.MemorizeTotal.WithLabelValues(status).Inc()
	}
	return result, err
}

func (e *Engine) memorize(ctx context.Context, req *MemorizeRequest) (*MemorizeResult, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, errors.Wrap(store.ErrInvalidArgument, "content cannot be empty")
	}

	importance := req.Importance
	if importance == 0 {
		importance = 3
	}
	if importance < 1 || importance > 5 {
		return nil, errors.Wrapf(store.ErrInvalidArgument, "importance %d out of range [1,5]", importance)
	}

	category, categoryConfidence, err := e.resolveCategory(ctx, req.Category, content)
	if err != nil {
		return nil, err
	}

	mapping, err := e.registry.MapTags(ctx, req.Tags, content, e.Profile.MaxTagsPerMemory)
	if err != nil {
		return nil, err
	}

	var expiresTs int64
	if req.TTLDays > 0 {
		expiresTs = time.Now().AddDate(0, 0, req.TTLDays).Unix()
	}

	similarIDs := e.findSimilar(ctx, content, category)

	memory, err := e.Store.CreateMemory(ctx, &store.Memory{
		ID:         uuid.NewString(),
		Content:    content,
		Tags:       mapping.FinalTags,
		Category:   category,
		Importance: importance,
		ExpiresTs:  expiresTs,
	})
	if err != nil {
		return nil, err
	}

	// Vocabulary bookkeeping happens only once the memory committed; a failed
	// write must leave tag usage counts untouched.
	for _, tag := range mapping.FinalTags {
		if _, err := e.registry.Register(ctx, tag); err != nil {
			slog.Warn("tag registration failed", slog.String("tag", tag), slog.Any("error", err))
		}
	}

	if err := e.Store.BumpCategoryUsage(ctx, category); err != nil {
		slog.Warn("category usage bump failed", slog.String("category", category), slog.Any("error", err))
	}

	return &MemorizeResult{
		Memory:             memory,
		Mapping:            mapping,
		SimilarExistingIDs: similarIDs,
		CategoryConfidence: categoryConfidence,
	}, nil
}

// resolveCategory validates an explicit category against the curated set, or
// classifies the content when none was given. Unknown categories are rejected
// with the available set named in the error.
func (e *Engine) resolveCategory(ctx context.Context, requested, content string) (string, float64, error) {
	active := store.Active
	categories, err := e.Store.ListCategories(ctx, &store.FindCategory{RowStatus: &active})
	if err != nil {
		return "", 0, err
	}

	known := make(map[string]bool, len(categories))
	names := make([]string, 0, len(categories))
	for _, c := range categories {
		known[c.Name] = true
		names = append(names, c.Name)
	}
	sort.Strings(names)

	requested = strings.ToLower(strings.TrimSpace(requested))
	if requested != "" {
		if !known[requested] {
			return "", 0, errors.Wrap(store.ErrInvalidArgument,
				fmt.Sprintf("unknown category %q, available: %s", requested, strings.Join(names, ", ")))
		}
		return requested, 1, nil
	}

	category, confidence, err := e.classifier.Classify(ctx, content)
	if err != nil || confidence < classifyConfidenceFloor || !known[category] {
		return classify.DefaultCategory, 0, nil
	}
	return category, confidence, nil
}

// findSimilar reports existing memories whose content is nearly identical to
// the incoming one. Best effort: embedding failures degrade to exact-match
// detection and never block the write.
func (e *Engine) findSimilar(ctx context.Context, content, category string) []string {
	active := store.Active
	recent, err := e.Store.ListMemories(ctx, &store.FindMemory{
		Category:  &category,
		RowStatus: &active,
		Limit:     duplicateScanLimit,
	})
	if err != nil || len(recent) == 0 {
		return nil
	}

	queryVec := e.contentVector(ctx, content)

	var similar []string
	candidates := make([]similarity.Candidate, 0, len(recent))
	for _, m := range recent {
		if m.Content == content {
			similar = append(similar, m.ID)
			continue
		}
		if queryVec == nil {
			continue
		}
		if vec := e.contentVector(ctx, m.Content); vec != nil {
			candidates = append(candidates, similarity.Candidate{Key: m.ID, Vector: vec})
		}
	}
	for _, match := range similarity.Nearest(queryVec, candidates, len(candidates), duplicateSimilarity) {
		similar = append(similar, match.Key)
	}
	return similar
}

// contentVector returns a content embedding through the bounded LRU, or nil
// when embeddings are unavailable.
func (e *Engine) contentVector(ctx context.Context, content string) []float32 {
	if e.embedder == nil {
		return nil
	}
	modelID := e.embedder.ModelID()
	if vec, model, ok := e.vectors.GetContent(content); ok && model == modelID {
		return vec
	}
	start := time.Now()
	vec, err := e.embedder.Embed(ctx, content)
	if e.metrics != nil {
		e.metrics.EmbeddingDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if e.metrics != nil {
			e.metrics.EmbeddingFailures.Inc()
		}
		return nil
	}
	e.vectors.PutContent(content, vec, modelID)
	return vec
}
