package engine

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/mnemora/ai"
	"github.com/hrygo/mnemora/ai/query"
	"github.com/hrygo/mnemora/ai/rank"
	"github.com/hrygo/mnemora/ai/similarity"
	"github.com/hrygo/mnemora/store"
)

// candidateScanLimit bounds how many stored memories one search considers
// before ranking.
const candidateScanLimit = 500

// SearchOptions refine a search beyond the raw query text.
type SearchOptions struct {
	Limit          int        `json:"limit"`              // 0 means default (10)
	MinRelevance   float64    `json:"minRelevance"`       // 0 means profile default
	Category       string     `json:"category"`           // "" means any
	ImportanceMin  int        `json:"importanceMin"`      // 0 means any
	IncludeExpired bool       `json:"includeExpired"`     // expired rows excluded unless set
	TimeRange      *TimeRange `json:"timeRange,omitempty"` // explicit bounds, RFC 3339
}

// TimeRange is an explicit creation-time window. Either bound may be empty.
type TimeRange struct {
	After  string `json:"after,omitempty"`
	Before string `json:"before,omitempty"`
}

// bounds parses the range into unix seconds. A bound that does not parse as
// RFC 3339, or a window that ends before it starts, is rejected.
func (r *TimeRange) bounds() (after, before int64, err error) {
	if r == nil {
		return 0, 0, nil
	}
	if r.After != "" {
		t, err := time.Parse(time.RFC3339, r.After)
		if err != nil {
			return 0, 0, errors.Wrapf(store.ErrInvalidArgument, "malformed time range after %q", r.After)
		}
		after = t.Unix()
	}
	if r.Before != "" {
		t, err := time.Parse(time.RFC3339, r.Before)
		if err != nil {
			return 0, 0, errors.Wrapf(store.ErrInvalidArgument, "malformed time range before %q", r.Before)
		}
		before = t.Unix()
	}
	if after != 0 && before != 0 && after > before {
		return 0, 0, errors.Wrap(store.ErrInvalidArgument, "time range ends before it starts")
	}
	return after, before, nil
}

// SearchResult is the ranked answer to one search.
type SearchResult struct {
	Results       []rank.Result    `json:"results"`
	TotalFound    int              `json:"totalFound"`
	QueryAnalysis *query.Expansion `json:"queryAnalysis"`
}

// Search plans the raw query, collects candidate memories, scores them with
// the blended ranking, and returns the top results. When the embedding
// provider is down the semantic component drops out and lexical scoring
// carries the search; an outage never turns into an error here.
func (e *Engine) Search(ctx context.Context, rawQuery string, opts *SearchOptions) (*SearchResult, error) {
	start := time.Now()
	if opts == nil {
		opts = &SearchOptions{}
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	optAfter, optBefore, err := opts.TimeRange.bounds()
	if err != nil {
		return nil, err
	}

	expansion, err := e.planner.Plan(ctx, rawQuery)
	if err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.SearchTotal.WithLabelValues(string(expansion.Intent)).Inc()
		defer func() {
			e.metrics.SearchDuration.Observe(time.Since(start).Seconds())
		}()
	}

	after := expansion.TimeRange.After
	if optAfter > after {
		after = optAfter
	}
	before := expansion.TimeRange.Before
	if optBefore != 0 && (before == 0 || optBefore < before) {
		before = optBefore
	}

	find := &store.FindMemory{
		CreatedAfter:   after,
		CreatedBefore:  before,
		IncludeExpired: opts.IncludeExpired,
		Limit:          candidateScanLimit,
	}
	active := store.Active
	find.RowStatus = &active
	if opts.Category != "" {
		find.Category = &opts.Category
	}
	if opts.ImportanceMin > 0 {
		find.ImportanceMin = &opts.ImportanceMin
	}

	memories, err := e.Store.ListMemories(ctx, find)
	if err != nil {
		return nil, err
	}

	candidates := e.scoreCandidates(ctx, memories, expansion)
	ranked := e.ranker.Rank(candidates, expansion, opts.MinRelevance)

	total := len(ranked)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	return &SearchResult{
		Results:       ranked,
		TotalFound:    total,
		QueryAnalysis: expansion,
	}, nil
}

// scoreCandidates computes each memory's semantic similarity to the query:
// the max over its tag embeddings and its cached content embedding. Without
// a query vector every semantic score is zero and ranking is lexical.
func (e *Engine) scoreCandidates(ctx context.Context, memories []*store.Memory, expansion *query.Expansion) []rank.Candidate {
	queryVec := e.queryVector(ctx, expansion.RawQuery)

	candidates := make([]rank.Candidate, 0, len(memories))
	for _, m := range memories {
		semantic := 0.0
		if queryVec != nil {
			semantic = e.semanticScore(queryVec, m)
		}
		candidates = append(candidates, rank.Candidate{Memory: m, Semantic: semantic})
	}
	return candidates
}

func (e *Engine) queryVector(ctx context.Context, rawQuery string) []float32 {
	if e.embedder == nil {
		return nil
	}
	start := time.Now()
	vec, err := e.embedder.Embed(ctx, rawQuery)
	if e.metrics != nil {
		e.metrics.EmbeddingDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if e.metrics != nil && errors.Is(err, ai.ErrEmbeddingUnavailable) {
			e.metrics.EmbeddingFailures.Inc()
		}
		return nil
	}
	return vec
}

func (e *Engine) semanticScore(queryVec []float32, m *store.Memory) float64 {
	modelID := e.embedder.ModelID()

	best := 0.0
	for _, tag := range m.Tags {
		if vec, model, ok := e.vectors.Get(tag); ok && model == modelID {
			if s := similarity.Score(queryVec, vec); s > best {
				best = s
			}
		}
	}
	if vec, model, ok := e.vectors.GetContent(m.Content); ok && model == modelID {
		if s := similarity.Score(queryVec, vec); s > best {
			best = s
		}
	}
	return best
}
