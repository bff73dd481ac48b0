// Package query turns a free-text query into a structured expansion the
// retrieval path can execute: intent, concept terms, a time range, and
// semantically related tags and categories.
package query

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/hrygo/mnemora/ai/tags"
	"github.com/hrygo/mnemora/store"
)

// Intent is the coarse classification of what the caller wants. It is a
// closed enumeration derived from lexical cues; anything unclassifiable is a
// find.
type Intent string

const (
	IntentFind      Intent = "find"
	IntentRemind    Intent = "remind"
	IntentSummarize Intent = "summarize"
)

// TimeRange bounds a query by creation time. Zero values are unbounded.
type TimeRange struct {
	After  int64 `json:"after,omitempty"`
	Before int64 `json:"before,omitempty"`
}

// Expansion is the structured form of a raw query.
type Expansion struct {
	RawQuery           string    `json:"rawQuery"`
	Intent             Intent    `json:"intent"`
	Concepts           []string  `json:"concepts"`
	TimeRange          TimeRange `json:"timeRange"`
	ExpandedTags       []string  `json:"expandedTags"`
	ExpandedCategories []string  `json:"expandedCategories"`
}

// defaultExpandMinSimilarity is the lowered suggestion floor used for
// query-side expansion; broader than the storage-side floor on purpose.
const defaultExpandMinSimilarity = 0.5

// Planner builds query expansions. It reads the tag registry but never
// mutates it.
type Planner struct {
	registry *tags.Registry
	store    *store.Store

	expandMinSimilarity float64

	remindPatterns    []*regexp.Regexp
	summarizePatterns []*regexp.Regexp

	// now is swappable for tests.
	now func() time.Time
}

// NewPlanner creates a query planner. expandMinSimilarity is the suggestion
// floor for tag expansion; zero or below falls back to the default.
func NewPlanner(registry *tags.Registry, s *store.Store, expandMinSimilarity float64) *Planner {
	if expandMinSimilarity <= 0 {
		expandMinSimilarity = defaultExpandMinSimilarity
	}
	return &Planner{
		registry:            registry,
		store:               s,
		expandMinSimilarity: expandMinSimilarity,
		remindPatterns: compilePatterns([]string{
			`^remind\b`,
			`\bdon'?t forget\b`,
			`\bremember to\b`,
			`\bupcoming\b`,
		}),
		summarizePatterns: compilePatterns([]string{
			`^summarize\b`,
			`^sum up\b`,
			`\boverview of\b`,
			`\brecap\b`,
			`^what do (i|you) know about\b`,
		}),
		now: time.Now,
	}
}

// compilePatterns compiles case-insensitive regex patterns once at startup.
func compilePatterns(patterns []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		compiled[i] = regexp.MustCompile(`(?i)` + p)
	}
	return compiled
}

// Plan expands a raw query. Expansion is read-only with respect to the tag
// registry: unknown concepts never create tags.
func (p *Planner) Plan(ctx context.Context, rawQuery string) (*Expansion, error) {
	expansion := &Expansion{
		RawQuery:           rawQuery,
		Intent:             p.classifyIntent(rawQuery),
		Concepts:           extractConcepts(rawQuery),
		TimeRange:          p.parseTimeRange(rawQuery),
		ExpandedTags:       []string{},
		ExpandedCategories: []string{},
	}

	if len(expansion.Concepts) > 0 {
		suggestions, err := p.registry.Suggest(ctx, expansion.Concepts, 3, p.expandMinSimilarity)
		if err != nil {
			return nil, err
		}
		seen := make(map[string]bool)
		for _, concept := range expansion.Concepts {
			for _, s := range suggestions[concept] {
				// Proposed new tags are a storage-side concern; expansion
				// only broadens over what exists.
				if s.IsNew || seen[s.Name] {
					continue
				}
				seen[s.Name] = true
				expansion.ExpandedTags = append(expansion.ExpandedTags, s.Name)
			}
		}
	}

	categories, err := p.expandCategories(ctx, expansion.Concepts)
	if err != nil {
		return nil, err
	}
	expansion.ExpandedCategories = categories

	return expansion, nil
}

// classifyIntent applies the lexical cues in order; find is the fallback.
func (p *Planner) classifyIntent(rawQuery string) Intent {
	for _, pattern := range p.remindPatterns {
		if pattern.MatchString(rawQuery) {
			return IntentRemind
		}
	}
	for _, pattern := range p.summarizePatterns {
		if pattern.MatchString(rawQuery) {
			return IntentSummarize
		}
	}
	return IntentFind
}

// stopwords dropped during concept extraction.
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "was": true,
	"were": true, "be": true, "been": true, "do": true, "does": true, "did": true,
	"i": true, "me": true, "my": true, "we": true, "our": true, "you": true,
	"your": true, "it": true, "its": true, "of": true, "in": true, "on": true,
	"at": true, "to": true, "for": true, "from": true, "with": true, "about": true,
	"and": true, "or": true, "not": true, "no": true, "what": true, "which": true,
	"who": true, "when": true, "where": true, "how": true, "why": true,
	"find": true, "search": true, "show": true, "list": true, "get": true,
	"remind": true, "remember": true, "summarize": true, "know": true,
	"that": true, "this": true, "these": true, "those": true, "any": true,
	"all": true, "some": true, "have": true, "has": true, "had": true,
	"last": true, "next": true, "week": true, "month": true, "year": true,
	"today": true, "yesterday": true, "tomorrow": true, "recent": true,
}

var tokenPattern = regexp.MustCompile(`[a-z0-9][a-z0-9_\-]*`)

// extractConcepts tokenizes the query, drops stopwords and temporal noise,
// and keeps the rest as candidate concepts in query order.
func extractConcepts(rawQuery string) []string {
	tokens := tokenPattern.FindAllString(strings.ToLower(rawQuery), -1)
	concepts := make([]string, 0, len(tokens))
	seen := make(map[string]bool)
	for _, token := range tokens {
		if stopwords[token] || seen[token] {
			continue
		}
		seen[token] = true
		concepts = append(concepts, token)
	}
	return concepts
}

var explicitDatePattern = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)

// parseTimeRange maps temporal phrases to a {after, before} range. Absence
// of temporal cues yields an unbounded range.
func (p *Planner) parseTimeRange(rawQuery string) TimeRange {
	lower := strings.ToLower(rawQuery)
	now := p.now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	switch {
	case strings.Contains(lower, "today"):
		return TimeRange{After: startOfDay.Unix()}
	case strings.Contains(lower, "yesterday"):
		return TimeRange{After: startOfDay.AddDate(0, 0, -1).Unix(), Before: startOfDay.Unix()}
	case strings.Contains(lower, "this week"):
		weekday := int(now.Weekday())
		return TimeRange{After: startOfDay.AddDate(0, 0, -weekday).Unix()}
	case strings.Contains(lower, "last week"):
		return TimeRange{After: startOfDay.AddDate(0, 0, -7).Unix()}
	case strings.Contains(lower, "last month"):
		return TimeRange{After: startOfDay.AddDate(0, -1, 0).Unix()}
	case strings.Contains(lower, "recent"):
		return TimeRange{After: startOfDay.AddDate(0, 0, -7).Unix()}
	}

	if m := explicitDatePattern.FindStringSubmatch(lower); m != nil {
		if day, err := time.ParseInLocation("2006-01-02", m[0], now.Location()); err == nil {
			return TimeRange{After: day.Unix(), Before: day.AddDate(0, 0, 1).Unix()}
		}
	}

	return TimeRange{}
}

// expandCategories matches concepts against the non-archived category names.
// Categories use exact or containment matching only; they are curated, not
// semantically expanded.
func (p *Planner) expandCategories(ctx context.Context, concepts []string) ([]string, error) {
	if len(concepts) == 0 {
		return []string{}, nil
	}

	active := store.Active
	categories, err := p.store.ListCategories(ctx, &store.FindCategory{RowStatus: &active})
	if err != nil {
		return nil, err
	}

	matched := []string{}
	for _, category := range categories {
		for _, concept := range concepts {
			if category.Name == concept || strings.Contains(category.Name, concept) {
				matched = append(matched, category.Name)
				break
			}
		}
	}
	return matched, nil
}
