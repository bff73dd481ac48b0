// Package classify assigns a category to memory content when the caller did
// not supply one.
package classify

import (
	"context"
	"strings"
)

// Classifier suggests a category for a piece of content. Confidence is in
// [0,1]; a confidence of 0 means the classifier has no opinion and the
// caller should fall back to its default.
type Classifier interface {
	Classify(ctx context.Context, content string) (category string, confidence float64, err error)
}

// DefaultCategory is used when no classifier signal clears the floor.
const DefaultCategory = "facts"

// keyword cues per category. Scoring is hit-count based, so longer content
// with repeated cues classifies more confidently than a single stray word.
var categoryCues = map[string][]string{
	"user_context":   {"i live", "i work", "my job", "my name", "i am a", "i'm a", "based in", "my team"},
	"preferences":    {"prefer", "i like", "i love", "i hate", "always use", "never use", "favorite", "rather"},
	"projects":       {"project", "working on", "deadline", "milestone", "sprint", "release", "feature", "repo"},
	"learnings":      {"learned", "realized", "discovered", "turns out", "figured out", "now i know"},
	"corrections":    {"actually", "correction", "i was wrong", "not true", "mistake", "instead of"},
	"reminders":      {"remind", "remember to", "don't forget", "due", "tomorrow", "next week", "follow up"},
	"best_practices": {"always", "should", "best practice", "convention", "guideline", "policy", "procedure", "rule"},
}

type keywordClassifier struct{}

// NewKeywordClassifier returns a heuristic classifier driven by per-category
// keyword cues. It never errors and never proposes a category outside the
// curated set.
func NewKeywordClassifier() Classifier {
	return keywordClassifier{}
}

func (keywordClassifier) Classify(_ context.Context, content string) (string, float64, error) {
	lowered := strings.ToLower(content)

	best, bestHits, total := "", 0, 0
	for category, cues := range categoryCues {
		hits := 0
		for _, cue := range cues {
			if strings.Contains(lowered, cue) {
				hits++
			}
		}
		total += hits
		if hits > bestHits || (hits == bestHits && hits > 0 && category < best) {
			best, bestHits = category, hits
		}
	}

	if bestHits == 0 {
		return DefaultCategory, 0, nil
	}

	// Confidence grows with absolute hits and with dominance over other
	// categories' hits, capped below certainty.
	confidence := float64(bestHits) / float64(bestHits+1)
	if total > bestHits {
		confidence *= float64(bestHits) / float64(total)
	}
	return best, confidence, nil
}
