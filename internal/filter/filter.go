// Package filter implements the adaptive relevance filter: a batched LLM
// classification over fetched items, with a single escalated refetch when
// the first batch yields too few relevant results.
package filter

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/TobiSchelling/AIDigest/internal/digest"
	"github.com/TobiSchelling/AIDigest/internal/llm"
)

const (
	yieldThreshold   = 0.5
	escalationFactor = 2
	snippetContext   = 200
)

// Classifier judges a batch of items against a query, returning one verdict
// per item. A nil error with a vector of the wrong length is treated as
// fail-open by the caller.
type Classifier interface {
	Classify(ctx context.Context, query string, items []digest.Item) ([]bool, error)
}

// LLMClassifier classifies items with a single prompt per batch.
type LLMClassifier struct {
	provider  llm.Provider
	maxTokens int
}

// NewLLMClassifier creates a classifier over the given provider.
func NewLLMClassifier(provider llm.Provider, maxTokens int) *LLMClassifier {
	if maxTokens == 0 {
		maxTokens = 1024
	}
	return &LLMClassifier{provider: provider, maxTokens: maxTokens}
}

// Classify sends the whole batch in one prompt and parses the verdict
// vector from the response.
func (c *LLMClassifier) Classify(ctx context.Context, query string, items []digest.Item) ([]bool, error) {
	if len(items) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, `You are filtering search results for relevance to a query.

Query: %q

For each numbered item below, decide whether it is genuinely relevant to the
query. An item is relevant if someone researching the query would want to
read it, not merely because it shares a keyword.

Items:
`, query)
	for i, item := range items {
		fmt.Fprintf(&sb, "%d. %s", i+1, item.Title)
		if snippet := truncate(item.Snippet, snippetContext); snippet != "" {
			fmt.Fprintf(&sb, " - %s", snippet)
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, `
Respond with ONLY a JSON array of %d booleans, one per item in order.
Example: [true, false, true]`, len(items))

	response, err := c.provider.Generate(ctx, sb.String(), c.maxTokens)
	if err != nil {
		return nil, fmt.Errorf("classifying batch: %w", err)
	}

	verdicts := llm.ParseBoolArray(response)
	if verdicts == nil {
		return nil, fmt.Errorf("unparsable classifier response")
	}
	return verdicts, nil
}

// RefetchFunc fetches a fresh, larger batch for escalation. The limit is
// the escalated size.
type RefetchFunc func(ctx context.Context, limit int) ([]digest.Item, error)

// Outcome reports what the filter did with one source's batch.
type Outcome struct {
	Relevant  []digest.Item
	Yield     float64
	Escalated bool
}

// Loop runs the classify-and-maybe-escalate cycle.
type Loop struct {
	classifier Classifier
}

// NewLoop creates a filter loop.
func NewLoop(classifier Classifier) *Loop {
	return &Loop{classifier: classifier}
}

// Refine classifies a batch and keeps the relevant items. When the yield
// falls below 0.5, the batch filled the standard limit, the batch came
// from a live search rather than the cache, and a refetch is available,
// it escalates exactly once at double the limit; the escalated result is
// final whatever its yield. Classification failures fail open: every item
// is kept and the yield reported as 1.0.
func (l *Loop) Refine(ctx context.Context, query, source string, items []digest.Item, limit int, fromCache bool, refetch RefetchFunc) Outcome {
	relevant, yield := l.classify(ctx, query, source, items)
	out := Outcome{Relevant: relevant, Yield: yield}

	if yield >= yieldThreshold || len(items) < limit || fromCache || refetch == nil {
		return out
	}

	escalatedLimit := limit * escalationFactor
	log.Printf("Filter [%s]: yield %.2f below threshold, escalating to %d", source, yield, escalatedLimit)

	bigger, err := refetch(ctx, escalatedLimit)
	if err != nil {
		log.Printf("Filter [%s]: escalated fetch failed, keeping first batch: %v", source, err)
		return out
	}

	relevant, yield = l.classify(ctx, query, source, bigger)
	return Outcome{Relevant: relevant, Yield: yield, Escalated: true}
}

// classify runs one classification pass, failing open on any error or
// length mismatch.
func (l *Loop) classify(ctx context.Context, query, source string, items []digest.Item) ([]digest.Item, float64) {
	if len(items) == 0 {
		return nil, 1.0
	}

	verdicts, err := l.classifier.Classify(ctx, query, items)
	if err != nil {
		log.Printf("Filter [%s]: classification failed, keeping all %d items: %v", source, len(items), err)
		return items, 1.0
	}
	if len(verdicts) != len(items) {
		log.Printf("Filter [%s]: got %d verdicts for %d items, keeping all", source, len(verdicts), len(items))
		return items, 1.0
	}

	var relevant []digest.Item
	for i, keep := range verdicts {
		if keep {
			relevant = append(relevant, items[i])
		}
	}

	yield := float64(len(relevant)) / float64(len(items))
	log.Printf("Filter [%s]: %d/%d relevant (yield %.2f)", source, len(relevant), len(items), yield)
	return relevant, yield
}

func truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
