// Package summarize turns batches of raw items into structured digest
// output with a single LLM call per batch.
package summarize

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/TobiSchelling/AIDigest/internal/digest"
	"github.com/TobiSchelling/AIDigest/internal/llm"
)

const itemSnippetLimit = 250

// Summarizer produces the daily digest output from the merged item set.
type Summarizer interface {
	Summarize(ctx context.Context, items []digest.Item) (*digest.Output, error)
}

// DigestSummarizer builds the full structured digest in one call.
type DigestSummarizer struct {
	provider  llm.Provider
	maxTokens int
}

// NewDigestSummarizer creates a digest summarizer.
func NewDigestSummarizer(provider llm.Provider, maxTokens int) *DigestSummarizer {
	if maxTokens == 0 {
		maxTokens = 4096
	}
	return &DigestSummarizer{provider: provider, maxTokens: maxTokens}
}

// Summarize analyzes every item, deduplicates cross-source coverage, and
// produces the structured digest. Errors propagate; the caller owns the
// run state transition.
func (s *DigestSummarizer) Summarize(ctx context.Context, items []digest.Item) (*digest.Output, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("no items to summarize")
	}

	prompt := buildDigestPrompt(items)
	response, err := s.provider.Generate(ctx, prompt, s.maxTokens)
	if err != nil {
		return nil, fmt.Errorf("generating digest: %w", err)
	}

	output, err := parseOutput(response)
	if err != nil {
		return nil, fmt.Errorf("parsing digest response: %w", err)
	}

	fillCounts(output, items)
	return output, nil
}

func buildDigestPrompt(items []digest.Item) string {
	var sb strings.Builder
	sb.WriteString(`You are an AI news analyst producing a daily digest.

Analyze ALL of the items below. For each item assign a category and an
importance score from 1 (minor) to 5 (major). When the same story appears
on multiple sources, keep one entry and list the other sources in also_on.

Categories: `)
	sb.WriteString(strings.Join(digest.Categories, ", "))
	sb.WriteString("\n\nItems:\n")
	writeItemList(&sb, items)
	sb.WriteString(`
Respond with ONLY a JSON object, no markdown, in exactly this shape:
{
  "executive_summary": "2-3 sentence overview of the day",
  "items": [
    {"title": "...", "url": "...", "source": "...", "category": "...",
     "importance": 3, "why_it_matters": "one sentence", "also_on": []}
  ],
  "top_highlights": ["3 to 5 most important story titles"],
  "trending_keywords": ["up to 10 keywords"]
}`)
	return sb.String()
}

// parseOutput decodes the LLM response into an Output, validating the
// parts the model is responsible for.
func parseOutput(response string) (*digest.Output, error) {
	obj := llm.ParseJSONResponse(response)
	if obj == nil {
		return nil, fmt.Errorf("response is not a JSON object")
	}

	// Round-trip through json to map the loose object onto the typed output.
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("re-encoding response: %w", err)
	}

	var output digest.Output
	if err := json.Unmarshal(data, &output); err != nil {
		return nil, fmt.Errorf("decoding output: %w", err)
	}

	if output.ExecutiveSummary == "" {
		return nil, fmt.Errorf("missing executive summary")
	}
	if len(output.Items) == 0 {
		return nil, fmt.Errorf("no analyzed items in response")
	}

	for i := range output.Items {
		item := &output.Items[i]
		if item.Importance < 1 {
			item.Importance = 1
		}
		if item.Importance > 5 {
			item.Importance = 5
		}
		if !validCategory(item.Category) {
			item.Category = "Other"
		}
	}

	return &output, nil
}

// fillCounts computes the tallies locally rather than trusting the model
// to count.
func fillCounts(output *digest.Output, items []digest.Item) {
	output.SourceCounts = digest.CountSources(items)

	output.CategoryCounts = make(map[string]int)
	for _, item := range output.Items {
		output.CategoryCounts[item.Category]++
	}
}

func validCategory(category string) bool {
	for _, c := range digest.Categories {
		if c == category {
			return true
		}
	}
	return false
}

// TrendSummarizer produces the narrative summary for a per-query analysis
// report.
type TrendSummarizer struct {
	provider  llm.Provider
	maxTokens int
}

// NewTrendSummarizer creates a trend summarizer.
func NewTrendSummarizer(provider llm.Provider, maxTokens int) *TrendSummarizer {
	if maxTokens == 0 {
		maxTokens = 2048
	}
	return &TrendSummarizer{provider: provider, maxTokens: maxTokens}
}

// Summarize writes a short analysis of the relevant items for a query over
// a time range.
func (s *TrendSummarizer) Summarize(ctx context.Context, query, timeRange string, items []digest.Item) (string, error) {
	if len(items) == 0 {
		return "", fmt.Errorf("no items to summarize")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, `You are analyzing developments around %q over the last %s.

Relevant items found:
`, query, timeRange)
	writeItemList(&sb, items)
	sb.WriteString(`
Write a concise analysis in markdown: what is happening, which items matter
most and why, and any visible trend. 3-5 short paragraphs. Do not invent
items that are not listed above.`)

	response, err := s.provider.Generate(ctx, sb.String(), s.maxTokens)
	if err != nil {
		return "", fmt.Errorf("generating trend summary: %w", err)
	}

	summary := strings.TrimSpace(response)
	if summary == "" {
		return "", fmt.Errorf("empty trend summary")
	}
	return summary, nil
}

func writeItemList(sb *strings.Builder, items []digest.Item) {
	for i, item := range items {
		fmt.Fprintf(sb, "%d. [%s] %s\n   URL: %s\n", i+1, item.Source, item.Title, item.URL)
		if snippet := strings.TrimSpace(item.Snippet); snippet != "" {
			if len(snippet) > itemSnippetLimit {
				snippet = snippet[:itemSnippetLimit] + "..."
			}
			fmt.Fprintf(sb, "   %s\n", snippet)
		}
	}
}
