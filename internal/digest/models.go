// Package digest defines the data model shared across the aggregation
// pipeline: raw collector items and the structured analysis output.
package digest

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Item is a single raw item fetched from one source.
type Item struct {
	Title       string         `json:"title"`
	URL         string         `json:"url"`
	Source      string         `json:"source"`
	Snippet     string         `json:"snippet,omitempty"`
	Author      string         `json:"author,omitempty"`
	PublishedAt *time.Time     `json:"published_at,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// Validate checks the item invariants: non-empty title and a well-formed
// absolute URL.
func (i Item) Validate() error {
	if strings.TrimSpace(i.Title) == "" {
		return fmt.Errorf("item has empty title (url=%s)", i.URL)
	}
	u, err := url.Parse(i.URL)
	if err != nil {
		return fmt.Errorf("item %q has malformed url: %w", i.Title, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("item %q has non-absolute url %q", i.Title, i.URL)
	}
	return nil
}

// Categories a report item may be assigned to.
var Categories = []string{
	"Breakthrough", "Research", "Tooling", "Open Source",
	"Infrastructure", "Product", "Policy", "Safety", "Other",
}

// ReportItem is one analyzed item in the final digest.
type ReportItem struct {
	Title        string   `json:"title"`
	URL          string   `json:"url"`
	Source       string   `json:"source"`
	Category     string   `json:"category"`
	Importance   int      `json:"importance"`
	WhyItMatters string   `json:"why_it_matters"`
	AlsoOn       []string `json:"also_on,omitempty"`
}

// Output is the structured result of the summarization call.
type Output struct {
	ExecutiveSummary string         `json:"executive_summary"`
	Items            []ReportItem   `json:"items"`
	Highlights       []string       `json:"top_highlights"`
	Keywords         []string       `json:"trending_keywords"`
	CategoryCounts   map[string]int `json:"category_counts"`
	SourceCounts     map[string]int `json:"source_counts"`
}

// CountSources tallies items per source tag.
func CountSources(items []Item) map[string]int {
	counts := make(map[string]int)
	for _, it := range items {
		counts[it.Source]++
	}
	return counts
}
