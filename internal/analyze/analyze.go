// Package analyze implements the per-query analysis path: cached searches
// across sources, relevance filtering, and a single trend summarization.
package analyze

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/TobiSchelling/AIDigest/internal/cache"
	"github.com/TobiSchelling/AIDigest/internal/digest"
	"github.com/TobiSchelling/AIDigest/internal/filter"
)

// ErrNoResults is returned when no relevant items survive across all
// sources.
var ErrNoResults = errors.New("no relevant results found")

// Searcher is one source's search surface for the analysis path.
type Searcher interface {
	Name() string
	Search(ctx context.Context, query string, since time.Time, limit int) ([]digest.Item, error)
}

// TrendSummarizer writes the report narrative.
type TrendSummarizer interface {
	Summarize(ctx context.Context, query, timeRange string, items []digest.Item) (string, error)
}

// Report is the assembled analysis result.
type Report struct {
	Query        string            `json:"query"`
	TimeRange    string            `json:"time_range"`
	Summary      string            `json:"summary"`
	Items        []digest.Item     `json:"items"`
	SourceCounts map[string]int    `json:"source_counts"`
	SourceYields map[string]string `json:"source_yields,omitempty"`
	GeneratedAt  time.Time         `json:"generated_at"`
	FromCache    bool              `json:"from_cache,omitempty"`
}

// Analyzer runs the full analysis path for one query.
type Analyzer struct {
	searchers  []Searcher
	cache      *cache.Tiered
	loop       *filter.Loop
	summarizer TrendSummarizer
	now        func() time.Time
}

// New creates an analyzer.
func New(searchers []Searcher, tiered *cache.Tiered, loop *filter.Loop, summarizer TrendSummarizer) *Analyzer {
	return &Analyzer{
		searchers:  searchers,
		cache:      tiered,
		loop:       loop,
		summarizer: summarizer,
		now:        time.Now,
	}
}

// Analyze answers a query over a time range: analysis cache first, then
// per-source cached searches refined by the relevance filter, then one
// summarization call. The assembled report is written back to the
// analysis cache.
func (a *Analyzer) Analyze(ctx context.Context, query, timeRange string) (*Report, error) {
	if payload, ok := a.cache.GetAnalysis(query, timeRange); ok {
		var report Report
		if err := json.Unmarshal(payload, &report); err == nil {
			report.FromCache = true
			return &report, nil
		}
		log.Printf("Cached analysis for %q/%s is unreadable, regenerating", query, timeRange)
	}

	limits := cache.FetchLimits(timeRange)
	since := a.now().Add(-cache.RangeWindow(timeRange))

	var relevant []digest.Item
	yields := make(map[string]string)
	for _, searcher := range a.searchers {
		limit, ok := limits[searcher.Name()]
		if !ok {
			continue
		}

		outcome := a.searchSource(ctx, searcher, query, timeRange, since, limit)
		relevant = append(relevant, outcome.Relevant...)
		yields[searcher.Name()] = fmt.Sprintf("%.2f", outcome.Yield)
	}

	if len(relevant) == 0 {
		return nil, ErrNoResults
	}

	summary, err := a.summarizer.Summarize(ctx, query, timeRange, relevant)
	if err != nil {
		return nil, fmt.Errorf("summarizing analysis for %q: %w", query, err)
	}

	report := &Report{
		Query:        query,
		TimeRange:    timeRange,
		Summary:      summary,
		Items:        relevant,
		SourceCounts: digest.CountSources(relevant),
		SourceYields: yields,
		GeneratedAt:  a.now().UTC(),
	}

	if payload, err := json.Marshal(report); err == nil {
		a.cache.SetAnalysis(query, timeRange, payload)
	} else {
		log.Printf("Failed to encode analysis report for caching: %v", err)
	}

	return report, nil
}

// searchSource fetches one source's batch (cache first) and runs it
// through the filter loop. A failing search contributes nothing; the
// other sources still run.
func (a *Analyzer) searchSource(ctx context.Context, searcher Searcher, query, timeRange string, since time.Time, limit int) filter.Outcome {
	name := searcher.Name()

	items, fromCache := a.cache.GetFetch(query, timeRange, name)
	if !fromCache {
		fresh, err := searcher.Search(ctx, query, since, limit)
		if err != nil {
			log.Printf("Search [%s] failed for %q: %v", name, query, err)
			return filter.Outcome{Yield: 1.0}
		}
		a.cache.SetFetch(query, timeRange, name, fresh)
		items = fresh
	}

	refetch := func(ctx context.Context, escalated int) ([]digest.Item, error) {
		bigger, err := searcher.Search(ctx, query, since, escalated)
		if err != nil {
			return nil, err
		}
		a.cache.SetFetch(query, timeRange, name, bigger)
		return bigger, nil
	}

	return a.loop.Refine(ctx, query, name, items, limit, fromCache, refetch)
}
