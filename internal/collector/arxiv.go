package collector

import (
	"context"
	"log"
	"net/url"
	"strconv"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/TobiSchelling/AIDigest/internal/digest"
)

const arxivAPIBase = "http://export.arxiv.org/api/query"

// ArxivCollector fetches recently submitted papers from the arXiv Atom API.
type ArxivCollector struct {
	categories []string
	maxResults int
	parser     *gofeed.Parser
}

// NewArxivCollector creates an arXiv collector for the given categories.
func NewArxivCollector(categories []string, maxResults int) *ArxivCollector {
	if len(categories) == 0 {
		categories = []string{"cs.AI", "cs.LG"}
	}
	if maxResults <= 0 {
		maxResults = 50
	}
	return &ArxivCollector{
		categories: categories,
		maxResults: maxResults,
		parser:     gofeed.NewParser(),
	}
}

func (a *ArxivCollector) Name() string { return "arxiv" }

// Collect fetches the most recently submitted papers in the configured
// categories. The arXiv API serves Atom, which gofeed parses directly.
func (a *ArxivCollector) Collect(ctx context.Context) ([]digest.Item, error) {
	terms := make([]string, len(a.categories))
	for i, c := range a.categories {
		terms[i] = "cat:" + c
	}

	params := url.Values{
		"search_query": {strings.Join(terms, " OR ")},
		"sortBy":       {"submittedDate"},
		"sortOrder":    {"descending"},
		"max_results":  {strconv.Itoa(a.maxResults)},
	}

	feed, err := a.parser.ParseURLWithContext(arxivAPIBase+"?"+params.Encode(), ctx)
	if err != nil {
		return nil, err
	}

	var items []digest.Item
	for _, entry := range feed.Items {
		title := strings.Join(strings.Fields(entry.Title), " ")
		if title == "" || entry.Link == "" {
			continue
		}

		author := ""
		if len(entry.Authors) > 0 {
			author = entry.Authors[0].Name
		}

		item := digest.Item{
			Title:       title,
			URL:         entry.Link,
			Source:      "arxiv",
			Snippet:     truncate(strings.Join(strings.Fields(entry.Description), " "), snippetLimit),
			Author:      author,
			PublishedAt: entry.PublishedParsed,
		}
		if item.Validate() != nil {
			continue
		}
		items = append(items, item)
	}

	log.Printf("arXiv collector: %d papers", len(items))
	return items, nil
}
