package collector

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"github.com/mmcdole/gofeed"

	"github.com/TobiSchelling/AIDigest/internal/digest"
)

const (
	feedCutoff   = 48 * time.Hour
	maxPerFeed   = 20
	maxEnriched  = 5
	thinSnippet  = 100
	snippetLimit = 300
)

// FeedConfig is a single RSS/Atom feed to poll.
type FeedConfig struct {
	URL  string
	Name string
}

// FeedCollector collects recent entries from configured RSS/Atom feeds,
// enriching thin entries with readability-extracted full text.
type FeedCollector struct {
	feeds  []FeedConfig
	parser *gofeed.Parser
	client *http.Client
}

// NewFeedCollector creates a feed collector.
func NewFeedCollector(feeds []FeedConfig) *FeedCollector {
	return &FeedCollector{
		feeds:  feeds,
		parser: gofeed.NewParser(),
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (fc *FeedCollector) Name() string { return "rss" }

// Collect parses all configured feeds and returns entries from the last 48h.
func (fc *FeedCollector) Collect(ctx context.Context) ([]digest.Item, error) {
	cutoff := time.Now().Add(-feedCutoff)
	enriched := 0

	var all []digest.Item
	for _, feedCfg := range fc.feeds {
		name := feedCfg.Name
		if name == "" {
			name = extractSourceName(feedCfg.URL)
		}

		feed, err := fc.parser.ParseURLWithContext(feedCfg.URL, ctx)
		if err != nil {
			log.Printf("Failed to parse feed %s: %v", feedCfg.URL, err)
			continue
		}

		count := 0
		for _, entry := range feed.Items {
			if count >= maxPerFeed {
				break
			}

			item := fc.parseEntry(entry, name, cutoff)
			if item == nil {
				continue
			}

			if len(item.Snippet) < thinSnippet && enriched < maxEnriched {
				if text := fc.fetchFullText(ctx, item.URL); text != "" {
					item.Snippet = truncate(text, snippetLimit)
					enriched++
				}
			}

			all = append(all, *item)
			count++
		}
	}

	log.Printf("RSS collector: %d entries from %d feeds", len(all), len(fc.feeds))
	return all, nil
}

func (fc *FeedCollector) parseEntry(entry *gofeed.Item, feedName string, cutoff time.Time) *digest.Item {
	link := entry.Link
	if link == "" {
		link = entry.GUID
	}
	title := strings.TrimSpace(entry.Title)
	if link == "" || title == "" {
		return nil
	}

	var published *time.Time
	if entry.PublishedParsed != nil {
		published = entry.PublishedParsed
	} else if entry.UpdatedParsed != nil {
		published = entry.UpdatedParsed
	}
	if published != nil && published.Before(cutoff) {
		return nil
	}

	snippet := ""
	if entry.Content != "" {
		snippet = truncate(stripHTML(entry.Content), snippetLimit)
	} else if entry.Description != "" {
		snippet = truncate(stripHTML(entry.Description), snippetLimit)
	}

	author := feedName
	if len(entry.Authors) > 0 && entry.Authors[0].Name != "" {
		author = entry.Authors[0].Name
	}

	item := digest.Item{
		Title:       title,
		URL:         link,
		Source:      "rss",
		Snippet:     snippet,
		Author:      author,
		PublishedAt: published,
		Extra:       map[string]any{"feed_name": feedName},
	}
	if item.Validate() != nil {
		return nil
	}
	return &item
}

// fetchFullText downloads the entry page and extracts readable text.
// Best-effort: any failure returns an empty string.
func (fc *FeedCollector) fetchFullText(ctx context.Context, entryURL string) string {
	req, err := http.NewRequestWithContext(ctx, "GET", entryURL, nil)
	if err != nil {
		return ""
	}
	req.Header.Set("User-Agent", "AIDigest/1.0 (news aggregator)")

	resp, err := fc.client.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return ""
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return ""
	}

	parsedURL, _ := url.Parse(entryURL)
	article, err := readability.FromReader(strings.NewReader(string(body)), parsedURL)
	if err != nil {
		return ""
	}

	text := strings.TrimSpace(article.TextContent)
	if len(text) > thinSnippet {
		return text
	}
	return ""
}

func extractSourceName(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil {
		return feedURL
	}
	host := strings.ToLower(u.Hostname())

	for _, prefix := range []string{"www.", "blog.", "blogs.", "rss.", "feeds."} {
		host = strings.TrimPrefix(host, prefix)
	}

	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		name := parts[len(parts)-2]
		return strings.ToUpper(name[:1]) + name[1:]
	}
	return strings.ToUpper(host[:1]) + host[1:]
}
