// Package collector implements the per-source collectors that feed the
// daily digest, plus the search clients reused by the per-query analysis
// path. Collectors are constructed explicitly from config and passed to the
// runner; there is no global registry.
package collector

import (
	"context"
	"strings"

	"github.com/TobiSchelling/AIDigest/internal/config"
	"github.com/TobiSchelling/AIDigest/internal/digest"
)

// Collector is one named unit fetching items from an external source.
// Collect may call out to the network and is expected to honor ctx.
type Collector interface {
	Name() string
	Collect(ctx context.Context) ([]digest.Item, error)
}

// FromConfig builds the set of enabled collectors.
func FromConfig(cfg *config.Config) []Collector {
	var collectors []Collector

	if len(cfg.Sources.Feeds) > 0 {
		feeds := make([]FeedConfig, len(cfg.Sources.Feeds))
		for i, f := range cfg.Sources.Feeds {
			feeds[i] = FeedConfig{URL: f.URL, Name: f.Name}
		}
		collectors = append(collectors, NewFeedCollector(feeds))
	}

	if cfg.Sources.Arxiv.Enabled {
		collectors = append(collectors, NewArxivCollector(
			cfg.Sources.Arxiv.Categories, cfg.Sources.Arxiv.MaxResults))
	}

	if cfg.Sources.GitHub.Enabled {
		collectors = append(collectors, NewGitHubClient(
			cfg.Sources.GitHub.TokenEnv, cfg.Sources.GitHub.Topics))
	}

	if cfg.Sources.Bluesky.Enabled {
		collectors = append(collectors, NewBlueskyClient(cfg.Sources.Bluesky.Handles))
	}

	return collectors
}

// stripHTML removes tags and decodes common entities, normalizing
// whitespace. Shared by the feed-based collectors.
func stripHTML(text string) string {
	var result strings.Builder
	inTag := false
	for _, r := range text {
		if r == '<' {
			inTag = true
			result.WriteRune(' ')
			continue
		}
		if r == '>' {
			inTag = false
			continue
		}
		if !inTag {
			result.WriteRune(r)
		}
	}

	s := result.String()
	s = strings.ReplaceAll(s, "&nbsp;", " ")
	s = strings.ReplaceAll(s, "&amp;", "&")
	s = strings.ReplaceAll(s, "&lt;", "<")
	s = strings.ReplaceAll(s, "&gt;", ">")
	s = strings.ReplaceAll(s, "&quot;", `"`)
	s = strings.ReplaceAll(s, "&#39;", "'")

	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

// truncate clips a string to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && s[n]&0xC0 == 0x80 {
		n--
	}
	return s[:n]
}
