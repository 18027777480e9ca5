package analyze

import (
	"context"
	"time"

	"github.com/TobiSchelling/AIDigest/internal/collector"
	"github.com/TobiSchelling/AIDigest/internal/digest"
)

// GitHubSearcher adapts the GitHub client to the Searcher interface.
type GitHubSearcher struct {
	Client *collector.GitHubClient
}

func (s GitHubSearcher) Name() string { return s.Client.Name() }

func (s GitHubSearcher) Search(ctx context.Context, query string, since time.Time, limit int) ([]digest.Item, error) {
	return s.Client.SearchRepos(ctx, query, since, limit)
}

// HNSearcher adapts the Hacker News client to the Searcher interface.
type HNSearcher struct {
	Client *collector.HNClient
}

func (s HNSearcher) Name() string { return s.Client.Name() }

func (s HNSearcher) Search(ctx context.Context, query string, since time.Time, limit int) ([]digest.Item, error) {
	return s.Client.SearchStories(ctx, query, since, limit)
}

// BlueskySearcher adapts the Bluesky client to the Searcher interface.
type BlueskySearcher struct {
	Client *collector.BlueskyClient
}

func (s BlueskySearcher) Name() string { return s.Client.Name() }

func (s BlueskySearcher) Search(ctx context.Context, query string, since time.Time, limit int) ([]digest.Item, error) {
	return s.Client.SearchPosts(ctx, query, since, limit)
}
