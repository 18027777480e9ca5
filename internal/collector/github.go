package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/TobiSchelling/AIDigest/internal/digest"
)

const githubSearchURL = "https://api.github.com/search/repositories"

const maxTrendingRepos = 10

// GitHubClient collects trending repositories for the digest and searches
// repositories for the per-query analysis path.
type GitHubClient struct {
	token  string
	topics []string
	client *http.Client
}

// NewGitHubClient creates a GitHub search client. The token is optional;
// unauthenticated requests just get a lower rate limit.
func NewGitHubClient(tokenEnv string, topics []string) *GitHubClient {
	if len(topics) == 0 {
		topics = []string{"ai", "llm", "machine-learning"}
	}
	return &GitHubClient{
		token:  os.Getenv(tokenEnv),
		topics: topics,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (g *GitHubClient) Name() string { return "github" }

// Collect fetches actively developed, well-starred repos for the configured
// topics: repos that exist AND are being pushed to, rather than brand-new
// repos nobody has starred yet.
func (g *GitHubClient) Collect(ctx context.Context) ([]digest.Item, error) {
	since := time.Now().AddDate(0, 0, -7).Format("2006-01-02")
	seen := make(map[string]struct{})

	var all []digest.Item
	for _, topic := range g.topics {
		if len(all) >= maxTrendingRepos {
			break
		}

		query := fmt.Sprintf("topic:%s pushed:>%s stars:>50", topic, since)
		repos, err := g.searchRepos(ctx, query, 10)
		if err != nil {
			log.Printf("GitHub query %q failed: %v", query, err)
			continue
		}

		for _, item := range repos {
			if _, ok := seen[item.URL]; ok {
				continue
			}
			seen[item.URL] = struct{}{}
			all = append(all, item)
			if len(all) >= maxTrendingRepos {
				break
			}
		}
	}

	log.Printf("GitHub collector: %d repos", len(all))
	return all, nil
}

// SearchRepos searches repositories matching a free-text query pushed after
// since. Used by the analysis path.
func (g *GitHubClient) SearchRepos(ctx context.Context, query string, since time.Time, limit int) ([]digest.Item, error) {
	q := fmt.Sprintf("%s pushed:>%s", query, since.Format("2006-01-02"))
	return g.searchRepos(ctx, q, limit)
}

func (g *GitHubClient) searchRepos(ctx context.Context, query string, limit int) ([]digest.Item, error) {
	if limit > 100 {
		limit = 100
	}

	params := url.Values{
		"q":        {query},
		"sort":     {"stars"},
		"order":    {"desc"},
		"per_page": {strconv.Itoa(limit)},
	}

	req, err := http.NewRequestWithContext(ctx, "GET", githubSearchURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "AIDigest/1.0")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("github search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("github API rate limited")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github API returned %d", resp.StatusCode)
	}

	var result struct {
		Items []struct {
			FullName    string `json:"full_name"`
			HTMLURL     string `json:"html_url"`
			Description string `json:"description"`
			Stars       int    `json:"stargazers_count"`
			Forks       int    `json:"forks_count"`
			Language    string `json:"language"`
			PushedAt    string `json:"pushed_at"`
			Topics      []string
			Owner       struct {
				Login string `json:"login"`
			} `json:"owner"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding github response: %w", err)
	}

	var items []digest.Item
	for _, repo := range result.Items {
		var pushed *time.Time
		if repo.PushedAt != "" {
			if t, err := time.Parse(time.RFC3339, repo.PushedAt); err == nil {
				pushed = &t
			}
		}

		topics := repo.Topics
		if len(topics) > 5 {
			topics = topics[:5]
		}

		item := digest.Item{
			Title:       repo.FullName,
			URL:         repo.HTMLURL,
			Source:      "github",
			Snippet:     truncate(strings.TrimSpace(repo.Description), snippetLimit),
			Author:      repo.Owner.Login,
			PublishedAt: pushed,
			Extra: map[string]any{
				"stars":    repo.Stars,
				"forks":    repo.Forks,
				"language": repo.Language,
				"topics":   topics,
			},
		}
		if item.Validate() != nil {
			continue
		}
		items = append(items, item)
	}

	return items, nil
}
