package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/TobiSchelling/AIDigest/internal/digest"
)

const hnSearchURL = "https://hn.algolia.com/api/v1/search"

// HNClient searches Hacker News stories via the Algolia API. Analysis-path
// searcher only; HN has no place in the daily digest collectors.
type HNClient struct {
	client *http.Client
}

// NewHNClient creates a Hacker News search client.
func NewHNClient() *HNClient {
	return &HNClient{client: &http.Client{Timeout: 15 * time.Second}}
}

func (h *HNClient) Name() string { return "hackernews" }

// SearchStories searches stories matching a query created after since,
// ordered by relevance then points.
func (h *HNClient) SearchStories(ctx context.Context, query string, since time.Time, limit int) ([]digest.Item, error) {
	params := url.Values{
		"query":          {query},
		"tags":           {"story"},
		"hitsPerPage":    {strconv.Itoa(limit)},
		"numericFilters": {fmt.Sprintf("created_at_i>%d", since.Unix())},
	}

	req, err := http.NewRequestWithContext(ctx, "GET", hnSearchURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hn search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("hn API returned %d", resp.StatusCode)
	}

	var result struct {
		Hits []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Author      string `json:"author"`
			Points      int    `json:"points"`
			NumComments int    `json:"num_comments"`
			ObjectID    string `json:"objectID"`
			CreatedAtI  int64  `json:"created_at_i"`
			StoryText   string `json:"story_text"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding hn response: %w", err)
	}

	var items []digest.Item
	for _, hit := range result.Hits {
		storyURL := hit.URL
		if storyURL == "" {
			storyURL = "https://news.ycombinator.com/item?id=" + hit.ObjectID
		}

		created := time.Unix(hit.CreatedAtI, 0).UTC()

		item := digest.Item{
			Title:       strings.TrimSpace(hit.Title),
			URL:         storyURL,
			Source:      "hackernews",
			Snippet:     truncate(stripHTML(hit.StoryText), snippetLimit),
			Author:      hit.Author,
			PublishedAt: &created,
			Extra: map[string]any{
				"points":   hit.Points,
				"comments": hit.NumComments,
			},
		}
		if item.Validate() != nil {
			continue
		}
		items = append(items, item)
	}

	return items, nil
}
