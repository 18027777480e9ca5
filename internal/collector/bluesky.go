package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/TobiSchelling/AIDigest/internal/digest"
)

const bskyAPIBase = "https://public.api.bsky.app"

// Default set of AI researchers and orgs to follow.
var defaultBskyHandles = []string{
	"emollick.bsky.social",
	"ylecun.bsky.social",
	"fchollet.bsky.social",
	"karpathy.bsky.social",
	"swyx.bsky.social",
	"simonw.net",
	"jimfan.bsky.social",
	"natolambert.bsky.social",
	"huggingface.bsky.social",
	"langchain.bsky.social",
}

// BlueskyClient collects recent posts from configured author feeds and
// searches posts for the per-query analysis path. Uses the public AT
// Protocol API; no authentication required.
type BlueskyClient struct {
	handles []string
	client  *http.Client
}

// NewBlueskyClient creates a Bluesky client for the given handles.
func NewBlueskyClient(handles []string) *BlueskyClient {
	if len(handles) == 0 {
		handles = defaultBskyHandles
	}
	return &BlueskyClient{
		handles: handles,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (b *BlueskyClient) Name() string { return "bluesky" }

// Collect fetches recent posts (last 48h) from all configured authors.
// A failing handle is skipped, not fatal.
func (b *BlueskyClient) Collect(ctx context.Context) ([]digest.Item, error) {
	cutoff := time.Now().Add(-feedCutoff)

	var all []digest.Item
	for _, handle := range b.handles {
		items, err := b.fetchAuthorFeed(ctx, handle, cutoff)
		if err != nil {
			log.Printf("Bluesky: failed to fetch %s: %v", handle, err)
			continue
		}
		all = append(all, items...)
	}

	log.Printf("Bluesky collector: %d posts from %d handles", len(all), len(b.handles))
	return all, nil
}

// SearchPosts searches public posts matching a query created after since.
// Used by the analysis path.
func (b *BlueskyClient) SearchPosts(ctx context.Context, query string, since time.Time, limit int) ([]digest.Item, error) {
	if limit > 100 {
		limit = 100
	}

	params := url.Values{
		"q":     {query},
		"limit": {strconv.Itoa(limit)},
		"since": {since.UTC().Format(time.RFC3339)},
		"sort":  {"top"},
	}

	var result struct {
		Posts []bskyPost `json:"posts"`
	}
	if err := b.getJSON(ctx, "/xrpc/app.bsky.feed.searchPosts", params, &result); err != nil {
		return nil, err
	}

	var items []digest.Item
	for _, post := range result.Posts {
		if item := post.toItem(); item != nil {
			items = append(items, *item)
		}
	}
	return items, nil
}

func (b *BlueskyClient) fetchAuthorFeed(ctx context.Context, handle string, cutoff time.Time) ([]digest.Item, error) {
	params := url.Values{
		"actor":  {handle},
		"limit":  {"10"},
		"filter": {"posts_no_replies"},
	}

	var result struct {
		Feed []struct {
			Post bskyPost `json:"post"`
		} `json:"feed"`
	}
	if err := b.getJSON(ctx, "/xrpc/app.bsky.feed.getAuthorFeed", params, &result); err != nil {
		return nil, err
	}

	var items []digest.Item
	for _, entry := range result.Feed {
		item := entry.Post.toItem()
		if item == nil {
			continue
		}
		if item.PublishedAt != nil && item.PublishedAt.Before(cutoff) {
			continue
		}
		items = append(items, *item)
	}
	return items, nil
}

func (b *BlueskyClient) getJSON(ctx context.Context, path string, params url.Values, dest any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", bskyAPIBase+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("bluesky API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bluesky API returned %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decoding bluesky response: %w", err)
	}
	return nil
}

type bskyPost struct {
	URI    string `json:"uri"`
	Author struct {
		Handle string `json:"handle"`
	} `json:"author"`
	Record struct {
		Text      string `json:"text"`
		CreatedAt string `json:"createdAt"`
	} `json:"record"`
	Embed struct {
		Type     string `json:"$type"`
		External struct {
			URI string `json:"uri"`
		} `json:"external"`
	} `json:"embed"`
}

// toItem converts a post into a digest item, or nil if the post is empty.
// The item URL prefers an embedded external link over the post permalink.
func (p bskyPost) toItem() *digest.Item {
	text := strings.TrimSpace(p.Record.Text)
	if text == "" {
		return nil
	}

	var published *time.Time
	if p.Record.CreatedAt != "" {
		if t, err := time.Parse(time.RFC3339, p.Record.CreatedAt); err == nil {
			published = &t
		}
	}

	rkey := p.URI
	if idx := strings.LastIndex(p.URI, "/"); idx != -1 {
		rkey = p.URI[idx+1:]
	}
	postURL := fmt.Sprintf("https://bsky.app/profile/%s/post/%s", p.Author.Handle, rkey)

	itemURL := postURL
	if p.Embed.Type == "app.bsky.embed.external#view" && p.Embed.External.URI != "" {
		itemURL = p.Embed.External.URI
	}

	item := digest.Item{
		Title:       truncate(text, 120),
		URL:         itemURL,
		Source:      "bluesky",
		Snippet:     truncate(text, snippetLimit),
		Author:      p.Author.Handle,
		PublishedAt: published,
		Extra:       map[string]any{"post_url": postURL},
	}
	if item.Validate() != nil {
		return nil
	}
	return &item
}
