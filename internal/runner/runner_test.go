package runner

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/TobiSchelling/AIDigest/internal/collector"
	"github.com/TobiSchelling/AIDigest/internal/database"
	"github.com/TobiSchelling/AIDigest/internal/digest"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// fakeCollector is a scripted collector for runner tests.
type fakeCollector struct {
	name  string
	items []digest.Item
	err   error
	panic bool
	calls int
}

func (f *fakeCollector) Name() string { return f.name }

func (f *fakeCollector) Collect(_ context.Context) ([]digest.Item, error) {
	f.calls++
	if f.panic {
		panic("collector exploded")
	}
	return f.items, f.err
}

func item(source, title string) digest.Item {
	return digest.Item{
		Title:  title,
		URL:    "https://example.com/" + strings.ReplaceAll(title, " ", "-"),
		Source: source,
	}
}

func TestRunIsolatesFailingCollector(t *testing.T) {
	db := openTestDB(t)
	r := New(db, time.Minute)

	a := &fakeCollector{name: "rss", items: []digest.Item{item("rss", "a1"), item("rss", "a2")}}
	b := &fakeCollector{name: "github", err: fmt.Errorf("rate limited")}
	c := &fakeCollector{name: "arxiv", items: []digest.Item{item("arxiv", "c1")}}
	d := &fakeCollector{name: "bluesky", items: []digest.Item{item("bluesky", "d1"), item("bluesky", "d2")}}

	result := r.Run(context.Background(), "2026-08-25", []collector.Collector{a, b, c, d})

	if len(result.Items) != 5 {
		t.Errorf("expected 5 items from healthy sources, got %d", len(result.Items))
	}
	if result.Health["rss"] != "ok" || result.Health["arxiv"] != "ok" || result.Health["bluesky"] != "ok" {
		t.Errorf("unexpected health for healthy sources: %v", result.Health)
	}
	if !strings.HasPrefix(result.Health["github"], "failed: ") {
		t.Errorf("expected failed health for github, got %q", result.Health["github"])
	}
	if !strings.Contains(result.Health["github"], "rate limited") {
		t.Errorf("expected failure reason in health, got %q", result.Health["github"])
	}
}

func TestRunRecoversFromPanic(t *testing.T) {
	db := openTestDB(t)
	r := New(db, time.Minute)

	good := &fakeCollector{name: "rss", items: []digest.Item{item("rss", "a1")}}
	bad := &fakeCollector{name: "github", panic: true}

	result := r.Run(context.Background(), "2026-08-25", []collector.Collector{good, bad})

	if len(result.Items) != 1 {
		t.Errorf("expected 1 item, got %d", len(result.Items))
	}
	if !strings.Contains(result.Health["github"], "panic") {
		t.Errorf("expected panic recorded in health, got %q", result.Health["github"])
	}
}

func TestRunServesCachedSourceWithoutCollecting(t *testing.T) {
	db := openTestDB(t)
	r := New(db, time.Minute)

	cached := []digest.Item{item("rss", "cached1"), item("rss", "cached2")}
	if err := db.UpsertCollectorItems("2026-08-25", "rss", cached); err != nil {
		t.Fatalf("seeding cache failed: %v", err)
	}

	rss := &fakeCollector{name: "rss", items: []digest.Item{item("rss", "fresh")}}
	gh := &fakeCollector{name: "github", items: []digest.Item{item("github", "g1")}}

	result := r.Run(context.Background(), "2026-08-25", []collector.Collector{rss, gh})

	if rss.calls != 0 {
		t.Errorf("cached source was collected %d times", rss.calls)
	}
	if gh.calls != 1 {
		t.Errorf("uncached source collected %d times, want 1", gh.calls)
	}
	if result.Health["rss"] != "ok (cached)" {
		t.Errorf("expected cached health, got %q", result.Health["rss"])
	}
	if len(result.Items) != 3 {
		t.Errorf("expected 2 cached + 1 fresh items, got %d", len(result.Items))
	}
}

func TestRunWritesCollectorCache(t *testing.T) {
	db := openTestDB(t)
	r := New(db, time.Minute)

	gh := &fakeCollector{name: "github", items: []digest.Item{item("github", "g1")}}
	r.Run(context.Background(), "2026-08-25", []collector.Collector{gh})

	cached, err := db.GetCollectorItems("2026-08-25")
	if err != nil {
		t.Fatalf("reading cache failed: %v", err)
	}
	if len(cached["github"]) != 1 || cached["github"][0].Title != "g1" {
		t.Errorf("expected collected items cached, got %v", cached)
	}
}

func TestRunDropsInvalidItems(t *testing.T) {
	db := openTestDB(t)
	r := New(db, time.Minute)

	gh := &fakeCollector{name: "github", items: []digest.Item{
		item("github", "good"),
		{Title: "", URL: "https://example.com", Source: "github"},
		{Title: "relative url", URL: "/nope", Source: "github"},
	}}

	result := r.Run(context.Background(), "2026-08-25", []collector.Collector{gh})

	if len(result.Items) != 1 || result.Items[0].Title != "good" {
		t.Errorf("expected only the valid item, got %v", result.Items)
	}
}

func TestRunDropsUnknownSources(t *testing.T) {
	db := openTestDB(t)
	r := New(db, time.Minute)

	gh := &fakeCollector{name: "github", items: []digest.Item{
		item("github", "g1"),
		item("reddit", "sneaky"),
	}}

	result := r.Run(context.Background(), "2026-08-25", []collector.Collector{gh})

	if len(result.Items) != 1 {
		t.Errorf("expected item tagged with a foreign source dropped, got %v", result.Items)
	}
	if result.Items[0].Source != "github" {
		t.Errorf("unexpected surviving source %q", result.Items[0].Source)
	}
}

func TestRunAllCached(t *testing.T) {
	db := openTestDB(t)
	r := New(db, time.Minute)

	db.UpsertCollectorItems("2026-08-25", "rss", []digest.Item{item("rss", "a")})
	db.UpsertCollectorItems("2026-08-25", "github", []digest.Item{item("github", "b")})

	rss := &fakeCollector{name: "rss"}
	gh := &fakeCollector{name: "github"}

	result := r.Run(context.Background(), "2026-08-25", []collector.Collector{rss, gh})

	if rss.calls != 0 || gh.calls != 0 {
		t.Error("fully cached run must not collect")
	}
	if len(result.Items) != 2 {
		t.Errorf("expected 2 cached items, got %d", len(result.Items))
	}
}
