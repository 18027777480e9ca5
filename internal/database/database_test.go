package database

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/TobiSchelling/AIDigest/internal/digest"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestClaimOrGetRun(t *testing.T) {
	db := openTestDB(t)

	claim, err := db.ClaimOrGetRun("2026-08-25")
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if !claim.Claimed {
		t.Error("expected first claim to win")
	}
	if claim.Status != StatusCollecting {
		t.Errorf("expected collecting, got %s", claim.Status)
	}

	second, err := db.ClaimOrGetRun("2026-08-25")
	if err != nil {
		t.Fatalf("second claim failed: %v", err)
	}
	if second.Claimed {
		t.Error("expected second claim to lose")
	}
	if second.RunID != claim.RunID {
		t.Errorf("expected existing run id %s, got %s", claim.RunID, second.RunID)
	}
}

func TestClaimConcurrentSingleWinner(t *testing.T) {
	db := openTestDB(t)

	const callers = 10
	results := make([]*ClaimResult, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = db.ClaimOrGetRun("2026-08-25")
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d errored: %v", i, errs[i])
		}
		if results[i].Claimed {
			winners++
		}
	}
	if winners != 1 {
		t.Errorf("expected exactly 1 winner, got %d", winners)
	}
}

func TestRunStatusTransitions(t *testing.T) {
	db := openTestDB(t)
	claim, _ := db.ClaimOrGetRun("2026-08-25")

	health := map[string]string{"rss": "ok", "github": "failed: rate limited"}
	if err := db.MarkRunAnalyzing(claim.RunID, health, 12); err != nil {
		t.Fatalf("mark analyzing failed: %v", err)
	}

	// Transition is forward-only: collecting is gone now.
	if err := db.MarkRunAnalyzing(claim.RunID, health, 12); err == nil {
		t.Error("expected second analyzing transition to fail")
	}

	run, err := db.GetRun(claim.RunID)
	if err != nil {
		t.Fatalf("get run failed: %v", err)
	}
	if run.Status != StatusAnalyzing || run.TotalItems != 12 {
		t.Errorf("unexpected run state: %s / %d items", run.Status, run.TotalItems)
	}
	if run.SourceHealth["github"] != "failed: rate limited" {
		t.Errorf("source health not persisted: %v", run.SourceHealth)
	}

	out := &digest.Output{
		ExecutiveSummary: "A big day for AI.",
		Items: []digest.ReportItem{
			{Title: "Item", URL: "https://example.com", Source: "rss", Category: "Research", Importance: 4},
		},
		Highlights:     []string{"Item"},
		Keywords:       []string{"ai"},
		CategoryCounts: map[string]int{"Research": 1},
		SourceCounts:   map[string]int{"rss": 1},
	}
	if err := db.SaveRunAnalysis(claim.RunID, out, "test-model", 7); err != nil {
		t.Fatalf("save analysis failed: %v", err)
	}

	run, _ = db.GetRun(claim.RunID)
	if run.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", run.Status)
	}
	if run.ExecutiveSummary == nil || *run.ExecutiveSummary != "A big day for AI." {
		t.Error("executive summary not persisted")
	}
	if len(run.Items) != 1 || run.Items[0].Category != "Research" {
		t.Errorf("items not persisted: %+v", run.Items)
	}
	if !run.Terminal() {
		t.Error("completed run should be terminal")
	}

	// Terminal runs cannot fail afterwards.
	db.MarkRunFailed(claim.RunID, nil)
	run, _ = db.GetRun(claim.RunID)
	if run.Status != StatusCompleted {
		t.Errorf("completed run was overwritten to %s", run.Status)
	}
}

func TestMarkRunFailedFromCollecting(t *testing.T) {
	db := openTestDB(t)
	claim, _ := db.ClaimOrGetRun("2026-08-25")

	health := map[string]string{"rss": "failed: network down"}
	if err := db.MarkRunFailed(claim.RunID, health); err != nil {
		t.Fatalf("mark failed errored: %v", err)
	}

	run, _ := db.GetRun(claim.RunID)
	if run.Status != StatusFailed {
		t.Errorf("expected failed, got %s", run.Status)
	}
	if run.SourceHealth["rss"] != "failed: network down" {
		t.Errorf("health not persisted: %v", run.SourceHealth)
	}
}

func TestSaveAnalysisRequiresAnalyzing(t *testing.T) {
	db := openTestDB(t)
	claim, _ := db.ClaimOrGetRun("2026-08-25")

	out := &digest.Output{ExecutiveSummary: "x"}
	if err := db.SaveRunAnalysis(claim.RunID, out, "m", 1); err == nil {
		t.Error("expected save from collecting to fail")
	}
}

func TestCollectorCacheRoundtrip(t *testing.T) {
	db := openTestDB(t)

	items := []digest.Item{
		{Title: "A", URL: "https://a.com", Source: "rss"},
		{Title: "B", URL: "https://b.com", Source: "rss"},
	}
	if err := db.UpsertCollectorItems("2026-08-25", "rss", items); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if err := db.UpsertCollectorItems("2026-08-25", "github", nil); err != nil {
		t.Fatalf("upsert empty failed: %v", err)
	}

	cached, err := db.GetCollectorItems("2026-08-25")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if len(cached["rss"]) != 2 {
		t.Errorf("expected 2 rss items, got %d", len(cached["rss"]))
	}
	if _, ok := cached["github"]; !ok {
		t.Error("expected github entry to exist even when empty")
	}
	if _, ok := cached["bluesky"]; ok {
		t.Error("unexpected bluesky entry")
	}
}

func TestFetchRowExpiry(t *testing.T) {
	db := openTestDB(t)

	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	expires := now.Add(12 * time.Hour)
	if err := db.UpsertFetchRow("ai agents", "day", "github", []byte(`[]`), 0, expires); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	data, err := db.GetFetchRow("ai agents", "day", "github", now)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if data == nil {
		t.Error("expected hit before expiry")
	}

	// Exactly at expiry the row is stale.
	data, err = db.GetFetchRow("ai agents", "day", "github", expires)
	if err != nil {
		t.Fatalf("get at expiry failed: %v", err)
	}
	if data != nil {
		t.Error("expected miss at expiry instant")
	}

	data, _ = db.GetFetchRow("ai agents", "day", "github", expires.Add(time.Second))
	if data != nil {
		t.Error("expected miss after expiry")
	}

	// Other key dimensions miss.
	if data, _ := db.GetFetchRow("ai agents", "week", "github", now); data != nil {
		t.Error("expected miss for different time range")
	}
	if data, _ := db.GetFetchRow("ai agents", "day", "bluesky", now); data != nil {
		t.Error("expected miss for different source")
	}
}

func TestAnalysisRowRoundtrip(t *testing.T) {
	db := openTestDB(t)

	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	if err := db.UpsertAnalysisRow("ai agents", "week", []byte(`{"summary":"x"}`), now.Add(time.Hour)); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	report, err := db.GetAnalysisRow("ai agents", "week", now)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(report) != `{"summary":"x"}` {
		t.Errorf("unexpected payload: %s", report)
	}

	// Upsert replaces.
	db.UpsertAnalysisRow("ai agents", "week", []byte(`{"summary":"y"}`), now.Add(time.Hour))
	report, _ = db.GetAnalysisRow("ai agents", "week", now)
	if string(report) != `{"summary":"y"}` {
		t.Errorf("expected replaced payload, got %s", report)
	}
}

func TestSweepOlderThan(t *testing.T) {
	db := openTestDB(t)

	claim, _ := db.ClaimOrGetRun("2026-08-25")
	db.UpsertCollectorItems("2026-08-25", "rss", nil)

	now := time.Now().UTC()

	// Expired and live cache rows.
	db.UpsertFetchRow("old", "day", "github", []byte(`[]`), 0, now.Add(-time.Hour))
	db.UpsertFetchRow("new", "day", "github", []byte(`[]`), 0, now.Add(time.Hour))
	db.UpsertAnalysisRow("old", "day", []byte(`{}`), now.Add(-time.Hour))

	// Cutoff in the past: recent runs survive, expired cache rows go.
	result, err := db.SweepOlderThan(now.AddDate(0, 0, -30), now)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if result.Runs != 0 {
		t.Errorf("expected 0 runs swept, got %d", result.Runs)
	}
	if result.FetchRows != 1 || result.AnalysisRows != 1 {
		t.Errorf("expected 1 fetch + 1 analysis row swept, got %d/%d", result.FetchRows, result.AnalysisRows)
	}

	if run, _ := db.GetRun(claim.RunID); run == nil {
		t.Fatal("recent run was swept")
	}
	if data, _ := db.GetFetchRow("new", "day", "github", now); data == nil {
		t.Error("live fetch row was swept")
	}

	// Cutoff in the future sweeps everything.
	result, err = db.SweepOlderThan(now.Add(time.Hour), now)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if result.Runs != 1 || result.CollectorRows != 1 {
		t.Errorf("expected 1 run + 1 collector row swept, got %d/%d", result.Runs, result.CollectorRows)
	}
	if run, _ := db.GetRun(claim.RunID); run != nil {
		t.Error("old run survived sweep")
	}
}

func TestDeleteRunByDate(t *testing.T) {
	db := openTestDB(t)
	db.ClaimOrGetRun("2026-08-25")

	if err := db.DeleteRunByDate("2026-08-25"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	claim, err := db.ClaimOrGetRun("2026-08-25")
	if err != nil {
		t.Fatalf("re-claim failed: %v", err)
	}
	if !claim.Claimed {
		t.Error("expected re-claim to win after delete")
	}
}

func TestGetStats(t *testing.T) {
	db := openTestDB(t)

	c1, _ := db.ClaimOrGetRun("2026-08-24")
	db.MarkRunAnalyzing(c1.RunID, nil, 1)
	db.SaveRunAnalysis(c1.RunID, &digest.Output{ExecutiveSummary: "x"}, "m", 1)

	c2, _ := db.ClaimOrGetRun("2026-08-25")
	db.MarkRunFailed(c2.RunID, nil)

	stats, err := db.GetStats()
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.TotalRuns != 2 || stats.CompletedRuns != 1 || stats.FailedRuns != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestTimestampMatchesSQLiteFormat(t *testing.T) {
	ts := Timestamp(time.Date(2026, 8, 25, 9, 5, 3, 0, time.FixedZone("CET", 3600)))
	if ts != "2026-08-25 08:05:03" {
		t.Errorf("unexpected timestamp: %s", ts)
	}
}
