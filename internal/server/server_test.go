package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/TobiSchelling/AIDigest/internal/collector"
	"github.com/TobiSchelling/AIDigest/internal/database"
	"github.com/TobiSchelling/AIDigest/internal/digest"
	"github.com/TobiSchelling/AIDigest/internal/orchestrator"
	"github.com/TobiSchelling/AIDigest/internal/runner"
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

type fakeCollector struct {
	name  string
	items []digest.Item
}

func (f *fakeCollector) Name() string { return f.name }

func (f *fakeCollector) Collect(_ context.Context) ([]digest.Item, error) {
	return f.items, nil
}

type stubSummarizer struct{}

func (stubSummarizer) Summarize(_ context.Context, items []digest.Item) (*digest.Output, error) {
	return &digest.Output{
		ExecutiveSummary: "summary",
		Items: []digest.ReportItem{
			{Title: "Top story", URL: "https://example.com", Source: "rss", Category: "Research", Importance: 5, WhyItMatters: "It matters."},
		},
		Highlights: []string{"Top story"},
		Keywords:   []string{"ai"},
	}, nil
}

func newTestServer(t *testing.T, db *database.DB, collectors []collector.Collector) *Server {
	t.Helper()
	orch := orchestrator.New(db, runner.New(db, time.Minute), collectors, stubSummarizer{}, orchestrator.Options{})
	srv, err := New(db, orch, nil, "s3cret")
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return srv
}

func completedRun(t *testing.T, db *database.DB, date string) string {
	t.Helper()
	claim, err := db.ClaimOrGetRun(date)
	if err != nil {
		t.Fatal(err)
	}
	db.MarkRunAnalyzing(claim.RunID, map[string]string{"rss": "ok"}, 3)
	out, _ := stubSummarizer{}.Summarize(context.Background(), nil)
	db.SaveRunAnalysis(claim.RunID, out, "test-model", 2)
	return claim.RunID
}

func TestTodayClaimsAndStartsCollection(t *testing.T) {
	db := openTestDB(t)
	srv := newTestServer(t, db, []collector.Collector{
		&fakeCollector{name: "rss", items: []digest.Item{{Title: "A", URL: "https://a.com", Source: "rss"}}},
	})

	req := httptest.NewRequest("GET", "/api/digest/today", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for claim winner, got %d", rec.Code)
	}

	var resp map[string]any
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp["status"] != database.StatusCollecting {
		t.Errorf("expected collecting status, got %v", resp["status"])
	}
	if resp["run_id"] == "" {
		t.Error("expected run_id in response")
	}
}

func TestTodaySecondCallerSeesExistingRun(t *testing.T) {
	db := openTestDB(t)
	runID := completedRun(t, db, database.Today())
	srv := newTestServer(t, db, nil)

	req := httptest.NewRequest("GET", "/api/digest/today", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp map[string]any
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp["run_id"] != runID {
		t.Errorf("expected existing run id, got %v", resp["run_id"])
	}
	if resp["status"] != database.StatusCompleted {
		t.Errorf("expected completed, got %v", resp["status"])
	}
	if resp["digest"] == nil {
		t.Error("completed response must embed the digest")
	}
}

func TestDigestByDate(t *testing.T) {
	db := openTestDB(t)
	completedRun(t, db, "2026-08-24")
	srv := newTestServer(t, db, nil)

	req := httptest.NewRequest("GET", "/api/digest/2026-08-24", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp map[string]any
	json.NewDecoder(rec.Body).Decode(&resp)
	dig, ok := resp["digest"].(map[string]any)
	if !ok {
		t.Fatal("expected digest object")
	}
	if dig["executive_summary"] != "summary" {
		t.Errorf("unexpected summary: %v", dig["executive_summary"])
	}
}

func TestDigestByDateNotFound(t *testing.T) {
	db := openTestDB(t)
	srv := newTestServer(t, db, nil)

	req := httptest.NewRequest("GET", "/api/digest/1999-01-01", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestInternalAnalyzeAuth(t *testing.T) {
	db := openTestDB(t)
	srv := newTestServer(t, db, nil)

	tests := []struct {
		name   string
		secret string
		want   int
	}{
		{"missing secret", "", http.StatusForbidden},
		{"wrong secret", "nope", http.StatusForbidden},
		{"correct secret", "s3cret", http.StatusAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/internal/analyze", strings.NewReader(`{"run_id":"some-id"}`))
			if tt.secret != "" {
				req.Header.Set("X-Internal-Secret", tt.secret)
			}
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestInternalAnalyzeRejectsNonPost(t *testing.T) {
	db := openTestDB(t)
	srv := newTestServer(t, db, nil)

	req := httptest.NewRequest("GET", "/internal/analyze", nil)
	req.Header.Set("X-Internal-Secret", "s3cret")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}

func TestInternalAnalyzeRejectsBadBody(t *testing.T) {
	db := openTestDB(t)
	srv := newTestServer(t, db, nil)

	req := httptest.NewRequest("POST", "/internal/analyze", strings.NewReader("{}"))
	req.Header.Set("X-Internal-Secret", "s3cret")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestAnalyzeUnavailableWithoutProvider(t *testing.T) {
	db := openTestDB(t)
	srv := newTestServer(t, db, nil)

	req := httptest.NewRequest("GET", "/api/analyze?q=agents", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestDigestPageRendersCompletedRun(t *testing.T) {
	db := openTestDB(t)
	completedRun(t, db, "2026-08-24")
	srv := newTestServer(t, db, nil)

	req := httptest.NewRequest("GET", "/digest/2026-08-24", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Top story") {
		t.Error("expected item title in page")
	}
	if !strings.Contains(body, "It matters.") {
		t.Error("expected why-it-matters in page")
	}
}

func TestDigestPageMissingRun(t *testing.T) {
	db := openTestDB(t)
	srv := newTestServer(t, db, nil)

	req := httptest.NewRequest("GET", "/digest/1999-01-01", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "No digest for this date") {
		t.Error("expected empty-state message")
	}
}

func TestStaticRoute(t *testing.T) {
	db := openTestDB(t)
	srv := newTestServer(t, db, nil)

	req := httptest.NewRequest("GET", "/static/style.css", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "font-sans") {
		t.Error("expected CSS content")
	}
}

func TestIndexRedirectsToToday(t *testing.T) {
	db := openTestDB(t)
	srv := newTestServer(t, db, nil)

	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Location"), "/digest/") {
		t.Errorf("unexpected redirect target %q", rec.Header().Get("Location"))
	}
}
