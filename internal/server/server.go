// Package server exposes the digest over HTTP: a JSON API for clients,
// an authenticated internal endpoint for the analysis hand-off, and a
// rendered HTML view.
package server

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/TobiSchelling/AIDigest/internal/analyze"
	"github.com/TobiSchelling/AIDigest/internal/cache"
	"github.com/TobiSchelling/AIDigest/internal/database"
	"github.com/TobiSchelling/AIDigest/internal/orchestrator"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New()

// backgroundTimeout bounds the detached collect and analysis phases.
const backgroundTimeout = 10 * time.Minute

// Server is the HTTP surface over the digest pipeline.
type Server struct {
	db       *database.DB
	orch     *orchestrator.Orchestrator
	analyzer *analyze.Analyzer
	secret   string
	pages    map[string]*template.Template
	mux      *http.ServeMux
}

// New creates a server. The analyzer may be nil when no LLM provider is
// available; the analysis API then reports unavailability.
func New(db *database.DB, orch *orchestrator.Orchestrator, analyzer *analyze.Analyzer, secret string) (*Server, error) {
	funcMap := template.FuncMap{
		"markdown": renderMarkdown,
		"deref": func(s *string) string {
			if s == nil {
				return ""
			}
			return *s
		},
	}

	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	pageNames := []string{"digest.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		if _, err := clone.ParseFS(templateFS, "templates/"+name); err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{db: db, orch: orch, analyzer: analyzer, secret: secret, pages: pages, mux: http.NewServeMux()}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/digest/", s.handleDigestPage)
	s.mux.HandleFunc("/api/digest/today", s.handleToday)
	s.mux.HandleFunc("/api/digest/", s.handleDigestByDate)
	s.mux.HandleFunc("/api/analyze", s.handleAnalyze)
	s.mux.HandleFunc("/internal/analyze", s.handleInternalAnalyze)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	http.Redirect(w, r, "/digest/"+database.Today(), http.StatusFound)
}

// handleToday claims or joins today's run. The claim winner kicks off the
// collect phase in the background and immediately reports collecting;
// everyone else sees the current run state.
func (s *Server) handleToday(w http.ResponseWriter, r *http.Request) {
	runDate := database.Today()

	claim, err := s.orch.Claim(runDate)
	if err != nil {
		log.Printf("Claim failed for %s: %v", runDate, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if claim.Claimed {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
			defer cancel()
			s.orch.RunCollectPhase(ctx, claim.RunID, runDate)
		}()

		writeJSON(w, http.StatusAccepted, map[string]any{
			"run_id":   claim.RunID,
			"run_date": runDate,
			"status":   database.StatusCollecting,
		})
		return
	}

	s.writeRunStatus(w, claim.RunID)
}

func (s *Server) handleDigestByDate(w http.ResponseWriter, r *http.Request) {
	runDate := strings.TrimPrefix(r.URL.Path, "/api/digest/")
	if runDate == "" || strings.Contains(runDate, "/") {
		http.NotFound(w, r)
		return
	}

	run, err := s.db.GetRunByDate(runDate)
	if err != nil {
		log.Printf("Failed to load run for %s: %v", runDate, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if run == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "no digest for " + runDate})
		return
	}

	writeJSON(w, http.StatusOK, runResponse(run))
}

func (s *Server) writeRunStatus(w http.ResponseWriter, runID string) {
	run, err := s.db.GetRun(runID)
	if err != nil || run == nil {
		log.Printf("Failed to load run %s: %v", runID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, runResponse(run))
}

// runResponse shapes a run for the JSON API. Completed runs embed the
// digest; in-flight runs report status only.
func runResponse(run *database.Run) map[string]any {
	resp := map[string]any{
		"run_id":   run.ID,
		"run_date": run.RunDate,
		"status":   run.Status,
	}
	if run.Status == database.StatusCompleted {
		resp["digest"] = map[string]any{
			"executive_summary": run.ExecutiveSummary,
			"items":             run.Items,
			"top_highlights":    run.Highlights,
			"trending_keywords": run.Keywords,
			"category_counts":   run.CategoryCounts,
			"source_counts":     run.SourceCounts,
			"total_items":       run.TotalItems,
			"model_used":        run.ModelUsed,
		}
	}
	if run.Status == database.StatusFailed {
		resp["source_health"] = run.SourceHealth
	}
	return resp
}

// handleInternalAnalyze receives the analysis hand-off. The shared secret
// gates it; the phase itself runs detached so the posting request returns
// quickly.
func (s *Server) handleInternalAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.secret == "" || r.Header.Get("X-Internal-Secret") != s.secret {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	var body struct {
		RunID string `json:"run_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.RunID == "" {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()
		s.orch.RunAnalysisPhase(ctx, body.RunID)
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{"run_id": body.RunID, "status": "accepted"})
}

// handleAnalyze runs the per-query analysis path inline.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if s.analyzer == nil {
		http.Error(w, "Analysis unavailable: no LLM provider configured", http.StatusServiceUnavailable)
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		http.Error(w, "Missing query parameter q", http.StatusBadRequest)
		return
	}
	timeRange := r.URL.Query().Get("range")
	if timeRange == "" {
		timeRange = cache.RangeWeek
	}

	report, err := s.analyzer.Analyze(r.Context(), query, timeRange)
	if err != nil {
		if errors.Is(err, analyze.ErrNoResults) {
			writeJSON(w, http.StatusOK, map[string]any{
				"query":      query,
				"time_range": timeRange,
				"items":      []any{},
				"summary":    "No relevant results found.",
			})
			return
		}
		log.Printf("Analysis failed for %q/%s: %v", query, timeRange, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleDigestPage(w http.ResponseWriter, r *http.Request) {
	runDate := strings.TrimPrefix(r.URL.Path, "/digest/")
	if runDate == "" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	run, err := s.db.GetRunByDate(runDate)
	if err != nil {
		log.Printf("Failed to load run for %s: %v", runDate, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.render(w, "digest.html", map[string]any{
		"Run":     run,
		"RunDate": runDate,
	})
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		log.Printf("Template %s not found", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "base.html", data); err != nil {
		log.Printf("Error rendering template %s: %v", name, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

// Serve starts the HTTP server on the given port.
func Serve(db *database.DB, orch *orchestrator.Orchestrator, analyzer *analyze.Analyzer, secret string, port int) error {
	srv, err := New(db, orch, analyzer, secret)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	log.Printf("Server listening on http://%s", addr)
	return http.ListenAndServe(addr, srv.Handler())
}
