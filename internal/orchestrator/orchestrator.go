// Package orchestrator drives a digest run through its phases:
// collecting -> analyzing -> completed | failed, forward only. Phase
// transitions are persisted through the run store; the analysis phase may
// execute in a separate process via an authenticated hand-off.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/TobiSchelling/AIDigest/internal/collector"
	"github.com/TobiSchelling/AIDigest/internal/database"
	"github.com/TobiSchelling/AIDigest/internal/digest"
	"github.com/TobiSchelling/AIDigest/internal/notify"
	"github.com/TobiSchelling/AIDigest/internal/runner"
	"github.com/TobiSchelling/AIDigest/internal/summarize"
)

const handoffTimeout = 10 * time.Second

// Store is the run persistence the orchestrator needs (implemented by
// database.DB).
type Store interface {
	ClaimOrGetRun(runDate string) (*database.ClaimResult, error)
	GetRun(id string) (*database.Run, error)
	MarkRunAnalyzing(id string, sourceHealth map[string]string, totalItems int) error
	MarkRunFailed(id string, sourceHealth map[string]string) error
	SaveRunAnalysis(id string, out *digest.Output, modelUsed string, processingSeconds int) error
	GetCollectorItems(runDate string) (map[string][]digest.Item, error)
	SweepOlderThan(cutoff, now time.Time) (*database.SweepResult, error)
}

// Options configure an orchestrator.
type Options struct {
	// AppURL is the server's own base URL for the analysis hand-off.
	// Empty means the hand-off is skipped and analysis runs inline.
	AppURL string
	// Secret authenticates the internal analysis endpoint.
	Secret string
	// ModelUsed is recorded on completed runs.
	ModelUsed string
	// RetentionDays bounds the post-completion sweep. Zero disables it.
	RetentionDays int
	// Notifier announces completed runs. Nil disables notification.
	Notifier notify.Notifier
}

// Orchestrator owns the run lifecycle for daily digests.
type Orchestrator struct {
	store      Store
	runner     *runner.Runner
	collectors []collector.Collector
	summarizer summarize.Summarizer
	opts       Options
	client     *http.Client
	now        func() time.Time
}

// New creates an orchestrator.
func New(store Store, r *runner.Runner, collectors []collector.Collector, summarizer summarize.Summarizer, opts Options) *Orchestrator {
	return &Orchestrator{
		store:      store,
		runner:     r,
		collectors: collectors,
		summarizer: summarizer,
		opts:       opts,
		client:     &http.Client{Timeout: handoffTimeout},
		now:        time.Now,
	}
}

// Claim attempts to claim the run for a date. The winner is responsible
// for executing the collect phase; losers get the current holder's state.
func (o *Orchestrator) Claim(runDate string) (*database.ClaimResult, error) {
	return o.store.ClaimOrGetRun(runDate)
}

// RunCollectPhase executes collection for a claimed run. Zero collected
// items is terminal: the run fails without a summarization attempt.
// Otherwise the run moves to analyzing and the analysis phase is handed
// off, falling back to inline execution when the hand-off fails.
func (o *Orchestrator) RunCollectPhase(ctx context.Context, runID, runDate string) {
	log.Printf("Run %s: collect phase starting for %s", runID, runDate)

	result := o.runner.Run(ctx, runDate, o.collectors)

	if len(result.Items) == 0 {
		log.Printf("Run %s: no items collected, failing run", runID)
		if err := o.store.MarkRunFailed(runID, result.Health); err != nil {
			log.Printf("Run %s: failed to record failure: %v", runID, err)
		}
		return
	}

	if err := o.store.MarkRunAnalyzing(runID, result.Health, len(result.Items)); err != nil {
		log.Printf("Run %s: failed to transition to analyzing: %v", runID, err)
		return
	}

	if err := o.triggerAnalysis(ctx, runID); err != nil {
		log.Printf("Run %s: analysis hand-off failed, running inline: %v", runID, err)
		o.RunAnalysisPhase(ctx, runID)
	}
}

// triggerAnalysis posts the run id to the internal analysis endpoint so
// the phase runs with a fresh execution budget.
func (o *Orchestrator) triggerAnalysis(ctx context.Context, runID string) error {
	if o.opts.AppURL == "" || o.opts.Secret == "" {
		return fmt.Errorf("hand-off not configured")
	}

	body, err := json.Marshal(map[string]string{"run_id": runID})
	if err != nil {
		return fmt.Errorf("encoding hand-off body: %w", err)
	}

	hctx, cancel := context.WithTimeout(ctx, handoffTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(hctx, "POST", o.opts.AppURL+"/internal/analyze", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating hand-off request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Internal-Secret", o.opts.Secret)

	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting hand-off: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("hand-off endpoint returned %d", resp.StatusCode)
	}

	log.Printf("Run %s: analysis handed off", runID)
	return nil
}

// RunAnalysisPhase summarizes a run's collected items and completes it.
// Any failure marks the run failed; errors are terminal run state, never
// re-raised to the caller.
func (o *Orchestrator) RunAnalysisPhase(ctx context.Context, runID string) {
	started := o.now()

	run, err := o.store.GetRun(runID)
	if err != nil || run == nil {
		log.Printf("Run %s: cannot load run for analysis: %v", runID, err)
		return
	}
	if run.Status != database.StatusAnalyzing {
		log.Printf("Run %s: analysis requested in status %s, skipping", runID, run.Status)
		return
	}

	log.Printf("Run %s: analysis phase starting for %s", runID, run.RunDate)

	output, err := o.analyzeRun(ctx, run.RunDate)
	if err != nil {
		log.Printf("Run %s: analysis failed: %v", runID, err)
		if err := o.store.MarkRunFailed(runID, nil); err != nil {
			log.Printf("Run %s: failed to record failure: %v", runID, err)
		}
		return
	}

	seconds := int(o.now().Sub(started).Seconds())
	if err := o.store.SaveRunAnalysis(runID, output, o.opts.ModelUsed, seconds); err != nil {
		log.Printf("Run %s: failed to save analysis: %v", runID, err)
		if err := o.store.MarkRunFailed(runID, nil); err != nil {
			log.Printf("Run %s: failed to record failure: %v", runID, err)
		}
		return
	}

	log.Printf("Run %s: completed in %ds (%d items)", runID, seconds, run.TotalItems)

	// Housekeeping after completion. Neither failure touches run state.
	o.sweep()
	o.notifyCompleted(ctx, run.RunDate, run.TotalItems, output.Highlights)
}

// analyzeRun reloads the run's items from the collector cache and
// summarizes them in a single call.
func (o *Orchestrator) analyzeRun(ctx context.Context, runDate string) (*digest.Output, error) {
	if o.summarizer == nil {
		return nil, fmt.Errorf("no summarizer configured")
	}

	cached, err := o.store.GetCollectorItems(runDate)
	if err != nil {
		return nil, fmt.Errorf("loading collected items: %w", err)
	}

	var items []digest.Item
	for _, sourceItems := range cached {
		items = append(items, sourceItems...)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("no collected items for %s", runDate)
	}

	return o.summarizer.Summarize(ctx, items)
}

func (o *Orchestrator) sweep() {
	if o.opts.RetentionDays <= 0 {
		return
	}

	now := o.now()
	cutoff := now.AddDate(0, 0, -o.opts.RetentionDays)
	result, err := o.store.SweepOlderThan(cutoff, now)
	if err != nil {
		log.Printf("Retention sweep failed: %v", err)
		return
	}
	if result.Runs > 0 || result.CollectorRows > 0 || result.FetchRows > 0 || result.AnalysisRows > 0 {
		log.Printf("Retention sweep: %d runs, %d collector rows, %d fetch rows, %d analysis rows removed",
			result.Runs, result.CollectorRows, result.FetchRows, result.AnalysisRows)
	}
}

func (o *Orchestrator) notifyCompleted(ctx context.Context, runDate string, totalItems int, highlights []string) {
	if o.opts.Notifier == nil {
		return
	}
	if err := o.opts.Notifier.NotifyCompleted(ctx, runDate, totalItems, highlights); err != nil {
		log.Printf("Notification failed for %s: %v", runDate, err)
	}
}
