// Package runner executes a set of collectors concurrently with per-source
// fault isolation, consulting and populating the per-run collector cache.
package runner

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/TobiSchelling/AIDigest/internal/collector"
	"github.com/TobiSchelling/AIDigest/internal/digest"
)

const defaultTimeout = 30 * time.Second

// Store is the collector-cache persistence the runner needs (implemented
// by database.DB).
type Store interface {
	GetCollectorItems(runDate string) (map[string][]digest.Item, error)
	UpsertCollectorItems(runDate, source string, items []digest.Item) error
}

// Result holds the merged output of one collection run.
type Result struct {
	Items  []digest.Item
	Health map[string]string
}

// Runner fans out to collectors and merges their output.
type Runner struct {
	store   Store
	timeout time.Duration
}

// New creates a runner. timeout bounds each individual collector call;
// zero means the default.
func New(store Store, timeout time.Duration) *Runner {
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &Runner{store: store, timeout: timeout}
}

type collectorOutcome struct {
	name  string
	items []digest.Item
	err   error
}

// Run executes all collectors for a run date. Sources already present in
// the collector cache are served from it without a network call. Cache
// misses run concurrently; a failing collector is recorded in the health
// map and contributes zero items, never aborting its siblings.
func (r *Runner) Run(ctx context.Context, runDate string, collectors []collector.Collector) *Result {
	result := &Result{Health: make(map[string]string)}

	cached, err := r.store.GetCollectorItems(runDate)
	if err != nil {
		// Treat an unreadable cache as empty; every collector just runs.
		log.Printf("Collector cache read failed for %s: %v", runDate, err)
		cached = map[string][]digest.Item{}
	}

	known := make(map[string]struct{}, len(collectors))
	var toRun []collector.Collector
	for _, c := range collectors {
		known[c.Name()] = struct{}{}
		if items, ok := cached[c.Name()]; ok {
			result.Items = append(result.Items, items...)
			result.Health[c.Name()] = "ok (cached)"
			continue
		}
		toRun = append(toRun, c)
	}

	if len(toRun) == 0 {
		return result
	}

	outcomes := make(chan collectorOutcome, len(toRun))
	for _, c := range toRun {
		go func(c collector.Collector) {
			outcomes <- r.collectOne(ctx, c)
		}(c)
	}

	for range toRun {
		out := <-outcomes
		if out.err != nil {
			log.Printf("Collector %s failed: %v", out.name, out.err)
			result.Health[out.name] = fmt.Sprintf("failed: %v", out.err)
			continue
		}

		result.Health[out.name] = "ok"
		result.Items = append(result.Items, out.items...)

		if err := r.store.UpsertCollectorItems(runDate, out.name, out.items); err != nil {
			log.Printf("Failed to cache %s results: %v", out.name, err)
		}
	}

	// Items claiming a source no collector owns are dropped.
	result.Items = filterKnown(result.Items, known)

	log.Printf("Collection run for %s: %d items from %d sources",
		runDate, len(result.Items), len(collectors))
	return result
}

// collectOne runs a single collector under its own timeout, converting
// panics into recorded failures so one bad source cannot take down the run.
func (r *Runner) collectOne(ctx context.Context, c collector.Collector) (out collectorOutcome) {
	out.name = c.Name()

	defer func() {
		if rec := recover(); rec != nil {
			out.items = nil
			out.err = fmt.Errorf("panic: %v", rec)
		}
	}()

	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	items, err := c.Collect(cctx)
	if err != nil {
		out.err = err
		return out
	}

	valid := items[:0]
	for _, item := range items {
		if err := item.Validate(); err != nil {
			log.Printf("Dropping invalid item from %s: %v", c.Name(), err)
			continue
		}
		valid = append(valid, item)
	}
	out.items = valid
	return out
}

func filterKnown(items []digest.Item, known map[string]struct{}) []digest.Item {
	kept := items[:0]
	for _, item := range items {
		if _, ok := known[item.Source]; ok {
			kept = append(kept, item)
		} else {
			log.Printf("Dropping item with unknown source %q: %s", item.Source, item.Title)
		}
	}
	return kept
}
