// Package cache implements the two-tier query cache: per-source fetch
// batches and fully assembled analysis reports, both TTL-keyed on the
// normalized query and time range. The cache fails open: storage errors
// read as misses and dropped writes, never as pipeline failures.
package cache

import (
	"encoding/json"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/TobiSchelling/AIDigest/internal/digest"
)

// TimeRange values accepted by the analysis path.
const (
	RangeDay   = "day"
	RangeWeek  = "week"
	RangeMonth = "month"
	RangeYear  = "year"
)

// Store is the persistence layer beneath the cache (implemented by
// database.DB).
type Store interface {
	GetFetchRow(queryNorm, timeRange, source string, now time.Time) ([]byte, error)
	UpsertFetchRow(queryNorm, timeRange, source string, data []byte, itemCount int, expiresAt time.Time) error
	GetAnalysisRow(queryNorm, timeRange string, now time.Time) ([]byte, error)
	UpsertAnalysisRow(queryNorm, timeRange string, report []byte, expiresAt time.Time) error
}

// TTLs scale with the range width: fresher ranges go stale faster relative
// to their own granularity.
var ttls = map[string]time.Duration{
	RangeDay:   12 * time.Hour,
	RangeWeek:  24 * time.Hour,
	RangeMonth: 3 * 24 * time.Hour,
	RangeYear:  7 * 24 * time.Hour,
}

// fetchLimits is the per-source item budget, monotonically non-decreasing
// as the range widens.
var fetchLimits = map[string]map[string]int{
	RangeDay:   {"github": 5, "hackernews": 10, "bluesky": 10},
	RangeWeek:  {"github": 10, "hackernews": 15, "bluesky": 15},
	RangeMonth: {"github": 15, "hackernews": 25, "bluesky": 20},
	RangeYear:  {"github": 20, "hackernews": 35, "bluesky": 25},
}

// rangeWindows maps a time range to its lookback duration.
var rangeWindows = map[string]time.Duration{
	RangeDay:   24 * time.Hour,
	RangeWeek:  7 * 24 * time.Hour,
	RangeMonth: 30 * 24 * time.Hour,
	RangeYear:  365 * 24 * time.Hour,
}

var multiSpace = regexp.MustCompile(`\s+`)

// Normalize canonicalizes a query for cache keying: lowercase, trim, and
// collapse internal whitespace runs to a single space.
func Normalize(query string) string {
	return multiSpace.ReplaceAllString(strings.ToLower(strings.TrimSpace(query)), " ")
}

// TTL returns the cache TTL for a time range, defaulting to the week TTL
// for unknown ranges.
func TTL(timeRange string) time.Duration {
	if ttl, ok := ttls[timeRange]; ok {
		return ttl
	}
	return ttls[RangeWeek]
}

// FetchLimits returns the per-source fetch limits for a time range,
// defaulting to the week limits for unknown ranges.
func FetchLimits(timeRange string) map[string]int {
	if limits, ok := fetchLimits[timeRange]; ok {
		return limits
	}
	return fetchLimits[RangeWeek]
}

// RangeWindow returns the lookback duration for a time range, defaulting
// to the week window for unknown ranges.
func RangeWindow(timeRange string) time.Duration {
	if w, ok := rangeWindows[timeRange]; ok {
		return w
	}
	return rangeWindows[RangeWeek]
}

// Ranges returns the known time ranges from narrowest to widest.
func Ranges() []string {
	return []string{RangeDay, RangeWeek, RangeMonth, RangeYear}
}

// Tiered is the two-namespace cache over a Store.
type Tiered struct {
	store Store
	now   func() time.Time
}

// New creates a tiered cache backed by the given store.
func New(store Store) *Tiered {
	return &Tiered{store: store, now: time.Now}
}

// GetFetch returns the cached item batch for (query, timeRange, source),
// or (nil, false) on a miss. Storage errors are treated as misses.
func (t *Tiered) GetFetch(query, timeRange, source string) ([]digest.Item, bool) {
	norm := Normalize(query)

	data, err := t.store.GetFetchRow(norm, timeRange, source, t.now())
	if err != nil {
		log.Printf("Fetch cache read failed for %s/%s/%s: %v", source, timeRange, norm, err)
		return nil, false
	}
	if data == nil {
		log.Printf("Cache MISS [fetch] %s/%s/%s", source, timeRange, norm)
		return nil, false
	}

	var items []digest.Item
	if err := json.Unmarshal(data, &items); err != nil {
		log.Printf("Fetch cache decode failed for %s/%s/%s: %v", source, timeRange, norm, err)
		return nil, false
	}

	log.Printf("Cache HIT [fetch] %s/%s/%s (%d items)", source, timeRange, norm, len(items))
	return items, true
}

// SetFetch stores an item batch. Write errors are logged and swallowed:
// losing a cache write degrades performance, not correctness.
func (t *Tiered) SetFetch(query, timeRange, source string, items []digest.Item) {
	norm := Normalize(query)

	data, err := json.Marshal(items)
	if err != nil {
		log.Printf("Fetch cache encode failed for %s/%s/%s: %v", source, timeRange, norm, err)
		return
	}

	expiresAt := t.now().Add(TTL(timeRange))
	if err := t.store.UpsertFetchRow(norm, timeRange, source, data, len(items), expiresAt); err != nil {
		log.Printf("Fetch cache write failed for %s/%s/%s: %v", source, timeRange, norm, err)
		return
	}
	log.Printf("Cache SET [fetch] %s/%s/%s (%d items, TTL %s)",
		source, timeRange, norm, len(items), TTL(timeRange))
}

// GetAnalysis returns the cached report payload for (query, timeRange), or
// (nil, false) on a miss. The caller decodes the payload.
func (t *Tiered) GetAnalysis(query, timeRange string) ([]byte, bool) {
	norm := Normalize(query)

	data, err := t.store.GetAnalysisRow(norm, timeRange, t.now())
	if err != nil {
		log.Printf("Analysis cache read failed for %s/%s: %v", timeRange, norm, err)
		return nil, false
	}
	if data == nil {
		log.Printf("Cache MISS [analysis] %s/%s", timeRange, norm)
		return nil, false
	}

	log.Printf("Cache HIT [analysis] %s/%s", timeRange, norm)
	return data, true
}

// SetAnalysis stores an encoded report. Write errors are logged and
// swallowed.
func (t *Tiered) SetAnalysis(query, timeRange string, report []byte) {
	norm := Normalize(query)

	expiresAt := t.now().Add(TTL(timeRange))
	if err := t.store.UpsertAnalysisRow(norm, timeRange, report, expiresAt); err != nil {
		log.Printf("Analysis cache write failed for %s/%s: %v", timeRange, norm, err)
		return
	}
	log.Printf("Cache SET [analysis] %s/%s (TTL %s)", timeRange, norm, TTL(timeRange))
}
