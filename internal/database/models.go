package database

import "github.com/TobiSchelling/AIDigest/internal/digest"

// Run statuses. Transitions are forward-only:
// collecting -> analyzing -> completed | failed, collecting -> failed.
const (
	StatusCollecting = "collecting"
	StatusAnalyzing  = "analyzing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Run is one logical aggregation unit for a run date.
type Run struct {
	ID                    string
	RunDate               string
	Status                string
	SourceHealth          map[string]string
	TotalItems            int
	ExecutiveSummary      *string
	Items                 []digest.ReportItem
	Highlights            []string
	Keywords              []string
	CategoryCounts        map[string]int
	SourceCounts          map[string]int
	ModelUsed             *string
	ProcessingTimeSeconds int
	CreatedAt             string
	UpdatedAt             string
}

// Terminal reports whether the run has reached a terminal status.
func (r *Run) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}

// ClaimResult is the outcome of a claim attempt for a run date.
type ClaimResult struct {
	Claimed bool
	RunID   string
	Status  string
}

// Stats contains aggregate database statistics.
type Stats struct {
	TotalRuns         int
	CompletedRuns     int
	FailedRuns        int
	CollectorRows     int
	FetchCacheRows    int
	AnalysisCacheRows int
}
