package database

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/TobiSchelling/AIDigest/internal/digest"
)

// ClaimOrGetRun atomically claims the run for a date, or returns the
// existing run's id and status. The INSERT with ON CONFLICT DO NOTHING is a
// single indivisible insert-if-absent: under concurrent callers exactly one
// insert takes effect, so exactly one caller observes Claimed=true.
func (db *DB) ClaimOrGetRun(runDate string) (*ClaimResult, error) {
	id := uuid.NewString()

	result, err := db.conn.Exec(
		`INSERT INTO runs (id, run_date, status) VALUES (?, ?, ?)
		ON CONFLICT(run_date) DO NOTHING`,
		id, runDate, StatusCollecting,
	)
	if err != nil {
		return nil, fmt.Errorf("claiming run for %s: %w", runDate, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("claiming run for %s: %w", runDate, err)
	}
	if affected == 1 {
		return &ClaimResult{Claimed: true, RunID: id, Status: StatusCollecting}, nil
	}

	// Lost the race (or a run already exists); report the current holder.
	row := db.conn.QueryRow("SELECT id, status FROM runs WHERE run_date = ?", runDate)
	var existing ClaimResult
	if err := row.Scan(&existing.RunID, &existing.Status); err != nil {
		return nil, fmt.Errorf("reading existing run for %s: %w", runDate, err)
	}
	return &existing, nil
}

const runColumns = `id, run_date, status, source_health, total_items,
	executive_summary, items, highlights, keywords, category_counts,
	source_counts, model_used, processing_time_seconds, created_at, updated_at`

// GetRun returns the run with the given id, or nil if none exists.
func (db *DB) GetRun(id string) (*Run, error) {
	row := db.conn.QueryRow("SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	return scanRun(row)
}

// GetRunByDate returns the run for a date, or nil if none exists.
func (db *DB) GetRunByDate(runDate string) (*Run, error) {
	row := db.conn.QueryRow("SELECT "+runColumns+" FROM runs WHERE run_date = ?", runDate)
	return scanRun(row)
}

// MarkRunAnalyzing transitions a run from collecting to analyzing and
// records collection results.
func (db *DB) MarkRunAnalyzing(id string, sourceHealth map[string]string, totalItems int) error {
	health, err := json.Marshal(sourceHealth)
	if err != nil {
		return fmt.Errorf("encoding source health: %w", err)
	}

	// Guarding on the current status keeps transitions forward-only.
	result, err := db.conn.Exec(
		`UPDATE runs SET status = ?, source_health = ?, total_items = ?,
		updated_at = datetime('now') WHERE id = ? AND status = ?`,
		StatusAnalyzing, string(health), totalItems, id, StatusCollecting,
	)
	if err != nil {
		return fmt.Errorf("marking run %s analyzing: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s is not in %s state", id, StatusCollecting)
	}
	return nil
}

// MarkRunFailed transitions a non-terminal run to failed. Optionally records
// source health gathered before the failure.
func (db *DB) MarkRunFailed(id string, sourceHealth map[string]string) error {
	var err error
	if sourceHealth != nil {
		var health []byte
		health, err = json.Marshal(sourceHealth)
		if err != nil {
			return fmt.Errorf("encoding source health: %w", err)
		}
		_, err = db.conn.Exec(
			`UPDATE runs SET status = ?, source_health = ?, updated_at = datetime('now')
			WHERE id = ? AND status IN (?, ?)`,
			StatusFailed, string(health), id, StatusCollecting, StatusAnalyzing,
		)
	} else {
		_, err = db.conn.Exec(
			`UPDATE runs SET status = ?, updated_at = datetime('now')
			WHERE id = ? AND status IN (?, ?)`,
			StatusFailed, id, StatusCollecting, StatusAnalyzing,
		)
	}
	if err != nil {
		return fmt.Errorf("marking run %s failed: %w", id, err)
	}
	return nil
}

// SaveRunAnalysis transitions a run from analyzing to completed and stores
// the structured analysis output.
func (db *DB) SaveRunAnalysis(id string, out *digest.Output, modelUsed string, processingSeconds int) error {
	items, err := json.Marshal(out.Items)
	if err != nil {
		return fmt.Errorf("encoding items: %w", err)
	}
	highlights, _ := json.Marshal(out.Highlights)
	keywords, _ := json.Marshal(out.Keywords)
	categoryCounts, _ := json.Marshal(out.CategoryCounts)
	sourceCounts, _ := json.Marshal(out.SourceCounts)

	result, err := db.conn.Exec(
		`UPDATE runs SET status = ?, executive_summary = ?, items = ?,
		highlights = ?, keywords = ?, category_counts = ?, source_counts = ?,
		model_used = ?, processing_time_seconds = ?, updated_at = datetime('now')
		WHERE id = ? AND status = ?`,
		StatusCompleted, out.ExecutiveSummary, string(items),
		string(highlights), string(keywords), string(categoryCounts), string(sourceCounts),
		modelUsed, processingSeconds, id, StatusAnalyzing,
	)
	if err != nil {
		return fmt.Errorf("saving analysis for run %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s is not in %s state", id, StatusAnalyzing)
	}
	return nil
}

// DeleteRunByDate removes the run for a date. Used by the --force rerun path.
func (db *DB) DeleteRunByDate(runDate string) error {
	if _, err := db.conn.Exec("DELETE FROM runs WHERE run_date = ?", runDate); err != nil {
		return fmt.Errorf("deleting run for %s: %w", runDate, err)
	}
	return nil
}

// GetStats returns aggregate database statistics.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{}

	queries := []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(*) FROM runs", &s.TotalRuns},
		{"SELECT COUNT(*) FROM runs WHERE status = 'completed'", &s.CompletedRuns},
		{"SELECT COUNT(*) FROM runs WHERE status = 'failed'", &s.FailedRuns},
		{"SELECT COUNT(*) FROM collector_cache", &s.CollectorRows},
		{"SELECT COUNT(*) FROM fetch_cache", &s.FetchCacheRows},
		{"SELECT COUNT(*) FROM analysis_cache", &s.AnalysisCacheRows},
	}

	for _, q := range queries {
		if err := db.conn.QueryRow(q.sql).Scan(q.dest); err != nil {
			return nil, err
		}
	}

	return s, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var r Run
	var health string
	var items, highlights, keywords, categoryCounts, sourceCounts sql.NullString

	err := row.Scan(&r.ID, &r.RunDate, &r.Status, &health, &r.TotalItems,
		&r.ExecutiveSummary, &items, &highlights, &keywords, &categoryCounts,
		&sourceCounts, &r.ModelUsed, &r.ProcessingTimeSeconds, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	if err := json.Unmarshal([]byte(health), &r.SourceHealth); err != nil {
		r.SourceHealth = map[string]string{}
	}
	if items.Valid {
		json.Unmarshal([]byte(items.String), &r.Items)
	}
	if highlights.Valid {
		json.Unmarshal([]byte(highlights.String), &r.Highlights)
	}
	if keywords.Valid {
		json.Unmarshal([]byte(keywords.String), &r.Keywords)
	}
	if categoryCounts.Valid {
		json.Unmarshal([]byte(categoryCounts.String), &r.CategoryCounts)
	}
	if sourceCounts.Valid {
		json.Unmarshal([]byte(sourceCounts.String), &r.SourceCounts)
	}

	return &r, nil
}
