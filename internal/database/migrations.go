package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    run_date TEXT UNIQUE NOT NULL,
    status TEXT NOT NULL CHECK(status IN ('collecting', 'analyzing', 'completed', 'failed')),
    source_health TEXT NOT NULL DEFAULT '{}',
    total_items INTEGER NOT NULL DEFAULT 0,
    executive_summary TEXT,
    items TEXT,
    highlights TEXT,
    keywords TEXT,
    category_counts TEXT,
    source_counts TEXT,
    model_used TEXT,
    processing_time_seconds INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS collector_cache (
    run_date TEXT NOT NULL,
    source TEXT NOT NULL,
    items TEXT NOT NULL,
    item_count INTEGER NOT NULL DEFAULT 0,
    collected_at TEXT NOT NULL DEFAULT (datetime('now')),
    PRIMARY KEY (run_date, source)
);

CREATE TABLE IF NOT EXISTS fetch_cache (
    query_normalized TEXT NOT NULL,
    time_range TEXT NOT NULL,
    source TEXT NOT NULL,
    data TEXT NOT NULL,
    item_count INTEGER NOT NULL DEFAULT 0,
    expires_at TEXT NOT NULL,
    PRIMARY KEY (query_normalized, time_range, source)
);

CREATE TABLE IF NOT EXISTS analysis_cache (
    query_normalized TEXT NOT NULL,
    time_range TEXT NOT NULL,
    report TEXT NOT NULL,
    expires_at TEXT NOT NULL,
    PRIMARY KEY (query_normalized, time_range)
);

CREATE INDEX IF NOT EXISTS idx_runs_date ON runs(run_date);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
CREATE INDEX IF NOT EXISTS idx_collector_cache_collected ON collector_cache(collected_at);
CREATE INDEX IF NOT EXISTS idx_fetch_cache_expires ON fetch_cache(expires_at);
CREATE INDEX IF NOT EXISTS idx_analysis_cache_expires ON analysis_cache(expires_at);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
