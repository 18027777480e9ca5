package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/TobiSchelling/AIDigest/internal/digest"
)

// UpsertCollectorItems stores one source's collected items for a run date.
func (db *DB) UpsertCollectorItems(runDate, source string, items []digest.Item) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encoding %s items: %w", source, err)
	}

	_, err = db.conn.Exec(
		`INSERT INTO collector_cache (run_date, source, items, item_count, collected_at)
		VALUES (?, ?, ?, ?, datetime('now'))
		ON CONFLICT(run_date, source) DO UPDATE SET
			items = excluded.items,
			item_count = excluded.item_count,
			collected_at = excluded.collected_at`,
		runDate, source, string(data), len(items),
	)
	if err != nil {
		return fmt.Errorf("caching %s items for %s: %w", source, runDate, err)
	}
	return nil
}

// GetCollectorItems returns all cached collector output for a run date,
// keyed by source.
func (db *DB) GetCollectorItems(runDate string) (map[string][]digest.Item, error) {
	rows, err := db.conn.Query(
		"SELECT source, items FROM collector_cache WHERE run_date = ?", runDate,
	)
	if err != nil {
		return nil, fmt.Errorf("reading collector cache for %s: %w", runDate, err)
	}
	defer rows.Close()

	result := make(map[string][]digest.Item)
	for rows.Next() {
		var source, data string
		if err := rows.Scan(&source, &data); err != nil {
			return nil, err
		}
		var items []digest.Item
		if err := json.Unmarshal([]byte(data), &items); err != nil {
			return nil, fmt.Errorf("decoding cached %s items: %w", source, err)
		}
		result[source] = items
	}
	return result, rows.Err()
}

// GetFetchRow returns the cached fetch payload if present and unexpired at
// the given instant, or nil on a miss.
func (db *DB) GetFetchRow(queryNorm, timeRange, source string, now time.Time) ([]byte, error) {
	row := db.conn.QueryRow(
		`SELECT data FROM fetch_cache
		WHERE query_normalized = ? AND time_range = ? AND source = ? AND expires_at > ?`,
		queryNorm, timeRange, source, Timestamp(now),
	)
	var data string
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return []byte(data), nil
}

// UpsertFetchRow stores a fetch payload under its composite key.
func (db *DB) UpsertFetchRow(queryNorm, timeRange, source string, data []byte, itemCount int, expiresAt time.Time) error {
	_, err := db.conn.Exec(
		`INSERT INTO fetch_cache (query_normalized, time_range, source, data, item_count, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(query_normalized, time_range, source) DO UPDATE SET
			data = excluded.data,
			item_count = excluded.item_count,
			expires_at = excluded.expires_at`,
		queryNorm, timeRange, source, string(data), itemCount, Timestamp(expiresAt),
	)
	return err
}

// GetAnalysisRow returns the cached analysis payload if present and
// unexpired, or nil on a miss.
func (db *DB) GetAnalysisRow(queryNorm, timeRange string, now time.Time) ([]byte, error) {
	row := db.conn.QueryRow(
		`SELECT report FROM analysis_cache
		WHERE query_normalized = ? AND time_range = ? AND expires_at > ?`,
		queryNorm, timeRange, Timestamp(now),
	)
	var report string
	if err := row.Scan(&report); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return []byte(report), nil
}

// UpsertAnalysisRow stores an analysis payload under its composite key.
func (db *DB) UpsertAnalysisRow(queryNorm, timeRange string, report []byte, expiresAt time.Time) error {
	_, err := db.conn.Exec(
		`INSERT INTO analysis_cache (query_normalized, time_range, report, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(query_normalized, time_range) DO UPDATE SET
			report = excluded.report,
			expires_at = excluded.expires_at`,
		queryNorm, timeRange, string(report), Timestamp(expiresAt),
	)
	return err
}

// SweepResult reports what a retention sweep removed.
type SweepResult struct {
	Runs          int64
	CollectorRows int64
	FetchRows     int64
	AnalysisRows  int64
}

// SweepOlderThan deletes runs and collector cache rows created before the
// cutoff, plus any fetch/analysis cache rows that have expired by now.
func (db *DB) SweepOlderThan(cutoff, now time.Time) (*SweepResult, error) {
	r := &SweepResult{}

	res, err := db.conn.Exec("DELETE FROM runs WHERE created_at < ?", Timestamp(cutoff))
	if err != nil {
		return nil, fmt.Errorf("sweeping runs: %w", err)
	}
	r.Runs, _ = res.RowsAffected()

	res, err = db.conn.Exec("DELETE FROM collector_cache WHERE collected_at < ?", Timestamp(cutoff))
	if err != nil {
		return nil, fmt.Errorf("sweeping collector cache: %w", err)
	}
	r.CollectorRows, _ = res.RowsAffected()

	res, err = db.conn.Exec("DELETE FROM fetch_cache WHERE expires_at <= ?", Timestamp(now))
	if err != nil {
		return nil, fmt.Errorf("sweeping fetch cache: %w", err)
	}
	r.FetchRows, _ = res.RowsAffected()

	res, err = db.conn.Exec("DELETE FROM analysis_cache WHERE expires_at <= ?", Timestamp(now))
	if err != nil {
		return nil, fmt.Errorf("sweeping analysis cache: %w", err)
	}
	r.AnalysisRows, _ = res.RowsAffected()

	return r, nil
}
