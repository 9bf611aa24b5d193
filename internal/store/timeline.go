package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chronodiff/chronodiff/internal/schema"
)

// TimelineQuery selects records by end time. Zero bounds are open.
type TimelineQuery struct {
	// Limit caps the number of entries. Zero or less returns all of them.
	Limit int
	From  time.Time
	To    time.Time
}

// Timeline returns records ordered newest first.
func (e *Engine) Timeline(q TimelineQuery) ([]schema.TimelineEntry, error) {
	return e.TimelineContext(context.Background(), q)
}

// TimelineContext is Timeline with a context.
func (e *Engine) TimelineContext(ctx context.Context, q TimelineQuery) ([]schema.TimelineEntry, error) {
	var (
		where []string
		args  []any
	)
	if !q.From.IsZero() {
		where = append(where, "ts_end >= ?")
		args = append(args, q.From.UnixMilli())
	}
	if !q.To.IsZero() {
		where = append(where, "ts_end <= ?")
		args = append(args, q.To.UnixMilli())
	}

	query := `SELECT record_id, ts_end, stats_json, duration_ms FROM records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts_end DESC, record_id DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query timeline: %w", err)
	}
	defer rows.Close()

	var entries []schema.TimelineEntry
	for rows.Next() {
		var (
			entry     schema.TimelineEntry
			tsEnd     int64
			statsJSON string
		)
		if err := rows.Scan(&entry.RecordID, &tsEnd, &statsJSON, &entry.DurationMS); err != nil {
			return nil, fmt.Errorf("failed to scan timeline row: %w", err)
		}

		var stats schema.RecordStats
		if err := json.Unmarshal([]byte(statsJSON), &stats); err != nil {
			return nil, fmt.Errorf("%w: stats for record %s: %v", ErrCorrupt, entry.RecordID, err)
		}
		entry.Timestamp = time.UnixMilli(tsEnd)
		entry.Files = stats.Files
		entry.LinesAdded = stats.LinesAdded
		entry.LinesRemoved = stats.LinesRemoved
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating timeline: %w", err)
	}

	return entries, nil
}

// LatestRecordID returns the id of the most recent record. ok is false when
// the project has no records yet.
func (e *Engine) LatestRecordID() (id string, ok bool, err error) {
	return e.LatestRecordIDContext(context.Background())
}

// LatestRecordIDContext is LatestRecordID with a context.
func (e *Engine) LatestRecordIDContext(ctx context.Context) (string, bool, error) {
	var id string
	err := e.db.QueryRowContext(ctx,
		`SELECT record_id FROM records ORDER BY ts_end DESC, record_id DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query latest record: %w", err)
	}
	return id, true, nil
}
