package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Snapshot is the latest known content hash of a tracked path.
type Snapshot struct {
	Path      string    `json:"path" yaml:"path"`
	SHA       string    `json:"sha" yaml:"sha"`
	RecordID  string    `json:"record_id" yaml:"record_id"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// FetchSnapshot returns the latest hash recorded for path. ok is false when
// the path is untracked or was last recorded as deleted.
func (e *Engine) FetchSnapshot(path string) (sha string, ok bool, err error) {
	return e.FetchSnapshotContext(context.Background(), path)
}

// FetchSnapshotContext is FetchSnapshot with a context.
func (e *Engine) FetchSnapshotContext(ctx context.Context, path string) (string, bool, error) {
	var sha string
	err := e.db.QueryRowContext(ctx, `SELECT sha FROM latest_snapshots WHERE path = ?`, path).Scan(&sha)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to fetch snapshot for %s: %w", path, err)
	}
	return sha, true, nil
}

// ListSnapshots returns every tracked path ordered by path.
func (e *Engine) ListSnapshots(ctx context.Context) ([]Snapshot, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT path, sha, record_id, updated_at
		FROM latest_snapshots
		ORDER BY path
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []Snapshot
	for rows.Next() {
		var s Snapshot
		var updatedAt int64
		if err := rows.Scan(&s.Path, &s.SHA, &s.RecordID, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		s.UpdatedAt = time.UnixMilli(updatedAt)
		snapshots = append(snapshots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}
	return snapshots, nil
}

// SnapshotCount returns the number of tracked paths.
func (e *Engine) SnapshotCount(ctx context.Context) (int, error) {
	var n int
	if err := e.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM latest_snapshots`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count snapshots: %w", err)
	}
	return n, nil
}
