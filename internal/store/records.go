package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/chronodiff/chronodiff/internal/codec"
	"github.com/chronodiff/chronodiff/internal/digest"
	"github.com/chronodiff/chronodiff/internal/patch"
	"github.com/chronodiff/chronodiff/internal/schema"
)

// CommitRecord persists a record atomically.
//
// Record files and blobs are written first. A single transaction then
// inserts the record row and updates latest_snapshots: added and modified
// paths are upserted with their after hash, deleted paths are removed.
// If the transaction fails no row becomes visible; files already written
// are overwritten on retry.
//
// A record id that is already committed yields ErrRecordExists and writes
// nothing.
func (e *Engine) CommitRecord(meta *schema.RecordMeta, compressedPatch []byte, artifacts []*patch.Artifact) error {
	return e.CommitRecordContext(context.Background(), meta, compressedPatch, artifacts)
}

// CommitRecordContext is CommitRecord with a context for the database work.
func (e *Engine) CommitRecordContext(ctx context.Context, meta *schema.RecordMeta, compressedPatch []byte, artifacts []*patch.Artifact) error {
	if meta == nil {
		return fmt.Errorf("record cannot be nil")
	}
	if err := meta.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}
	if !digest.ValidHex(meta.RecordID) {
		return fmt.Errorf("invalid record id %q", meta.RecordID)
	}
	if meta.ProjectID != e.projectID {
		return fmt.Errorf("record %s belongs to project %s, not %s", meta.RecordID, meta.ProjectID, e.projectID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.db == nil {
		return fmt.Errorf("storage is closed")
	}

	exists, err := e.recordExists(ctx, meta.RecordID)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrRecordExists, meta.RecordID)
	}

	if err := e.writeRecordFiles(meta, compressedPatch, artifacts); err != nil {
		return err
	}

	filesJSON, err := json.Marshal(meta.Files)
	if err != nil {
		return fmt.Errorf("failed to marshal files: %w", err)
	}
	statsJSON, err := json.Marshal(meta.Stats)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO records (
			record_id, project_id, ts_start, ts_end, files_json, stats_json,
			prev_record_id, diff_hash, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		meta.RecordID,
		meta.ProjectID,
		meta.StartedAt.UnixMilli(),
		meta.EndedAt.UnixMilli(),
		string(filesJSON),
		string(statsJSON),
		nullString(meta.PrevRecordID),
		digest.Bytes(compressedPatch),
		meta.Duration().Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}

	updatedAt := meta.EndedAt.UnixMilli()
	for _, f := range meta.Files {
		if f.Op == schema.OpDeleted {
			if _, err := tx.ExecContext(ctx, `DELETE FROM latest_snapshots WHERE path = ?`, f.Path); err != nil {
				return fmt.Errorf("failed to clear snapshot for %s: %w", f.Path, err)
			}
			continue
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO latest_snapshots (path, sha, record_id, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(path) DO UPDATE SET
				sha = excluded.sha,
				record_id = excluded.record_id,
				updated_at = excluded.updated_at
		`, f.Path, f.AfterSHA, meta.RecordID, updatedAt)
		if err != nil {
			return fmt.Errorf("failed to update snapshot for %s: %w", f.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit record: %w", err)
	}

	e.logger.Debug("committed record",
		"record", meta.RecordID,
		"files", meta.Stats.Files,
		"added", meta.Stats.LinesAdded,
		"removed", meta.Stats.LinesRemoved)
	return nil
}

func (e *Engine) writeRecordFiles(meta *schema.RecordMeta, compressedPatch []byte, artifacts []*patch.Artifact) error {
	if err := os.MkdirAll(e.layout.RecordDir(meta.RecordID), 0755); err != nil {
		return fmt.Errorf("failed to create record directory: %w", err)
	}

	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record metadata: %w", err)
	}
	if err := writeFileAtomic(e.layout.MetaFile(meta.RecordID), append(metaJSON, '\n')); err != nil {
		return fmt.Errorf("failed to write record metadata: %w", err)
	}
	if err := writeFileAtomic(e.layout.PatchFile(meta.RecordID), compressedPatch); err != nil {
		return fmt.Errorf("failed to write patch: %w", err)
	}

	for _, a := range artifacts {
		if a == nil {
			continue
		}
		if a.Record.BeforeSHA != "" {
			if err := e.EnsureBlob(a.Record.BeforeSHA, a.BeforeBlob); err != nil {
				return err
			}
		}
		if a.Record.AfterSHA != "" {
			if err := e.EnsureBlob(a.Record.AfterSHA, a.AfterBlob); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) recordExists(ctx context.Context, recordID string) (bool, error) {
	var one int
	err := e.db.QueryRowContext(ctx, `SELECT 1 FROM records WHERE record_id = ?`, recordID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check record %s: %w", recordID, err)
	}
	return true, nil
}

// ReadRecordMeta loads a committed record's metadata document.
func (e *Engine) ReadRecordMeta(recordID string) (*schema.RecordMeta, error) {
	if !digest.ValidHex(recordID) {
		return nil, fmt.Errorf("%w: record %q", ErrNotFound, recordID)
	}
	meta, err := schema.ReadRecordMeta(e.layout.MetaFile(recordID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: record %s", ErrNotFound, recordID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return meta, nil
}

// ReadPatch returns a record's compressed patch bytes.
func (e *Engine) ReadPatch(recordID string) ([]byte, error) {
	if !digest.ValidHex(recordID) {
		return nil, fmt.Errorf("%w: record %q", ErrNotFound, recordID)
	}
	data, err := os.ReadFile(e.layout.PatchFile(recordID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: patch for record %s", ErrNotFound, recordID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read patch for %s: %w", recordID, err)
	}
	return data, nil
}

// ReadPatchText returns a record's decompressed unified patch.
func (e *Engine) ReadPatchText(recordID string) (string, error) {
	data, err := e.ReadPatch(recordID)
	if err != nil {
		return "", err
	}
	text, err := patch.Decompress(data)
	if err != nil {
		return "", fmt.Errorf("%w: patch for record %s: %v", ErrCorrupt, recordID, err)
	}
	return text, nil
}

// VerifyPatch checks a record's patch file against the diff hash stored
// in the database.
func (e *Engine) VerifyPatch(ctx context.Context, recordID string) error {
	data, err := e.ReadPatch(recordID)
	if err != nil {
		return err
	}

	var want string
	err = e.db.QueryRowContext(ctx, `SELECT diff_hash FROM records WHERE record_id = ?`, recordID).Scan(&want)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: record %s", ErrNotFound, recordID)
	}
	if err != nil {
		return fmt.Errorf("failed to query diff hash: %w", err)
	}
	if got := digest.Bytes(data); got != want {
		return fmt.Errorf("%w: patch for record %s hashes to %s, expected %s", ErrCorrupt, recordID, got, want)
	}
	if _, err := codec.Decompress(data); err != nil {
		return fmt.Errorf("%w: patch for record %s: %v", ErrCorrupt, recordID, err)
	}
	return nil
}

// ResolveRecordID expands a unique prefix to a full record id.
func (e *Engine) ResolveRecordID(ctx context.Context, prefix string) (string, error) {
	if !digest.ValidHex(prefix) {
		return "", fmt.Errorf("%w: record %q", ErrNotFound, prefix)
	}

	rows, err := e.db.QueryContext(ctx,
		`SELECT record_id FROM records WHERE record_id >= ? AND record_id < ? ORDER BY record_id LIMIT 2`,
		prefix, prefix+"g")
	if err != nil {
		return "", fmt.Errorf("failed to resolve record id: %w", err)
	}
	defer rows.Close()

	var matches []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", fmt.Errorf("failed to scan record id: %w", err)
		}
		matches = append(matches, id)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("error iterating record ids: %w", err)
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: record %s", ErrNotFound, prefix)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: %s", ErrAmbiguousID, prefix)
	}
}

// RecordCount returns the number of committed records.
func (e *Engine) RecordCount(ctx context.Context) (int, error) {
	var n int
	if err := e.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
