package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chronodiff/chronodiff/internal/digest"
	"github.com/chronodiff/chronodiff/internal/patch"
)

var baseTime = time.UnixMilli(1_700_000_000_000)

// TestCommitRecord_WritesEverything verifies the files, blobs and rows a
// commit produces.
func TestCommitRecord_WritesEverything(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	meta, compressed, artifacts := buildRecord(t, e, baseTime,
		patch.Input{Path: "a.txt", After: []byte("hello\n")})
	if err := e.CommitRecord(meta, compressed, artifacts); err != nil {
		t.Fatalf("CommitRecord() failed: %v", err)
	}

	got, err := e.ReadRecordMeta(meta.RecordID)
	if err != nil {
		t.Fatalf("ReadRecordMeta() failed: %v", err)
	}
	if got.RecordID != meta.RecordID || got.Stats != meta.Stats || got.PrevRecordID != "" {
		t.Errorf("ReadRecordMeta() = %+v, want %+v", got, meta)
	}
	if !got.StartedAt.Equal(meta.StartedAt) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, meta.StartedAt)
	}

	text, err := e.ReadPatchText(meta.RecordID)
	if err != nil {
		t.Fatalf("ReadPatchText() failed: %v", err)
	}
	if !strings.Contains(text, "+++ b/a.txt") || !strings.Contains(text, "+hello") {
		t.Errorf("unexpected patch text:\n%s", text)
	}
	if err := e.VerifyPatch(ctx, meta.RecordID); err != nil {
		t.Errorf("VerifyPatch() failed: %v", err)
	}

	sha := digest.Bytes([]byte("hello\n"))
	if !e.HasBlob(sha) {
		t.Error("after blob was not stored")
	}
	snap, ok, err := e.FetchSnapshot("a.txt")
	if err != nil || !ok || snap != sha {
		t.Errorf("FetchSnapshot() = %q, %v, %v; want %q", snap, ok, err, sha)
	}
}

// TestCommitRecord_ChainIntegrity verifies that each record points at its
// predecessor and the timeline lists them newest first.
func TestCommitRecord_ChainIntegrity(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	contents := []string{"v1\n", "v1\nv2\n", "v1\nv2\nv3\n"}
	var before []byte
	var ids []string
	for i, c := range contents {
		meta, compressed, artifacts := buildRecord(t, e, baseTime.Add(time.Duration(i)*time.Second),
			patch.Input{Path: "f.txt", Before: before, After: []byte(c)})
		if err := e.CommitRecordContext(ctx, meta, compressed, artifacts); err != nil {
			t.Fatalf("commit %d failed: %v", i, err)
		}
		ids = append(ids, meta.RecordID)
		before = []byte(c)
	}

	for i, id := range ids {
		meta, err := e.ReadRecordMeta(id)
		if err != nil {
			t.Fatalf("ReadRecordMeta(%s) failed: %v", id, err)
		}
		want := ""
		if i > 0 {
			want = ids[i-1]
		}
		if meta.PrevRecordID != want {
			t.Errorf("record %d prev = %q, want %q", i, meta.PrevRecordID, want)
		}
	}

	entries, err := e.TimelineContext(ctx, TimelineQuery{Limit: 10})
	if err != nil {
		t.Fatalf("Timeline() failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("Timeline() returned %d entries, want 3", len(entries))
	}
	for i, entry := range entries {
		if entry.RecordID != ids[len(ids)-1-i] {
			t.Errorf("entry %d = %s, want %s", i, entry.RecordID, ids[len(ids)-1-i])
		}
		if entry.DurationMS != 50 {
			t.Errorf("entry %d duration = %d, want 50", i, entry.DurationMS)
		}
	}

	latest, ok, err := e.LatestRecordID()
	if err != nil || !ok || latest != ids[2] {
		t.Errorf("LatestRecordID() = %q, %v, %v; want %q", latest, ok, err, ids[2])
	}
}

// TestCommitRecord_SnapshotConsistency verifies that deletions clear
// snapshots and modifications replace them.
func TestCommitRecord_SnapshotConsistency(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	meta, compressed, artifacts := buildRecord(t, e, baseTime,
		patch.Input{Path: "keep.txt", After: []byte("one\n")},
		patch.Input{Path: "drop.txt", After: []byte("gone soon\n")})
	if err := e.CommitRecord(meta, compressed, artifacts); err != nil {
		t.Fatalf("first commit failed: %v", err)
	}

	meta, compressed, artifacts = buildRecord(t, e, baseTime.Add(time.Second),
		patch.Input{Path: "keep.txt", Before: []byte("one\n"), After: []byte("two\n")},
		patch.Input{Path: "drop.txt", Before: []byte("gone soon\n")})
	if err := e.CommitRecord(meta, compressed, artifacts); err != nil {
		t.Fatalf("second commit failed: %v", err)
	}

	if _, ok, err := e.FetchSnapshot("drop.txt"); err != nil || ok {
		t.Errorf("deleted path still tracked (ok=%v, err=%v)", ok, err)
	}
	sha, ok, err := e.FetchSnapshot("keep.txt")
	if err != nil || !ok || sha != digest.Bytes([]byte("two\n")) {
		t.Errorf("FetchSnapshot(keep.txt) = %q, %v, %v", sha, ok, err)
	}

	snaps, err := e.ListSnapshots(ctx)
	if err != nil {
		t.Fatalf("ListSnapshots() failed: %v", err)
	}
	if len(snaps) != 1 || snaps[0].RecordID != meta.RecordID {
		t.Errorf("ListSnapshots() = %+v", snaps)
	}
	if n, _ := e.SnapshotCount(ctx); n != 1 {
		t.Errorf("SnapshotCount() = %d, want 1", n)
	}
}

// TestCommitRecord_Collision verifies that committing an existing record id
// is refused without touching stored files.
func TestCommitRecord_Collision(t *testing.T) {
	e := newTestEngine(t)

	meta, compressed, artifacts := buildRecord(t, e, baseTime,
		patch.Input{Path: "a.txt", After: []byte("hello\n")})
	if err := e.CommitRecord(meta, compressed, artifacts); err != nil {
		t.Fatalf("CommitRecord() failed: %v", err)
	}
	metaPath := e.Layout().MetaFile(meta.RecordID)
	original, _ := os.ReadFile(metaPath)

	dup := *meta
	dup.ToolVersion = "9.9.9"
	err := e.CommitRecord(&dup, compressed, artifacts)
	if !errors.Is(err, ErrRecordExists) {
		t.Fatalf("duplicate CommitRecord() error = %v, want ErrRecordExists", err)
	}

	after, _ := os.ReadFile(metaPath)
	if string(after) != string(original) {
		t.Error("meta.json was overwritten by a duplicate commit")
	}
	if n, _ := e.RecordCount(context.Background()); n != 1 {
		t.Errorf("RecordCount() = %d, want 1", n)
	}
}

// TestCommitRecord_RollsBackOnFailure verifies that a commit failing inside
// the transaction leaves the database as it was and can be retried.
func TestCommitRecord_RollsBackOnFailure(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	first, compressed, artifacts := buildRecord(t, e, baseTime,
		patch.Input{Path: "a.txt", After: []byte("hello\n")})
	if err := e.CommitRecord(first, compressed, artifacts); err != nil {
		t.Fatalf("CommitRecord() failed: %v", err)
	}
	firstSHA := first.Files[0].AfterSHA

	second, compressed, artifacts := buildRecord(t, e, baseTime.Add(time.Second),
		patch.Input{Path: "a.txt", Before: []byte("hello\n"), After: []byte("hello\nworld\n")},
		patch.Input{Path: "b.txt", After: []byte("new\n")})

	_, err := e.db.ExecContext(ctx, `
		CREATE TRIGGER fail_snapshot BEFORE INSERT ON latest_snapshots
		BEGIN
			SELECT RAISE(ABORT, 'snapshot write failed');
		END`)
	if err != nil {
		t.Fatalf("failed to install trigger: %v", err)
	}

	if err := e.CommitRecord(second, compressed, artifacts); err == nil {
		t.Fatal("CommitRecord() succeeded, want error from trigger")
	}

	if n, err := e.RecordCount(ctx); err != nil || n != 1 {
		t.Errorf("RecordCount() = %d, %v; want 1", n, err)
	}
	if id, _, err := e.LatestRecordID(); err != nil || id != first.RecordID {
		t.Errorf("LatestRecordID() = %q, %v; want %q", id, err, first.RecordID)
	}
	if sha, ok, err := e.FetchSnapshot("a.txt"); err != nil || !ok || sha != firstSHA {
		t.Errorf("FetchSnapshot(a.txt) = %q, %v, %v; want %q", sha, ok, err, firstSHA)
	}
	if _, ok, err := e.FetchSnapshot("b.txt"); err != nil || ok {
		t.Errorf("FetchSnapshot(b.txt) ok = %v, err = %v; want untracked", ok, err)
	}

	if _, err := e.db.ExecContext(ctx, `DROP TRIGGER fail_snapshot`); err != nil {
		t.Fatalf("failed to drop trigger: %v", err)
	}
	if err := e.CommitRecord(second, compressed, artifacts); err != nil {
		t.Fatalf("retried CommitRecord() failed: %v", err)
	}

	if n, _ := e.RecordCount(ctx); n != 2 {
		t.Errorf("RecordCount() after retry = %d, want 2", n)
	}
	if id, _, _ := e.LatestRecordID(); id != second.RecordID {
		t.Errorf("LatestRecordID() after retry = %q, want %q", id, second.RecordID)
	}
	if sha, _, _ := e.FetchSnapshot("a.txt"); sha != second.Files[0].AfterSHA {
		t.Errorf("FetchSnapshot(a.txt) after retry = %q, want %q", sha, second.Files[0].AfterSHA)
	}
	if _, ok, _ := e.FetchSnapshot("b.txt"); !ok {
		t.Error("FetchSnapshot(b.txt) after retry: not tracked")
	}
	if _, err := e.ReadRecordMeta(second.RecordID); err != nil {
		t.Errorf("ReadRecordMeta() after retry failed: %v", err)
	}
}

// TestCommitRecord_RejectsInvalid verifies validation before any write.
func TestCommitRecord_RejectsInvalid(t *testing.T) {
	e := newTestEngine(t)

	if err := e.CommitRecord(nil, nil, nil); err == nil {
		t.Error("expected error for nil record")
	}

	meta, compressed, artifacts := buildRecord(t, e, baseTime,
		patch.Input{Path: "a.txt", After: []byte("hello\n")})
	meta.Stats.LinesAdded = 99
	if err := e.CommitRecord(meta, compressed, artifacts); err == nil {
		t.Error("expected error for mismatched stats")
	}

	meta, compressed, artifacts = buildRecord(t, e, baseTime,
		patch.Input{Path: "a.txt", After: []byte("hello\n")})
	meta.ProjectID = "000000000000"
	if err := e.CommitRecord(meta, compressed, artifacts); err == nil {
		t.Error("expected error for foreign project id")
	}

	entries, _ := os.ReadDir(e.Layout().RecordsDir)
	if len(entries) != 0 {
		t.Errorf("rejected commits left %d record directories", len(entries))
	}
}

// TestCommitRecord_BlobDedup verifies that identical content in different
// files shares one blob.
func TestCommitRecord_BlobDedup(t *testing.T) {
	e := newTestEngine(t)

	meta, compressed, artifacts := buildRecord(t, e, baseTime,
		patch.Input{Path: "a.txt", After: []byte("same\n")},
		patch.Input{Path: "b.txt", After: []byte("same\n")})
	if err := e.CommitRecord(meta, compressed, artifacts); err != nil {
		t.Fatalf("CommitRecord() failed: %v", err)
	}

	var blobs int
	filepath.WalkDir(e.Layout().BlobsDir, func(path string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			blobs++
		}
		return nil
	})
	if blobs != 1 {
		t.Errorf("stored %d blobs, want 1", blobs)
	}
}

// TestReadRecord_NotFoundVersusCorrupt verifies error classification for
// record reads.
func TestReadRecord_NotFoundVersusCorrupt(t *testing.T) {
	e := newTestEngine(t)

	if _, err := e.ReadRecordMeta("abcdef123456"); !IsNotFound(err) {
		t.Errorf("ReadRecordMeta(unknown) error = %v, want not found", err)
	}
	if _, err := e.ReadRecordMeta("../../etc"); !IsNotFound(err) {
		t.Errorf("ReadRecordMeta(invalid) error = %v, want not found", err)
	}
	if _, err := e.ReadPatch("abcdef123456"); !IsNotFound(err) {
		t.Errorf("ReadPatch(unknown) error = %v, want not found", err)
	}

	meta, compressed, artifacts := buildRecord(t, e, baseTime,
		patch.Input{Path: "a.txt", After: []byte("hello\n")})
	if err := e.CommitRecord(meta, compressed, artifacts); err != nil {
		t.Fatalf("CommitRecord() failed: %v", err)
	}

	os.WriteFile(e.Layout().MetaFile(meta.RecordID), []byte("{not json"), 0644)
	if _, err := e.ReadRecordMeta(meta.RecordID); !IsCorrupt(err) {
		t.Errorf("ReadRecordMeta(corrupt) error = %v, want corrupt", err)
	}

	os.WriteFile(e.Layout().PatchFile(meta.RecordID), []byte("garbage"), 0644)
	if _, err := e.ReadPatchText(meta.RecordID); !IsCorrupt(err) {
		t.Errorf("ReadPatchText(corrupt) error = %v, want corrupt", err)
	}
	if err := e.VerifyPatch(context.Background(), meta.RecordID); !IsCorrupt(err) {
		t.Errorf("VerifyPatch(corrupt) error = %v, want corrupt", err)
	}
}

// TestResolveRecordID verifies prefix expansion.
func TestResolveRecordID(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	meta, compressed, artifacts := buildRecord(t, e, baseTime,
		patch.Input{Path: "a.txt", After: []byte("hello\n")})
	if err := e.CommitRecord(meta, compressed, artifacts); err != nil {
		t.Fatalf("CommitRecord() failed: %v", err)
	}

	got, err := e.ResolveRecordID(ctx, meta.RecordID[:4])
	if err != nil {
		t.Fatalf("ResolveRecordID() failed: %v", err)
	}
	if got != meta.RecordID {
		t.Errorf("ResolveRecordID() = %s, want %s", got, meta.RecordID)
	}

	other := "0"
	if meta.RecordID[0] == '0' {
		other = "f"
	}
	if _, err := e.ResolveRecordID(ctx, other+meta.RecordID[1:]); !IsNotFound(err) {
		t.Errorf("ResolveRecordID(unknown) error = %v, want not found", err)
	}
}
