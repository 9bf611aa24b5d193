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
	"github.com/chronodiff/chronodiff/internal/schema"
	"github.com/chronodiff/chronodiff/internal/version"
)

// newTestEngine opens an engine for a fresh project directory under a fresh
// storage root.
func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	project := t.TempDir()
	root := t.TempDir()
	e, err := Open(project, Options{Root: root})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

// buildRecord diffs the inputs and assembles a record the way the watcher
// does, chained to the engine's latest record.
func buildRecord(t *testing.T, e *Engine, start time.Time, inputs ...patch.Input) (*schema.RecordMeta, []byte, []*patch.Artifact) {
	t.Helper()
	var artifacts []*patch.Artifact
	var files []schema.FileRecord
	for _, in := range inputs {
		a := patch.Build(in)
		if a == nil {
			continue
		}
		artifacts = append(artifacts, a)
		files = append(files, a.Record)
	}
	if len(files) == 0 {
		t.Fatal("buildRecord: no changes")
	}

	prev, _, err := e.LatestRecordID()
	if err != nil {
		t.Fatalf("LatestRecordID() failed: %v", err)
	}
	compressed, err := patch.Compress(patch.Concat(artifacts))
	if err != nil {
		t.Fatalf("Compress() failed: %v", err)
	}
	meta := &schema.RecordMeta{
		RecordID:     digest.RecordID(e.ProjectID(), start, files),
		ProjectID:    e.ProjectID(),
		StartedAt:    start,
		EndedAt:      start.Add(50 * time.Millisecond),
		Files:        files,
		Stats:        schema.AggregateStats(files),
		PrevRecordID: prev,
		ToolVersion:  version.Version,
	}
	return meta, compressed, artifacts
}

// TestOpen_CreatesLayout verifies that Open creates the project layout and
// registers the project.
func TestOpen_CreatesLayout(t *testing.T) {
	e := newTestEngine(t)
	l := e.Layout()

	for _, dir := range []string{l.BlobsDir, l.RecordsDir, l.MetaDir, l.LogsDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("expected directory %s: %v", dir, err)
		}
	}
	data, err := os.ReadFile(l.VersionFile())
	if err != nil {
		t.Fatalf("failed to read version file: %v", err)
	}
	if strings.TrimSpace(string(data)) != version.Layout {
		t.Errorf("version file = %q, want %q", data, version.Layout)
	}
	if _, err := os.Stat(l.TimelineDB); err != nil {
		t.Errorf("timeline.db missing: %v", err)
	}

	entry, err := e.Registry().Find(e.ProjectID())
	if err != nil {
		t.Fatalf("Find() failed: %v", err)
	}
	if entry.Path != e.ProjectRoot() {
		t.Errorf("registry path = %q, want %q", entry.Path, e.ProjectRoot())
	}
}

// TestOpen_CanonicalPathsShareProject verifies that a symlink to a project
// resolves to the same project id.
func TestOpen_CanonicalPathsShareProject(t *testing.T) {
	project := t.TempDir()
	link := filepath.Join(t.TempDir(), "link")
	if err := os.Symlink(project, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	root := t.TempDir()

	a, err := Open(project, Options{Root: root})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer a.Close()
	b, err := Open(link, Options{Root: root})
	if err != nil {
		t.Fatalf("Open() via symlink failed: %v", err)
	}
	defer b.Close()

	if a.ProjectID() != b.ProjectID() {
		t.Errorf("project ids differ: %s vs %s", a.ProjectID(), b.ProjectID())
	}
}

// TestOpen_Errors verifies setup failures.
func TestOpen_Errors(t *testing.T) {
	if _, err := Open(t.TempDir(), Options{}); err == nil {
		t.Error("expected error for missing root")
	}

	missing := filepath.Join(t.TempDir(), "nope")
	root := t.TempDir()
	if _, err := Open(missing, Options{Root: root}); err == nil {
		t.Error("expected error for missing project directory")
	}
	entries, _ := os.ReadDir(root)
	if len(entries) != 0 {
		t.Errorf("failed Open left %d entries in root", len(entries))
	}

	file := filepath.Join(t.TempDir(), "file.txt")
	os.WriteFile(file, []byte("x"), 0644)
	if _, err := Open(file, Options{Root: root}); err == nil {
		t.Error("expected error for a file project root")
	}
}

// TestOpen_RejectsIncompatibleLayout verifies that a layout written by an
// incompatible release is refused.
func TestOpen_RejectsIncompatibleLayout(t *testing.T) {
	project := t.TempDir()
	root := t.TempDir()

	e, err := Open(project, Options{Root: root})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	versionFile := e.Layout().VersionFile()
	e.Close()

	if err := os.WriteFile(versionFile, []byte("2\n"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err = Open(project, Options{Root: root})
	if !errors.Is(err, ErrUnsupportedLayout) {
		t.Fatalf("Open() error = %v, want ErrUnsupportedLayout", err)
	}
}

// TestOpen_Reopen verifies that migrations are idempotent and data survives
// a reopen.
func TestOpen_Reopen(t *testing.T) {
	project := t.TempDir()
	root := t.TempDir()

	e, err := Open(project, Options{Root: root})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	meta, compressed, artifacts := buildRecord(t, e, time.UnixMilli(1_700_000_000_000),
		patch.Input{Path: "a.txt", After: []byte("hello\n")})
	if err := e.CommitRecord(meta, compressed, artifacts); err != nil {
		t.Fatalf("CommitRecord() failed: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Errorf("second Close() failed: %v", err)
	}

	e2, err := Open(project, Options{Root: root})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer e2.Close()

	n, err := e2.RecordCount(context.Background())
	if err != nil {
		t.Fatalf("RecordCount() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("RecordCount() = %d, want 1", n)
	}
}
