package loadtest

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
)

func smallConfig() Config {
	return Config{Records: 5, FilesPerRecord: 3, LinesPerFile: 40, Readers: 2, Workers: 2}
}

// TestCreateTestProject verifies that the project files exist and storage
// starts empty.
func TestCreateTestProject(t *testing.T) {
	tp, err := CreateTestProject(t.TempDir(), smallConfig())
	if err != nil {
		t.Fatalf("CreateTestProject() failed: %v", err)
	}
	defer tp.Close()

	if len(tp.Files) != 3 {
		t.Errorf("len(Files) = %d, want 3", len(tp.Files))
	}
	n, err := tp.Engine.RecordCount(context.Background())
	if err != nil {
		t.Fatalf("RecordCount() failed: %v", err)
	}
	if n != 0 {
		t.Errorf("RecordCount() = %d, want 0", n)
	}
}

func TestCreateTestProject_RejectsEmptyConfig(t *testing.T) {
	if _, err := CreateTestProject(t.TempDir(), Config{}); err == nil {
		t.Error("CreateTestProject() succeeded with an empty config")
	}
}

// TestRunCommits verifies that every synthetic batch becomes one record
// chained to the previous one.
func TestRunCommits(t *testing.T) {
	tp, err := CreateTestProject(t.TempDir(), smallConfig())
	if err != nil {
		t.Fatalf("CreateTestProject() failed: %v", err)
	}
	defer tp.Close()

	ctx := context.Background()
	durations, err := tp.RunCommits(ctx, 4)
	if err != nil {
		t.Fatalf("RunCommits() failed: %v", err)
	}
	if len(durations) != 4 {
		t.Errorf("RunCommits() returned %d durations, want 4", len(durations))
	}

	if n, err := tp.Engine.RecordCount(ctx); err != nil || n != 4 {
		t.Errorf("RecordCount() = %d, %v; want 4", n, err)
	}

	latest, ok, err := tp.Engine.LatestRecordIDContext(ctx)
	if err != nil || !ok {
		t.Fatalf("LatestRecordID() = %q, %v, %v", latest, ok, err)
	}
	meta, err := tp.Engine.ReadRecordMeta(latest)
	if err != nil {
		t.Fatalf("ReadRecordMeta() failed: %v", err)
	}
	if meta.PrevRecordID == "" {
		t.Error("latest record has no previous record")
	}
	if len(meta.Files) != 3 {
		t.Errorf("latest record has %d files, want 3", len(meta.Files))
	}
}

func TestRun(t *testing.T) {
	result, err := Run(context.Background(), t.TempDir(), smallConfig())
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if result.Records != 5 || result.Commit.Count != 5 {
		t.Errorf("Records = %d, Commit.Count = %d; want 5", result.Records, result.Commit.Count)
	}
	if result.Snapshots != 3 {
		t.Errorf("Snapshots = %d, want 3", result.Snapshots)
	}
	if result.ReadErrors != 0 {
		t.Errorf("ReadErrors = %d, want 0", result.ReadErrors)
	}
	if result.StorageBytes <= 0 {
		t.Errorf("StorageBytes = %d, want positive", result.StorageBytes)
	}
	if result.Commit.Min > result.Commit.Max {
		t.Errorf("Commit.Min %v > Commit.Max %v", result.Commit.Min, result.Commit.Max)
	}
}

func TestComputeLatencyStats(t *testing.T) {
	var durations []time.Duration
	for i := 100; i >= 1; i-- {
		durations = append(durations, time.Duration(i)*time.Millisecond)
	}

	stats := computeLatencyStats(durations)
	want := LatencyStats{
		Count: 100,
		Min:   time.Millisecond,
		Max:   100 * time.Millisecond,
		Mean:  50500 * time.Microsecond,
		P50:   51 * time.Millisecond,
		P95:   96 * time.Millisecond,
		P99:   stats.P99,
	}
	if stats != want {
		t.Errorf("computeLatencyStats() = %+v, want %+v", stats, want)
	}
	if durations[0] != 100*time.Millisecond {
		t.Error("input was reordered")
	}

	if got := computeLatencyStats(nil); got != (LatencyStats{}) {
		t.Errorf("computeLatencyStats(nil) = %+v, want zero", got)
	}
}

func TestPrintStats(t *testing.T) {
	var buf bytes.Buffer
	LatencyStats{Count: 2, Min: time.Millisecond, Max: 2 * time.Millisecond}.PrintStats(&buf, "Commit latency")
	out := buf.String()
	for _, s := range []string{"Commit latency:\n", "Count:         2"} {
		if !strings.Contains(out, s) {
			t.Errorf("output missing %q:\n%s", s, out)
		}
	}
}
