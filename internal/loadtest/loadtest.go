// Package loadtest measures end-to-end record commit latency.
//
// It drives a daemon directly with synthetic batches against a throwaway
// project and storage root, so the numbers cover diffing, compression, blob
// writes and the metadata transaction without filesystem notification noise.
// Concurrent timeline readers can run alongside to expose reader/writer
// contention on the metadata database.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/chronodiff/chronodiff/internal/daemon"
	"github.com/chronodiff/chronodiff/internal/ignore"
	"github.com/chronodiff/chronodiff/internal/store"
)

// readerPageSize is the timeline page each concurrent reader fetches.
const readerPageSize = 20

// Config defines the parameters for a load test run.
type Config struct {
	// Records is the number of batches to commit
	Records int `json:"records"`

	// FilesPerRecord is how many files each batch rewrites
	FilesPerRecord int `json:"files_per_record"`

	// LinesPerFile is the size of each generated file
	LinesPerFile int `json:"lines_per_file"`

	// Readers is the number of concurrent timeline readers (0 = none)
	Readers int `json:"readers"`

	// Workers bounds per-batch artifact construction
	Workers int `json:"workers"`
}

// DefaultConfig returns a load test configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Records:        100,
		FilesPerRecord: 4,
		LinesPerFile:   200,
		Readers:        2,
		Workers:        daemon.DefaultWorkers,
	}
}

// LatencyStats captures latency statistics for one kind of operation.
type LatencyStats struct {
	Count int           `json:"count"`
	Min   time.Duration `json:"min_ns"`
	Max   time.Duration `json:"max_ns"`
	Mean  time.Duration `json:"mean_ns"`
	P50   time.Duration `json:"p50_ns"`
	P95   time.Duration `json:"p95_ns"`
	P99   time.Duration `json:"p99_ns"`
}

// Result captures all metrics from a run.
type Result struct {
	Config        Config        `json:"config"`
	Commit        LatencyStats  `json:"commit"`
	Timeline      LatencyStats  `json:"timeline"`
	Records       int           `json:"records"`
	Snapshots     int           `json:"snapshots"`
	StorageBytes  int64         `json:"storage_bytes"`
	TotalDuration time.Duration `json:"total_duration_ns"`
	ReadErrors    int           `json:"read_errors"`
}

// TestProject is a populated project used for load testing.
type TestProject struct {
	Root        string
	StorageRoot string
	Engine      *store.Engine
	Daemon      *daemon.Daemon
	Files       []string

	config Config
	clock  time.Time
}

// CreateTestProject creates a project under dir with FilesPerRecord files
// and opens storage for it under dir as well.
func CreateTestProject(dir string, config Config) (*TestProject, error) {
	if config.Records <= 0 || config.FilesPerRecord <= 0 || config.LinesPerFile <= 0 {
		return nil, fmt.Errorf("records, files per record and lines per file must be positive")
	}

	root := filepath.Join(dir, "project")
	storageRoot := filepath.Join(dir, "storage")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create project dir: %w", err)
	}

	tp := &TestProject{
		Root:        root,
		StorageRoot: storageRoot,
		config:      config,
		clock:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	for i := range config.FilesPerRecord {
		name := fmt.Sprintf("src/file_%03d.txt", i)
		tp.Files = append(tp.Files, name)
		if err := tp.writeFile(name, 0); err != nil {
			return nil, err
		}
	}

	logger := slog.New(slog.DiscardHandler)
	engine, err := store.Open(root, store.Options{Root: storageRoot, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	tp.Engine = engine

	matcher, err := ignore.Load(engine.ProjectRoot(), engine.Layout().Root)
	if err != nil {
		_ = engine.Close()
		return nil, fmt.Errorf("failed to load ignore rules: %w", err)
	}

	d, err := daemon.NewWithConfig(engine, matcher, &daemon.Config{
		Workers: config.Workers,
		Logger:  logger,
	})
	if err != nil {
		_ = engine.Close()
		return nil, err
	}
	tp.Daemon = d
	return tp, nil
}

// Close releases the storage engine.
func (tp *TestProject) Close() error {
	if tp.Engine != nil {
		return tp.Engine.Close()
	}
	return nil
}

// writeFile writes generation gen of name. Every generation changes a
// tenth of the lines so diffs stay realistic.
func (tp *TestProject) writeFile(name string, gen int) error {
	var b strings.Builder
	for line := range tp.config.LinesPerFile {
		if line%10 == gen%10 {
			fmt.Fprintf(&b, "line %d of %s generation %d\n", line, name, gen)
		} else {
			fmt.Fprintf(&b, "line %d of %s\n", line, name)
		}
	}
	path := filepath.Join(tp.Root, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create dir for %s: %w", name, err)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// nextBatch rewrites every file and returns the matching batch. Batch
// timestamps advance by one second per generation.
func (tp *TestProject) nextBatch(gen int) (*daemon.Batch, error) {
	batch := &daemon.Batch{StartedAt: tp.clock}
	for _, name := range tp.Files {
		if err := tp.writeFile(name, gen); err != nil {
			return nil, err
		}
		batch.Paths = append(batch.Paths, filepath.Join(tp.Root, filepath.FromSlash(name)))
		batch.Events++
	}
	tp.clock = tp.clock.Add(time.Second)
	batch.EndedAt = batch.StartedAt.Add(50 * time.Millisecond)
	return batch, nil
}

// RunCommits commits n batches sequentially and returns their latencies.
func (tp *TestProject) RunCommits(ctx context.Context, n int) ([]time.Duration, error) {
	durations := make([]time.Duration, 0, n)
	for gen := 1; gen <= n; gen++ {
		if err := ctx.Err(); err != nil {
			return durations, err
		}
		batch, err := tp.nextBatch(gen)
		if err != nil {
			return durations, err
		}

		start := time.Now()
		meta, err := tp.Daemon.ProcessBatch(ctx, batch)
		elapsed := time.Since(start)
		if err != nil {
			return durations, fmt.Errorf("commit %d failed: %w", gen, err)
		}
		if meta == nil {
			return durations, fmt.Errorf("commit %d produced no record", gen)
		}
		durations = append(durations, elapsed)
	}
	return durations, nil
}

// RunConcurrentReads runs timeline readers until ctx is done. It returns
// every query latency and the number of failed queries.
func (tp *TestProject) RunConcurrentReads(ctx context.Context, readers int) ([]time.Duration, int) {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var all []time.Duration
	var errorCount int

	for range readers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			var durations []time.Duration
			failed := 0
			for ctx.Err() == nil {
				start := time.Now()
				_, err := tp.Engine.TimelineContext(ctx, store.TimelineQuery{Limit: readerPageSize})
				if err != nil {
					if ctx.Err() == nil {
						failed++
					}
					continue
				}
				durations = append(durations, time.Since(start))
				time.Sleep(time.Millisecond)
			}

			mu.Lock()
			all = append(all, durations...)
			errorCount += failed
			mu.Unlock()
		}()
	}

	wg.Wait()
	return all, errorCount
}

// Run executes a full load test in a temporary directory under dir.
func Run(ctx context.Context, dir string, config Config) (*Result, error) {
	tmp, err := os.MkdirTemp(dir, "chronodiff-bench-")
	if err != nil {
		return nil, fmt.Errorf("failed to create bench dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	tp, err := CreateTestProject(tmp, config)
	if err != nil {
		return nil, err
	}
	defer tp.Close()

	start := time.Now()

	readCtx, stopReaders := context.WithCancel(ctx)
	var reads []time.Duration
	var readErrors int
	readersDone := make(chan struct{})
	go func() {
		defer close(readersDone)
		reads, readErrors = tp.RunConcurrentReads(readCtx, config.Readers)
	}()

	commits, err := tp.RunCommits(ctx, config.Records)
	stopReaders()
	<-readersDone
	if err != nil {
		return nil, err
	}

	result := &Result{
		Config:        config,
		Commit:        computeLatencyStats(commits),
		Timeline:      computeLatencyStats(reads),
		TotalDuration: time.Since(start),
		ReadErrors:    readErrors,
	}
	if result.Records, err = tp.Engine.RecordCount(ctx); err != nil {
		return nil, err
	}
	if result.Snapshots, err = tp.Engine.SnapshotCount(ctx); err != nil {
		return nil, err
	}
	result.StorageBytes = dirSize(tp.Engine.Layout().ProjectDir)
	return result, nil
}

func dirSize(dir string) int64 {
	var total int64
	_ = filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) LatencyStats {
	if len(durations) == 0 {
		return LatencyStats{}
	}

	sorted := slices.Clone(durations)
	slices.Sort(sorted)

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	return LatencyStats{
		Count: len(sorted),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Mean:  sum / time.Duration(len(sorted)),
		P50:   sorted[len(sorted)*50/100],
		P95:   sorted[len(sorted)*95/100],
		P99:   sorted[len(sorted)*99/100],
	}
}

// PrintStats formats latency statistics under title.
func (s LatencyStats) PrintStats(w io.Writer, title string) {
	fmt.Fprintf(w, "%s:\n", title)
	fmt.Fprintf(w, "  Count:         %d\n", s.Count)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}
