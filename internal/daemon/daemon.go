package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chronodiff/chronodiff/internal/digest"
	"github.com/chronodiff/chronodiff/internal/ignore"
	"github.com/chronodiff/chronodiff/internal/patch"
	"github.com/chronodiff/chronodiff/internal/schema"
	"github.com/chronodiff/chronodiff/internal/store"
	"github.com/chronodiff/chronodiff/internal/version"
)

const (
	// DefaultDebounceInterval is the quiet window that closes a batch.
	DefaultDebounceInterval = 50 * time.Millisecond
	// DefaultBufferSize bounds the event channel between watcher and loop.
	DefaultBufferSize = 1024
	// DefaultWorkers bounds parallel file reads and diffs within a batch.
	DefaultWorkers = 4
)

// Notifier receives watch session events. Implementations must not block.
type Notifier interface {
	RecordCommitted(meta *schema.RecordMeta)
	BatchFailed(paths int, err error)
	EventsDropped(total uint64)
}

// Config holds configuration for the daemon.
type Config struct {
	// DebounceInterval is the quiet window that closes a batch.
	DebounceInterval time.Duration

	// BufferSize bounds the event channel.
	BufferSize int

	// Workers bounds parallel artifact construction within one batch.
	Workers int

	// Output receives a summary line and the patch of every record.
	// Nil discards it.
	Output io.Writer

	// Notifier is told about commits, failures and dropped events. Optional.
	Notifier Notifier

	// SessionID tags log lines of this watch session.
	SessionID string

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// Logger for daemon activity
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: DefaultDebounceInterval,
		BufferSize:       DefaultBufferSize,
		Workers:          DefaultWorkers,
		Logger:           slog.Default(),
	}
}

// Stats summarizes a watch session.
type Stats struct {
	Batches       uint64    `json:"batches"`
	Records       uint64    `json:"records"`
	NoopBatches   uint64    `json:"noop_batches"`
	FailedBatches uint64    `json:"failed_batches"`
	EventsDropped uint64    `json:"events_dropped"`
	LastRecordID  string    `json:"last_record_id,omitempty"`
	LastCommitAt  time.Time `json:"last_commit_at,omitzero"`
	StartedAt     time.Time `json:"started_at,omitzero"`
}

// Daemon turns filesystem events under one project into records.
type Daemon struct {
	engine  *store.Engine
	ignore  *ignore.Matcher
	config  *Config
	batcher *Batcher
	logger  *slog.Logger

	watcher *FileWatcher

	statsMu sync.Mutex
	stats   Stats
}

// New creates a new Daemon instance for the project open in engine.
//
// Use Start() to begin watching and recording.
func New(engine *store.Engine, matcher *ignore.Matcher) (*Daemon, error) {
	return NewWithConfig(engine, matcher, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(engine *store.Engine, matcher *ignore.Matcher, config *Config) (*Daemon, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if matcher == nil {
		return nil, fmt.Errorf("ignore matcher cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config
	if cfg.DebounceInterval <= 0 {
		cfg.DebounceInterval = DefaultDebounceInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Output == nil {
		cfg.Output = io.Discard
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	logger := cfg.Logger.With("project_id", engine.ProjectID())
	if cfg.SessionID != "" {
		logger = logger.With("session", cfg.SessionID)
	}

	return &Daemon{
		engine:  engine,
		ignore:  matcher,
		config:  &cfg,
		batcher: &Batcher{Window: cfg.DebounceInterval, Now: cfg.Now},
		logger:  logger,
	}, nil
}

// Start watches the project and records batches until ctx is cancelled.
// A failed batch is logged and never stops the loop. A commit in progress
// when ctx is cancelled runs to completion.
func (d *Daemon) Start(ctx context.Context) error {
	watcher, err := NewFileWatcher(WatcherConfig{
		BufferSize: d.config.BufferSize,
		Ignore:     d.ignore.IsIgnored,
		Logger:     d.logger,
	})
	if err != nil {
		return err
	}
	if err := watcher.Start(d.engine.ProjectRoot()); err != nil {
		watcher.Stop()
		return err
	}
	defer watcher.Stop()

	d.statsMu.Lock()
	d.watcher = watcher
	d.stats.StartedAt = d.config.Now()
	d.statsMu.Unlock()

	d.logger.Info("watching", "root", d.engine.ProjectRoot(), "window", d.config.DebounceInterval)

	go d.drainErrors(ctx, watcher)

	var lastDropped uint64
	for {
		batch, err := d.batcher.Next(ctx, watcher.Events())
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrStreamClosed) {
				d.logger.Info("stopping", "reason", err)
				return nil
			}
			return err
		}

		if dropped := watcher.Dropped(); dropped != lastDropped {
			lastDropped = dropped
			d.logger.Warn("events dropped", "total", dropped)
			if d.config.Notifier != nil {
				d.config.Notifier.EventsDropped(dropped)
			}
		}

		// Detach from cancellation so a signal never interrupts a commit.
		if _, err := d.ProcessBatch(context.WithoutCancel(ctx), batch); err != nil {
			d.logger.Error("batch failed", "paths", len(batch.Paths), "error", err)
			if d.config.Notifier != nil {
				d.config.Notifier.BatchFailed(len(batch.Paths), err)
			}
		}
	}
}

func (d *Daemon) drainErrors(ctx context.Context, watcher *FileWatcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-watcher.Errors():
			if !ok {
				return
			}
			d.logger.Warn("watcher error", "error", err)
		}
	}
}

// ProcessBatch diffs every path in batch against its last recorded content
// and commits one record. It returns nil and no error when nothing changed.
func (d *Daemon) ProcessBatch(ctx context.Context, batch *Batch) (*schema.RecordMeta, error) {
	d.bump(func(s *Stats) { s.Batches++ })

	meta, err := d.processBatch(ctx, batch)
	switch {
	case err != nil:
		d.bump(func(s *Stats) { s.FailedBatches++ })
		return nil, err
	case meta == nil:
		d.bump(func(s *Stats) { s.NoopBatches++ })
		return nil, nil
	}

	d.bump(func(s *Stats) {
		s.Records++
		s.LastRecordID = meta.RecordID
		s.LastCommitAt = meta.EndedAt
	})
	if d.config.Notifier != nil {
		d.config.Notifier.RecordCommitted(meta)
	}
	return meta, nil
}

func (d *Daemon) processBatch(ctx context.Context, batch *Batch) (*schema.RecordMeta, error) {
	if batch == nil || len(batch.Paths) == 0 {
		return nil, nil
	}

	paths := d.candidatePaths(batch.Paths)
	if len(paths) == 0 {
		return nil, nil
	}

	artifacts, err := d.buildArtifacts(ctx, paths)
	if err != nil {
		return nil, err
	}
	if len(artifacts) == 0 {
		d.logger.Debug("batch produced no changes", "paths", len(paths))
		return nil, nil
	}

	files := make([]schema.FileRecord, len(artifacts))
	for i, a := range artifacts {
		files[i] = a.Record
	}

	prev, _, err := d.engine.LatestRecordIDContext(ctx)
	if err != nil {
		return nil, err
	}

	startedAt := batch.StartedAt.UTC().Truncate(time.Millisecond)
	endedAt := batch.EndedAt.UTC().Truncate(time.Millisecond)
	if endedAt.Before(startedAt) {
		endedAt = startedAt
	}

	meta := &schema.RecordMeta{
		RecordID:     digest.RecordID(d.engine.ProjectID(), startedAt, files),
		ProjectID:    d.engine.ProjectID(),
		StartedAt:    startedAt,
		EndedAt:      endedAt,
		Files:        files,
		Stats:        schema.AggregateStats(files),
		PrevRecordID: prev,
		ToolVersion:  version.Version,
	}

	text := patch.Concat(artifacts)
	compressed, err := patch.Compress(text)
	if err != nil {
		return nil, fmt.Errorf("failed to compress patch: %w", err)
	}

	if err := d.engine.CommitRecordContext(ctx, meta, compressed, artifacts); err != nil {
		if errors.Is(err, store.ErrRecordExists) {
			d.logger.Info("record already committed", "record_id", meta.RecordID)
			return nil, nil
		}
		return nil, err
	}

	if err := d.engine.TouchRegistry(); err != nil {
		d.logger.Warn("failed to refresh registry", "error", err)
	}

	d.logger.Info("recorded",
		"record_id", meta.RecordID,
		"files", meta.Stats.Files,
		"added", meta.Stats.LinesAdded,
		"removed", meta.Stats.LinesRemoved)

	fmt.Fprintf(d.config.Output, "record %s (files: %d, +%d, -%d)\n",
		meta.RecordID, meta.Stats.Files, meta.Stats.LinesAdded, meta.Stats.LinesRemoved)
	fmt.Fprint(d.config.Output, text)

	return meta, nil
}

// candidatePaths turns absolute event paths into sorted, distinct,
// slash-separated relative paths, dropping directories, ignored paths and
// anything outside the project root.
func (d *Daemon) candidatePaths(abs []string) []string {
	root := d.engine.ProjectRoot()
	seen := make(map[string]bool, len(abs))
	var rels []string
	for _, p := range abs {
		if !filepath.IsAbs(p) {
			p = filepath.Join(root, p)
		}
		rel, err := filepath.Rel(root, p)
		if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		// Stat follows symlinks, so a link to a directory is dropped too.
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			continue
		}
		if d.ignore.IsIgnored(p, false) {
			continue
		}
		rel = filepath.ToSlash(rel)
		if !seen[rel] {
			seen[rel] = true
			rels = append(rels, rel)
		}
	}
	sort.Strings(rels)
	return rels
}

// buildArtifacts reads and diffs paths concurrently and returns the
// changed ones in path order.
func (d *Daemon) buildArtifacts(ctx context.Context, paths []string) ([]*patch.Artifact, error) {
	results := make([]*patch.Artifact, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.config.Workers)
	for i, rel := range paths {
		g.Go(func() error {
			a, err := d.buildArtifact(gctx, rel)
			if err != nil {
				return err
			}
			results[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	artifacts := results[:0]
	for _, a := range results {
		if a != nil {
			artifacts = append(artifacts, a)
		}
	}
	return artifacts, nil
}

func (d *Daemon) buildArtifact(ctx context.Context, rel string) (*patch.Artifact, error) {
	after, err := readCurrent(filepath.Join(d.engine.ProjectRoot(), filepath.FromSlash(rel)))
	if err != nil {
		return nil, err
	}

	var before []byte
	sha, ok, err := d.engine.FetchSnapshotContext(ctx, rel)
	if err != nil {
		return nil, err
	}
	if ok {
		before, err = d.engine.ReadBlob(sha)
		if err != nil {
			return nil, fmt.Errorf("failed to load last content of %s: %w", rel, err)
		}
	}

	return patch.Build(patch.Input{Path: rel, Before: before, After: after}), nil
}

// readCurrent returns nil for a missing file and a non-nil slice for an
// existing one, even when it is empty.
func readCurrent(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

func (d *Daemon) bump(fn func(*Stats)) {
	d.statsMu.Lock()
	fn(&d.stats)
	d.statsMu.Unlock()
}

// Stats returns a snapshot of the session counters.
func (d *Daemon) Stats() Stats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()

	s := d.stats
	if d.watcher != nil {
		s.EventsDropped = d.watcher.Dropped()
	}
	return s
}

// Engine returns the storage engine the daemon writes to.
func (d *Daemon) Engine() *store.Engine {
	return d.engine
}
