// Package store persists records for one watched project.
//
// Each project owns a directory under the storage root:
//
//   - Content-addressed blobs, zstd-compressed and sharded by digest prefix
//   - One directory per record holding meta.json and diff.patch.zst
//   - timeline.db, an embedded SQLite database (WAL mode) indexing records
//     and tracking the latest known hash of every path
//
// A global bbolt registry under the root maps project ids to their
// canonical paths.
//
// Commit ordering: record files and blobs are written before the database
// transaction that makes the record visible, so a crash can leave orphan
// files but never a database row pointing at missing files.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/chronodiff/chronodiff/internal/digest"
	"github.com/chronodiff/chronodiff/internal/version"
)

// Options configures Open.
type Options struct {
	// Root is the storage root shared by all projects. Required.
	Root string

	// Logger receives debug output. Defaults to a discarding logger.
	Logger *slog.Logger

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Engine is the storage engine for one project. It is safe for concurrent
// use; writes are serialized.
type Engine struct {
	projectID   string
	projectRoot string
	layout      Layout
	registry    *Registry
	logger      *slog.Logger
	now         func() time.Time

	// mu serializes commits. The database pool holds a single connection,
	// so queries queue behind an open transaction anyway.
	mu sync.Mutex
	db *sql.DB
}

// Open canonicalizes projectRoot, creates the project's storage layout if
// needed, opens the metadata database and registers the project.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	engine, err := store.Open("/src/app", store.Options{Root: home})
//	if err != nil {
//	    return err
//	}
//	defer engine.Close()
func Open(projectRoot string, opts Options) (*Engine, error) {
	return OpenContext(context.Background(), projectRoot, opts)
}

// OpenContext is Open with a context for the database setup.
func OpenContext(ctx context.Context, projectRoot string, opts Options) (*Engine, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("storage root is required")
	}
	canonical, err := Canonicalize(projectRoot)
	if err != nil {
		return nil, err
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage root: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	projectID := digest.ProjectID(canonical)
	layout := NewLayout(root, projectID)
	if err := layout.create(); err != nil {
		return nil, fmt.Errorf("failed to create storage layout: %w", err)
	}
	if err := ensureLayoutVersion(layout.VersionFile()); err != nil {
		return nil, err
	}

	conn, err := openDB(ctx, layout.TimelineDB)
	if err != nil {
		return nil, err
	}
	schemaVersion, err := migrateSchema(conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	e := &Engine{
		projectID:   projectID,
		projectRoot: canonical,
		layout:      layout,
		registry:    NewRegistry(layout.RegistryFile),
		logger:      logger.With("project", projectID),
		now:         now,
		db:          conn,
	}

	if err := e.TouchRegistry(); err != nil {
		_ = e.Close()
		return nil, err
	}

	e.logger.Debug("storage opened", "root", canonical, "schema_version", schemaVersion)
	return e, nil
}

// Canonicalize returns the absolute, symlink-free form of path. The path
// must exist and be a directory.
func Canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", resolved, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", resolved)
	}
	return resolved, nil
}

func openDB(ctx context.Context, path string) (*sql.DB, error) {
	connStr := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// One writer process per project; a single connection keeps every
	// statement on the same WAL snapshot.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	return conn, nil
}

func ensureLayoutVersion(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := writeFileAtomic(path, []byte(version.Layout+"\n")); err != nil {
			return fmt.Errorf("failed to write layout version: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read layout version: %w", err)
	}
	if err := version.CheckLayout(strings.TrimSpace(string(data))); err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedLayout, err)
	}
	return nil
}

// ProjectID returns the project's identifier.
func (e *Engine) ProjectID() string {
	return e.projectID
}

// ProjectRoot returns the canonical project directory.
func (e *Engine) ProjectRoot() string {
	return e.projectRoot
}

// Layout returns the project's storage paths.
func (e *Engine) Layout() Layout {
	return e.layout
}

// Registry returns the global project registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// TouchRegistry records the project in the global registry with the
// current time as last seen.
func (e *Engine) TouchRegistry() error {
	entry := ProjectEntryFor(e.projectID, e.projectRoot, e.now())
	if err := e.registry.Touch(entry); err != nil {
		return fmt.Errorf("failed to update registry: %w", err)
	}
	return nil
}

// Close checkpoints the WAL and closes the metadata database.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.db == nil {
		return nil
	}

	if _, err := e.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		e.logger.Warn("failed to checkpoint WAL", "error", err)
	}

	if err := e.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	e.db = nil
	return nil
}
