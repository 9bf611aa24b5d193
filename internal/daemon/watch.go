package daemon

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chronodiff/chronodiff/internal/ignore"
	"github.com/chronodiff/chronodiff/internal/lock"
	"github.com/chronodiff/chronodiff/internal/store"
)

// WatchOptions configures Watch.
type WatchOptions struct {
	// StorageRoot is the storage root shared by all projects. Required.
	StorageRoot string

	// Config is passed to the daemon. Nil uses DefaultConfig().
	Config *Config

	// OnReady, if set, is called once the lock is held and before the
	// first event is read.
	OnReady func(d *Daemon, l *lock.Lock)
}

// Watch runs one watch session for projectRoot until ctx is cancelled.
//
// It opens storage, takes the project's process lock (failing fast with an
// error matching lock.ErrLocked if a live watcher holds it), loads ignore
// rules and runs the daemon. The lock is released on every return path.
func Watch(ctx context.Context, projectRoot string, opts WatchOptions) error {
	config := opts.Config
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	engine, err := store.OpenContext(ctx, projectRoot, store.Options{
		Root:   opts.StorageRoot,
		Logger: logger,
		Now:    config.Now,
	})
	if err != nil {
		return err
	}
	defer engine.Close()

	lk, err := lock.Acquire(lock.Path(engine.Layout().MetaDir), engine.ProjectID())
	if err != nil {
		return err
	}
	defer func() {
		if err := lk.Release(); err != nil {
			logger.Warn("failed to release lock", "error", err)
		}
	}()

	if config.SessionID == "" {
		cfg := *config
		cfg.SessionID = lk.Info().SessionID
		config = &cfg
	}

	// Never record the storage root, even when it lives inside the project.
	matcher, err := ignore.Load(engine.ProjectRoot(), engine.Layout().Root)
	if err != nil {
		return fmt.Errorf("failed to load ignore rules: %w", err)
	}

	d, err := NewWithConfig(engine, matcher, config)
	if err != nil {
		return err
	}
	if opts.OnReady != nil {
		opts.OnReady(d, lk)
	}
	return d.Start(ctx)
}
