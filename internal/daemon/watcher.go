package daemon

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// EventOp represents the type of file system operation.
type EventOp int

const (
	// OpCreate indicates a new file or directory was created.
	OpCreate EventOp = iota
	// OpModify indicates an existing file was written.
	OpModify
	// OpDelete indicates a file was removed.
	OpDelete
	// OpRename indicates a file was renamed away; the new name arrives as
	// a separate create.
	OpRename
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	case OpRename:
		return "rename"
	default:
		return "unknown"
	}
}

// FileEvent is one raw change notification under the watched root.
type FileEvent struct {
	// Path is the absolute path that changed.
	Path string
	// Op is the operation that occurred.
	Op EventOp
	// At is when the watcher received the event.
	At time.Time
}

// IgnoreFunc reports whether a path should be neither watched nor
// forwarded.
type IgnoreFunc func(path string, isDir bool) bool

// WatcherConfig configures a FileWatcher.
type WatcherConfig struct {
	// BufferSize bounds the Events channel. When it is full new events are
	// dropped and counted instead of blocking the notification goroutine.
	BufferSize int

	// Ignore filters directories before they are watched and events before
	// they are forwarded. Nil forwards everything.
	Ignore IgnoreFunc

	// Logger for watcher activity.
	Logger *slog.Logger
}

// FileWatcher watches a directory tree recursively. Directories created
// after Start are added as they appear.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	config  WatcherConfig
	events  chan FileEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	stopped bool
	root    string
	dropped atomic.Uint64
	logger  *slog.Logger
}

// NewFileWatcher creates a new FileWatcher instance.
// The watcher must be started with Start() before it will emit events.
func NewFileWatcher(config WatcherConfig) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultBufferSize
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &FileWatcher{
		watcher: watcher,
		config:  config,
		events:  make(chan FileEvent, config.BufferSize),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
		logger:  logger,
	}, nil
}

// Start watches root and every non-ignored directory below it.
func (fw *FileWatcher) Start(root string) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.running {
		return fmt.Errorf("watcher already running")
	}
	if fw.stopped {
		return fmt.Errorf("watcher already stopped")
	}

	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("failed to stat watch root %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch root %s is not a directory", root)
	}

	fw.root = root
	if _, err := fw.addTree(root, false); err != nil {
		return err
	}

	fw.running = true
	fw.wg.Add(1)
	go fw.processEvents()

	fw.logger.Debug("watching", "root", root, "directories", len(fw.watcher.WatchList()))
	return nil
}

// addTree adds dir and its subdirectories. With collect set it also
// returns the files found, so files written into a brand-new directory
// before its watch was registered are not missed.
func (fw *FileWatcher) addTree(dir string, collect bool) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			// Vanished or unreadable below the root: skip it.
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != fw.root && fw.ignored(path, true) {
				return fs.SkipDir
			}
			if err := fw.watcher.Add(path); err != nil {
				if path == dir {
					return err
				}
				fw.logger.Warn("failed to watch directory", "path", path, "error", err)
			}
			return nil
		}
		if collect && !fw.ignored(path, false) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	return files, nil
}

func (fw *FileWatcher) ignored(path string, isDir bool) bool {
	return fw.config.Ignore != nil && fw.config.Ignore(path, isDir)
}

// Stop stops watching for file system events and cleans up resources.
// It blocks until the event processing goroutine has exited, then closes
// the Events and Errors channels.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	if fw.stopped {
		fw.mu.Unlock()
		return nil
	}
	wasRunning := fw.running
	fw.running = false
	fw.stopped = true
	fw.mu.Unlock()

	// Signal shutdown
	close(fw.done)

	// Close the underlying watcher (this will unblock the event loop)
	err := fw.watcher.Close()

	if wasRunning {
		fw.wg.Wait()
	}

	close(fw.events)
	close(fw.errors)

	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

// Events returns the channel that emits FileEvent notifications.
// This channel is closed when the watcher is stopped.
func (fw *FileWatcher) Events() <-chan FileEvent {
	return fw.events
}

// Errors returns the channel that emits error notifications.
// This channel is closed when the watcher is stopped.
func (fw *FileWatcher) Errors() <-chan error {
	return fw.errors
}

// Dropped returns how many events were discarded because Events was full.
func (fw *FileWatcher) Dropped() uint64 {
	return fw.dropped.Load()
}

// IsRunning returns true if the watcher is currently running.
func (fw *FileWatcher) IsRunning() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.running
}

// processEvents converts fsnotify events and forwards them without ever
// blocking on a slow consumer.
func (fw *FileWatcher) processEvents() {
	defer fw.wg.Done()

	for {
		select {
		case <-fw.done:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handle(event)

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				fw.dropped.Add(1)
			}
			select {
			case fw.errors <- err:
			default:
				fw.logger.Warn("watcher error", "error", err)
			}
		}
	}
}

func (fw *FileWatcher) handle(event fsnotify.Event) {
	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove):
		op = OpDelete
	case event.Has(fsnotify.Rename):
		op = OpRename
	default:
		// chmod only
		return
	}

	path := event.Name
	if op == OpCreate {
		if info, err := os.Lstat(path); err == nil && info.IsDir() {
			if fw.ignored(path, true) {
				return
			}
			files, err := fw.addTree(path, true)
			if err != nil {
				fw.logger.Warn("failed to watch new directory", "path", path, "error", err)
				return
			}
			for _, f := range files {
				fw.send(FileEvent{Path: f, Op: OpCreate, At: time.Now()})
			}
			return
		}
	}

	if fw.ignored(path, false) {
		return
	}
	fw.send(FileEvent{Path: path, Op: op, At: time.Now()})
}

func (fw *FileWatcher) send(ev FileEvent) {
	select {
	case fw.events <- ev:
	default:
		total := fw.dropped.Add(1)
		fw.logger.Warn("event buffer full, dropping event", "path", ev.Path, "op", ev.Op.String(), "dropped_total", total)
	}
}
