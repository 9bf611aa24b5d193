// Package daemon watches a project directory and records bursts of changes.
//
// # Architecture
//
// A watch session has three stages connected by a bounded channel:
//
//   - FileWatcher: recursive fsnotify monitoring of the project tree
//   - Batcher: sliding debounce that closes a batch after a quiet window
//   - Daemon: diffs each batch against the last recorded content and
//     commits one record through the storage engine
//
// Watch wires these together with the process lock and ignore rules:
//
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//
//	err := daemon.Watch(ctx, "/src/app", daemon.WatchOptions{
//	    StorageRoot: home,
//	    Config:      daemon.DefaultConfig(),
//	})
//
// # File Watching
//
// Directories are added recursively at Start and whenever a new directory
// appears. Ignored directories are never watched. Files already inside a
// newly created directory are reported as creates, since they may have been
// written before the directory's watch was registered.
//
// The watcher maps fsnotify operations as follows:
//   - fsnotify.Create → OpCreate
//   - fsnotify.Write → OpModify
//   - fsnotify.Remove → OpDelete
//   - fsnotify.Rename → OpRename (the new name triggers a separate Create)
//
// Chmod-only events are discarded.
//
// # Back-pressure
//
// The notification goroutine never blocks on the consumer. When the Events
// channel is full the event is dropped and counted (see FileWatcher.Dropped).
// Dropping is safe: each batch reads current file content, so a later event
// for the same file still records the net change.
//
// # Batch Processing
//
// Batches are processed one at a time in arrival order, so every batch sees
// the commits of all earlier batches. Within a batch, files are read and
// diffed in parallel (Config.Workers) and then assembled in path order, which
// keeps record ids and patch text reproducible.
//
// A batch whose files all turn out unchanged produces no record. A batch that
// fails is logged and reported to the Notifier; the loop continues.
//
// # Graceful Shutdown
//
// Cancelling the context stops the loop at its next wait. A commit already
// in progress is not interrupted. The in-progress batch, if any, is dropped.
package daemon
