// Package lock implements the single-watcher-per-project process lock.
//
// The lock is a JSON file naming the owning process. A lock whose owner is
// no longer alive is stale and is taken over by the next Acquire, so a
// watcher killed without cleanup never blocks recovery.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chronodiff/chronodiff/internal/version"
)

// FileName is the lock file's name inside a project's meta directory.
const FileName = "watch.lock"

// ErrLocked is matched by errors.Is when a live process holds the lock.
var ErrLocked = errors.New("watcher already running")

// Info is the content of a lock file.
type Info struct {
	ProjectID   string    `json:"project_id" yaml:"project_id"`
	PID         int       `json:"pid" yaml:"pid"`
	StartedAt   time.Time `json:"started_at" yaml:"started_at"`
	ToolVersion string    `json:"tool_version" yaml:"tool_version"`
	SessionID   string    `json:"session_id,omitempty" yaml:"session_id,omitempty"`
}

// HeldError reports the live owner of a lock.
type HeldError struct {
	Info Info
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("watcher already running for project %s (pid %d)", e.Info.ProjectID, e.Info.PID)
}

func (e *HeldError) Is(target error) bool {
	return target == ErrLocked
}

// Lock is an acquired process lock. Release is safe to call more than once.
type Lock struct {
	path string
	info Info

	once       sync.Once
	releaseErr error
}

// Path returns the lock file location inside metaDir.
func Path(metaDir string) string {
	return filepath.Join(metaDir, FileName)
}

// Acquire takes the lock at path for projectID on behalf of the current
// process. If a live process holds it, Acquire returns a *HeldError and
// leaves the existing file untouched. A stale lock is removed first.
func Acquire(path, projectID string) (*Lock, error) {
	info := Info{
		ProjectID:   projectID,
		PID:         os.Getpid(),
		StartedAt:   time.Now().UTC(),
		ToolVersion: version.Version,
		SessionID:   uuid.NewString(),
	}

	// Two passes: the second runs after clearing a stale lock.
	for attempt := 0; attempt < 2; attempt++ {
		err := publish(path, info)
		if err == nil {
			return &Lock{path: path, info: info}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("failed to write lock file: %w", err)
		}

		existing, err := Read(path)
		if errors.Is(err, os.ErrNotExist) {
			continue // released between our attempt and the read
		}
		if err == nil && IsProcessAlive(existing.PID) {
			return nil, &HeldError{Info: *existing}
		}
		// Unreadable or owned by a dead process.
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to remove stale lock: %w", err)
		}
	}
	return nil, fmt.Errorf("failed to acquire lock %s: contention", path)
}

// publish writes info to a temporary file, syncs it and links it into
// place. Linking fails with os.ErrExist when the lock file already exists,
// so two racing watchers cannot both succeed.
func publish(path string, info Info) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-lock-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	err = os.Link(tmpName, path)
	if err == nil || errors.Is(err, os.ErrExist) {
		return err
	}
	// Filesystems without hard links: fall back to an exclusive create.
	f, cerr := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if cerr != nil {
		return cerr
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

// Read parses the lock file at path. A missing file yields an error
// matching os.ErrNotExist.
func Read(path string) (*Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse lock file %s: %w", path, err)
	}
	return &info, nil
}

// Info returns the content written when the lock was acquired.
func (l *Lock) Info() Info {
	return l.info
}

// Path returns the lock file location.
func (l *Lock) Path() string {
	return l.path
}

// Release removes the lock file if it still belongs to this lock.
func (l *Lock) Release() error {
	l.once.Do(func() {
		current, err := Read(l.path)
		if errors.Is(err, os.ErrNotExist) {
			return
		}
		if err == nil && (current.PID != l.info.PID || current.SessionID != l.info.SessionID) {
			// Taken over after we were presumed dead.
			return
		}
		if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			l.releaseErr = fmt.Errorf("failed to remove lock file: %w", err)
		}
	})
	return l.releaseErr
}

// Status describes the lock file for a project without acquiring it.
type Status struct {
	Path   string `json:"path" yaml:"path"`
	Exists bool   `json:"exists" yaml:"exists"`
	Active bool   `json:"active" yaml:"active"`
	Info   *Info  `json:"info,omitempty" yaml:"info,omitempty"`
}

// Inspect reports whether a lock file exists at path and whether its owner
// is alive.
func Inspect(path string) (Status, error) {
	st := Status{Path: path}
	info, err := Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return st, nil
	}
	st.Exists = true
	if err != nil {
		return st, err
	}
	st.Info = info
	st.Active = IsProcessAlive(info.PID)
	return st, nil
}

// Clear removes the lock file regardless of its owner.
func Clear(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}
