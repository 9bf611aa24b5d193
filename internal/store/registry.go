package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/chronodiff/chronodiff/internal/schema"
)

var projectsBucket = []byte("projects")

// registryTimeout bounds how long an operation waits for another process
// holding the registry file lock.
const registryTimeout = 5 * time.Second

// Registry is the global project index shared by every watcher and CLI
// invocation on the machine. The bbolt file is opened per operation so
// that no process holds its lock for longer than one transaction.
type Registry struct {
	path string
}

// NewRegistry returns a registry backed by the bbolt file at path.
func NewRegistry(path string) *Registry {
	return &Registry{path: path}
}

// Path returns the registry file location.
func (r *Registry) Path() string {
	return r.path
}

// ProjectEntryFor builds a registry entry stamped with now.
func ProjectEntryFor(projectID, root string, now time.Time) schema.ProjectEntry {
	return schema.ProjectEntry{ProjectID: projectID, Path: root, LastSeen: now.Unix()}
}

func (r *Registry) open(readOnly bool) (*bbolt.DB, error) {
	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create registry directory: %w", err)
	}
	db, err := bbolt.Open(r.path, 0644, &bbolt.Options{Timeout: registryTimeout, ReadOnly: readOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to open registry: %w", err)
	}
	return db, nil
}

func (r *Registry) update(fn func(b *bbolt.Bucket) error) error {
	db, err := r.open(false)
	if err != nil {
		return err
	}
	defer db.Close()

	return db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(projectsBucket)
		if err != nil {
			return err
		}
		return fn(b)
	})
}

func (r *Registry) view(fn func(b *bbolt.Bucket) error) error {
	if _, err := os.Stat(r.path); os.IsNotExist(err) {
		return fn(nil)
	}
	db, err := r.open(true)
	if err != nil {
		return err
	}
	defer db.Close()

	return db.View(func(tx *bbolt.Tx) error {
		return fn(tx.Bucket(projectsBucket))
	})
}

// Touch inserts or replaces the entry for entry.ProjectID.
func (r *Registry) Touch(entry schema.ProjectEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal registry entry: %w", err)
	}
	return r.update(func(b *bbolt.Bucket) error {
		return b.Put([]byte(entry.ProjectID), data)
	})
}

// List returns all known projects, most recently seen first.
func (r *Registry) List() ([]schema.ProjectEntry, error) {
	var entries []schema.ProjectEntry
	err := r.view(func(b *bbolt.Bucket) error {
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var entry schema.ProjectEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("%w: registry entry %s: %v", ErrCorrupt, k, err)
			}
			entries = append(entries, entry)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].LastSeen != entries[j].LastSeen {
			return entries[i].LastSeen > entries[j].LastSeen
		}
		return entries[i].ProjectID < entries[j].ProjectID
	})
	return entries, nil
}

// Find returns the entry for projectID.
func (r *Registry) Find(projectID string) (schema.ProjectEntry, error) {
	var (
		entry schema.ProjectEntry
		found bool
	)
	err := r.view(func(b *bbolt.Bucket) error {
		if b == nil {
			return nil
		}
		v := b.Get([]byte(projectID))
		if v == nil {
			return nil
		}
		found = true
		if err := json.Unmarshal(v, &entry); err != nil {
			return fmt.Errorf("%w: registry entry %s: %v", ErrCorrupt, projectID, err)
		}
		return nil
	})
	if err != nil {
		return schema.ProjectEntry{}, err
	}
	if !found {
		return schema.ProjectEntry{}, fmt.Errorf("%w: project %s", ErrNotFound, projectID)
	}
	return entry, nil
}

// Remove deletes the entry for projectID. Removing an unknown id is not an
// error.
func (r *Registry) Remove(projectID string) error {
	return r.update(func(b *bbolt.Bucket) error {
		return b.Delete([]byte(projectID))
	})
}

// Prune removes entries whose project directory no longer exists and
// returns them.
func (r *Registry) Prune() ([]schema.ProjectEntry, error) {
	var pruned []schema.ProjectEntry
	err := r.update(func(b *bbolt.Bucket) error {
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var entry schema.ProjectEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("%w: registry entry %s: %v", ErrCorrupt, k, err)
			}
			if info, err := os.Stat(entry.Path); err != nil || !info.IsDir() {
				stale = append(stale, append([]byte(nil), k...))
				pruned = append(pruned, entry)
			}
			return nil
		})
		if err != nil {
			return err
		}
		// Deleting inside ForEach is not allowed.
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pruned, nil
}
