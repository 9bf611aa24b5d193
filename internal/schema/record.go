package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// FileOp is the kind of change recorded for a single path.
type FileOp string

const (
	OpAdded    FileOp = "added"
	OpModified FileOp = "modified"
	OpDeleted  FileOp = "deleted"
)

// Valid reports whether op is one of the known operations.
func (op FileOp) Valid() bool {
	switch op {
	case OpAdded, OpModified, OpDeleted:
		return true
	}
	return false
}

// FileStats holds per-file line statistics.
type FileStats struct {
	Added   int `json:"added" yaml:"added"`
	Removed int `json:"removed" yaml:"removed"`
	Chunks  int `json:"chunks" yaml:"chunks"`
}

// FileRecord is one file's change within a record.
type FileRecord struct {
	Path      string    `json:"path" yaml:"path"`
	Op        FileOp    `json:"op" yaml:"op"`
	BeforeSHA string    `json:"before_sha,omitempty" yaml:"before_sha,omitempty"`
	AfterSHA  string    `json:"after_sha,omitempty" yaml:"after_sha,omitempty"`
	Stats     FileStats `json:"stats" yaml:"stats"`
}

// Validate checks the hash presence rules for the operation kind.
func (f *FileRecord) Validate() error {
	if f.Path == "" {
		return fmt.Errorf("path is required")
	}
	switch f.Op {
	case OpAdded:
		if f.BeforeSHA != "" {
			return fmt.Errorf("added file %s must not have a before hash", f.Path)
		}
		if f.AfterSHA == "" {
			return fmt.Errorf("added file %s requires an after hash", f.Path)
		}
	case OpDeleted:
		if f.AfterSHA != "" {
			return fmt.Errorf("deleted file %s must not have an after hash", f.Path)
		}
		if f.BeforeSHA == "" {
			return fmt.Errorf("deleted file %s requires a before hash", f.Path)
		}
	case OpModified:
		if f.BeforeSHA == "" || f.AfterSHA == "" {
			return fmt.Errorf("modified file %s requires both hashes", f.Path)
		}
		if f.BeforeSHA == f.AfterSHA {
			return fmt.Errorf("modified file %s has identical hashes", f.Path)
		}
	default:
		return fmt.Errorf("invalid op %q for %s", f.Op, f.Path)
	}
	if f.Stats.Added < 0 || f.Stats.Removed < 0 || f.Stats.Chunks < 0 {
		return fmt.Errorf("negative stats for %s", f.Path)
	}
	return nil
}

// RecordStats aggregates line statistics across a record's files.
type RecordStats struct {
	Files        int `json:"files" yaml:"files"`
	LinesAdded   int `json:"lines_added" yaml:"lines_added"`
	LinesRemoved int `json:"lines_removed" yaml:"lines_removed"`
}

// AggregateStats sums per-file statistics.
func AggregateStats(files []FileRecord) RecordStats {
	stats := RecordStats{Files: len(files)}
	for _, f := range files {
		stats.LinesAdded += f.Stats.Added
		stats.LinesRemoved += f.Stats.Removed
	}
	return stats
}

// RecordMeta describes a committed change-set.
type RecordMeta struct {
	RecordID     string       `json:"record_id" yaml:"record_id"`
	ProjectID    string       `json:"project_id" yaml:"project_id"`
	StartedAt    time.Time    `json:"started_at" yaml:"started_at"`
	EndedAt      time.Time    `json:"ended_at" yaml:"ended_at"`
	Files        []FileRecord `json:"files" yaml:"files"`
	Stats        RecordStats  `json:"stats" yaml:"stats"`
	PrevRecordID string       `json:"prev_record_id,omitempty" yaml:"prev_record_id,omitempty"`
	ToolVersion  string       `json:"tool_version" yaml:"tool_version"`
}

// Validate checks the record and every file entry.
func (m *RecordMeta) Validate() error {
	if m.RecordID == "" {
		return fmt.Errorf("record_id is required")
	}
	if m.ProjectID == "" {
		return fmt.Errorf("project_id is required")
	}
	if m.StartedAt.IsZero() || m.EndedAt.IsZero() {
		return fmt.Errorf("started_at and ended_at are required")
	}
	if m.EndedAt.Before(m.StartedAt) {
		return fmt.Errorf("ended_at %s is before started_at %s", m.EndedAt, m.StartedAt)
	}
	if len(m.Files) == 0 {
		return fmt.Errorf("record %s has no files", m.RecordID)
	}
	seen := make(map[string]bool, len(m.Files))
	for i := range m.Files {
		if err := m.Files[i].Validate(); err != nil {
			return err
		}
		if seen[m.Files[i].Path] {
			return fmt.Errorf("duplicate path %s in record %s", m.Files[i].Path, m.RecordID)
		}
		seen[m.Files[i].Path] = true
	}
	if m.Stats != AggregateStats(m.Files) {
		return fmt.Errorf("stats do not match files for record %s", m.RecordID)
	}
	return nil
}

// Duration returns the wall-clock span of the batch that produced the record.
func (m *RecordMeta) Duration() time.Duration {
	return m.EndedAt.Sub(m.StartedAt)
}

// ReadRecordMeta reads and validates a meta.json document.
func ReadRecordMeta(path string) (*RecordMeta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var meta RecordMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse record metadata %s: %w", path, err)
	}
	if err := meta.Validate(); err != nil {
		return nil, fmt.Errorf("invalid record metadata %s: %w", path, err)
	}

	return &meta, nil
}

// TimelineEntry is the summary row returned by timeline queries.
type TimelineEntry struct {
	RecordID     string    `json:"record_id" yaml:"record_id" expr:"id"`
	Timestamp    time.Time `json:"timestamp" yaml:"timestamp" expr:"timestamp"`
	Files        int       `json:"files" yaml:"files" expr:"files"`
	LinesAdded   int       `json:"lines_added" yaml:"lines_added" expr:"added"`
	LinesRemoved int       `json:"lines_removed" yaml:"lines_removed" expr:"removed"`
	DurationMS   int64     `json:"duration_ms" yaml:"duration_ms" expr:"duration_ms"`
	Notes        string    `json:"notes,omitempty" yaml:"notes,omitempty" expr:"notes"`
}

// ProjectEntry associates a project id with its canonical root.
type ProjectEntry struct {
	ProjectID string `json:"project_id" yaml:"project_id"`
	Path      string `json:"path" yaml:"path"`
	LastSeen  int64  `json:"last_seen" yaml:"last_seen"`
}

// LastSeenTime returns LastSeen as a time.Time.
func (p ProjectEntry) LastSeenTime() time.Time {
	return time.Unix(p.LastSeen, 0)
}
