package store

import (
	"os"
	"path/filepath"
)

// Layout names every path the engine owns for one project.
//
//	<root>/registry.db
//	<root>/<project>/blobs/<sha[:2]>/<sha>.zst
//	<root>/<project>/records/<id>/meta.json
//	<root>/<project>/records/<id>/diff.patch.zst
//	<root>/<project>/meta/version
//	<root>/<project>/meta/watch.lock
//	<root>/<project>/logs/watch.log
//	<root>/<project>/timeline.db
type Layout struct {
	Root         string
	ProjectDir   string
	BlobsDir     string
	RecordsDir   string
	MetaDir      string
	LogsDir      string
	TimelineDB   string
	RegistryFile string
}

// NewLayout returns the layout for projectID under the storage root.
func NewLayout(root, projectID string) Layout {
	projectDir := filepath.Join(root, projectID)
	return Layout{
		Root:         root,
		ProjectDir:   projectDir,
		BlobsDir:     filepath.Join(projectDir, "blobs"),
		RecordsDir:   filepath.Join(projectDir, "records"),
		MetaDir:      filepath.Join(projectDir, "meta"),
		LogsDir:      filepath.Join(projectDir, "logs"),
		TimelineDB:   filepath.Join(projectDir, "timeline.db"),
		RegistryFile: RegistryPath(root),
	}
}

// RegistryPath returns the global registry location under root.
func RegistryPath(root string) string {
	return filepath.Join(root, "registry.db")
}

// BlobPath shards blobs by the first two hex characters of their digest.
func (l Layout) BlobPath(sha string) string {
	return filepath.Join(l.BlobsDir, sha[:2], sha+".zst")
}

// RecordDir returns the directory holding one record's files.
func (l Layout) RecordDir(recordID string) string {
	return filepath.Join(l.RecordsDir, recordID)
}

// MetaFile returns the path of a record's metadata document.
func (l Layout) MetaFile(recordID string) string {
	return filepath.Join(l.RecordDir(recordID), "meta.json")
}

// PatchFile returns the path of a record's compressed patch.
func (l Layout) PatchFile(recordID string) string {
	return filepath.Join(l.RecordDir(recordID), "diff.patch.zst")
}

// VersionFile returns the path of the layout version marker.
func (l Layout) VersionFile() string {
	return filepath.Join(l.MetaDir, "version")
}

func (l Layout) create() error {
	for _, dir := range []string{l.ProjectDir, l.BlobsDir, l.RecordsDir, l.MetaDir, l.LogsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// writeFileAtomic writes data to a temporary file in the target directory,
// syncs it and renames it over path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
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
	return os.Rename(tmpName, path)
}
