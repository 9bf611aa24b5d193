package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/chronodiff/chronodiff/internal/codec"
	"github.com/chronodiff/chronodiff/internal/digest"
)

// EnsureBlob stores content under sha unless a blob with that digest is
// already present. Calling it again for an existing blob is a no-op, so
// content may be nil when the caller knows the blob exists.
func (e *Engine) EnsureBlob(sha string, content []byte) error {
	if len(sha) < 3 || !digest.ValidHex(sha) {
		return fmt.Errorf("invalid blob id %q", sha)
	}

	path := e.layout.BlobPath(sha)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to stat blob %s: %w", sha, err)
	}

	if content == nil {
		return fmt.Errorf("%w: %s", ErrBlobContentMissing, sha)
	}
	if got := digest.Bytes(content); got != sha {
		return fmt.Errorf("blob content hashes to %s, not %s", got, sha)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create blob directory: %w", err)
	}
	if err := writeBlobAtomic(path, content); err != nil {
		return fmt.Errorf("failed to write blob %s: %w", sha, err)
	}

	e.logger.Debug("stored blob", "sha", sha, "size", len(content))
	return nil
}

// writeBlobAtomic streams content through a zstd writer into a temporary
// file and renames it into place. Concurrent writers of the same digest
// produce identical files, so the last rename wins harmlessly.
func writeBlobAtomic(path string, content []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-blob-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	zw, err := codec.NewWriter(tmp)
	if err != nil {
		tmp.Close()
		return err
	}
	if _, err := zw.Write(content); err != nil {
		zw.Close()
		tmp.Close()
		return err
	}
	if err := zw.Close(); err != nil {
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

// ReadBlob returns the decompressed content stored under sha. A missing
// blob yields ErrNotFound; a blob that cannot be decoded or whose content
// no longer matches its digest yields ErrCorrupt.
func (e *Engine) ReadBlob(sha string) ([]byte, error) {
	if len(sha) < 3 || !digest.ValidHex(sha) {
		return nil, fmt.Errorf("%w: blob %q", ErrNotFound, sha)
	}

	data, err := os.ReadFile(e.layout.BlobPath(sha))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: blob %s", ErrNotFound, sha)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", sha, err)
	}

	content, err := codec.Decompress(data)
	if err != nil {
		return nil, fmt.Errorf("%w: blob %s: %v", ErrCorrupt, sha, err)
	}
	if digest.Bytes(content) != sha {
		return nil, fmt.Errorf("%w: blob %s does not match its digest", ErrCorrupt, sha)
	}
	return content, nil
}

// HasBlob reports whether a blob with the given digest is stored.
func (e *Engine) HasBlob(sha string) bool {
	if len(sha) < 3 || !digest.ValidHex(sha) {
		return false
	}
	_, err := os.Stat(e.layout.BlobPath(sha))
	return err == nil
}
