// Package digest computes the content hashes that identify blobs, projects
// and records.
//
// All digests are BLAKE2b-256 rendered as lowercase hex. Project and record
// identifiers are the first IDLength hex characters of a digest.
package digest

import (
	"encoding/binary"
	"encoding/hex"
	"hash"
	"io"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/chronodiff/chronodiff/internal/schema"
)

// IDLength is the number of hex characters kept for project and record ids.
const IDLength = 12

// New returns a streaming hasher producing the same digests as Bytes.
func New() hash.Hash {
	h, err := blake2b.New256(nil)
	if err != nil {
		// only reachable with an oversized key
		panic(err)
	}
	return h
}

// Bytes returns the hex digest of b.
func Bytes(b []byte) string {
	sum := blake2b.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Reader returns the hex digest of everything read from r.
func Reader(r io.Reader) (string, error) {
	h := New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ProjectID derives the project identifier from a canonical absolute path.
// Callers must canonicalize first; the same directory reached through a
// symlink would otherwise get a different id.
func ProjectID(canonicalPath string) string {
	return Bytes([]byte(canonicalPath))[:IDLength]
}

// RecordID derives a deterministic record identifier from the project id,
// the batch start time (millisecond precision) and each file's path and
// after-hash, in the order given.
func RecordID(projectID string, startedAt time.Time, files []schema.FileRecord) string {
	h := New()
	h.Write([]byte(projectID))

	var ms [8]byte
	binary.BigEndian.PutUint64(ms[:], uint64(startedAt.UnixMilli()))
	h.Write(ms[:])

	for _, f := range files {
		h.Write([]byte(f.Path))
		if f.AfterSHA != "" {
			h.Write([]byte(f.AfterSHA))
		}
	}
	return hex.EncodeToString(h.Sum(nil))[:IDLength]
}

// ValidHex reports whether s is a non-empty lowercase hex string. Used to
// reject identifiers that would escape the storage layout.
func ValidHex(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
