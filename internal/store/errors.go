package store

import "errors"

// Errors returned by storage operations.
//
// Read operations distinguish missing data from damaged data so callers can
// react differently:
//
//	meta, err := engine.ReadRecordMeta(id)
//	if store.IsNotFound(err) {
//	    // unknown record id
//	}
var (
	// ErrNotFound is returned when a record, patch, blob or registry entry
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrCorrupt is returned when persisted data exists but cannot be
	// decoded or fails its integrity check.
	ErrCorrupt = errors.New("corrupt data")

	// ErrRecordExists is returned by CommitRecord when a record with the
	// same id is already committed. Nothing is written in that case.
	ErrRecordExists = errors.New("record already exists")

	// ErrAmbiguousID is returned when a record id prefix matches more than
	// one record.
	ErrAmbiguousID = errors.New("ambiguous record id")

	// ErrBlobContentMissing is returned when a blob must be created but no
	// content was supplied for it.
	ErrBlobContentMissing = errors.New("blob content missing")

	// ErrUnsupportedLayout is returned when the on-disk layout was written
	// by an incompatible release.
	ErrUnsupportedLayout = errors.New("unsupported storage layout")
)

// IsNotFound reports whether err means the requested data does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsCorrupt reports whether err means persisted data is damaged.
func IsCorrupt(err error) bool {
	return errors.Is(err, ErrCorrupt)
}
