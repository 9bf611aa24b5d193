// Package schema defines the persisted record model for chronodiff.
//
// # Overview
//
// A record is one committed, immutable change-set covering every file that
// changed during a single debounced burst of filesystem activity. Records are
// chained through PrevRecordID, forming a linear chronological history.
//
// # Record Metadata
//
// Each record is written to records/{record_id}/meta.json:
//
//	{
//	  "record_id": "3f9a1c0b7e21",
//	  "project_id": "a41be09c55d2",
//	  "started_at": "2026-03-02T10:15:04.120Z",
//	  "ended_at": "2026-03-02T10:15:04.190Z",
//	  "files": [
//	    {
//	      "path": "a.txt",
//	      "op": "modified",
//	      "before_sha": "…",
//	      "after_sha": "…",
//	      "stats": {"added": 1, "removed": 0, "chunks": 2}
//	    }
//	  ],
//	  "stats": {"files": 1, "lines_added": 1, "lines_removed": 0},
//	  "prev_record_id": "77c01d3e9a40",
//	  "tool_version": "0.3.0"
//	}
//
// # File Operations
//
//   - added    - the path had no recorded content; only after_sha is set
//   - modified - both hashes are set and differ
//   - deleted  - the path no longer exists; only before_sha is set
//
// # Validation
//
// FileRecord.Validate and RecordMeta.Validate enforce the hash presence rules
// above and that RecordStats equals the aggregate of the file entries.
package schema
