// Package patch builds per-file change artifacts: the FileRecord, the
// unified diff text and the blob bytes that must be retained.
//
// Build is a pure function of its inputs. It performs no I/O and is safe to
// call from multiple goroutines.
package patch

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/chronodiff/chronodiff/internal/codec"
	"github.com/chronodiff/chronodiff/internal/digest"
	"github.com/chronodiff/chronodiff/internal/schema"
)

// ContextLines is the number of unchanged lines shown around each hunk.
const ContextLines = 3

// DevNull names the absent side of an added or deleted file.
const DevNull = "/dev/null"

// Input is one path's content before and after a batch. A nil slice means
// the side does not exist; an empty file is a non-nil empty slice.
type Input struct {
	Path   string
	Before []byte
	After  []byte
}

// Artifact is the result of diffing one path.
type Artifact struct {
	Record     schema.FileRecord
	Patch      string
	BeforeBlob []byte
	AfterBlob  []byte
}

// Build diffs in.Before against in.After. It returns nil when the two sides
// are identical or both absent.
func Build(in Input) *Artifact {
	if in.Before == nil && in.After == nil {
		return nil
	}
	if in.Before != nil && in.After != nil && bytes.Equal(in.Before, in.After) {
		return nil
	}

	record := schema.FileRecord{Path: in.Path}
	if in.Before != nil {
		record.BeforeSHA = digest.Bytes(in.Before)
	}
	if in.After != nil {
		record.AfterSHA = digest.Bytes(in.After)
	}
	if record.BeforeSHA != "" && record.BeforeSHA == record.AfterSHA {
		return nil
	}

	switch {
	case in.Before == nil:
		record.Op = schema.OpAdded
	case in.After == nil:
		record.Op = schema.OpDeleted
	default:
		record.Op = schema.OpModified
	}

	var text string
	if isBinary(in.Before) || isBinary(in.After) {
		text, record.Stats = binaryPatch(in.Path)
	} else {
		text, record.Stats = unifiedDiff(in.Path, in.Before, in.After)
	}

	return &Artifact{
		Record:     record,
		Patch:      text,
		BeforeBlob: in.Before,
		AfterBlob:  in.After,
	}
}

// BinaryPlaceholder is the patch text recorded for non-text content.
func BinaryPlaceholder(path string) string {
	return "Binary file change: " + path + "\n"
}

func isBinary(b []byte) bool {
	return b != nil && !utf8.Valid(b)
}

func binaryPatch(path string) (string, schema.FileStats) {
	return BinaryPlaceholder(path), schema.FileStats{Chunks: 1}
}

func unifiedDiff(path string, before, after []byte) (string, schema.FileStats) {
	a := splitLines(string(before))
	b := splitLines(string(after))

	m := difflib.NewMatcherWithJunk(a, b, false, nil)

	var stats schema.FileStats
	codes := m.GetOpCodes()
	stats.Chunks = len(codes)
	for _, c := range codes {
		switch c.Tag {
		case 'r':
			stats.Removed += c.I2 - c.I1
			stats.Added += c.J2 - c.J1
		case 'd':
			stats.Removed += c.I2 - c.I1
		case 'i':
			stats.Added += c.J2 - c.J1
		}
	}

	from, to := DevNull, DevNull
	if before != nil {
		from = "a/" + path
	}
	if after != nil {
		to = "b/" + path
	}

	var buf strings.Builder
	fmt.Fprintf(&buf, "--- %s\n+++ %s\n", from, to)
	for _, group := range m.GetGroupedOpCodes(ContextLines) {
		first, last := group[0], group[len(group)-1]
		fmt.Fprintf(&buf, "@@ -%s +%s @@\n", formatRange(first.I1, last.I2), formatRange(first.J1, last.J2))
		for _, c := range group {
			if c.Tag == 'e' {
				writeLines(&buf, ' ', a[c.I1:c.I2])
				continue
			}
			if c.Tag == 'r' || c.Tag == 'd' {
				writeLines(&buf, '-', a[c.I1:c.I2])
			}
			if c.Tag == 'r' || c.Tag == 'i' {
				writeLines(&buf, '+', b[c.J1:c.J2])
			}
		}
	}
	return buf.String(), stats
}

// splitLines keeps line terminators so "a" and "a\n" compare unequal.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func writeLines(buf *strings.Builder, prefix byte, lines []string) {
	for _, line := range lines {
		buf.WriteByte(prefix)
		buf.WriteString(line)
		if !strings.HasSuffix(line, "\n") {
			buf.WriteString("\n\\ No newline at end of file\n")
		}
	}
}

// formatRange renders a hunk range in unified diff notation.
func formatRange(start, stop int) string {
	beginning := start + 1
	length := stop - start
	if length == 1 {
		return strconv.Itoa(beginning)
	}
	if length == 0 {
		beginning--
	}
	return fmt.Sprintf("%d,%d", beginning, length)
}

// Concat joins per-file patches, each terminated by a newline and separated
// by a blank line.
func Concat(artifacts []*Artifact) string {
	var buf strings.Builder
	for _, a := range artifacts {
		buf.WriteString(a.Patch)
		if !strings.HasSuffix(a.Patch, "\n") {
			buf.WriteByte('\n')
		}
		buf.WriteByte('\n')
	}
	return buf.String()
}

// Compress returns the zstd-compressed patch text.
func Compress(text string) ([]byte, error) {
	return codec.Compress([]byte(text))
}

// Decompress reverses Compress.
func Decompress(data []byte) (string, error) {
	out, err := codec.Decompress(data)
	if err != nil {
		return "", fmt.Errorf("failed to decompress patch: %w", err)
	}
	return string(out), nil
}

// FilterFile keeps only the sections of a concatenated patch that belong to
// file. The result is empty when the record did not touch file.
func FilterFile(text, file string) string {
	var kept []string
	for _, section := range strings.Split(text, "\n\n") {
		if sectionMatches(section, file) {
			kept = append(kept, section)
		}
	}
	return strings.Join(kept, "\n\n")
}

func sectionMatches(section, file string) bool {
	for _, line := range strings.SplitN(section, "\n", 3) {
		switch line {
		case "--- a/" + file, "+++ b/" + file, strings.TrimSuffix(BinaryPlaceholder(file), "\n"):
			return true
		}
	}
	return false
}
