// Package query parses the user-facing timeline query language: loose time
// bounds ("2 hours ago", "yesterday 14:00", RFC3339) and boolean filter
// expressions over timeline entries.
package query

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/chronodiff/chronodiff/internal/schema"
)

// ErrEmptyTime is returned by ParseTime for blank input.
var ErrEmptyTime = errors.New("empty time expression")

var parser = newParser()

func newParser() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}

var layouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	time.DateOnly,
}

// ParseTime resolves text relative to base. Absolute timestamps are tried
// first, then natural language.
func ParseTime(text string, base time.Time) (time.Time, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, ErrEmptyTime
	}

	for _, layout := range layouts {
		loc := base.Location()
		if t, err := time.ParseInLocation(layout, text, loc); err == nil {
			return t, nil
		}
	}

	r, err := parser.Parse(text, base)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse time %q: %w", text, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("unrecognized time %q", text)
	}
	return r.Time, nil
}

// Filter is a compiled boolean expression over a timeline entry.
//
// Available names: id, timestamp, files, added, removed, duration_ms, notes.
type Filter struct {
	source  string
	program *vm.Program
}

// CompileFilter compiles src. An empty src yields a filter that matches
// everything.
func CompileFilter(src string) (*Filter, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return &Filter{}, nil
	}
	program, err := expr.Compile(src,
		expr.Env(schema.TimelineEntry{}),
		expr.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to compile filter %q: %w", src, err)
	}
	return &Filter{source: src, program: program}, nil
}

// String returns the filter source.
func (f *Filter) String() string {
	return f.source
}

// Match evaluates the filter against entry.
func (f *Filter) Match(entry schema.TimelineEntry) (bool, error) {
	if f == nil || f.program == nil {
		return true, nil
	}
	out, err := expr.Run(f.program, entry)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate filter %q: %w", f.source, err)
	}
	ok, _ := out.(bool)
	return ok, nil
}

// Apply returns the entries matching f, preserving order.
func (f *Filter) Apply(entries []schema.TimelineEntry) ([]schema.TimelineEntry, error) {
	if f == nil || f.program == nil {
		return entries, nil
	}
	kept := make([]schema.TimelineEntry, 0, len(entries))
	for _, e := range entries {
		ok, err := f.Match(e)
		if err != nil {
			return nil, err
		}
		if ok {
			kept = append(kept, e)
		}
	}
	return kept, nil
}
