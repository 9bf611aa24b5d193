// Package ignore decides which paths under a project are excluded from
// recording. Rules use gitignore syntax: built-in defaults for VCS and build
// directories, followed by the project's .chronodiffignore file. Later rules
// win, so the project file can re-include a default with "!pattern".
package ignore

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v6/plumbing/format/gitignore"
)

// FileName is the project-local override file.
const FileName = ".chronodiffignore"

// SourceDefault labels built-in rules.
const SourceDefault = "default"

// DefaultPatterns are applied to every project.
var DefaultPatterns = []string{
	".git/",
	".svn/",
	".hg/",
	"node_modules/",
	"dist/",
	"build/",
	"coverage/",
	"__pycache__/",
	"venv/",
	".venv/",
	".idea/",
	".vscode/",
	".DS_Store",
	"target/",
}

// Rule is one pattern and where it came from.
type Rule struct {
	Pattern string `json:"pattern" yaml:"pattern"`
	Source  string `json:"source" yaml:"source"`
}

// Matcher answers "is this path excluded" for one project root.
type Matcher struct {
	root     string
	rules    []Rule
	matcher  gitignore.Matcher
	excluded []string
}

// Load builds a matcher for root from the defaults and root/.chronodiffignore,
// if present. Paths under any of excludeDirs are always ignored.
func Load(root string, excludeDirs ...string) (*Matcher, error) {
	rules := make([]Rule, 0, len(DefaultPatterns))
	for _, p := range DefaultPatterns {
		rules = append(rules, Rule{Pattern: p, Source: SourceDefault})
	}

	overridePath := filepath.Join(root, FileName)
	lines, err := readPatternFile(overridePath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read %s: %w", overridePath, err)
	}
	for _, line := range lines {
		rules = append(rules, Rule{Pattern: line, Source: FileName})
	}

	return New(root, rules, excludeDirs...), nil
}

// New builds a matcher from explicit rules.
func New(root string, rules []Rule, excludeDirs ...string) *Matcher {
	patterns := make([]gitignore.Pattern, 0, len(rules))
	for _, r := range rules {
		patterns = append(patterns, gitignore.ParsePattern(r.Pattern, nil))
	}

	m := &Matcher{
		root:    filepath.Clean(root),
		rules:   rules,
		matcher: gitignore.NewMatcher(patterns),
	}
	for _, dir := range excludeDirs {
		if dir != "" {
			m.excluded = append(m.excluded, filepath.Clean(dir))
		}
	}
	return m
}

func readPatternFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}

// Root returns the project root the matcher resolves paths against.
func (m *Matcher) Root() string {
	return m.root
}

// Rules returns the rules in evaluation order.
func (m *Matcher) Rules() []Rule {
	return append([]Rule(nil), m.rules...)
}

// IsIgnored reports whether absPath is excluded. Paths outside the project
// root and paths inside an excluded directory are always ignored; the root
// itself never is.
func (m *Matcher) IsIgnored(absPath string, isDir bool) bool {
	absPath = filepath.Clean(absPath)
	for _, dir := range m.excluded {
		if absPath == dir || strings.HasPrefix(absPath, dir+string(filepath.Separator)) {
			return true
		}
	}

	rel, err := filepath.Rel(m.root, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return true
	}
	if rel == "." {
		return false
	}
	return m.matcher.Match(strings.Split(filepath.ToSlash(rel), "/"), isDir)
}

// IsIgnoredRel is IsIgnored for a slash-separated path relative to the root.
func (m *Matcher) IsIgnoredRel(rel string, isDir bool) bool {
	return m.IsIgnored(filepath.Join(m.root, filepath.FromSlash(rel)), isDir)
}
