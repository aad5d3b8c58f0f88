// Package gitignore implements gitignore-style pattern matching for the
// ingest scanner, so an ingested folder's .gitignore keeps build output
// and vendored files out of the index.
package gitignore

import (
	"bufio"
	"os"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// rule is one parsed pattern. Later rules override earlier ones, which is
// how negation works.
type rule struct {
	pattern string
	negate  bool
	dirOnly bool
}

// Matcher holds parsed ignore patterns.
type Matcher struct {
	rules []rule
}

// New creates an empty matcher that ignores nothing.
func New() *Matcher {
	return &Matcher{}
}

// AddPattern parses one gitignore pattern line. Blank lines and comments
// are dropped.
func (m *Matcher) AddPattern(line string) {
	line = strings.TrimRight(line, " ")
	if line == "" || strings.HasPrefix(line, "#") {
		return
	}

	r := rule{}
	if strings.HasPrefix(line, "!") {
		r.negate = true
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		r.dirOnly = true
		line = strings.TrimSuffix(line, "/")
	}

	// A pattern with no interior slash matches at any depth; a slash
	// anchors it to the ignore file's directory.
	if strings.HasPrefix(line, "/") {
		line = line[1:]
	} else if !strings.Contains(line, "/") {
		line = "**/" + line
	}
	if line == "" {
		return
	}

	r.pattern = line
	m.rules = append(m.rules, r)
}

// AddFromFile parses an ignore file. A missing file is not an error.
func (m *Matcher) AddFromFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		m.AddPattern(scanner.Text())
	}
	return scanner.Err()
}

// Len reports how many rules are loaded.
func (m *Matcher) Len() int {
	return len(m.rules)
}

// Match reports whether the slash-separated relative path is ignored.
// The last matching rule wins, so "!kept.md" can override "*.md".
func (m *Matcher) Match(rel string, isDir bool) bool {
	rel = strings.Trim(rel, "/")
	if rel == "" || rel == "." {
		return false
	}

	ignored := false
	for _, r := range m.rules {
		if r.dirOnly && !isDir && m.matchesSelf(r.pattern, rel) {
			continue
		}
		if m.matchesSelf(r.pattern, rel) || m.matchesParent(r.pattern, rel) {
			ignored = !r.negate
		}
	}
	return ignored
}

func (m *Matcher) matchesSelf(pattern, rel string) bool {
	ok, err := doublestar.Match(pattern, rel)
	return err == nil && ok
}

// matchesParent reports whether rel lives under a directory the pattern
// matches; ignoring a directory ignores everything inside it.
func (m *Matcher) matchesParent(pattern, rel string) bool {
	ok, err := doublestar.Match(pattern+"/**", rel)
	return err == nil && ok
}
