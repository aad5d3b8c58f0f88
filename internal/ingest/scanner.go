// Package ingest turns folders of documents into indexed chunks: scan,
// read, chunk, embed, index. A single flock-guarded pipeline run keeps
// concurrent ingests from interleaving writes, and a watcher can re-run
// the pipeline when files change.
package ingest

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/minhdn/ragserve/internal/gitignore"
)

// DefaultIncludes are the document patterns ingested when the caller does
// not override them.
var DefaultIncludes = []string{
	"**/*.md",
	"**/*.markdown",
	"**/*.txt",
	"**/*.rst",
	"**/*.csv",
	"**/*.json",
}

// DefaultExcludes are always-skipped paths.
var DefaultExcludes = []string{
	"**/.git/**",
	"**/node_modules/**",
	"**/.ragserve/**",
}

// FileInfo is one scanned file.
type FileInfo struct {
	Path    string
	RelPath string
	Size    int64
	ModTime int64
}

// Scanner walks a root directory and matches files against doublestar
// include and exclude patterns.
type Scanner struct {
	includes []string
	excludes []string
}

// NewScanner creates a scanner. Empty slices fall back to the defaults.
func NewScanner(includes, excludes []string) *Scanner {
	if len(includes) == 0 {
		includes = DefaultIncludes
	}
	if len(excludes) == 0 {
		excludes = DefaultExcludes
	}
	return &Scanner{includes: includes, excludes: excludes}
}

// Scan returns the matching files under root, sorted by relative path.
// A .gitignore at the folder root is honored on top of the exclude
// patterns.
func (s *Scanner) Scan(root string) ([]FileInfo, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	ignore := gitignore.New()
	if err := ignore.AddFromFile(filepath.Join(root, ".gitignore")); err != nil {
		return nil, err
	}

	var files []FileInfo
	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)

		if info.IsDir() {
			if rel != "." && (s.excluded(rel+"/") || ignore.Match(rel, true)) {
				return filepath.SkipDir
			}
			return nil
		}

		if s.included(rel) && !s.excluded(rel) && !ignore.Match(rel, false) {
			files = append(files, FileInfo{
				Path:    path,
				RelPath: rel,
				Size:    info.Size(),
				ModTime: info.ModTime().Unix(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	return files, nil
}

func (s *Scanner) included(rel string) bool {
	for _, pattern := range s.includes {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}

func (s *Scanner) excluded(rel string) bool {
	for _, pattern := range s.excludes {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}
