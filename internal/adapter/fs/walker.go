package fs

import (
	iofs "io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// Finder expands doublestar patterns relative to a data directory.
type Finder struct {
	excludes []string
}

func NewFinder(excludes ...string) *Finder {
	return &Finder{excludes: excludes}
}

// Find returns the sorted, de-duplicated files matching any pattern.
// A pattern that matches nothing is not an error.
func (f *Finder) Find(root string, patterns []string) ([]string, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	fsys := os.DirFS(root)
	seen := make(map[string]bool)
	var files []string

	for _, pattern := range patterns {
		matches, err := doublestar.Glob(fsys, filepath.ToSlash(pattern))
		if err != nil {
			return nil, err
		}
		for _, rel := range matches {
			if f.shouldExclude(rel) || seen[rel] {
				continue
			}
			info, err := iofs.Stat(fsys, rel)
			if err != nil || info.IsDir() {
				continue
			}
			seen[rel] = true
			files = append(files, filepath.Join(root, filepath.FromSlash(rel)))
		}
	}

	sort.Strings(files)
	return files, nil
}

func (f *Finder) shouldExclude(path string) bool {
	for _, pattern := range f.excludes {
		matched, err := doublestar.Match(pattern, path)
		if err == nil && matched {
			return true
		}
	}
	return false
}
