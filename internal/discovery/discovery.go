// Package discovery finds the files of a worktree that a search should read.
package discovery

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// skipDirs are never descended into
var skipDirs = map[string]bool{
	"node_modules":  true,
	"vendor":        true,
	"target":        true,
	"build":         true,
	"dist":          true,
	"__pycache__":   true,
	".pytest_cache": true,
	".tox":          true,
	"venv":          true,
}

// Filter decides which worktree paths are searched. Patterns are doublestar
// globs matched against slash separated paths relative to the root.
type Filter struct {
	Include []string // empty means everything
	Exclude []string
}

// Match reports whether the relative path rel passes the filter
func (f Filter) Match(rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, pattern := range f.Exclude {
		if matched, err := doublestar.Match(pattern, rel); err == nil && matched {
			return false
		}
	}
	if len(f.Include) == 0 {
		return true
	}
	for _, pattern := range f.Include {
		if matched, err := doublestar.Match(pattern, rel); err == nil && matched {
			return true
		}
	}
	return false
}

// Validate reports the first malformed pattern
func (f Filter) Validate() error {
	for _, pattern := range append(append([]string{}, f.Include...), f.Exclude...) {
		if !doublestar.ValidatePattern(pattern) {
			return &PatternError{Pattern: pattern}
		}
	}
	return nil
}

// PatternError is returned for a glob doublestar cannot parse
type PatternError struct {
	Pattern string
}

func (e *PatternError) Error() string {
	return "invalid glob pattern " + strings.TrimSpace(e.Pattern)
}

// SkipDir reports whether a directory with this name is pruned from walks
// and watches
func SkipDir(name string) bool {
	if skipDirs[name] {
		return true
	}
	return strings.HasPrefix(name, ".") && name != "."
}

// Files walks root and returns the relative, slash separated paths of every
// regular file passing filter, sorted. It stops early when ctx is done.
func Files(ctx context.Context, root string, filter Filter) ([]string, error) {
	var files []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			log.Printf("Error walking path %s: %v", path, err)
			if d != nil && d.IsDir() && path != root {
				return fs.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if path != root && SkipDir(d.Name()) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if filter.Match(rel) {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		log.Printf("Error scanning directory %s: %v", root, err)
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

// Dirs returns root and every directory below it that a walk would enter.
// The file watcher registers one watch per entry.
func Dirs(ctx context.Context, root string) ([]string, error) {
	var dirs []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil || !d.IsDir() {
			return nil
		}
		if path != root && SkipDir(d.Name()) {
			return fs.SkipDir
		}
		dirs = append(dirs, path)
		return nil
	})
	return dirs, err
}
