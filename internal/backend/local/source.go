package local

import (
	"context"
	"os"
	"path/filepath"

	"srcgrep/internal/discovery"
	"srcgrep/internal/git"
)

// source lists and reads the files of one repository snapshot
type source interface {
	// key identifies the snapshot for caching
	key() string
	list(ctx context.Context) ([]string, error)
	size(ctx context.Context, path string) (int64, bool)
	read(ctx context.Context, path string) ([]byte, error)
}

// worktreeSource reads the files on disk
type worktreeSource struct {
	root   string
	filter discovery.Filter
}

func (s worktreeSource) key() string { return "worktree:" + s.root }

func (s worktreeSource) list(ctx context.Context) ([]string, error) {
	return discovery.Files(ctx, s.root, s.filter)
}

func (s worktreeSource) size(_ context.Context, path string) (int64, bool) {
	info, err := os.Stat(filepath.Join(s.root, filepath.FromSlash(path)))
	if err != nil {
		return 0, false
	}
	return info.Size(), true
}

func (s worktreeSource) read(_ context.Context, path string) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.root, filepath.FromSlash(path)))
}

// revisionSource reads files as committed at a resolved revision
type revisionSource struct {
	git    git.GitService
	commit string
	filter discovery.Filter
}

func (s revisionSource) key() string { return "commit:" + s.commit }

func (s revisionSource) list(ctx context.Context) ([]string, error) {
	all, err := s.git.ListFiles(ctx, s.commit)
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(all))
	for _, p := range all {
		if !hiddenOrSkipped(p) && s.filter.Match(p) {
			files = append(files, p)
		}
	}
	return files, nil
}

// size is unknown without reading the blob; the caller checks the length
// after read.
func (s revisionSource) size(context.Context, string) (int64, bool) {
	return 0, false
}

func (s revisionSource) read(ctx context.Context, path string) ([]byte, error) {
	return s.git.ReadBlob(ctx, s.commit, path)
}

// hiddenOrSkipped mirrors the directory pruning of a worktree walk
func hiddenOrSkipped(rel string) bool {
	dir := filepath.Dir(filepath.FromSlash(rel))
	for dir != "." && dir != string(filepath.Separator) {
		if discovery.SkipDir(filepath.Base(dir)) {
			return true
		}
		dir = filepath.Dir(dir)
	}
	return false
}
