// Package local greps a repository on this machine, either its worktree or
// a committed revision, and answers with the same shape a remote search
// backend returns: matched lines with sub-match byte ranges and
// aggregate.ContextPadding lines of context around every hit.
package local

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"srcgrep/internal/backend"
	"srcgrep/internal/discovery"
	"srcgrep/internal/domain"
	"srcgrep/internal/git"
)

// Options tunes matching and limits
type Options struct {
	CaseSensitive     bool
	Regex             bool
	MaxFiles          int   // 0 for no cap
	MaxMatchesPerFile int   // 0 for no cap
	MaxFileSize       int64 // 0 for no cap
	Workers           int
	Include           []string
	Exclude           []string
	CacheSize         int // 0 disables the response cache
}

// Backend is a backend.Searcher and backend.BlobReader over local repositories.
// Worktree responses are cached only while a Watcher is running, since
// nothing else notices files changing on disk. Revision responses are keyed
// by commit and always cached.
type Backend struct {
	opts     Options
	roots    map[domain.Repository]string
	cache    *responseCache
	watchers atomic.Int32

	mu   sync.Mutex
	gits map[string]git.GitService
}

// New creates a backend serving the repositories in roots
func New(roots map[domain.Repository]string, opts Options) (*Backend, error) {
	if err := (discovery.Filter{Include: opts.Include, Exclude: opts.Exclude}).Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", backend.ErrInvalidPattern, err)
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Backend{
		opts:  opts,
		roots: roots,
		cache: newResponseCache(opts.CacheSize),
		gits:  make(map[string]git.GitService),
	}, nil
}

// Search greps repo for query. An empty rev searches the worktree.
func (b *Backend) Search(ctx context.Context, repo domain.Repository, query string, rev string) ([]domain.FileMatches, error) {
	files, err := b.search(ctx, repo, query, rev)
	if err != nil {
		return nil, backend.NewTransportError("search", repo, query, err)
	}
	return files, nil
}

// ReadFile returns the full contents of path in repo at rev
func (b *Backend) ReadFile(ctx context.Context, repo domain.Repository, rev string, path string) ([]byte, error) {
	src, err := b.source(ctx, repo, rev)
	if err != nil {
		return nil, backend.NewTransportError("read", repo, path, err)
	}
	data, err := src.read(ctx, path)
	if err != nil {
		return nil, backend.NewTransportError("read", repo, path, err)
	}
	return data, nil
}

// InvalidateCache drops every cached response. A search already running
// when it is called does not store its response.
func (b *Backend) InvalidateCache() {
	b.cache.purge()
}

func (b *Backend) attachWatcher() {
	b.watchers.Add(1)
}

func (b *Backend) detachWatcher() {
	if b.watchers.Add(-1) == 0 {
		// Changes from here on go unnoticed
		b.cache.purge()
	}
}

// cacheable reports whether responses from src may be served from cache
func (b *Backend) cacheable(src source) bool {
	if _, ok := src.(worktreeSource); ok {
		return b.watchers.Load() > 0
	}
	return true
}

func (b *Backend) search(ctx context.Context, repo domain.Repository, query string, rev string) ([]domain.FileMatches, error) {
	m, err := newMatcher(query, b.opts.Regex, b.opts.CaseSensitive, b.opts.MaxMatchesPerFile)
	if err != nil {
		return nil, err
	}

	src, err := b.source(ctx, repo, rev)
	if err != nil {
		return nil, err
	}

	cacheable := b.cacheable(src)
	gen := b.cache.generation()
	key := cacheKey(src.key(), query, b.opts)
	if cacheable {
		if files, ok := b.cache.get(key); ok {
			return files, nil
		}
	}

	paths, err := src.list(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]domain.FileMatches, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.Workers)

	for i, path := range paths {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			lines, err := b.grepFile(gctx, src, m, path)
			if err != nil {
				return err
			}
			results[i] = domain.FileMatches{Path: path, Lines: lines}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	files := make([]domain.FileMatches, 0)
	for _, fm := range results {
		if len(fm.Lines) > 0 {
			files = append(files, fm)
		}
	}
	sort.SliceStable(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	if b.opts.MaxFiles > 0 && len(files) > b.opts.MaxFiles {
		files = files[:b.opts.MaxFiles]
	}

	if cacheable {
		b.cache.add(key, files, gen)
	}
	return files, nil
}

// grepFile returns nil lines for files that are skipped or have no hits.
// Only cancellation is an error; unreadable files are logged and skipped.
func (b *Backend) grepFile(ctx context.Context, src source, m *matcher, path string) ([]domain.MatchedLine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if size, ok := src.size(ctx, path); ok && b.tooLarge(size) {
		return nil, nil
	}

	content, err := src.read(ctx, path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		log.Printf("Local: skipping %s: %v", path, err)
		return nil, nil
	}
	if b.tooLarge(int64(len(content))) || isBinary(content) {
		return nil, nil
	}
	return m.scan(content), nil
}

func (b *Backend) tooLarge(size int64) bool {
	return b.opts.MaxFileSize > 0 && size > b.opts.MaxFileSize
}

func (b *Backend) source(ctx context.Context, repo domain.Repository, rev string) (source, error) {
	root, ok := b.roots[repo]
	if !ok {
		return nil, fmt.Errorf("%s: %w", repo, backend.ErrUnknownRepository)
	}
	filter := discovery.Filter{Include: b.opts.Include, Exclude: b.opts.Exclude}
	if rev == "" {
		return worktreeSource{root: root, filter: filter}, nil
	}

	gs := b.gitService(root)
	commit, err := gs.ResolveRevision(ctx, rev)
	if err != nil {
		var cmdErr *git.CommandError
		if errors.As(err, &cmdErr) {
			return nil, fmt.Errorf("unknown revision %q: %w", rev, err)
		}
		return nil, err
	}
	return revisionSource{git: gs, commit: commit, filter: filter}, nil
}

func (b *Backend) gitService(root string) git.GitService {
	b.mu.Lock()
	defer b.mu.Unlock()
	gs, ok := b.gits[root]
	if !ok {
		gs = git.NewGitService(root)
		b.gits[root] = gs
	}
	return gs
}
