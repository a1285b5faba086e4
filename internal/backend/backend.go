// Package backend defines the search backend contract the session consumes
// and the errors every backend reports through.
package backend

import (
	"context"

	"srcgrep/internal/domain"
)

// Searcher runs a query against one repository and returns the matched lines
// per file. Implementations may be slow and may complete out of order
// relative to other calls; callers must not rely on arrival order.
type Searcher interface {
	Search(ctx context.Context, repo domain.Repository, query string, rev string) ([]domain.FileMatches, error)
}

// BlobReader is implemented by backends that can return whole file contents
type BlobReader interface {
	ReadFile(ctx context.Context, repo domain.Repository, rev string, path string) ([]byte, error)
}

// SearcherFunc adapts a function to the Searcher interface
type SearcherFunc func(ctx context.Context, repo domain.Repository, query string, rev string) ([]domain.FileMatches, error)

func (f SearcherFunc) Search(ctx context.Context, repo domain.Repository, query string, rev string) ([]domain.FileMatches, error) {
	return f(ctx, repo, query, rev)
}
