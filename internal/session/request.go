package session

import (
	"context"
	"sync"
	"time"

	"srcgrep/internal/backend"
	"srcgrep/internal/domain"
)

// Request is one issued query. Run performs the backend call; calling it
// again returns the first outcome without a second call.
type Request struct {
	tok      token
	query    string
	repo     domain.Repository
	rev      string
	ctx      context.Context
	searcher backend.Searcher

	once   sync.Once
	result Completion
}

// Completion is the outcome of a Request, to be handed to Session.Complete
type Completion struct {
	tok      token
	Query    string
	Files    []domain.FileMatches
	Err      error
	Duration time.Duration
}

// Query returns the text the request was issued for
func (r *Request) Query() string {
	return r.query
}

// Run calls the backend and blocks until it returns
func (r *Request) Run() Completion {
	r.once.Do(func() {
		start := time.Now()
		files, err := r.searcher.Search(r.ctx, r.repo, r.query, r.rev)
		// A backend that ignores its context still times out
		if err == nil {
			err = r.ctx.Err()
		}
		if err != nil {
			files = nil
		}
		r.result = Completion{
			tok:      r.tok,
			Query:    r.query,
			Files:    files,
			Err:      err,
			Duration: time.Since(start),
		}
	})
	return r.result
}
