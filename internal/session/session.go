// Package session owns the lifecycle of the query being typed by the user.
//
// Every accepted input mints a new token. Only the response carrying the
// latest token may change what the presentation layer sees; anything else is
// counted and dropped, no matter when it arrives. Superseded requests have
// their context cancelled, but correctness never depends on the backend
// honouring that.
//
// The session does not start goroutines. Input methods return a *Request
// which the caller runs wherever it likes (a tea.Cmd, a goroutine, inline)
// and hands back through Complete:
//
//	if req := s.SetQueryText("foo"); req != nil {
//	    go func() { s.Complete(req.Run()) }()
//	}
//	view := s.CurrentView()
package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"srcgrep/internal/aggregate"
	"srcgrep/internal/backend"
	"srcgrep/internal/domain"
	"srcgrep/internal/eventbus"
)

// Options configures a Session
type Options struct {
	Repository domain.Repository
	Revision   string
	Timeout    time.Duration // zero disables the per-request deadline
	Strict     bool          // panic on misordered backend lines instead of repairing them
	Bus        eventbus.EventBus
	// InitialQuery seeds the query text without issuing it; FocusRequested
	// fetches it later.
	InitialQuery string
	// BaseContext is the parent of every request context. Defaults to
	// context.Background().
	BaseContext context.Context
}

// Session tracks the latest query text and the state of the query it produced
type Session struct {
	mu         sync.Mutex
	searcher   backend.Searcher
	opts       Options
	aggregator aggregate.Aggregator
	base       context.Context

	text       string // latest raw input
	issuedText string // text of the last issued query
	current    state
	lastToken  token
	cancel     context.CancelFunc // in-flight request of lastToken
	stats      Stats

	// refreshPending records a Refresh that arrived while lastToken was
	// running; the running query may have read files from before the change.
	refreshPending bool
}

// New creates an idle session
func New(searcher backend.Searcher, opts Options) *Session {
	base := opts.BaseContext
	if base == nil {
		base = context.Background()
	}
	return &Session{
		searcher:   searcher,
		opts:       opts,
		aggregator: aggregate.Aggregator{Strict: opts.Strict},
		base:       base,
		text:       opts.InitialQuery,
		current:    idle{},
	}
}

// SetQueryText records the latest user input. Empty text clears the session
// without a backend call. Text equal to the last issued query is ignored
// while that query is running or settled. Anything else issues a new query.
func (s *Session) SetQueryText(text string) *Request {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.text = text
	if text == "" {
		s.clear()
		return nil
	}

	if text == s.issuedText {
		switch s.current.(type) {
		case running, settled:
			return nil
		}
	}

	return s.issue()
}

// FocusRequested issues the current text when nothing has been fetched for
// it yet, e.g. a query restored from the command line.
func (s *Session) FocusRequested() *Request {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.current.(idle); !ok || s.text == "" {
		return nil
	}
	return s.issue()
}

// Refresh re-issues the current text, for example after the repository
// changed on disk. While a query is running it returns nil and the refresh
// is deferred until that query completes; see PendingRefresh.
func (s *Session) Refresh() *Request {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.text == "" {
		return nil
	}
	if _, ok := s.current.(running); ok {
		s.refreshPending = true
		return nil
	}
	return s.issue()
}

// PendingRefresh issues the refresh deferred by Refresh once the query it
// waited for has completed. It returns nil when none is owed. Call it after
// every Complete.
func (s *Session) PendingRefresh() *Request {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.refreshPending || s.text == "" {
		return nil
	}
	if _, ok := s.current.(running); ok {
		return nil
	}
	log.Printf("Session: re-issuing %q for a change seen while it ran", s.text)
	return s.issue()
}

// Complete applies the outcome of a request. It returns false when the
// request was superseded and its outcome discarded.
func (s *Session) Complete(c Completion) bool {
	event, applied := s.apply(c)
	if event != nil && s.opts.Bus != nil {
		s.opts.Bus.Publish(event)
	}
	return applied
}

// Do runs req inline and applies its outcome, followed by any refresh that
// was deferred while it ran. A nil req is a no-op.
func (s *Session) Do(req *Request) bool {
	if req == nil {
		return false
	}
	applied := s.Complete(req.Run())
	for next := s.PendingRefresh(); next != nil; next = s.PendingRefresh() {
		applied = s.Complete(next.Run())
	}
	return applied
}

// CurrentView returns a snapshot for rendering. It never blocks on a request.
func (s *Session) CurrentView() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{QueryText: s.text}
	switch st := s.current.(type) {
	case running:
		v.IsRunning = true
	case settled:
		v.Results = st.results
	case failed:
		v.Error = st.kind
		v.Err = st.err
	}
	return v
}

// Phase returns the name of the current state
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.phase()
}

// Stats returns a copy of the outcome counters
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Close aborts any in-flight request and returns the session to idle
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.abortInFlight()
	s.current = idle{}
	s.refreshPending = false
}

func (s *Session) clear() {
	s.abortInFlight()
	s.current = idle{}
	s.refreshPending = false
	s.issuedText = ""
	s.publish(eventbus.SearchClearedEvent{})
}

// issue must be called with mu held
func (s *Session) issue() *Request {
	s.abortInFlight()
	// A new query reads the files afresh
	s.refreshPending = false

	s.lastToken++
	tok := s.lastToken

	var ctx context.Context
	var cancel context.CancelFunc
	if s.opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(s.base, s.opts.Timeout)
	} else {
		ctx, cancel = context.WithCancel(s.base)
	}
	s.cancel = cancel

	s.current = running{tok: tok}
	s.issuedText = s.text
	s.stats.Issued++

	s.publish(eventbus.SearchIssuedEvent{Query: s.text, Repository: s.opts.Repository})

	return &Request{
		tok:      tok,
		query:    s.text,
		repo:     s.opts.Repository,
		rev:      s.opts.Revision,
		ctx:      ctx,
		searcher: s.searcher,
	}
}

func (s *Session) abortInFlight() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel = nil
	s.stats.Aborted++
}

func (s *Session) releaseInFlight() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Session) apply(c Completion) (eventbus.DomainEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.current.(running); !ok || r.tok != c.tok {
		s.stats.Stale++
		log.Printf("Session: discarding stale response for %q (current %q, %s)", c.Query, s.text, s.current.phase())
		return eventbus.StaleResponseDiscardedEvent{Query: c.Query, Failed: c.Err != nil}, false
	}
	s.releaseInFlight()

	if c.Err != nil {
		kind := ErrorTransport
		if backend.IsTimeout(c.Err) {
			kind = ErrorTimeout
		}
		err := c.Err
		var te *backend.TransportError
		if !errors.As(err, &te) {
			err = backend.NewTransportError("search", s.opts.Repository, c.Query, err)
		}
		s.current = failed{tok: c.tok, kind: kind, err: err}
		s.stats.Failed++
		log.Printf("Session: search for %q failed: %v", c.Query, err)
		return eventbus.SearchFailedEvent{Query: c.Query, Err: err}, true
	}

	results := s.aggregator.Files(c.Files)
	s.current = settled{tok: c.tok, results: results}
	s.stats.Settled++
	log.Printf("Session: search for %q settled with %d files in %s", c.Query, len(results), c.Duration)
	return eventbus.SearchSettledEvent{Query: c.Query, Files: len(results), Duration: c.Duration}, true
}

func (s *Session) publish(e eventbus.DomainEvent) {
	if s.opts.Bus != nil {
		s.opts.Bus.Publish(e)
	}
}
