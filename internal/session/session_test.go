package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"srcgrep/internal/backend"
	"srcgrep/internal/domain"
	"srcgrep/internal/eventbus"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testRepo = domain.Repository{Kind: domain.RepositoryKindGit, ID: "repo-1"}

// fakeBackend answers from a table and records every call
type fakeBackend struct {
	mu      sync.Mutex
	calls   []string
	results map[string][]domain.FileMatches
	errs    map[string]error
	// block, when set for a query, holds the call until the channel closes
	// or the request context ends.
	block map[string]chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		results: map[string][]domain.FileMatches{},
		errs:    map[string]error{},
		block:   map[string]chan struct{}{},
	}
}

func (f *fakeBackend) Search(ctx context.Context, repo domain.Repository, query string, rev string) ([]domain.FileMatches, error) {
	f.mu.Lock()
	f.calls = append(f.calls, query)
	gate := f.block[query]
	files, err := f.results[query], f.errs[query]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return files, err
}

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func file(path string, numbers []int, hit int) domain.FileMatches {
	fm := domain.FileMatches{Path: path}
	for _, n := range numbers {
		l := domain.MatchedLine{LineNumber: n, Content: domain.LineContent{Text: path}}
		if n == hit {
			l.SubMatches = []domain.SubMatch{{ByteStart: 0, ByteEnd: 1}}
		}
		fm.Lines = append(fm.Lines, l)
	}
	return fm
}

func TestSetQueryTextIssuesAndSettles(t *testing.T) {
	fb := newFakeBackend()
	fb.results["foo"] = []domain.FileMatches{file("a.go", []int{10, 11, 12, 20, 21}, 11)}
	s := New(fb, Options{Repository: testRepo})

	req := s.SetQueryText("foo")
	require.NotNil(t, req)
	assert.Equal(t, "foo", req.Query())

	v := s.CurrentView()
	assert.True(t, v.IsRunning)
	assert.Nil(t, v.Results)

	require.True(t, s.Do(req))

	v = s.CurrentView()
	assert.False(t, v.IsRunning)
	assert.Equal(t, ErrorNone, v.Error)
	require.Len(t, v.Results, 1)
	assert.Equal(t, []domain.LineRange{{Start: 10, End: 12}, {Start: 20, End: 21}}, v.Results[0].Ranges)
	require.NotNil(t, v.Results[0].FirstSubMatchLine)
	assert.Equal(t, 11, *v.Results[0].FirstSubMatchLine)
	assert.Equal(t, PhaseSettled, s.Phase())
	assert.Equal(t, 1, fb.callCount())
}

func TestEmptyTextClearsWithoutBackendCall(t *testing.T) {
	fb := newFakeBackend()
	fb.results["foo"] = []domain.FileMatches{file("a.go", []int{1}, 1)}
	s := New(fb, Options{Repository: testRepo})

	require.True(t, s.Do(s.SetQueryText("foo")))
	require.NotNil(t, s.CurrentView().Results)

	assert.Nil(t, s.SetQueryText(""))

	v := s.CurrentView()
	assert.False(t, v.IsRunning)
	assert.Nil(t, v.Results)
	assert.Equal(t, "", v.QueryText)
	assert.Equal(t, PhaseIdle, s.Phase())
	assert.Equal(t, 1, fb.callCount())
}

func TestEmptyTextOnFreshSessionMakesNoCall(t *testing.T) {
	fb := newFakeBackend()
	s := New(fb, Options{Repository: testRepo})

	assert.Nil(t, s.SetQueryText(""))
	assert.False(t, s.CurrentView().IsRunning)
	assert.Equal(t, 0, fb.callCount())
}

func TestSupersededResponseArrivingLateIsDiscarded(t *testing.T) {
	fb := newFakeBackend()
	fb.results["foo"] = []domain.FileMatches{file("old.go", []int{1}, 1)}
	fb.results["foobar"] = []domain.FileMatches{file("new.go", []int{7}, 7)}
	s := New(fb, Options{Repository: testRepo})

	first := s.SetQueryText("foo")
	second := s.SetQueryText("foobar")
	require.NotNil(t, first)
	require.NotNil(t, second)

	assert.True(t, s.Complete(second.Run()))
	assert.False(t, s.Complete(first.Run()))

	v := s.CurrentView()
	require.Len(t, v.Results, 1)
	assert.Equal(t, "new.go", v.Results[0].Path)
	assert.Equal(t, 1, s.Stats().Stale)
}

func TestSupersededResponseArrivingFirstKeepsRunning(t *testing.T) {
	fb := newFakeBackend()
	fb.results["foo"] = []domain.FileMatches{file("old.go", []int{1}, 1)}
	fb.block["foobar"] = make(chan struct{})
	fb.results["foobar"] = []domain.FileMatches{file("new.go", []int{7}, 7)}
	s := New(fb, Options{Repository: testRepo})

	first := s.SetQueryText("foo")
	second := s.SetQueryText("foobar")

	assert.False(t, s.Complete(first.Run()))
	v := s.CurrentView()
	assert.True(t, v.IsRunning)
	assert.Nil(t, v.Results)

	close(fb.block["foobar"])
	assert.True(t, s.Complete(second.Run()))
	v = s.CurrentView()
	require.Len(t, v.Results, 1)
	assert.Equal(t, "new.go", v.Results[0].Path)
}

func TestNewQueryAbortsInFlightRequest(t *testing.T) {
	fb := newFakeBackend()
	fb.block["foo"] = make(chan struct{})
	fb.results["foobar"] = nil
	s := New(fb, Options{Repository: testRepo})

	first := s.SetQueryText("foo")
	done := make(chan Completion, 1)
	go func() { done <- first.Run() }()

	second := s.SetQueryText("foobar")

	var c Completion
	select {
	case c = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("superseded request was not aborted")
	}
	assert.True(t, backend.IsCanceled(c.Err))
	assert.False(t, s.Complete(c))

	require.True(t, s.Do(second))
	v := s.CurrentView()
	assert.NotNil(t, v.Results)
	assert.Empty(t, v.Results)
	assert.Equal(t, 1, s.Stats().Aborted)
}

func TestConcurrentOutOfOrderCompletions(t *testing.T) {
	fb := newFakeBackend()
	queries := []string{"f", "fo", "foo", "foob", "fooba", "foobar"}
	for _, q := range queries {
		fb.results[q] = []domain.FileMatches{file(q+".go", []int{1}, 1)}
	}
	s := New(fb, Options{Repository: testRepo})

	var reqs []*Request
	for _, q := range queries {
		reqs = append(reqs, s.SetQueryText(q))
	}

	var wg sync.WaitGroup
	for i := len(reqs) - 1; i >= 0; i-- {
		wg.Add(1)
		go func(r *Request) {
			defer wg.Done()
			s.Complete(r.Run())
		}(reqs[i])
	}
	wg.Wait()

	v := s.CurrentView()
	require.Len(t, v.Results, 1)
	assert.Equal(t, "foobar.go", v.Results[0].Path)
	assert.Equal(t, len(queries)-1, s.Stats().Stale)
}

func TestSameTextIsNotReissued(t *testing.T) {
	fb := newFakeBackend()
	s := New(fb, Options{Repository: testRepo})

	req := s.SetQueryText("foo")
	require.NotNil(t, req)
	assert.Nil(t, s.SetQueryText("foo"), "running query must not be resubmitted")

	require.True(t, s.Do(req))
	assert.Nil(t, s.SetQueryText("foo"), "settled query must not be resubmitted")
	assert.Equal(t, 1, fb.callCount())
}

func TestFailureIsRetryable(t *testing.T) {
	fb := newFakeBackend()
	fb.errs["foo"] = errors.New("connection refused")
	s := New(fb, Options{Repository: testRepo})

	require.True(t, s.Do(s.SetQueryText("foo")))
	v := s.CurrentView()
	assert.Equal(t, ErrorTransport, v.Error)
	assert.False(t, v.IsRunning)
	assert.Nil(t, v.Results)
	var te *backend.TransportError
	require.True(t, errors.As(v.Err, &te))
	assert.Equal(t, "foo", te.Query)

	delete(fb.errs, "foo")
	req := s.SetQueryText("foo")
	require.NotNil(t, req, "a failed query can always be attempted again")
	require.True(t, s.Do(req))
	assert.Equal(t, ErrorNone, s.CurrentView().Error)
}

func TestCurrentFailureBlanksPreviousSuccess(t *testing.T) {
	fb := newFakeBackend()
	fb.results["foo"] = []domain.FileMatches{file("a.go", []int{1}, 1)}
	fb.errs["bar"] = errors.New("backend down")
	s := New(fb, Options{Repository: testRepo})

	require.True(t, s.Do(s.SetQueryText("foo")))
	require.True(t, s.Do(s.SetQueryText("bar")))

	v := s.CurrentView()
	assert.Nil(t, v.Results)
	assert.Equal(t, ErrorTransport, v.Error)
}

func TestSupersededFailureTouchesNothing(t *testing.T) {
	fb := newFakeBackend()
	fb.errs["foo"] = errors.New("backend down")
	fb.results["bar"] = []domain.FileMatches{file("b.go", []int{2}, 2)}
	s := New(fb, Options{Repository: testRepo})

	first := s.SetQueryText("foo")
	require.True(t, s.Do(s.SetQueryText("bar")))
	assert.False(t, s.Complete(first.Run()))

	v := s.CurrentView()
	assert.Equal(t, ErrorNone, v.Error)
	require.Len(t, v.Results, 1)
	assert.Equal(t, "b.go", v.Results[0].Path)
}

func TestClearWhileRunningDropsResponse(t *testing.T) {
	fb := newFakeBackend()
	fb.results["foo"] = []domain.FileMatches{file("a.go", []int{1}, 1)}
	s := New(fb, Options{Repository: testRepo})

	req := s.SetQueryText("foo")
	s.SetQueryText("")

	assert.False(t, s.Complete(req.Run()))
	assert.Equal(t, PhaseIdle, s.Phase())
	assert.Nil(t, s.CurrentView().Results)

	// Typing the same text again after a clear issues a fresh query
	assert.NotNil(t, s.SetQueryText("foo"))
	s.Close()
}

func TestTimeoutFailsCurrentQuery(t *testing.T) {
	fb := newFakeBackend()
	fb.block["slow"] = make(chan struct{})
	s := New(fb, Options{Repository: testRepo, Timeout: 20 * time.Millisecond})

	require.True(t, s.Do(s.SetQueryText("slow")))

	v := s.CurrentView()
	assert.Equal(t, ErrorTimeout, v.Error)
	assert.True(t, backend.IsTimeout(v.Err))
}

func TestTimeoutOfSupersededQueryIsIgnored(t *testing.T) {
	fb := newFakeBackend()
	fb.block["slow"] = make(chan struct{})
	fb.block["fast"] = make(chan struct{})
	s := New(fb, Options{Repository: testRepo, Timeout: 500 * time.Millisecond})

	slow := s.SetQueryText("slow")
	fast := s.SetQueryText("fast")

	assert.False(t, s.Complete(slow.Run()))
	assert.Equal(t, PhaseRunning, s.Phase())

	close(fb.block["fast"])
	assert.True(t, s.Do(fast))
	assert.Equal(t, PhaseSettled, s.Phase())
}

func TestFocusRequestedFetchesRestoredQuery(t *testing.T) {
	fb := newFakeBackend()
	fb.results["restored"] = []domain.FileMatches{file("r.go", []int{3}, 3)}
	s := New(fb, Options{Repository: testRepo, InitialQuery: "restored"})

	v := s.CurrentView()
	assert.Equal(t, "restored", v.QueryText)
	assert.Nil(t, v.Results)
	assert.Equal(t, 0, fb.callCount())

	req := s.FocusRequested()
	require.NotNil(t, req)
	require.True(t, s.Do(req))
	assert.Len(t, s.CurrentView().Results, 1)

	assert.Nil(t, s.FocusRequested(), "focus with results already present must not refetch")
}

func TestFocusRequestedWithoutTextDoesNothing(t *testing.T) {
	s := New(newFakeBackend(), Options{Repository: testRepo})
	assert.Nil(t, s.FocusRequested())
}

func TestRefresh(t *testing.T) {
	fb := newFakeBackend()
	s := New(fb, Options{Repository: testRepo})

	assert.Nil(t, s.Refresh(), "nothing to refresh without text")

	require.True(t, s.Do(s.SetQueryText("foo")))
	again := s.Refresh()
	require.NotNil(t, again)
	require.True(t, s.Do(again))
	assert.Equal(t, 2, fb.callCount())
	assert.Nil(t, s.PendingRefresh())
}

func TestRefreshWhileRunningIsDeferredUntilCompletion(t *testing.T) {
	fb := newFakeBackend()
	fb.results["foo"] = []domain.FileMatches{file("a.go", []int{1}, 1)}
	s := New(fb, Options{Repository: testRepo})

	req := s.SetQueryText("foo")
	c := req.Run()

	// The repository changes after the running query read it
	fb.mu.Lock()
	fb.results["foo"] = []domain.FileMatches{file("a.go", []int{1}, 1), file("b.go", []int{2}, 2)}
	fb.mu.Unlock()

	assert.Nil(t, s.Refresh())
	assert.Nil(t, s.PendingRefresh(), "owed refresh waits for the running query")

	require.True(t, s.Complete(c))
	assert.Len(t, s.CurrentView().Results, 1)

	follow := s.PendingRefresh()
	require.NotNil(t, follow)
	assert.Equal(t, "foo", follow.Query())
	require.True(t, s.Complete(follow.Run()))
	assert.Len(t, s.CurrentView().Results, 2)

	assert.Nil(t, s.PendingRefresh(), "the deferred refresh is issued once")
	assert.Equal(t, 2, fb.callCount())
}

func TestDeferredRefreshIsDroppedByNewQuery(t *testing.T) {
	fb := newFakeBackend()
	s := New(fb, Options{Repository: testRepo})

	first := s.SetQueryText("foo")
	assert.Nil(t, s.Refresh())

	second := s.SetQueryText("foobar")
	assert.False(t, s.Complete(first.Run()))
	require.True(t, s.Complete(second.Run()))
	assert.Nil(t, s.PendingRefresh(), "the newer query already read the change")

	third := s.Refresh()
	require.NotNil(t, third)
	assert.Nil(t, s.Refresh())
	assert.Nil(t, s.SetQueryText(""))
	assert.Nil(t, s.PendingRefresh(), "clearing the query drops the owed refresh")
}

func TestDoRunsDeferredRefresh(t *testing.T) {
	fb := newFakeBackend()
	s := New(fb, Options{Repository: testRepo})

	req := s.SetQueryText("foo")
	assert.Nil(t, s.Refresh())
	require.True(t, s.Do(req))

	assert.Equal(t, 2, fb.callCount())
	assert.Equal(t, PhaseSettled, s.Phase())
}

func TestRequestRunsBackendOnce(t *testing.T) {
	fb := newFakeBackend()
	s := New(fb, Options{Repository: testRepo})

	req := s.SetQueryText("foo")
	first := req.Run()
	second := req.Run()

	assert.Equal(t, first.Query, second.Query)
	assert.Equal(t, 1, fb.callCount())
}

func TestUnsortedBackendLinesAreRepaired(t *testing.T) {
	fb := newFakeBackend()
	fm := file("a.go", []int{12, 10, 11}, 10)
	fb.results["foo"] = []domain.FileMatches{fm}
	s := New(fb, Options{Repository: testRepo})

	require.True(t, s.Do(s.SetQueryText("foo")))
	assert.Equal(t, []domain.LineRange{{Start: 10, End: 12}}, s.CurrentView().Results[0].Ranges)
}

func TestStaleResponsePublishesEvent(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()

	stale := make(chan eventbus.StaleResponseDiscardedEvent, 1)
	bus.Subscribe(eventbus.EventStaleResponseDiscarded, func(e eventbus.DomainEvent) {
		if ev, ok := e.(eventbus.StaleResponseDiscardedEvent); ok {
			stale <- ev
		}
	})

	s := New(newFakeBackend(), Options{Repository: testRepo, Bus: bus})
	first := s.SetQueryText("foo")
	s.SetQueryText("foobar")
	s.Complete(first.Run())

	select {
	case ev := <-stale:
		assert.Equal(t, "foo", ev.Query)
	case <-time.After(2 * time.Second):
		t.Fatal("stale response event not published")
	}
}
