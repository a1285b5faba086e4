package ui

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"srcgrep/internal/aggregate"
	"srcgrep/internal/backend"
	"srcgrep/internal/domain"
	"srcgrep/internal/eventbus"
	"srcgrep/internal/session"
	"srcgrep/internal/ui/input"
	inputtypes "srcgrep/internal/ui/input/types"
	"srcgrep/internal/ui/views"
)

// readTimeout bounds fetching a whole file for the pager
const readTimeout = 10 * time.Second

// Options wires the model to its collaborators
type Options struct {
	Session    *session.Session
	Blobs      backend.BlobReader // nil shows only the lines the search returned
	Repository domain.Repository
	Revision   string
	Debounce   time.Duration // zero issues on every keystroke
}

// Model represents the UI state
type Model struct {
	opts    Options
	session *session.Session

	width    int
	height   int
	keys     inputtypes.KeyMap
	help     help.Model
	spinner  spinner.Model
	input    *input.Handler
	renderer *views.Renderer
	pager    *PagerOps

	seq      int // latest keystroke; older debounce ticks are ignored
	items    []views.Item
	selected int
	status   string

	// Program reference for terminal management
	program *tea.Program
}

// NewModel creates a new UI model
func NewModel(opts Options) *Model {
	keys := inputtypes.DefaultKeyMap()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := &Model{
		opts:     opts,
		session:  opts.Session,
		keys:     keys,
		help:     help.New(),
		spinner:  sp,
		input:    input.New(keys),
		renderer: views.NewRenderer(),
	}
	m.input.TextInput().SetValue(opts.Session.CurrentView().QueryText)
	return m
}

// SetProgram sets the program reference for terminal management
func (m *Model) SetProgram(p *tea.Program) {
	m.program = p
	m.pager = NewPagerOps(p)
}

// Init focuses the query box, which fetches a restored query
func (m *Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink, m.spinner.Tick}
	for _, action := range m.input.ChangeMode(inputtypes.ModeSearch, m) {
		cmds = append(cmds, m.processAction(action))
	}
	return tea.Batch(cmds...)
}

// Update handles messages
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.input.TextInput().Width = max(10, msg.Width-6)
		return m, nil

	case tea.KeyMsg:
		actions, cmd := m.input.HandleKey(msg, m)
		cmds := []tea.Cmd{cmd}
		for _, action := range actions {
			cmds = append(cmds, m.processAction(action))
		}
		return m, tea.Batch(cmds...)

	case debounceMsg:
		if msg.seq != m.seq {
			return m, nil
		}
		return m, m.run(m.session.SetQueryText(msg.text))

	case searchResultMsg:
		if m.session.Complete(msg.completion) {
			m.rebuildItems()
		}
		// A change seen while the query ran is fetched now
		return m, m.run(m.session.PendingRefresh())

	case pagerMsg:
		if msg.err != nil {
			log.Printf("UI: pager for %s failed: %v", msg.path, msg.err)
			m.status = fmt.Sprintf("Could not open %s: %v", msg.path, msg.err)
		}
		return m, nil

	case EventMsg:
		return m, m.handleEvent(msg.Event)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, m.input.Update(msg)
}

func (m *Model) handleEvent(event eventbus.DomainEvent) tea.Cmd {
	switch e := event.(type) {
	case eventbus.RepositoryChangedEvent:
		m.status = fmt.Sprintf("%d files changed", len(e.Paths))
		return m.run(m.session.Refresh())
	case eventbus.ErrorEvent:
		m.status = e.Message
	}
	return nil
}

// processAction executes one input action
func (m *Model) processAction(action inputtypes.Action) tea.Cmd {
	switch a := action.(type) {
	case inputtypes.NavigateAction:
		m.navigate(a.Direction)

	case inputtypes.FocusQueryAction:
		return m.run(m.session.FocusRequested())

	case inputtypes.UpdateTextAction:
		m.seq++
		if m.opts.Debounce <= 0 {
			return m.run(m.session.SetQueryText(a.Text))
		}
		seq, text := m.seq, a.Text
		return tea.Tick(m.opts.Debounce, func(time.Time) tea.Msg {
			return debounceMsg{seq: seq, text: text}
		})

	case inputtypes.SubmitTextAction:
		// Skip the pending debounce tick
		m.seq++
		return m.run(m.session.SetQueryText(a.Text))

	case inputtypes.RefreshAction:
		m.status = ""
		return m.run(m.session.Refresh())

	case inputtypes.OpenPagerAction:
		return m.openPager()

	case inputtypes.ToggleHelpAction:
		m.help.ShowAll = !m.help.ShowAll

	case inputtypes.QuitAction:
		m.session.Close()
		return tea.Quit
	}
	return nil
}

// run turns an issued request into a command; nil means nothing was issued
func (m *Model) run(req *session.Request) tea.Cmd {
	m.rebuildItems()
	if req == nil {
		return nil
	}
	return func() tea.Msg {
		return searchResultMsg{completion: req.Run()}
	}
}

func (m *Model) rebuildItems() {
	m.items = views.BuildItems(m.session.CurrentView().Results)
	if m.selected >= len(m.items) {
		m.selected = max(0, len(m.items)-1)
	}
}

func (m *Model) navigate(direction string) {
	if len(m.items) == 0 {
		return
	}
	page := max(1, m.height/4)
	switch direction {
	case "up":
		m.selected--
	case "down":
		m.selected++
	case "pageup":
		m.selected -= page
	case "pagedown":
		m.selected += page
	case "home":
		m.selected = 0
	case "end":
		m.selected = len(m.items) - 1
	}
	m.selected = min(max(m.selected, 0), len(m.items)-1)
}

// jumpTarget returns the file and line the selected item opens at
func (m *Model) jumpTarget() (domain.AggregatedFileResult, int, bool) {
	results := m.session.CurrentView().Results
	if m.selected >= len(m.items) {
		return domain.AggregatedFileResult{}, 0, false
	}
	it := m.items[m.selected]
	if it.File >= len(results) {
		return domain.AggregatedFileResult{}, 0, false
	}
	res := results[it.File]
	if it.IsHeader() {
		line, ok := aggregate.JumpLine(res)
		return res, line, ok
	}
	return res, aggregate.RangeJumpLine(res.Ranges[it.Range]), true
}

func (m *Model) openPager() tea.Cmd {
	res, line, ok := m.jumpTarget()
	if !ok {
		return nil
	}
	blobs, repo, rev, pager := m.opts.Blobs, m.opts.Repository, m.opts.Revision, m.pager

	return func() tea.Msg {
		lines := ResultPagerLines(res)
		if blobs != nil {
			ctx, cancel := context.WithTimeout(context.Background(), readTimeout)
			data, err := blobs.ReadFile(ctx, repo, rev, res.Path)
			cancel()
			if err != nil {
				log.Printf("UI: showing matched lines only for %s: %v", res.Path, err)
			} else {
				lines = SplitPagerLines(data)
			}
		}
		err := pager.Show(PagerContent(res.Path, lines, line))
		return pagerMsg{path: res.Path, err: err}
	}
}

// View renders the UI
func (m *Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	view := m.session.CurrentView()
	state := views.ViewState{
		Width:      m.width,
		Height:     m.height,
		Repository: m.opts.Repository.String(),
		Query:      m.input.TextInput().View(),
		Searching:  m.input.CurrentMode() == inputtypes.ModeSearch,
		Running:    view.IsRunning,
		Spinner:    m.spinner.View(),
		Results:    view.Results,
		Items:      m.items,
		Selected:   m.selected,
		Status:     m.status,
		Help:       m.help.View(m.keys),
	}
	if view.Error != session.ErrorNone {
		state.Error = errorLine(view)
	}
	return m.renderer.Render(state)
}

func errorLine(view session.View) string {
	if view.Error == session.ErrorTimeout {
		return "Search timed out. Edit the query or press r to retry."
	}
	return fmt.Sprintf("Search failed: %v", view.Err)
}

// CurrentIndex implements inputtypes.Context
func (m *Model) CurrentIndex() int {
	return m.selected
}

// TotalItems implements inputtypes.Context
func (m *Model) TotalItems() int {
	return len(m.items)
}

// QueryText implements inputtypes.Context
func (m *Model) QueryText() string {
	return m.input.TextInput().Value()
}
