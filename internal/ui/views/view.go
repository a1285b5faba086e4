package views

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"srcgrep/internal/aggregate"
	"srcgrep/internal/domain"
)

// Item is one selectable row of the result list: a file header when Range
// is -1, otherwise one of the file's range blocks.
type Item struct {
	File  int
	Range int
}

// IsHeader reports whether the item is a file header
func (it Item) IsHeader() bool {
	return it.Range < 0
}

// BuildItems flattens results into the selectable rows, in display order
func BuildItems(results []domain.AggregatedFileResult) []Item {
	var items []Item
	for f, res := range results {
		items = append(items, Item{File: f, Range: -1})
		for r := range res.Ranges {
			items = append(items, Item{File: f, Range: r})
		}
	}
	return items
}

// ViewState contains all the state needed for rendering
type ViewState struct {
	Width      int
	Height     int
	Repository string
	Query      string // rendered text input
	Searching  bool   // query box focused
	Running    bool
	Spinner    string
	Results    []domain.AggregatedFileResult
	Items      []Item
	Selected   int
	Error      string
	Status     string
	Help       string
}

// Renderer handles all view rendering
type Renderer struct {
	styles *Styles
}

// NewRenderer creates a new renderer
func NewRenderer() *Renderer {
	return &Renderer{styles: NewStyles()}
}

// Render produces the complete view
func (r *Renderer) Render(state ViewState) string {
	var top []string

	title := r.styles.Title.Render("srcgrep")
	if state.Repository != "" {
		title += " " + r.styles.Dim.Render(state.Repository)
	}
	if state.Running {
		title += "  " + state.Spinner + r.styles.Dim.Render(" searching")
	}
	top = append(top, title)

	prompt := r.styles.Dim.Render("> ")
	if state.Searching {
		prompt = r.styles.Prompt.Render("> ")
	}
	top = append(top, prompt+state.Query)

	if state.Error != "" {
		top = append(top, r.styles.StatusError.Render(state.Error))
	}

	bottom := []string{}
	if state.Status != "" {
		bottom = append(bottom, r.styles.Status.Render(state.Status))
	}
	if state.Help != "" {
		bottom = append(bottom, r.styles.Help.Render(state.Help))
	}

	header := strings.Join(top, "\n")
	footer := strings.Join(bottom, "\n")

	available := state.Height - lipgloss.Height(header) - lipgloss.Height(footer) - 1
	if state.Height == 0 {
		available = -1
	}
	body := r.renderResults(state, available)

	parts := []string{header, body}
	if footer != "" {
		parts = append(parts, footer)
	}
	return r.styles.Main.Render(strings.Join(parts, "\n"))
}

// renderResults renders the result list, scrolled so the selected item is
// visible. A negative height disables clipping.
func (r *Renderer) renderResults(state ViewState, height int) string {
	if state.Results == nil {
		return ""
	}
	if len(state.Results) == 0 {
		return r.styles.Dim.Render("No results")
	}

	var lines []string
	selStart, selEnd := 0, 0
	for i, it := range state.Items {
		block := r.renderItem(state.Results[it.File], it, state.Width)
		if i == state.Selected {
			selStart = len(lines)
		}
		block = r.gutter(block, i == state.Selected)
		lines = append(lines, strings.Split(block, "\n")...)
		if i == state.Selected {
			selEnd = len(lines)
		}
	}

	if height < 0 || len(lines) <= height {
		return strings.Join(lines, "\n")
	}
	if height < 1 {
		height = 1
	}

	offset := 0
	if selEnd > height {
		offset = selEnd - height
	}
	if selStart < offset {
		offset = selStart
	}
	end := min(len(lines), offset+height)
	visible := append([]string{}, lines[offset:end]...)

	if offset > 0 {
		visible[0] = r.styles.Scroll.Render(fmt.Sprintf("↑ %d more lines", offset))
	}
	if end < len(lines) {
		visible[len(visible)-1] = r.styles.Scroll.Render(fmt.Sprintf("↓ %d more lines", len(lines)-end))
	}
	return strings.Join(visible, "\n")
}

func (r *Renderer) renderItem(res domain.AggregatedFileResult, it Item, width int) string {
	if it.IsHeader() {
		return r.FileHeader(res)
	}
	anchor := 0
	if res.FirstSubMatchLine != nil {
		anchor = *res.FirstSubMatchLine
	}
	block := r.styles.renderBlock(res.Lines, Language(res.Path), true, res.Ranges[it.Range], anchor)
	if width > 0 {
		block = lipgloss.NewStyle().MaxWidth(width - 2).Render(block)
	}
	return block
}

// FileHeader renders the path line of a result with its match count and
// the line the file opens at
func (r *Renderer) FileHeader(res domain.AggregatedFileResult) string {
	header := r.styles.FileHeader.Render(res.Path)
	matches := res.MatchCount()
	noun := "matches"
	if matches == 1 {
		noun = "match"
	}
	meta := fmt.Sprintf(" %d %s", matches, noun)
	if line, ok := aggregate.JumpLine(res); ok {
		meta += fmt.Sprintf(", line %d", line)
	}
	return header + r.styles.Dim.Render(meta)
}

// gutter prefixes every line of block with the selection marker
func (r *Renderer) gutter(block string, selected bool) string {
	mark := " "
	if selected {
		mark = r.styles.SelectionBg.Render("▌")
	}
	lines := strings.Split(block, "\n")
	for i, l := range lines {
		lines[i] = mark + l
	}
	return strings.Join(lines, "\n")
}
