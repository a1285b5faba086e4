package views

import (
	"github.com/charmbracelet/lipgloss"
)

// Styles contains all the style definitions for the UI
type Styles struct {
	Title       lipgloss.Style
	Prompt      lipgloss.Style
	Dim         lipgloss.Style
	Status      lipgloss.Style
	Help        lipgloss.Style
	Main        lipgloss.Style
	Scroll      lipgloss.Style
	FileHeader  lipgloss.Style
	Language    lipgloss.Style
	LineNumber  lipgloss.Style
	Gutter      lipgloss.Style
	Match       lipgloss.Style
	JumpLine    lipgloss.Style
	SelectionBg lipgloss.Style
	StatusError lipgloss.Style
	Spinner     lipgloss.Style
}

// NewStyles creates a new Styles instance with default values
func NewStyles() *Styles {
	return &Styles{
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99")),
		Prompt: lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true),
		Dim:    lipgloss.NewStyle().Faint(true),
		Status: lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")),
		Help: lipgloss.NewStyle().Faint(true),
		Main: lipgloss.NewStyle().
			Padding(0, 1),
		Scroll:      lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true),
		FileHeader:  lipgloss.NewStyle().Foreground(lipgloss.Color("78")).Bold(true), // green
		Language:    lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true),
		LineNumber:  lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		Gutter:      lipgloss.NewStyle().Foreground(lipgloss.Color("238")),
		Match:       lipgloss.NewStyle().Foreground(lipgloss.Color("226")).Bold(true),
		JumpLine:    lipgloss.NewStyle().Background(lipgloss.Color("238")),
		SelectionBg: lipgloss.NewStyle().Background(lipgloss.Color("236")),
		StatusError: lipgloss.NewStyle().Foreground(lipgloss.Color("203")), // red
		Spinner:     lipgloss.NewStyle().Foreground(lipgloss.Color("51")),  // cyan
	}
}

// defaultStyles backs the package level render helpers
var defaultStyles = NewStyles()
