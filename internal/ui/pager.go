package ui

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/noborus/ov/oviewer"

	"srcgrep/internal/aggregate"
	"srcgrep/internal/domain"
)

// ErrNoProgram is returned when the pager is opened before SetProgram
var ErrNoProgram = errors.New("program not set")

// PagerLine is one numbered line handed to the pager
type PagerLine struct {
	Number int
	Text   string
}

// SplitPagerLines numbers the lines of a whole file
func SplitPagerLines(data []byte) []PagerLine {
	data = bytes.TrimSuffix(data, []byte{'\n'})
	if len(data) == 0 {
		return nil
	}
	raw := bytes.Split(data, []byte{'\n'})
	lines := make([]PagerLine, len(raw))
	for i, l := range raw {
		text := strings.ToValidUTF8(string(bytes.TrimSuffix(l, []byte{'\r'})), "�")
		lines[i] = PagerLine{Number: i + 1, Text: text}
	}
	return lines
}

// ResultPagerLines returns the lines of res that the backend sent, in range
// order. It is used when the whole file cannot be read.
func ResultPagerLines(res domain.AggregatedFileResult) []PagerLine {
	var lines []PagerLine
	for _, n := range aggregate.Expand(res.Ranges) {
		l := res.Lines[n]
		text := l.Content.Text
		if l.Content.Base64 != "" {
			text = strings.ToValidUTF8(string(l.Content.Bytes()), "�")
		}
		lines = append(lines, PagerLine{Number: n, Text: text})
	}
	return lines
}

// PagerContent renders path's lines for the pager, starting at the jump
// target with that line highlighted. A target past the last line starts at
// the last line.
func PagerContent(path string, lines []PagerLine, jump int) string {
	target := jump
	if n := len(lines); n > 0 && target > lines[n-1].Number {
		target = lines[n-1].Number
	}

	width := 1
	if n := len(lines); n > 0 {
		width = len(fmt.Sprint(lines[n-1].Number))
	}

	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("78"))
	numberStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	targetStyle := lipgloss.NewStyle().Background(lipgloss.Color("238")).Bold(true)

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("%s:%d", path, jump)))
	b.WriteByte('\n')
	for _, l := range lines {
		if l.Number < target {
			continue
		}
		text := strings.ReplaceAll(l.Text, "\t", "    ")
		if l.Number == target {
			text = targetStyle.Render(text)
		}
		b.WriteString(numberStyle.Render(fmt.Sprintf("%*d ", width, l.Number)))
		b.WriteString(text)
		b.WriteByte('\n')
	}
	return b.String()
}

// PagerOps shows content in the ov pager
type PagerOps struct {
	program *tea.Program // reference to Bubble Tea program for terminal management
}

// NewPagerOps creates a new pager operations instance
func NewPagerOps(program *tea.Program) *PagerOps {
	return &PagerOps{program: program}
}

// Show hands the terminal to ov until the user quits it
func (p *PagerOps) Show(content string) error {
	if p == nil || p.program == nil {
		return ErrNoProgram
	}

	// Release terminal control to run ov
	if err := p.program.ReleaseTerminal(); err != nil {
		return err
	}

	// Ensure terminal is restored even if ov fails
	defer func() {
		// Small delay to ensure ov has fully exited before restoring terminal
		time.Sleep(100 * time.Millisecond)
		_ = p.program.RestoreTerminal()
	}()

	root, err := oviewer.NewRoot(strings.NewReader(content))
	if err != nil {
		return err
	}

	// Don't write the document to our screen on exit
	config := oviewer.NewConfig()
	config.IsWriteOnExit = false
	config.IsWriteOriginal = false
	root.SetConfig(config)

	return root.Run()
}
