package views

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"srcgrep/internal/domain"
)

// languages maps file extensions to the label shown above a code block
var languages = map[string]string{
	".go":    "go",
	".rs":    "rust",
	".py":    "python",
	".js":    "javascript",
	".jsx":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".java":  "java",
	".kt":    "kotlin",
	".c":     "c",
	".h":     "c",
	".cc":    "cpp",
	".cpp":   "cpp",
	".hpp":   "cpp",
	".rb":    "ruby",
	".php":   "php",
	".sh":    "shell",
	".md":    "markdown",
	".json":  "json",
	".toml":  "toml",
	".yaml":  "yaml",
	".yml":   "yaml",
	".sql":   "sql",
	".html":  "html",
	".css":   "css",
	".proto": "protobuf",
}

// Language returns the display language for path, or "text"
func Language(path string) string {
	if lang, ok := languages[strings.ToLower(filepath.Ext(path))]; ok {
		return lang
	}
	switch filepath.Base(path) {
	case "Makefile":
		return "make"
	case "Dockerfile":
		return "dockerfile"
	}
	return "text"
}

// RenderBlock renders the lines of one range as a numbered code block.
// With highlight set, sub-match byte ranges are emphasised. Lines missing
// from lines render empty.
func RenderBlock(lines map[int]domain.MatchedLine, language string, highlight bool, r domain.LineRange) string {
	return defaultStyles.renderBlock(lines, language, highlight, r, 0)
}

func (s *Styles) renderBlock(lines map[int]domain.MatchedLine, language string, highlight bool, r domain.LineRange, jump int) string {
	width := len(fmt.Sprint(r.End))

	var b strings.Builder
	b.WriteString(s.Language.Render(fmt.Sprintf("%*s %s", width, "", language)))
	for n := r.Start; n <= r.End; n++ {
		b.WriteByte('\n')
		number := s.LineNumber.Render(fmt.Sprintf("%*d", width, n))
		text := s.lineText(lines[n], highlight)
		if n == jump {
			text = s.JumpLine.Render(text)
		}
		b.WriteString(number + s.Gutter.Render(" │ ") + text)
	}
	return b.String()
}

// lineText returns the printable text of l, with sub-matches styled when
// highlight is set. Binary lines are shown with replacement characters.
func (s *Styles) lineText(l domain.MatchedLine, highlight bool) string {
	if l.Content.Base64 != "" {
		return strings.ToValidUTF8(string(l.Content.Bytes()), "�")
	}
	text := l.Content.Text
	if highlight && len(l.SubMatches) > 0 {
		text = s.highlight(text, l.SubMatches)
	}
	return strings.ReplaceAll(text, "\t", "    ")
}

// highlight styles the byte ranges subs of text. Ranges are clamped to the
// text and overlapping ranges merged.
func (s *Styles) highlight(text string, subs []domain.SubMatch) string {
	spans := make([]domain.SubMatch, 0, len(subs))
	for _, sm := range subs {
		start, end := max(0, sm.ByteStart), min(len(text), sm.ByteEnd)
		if start < end {
			spans = append(spans, domain.SubMatch{ByteStart: start, ByteEnd: end})
		}
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].ByteStart < spans[j].ByteStart })

	var b strings.Builder
	pos := 0
	for _, sp := range spans {
		if sp.ByteEnd <= pos {
			continue
		}
		start := max(sp.ByteStart, pos)
		b.WriteString(text[pos:start])
		b.WriteString(s.Match.Render(text[start:sp.ByteEnd]))
		pos = sp.ByteEnd
	}
	b.WriteString(text[pos:])
	return b.String()
}
