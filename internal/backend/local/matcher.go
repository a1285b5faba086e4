package local

import (
	"bytes"
	"fmt"
	"regexp"

	"srcgrep/internal/aggregate"
	"srcgrep/internal/backend"
	"srcgrep/internal/domain"
)

// binaryProbe is how many leading bytes are checked for a NUL
const binaryProbe = 8000

// matcher finds query hits in file contents and adds context lines
type matcher struct {
	re         *regexp.Regexp
	context    int
	maxMatches int // matching lines per file, 0 for no cap
}

func newMatcher(query string, regex, caseSensitive bool, maxMatches int) (*matcher, error) {
	if query == "" {
		return nil, backend.ErrEmptyQuery
	}
	pattern := query
	if !regex {
		pattern = regexp.QuoteMeta(query)
	}
	if !caseSensitive {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", backend.ErrInvalidPattern, err)
	}
	return &matcher{re: re, context: aggregate.ContextPadding, maxMatches: maxMatches}, nil
}

// isBinary reports whether content looks like a binary file
func isBinary(content []byte) bool {
	probe := content
	if len(probe) > binaryProbe {
		probe = probe[:binaryProbe]
	}
	return bytes.IndexByte(probe, 0) >= 0
}

type line struct {
	offset int
	raw    []byte
}

func splitLines(content []byte) []line {
	var lines []line
	offset := 0
	for offset < len(content) {
		end := bytes.IndexByte(content[offset:], '\n')
		if end < 0 {
			lines = append(lines, line{offset: offset, raw: content[offset:]})
			break
		}
		lines = append(lines, line{offset: offset, raw: content[offset : offset+end]})
		offset += end + 1
	}
	return lines
}

// subMatches returns the non-empty hits in raw, relative to the line start
func (m *matcher) subMatches(raw []byte) []domain.SubMatch {
	var subs []domain.SubMatch
	for _, loc := range m.re.FindAllIndex(raw, -1) {
		if loc[1] > loc[0] {
			subs = append(subs, domain.SubMatch{ByteStart: loc[0], ByteEnd: loc[1]})
		}
	}
	return subs
}

// scan returns matching lines plus up to m.context lines around each, in
// ascending order with no duplicates. Nil means no hits.
func (m *matcher) scan(content []byte) []domain.MatchedLine {
	lines := splitLines(content)

	hits := make(map[int][]domain.SubMatch)
	include := make([]bool, len(lines))
	matched := 0
	for i, l := range lines {
		if m.maxMatches > 0 && matched >= m.maxMatches {
			break
		}
		subs := m.subMatches(bytes.TrimSuffix(l.raw, []byte{'\r'}))
		if len(subs) == 0 {
			continue
		}
		matched++
		hits[i] = subs
		lo, hi := max(0, i-m.context), min(len(lines)-1, i+m.context)
		for j := lo; j <= hi; j++ {
			include[j] = true
		}
	}
	if matched == 0 {
		return nil
	}

	out := make([]domain.MatchedLine, 0, matched*(2*m.context+1))
	for i, keep := range include {
		if !keep {
			continue
		}
		l := lines[i]
		out = append(out, domain.MatchedLine{
			LineNumber: i + 1,
			ByteOffset: l.offset,
			Content:    domain.NewLineContent(bytes.TrimSuffix(l.raw, []byte{'\r'})),
			SubMatches: hits[i],
		})
	}
	return out
}
