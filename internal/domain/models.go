package domain

import (
	"encoding/base64"
	"unicode/utf8"
)

// RepositoryKind identifies where a repository is hosted
type RepositoryKind string

const (
	RepositoryKindGit    RepositoryKind = "git"
	RepositoryKindGithub RepositoryKind = "github"
	RepositoryKindGitlab RepositoryKind = "gitlab"
	RepositoryKindLocal  RepositoryKind = "local"
)

// Valid reports whether k is a known repository kind
func (k RepositoryKind) Valid() bool {
	switch k {
	case RepositoryKindGit, RepositoryKindGithub, RepositoryKindGitlab, RepositoryKindLocal:
		return true
	default:
		return false
	}
}

// Repository is the identity a search is issued against
type Repository struct {
	Kind RepositoryKind
	ID   string
}

func (r Repository) String() string {
	return string(r.Kind) + "/" + r.ID
}

// LineContent carries a line either as text or, when it is not valid
// UTF-8, as base64 encoded bytes.
type LineContent struct {
	Text   string `json:"text,omitempty"`
	Base64 string `json:"base64,omitempty"`
}

// NewLineContent picks the text or base64 form for raw line bytes
func NewLineContent(raw []byte) LineContent {
	if utf8.Valid(raw) {
		return LineContent{Text: string(raw)}
	}
	return LineContent{Base64: base64.StdEncoding.EncodeToString(raw)}
}

// Bytes returns the raw line bytes
func (c LineContent) Bytes() []byte {
	if c.Base64 != "" {
		b, err := base64.StdEncoding.DecodeString(c.Base64)
		if err != nil {
			return nil
		}
		return b
	}
	return []byte(c.Text)
}

// SubMatch is a byte range inside a line's content. ByteStart < ByteEnd.
type SubMatch struct {
	ByteStart int `json:"byteStart"`
	ByteEnd   int `json:"byteEnd"`
}

// MatchedLine is a single line returned by the backend. A line without
// sub-matches is a context line.
type MatchedLine struct {
	LineNumber int         `json:"lineNumber"`
	ByteOffset int         `json:"byteOffset"`
	Content    LineContent `json:"line"`
	SubMatches []SubMatch  `json:"subMatches"`
}

// IsContext reports whether the line was included only for readability
func (l MatchedLine) IsContext() bool {
	return len(l.SubMatches) == 0
}

// FileMatches groups the matched lines of one file, ascending by line number
type FileMatches struct {
	Path  string        `json:"path"`
	Lines []MatchedLine `json:"lines"`
}

// LineRange is an inclusive block of line numbers rendered together
type LineRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of lines covered by the range
func (r LineRange) Len() int {
	return r.End - r.Start + 1
}

// AggregatedFileResult is the per-file output exposed to the presentation layer
type AggregatedFileResult struct {
	Path              string              `json:"path"`
	Ranges            []LineRange         `json:"ranges"`
	FirstSubMatchLine *int                `json:"firstSubMatchLine,omitempty"`
	Lines             map[int]MatchedLine `json:"-"` // keyed by line number, used for rendering
}

// MatchCount returns the number of non-context lines in the result
func (r AggregatedFileResult) MatchCount() int {
	n := 0
	for _, l := range r.Lines {
		if !l.IsContext() {
			n++
		}
	}
	return n
}
