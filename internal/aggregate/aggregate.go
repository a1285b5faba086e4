// Package aggregate turns the matched lines of one file into the minimal set
// of contiguous line ranges used as rendering blocks, and derives the line a
// "jump to match" link should point at.
package aggregate

import (
	"errors"
	"fmt"
	"log"
	"sort"

	"srcgrep/internal/domain"
)

// ContextPadding is the number of context lines the backend puts before each
// match group. A range block's jump target is its start plus this padding,
// so it must equal the backend's context-line count exactly.
const ContextPadding = 3

// ErrPrecondition is wrapped by every PreconditionViolation
var ErrPrecondition = errors.New("aggregate precondition violated")

// PreconditionViolation describes input that is not strictly ascending by
// line number.
type PreconditionViolation struct {
	Index     int // position of the offending line
	Previous  int
	Current   int
	Duplicate bool
}

func (e *PreconditionViolation) Error() string {
	if e.Duplicate {
		return fmt.Sprintf("duplicate line number %d at index %d", e.Current, e.Index)
	}
	return fmt.Sprintf("line %d at index %d follows line %d", e.Current, e.Index, e.Previous)
}

func (e *PreconditionViolation) Unwrap() error {
	return ErrPrecondition
}

// Result is the output of a single aggregation pass
type Result struct {
	Ranges            []domain.LineRange
	FirstSubMatchLine *int
}

// Aggregate scans lines once, merging consecutive line numbers into ranges
// and recording the first line that carries a sub-match. lines must be
// strictly ascending by LineNumber.
func Aggregate(lines []domain.MatchedLine) Result {
	res := Result{Ranges: []domain.LineRange{}}
	if len(lines) == 0 {
		return res
	}

	current := domain.LineRange{Start: lines[0].LineNumber, End: lines[0].LineNumber}
	for i, line := range lines {
		if res.FirstSubMatchLine == nil && len(line.SubMatches) > 0 {
			n := line.LineNumber
			res.FirstSubMatchLine = &n
		}
		if i == 0 {
			continue
		}
		if line.LineNumber == current.End+1 {
			current.End = line.LineNumber
			continue
		}
		res.Ranges = append(res.Ranges, current)
		current = domain.LineRange{Start: line.LineNumber, End: line.LineNumber}
	}
	res.Ranges = append(res.Ranges, current)

	return res
}

// Validate reports the first position where lines are not strictly ascending
func Validate(lines []domain.MatchedLine) error {
	for i := 1; i < len(lines); i++ {
		prev, cur := lines[i-1].LineNumber, lines[i].LineNumber
		if cur > prev {
			continue
		}
		return &PreconditionViolation{
			Index:     i,
			Previous:  prev,
			Current:   cur,
			Duplicate: cur == prev,
		}
	}
	return nil
}

// Normalize returns a sorted copy of lines with duplicate line numbers
// removed. Of two entries for the same line, one carrying sub-matches wins;
// otherwise the first one is kept.
func Normalize(lines []domain.MatchedLine) []domain.MatchedLine {
	out := make([]domain.MatchedLine, len(lines))
	copy(out, lines)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LineNumber < out[j].LineNumber
	})

	deduped := out[:0]
	for _, line := range out {
		n := len(deduped)
		if n > 0 && deduped[n-1].LineNumber == line.LineNumber {
			if deduped[n-1].IsContext() && !line.IsContext() {
				deduped[n-1] = line
			}
			continue
		}
		deduped = append(deduped, line)
	}
	return deduped
}

// Expand lists every line number covered by ranges, in order
func Expand(ranges []domain.LineRange) []int {
	total := 0
	for _, r := range ranges {
		total += r.Len()
	}
	if total == 0 {
		return nil
	}

	lines := make([]int, 0, total)
	for _, r := range ranges {
		for n := r.Start; n <= r.End; n++ {
			lines = append(lines, n)
		}
	}
	return lines
}

// Aggregator applies Aggregate to backend files and decides what happens
// when a file breaks the ordering contract.
type Aggregator struct {
	// Strict panics on unsorted or duplicate input instead of repairing it
	Strict bool
}

// File aggregates one file's matches
func (a Aggregator) File(fm domain.FileMatches) domain.AggregatedFileResult {
	lines := fm.Lines
	if err := Validate(lines); err != nil {
		if a.Strict {
			panic(fmt.Errorf("%s: %w", fm.Path, err))
		}
		log.Printf("aggregate: %s: %v; sorting defensively", fm.Path, err)
		lines = Normalize(lines)
	}

	res := Aggregate(lines)
	byLine := make(map[int]domain.MatchedLine, len(lines))
	for _, l := range lines {
		byLine[l.LineNumber] = l
	}

	return domain.AggregatedFileResult{
		Path:              fm.Path,
		Ranges:            res.Ranges,
		FirstSubMatchLine: res.FirstSubMatchLine,
		Lines:             byLine,
	}
}

// Files aggregates every file of a backend response, preserving order
func (a Aggregator) Files(files []domain.FileMatches) []domain.AggregatedFileResult {
	out := make([]domain.AggregatedFileResult, 0, len(files))
	for _, fm := range files {
		out = append(out, a.File(fm))
	}
	return out
}
