package aggregate

import "srcgrep/internal/domain"

// JumpLine is the line a "jump to first match" link for the file points at:
// the first sub-match line when known, otherwise the start of the first range.
func JumpLine(r domain.AggregatedFileResult) (int, bool) {
	if r.FirstSubMatchLine != nil {
		return *r.FirstSubMatchLine, true
	}
	if len(r.Ranges) == 0 {
		return 0, false
	}
	return r.Ranges[0].Start, true
}

// RangeJumpLine is the link target of an individual range block. The backend
// prepends ContextPadding context lines, so the match itself sits below Start.
func RangeJumpLine(r domain.LineRange) int {
	return r.Start + ContextPadding
}
