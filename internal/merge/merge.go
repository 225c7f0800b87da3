// Package merge implements the bounded-memory three-way line merge used as
// the CRDT conflict-resolution fallback when two devices edit the same
// block text concurrently.
package merge

import "strings"

// Kind classifies the outcome of a three-way merge.
type Kind int

const (
	// Clean means the merge produced a result with no unresolved overlap.
	Clean Kind = iota
	// Conflict means the merge inserted <<<<<<< / ======= / >>>>>>> markers.
	Conflict
	// TooLargeFallback means one or both sides exceeded the line-diff cell
	// budget; the result still merges (via the per-side fallback below) but
	// should be treated as lower-confidence and may want a manual review.
	TooLargeFallback
)

func (k Kind) String() string {
	switch k {
	case Clean:
		return "clean"
	case Conflict:
		return "conflict"
	case TooLargeFallback:
		return "too_large_fallback"
	default:
		return "unknown"
	}
}

// Result is the outcome of ThreeWay.
type Result struct {
	Kind   Kind
	Merged string
}

// cellLimit bounds the LCS DP table ((n+1)*(m+1) ints) to roughly 16MB
// worst case, keeping merge cost predictable regardless of document size.
const cellLimit = 2_000_000

// splitLines splits text on '\n', discarding any '\r', always pushing a
// final (possibly empty) line so round-tripping a trailing newline is
// lossless: "a\n" -> ["a", ""].
func splitLines(text string) []string {
	var out []string
	var current strings.Builder
	for _, c := range text {
		switch c {
		case '\r':
			continue
		case '\n':
			out = append(out, current.String())
			current.Reset()
		default:
			current.WriteRune(c)
		}
	}
	out = append(out, current.String())
	return out
}

func joinLines(lines []string) string {
	return strings.Join(lines, "\n")
}

type diffEdits struct {
	insertsBefore [][]string // len == len(base)+1
	deletes       []bool     // len == len(base)
}

// diffEditsFromBase computes, for each position in base, the lines of
// other to insert before it and whether the base line at that position was
// deleted, via an LCS alignment. If the DP table would exceed cellLimit,
// falls back to "replace everything at position 0" for this side only.
func diffEditsFromBase(base, other []string, limit int) diffEdits {
	n, m := len(base), len(other)
	edits := diffEdits{
		insertsBefore: make([][]string, n+1),
		deletes:       make([]bool, n),
	}

	if n == 0 {
		edits.insertsBefore[0] = other
		return edits
	}

	if (n+1)*(m+1) > limit {
		for i := range edits.deletes {
			edits.deletes[i] = true
		}
		edits.insertsBefore[0] = other
		return edits
	}

	dp := make([]int, (n+1)*(m+1))
	at := func(i, j int) int { return dp[i*(m+1)+j] }
	set := func(i, j, v int) { dp[i*(m+1)+j] = v }

	for i := 0; i < n; i++ {
		for j := 0; j < m; j++ {
			if base[i] == other[j] {
				set(i+1, j+1, at(i, j)+1)
			} else {
				a, b := at(i, j+1), at(i+1, j)
				if a > b {
					set(i+1, j+1, a)
				} else {
					set(i+1, j+1, b)
				}
			}
		}
	}

	i, j := n, m
	for i > 0 || j > 0 {
		if i > 0 && j > 0 && base[i-1] == other[j-1] {
			i--
			j--
			continue
		}
		if j > 0 && (i == 0 || at(i, j-1) >= at(i-1, j)) {
			edits.insertsBefore[i] = append(edits.insertsBefore[i], other[j-1])
			j--
			continue
		}
		if i > 0 {
			edits.deletes[i-1] = true
			i--
			continue
		}
	}

	for idx, bucket := range edits.insertsBefore {
		edits.insertsBefore[idx] = reversed(bucket)
	}
	return edits
}

func reversed(s []string) []string {
	out := make([]string, len(s))
	for i, v := range s {
		out[len(s)-1-i] = v
	}
	return out
}

func linesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func conflictChunk(ours, theirs []string) []string {
	out := make([]string, 0, len(ours)+len(theirs)+3)
	out = append(out, "<<<<<<< ours")
	out = append(out, ours...)
	out = append(out, "=======")
	out = append(out, theirs...)
	out = append(out, ">>>>>>> theirs")
	return out
}

// ThreeWay merges oursText and theirsText against their common ancestor
// baseText. It never errors: worst case it returns a Conflict or
// TooLargeFallback result with inline markers, never loses data.
func ThreeWay(baseText, oursText, theirsText string) Result {
	if oursText == theirsText {
		return Result{Kind: Clean, Merged: oursText}
	}
	if oursText == baseText {
		return Result{Kind: Clean, Merged: theirsText}
	}
	if theirsText == baseText {
		return Result{Kind: Clean, Merged: oursText}
	}

	base := splitLines(baseText)
	ours := splitLines(oursText)
	theirs := splitLines(theirsText)

	oursEdits := diffEditsFromBase(base, ours, cellLimit)
	theirsEdits := diffEditsFromBase(base, theirs, cellLimit)

	clean := true
	tooLarge := (len(base)+1)*(len(ours)+1) > cellLimit || (len(base)+1)*(len(theirs)+1) > cellLimit

	merged := make([]string, 0, max3(len(base), len(ours), len(theirs))+16)

	emitInserts := func(a, b []string) {
		switch {
		case len(a) == 0 && len(b) == 0:
			return
		case len(a) == 0:
			merged = append(merged, b...)
		case len(b) == 0:
			merged = append(merged, a...)
		case linesEqual(a, b):
			merged = append(merged, a...)
		default:
			clean = false
			merged = append(merged, conflictChunk(a, b)...)
		}
	}

	for i := 0; i < len(base); i++ {
		emitInserts(oursEdits.insertsBefore[i], theirsEdits.insertsBefore[i])

		oursDeleted := oursEdits.deletes[i]
		theirsDeleted := theirsEdits.deletes[i]
		if oursDeleted || theirsDeleted {
			continue
		}
		merged = append(merged, base[i])
	}
	emitInserts(oursEdits.insertsBefore[len(base)], theirsEdits.insertsBefore[len(base)])

	if tooLarge {
		return Result{Kind: TooLargeFallback, Merged: joinLines(merged)}
	}
	kind := Clean
	if !clean {
		kind = Conflict
	}
	return Result{Kind: kind, Merged: joinLines(merged)}
}

func max3(a, b, c int) int {
	m := a
	if b > m {
		m = b
	}
	if c > m {
		m = c
	}
	return m
}
