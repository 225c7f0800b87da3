package merge

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThreeWayIdentity(t *testing.T) {
	base := "a\nb\nc"
	res := ThreeWay(base, base, base)
	assert.Equal(t, Clean, res.Kind)
	assert.Equal(t, base, res.Merged)
}

func TestThreeWayOnlyOursChanged(t *testing.T) {
	base := "a\nb\nc"
	ours := "a\nX\nc"
	res := ThreeWay(base, ours, base)
	assert.Equal(t, Clean, res.Kind)
	assert.Equal(t, ours, res.Merged)
}

func TestThreeWayOnlyTheirsChanged(t *testing.T) {
	base := "a\nb\nc"
	theirs := "a\nY\nc"
	res := ThreeWay(base, base, theirs)
	assert.Equal(t, Clean, res.Kind)
	assert.Equal(t, theirs, res.Merged)
}

func TestThreeWayNonOverlappingEdits(t *testing.T) {
	base := "a\nb\nc\nd"
	ours := "A\nb\nc\nd"
	theirs := "a\nb\nc\nD"
	res := ThreeWay(base, ours, theirs)
	require.Equal(t, Clean, res.Kind)
	assert.Equal(t, "A\nb\nc\nD", res.Merged)
}

func TestThreeWayConflictingEdits(t *testing.T) {
	base := "a\nb\nc"
	ours := "a\nOURS\nc"
	theirs := "a\nTHEIRS\nc"
	res := ThreeWay(base, ours, theirs)
	require.Equal(t, Conflict, res.Kind)
	assert.Contains(t, res.Merged, "<<<<<<< ours")
	assert.Contains(t, res.Merged, "OURS")
	assert.Contains(t, res.Merged, "=======")
	assert.Contains(t, res.Merged, "THEIRS")
	assert.Contains(t, res.Merged, ">>>>>>> theirs")
}

func TestThreeWayEmptyBase(t *testing.T) {
	res := ThreeWay("", "ours text", "theirs text")
	require.Equal(t, Conflict, res.Kind)
	assert.Contains(t, res.Merged, "ours text")
	assert.Contains(t, res.Merged, "theirs text")
}

func TestThreeWayTooLargeFallback(t *testing.T) {
	base := strings.Repeat("line\n", 1500)
	ours := strings.Repeat("ours\n", 1500)
	theirs := strings.Repeat("theirs\n", 1500)
	res := ThreeWay(base, ours, theirs)
	assert.Equal(t, TooLargeFallback, res.Kind)
	assert.NotEmpty(t, res.Merged)
}

func TestThreeWayIdempotentOnCleanMerge(t *testing.T) {
	base := "a\nb"
	ours := "a\nb\nc"
	theirs := "a\nb"
	first := ThreeWay(base, ours, theirs)
	require.Equal(t, Clean, first.Kind)
	second := ThreeWay(first.Merged, first.Merged, first.Merged)
	assert.Equal(t, Clean, second.Kind)
	assert.Equal(t, first.Merged, second.Merged)
}
