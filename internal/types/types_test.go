package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMidpointKeyOrdersBetweenBounds(t *testing.T) {
	lo := FractionalIndex("")
	hi := FractionalIndex("")
	mid := MidpointKey(lo, hi)
	assert.NotEmpty(t, mid)

	lower := MidpointKey(lo, mid)
	assert.Less(t, string(lower), string(mid))

	upper := MidpointKey(mid, hi)
	assert.Greater(t, string(upper), string(mid))
}

func TestMidpointKeyRepeatedInsertionStaysOrdered(t *testing.T) {
	a := FractionalIndex("A")
	b := FractionalIndex("C")
	prev := a
	for i := 0; i < 5; i++ {
		mid := MidpointKey(prev, b)
		assert.Greater(t, string(mid), string(prev))
		assert.Less(t, string(mid), string(b))
		prev = mid
	}
}

func TestBlockContentWithText(t *testing.T) {
	h := Heading{Level: 3, Markdown: "old"}
	updated := h.WithText("new")
	assert.Equal(t, "new", updated.Text())
	assert.Equal(t, BlockHeading, updated.Type())
	assert.Equal(t, 3, updated.(Heading).Level)
}

func TestParseBlockTypeRejectsUnknown(t *testing.T) {
	_, err := ParseBlockType("not-a-type")
	assert.Error(t, err)

	bt, err := ParseBlockType("code")
	assert.NoError(t, err)
	assert.Equal(t, BlockCode, bt)
}
