package input

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMask(t *testing.T) {
	var m Mask
	assert.False(t, m.Has(Down))

	m = m.With(Down).With(Up)
	assert.True(t, m.Has(Down))
	assert.True(t, m.Has(Up))
	assert.False(t, m.Has(Move))

	m = m.Without(Down)
	assert.False(t, m.Has(Down))
	assert.True(t, m.Has(Up))
	assert.Equal(t, m, m.Without(Scroll), "removing an absent kind is a no-op")
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "mouse-down", Down.String())
	assert.Equal(t, "mouse-scroll", Scroll.String())
	assert.Equal(t, "unknown", Kind(42).String())
	assert.False(t, Kind(-1).Valid())
	assert.True(t, Up.Valid())
}
