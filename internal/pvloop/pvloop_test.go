package pvloop

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResetsExactlyOnCycleChange(t *testing.T) {
	var h History

	assert.True(t, h.Apply(0, 5, 100), "first sample starts a loop even for cycle 0")
	assert.Equal(t, Point{5, 100}, h.Origin)
	assert.Equal(t, []Point{{0, 0}}, h.Loop)

	assert.False(t, h.Apply(0, 15, 300))
	assert.False(t, h.Apply(0, 10, 250))
	assert.Equal(t, []Point{{0, 0}, {10, 200}, {5, 150}}, h.Loop)

	assert.True(t, h.Apply(1, 6, 110))
	assert.Equal(t, uint32(1), h.Cycle)
	assert.Equal(t, Point{6, 110}, h.Origin)
	assert.Equal(t, []Point{{0, 0}}, h.Loop, "new loop starts at the origin")

	// any change resets, including a counter that wrapped
	assert.True(t, h.Apply(0, 6, 110))
}

func TestCloneIsIndependent(t *testing.T) {
	var h History
	h.Apply(3, 1, 1)
	h.Apply(3, 2, 2)

	c := h.Clone()
	c.Loop[1].Pressure = 42
	assert.Equal(t, float32(1), h.Loop[1].Pressure)
	assert.Equal(t, h.Cycle, c.Cycle)
}
