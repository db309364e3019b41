package focus

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mastercactapus/qscan/coord"
)

func TestMap_OffsetZ(t *testing.T) {

	// focus falls 0.05 per unit Y across a 10x10 region
	points := []coord.Point{
		{X: 0, Y: 0, Z: 5},
		{X: 10, Y: 0, Z: 5},
		{X: 0, Y: 10, Z: 4.5},
		{X: 10, Y: 10, Z: 4.5},
	}

	m, err := NewMap(points)
	assert.NoError(t, err)

	ok, z := m.OffsetZ(0, 0)
	assert.True(t, ok)
	assert.InDelta(t, 5.0, z, 1e-9)

	ok, z = m.OffsetZ(5, 5)
	assert.True(t, ok)
	assert.InDelta(t, 4.75, z, 1e-9)

	ok, z = m.OffsetZ(2, 8)
	assert.True(t, ok)
	assert.InDelta(t, 4.6, z, 1e-9)

	// outside the calibrated region there is no offset
	ok, _ = m.OffsetZ(11, 5)
	assert.False(t, ok)
	ok, _ = m.OffsetZ(5, -1)
	assert.False(t, ok)
}

func TestNewMap_TooFewPoints(t *testing.T) {
	_, err := NewMap([]coord.Point{{X: 0, Y: 0}, {X: 1, Y: 1}})
	assert.Error(t, err)
}

func TestOffsetFrom(t *testing.T) {
	points := []coord.Point{
		{X: 0, Y: 0, Z: 5},
		{X: 10, Y: 0, Z: 5.2},
	}

	rel := OffsetFrom(5, points)
	assert.Equal(t, 0.0, rel[0].Z)
	assert.InDelta(t, 0.2, rel[1].Z, 1e-9)

	// the input is left alone
	assert.Equal(t, 5.0, points[0].Z)
}

func TestMap_Bounds(t *testing.T) {
	m, err := NewMap([]coord.Point{
		{X: -2, Y: 1, Z: 0},
		{X: 4, Y: 1, Z: 0},
		{X: 0, Y: 6, Z: 0},
	})
	assert.NoError(t, err)

	minX, minY, maxX, maxY := m.Bounds()
	assert.InDelta(t, -2, minX, 0.01)
	assert.InDelta(t, 1, minY, 0.01)
	assert.InDelta(t, 4, maxX, 0.01)
	assert.InDelta(t, 6, maxY, 0.01)

	assert.Len(t, m.Points(), 3)
}
