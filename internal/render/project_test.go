package render

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectRoundTrip(t *testing.T) {
	for _, p := range []orb.Point{{0, 0}, {37.6173, 55.7558}, {-122.4194, 37.7749}, {179.9, -60}} {
		x, y, err := Project(p)
		require.NoError(t, err)
		back := Unproject(x, y)
		assert.InDelta(t, p.Lon(), back.Lon(), 1e-9)
		assert.InDelta(t, p.Lat(), back.Lat(), 1e-9)
	}
}

func TestProjectClampsLatitude(t *testing.T) {
	_, y, err := Project(orb.Point{0, 89.9})
	require.NoError(t, err)
	assert.InDelta(t, 0, y, 1e-9)

	_, y, err = Project(orb.Point{0, -89.9})
	require.NoError(t, err)
	assert.InDelta(t, 1, y, 1e-9)
}

func TestProjectRejectsBadCoordinates(t *testing.T) {
	for _, p := range []orb.Point{{math.NaN(), 0}, {0, math.Inf(1)}, {200, 0}, {0, -95}} {
		_, _, err := Project(p)
		assert.ErrorIs(t, err, ErrBadCoordinate)
	}
}

func TestTileTransformMatchesTileBound(t *testing.T) {
	tile := maptile.New(4953, 2560, 13)
	tt := newTileTransform(tile, 512)
	b := tile.Bound()

	x, y, err := Project(orb.Point{b.Min.Lon(), b.Max.Lat()})
	require.NoError(t, err)
	px, py := tt.pixel(normPoint{X: x, Y: y})
	assert.InDelta(t, 0, px, 1e-6)
	assert.InDelta(t, 0, py, 1e-6)

	x, y, err = Project(orb.Point{b.Max.Lon(), b.Min.Lat()})
	require.NoError(t, err)
	px, py = tt.pixel(normPoint{X: x, Y: y})
	assert.InDelta(t, 512, px, 1e-6)
	assert.InDelta(t, 512, py, 1e-6)
}
