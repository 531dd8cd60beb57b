package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetline/engine/pkg/core"
)

// testRoute runs roughly west to east along the equator.
func testRoute() core.Polyline {
	return core.Polyline{
		{Lat: 0, Lng: 0},
		{Lat: 0, Lng: 0.01},
		{Lat: 0, Lng: 0.02},
		{Lat: 0.01, Lng: 0.02},
	}
}

func TestNewPath_TooFewPoints(t *testing.T) {
	_, err := NewPath(core.Polyline{{Lat: 0, Lng: 0}})
	require.Error(t, err)
}

func TestNewPath_SkipsZeroLengthSegments(t *testing.T) {
	poly := core.Polyline{
		{Lat: 0, Lng: 0},
		{Lat: 0, Lng: 0}, // duplicate
		{Lat: 0, Lng: 0.01},
		{Lat: 0, Lng: 0.01}, // duplicate
		{Lat: 0, Lng: 0.02},
	}
	p, err := NewPath(poly)
	require.NoError(t, err)
	assert.Len(t, p.Points(), 3)
	assert.Greater(t, p.Length(), 0.0)
}

func TestNewPath_OutOfBoundsPoints(t *testing.T) {
	_, err := NewPath(core.Polyline{{Lat: 95, Lng: 0}, {Lat: 0, Lng: 0.01}})
	require.ErrorIs(t, err, ErrInvalidCoordinates, "first waypoint is validated too")

	_, err = NewPath(core.Polyline{{Lat: 0, Lng: 0}, {Lat: 0, Lng: 200}})
	require.ErrorIs(t, err, ErrInvalidCoordinates)
}

func TestNewPath_AllDuplicates(t *testing.T) {
	_, err := NewPath(core.Polyline{{Lat: 5, Lng: 5}, {Lat: 5, Lng: 5}})
	require.Error(t, err)
}

func TestPath_PointAtEndpoints(t *testing.T) {
	p, err := NewPath(testRoute())
	require.NoError(t, err)

	start := p.PointAt(0)
	assert.InDelta(t, 0.0, start.Lat, 1e-9)
	assert.InDelta(t, 0.0, start.Lng, 1e-9)

	end := p.PointAt(1)
	assert.InDelta(t, 0.01, end.Lat, 1e-9)
	assert.InDelta(t, 0.02, end.Lng, 1e-9)

	// Clamped outside [0,1].
	assert.Equal(t, start, p.PointAt(-0.5))
	assert.Equal(t, end, p.PointAt(1.5))
}

func TestPath_ProjectOnSegment(t *testing.T) {
	p, err := NewPath(testRoute())
	require.NoError(t, err)

	// A point slightly north of the midpoint of the first leg.
	q := core.Position{Lat: 0.001, Lng: 0.005}
	nearest, progress := p.Project(q)

	assert.InDelta(t, 0.0, nearest.Lat, 1e-4)
	assert.InDelta(t, 0.005, nearest.Lng, 1e-4)
	// First two legs are each 1/3 of total length; midpoint of leg one.
	assert.InDelta(t, 1.0/6.0, progress, 0.01)
}

func TestPath_ProjectBeyondEnd(t *testing.T) {
	p, err := NewPath(testRoute())
	require.NoError(t, err)

	q := core.Position{Lat: 0.02, Lng: 0.02}
	nearest, progress := p.Project(q)
	assert.InDelta(t, 1.0, progress, 1e-9)
	assert.InDelta(t, 0.01, nearest.Lat, 1e-6)
}

func TestPath_ProjectRoundTrip(t *testing.T) {
	p, err := NewPath(testRoute())
	require.NoError(t, err)

	for _, progress := range []float64{0, 0.25, 0.5, 0.75, 1} {
		pt := p.PointAt(progress)
		_, got := p.Project(pt)
		assert.InDelta(t, progress, got, 0.01, "progress %v", progress)
	}
}

func TestPath_HeadingAt(t *testing.T) {
	p, err := NewPath(testRoute())
	require.NoError(t, err)

	// First leg runs due east.
	assert.InDelta(t, 90, p.HeadingAt(0.1, 1), 1)
	// Reverse direction on the same leg points west.
	assert.InDelta(t, 270, p.HeadingAt(0.1, -1), 1)
	// Last leg runs due north.
	assert.InDelta(t, 0, p.HeadingAt(0.9, 1), 1)
}

func TestPath_Interpolate(t *testing.T) {
	p, err := NewPath(testRoute())
	require.NoError(t, err)

	mid := p.Interpolate(0, 1, 0.5)
	assert.Equal(t, p.PointAt(0.5), mid)

	eased := p.Interpolate(0, 1, EaseOut(0.5))
	_, progress := p.Project(eased)
	assert.Greater(t, progress, 0.5)
}
