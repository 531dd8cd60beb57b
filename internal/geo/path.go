package geo

import (
	"fmt"

	"github.com/fleetline/engine/pkg/core"
)

// Path is a route polyline with precomputed cumulative segment lengths.
// Zero-length segments (duplicate consecutive waypoints) are dropped at
// construction so projection and interpolation stay numerically stable.
type Path struct {
	points core.Polyline
	cum    []float64 // cumulative meters up to each point
	total  float64
}

// NewPath builds a Path from a polyline, skipping zero-length segments.
func NewPath(poly core.Polyline) (*Path, error) {
	if len(poly) < 2 {
		return nil, fmt.Errorf("polyline must have at least 2 points, got %d", len(poly))
	}

	if !InBounds(poly[0]) {
		return nil, ErrInvalidCoordinates
	}

	points := make(core.Polyline, 0, len(poly))
	cum := make([]float64, 0, len(poly))
	total := 0.0

	points = append(points, poly[0])
	cum = append(cum, 0)
	for _, pt := range poly[1:] {
		if !InBounds(pt) {
			return nil, ErrInvalidCoordinates
		}
		seg := Distance(points[len(points)-1], pt)
		if seg == 0 {
			continue
		}
		total += seg
		points = append(points, pt)
		cum = append(cum, total)
	}

	if len(points) < 2 {
		return nil, fmt.Errorf("polyline has no non-degenerate segments")
	}
	return &Path{points: points, cum: cum, total: total}, nil
}

// Length returns the total path length in meters.
func (p *Path) Length() float64 { return p.total }

// Points returns the de-duplicated waypoint sequence.
func (p *Path) Points() core.Polyline { return p.points }

// PointAt returns the position at fractional progress t along the path.
// t is clamped to [0, 1].
func (p *Path) PointAt(t float64) core.Position {
	seg, frac := p.locate(t)
	return lerp(p.points[seg], p.points[seg+1], frac)
}

// HeadingAt returns the travel bearing at fractional progress t, for the
// given direction of travel (+1 forward, -1 reverse).
func (p *Path) HeadingAt(t float64, direction int8) float64 {
	seg, _ := p.locate(t)
	a, b := p.points[seg], p.points[seg+1]
	if direction < 0 {
		a, b = b, a
	}
	return Bearing(a, b)
}

// Interpolate returns the position at from + (to-from)*frac along the
// path. Callers wanting smooth animation apply EaseOut to frac first.
func (p *Path) Interpolate(from, to, frac float64) core.Position {
	return p.PointAt(from + (to-from)*clamp01(frac))
}

// Project finds the nearest point on the path to q and the fractional
// progress of that point. Segment projection is done in the Web Mercator
// plane; distances are compared great-circle.
func (p *Path) Project(q core.Position) (core.Position, float64) {
	qx, qy := mercator(q)

	best := p.points[0]
	bestProgress := 0.0
	bestDist := Distance(q, best)

	for i := 0; i < len(p.points)-1; i++ {
		a, b := p.points[i], p.points[i+1]
		ax, ay := mercator(a)
		bx, by := mercator(b)

		dx, dy := bx-ax, by-ay
		segLenSq := dx*dx + dy*dy
		if segLenSq == 0 {
			continue
		}
		t := ((qx-ax)*dx + (qy-ay)*dy) / segLenSq
		t = clamp01(t)

		cand := lerp(a, b, t)
		d := Distance(q, cand)
		if d < bestDist {
			bestDist = d
			best = cand
			segStart := p.cum[i]
			segLen := p.cum[i+1] - p.cum[i]
			bestProgress = (segStart + segLen*t) / p.total
		}
	}
	return best, clamp01(bestProgress)
}

// locate maps fractional progress t to (segment index, fraction within
// segment).
func (p *Path) locate(t float64) (int, float64) {
	t = clamp01(t)
	target := t * p.total
	for i := 0; i < len(p.cum)-1; i++ {
		if target <= p.cum[i+1] {
			segLen := p.cum[i+1] - p.cum[i]
			return i, (target - p.cum[i]) / segLen
		}
	}
	return len(p.points) - 2, 1
}

func lerp(a, b core.Position, t float64) core.Position {
	return core.Position{
		Lat: a.Lat + (b.Lat-a.Lat)*t,
		Lng: a.Lng + (b.Lng-a.Lng)*t,
	}
}

func clamp01(t float64) float64 {
	if t < 0 {
		return 0
	}
	if t > 1 {
		return 1
	}
	return t
}
