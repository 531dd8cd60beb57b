package geo

import (
	"errors"
	"math"

	"github.com/wroge/wgs84"

	"github.com/fleetline/engine/pkg/core"
)

// Earth radius used for great-circle math, in meters.
const earthRadiusM = 6371000.0

// ErrInvalidCoordinates is returned when coordinates are outside WGS84 bounds.
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// InBounds reports whether p is a representable WGS84 coordinate.
func InBounds(p core.Position) bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Distance returns the great-circle (haversine) distance between two
// positions, in meters.
func Distance(a, b core.Position) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusM * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Bearing returns the initial great-circle bearing from a to b in
// degrees, normalized to [0, 360).
func Bearing(a, b core.Position) float64 {
	lat1 := toRad(a.Lat)
	lat2 := toRad(b.Lat)
	dLng := toRad(b.Lng - a.Lng)
	y := math.Sin(dLng) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLng)
	deg := toDeg(math.Atan2(y, x))
	return math.Mod(deg+360, 360)
}

// EaseOut applies cubic ease-out to a normalized fraction. Consumed by
// presentation layers for smooth marker animation; the server only
// exposes it.
func EaseOut(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	inv := 1 - t
	return 1 - inv*inv*inv
}

// mercator projects a WGS84 position into Web Mercator (EPSG:3857) for
// planar segment math.
func mercator(p core.Position) (x, y float64) {
	f := wgs84.EPSG().Transform(4326, 3857)
	x, y, _ = f(p.Lng, p.Lat, 0)
	return x, y
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
func toDeg(rad float64) float64 { return rad * 180 / math.Pi }
