// pkg/core/types.go
package core

// Position represents a WGS84 coordinate.
type Position struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Polyline is an ordered sequence of route waypoints.
// Immutable once loaded; safe to share without locking.
type Polyline []Position

// OccupancyLevel is the coarse passenger-load bucket shown to riders.
type OccupancyLevel string

const (
	OccupancyLow    OccupancyLevel = "LOW"
	OccupancyMedium OccupancyLevel = "MEDIUM"
	OccupancyHigh   OccupancyLevel = "HIGH"
	OccupancyFull   OccupancyLevel = "FULL"
)

// Occupancy holds the passenger count, vehicle capacity and derived level.
type Occupancy struct {
	Count    int            `json:"count"`
	Capacity int            `json:"capacity"`
	Level    OccupancyLevel `json:"level"`
}

// LevelFor derives the occupancy level from count/capacity.
// Band lower bounds are inclusive: <40% LOW, 40-75% MEDIUM, 75-95% HIGH, >=95% FULL.
func LevelFor(count, capacity int) OccupancyLevel {
	if capacity <= 0 {
		return OccupancyLow
	}
	ratio := float64(count) / float64(capacity)
	switch {
	case ratio >= 0.95:
		return OccupancyFull
	case ratio >= 0.75:
		return OccupancyHigh
	case ratio >= 0.40:
		return OccupancyMedium
	default:
		return OccupancyLow
	}
}

// NewOccupancy builds an Occupancy with the level derived from count/capacity.
func NewOccupancy(count, capacity int) Occupancy {
	if count < 0 {
		count = 0
	}
	return Occupancy{Count: count, Capacity: capacity, Level: LevelFor(count, capacity)}
}
