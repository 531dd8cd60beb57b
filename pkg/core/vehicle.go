// pkg/core/vehicle.go
package core

import (
	"math"
	"time"
)

// Vehicle is the canonical mutable record for one bus in the fleet.
// IsSimulated and ControllingOperatorID move together: a vehicle is
// either simulator-driven or owned by exactly one live operator.
type Vehicle struct {
	ID                    string    `json:"id"`
	RouteID               string    `json:"routeId,omitempty"`
	Position              Position  `json:"position"`
	Heading               float64   `json:"heading"` // degrees, 0..360
	SpeedKmph             float64   `json:"speed"`
	Occupancy             Occupancy `json:"occupancy"`
	IsSimulated           bool      `json:"isSimulated"`
	ControllingOperatorID string    `json:"controllingOperatorId,omitempty"`
	PathProgress          float64   `json:"pathProgress"` // simulator cursor, 0..1 along the route
	PathDirection         int8      `json:"-"`            // +1 forward, -1 reverse (ping-pong routes)
	LastUpdateAt          time.Time `json:"lastUpdateAt"`
	Confidence            float64   `json:"confidence"` // 0..1 freshness/quality score
}

// TelemetrySample is one position report from a live operator.
type TelemetrySample struct {
	Position       Position  `json:"position"`
	Heading        float64   `json:"heading"`
	SpeedKmph      float64   `json:"speed"`
	AccuracyM      float64   `json:"accuracy"`
	PassengerCount *int      `json:"passengerCount,omitempty"`
	RecordedAt     time.Time `json:"recordedAt"`
}

// DecayedConfidence returns the vehicle's confidence reduced by staleness.
// A vehicle that has not been updated for window or longer reports zero.
func DecayedConfidence(v Vehicle, now time.Time, window time.Duration) float64 {
	if window <= 0 || v.LastUpdateAt.IsZero() {
		return v.Confidence
	}
	age := now.Sub(v.LastUpdateAt)
	if age <= 0 {
		return v.Confidence
	}
	factor := 1 - float64(age)/float64(window)
	if factor < 0 {
		factor = 0
	}
	return math.Min(v.Confidence, 1) * factor
}
