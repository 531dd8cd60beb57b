// Package streaming defines the wire schema shared by the engine and its
// WebSocket subscribers. Every message is a tagged Envelope so encoding
// and validation stay exhaustive per event kind.
package streaming

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fleetline/engine/pkg/core"
)

// Message type constants.
const (
	TypeAuth           = "auth"
	TypeSnapshot       = "snapshot"
	TypeDelta          = "delta"
	TypeOperatorUpdate = "operator_update"
	TypeOffline        = "offline"
	TypeTelemetry      = "telemetry"
	TypeTelemetryAck   = "telemetry_ack"
	TypeClaimAck       = "claim_ack"
	TypeNearbyRequest  = "nearby_request"
	TypeNearbyResponse = "nearby_response"
	TypeStatsRequest   = "stats_request"
	TypeStats          = "stats"
	TypeError          = "error"
)

// Claim status codes reported to operator connections.
const (
	ClaimStatusOK                = "OK"
	ClaimStatusAlreadyControlled = "BUS_ALREADY_CONTROLLED"
	ClaimStatusNotAssigned       = "BUS_NOT_ASSIGNED"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload and wraps it in an Envelope of the given type.
func NewEnvelope(msgType string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: msgType}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	return Envelope{Type: msgType, Payload: raw}, nil
}

// AuthPayload carries the already-issued credential presented on connect.
// Credential issuance itself is an external collaborator's concern.
type AuthPayload struct {
	Token string `json:"token"`
}

// SnapshotPayload is the full current state of all vehicles, sent once
// per new subscription.
type SnapshotPayload struct {
	Vehicles []core.Vehicle `json:"vehicles"`
}

// DeltaPayload is the batched set of vehicles changed by one simulation tick.
type DeltaPayload struct {
	Vehicles []core.Vehicle `json:"vehicles"`
}

// OperatorUpdatePayload is a single operator-originated vehicle change.
type OperatorUpdatePayload struct {
	Vehicle core.Vehicle `json:"vehicle"`
}

// OfflinePayload marks a vehicle reverting from operator control to
// simulation after its grace period expired. Emitted exactly once per
// transition so presentation can show "went dark" distinctly.
type OfflinePayload struct {
	VehicleID  string    `json:"vehicleId"`
	OperatorID string    `json:"operatorId,omitempty"`
	At         time.Time `json:"at"`
}

// TelemetryPayload is one GPS sample reported by an operator device.
type TelemetryPayload = core.TelemetrySample

// TelemetryAckPayload is the synchronous accept/reject answer to one
// telemetry sample, including the recomputed occupancy on accept.
type TelemetryAckPayload struct {
	Accepted  bool           `json:"accepted"`
	Throttled bool           `json:"throttled,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Occupancy core.Occupancy `json:"occupancy"`
}

// ClaimAckPayload answers an operator's implicit claim on connect.
type ClaimAckPayload struct {
	Status  string        `json:"status"`
	Vehicle *core.Vehicle `json:"vehicle,omitempty"`
}

// NearbyRequestPayload is a passenger location ping.
type NearbyRequestPayload struct {
	Position core.Position `json:"position"`
	RadiusM  float64       `json:"radiusM,omitempty"`
}

// NearbyVehicle pairs a vehicle with its distance from the requester.
type NearbyVehicle struct {
	Vehicle   core.Vehicle `json:"vehicle"`
	DistanceM float64      `json:"distanceM"`
}

// NearbyResponsePayload lists vehicles within the requested radius,
// nearest first.
type NearbyResponsePayload struct {
	Vehicles []NearbyVehicle `json:"vehicles"`
}

// StatsRequestPayload asks for fleet aggregates; Detail additionally
// returns the full per-vehicle list including ownership state.
type StatsRequestPayload struct {
	Detail bool `json:"detail,omitempty"`
}

// StatsPayload is the admin aggregate response.
type StatsPayload struct {
	Aggregate core.AggregateStats `json:"aggregate"`
	Vehicles  []core.Vehicle      `json:"vehicles,omitempty"`
}

// ErrorPayload reports a caller-visible rejection.
type ErrorPayload struct {
	Message string `json:"message"`
}
