package server

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fleetline/engine/internal/dispatcher"
	"github.com/fleetline/engine/internal/validate"
	"github.com/fleetline/engine/pkg/core"
	"github.com/fleetline/engine/pkg/streaming"
)

// handleTelemetry validates and applies one operator GPS sample, then
// acks synchronously so the device can tell dropped from applied.
func (s *Server) handleTelemetry(e dispatcher.Event) (any, error) {
	c, ok := s.connBySource(e.Source)
	if !ok {
		return nil, fmt.Errorf("no connection for source %s", e.Source)
	}

	var sample core.TelemetrySample
	if err := json.Unmarshal(e.Payload, &sample); err != nil {
		return nil, fmt.Errorf("malformed telemetry payload: %w", err)
	}
	if sample.RecordedAt.IsZero() {
		sample.RecordedAt = e.Timestamp
	}

	vehicleID, ok := s.roster.VehicleFor(c.subject)
	if !ok {
		return nil, fmt.Errorf("operator %s has no rostered vehicle", c.subject)
	}

	verdict, updated, err := s.owners.ApplyTelemetry(vehicleID, c.subject, sample, s.cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("telemetry not applied: vehicle is not under your control")
	}

	s.ack(c, streaming.TypeTelemetryAck, streaming.TelemetryAckPayload{
		Accepted:  verdict.Accepted,
		Throttled: verdict.Throttled,
		Reason:    string(verdict.Reason),
		Occupancy: verdict.Occupancy,
	})

	if verdict.Accepted {
		s.hub.BroadcastOperatorUpdate(updated)
		if s.history != nil {
			s.history.RecordVehicles([]core.Vehicle{updated})
		}
	} else if !verdict.Throttled && verdict.Reason != validate.ReasonNone {
		s.logger.Info("telemetry rejected",
			"operator", c.subject, "vehicle", vehicleID, "reason", verdict.Reason)
	}

	return verdict, nil
}

// handleNearby answers a passenger location ping, rate limited per
// connection.
func (s *Server) handleNearby(e dispatcher.Event) (any, error) {
	c, ok := s.connBySource(e.Source)
	if !ok {
		return nil, fmt.Errorf("no connection for source %s", e.Source)
	}
	if !c.allowNearby(e.Timestamp, s.cfg.NearbyMinInterval) {
		return nil, fmt.Errorf("nearby requests limited to one per %s", s.cfg.NearbyMinInterval)
	}

	var req streaming.NearbyRequestPayload
	if err := json.Unmarshal(e.Payload, &req); err != nil {
		return nil, fmt.Errorf("malformed nearby payload: %w", err)
	}

	vehicles := s.nearbyVehicles(req.Position, req.RadiusM)
	s.ack(c, streaming.TypeNearbyResponse, streaming.NearbyResponsePayload{Vehicles: vehicles})
	return len(vehicles), nil
}

// handleStats serves the admin fleet health summary.
func (s *Server) handleStats(e dispatcher.Event) (any, error) {
	c, ok := s.connBySource(e.Source)
	if !ok {
		return nil, fmt.Errorf("no connection for source %s", e.Source)
	}

	var req streaming.StatsRequestPayload
	if len(e.Payload) > 0 {
		if err := json.Unmarshal(e.Payload, &req); err != nil {
			return nil, fmt.Errorf("malformed stats payload: %w", err)
		}
	}

	now := time.Now()
	payload := streaming.StatsPayload{Aggregate: s.stats.Aggregate(now)}
	if req.Detail {
		payload.Vehicles = s.store.Snapshot()
	}
	s.ack(c, streaming.TypeStats, payload)
	return payload.Aggregate, nil
}
