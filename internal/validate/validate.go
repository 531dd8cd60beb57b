// Package validate gates every operator-originated telemetry sample
// before it reaches the vehicle state store. Checks run in a fixed
// order; the first failure wins.
package validate

import (
	"time"

	"github.com/fleetline/engine/internal/geo"
	"github.com/fleetline/engine/pkg/core"
)

// Reason identifies why a sample was rejected.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonOutOfBounds     Reason = "OUT_OF_BOUNDS"
	ReasonPoorAccuracy    Reason = "POOR_ACCURACY"
	ReasonTooFast         Reason = "TOO_FAST"
	ReasonThrottled       Reason = "THROTTLED"
	ReasonImplausibleJump Reason = "IMPLAUSIBLE_JUMP"
)

// Config holds the safety thresholds. Tuned empirically; injectable so
// deployments can match observed acceptance behavior.
type Config struct {
	MaxAccuracyM  float64
	MaxSpeedKmph  float64
	MaxJumpMeters float64
	MinSampleGap  time.Duration
}

// DefaultConfig returns the reference thresholds.
func DefaultConfig() Config {
	return Config{
		MaxAccuracyM:  100,
		MaxSpeedKmph:  120,
		MaxJumpMeters: 500,
		MinSampleGap:  2 * time.Second,
	}
}

// Verdict is the outcome of validating one sample. Throttled samples are
// dropped silently rather than errored, so chatty clients are tolerated.
type Verdict struct {
	Accepted  bool
	Throttled bool
	Reason    Reason
	Occupancy core.Occupancy // recomputed (and possibly clamped) on accept
}

// Check validates sample against the vehicle's last accepted state.
// lastSampleAt is the time of the current owner's last accepted sample
// for this vehicle; zero means this is the first sample since claim.
func Check(v core.Vehicle, lastSampleAt time.Time, sample core.TelemetrySample, cfg Config) Verdict {
	if !geo.InBounds(sample.Position) {
		return Verdict{Reason: ReasonOutOfBounds}
	}
	if sample.AccuracyM > cfg.MaxAccuracyM {
		return Verdict{Reason: ReasonPoorAccuracy}
	}

	speed := sample.SpeedKmph
	elapsed := sample.RecordedAt.Sub(lastSampleAt)
	if !lastSampleAt.IsZero() && elapsed > 0 {
		derived := geo.Distance(v.Position, sample.Position) / elapsed.Seconds() * 3.6
		if derived > speed {
			speed = derived
		}
	}
	if speed > cfg.MaxSpeedKmph {
		return Verdict{Reason: ReasonTooFast}
	}

	if !lastSampleAt.IsZero() {
		if elapsed < cfg.MinSampleGap {
			return Verdict{Throttled: true, Reason: ReasonThrottled}
		}
		if geo.Distance(v.Position, sample.Position) > cfg.MaxJumpMeters {
			return Verdict{Reason: ReasonImplausibleJump}
		}
	}

	occ := v.Occupancy
	if sample.PassengerCount != nil {
		count := *sample.PassengerCount
		if count < 0 {
			count = 0
		}
		// Capacity overruns happen during boarding spikes; clamp
		// instead of rejecting.
		if count > occ.Capacity {
			count = occ.Capacity
		}
		occ = core.NewOccupancy(count, occ.Capacity)
	}

	return Verdict{Accepted: true, Occupancy: occ}
}

// Confidence derives the freshness/quality score for an accepted sample
// from its reported accuracy: a perfect fix scores 1, a fix at the
// accuracy limit scores 0.5.
func Confidence(accuracyM, maxAccuracyM float64) float64 {
	if maxAccuracyM <= 0 {
		return 1
	}
	if accuracyM < 0 {
		accuracyM = 0
	}
	if accuracyM > maxAccuracyM {
		accuracyM = maxAccuracyM
	}
	return 1 - accuracyM/maxAccuracyM/2
}
