// Package ownership arbitrates exclusive control of vehicles between
// the simulator and live operators.
//
// Per-vehicle state machine: FREE -> CLAIMED -> GRACE -> FREE, or
// GRACE -> CLAIMED when the same operator reconnects before the grace
// countdown expires. Transient disconnects are invisible to
// subscribers: the offline event is deferred to grace expiry, never
// emitted on disconnect itself.
package ownership

import (
	"errors"
	"log/slog"
	"time"

	"github.com/fleetline/engine/internal/store"
	"github.com/fleetline/engine/internal/validate"
	"github.com/fleetline/engine/pkg/core"
)

// ClaimResult is the synchronous outcome of a claim attempt.
type ClaimResult uint8

const (
	ClaimOK ClaimResult = iota
	ClaimAlreadyControlled
	ClaimNotAssigned
)

func (r ClaimResult) String() string {
	switch r {
	case ClaimOK:
		return "OK"
	case ClaimAlreadyControlled:
		return "BUS_ALREADY_CONTROLLED"
	case ClaimNotAssigned:
		return "BUS_NOT_ASSIGNED"
	default:
		return "UNKNOWN"
	}
}

// OfflineEmitter receives the exactly-once offline event fired when a
// grace period expires and a vehicle reverts to simulation. operatorID
// is the operator whose control just lapsed.
type OfflineEmitter interface {
	EmitOffline(v core.Vehicle, operatorID string)
}

var (
	errAlreadyControlled = errors.New("vehicle already controlled")
	errNotOwner          = errors.New("caller does not own vehicle")
	errStaleTimer        = errors.New("stale grace timer")
	errRejected          = errors.New("telemetry rejected")
)

// Manager owns all ownership transitions. All check-then-set sequences
// run inside store.Mutate, so two concurrent claims on one vehicle can
// never both succeed.
type Manager struct {
	store   *store.Store
	emitter OfflineEmitter
	grace   time.Duration
	logger  *slog.Logger
}

// New creates a Manager with the given grace duration.
func New(st *store.Store, grace time.Duration, emitter OfflineEmitter, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: st, emitter: emitter, grace: grace, logger: logger}
}

// Claim attempts to give operatorID exclusive control of vehicleID.
// A failed claim mutates nothing. Reclaim by the current owner during
// CLAIMED or GRACE succeeds and cancels any pending grace timer; any
// other operator is rejected while the record is held.
func (m *Manager) Claim(vehicleID, operatorID string) (core.Vehicle, ClaimResult) {
	var claimed core.Vehicle
	err := m.store.Mutate(vehicleID, func(v *core.Vehicle, o *store.Ownership) error {
		switch o.State {
		case store.OwnerFree:
			// First claim: simulator hands over authority.
		case store.OwnerClaimed, store.OwnerGrace:
			if o.OperatorID != operatorID {
				return errAlreadyControlled
			}
			if o.GraceTimer != nil {
				o.GraceTimer.Stop()
				o.GraceTimer = nil
			}
		}
		o.State = store.OwnerClaimed
		o.OperatorID = operatorID
		o.Epoch++
		v.IsSimulated = false
		v.ControllingOperatorID = operatorID
		claimed = *v
		return nil
	})

	switch {
	case err == nil:
		m.logger.Info("vehicle claimed", "vehicle", vehicleID, "operator", operatorID)
		return claimed, ClaimOK
	case errors.Is(err, errAlreadyControlled):
		m.logger.Info("claim rejected, vehicle already controlled",
			"vehicle", vehicleID, "operator", operatorID)
		return core.Vehicle{}, ClaimAlreadyControlled
	case errors.Is(err, store.ErrUnknownVehicle):
		return core.Vehicle{}, ClaimNotAssigned
	default:
		m.logger.Error("claim failed", "vehicle", vehicleID, "operator", operatorID, "error", err)
		return core.Vehicle{}, ClaimNotAssigned
	}
}

// Release starts the grace countdown for vehicleID. Only the current
// owner may release; anything else is a no-op. The vehicle stays
// operator-controlled (frozen at its last known position) until the
// countdown expires, so transient network blips never signal offline.
func (m *Manager) Release(vehicleID, operatorID string) {
	err := m.store.Mutate(vehicleID, func(v *core.Vehicle, o *store.Ownership) error {
		if o.State != store.OwnerClaimed || o.OperatorID != operatorID {
			return errNotOwner
		}
		o.State = store.OwnerGrace
		o.Epoch++
		epoch := o.Epoch
		o.GraceTimer = time.AfterFunc(m.grace, func() {
			m.expire(vehicleID, epoch)
		})
		return nil
	})
	if err != nil && !errors.Is(err, errNotOwner) {
		m.logger.Error("release failed", "vehicle", vehicleID, "operator", operatorID, "error", err)
	}
	if err == nil {
		m.logger.Info("vehicle released, grace countdown started",
			"vehicle", vehicleID, "operator", operatorID, "grace", m.grace)
	}
}

// expire is the grace timer callback. It re-validates the ownership
// record under the vehicle lock before acting, so a cancelled timer
// that still fires is a no-op.
func (m *Manager) expire(vehicleID string, epoch uint64) {
	var offline core.Vehicle
	var departed string
	err := m.store.Mutate(vehicleID, func(v *core.Vehicle, o *store.Ownership) error {
		if o.State != store.OwnerGrace || o.Epoch != epoch {
			return errStaleTimer
		}
		departed = o.OperatorID
		o.State = store.OwnerFree
		o.OperatorID = ""
		o.GraceTimer = nil
		o.Epoch++
		o.LastSampleAt = time.Time{}

		v.ControllingOperatorID = ""
		v.IsSimulated = true
		// Bounded-distance resume: snap the simulator cursor to the
		// nearest point on the route so passengers never see a teleport.
		if path, ok := m.store.Path(v.RouteID); ok {
			snapped, progress := path.Project(v.Position)
			v.PathProgress = progress
			v.Position = snapped
			v.Heading = path.HeadingAt(progress, v.PathDirection)
		}
		v.LastUpdateAt = time.Now()
		offline = *v
		return nil
	})

	if errors.Is(err, errStaleTimer) {
		return
	}
	if err != nil {
		m.logger.Error("grace expiry failed", "vehicle", vehicleID, "error", err)
		return
	}

	m.logger.Info("grace expired, vehicle resumed simulation", "vehicle", vehicleID, "operator", departed)
	if m.emitter != nil {
		m.emitter.EmitOffline(offline, departed)
	}
}

// ApplyTelemetry validates one operator sample and, if it passes,
// applies it to the vehicle record. The check and the write happen
// under the same vehicle lock, so the throttle and jump checks always
// see the previous accepted sample. Samples from anyone but the
// current owner are dropped.
func (m *Manager) ApplyTelemetry(vehicleID, operatorID string, sample core.TelemetrySample, cfg validate.Config) (validate.Verdict, core.Vehicle, error) {
	var (
		verdict validate.Verdict
		updated core.Vehicle
	)
	err := m.store.Mutate(vehicleID, func(v *core.Vehicle, o *store.Ownership) error {
		if o.State != store.OwnerClaimed || o.OperatorID != operatorID {
			return errNotOwner
		}
		verdict = validate.Check(*v, o.LastSampleAt, sample, cfg)
		if !verdict.Accepted {
			return errRejected
		}
		v.Position = sample.Position
		v.Heading = sample.Heading
		v.SpeedKmph = sample.SpeedKmph
		v.Occupancy = verdict.Occupancy
		v.Confidence = validate.Confidence(sample.AccuracyM, cfg.MaxAccuracyM)
		v.LastUpdateAt = sample.RecordedAt
		o.LastSampleAt = sample.RecordedAt
		updated = *v
		return nil
	})

	switch {
	case err == nil:
		return verdict, updated, nil
	case errors.Is(err, errRejected):
		// Rejection is not an error for the caller; the verdict says why.
		return verdict, core.Vehicle{}, nil
	default:
		return validate.Verdict{}, core.Vehicle{}, err
	}
}
