// Package store owns the authoritative mutable state of every vehicle.
// Each vehicle record carries its own mutex guarding the vehicle state
// and its ownership record together, so claim, release, grace expiry and
// the simulator's skip check for one vehicle can never interleave while
// different vehicles stay fully independent.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/fleetline/engine/internal/geo"
	"github.com/fleetline/engine/pkg/core"
)

// OwnerState is the per-vehicle control arbitration state.
type OwnerState uint8

const (
	// OwnerFree means the simulator controls the vehicle.
	OwnerFree OwnerState = iota
	// OwnerClaimed means one live operator controls the vehicle.
	OwnerClaimed
	// OwnerGrace means the operator disconnected and a reversion
	// countdown is running.
	OwnerGrace
)

func (s OwnerState) String() string {
	switch s {
	case OwnerFree:
		return "FREE"
	case OwnerClaimed:
		return "CLAIMED"
	case OwnerGrace:
		return "GRACE"
	default:
		return fmt.Sprintf("OwnerState(%d)", uint8(s))
	}
}

// Ownership is the ephemeral control record kept per vehicle. The Epoch
// counter invalidates in-flight grace timer callbacks: a callback only
// acts if the epoch it captured is still current.
type Ownership struct {
	State        OwnerState
	OperatorID   string
	Epoch        uint64
	GraceTimer   *time.Timer
	LastSampleAt time.Time // last accepted telemetry for the current owner
}

var (
	// ErrUnknownVehicle is returned for mutations on vehicles that were
	// never loaded from fleet configuration.
	ErrUnknownVehicle = errors.New("unknown vehicle")
	// ErrDuplicateVehicle is returned when fleet config repeats an ID.
	ErrDuplicateVehicle = errors.New("duplicate vehicle id")
	// ErrInvariantViolation marks a mutation that would desynchronize
	// IsSimulated from ControllingOperatorID. The mutation is discarded.
	ErrInvariantViolation = errors.New("ownership invariant violation")
	// ErrSkipCommit lets a Mutate callback abandon its changes without
	// reporting a failure to the caller.
	ErrSkipCommit = errors.New("skip commit")
)

type record struct {
	mu      sync.Mutex
	vehicle core.Vehicle
	owner   Ownership
}

// Store holds all vehicle records plus the immutable route registry.
type Store struct {
	mu      sync.RWMutex // guards the maps; records lock themselves
	records map[string]*record
	routes  map[string]*core.Route
	paths   map[string]*geo.Path
	logger  *slog.Logger
}

// New creates an empty Store.
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		records: make(map[string]*record),
		routes:  make(map[string]*core.Route),
		paths:   make(map[string]*geo.Path),
		logger:  logger,
	}
}

// AddRoute registers a route and precomputes its path geometry.
// Routes are immutable after registration.
func (s *Store) AddRoute(r *core.Route) error {
	path, err := geo.NewPath(r.Polyline)
	if err != nil {
		return fmt.Errorf("route %s: %w", r.ID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[r.ID] = r
	s.paths[r.ID] = path
	return nil
}

// Route returns the registered route by ID.
func (s *Store) Route(id string) (*core.Route, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.routes[id]
	return r, ok
}

// Path returns the precomputed geometry for a route.
func (s *Store) Path(routeID string) (*geo.Path, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.paths[routeID]
	return p, ok
}

// AddVehicle registers a vehicle under simulator control. Vehicles are
// long-lived configuration: they are created at load time and never
// destroyed during the engine's runtime.
func (s *Store) AddVehicle(v core.Vehicle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[v.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateVehicle, v.ID)
	}
	v.IsSimulated = true
	v.ControllingOperatorID = ""
	if v.PathDirection == 0 {
		v.PathDirection = 1
	}
	s.records[v.ID] = &record{vehicle: v, owner: Ownership{State: OwnerFree}}
	return nil
}

// Mutate runs fn with exclusive access to one vehicle's state and
// ownership record. The mutation is committed only when fn returns nil
// and the ownership invariant still holds; otherwise state is untouched.
func (s *Store) Mutate(id string, fn func(*core.Vehicle, *Ownership) error) error {
	s.mu.RLock()
	rec, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownVehicle, id)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	vehicle := rec.vehicle
	owner := rec.owner
	if err := fn(&vehicle, &owner); err != nil {
		return err
	}

	if vehicle.IsSimulated != (vehicle.ControllingOperatorID == "") {
		s.logger.Error("rejecting mutation that breaks ownership invariant",
			"vehicle", id,
			"isSimulated", vehicle.IsSimulated,
			"controllingOperatorId", vehicle.ControllingOperatorID)
		return ErrInvariantViolation
	}

	rec.vehicle = vehicle
	rec.owner = owner
	return nil
}

// Get returns a copy of one vehicle's current state.
func (s *Store) Get(id string) (core.Vehicle, bool) {
	s.mu.RLock()
	rec, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return core.Vehicle{}, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.vehicle, true
}

// Owner returns a copy of one vehicle's ownership record.
func (s *Store) Owner(id string) (Ownership, bool) {
	s.mu.RLock()
	rec, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return Ownership{}, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.owner, true
}

// IDs returns all vehicle IDs in stable order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot returns a copy of every vehicle's current state in stable
// ID order.
func (s *Store) Snapshot() []core.Vehicle {
	ids := s.IDs()
	out := make([]core.Vehicle, 0, len(ids))
	for _, id := range ids {
		if v, ok := s.Get(id); ok {
			out = append(out, v)
		}
	}
	return out
}

// Len returns the number of registered vehicles.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
