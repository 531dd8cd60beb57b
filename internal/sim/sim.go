// Package sim advances every simulator-owned vehicle along its route
// polyline on a fixed tick and publishes one batched delta per tick.
package sim

import (
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/fleetline/engine/internal/store"
	"github.com/fleetline/engine/pkg/core"
)

// DeltaBroadcaster receives the batch of vehicles moved in one tick.
type DeltaBroadcaster interface {
	BroadcastDelta(vehicles []core.Vehicle)
}

// Config tunes the movement model.
type Config struct {
	TickInterval    time.Duration
	CruiseSpeedKmph float64
	// SpeedJitterKmph is the half-width of the uniform jitter applied
	// around cruise speed each tick.
	SpeedJitterKmph float64
	// OccupancyJitterChance is the per-vehicle probability each tick of
	// passengers boarding or alighting.
	OccupancyJitterChance float64
	// Confidence reported for simulated fixes. Simulated positions are
	// exact by construction, so this stays constant.
	Confidence float64
}

// DefaultConfig returns the movement parameters used in production.
func DefaultConfig() Config {
	return Config{
		TickInterval:          3 * time.Second,
		CruiseSpeedKmph:       32,
		SpeedJitterKmph:       6,
		OccupancyJitterChance: 0.1,
		Confidence:            0.9,
	}
}

// Scheduler drives the tick loop. Operator-controlled vehicles are
// skipped entirely, their state left untouched down to the timestamp.
type Scheduler struct {
	store     *store.Store
	broadcast DeltaBroadcaster
	cfg       Config
	logger    *slog.Logger
	rng       *rand.Rand

	mu        sync.Mutex
	isRunning bool
	stopChan  chan struct{}
	lastTick  time.Time
}

// NewScheduler creates a Scheduler; Start begins ticking.
func NewScheduler(st *store.Store, broadcast DeltaBroadcaster, cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:     st,
		broadcast: broadcast,
		cfg:       cfg,
		logger:    logger,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		stopChan:  make(chan struct{}),
	}
}

// Start launches the tick goroutine. Idempotent.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.lastTick = time.Now()
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()

		s.logger.Debug("starting simulation loop", "interval", s.cfg.TickInterval)
		ticker := time.NewTicker(s.cfg.TickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopChan:
				return
			case now := <-ticker.C:
				s.Tick(now)
			}
		}
	}()
}

// Stop halts the tick loop.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		close(s.stopChan)
	}
}

// IsRunning reports whether the tick goroutine is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// Tick advances every simulated vehicle by the wall time elapsed since
// the previous tick and broadcasts the moved set as one delta.
// Exported so tests can drive the clock by hand.
func (s *Scheduler) Tick(now time.Time) {
	s.mu.Lock()
	elapsed := now.Sub(s.lastTick)
	s.lastTick = now
	s.mu.Unlock()

	if elapsed <= 0 {
		return
	}
	// A long stall (debugger, suspend) must not slingshot vehicles.
	if elapsed > 5*s.cfg.TickInterval && s.cfg.TickInterval > 0 {
		elapsed = s.cfg.TickInterval
	}

	moved := s.Advance(elapsed, now)
	if len(moved) > 0 && s.broadcast != nil {
		s.broadcast.BroadcastDelta(moved)
	}
}

// Advance moves each simulated vehicle along its route by
// speed * elapsed and returns the vehicles that changed.
func (s *Scheduler) Advance(elapsed time.Duration, now time.Time) []core.Vehicle {
	var moved []core.Vehicle
	for _, id := range s.store.IDs() {
		err := s.store.Mutate(id, func(v *core.Vehicle, o *store.Ownership) error {
			if !v.IsSimulated {
				return store.ErrSkipCommit
			}
			path, ok := s.store.Path(v.RouteID)
			if !ok {
				return store.ErrSkipCommit
			}
			route, _ := s.store.Route(v.RouteID)

			speed := s.cfg.CruiseSpeedKmph
			if s.cfg.SpeedJitterKmph > 0 {
				speed += (s.rng.Float64()*2 - 1) * s.cfg.SpeedJitterKmph
			}
			meters := speed / 3.6 * elapsed.Seconds()
			if path.Length() <= 0 {
				return store.ErrSkipCommit
			}
			delta := meters / path.Length()

			progress := v.PathProgress + float64(v.PathDirection)*delta
			dir := v.PathDirection
			if route != nil && route.Traversal == core.TraversalPingPong {
				progress, dir = bounce(progress, dir)
			} else {
				progress = progress - math.Floor(progress)
			}

			v.PathProgress = progress
			v.PathDirection = dir
			v.Position = path.PointAt(progress)
			v.Heading = path.HeadingAt(progress, dir)
			v.SpeedKmph = speed
			if s.cfg.OccupancyJitterChance > 0 && s.rng.Float64() < s.cfg.OccupancyJitterChance {
				count := v.Occupancy.Count + s.rng.Intn(5) - 2
				if count > v.Occupancy.Capacity {
					count = v.Occupancy.Capacity
				}
				v.Occupancy = core.NewOccupancy(count, v.Occupancy.Capacity)
			}
			v.Confidence = s.cfg.Confidence
			v.LastUpdateAt = now
			moved = append(moved, *v)
			return nil
		})
		if err != nil && err != store.ErrSkipCommit {
			s.logger.Error("tick failed for vehicle", "vehicle", id, "error", err)
		}
	}
	return moved
}

// bounce reflects progress off the route endpoints and flips the
// travel direction on each reflection.
func bounce(progress float64, dir int8) (float64, int8) {
	for progress > 1 || progress < 0 {
		if progress > 1 {
			progress = 2 - progress
			dir = -dir
		}
		if progress < 0 {
			progress = -progress
			dir = -dir
		}
	}
	return progress, dir
}
