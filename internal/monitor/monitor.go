// Package monitor computes fleet health aggregates and exports them to
// InfluxDB on a fixed interval.
package monitor

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/fleetline/engine/internal/fanout"
	"github.com/fleetline/engine/internal/influx"
	"github.com/fleetline/engine/internal/store"
	"github.com/fleetline/engine/pkg/core"
)

// RosterSource reports how many operators are rostered in total.
type RosterSource interface {
	Len() int
}

// Dependencies holds all dependencies for the monitor service.
type Dependencies struct {
	Store    *store.Store
	Hub      *fanout.Hub
	Roster   RosterSource
	Influx   *influx.Manager
	Logger   *slog.Logger
	Interval time.Duration
}

// Service periodically snapshots fleet aggregates.
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
}

// NewService creates a new monitor service.
func NewService(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Interval <= 0 {
		deps.Interval = 10 * time.Second
	}
	return &Service{
		deps:     deps,
		stopChan: make(chan struct{}),
	}
}

// IsRunning returns whether the monitor is running.
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Aggregate computes the current fleet health summary.
func (s *Service) Aggregate(now time.Time) core.AggregateStats {
	stats := core.AggregateStats{Time: now}

	perRoute := map[string]*core.RouteStats{}
	gracing := 0
	for _, id := range s.deps.Store.IDs() {
		v, ok := s.deps.Store.Get(id)
		if !ok {
			continue
		}
		stats.TotalVehicles++
		rs, ok := perRoute[v.RouteID]
		if !ok {
			rs = &core.RouteStats{RouteID: v.RouteID}
			perRoute[v.RouteID] = rs
		}
		rs.Vehicles++
		if v.IsSimulated {
			stats.SimulatedCount++
			rs.Simulated++
		} else {
			stats.OperatorControlledCount++
			rs.OperatorControlled++
		}
		if owner, ok := s.deps.Store.Owner(id); ok && owner.State == store.OwnerGrace {
			gracing++
		}
	}

	routeIDs := make([]string, 0, len(perRoute))
	for id := range perRoute {
		routeIDs = append(routeIDs, id)
	}
	sort.Strings(routeIDs)
	for _, id := range routeIDs {
		stats.PerRoute = append(stats.PerRoute, *perRoute[id])
	}

	if s.deps.Hub != nil {
		stats.OperatorsOnline = s.deps.Hub.Counts()[fanout.ClassOperator]
	}
	if s.deps.Roster != nil {
		idle := s.deps.Roster.Len() - stats.OperatorsOnline
		if idle < 0 {
			idle = 0
		}
		stats.OperatorsIdle = idle
	}
	// Operators whose vehicle is coasting through a grace window.
	stats.OperatorsOffline = gracing

	return stats
}

// Start starts the aggregate export goroutine.
func (s *Service) Start() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()

		s.deps.Logger.Debug("starting fleet monitor", "interval", s.deps.Interval)
		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopChan:
				return
			case now := <-ticker.C:
				s.export(now)
			}
		}
	}()
}

// Stop stops the monitor.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		close(s.stopChan)
	}
}

func (s *Service) export(now time.Time) {
	stats := s.Aggregate(now)

	if s.deps.Influx == nil {
		return
	}
	ctx := context.Background()
	if err := s.deps.Influx.WritePoint(ctx, influx.BucketStats, influx.StatsPoint(stats, now)); err != nil {
		s.deps.Logger.Error("exporting fleet stats", "error", err)
	}
	for _, v := range s.deps.Store.Snapshot() {
		if err := s.deps.Influx.WritePoint(ctx, influx.BucketPositions, influx.VehiclePoint(v)); err != nil {
			s.deps.Logger.Error("exporting vehicle point", "vehicle", v.ID, "error", err)
			return
		}
	}
}
