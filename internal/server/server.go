// Package server exposes the engine over WebSocket. Three endpoint
// classes share one wire schema: passengers watch, operators drive
// their rostered vehicle, admins pull fleet health.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/fleetline/engine/internal/assign"
	"github.com/fleetline/engine/internal/dispatcher"
	"github.com/fleetline/engine/internal/fanout"
	"github.com/fleetline/engine/internal/geo"
	"github.com/fleetline/engine/internal/logging"
	"github.com/fleetline/engine/internal/monitor"
	"github.com/fleetline/engine/internal/ownership"
	"github.com/fleetline/engine/internal/persist"
	"github.com/fleetline/engine/internal/store"
	"github.com/fleetline/engine/internal/validate"
	"github.com/fleetline/engine/pkg/core"
	"github.com/fleetline/engine/pkg/streaming"
)

// Authenticator verifies the credential presented in the auth message
// and returns the subject it was issued to. Credential issuance lives
// with an external identity collaborator.
type Authenticator interface {
	Authenticate(token string) (subject string, err error)
}

// StaticAuthenticator is a fixed token->subject table. Used in tests
// and single-tenant deployments.
type StaticAuthenticator map[string]string

// Authenticate looks the token up in the table.
func (a StaticAuthenticator) Authenticate(token string) (string, error) {
	subject, ok := a[token]
	if !ok {
		return "", errors.New("unknown token")
	}
	return subject, nil
}

// Config tunes connection handling.
type Config struct {
	Addr         string
	PingInterval time.Duration
	PongWait     time.Duration
	WriteTimeout time.Duration
	AuthTimeout  time.Duration

	NearbyDefaultRadiusM float64
	NearbyMinInterval    time.Duration

	Telemetry validate.Config
}

// DefaultConfig returns production connection settings.
func DefaultConfig() Config {
	return Config{
		Addr:                 ":8080",
		PingInterval:         20 * time.Second,
		PongWait:             45 * time.Second,
		WriteTimeout:         10 * time.Second,
		AuthTimeout:          5 * time.Second,
		NearbyDefaultRadiusM: 1500,
		NearbyMinInterval:    time.Second,
		Telemetry:            validate.DefaultConfig(),
	}
}

// Server owns the HTTP listener and all live connections.
type Server struct {
	cfg      Config
	hub      *fanout.Hub
	store    *store.Store
	owners   *ownership.Manager
	roster   assign.Resolver
	stats    *monitor.Service
	history  *persist.Writer
	auth     Authenticator
	logger   *slog.Logger
	dispatch *dispatcher.Dispatcher

	srv *http.Server

	mu    sync.RWMutex
	conns map[string]*clientConn // keyed by subscription ID
}

// Dependencies holds everything a Server needs.
type Dependencies struct {
	Hub     *fanout.Hub
	Store   *store.Store
	Owners  *ownership.Manager
	Roster  assign.Resolver
	Stats   *monitor.Service
	History *persist.Writer
	Auth    Authenticator
	Logger  *slog.Logger
}

// New creates a Server and registers its command handlers.
func New(cfg Config, deps Dependencies) (*Server, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	d, err := dispatcher.New(logging.NewDispatcherLogger(deps.Logger))
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		hub:      deps.Hub,
		store:    deps.Store,
		owners:   deps.Owners,
		roster:   deps.Roster,
		stats:    deps.Stats,
		history:  deps.History,
		auth:     deps.Auth,
		logger:   deps.Logger,
		dispatch: d,
		conns:    make(map[string]*clientConn),
	}

	d.Register(streaming.TypeTelemetry, s.handleTelemetry, dispatcher.Logged())
	d.Register(streaming.TypeNearbyRequest, s.handleNearby)
	d.Register(streaming.TypeStatsRequest, s.handleStats, dispatcher.Logged())

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/passengers/{passenger_id}", s.connectPassenger)
	mux.HandleFunc("/ws/operators/{operator_id}", s.connectOperator)
	mux.HandleFunc("/ws/admin/{admin_id}", s.connectAdmin)
	s.srv = &http.Server{Addr: cfg.Addr, Handler: mux}

	return s, nil
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// ListenAndServe blocks serving WebSocket connections.
func (s *Server) ListenAndServe() error {
	s.logger.Info("websocket server listening", "addr", s.cfg.Addr)
	return s.srv.ListenAndServe()
}

// Shutdown closes the listener and drops all connections.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) trackConn(c *clientConn) {
	s.mu.Lock()
	s.conns[c.sub.ID] = c
	s.mu.Unlock()
}

func (s *Server) dropConn(c *clientConn) {
	s.mu.Lock()
	delete(s.conns, c.sub.ID)
	s.mu.Unlock()
}

func (s *Server) connBySource(id string) (*clientConn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conns[id]
	return c, ok
}

// nearbyVehicles answers a passenger location ping from the live
// snapshot, nearest first.
func (s *Server) nearbyVehicles(origin core.Position, radiusM float64) []streaming.NearbyVehicle {
	if radiusM <= 0 {
		radiusM = s.cfg.NearbyDefaultRadiusM
	}
	var out []streaming.NearbyVehicle
	for _, v := range s.store.Snapshot() {
		d := geo.Distance(origin, v.Position)
		if d <= radiusM {
			out = append(out, streaming.NearbyVehicle{Vehicle: v, DistanceM: d})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceM < out[j].DistanceM })
	return out
}
