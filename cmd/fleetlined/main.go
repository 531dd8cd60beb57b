package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"golang.org/x/sync/errgroup"

	"github.com/fleetline/engine/internal/assign"
	"github.com/fleetline/engine/internal/config"
	"github.com/fleetline/engine/internal/fanout"
	"github.com/fleetline/engine/internal/influx"
	"github.com/fleetline/engine/internal/logging"
	"github.com/fleetline/engine/internal/monitor"
	intOtel "github.com/fleetline/engine/internal/otel"
	"github.com/fleetline/engine/internal/ownership"
	"github.com/fleetline/engine/internal/persist"
	"github.com/fleetline/engine/internal/routes"
	"github.com/fleetline/engine/internal/server"
	"github.com/fleetline/engine/internal/sim"
	"github.com/fleetline/engine/internal/store"
	"github.com/fleetline/engine/internal/validate"
	"github.com/fleetline/engine/pkg/core"
)

// Version and BuildDate can be set at build time via ldflags.
var (
	Version   string = "0.0.1"
	BuildDate string = "unknown"

	ServiceName string = "fleetlined"
)

var (
	SessionStartTime time.Time = time.Now()

	LogFilePath string
	LogFile     *os.File

	// SlogManager handles all slog-based logging
	SlogManager *logging.SlogManager

	// Logger is the slog logger (convenience reference)
	Logger *slog.Logger

	// OTelProvider handles OpenTelemetry
	OTelProvider *intOtel.Provider

	// Services
	stateStore    *store.Store
	hub           *fanout.Hub
	owners        *ownership.Manager
	scheduler     *sim.Scheduler
	statsService  *monitor.Service
	wsServer      *server.Server
	persistMgr    *persist.Manager
	historyWriter *persist.Writer
	influxMgr     *influx.Manager
)

func setupLogging() error {
	SlogManager = logging.NewSlogManager()
	SlogManager.Setup(os.Stdout, viper.GetString("logLevel"), nil)
	Logger = SlogManager.Logger()

	logsDir := viper.GetString("logsDir")
	if _, err := os.Stat(logsDir); os.IsNotExist(err) {
		if err := os.Mkdir(logsDir, 0755); err != nil {
			return fmt.Errorf("creating logs dir: %w", err)
		}
	}

	LogFilePath = logging.LogFilePath(logsDir, ServiceName, SessionStartTime)
	var err error
	LogFile, err = os.OpenFile(LogFilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return fmt.Errorf("creating log file: %w", err)
	}

	// Initialize OTel provider if enabled (after log file is created)
	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled {
		OTelProvider, err = intOtel.New(intOtel.Config{
			Enabled:      otelCfg.Enabled,
			ServiceName:  otelCfg.ServiceName,
			BatchTimeout: otelCfg.BatchTimeout,
			LogWriter:    LogFile,
			Endpoint:     otelCfg.Endpoint,
			Insecure:     otelCfg.Insecure,
		})
		if err != nil {
			Logger.Error("Failed to initialize OTel provider", "error", err)
			OTelProvider = nil
		}
	}

	var otelLogProvider *sdklog.LoggerProvider
	if OTelProvider != nil {
		otelLogProvider = OTelProvider.LoggerProvider()
	}

	// Optional GELF forwarding
	var extra []slog.Handler
	if viper.GetBool("graylog.enabled") {
		h, err := logging.NewGelfHandler(viper.GetString("graylog.address"), slog.LevelInfo)
		if err != nil {
			Logger.Error("Failed to connect to Graylog", "error", err)
		} else {
			extra = append(extra, h)
		}
	}

	// Re-setup logging with file output and optional OTel
	SlogManager.Setup(LogFile, viper.GetString("logLevel"), otelLogProvider, extra...)
	Logger = SlogManager.Logger()
	Logger.Info("Logging to file", "path", LogFilePath)

	return nil
}

func setupPersistence() {
	zl := zerolog.New(zerolog.ConsoleWriter{
		Out:        LogFile,
		TimeFormat: time.RFC3339,
		NoColor:    true,
	}).With().Timestamp().Logger()

	persistMgr = persist.NewManager(zl)
	if err := persistMgr.Connect(); err != nil {
		Logger.Warn("History database unavailable, snapshots will be dropped", "error", err)
	} else if err := persistMgr.Setup(); err != nil {
		Logger.Error("History database migration failed", "error", err)
		persistMgr.IsValid = false
	}

	interval := time.Duration(viper.GetInt("db.snapshotIntervalSeconds")) * time.Second
	historyWriter = persist.NewWriter(persistMgr, interval)
	historyWriter.Start()

	if viper.GetBool("influx.enabled") {
		influxMgr = influx.NewManager(zl, viper.GetString("logsDir"))
		if err := influxMgr.Connect(); err != nil {
			Logger.Warn("InfluxDB unavailable, metrics export disabled", "error", err)
			influxMgr = nil
		}
	}
}

func loadFleet() error {
	stateStore = store.New(Logger)

	if err := routes.LoadRoutes(viper.GetString("routesFile"), stateStore, Logger); err != nil {
		return fmt.Errorf("loading routes: %w", err)
	}
	if err := routes.LoadFleet(viper.GetString("fleetFile"), stateStore, Logger); err != nil {
		return fmt.Errorf("loading fleet: %w", err)
	}
	return nil
}

// loadTokens reads the static credential table. Token issuance is an
// external collaborator's concern; the engine only verifies.
func loadTokens(path string) (server.StaticAuthenticator, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file struct {
		Tokens map[string]string `json:"tokens"`
	}
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return server.StaticAuthenticator(file.Tokens), nil
}

// snapshotWithDecay serves hub snapshots with staleness-adjusted
// confidence, computed lazily at read time.
func snapshotWithDecay(window time.Duration) fanout.SnapshotFunc {
	return func() []core.Vehicle {
		now := time.Now()
		vehicles := stateStore.Snapshot()
		for i := range vehicles {
			vehicles[i].Confidence = core.DecayedConfidence(vehicles[i], now, window)
		}
		return vehicles
	}
}

// offlineRecorder fans the grace-expiry event out to subscribers and
// into the history store.
type offlineRecorder struct {
	hub     *fanout.Hub
	history *persist.Writer
}

func (r *offlineRecorder) EmitOffline(v core.Vehicle, operatorID string) {
	r.hub.EmitOffline(v, operatorID)
	r.history.RecordOffline(v.ID, operatorID, v.LastUpdateAt)
}

// historyBroadcaster records each simulation batch before fanning it out.
type historyBroadcaster struct {
	hub     *fanout.Hub
	history *persist.Writer
}

func (b *historyBroadcaster) BroadcastDelta(vehicles []core.Vehicle) {
	b.history.RecordVehicles(vehicles)
	b.hub.BroadcastDelta(vehicles)
}

func main() {
	if err := config.Load("."); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v (using defaults)\n", err)
	}

	if err := setupLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	Logger.Info("Starting", "service", ServiceName, "version", Version, "buildDate", BuildDate)

	setupPersistence()

	if err := loadFleet(); err != nil {
		Logger.Error("Failed to load fleet data", "error", err)
		os.Exit(1)
	}

	roster, err := assign.LoadRoster(viper.GetString("rosterFile"))
	if err != nil {
		Logger.Warn("No operator roster loaded, all vehicles stay simulated", "error", err)
		roster = assign.NewRoster()
	}

	auth, err := loadTokens(viper.GetString("tokensFile"))
	if err != nil {
		Logger.Warn("No credential table loaded, all connections will be refused", "error", err)
		auth = server.StaticAuthenticator{}
	}

	decayWindow := time.Duration(viper.GetInt("fanout.confidenceDecaySeconds")) * time.Second
	hub, err = fanout.NewHub(snapshotWithDecay(decayWindow), viper.GetInt("fanout.bufferSize"), Logger)
	if err != nil {
		Logger.Error("Failed to create fanout hub", "error", err)
		os.Exit(1)
	}

	grace := time.Duration(viper.GetInt("ownership.graceSeconds")) * time.Second
	owners = ownership.New(stateStore, grace, &offlineRecorder{hub: hub, history: historyWriter}, Logger)

	simCfg := config.GetSimConfig()
	scheduler = sim.NewScheduler(stateStore, &historyBroadcaster{hub: hub, history: historyWriter}, sim.Config{
		TickInterval:          simCfg.TickInterval,
		CruiseSpeedKmph:       simCfg.CruiseSpeedKmph,
		SpeedJitterKmph:       simCfg.SpeedJitterKmph,
		OccupancyJitterChance: simCfg.OccupancyJitterChance,
		Confidence:            simCfg.Confidence,
	}, Logger)
	scheduler.Start()

	statsService = monitor.NewService(monitor.Dependencies{
		Store:  stateStore,
		Hub:    hub,
		Roster: roster,
		Influx: influxMgr,
		Logger: Logger,
	})
	statsService.Start()

	telCfg := config.GetTelemetryConfig()
	srvCfg := server.Config{
		Addr:                 viper.GetString("server.addr"),
		PingInterval:         time.Duration(viper.GetInt("server.pingIntervalSeconds")) * time.Second,
		PongWait:             time.Duration(viper.GetInt("server.pongWaitSeconds")) * time.Second,
		WriteTimeout:         time.Duration(viper.GetInt("server.writeTimeoutSeconds")) * time.Second,
		AuthTimeout:          time.Duration(viper.GetInt("server.authTimeoutSeconds")) * time.Second,
		NearbyDefaultRadiusM: viper.GetFloat64("nearby.defaultRadiusM"),
		NearbyMinInterval:    time.Duration(viper.GetInt("nearby.minIntervalMillis")) * time.Millisecond,
		Telemetry: validate.Config{
			MaxAccuracyM:  telCfg.MaxAccuracyM,
			MaxSpeedKmph:  telCfg.MaxSpeedKmph,
			MaxJumpMeters: telCfg.MaxJumpMeters,
			MinSampleGap:  telCfg.MinSampleGap,
		},
	}

	wsServer, err = server.New(srvCfg, server.Dependencies{
		Hub:     hub,
		Store:   stateStore,
		Owners:  owners,
		Roster:  roster,
		Stats:   statsService,
		History: historyWriter,
		Auth:    auth,
		Logger:  Logger,
	})
	if err != nil {
		Logger.Error("Failed to create server", "error", err)
		os.Exit(1)
	}

	// Late-bound so every record carries live engine state.
	SlogManager.State = func() []slog.Attr {
		return []slog.Attr{
			slog.Bool("usingLocalDb", persistMgr.ShouldSaveLocal),
			slog.Bool("simRunning", scheduler.IsRunning()),
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		Logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		err := wsServer.Shutdown(shutdownCtx)
		scheduler.Stop()
		statsService.Stop()
		historyWriter.Stop()
		if influxMgr != nil {
			influxMgr.Close()
		}
		if OTelProvider != nil {
			OTelProvider.Shutdown(shutdownCtx)
		}
		SlogManager.Flush(shutdownCtx)
		return err
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		Logger.Error("Exited with error", "error", err)
	}
	Logger.Info("Stopped")
	LogFile.Close()
}
