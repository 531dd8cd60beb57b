package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// OTelConfig holds OpenTelemetry export settings.
type OTelConfig struct {
	Enabled      bool
	ServiceName  string
	BatchTimeout time.Duration
	Endpoint     string
	Insecure     bool
}

// SimConfig holds the simulator movement parameters.
type SimConfig struct {
	TickInterval          time.Duration
	CruiseSpeedKmph       float64
	SpeedJitterKmph       float64
	OccupancyJitterChance float64
	Confidence            float64
}

// TelemetryConfig holds the operator sample validation thresholds.
type TelemetryConfig struct {
	MaxAccuracyM  float64
	MaxSpeedKmph  float64
	MaxJumpMeters float64
	MinSampleGap  time.Duration
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	// Set default values
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./fleetlogs")

	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("server.pingIntervalSeconds", 20)
	viper.SetDefault("server.pongWaitSeconds", 45)
	viper.SetDefault("server.writeTimeoutSeconds", 10)
	viper.SetDefault("server.authTimeoutSeconds", 5)

	viper.SetDefault("routesFile", "routes.json")
	viper.SetDefault("fleetFile", "fleet.json")
	viper.SetDefault("rosterFile", "roster.json")
	viper.SetDefault("tokensFile", "tokens.json")

	viper.SetDefault("ownership.graceSeconds", 10)

	viper.SetDefault("sim.tickSeconds", 3)
	viper.SetDefault("sim.cruiseSpeedKmph", 32)
	viper.SetDefault("sim.speedJitterKmph", 6)
	viper.SetDefault("sim.occupancyJitterChance", 0.1)
	viper.SetDefault("sim.confidence", 0.9)

	viper.SetDefault("telemetry.maxAccuracyM", 100)
	viper.SetDefault("telemetry.maxSpeedKmph", 120)
	viper.SetDefault("telemetry.maxJumpMeters", 500)
	viper.SetDefault("telemetry.minSampleGapMillis", 2000)

	viper.SetDefault("fanout.bufferSize", 64)
	viper.SetDefault("fanout.confidenceDecaySeconds", 90)
	viper.SetDefault("nearby.defaultRadiusM", 1500)
	viper.SetDefault("nearby.minIntervalMillis", 1000)

	viper.SetDefault("db.driver", "sqlite")
	viper.SetDefault("db.path", "fleetline.db")
	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "fleetline")
	viper.SetDefault("db.snapshotIntervalSeconds", 30)

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "fleet-metrics")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "fleetline-engine")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetConfigName("fleetline.cfg.json")
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetFloat returns a float config value.
func GetFloat(key string) float64 {
	return viper.GetFloat64(key)
}

// GetOTelConfig returns the OpenTelemetry export settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetSimConfig returns the simulator movement parameters.
func GetSimConfig() SimConfig {
	return SimConfig{
		TickInterval:          time.Duration(viper.GetInt("sim.tickSeconds")) * time.Second,
		CruiseSpeedKmph:       viper.GetFloat64("sim.cruiseSpeedKmph"),
		SpeedJitterKmph:       viper.GetFloat64("sim.speedJitterKmph"),
		OccupancyJitterChance: viper.GetFloat64("sim.occupancyJitterChance"),
		Confidence:            viper.GetFloat64("sim.confidence"),
	}
}

// GetTelemetryConfig returns the operator sample validation thresholds.
func GetTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		MaxAccuracyM:  viper.GetFloat64("telemetry.maxAccuracyM"),
		MaxSpeedKmph:  viper.GetFloat64("telemetry.maxSpeedKmph"),
		MaxJumpMeters: viper.GetFloat64("telemetry.maxJumpMeters"),
		MinSampleGap:  time.Duration(viper.GetInt("telemetry.minSampleGapMillis")) * time.Millisecond,
	}
}
