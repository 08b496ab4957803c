package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/kaiser-edge/internal/breaker"
	"github.com/nerrad567/kaiser-edge/internal/lifecycle"
	"github.com/nerrad567/kaiser-edge/internal/safety"
	"github.com/nerrad567/kaiser-edge/internal/watchdog"
)

// Config is the root configuration structure for the edge node.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device    DeviceConfig     `yaml:"device"`
	MQTT      MQTTConfig       `yaml:"mqtt"`
	Database  DatabaseConfig   `yaml:"database"`
	InfluxDB  InfluxDBConfig   `yaml:"influxdb"`
	Logging   LoggingConfig    `yaml:"logging"`
	Safety    SafetyConfig     `yaml:"safety"`
	Breakers  BreakersConfig   `yaml:"breakers"`
	Watchdog  WatchdogConfig   `yaml:"watchdog"`
	Lifecycle lifecycle.Config `yaml:"lifecycle"`
	Hardware  HardwareConfig   `yaml:"hardware"`
	Portal    PortalConfig     `yaml:"portal"`
	Loop      LoopConfig       `yaml:"loop"`
}

// DeviceConfig identifies the node inside the coordinator's topic tree.
type DeviceConfig struct {
	ID            string `yaml:"id"`
	CoordinatorID string `yaml:"coordinator_id"`
	Name          string `yaml:"name"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker MQTTBrokerConfig `yaml:"broker"`
	Auth   MQTTAuthConfig   `yaml:"auth"`
	QoS    int              `yaml:"qos"`

	// KeepAlive is the broker keepalive interval in seconds.
	KeepAlive int `yaml:"keep_alive"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SafetyConfig holds the resume timings and the emergency token used until
// one is set over the bus.
type SafetyConfig struct {
	safety.Config  `yaml:",inline"`
	EmergencyToken string `yaml:"emergency_token"`
}

// BreakersConfig holds one breaker per guarded dependency.
type BreakersConfig struct {
	Network breaker.Config `yaml:"network"`
	Bus     breaker.Config `yaml:"bus"`
}

// WatchdogConfig selects the supervision mode. Zero timings take the mode's
// defaults.
type WatchdogConfig struct {
	Mode             string `yaml:"mode"`
	Device           string `yaml:"device"`
	TimeoutMs        uint32 `yaml:"timeout_ms"`
	FeedIntervalMs   uint32 `yaml:"feed_interval_ms"`
	GateOnBusBreaker bool   `yaml:"gate_on_bus_breaker"`
}

// Pin controller drivers.
const (
	DriverSim      = "sim"
	DriverGPIOCDev = "gpiocdev"
)

// HardwareConfig describes the pin hardware.
type HardwareConfig struct {
	// Driver selects the pin controller: "sim" for the in-memory simulator,
	// "gpiocdev" for the Linux GPIO character device.
	Driver string `yaml:"driver"`

	// Chip names the GPIO chip used by the gpiocdev driver, e.g. "gpiochip0".
	// Pin numbers are line offsets on it.
	Chip string `yaml:"chip"`

	// StatusLEDPin drives the indicator LED; -1 disables it.
	StatusLEDPin int `yaml:"status_led_pin"`

	ReservedPins  []int `yaml:"reserved_pins"`
	InputOnlyPins []int `yaml:"input_only_pins"`
}

// PortalConfig contains the local provisioning endpoint settings.
type PortalConfig struct {
	Enabled  bool                `yaml:"enabled"`
	Host     string              `yaml:"host"`
	Port     int                 `yaml:"port"`
	Timeouts PortalTimeoutConfig `yaml:"timeouts"`
}

// PortalTimeoutConfig contains HTTP timeout settings in seconds.
type PortalTimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// LoopConfig tunes the control loop.
type LoopConfig struct {
	TickMs              uint32 `yaml:"tick_ms"`
	HeartbeatIntervalMs uint32 `yaml:"heartbeat_interval_ms"`
	TelemetryIntervalMs uint32 `yaml:"telemetry_interval_ms"`
	QueueSize           int    `yaml:"queue_size"`

	// LinkInterface is the network interface watched for link state. Empty
	// means any non-loopback interface.
	LinkInterface string `yaml:"link_interface"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: KAISER_SECTION_KEY
// For example: KAISER_DATABASE_PATH, KAISER_MQTT_HOST
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with the standard node settings.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			CoordinatorID: "god",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 1883,
			},
			QoS:       1,
			KeepAlive: 60,
		},
		Database: DatabaseConfig{
			Path:        "./data/kaiser-edge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Safety: SafetyConfig{Config: safety.DefaultConfig()},
		Breakers: BreakersConfig{
			Network: breaker.NetworkConfig(),
			Bus:     breaker.BusConfig(),
		},
		Watchdog: WatchdogConfig{
			Mode: watchdog.ModeProduction.String(),
		},
		Lifecycle: lifecycle.DefaultConfig(),
		Hardware: HardwareConfig{
			Driver:        DriverSim,
			Chip:          "gpiochip0",
			StatusLEDPin:  2,
			ReservedPins:  []int{6, 7, 8, 9, 10, 11},
			InputOnlyPins: []int{34, 35, 36, 37, 38, 39},
		},
		Portal: PortalConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: PortalTimeoutConfig{
				Read:  10,
				Write: 10,
				Idle:  60,
			},
		},
		Loop: LoopConfig{
			TickMs:              50,
			HeartbeatIntervalMs: 60_000,
			TelemetryIntervalMs: 30_000,
			QueueSize:           64,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: KAISER_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Device
	if v := os.Getenv("KAISER_DEVICE_ID"); v != "" {
		cfg.Device.ID = v
	}
	if v := os.Getenv("KAISER_COORDINATOR_ID"); v != "" {
		cfg.Device.CoordinatorID = v
	}

	// Database
	if v := os.Getenv("KAISER_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("KAISER_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("KAISER_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("KAISER_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("KAISER_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("KAISER_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Safety - the emergency token should never live in the file
	if v := os.Getenv("KAISER_EMERGENCY_TOKEN"); v != "" {
		cfg.Safety.EmergencyToken = v
	}

	if v := os.Getenv("KAISER_WATCHDOG_MODE"); v != "" {
		cfg.Watchdog.Mode = v
	}
	if v := os.Getenv("KAISER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	// Device identity becomes part of every topic
	if c.Device.ID == "" {
		errs = append(errs, "device.id is required")
	} else if !validTopicLevel(c.Device.ID) {
		errs = append(errs, "device.id must not contain '/', '+' or '#'")
	}
	if c.Device.CoordinatorID == "" {
		errs = append(errs, "device.coordinator_id is required")
	} else if !validTopicLevel(c.Device.CoordinatorID) {
		errs = append(errs, "device.coordinator_id must not contain '/', '+' or '#'")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url, org and bucket are required when enabled")
	}

	if c.Safety.MaxRetryAttempts < 1 {
		errs = append(errs, "safety.max_retry_attempts must be at least 1")
	}

	for name, b := range map[string]breaker.Config{"network": c.Breakers.Network, "bus": c.Breakers.Bus} {
		if b.FailureThreshold < 1 {
			errs = append(errs, fmt.Sprintf("breakers.%s.failure_threshold must be at least 1", name))
		}
		if b.CooldownMs == 0 {
			errs = append(errs, fmt.Sprintf("breakers.%s.cooldown_ms must be positive", name))
		}
	}

	if _, err := watchdog.ParseMode(c.Watchdog.Mode); err != nil {
		errs = append(errs, fmt.Sprintf("watchdog.mode: %v", err))
	}

	switch c.Hardware.Driver {
	case DriverSim:
	case DriverGPIOCDev:
		if c.Hardware.Chip == "" {
			errs = append(errs, "hardware.chip is required for the gpiocdev driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("hardware.driver %q is not supported (use %q or %q)",
			c.Hardware.Driver, DriverSim, DriverGPIOCDev))
	}

	if c.Portal.Enabled && (c.Portal.Port < 1 || c.Portal.Port > 65535) {
		errs = append(errs, "portal.port must be between 1 and 65535")
	}

	if c.Loop.TickMs == 0 {
		errs = append(errs, "loop.tick_ms must be positive")
	}
	if c.Loop.QueueSize < 1 {
		errs = append(errs, "loop.queue_size must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func validTopicLevel(s string) bool {
	return !strings.ContainsAny(s, "/+#")
}

// WatchdogSettings resolves the watchdog section into supervisor settings.
// Call only after Validate.
func (c *Config) WatchdogSettings() watchdog.Config {
	mode, _ := watchdog.ParseMode(c.Watchdog.Mode) //nolint:errcheck // validated
	wc := watchdog.ConfigFor(mode)
	if c.Watchdog.TimeoutMs > 0 {
		wc.TimeoutMs = c.Watchdog.TimeoutMs
	}
	if c.Watchdog.FeedIntervalMs > 0 {
		wc.FeedIntervalMs = c.Watchdog.FeedIntervalMs
	}
	wc.GateOnBusBreaker = c.Watchdog.GateOnBusBreaker
	return wc
}

// GetReadTimeout returns the portal read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.Portal.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the portal write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.Portal.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the portal idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.Portal.Timeouts.Idle) * time.Second
}
