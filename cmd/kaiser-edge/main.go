// Kaiser edge node - safety and orchestration layer
//
// This is the main entry point of an edge node. It loads configuration,
// opens the persistent store, builds the transport and telemetry clients,
// and runs the control loop next to the local provisioning portal until a
// shutdown signal arrives or the node requests a reboot.
//
// A requested reboot (remote command, factory reset, new broker settings)
// exits with status 75 so the service manager restarts the process.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/kaiser-edge/migrations"

	"github.com/nerrad567/kaiser-edge/internal/gpio"
	"github.com/nerrad567/kaiser-edge/internal/hal"
	"github.com/nerrad567/kaiser-edge/internal/infrastructure/config"
	"github.com/nerrad567/kaiser-edge/internal/infrastructure/database"
	"github.com/nerrad567/kaiser-edge/internal/infrastructure/influxdb"
	"github.com/nerrad567/kaiser-edge/internal/infrastructure/logging"
	"github.com/nerrad567/kaiser-edge/internal/infrastructure/mqtt"
	"github.com/nerrad567/kaiser-edge/internal/node"
	"github.com/nerrad567/kaiser-edge/internal/portal"
	"github.com/nerrad567/kaiser-edge/internal/storage"
	"github.com/nerrad567/kaiser-edge/internal/watchdog"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"

	// exitReboot asks the service manager for a restart (EX_TEMPFAIL).
	exitReboot = 75
)

func main() {
	configPath := pflag.StringP("config", "c", getConfigPath(), "path to the configuration file")
	showVersion := pflag.BoolP("version", "v", false, "print version information and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Printf("kaiser-edge %s (commit %s, built %s)\n", version, commit, date)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := run(ctx, *configPath)
	switch {
	case err == nil:
	case errors.Is(err, node.ErrReboot):
		fmt.Fprintf(os.Stderr, "Restarting: %v\n", err)
		cancel()
		os.Exit(exitReboot)
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability. It
// returns nil on a clean shutdown and an error wrapping node.ErrReboot when
// the node asked to be restarted.
func run(ctx context.Context, configPath string) error {
	log := logging.Default()
	log.Info("starting kaiser-edge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version, cfg.Device.ID)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	store := storage.NewSQLiteStore(db)

	// Settings submitted through the portal override the file.
	prov, provisioned, err := node.LoadProvisioning(ctx, store)
	if err != nil {
		return err
	}
	if provisioned {
		prov.Apply(cfg)
		log.Info("provisioning applied", "broker_host", cfg.MQTT.Broker.Host, "broker_port", cfg.MQTT.Broker.Port)
	}
	provisioned = provisioned || cfg.MQTT.Broker.Host != ""

	topics := mqtt.Topics{Coordinator: cfg.Device.CoordinatorID, Device: cfg.Device.ID}

	// The control loop owns connection attempts; nothing connects here.
	mqttClient := mqtt.New(cfg.MQTT, topics)
	mqttClient.SetLogger(log.Component("mqtt"))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT connected", "broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port))
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()

	var telemetry node.Telemetry
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(ctx, cfg.InfluxDB, cfg.Device.ID)
		if influxErr != nil {
			log.Warn("InfluxDB unavailable, running without telemetry", "error", influxErr)
		} else {
			influxClient.SetOnError(func(err error) {
				log.Error("InfluxDB write error", "error", err)
			})
			defer func() {
				log.Info("closing InfluxDB connection")
				if closeErr := influxClient.Close(); closeErr != nil {
					log.Error("error closing InfluxDB", "error", closeErr)
				}
			}()
			log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
			telemetry = influxClient
		}
	} else {
		log.Info("InfluxDB disabled")
	}

	if err := healthCheck(ctx, db); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	pins, err := openPins(cfg)
	if err != nil {
		return fmt.Errorf("opening pin hardware: %w", err)
	}
	if closer, ok := pins.(io.Closer); ok {
		defer func() {
			log.Info("releasing pin hardware")
			if closeErr := closer.Close(); closeErr != nil {
				log.Error("error releasing pin hardware", "error", closeErr)
			}
		}()
	}
	log.Info("pin hardware ready", "driver", cfg.Hardware.Driver)

	n, err := node.New(nodeConfig(cfg, provisioned), node.Deps{
		Store:     store,
		Pins:      pins,
		ADC:       pins,
		Indicator: hal.NewLogIndicator(log.Component("indicator"), pins, cfg.Hardware.StatusLEDPin),
		Watchdog:  watchdogPrimitive(cfg),
		Transport: mqttClient,
		Link:      node.NetLink{Interface: cfg.Loop.LinkInterface},
		Telemetry: telemetry,
	})
	if err != nil {
		return fmt.Errorf("building node: %w", err)
	}
	n.SetLogger(log.Component("node"))

	var srv *portal.Server
	if cfg.Portal.Enabled {
		srv, err = portal.New(portal.Deps{
			Config:  cfg.Portal,
			Logger:  log.Component("portal"),
			Node:    n,
			Version: version,
		})
		if err != nil {
			return fmt.Errorf("building portal: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return n.Run(gctx)
	})
	if srv != nil {
		if startErr := srv.Start(gctx); startErr != nil {
			// The node stays useful without its portal.
			log.Error("portal failed to start", "error", startErr)
		} else {
			g.Go(func() error {
				return srv.Wait(gctx)
			})
		}
	}

	log.Info("initialisation complete", "device_id", cfg.Device.ID, "provisioned", provisioned)
	err = g.Wait()
	if errors.Is(err, node.ErrReboot) {
		log.Warn("node requested a restart", "reason", err)
	} else {
		log.Info("kaiser-edge stopped")
	}
	return err
}

// getConfigPath returns the configuration file path: KAISER_CONFIG if set,
// otherwise the default.
func getConfigPath() string {
	if path := os.Getenv("KAISER_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// nodeConfig maps the file configuration onto the node.
func nodeConfig(cfg *config.Config, provisioned bool) node.Config {
	network, bus := cfg.Breakers.Network, cfg.Breakers.Bus
	network.Name, bus.Name = "network", "bus"

	return node.Config{
		Topics:              mqtt.Topics{Coordinator: cfg.Device.CoordinatorID, Device: cfg.Device.ID},
		Version:             version,
		Provisioned:         provisioned,
		BrokerHost:          cfg.MQTT.Broker.Host,
		BrokerPort:          cfg.MQTT.Broker.Port,
		EmergencyToken:      cfg.Safety.EmergencyToken,
		TickMs:              cfg.Loop.TickMs,
		HeartbeatIntervalMs: cfg.Loop.HeartbeatIntervalMs,
		TelemetryIntervalMs: cfg.Loop.TelemetryIntervalMs,
		QueueSize:           cfg.Loop.QueueSize,
		Pins: gpio.Config{
			Reserved:  cfg.Hardware.ReservedPins,
			InputOnly: cfg.Hardware.InputOnlyPins,
		},
		Safety:    cfg.Safety.Config,
		Network:   network,
		Bus:       bus,
		Watchdog:  cfg.WatchdogSettings(),
		Lifecycle: cfg.Lifecycle,
	}
}

// pinDriver is a pin controller that also samples analog inputs.
type pinDriver interface {
	hal.PinController
	hal.AnalogReader
}

// openPins opens the pin controller selected by hardware.driver.
func openPins(cfg *config.Config) (pinDriver, error) {
	switch cfg.Hardware.Driver {
	case config.DriverGPIOCDev:
		chip, err := hal.OpenChip(cfg.Hardware.Chip, "kaiser-edge")
		if err != nil {
			return nil, err
		}
		return chip, nil
	case config.DriverSim:
		return hal.NewSim(), nil
	default:
		return nil, fmt.Errorf("unsupported hardware driver %q", cfg.Hardware.Driver)
	}
}

// watchdogPrimitive opens the hardware watchdog device, or returns a no-op
// primitive when supervision is disabled or no device is configured.
func watchdogPrimitive(cfg *config.Config) watchdog.Primitive {
	if cfg.Watchdog.Device == "" || cfg.WatchdogSettings().Mode == watchdog.ModeDisabled {
		return &watchdog.NoopPrimitive{}
	}
	return watchdog.OpenDevice(cfg.Watchdog.Device)
}

// healthCheck verifies the services the node cannot run without.
func healthCheck(ctx context.Context, db *database.DB) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	return nil
}
