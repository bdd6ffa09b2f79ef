// sensorlink - live sensor dashboard backend
//
// This is the main entry point for sensorlink. It keeps a reconnecting
// WebSocket feed to a sensor server, merges every pushed reading into an
// in-memory store and fans changes out to:
//   - WebSocket dashboard clients and the REST API
//   - an MQTT mirror (retained state, command bridge)
//   - InfluxDB telemetry and a SQLite reading journal (both optional)
//   - Prometheus metrics
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/leonorpan/iot-fe/internal/api"
	"github.com/leonorpan/iot-fe/internal/dashboard"
	"github.com/leonorpan/iot-fe/internal/history"
	"github.com/leonorpan/iot-fe/internal/infrastructure/config"
	"github.com/leonorpan/iot-fe/internal/infrastructure/database"
	"github.com/leonorpan/iot-fe/internal/infrastructure/influxdb"
	"github.com/leonorpan/iot-fe/internal/infrastructure/logging"
	"github.com/leonorpan/iot-fe/internal/infrastructure/mqtt"
	"github.com/leonorpan/iot-fe/internal/metrics"
	"github.com/leonorpan/iot-fe/internal/sensor"
	"github.com/leonorpan/iot-fe/internal/socket"
	"github.com/leonorpan/iot-fe/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// configEnvVar names the config file when --config is not given.
const configEnvVar = "SENSORLINK_CONFIG"

// options are the command-line flags.
type options struct {
	configPath  string
	endpoint    string
	showVersion bool
}

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags parses args into options. --help returns pflag.ErrHelp.
func parseFlags(args []string, out io.Writer) (options, error) {
	var opts options

	fs := pflag.NewFlagSet("sensorlink", pflag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVarP(&opts.configPath, "config", "c", "", "path to the YAML config file (env "+configEnvVar+")")
	fs.StringVar(&opts.endpoint, "endpoint", "", "sensor server WebSocket URL, overrides socket.endpoint")
	fs.BoolVar(&opts.showVersion, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	return opts, nil
}

// getConfigPath returns the --config value, then SENSORLINK_CONFIG. An empty
// result means built-in defaults.
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(configEnvVar)
}

// loadConfig loads the file (or defaults) and applies the endpoint flag.
func loadConfig(opts options) (*config.Config, error) {
	cfg, err := config.Load(getConfigPath(opts.configPath))
	if err != nil {
		return nil, err
	}
	if opts.endpoint != "" {
		cfg.Socket.Endpoint = opts.endpoint
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("validating --endpoint: %w", err)
		}
	}
	return cfg, nil
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context, args []string, stdout io.Writer) error { //nolint:gocognit,gocyclo // startup wiring is linear
	opts, err := parseFlags(args, stdout)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parsing flags: %w", err)
	}
	if opts.showVersion {
		fmt.Fprintf(stdout, "sensorlink %s (commit %s, built %s)\n", version, commit, date)
		return nil
	}

	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting sensorlink",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if path := getConfigPath(opts.configPath); path != "" {
		log.Info("configuration loaded", "path", path)
	} else {
		log.Info("no config file given, using built-in defaults")
	}

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	collector := metrics.New()

	// Reading journal (optional)
	var db *database.DB
	var journal dashboard.Journal
	if cfg.History.Enabled {
		db, err = database.Open(cfg.Database)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		log.Info("database connected", "path", cfg.Database.Path)

		if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database migrations complete")

		repo := history.NewSQLiteRepository(db.DB, nil)
		journal = repo

		pruner := history.NewPruner(repo,
			time.Duration(cfg.History.RetentionDays)*24*time.Hour,
			time.Duration(cfg.History.PruneInterval)*time.Minute,
		)
		pruner.SetLogger(log.Component("history"))
		go pruner.Run(ctx)
	} else {
		log.Info("reading journal disabled")
	}

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	var mirror dashboard.StatePublisher
	var commands dashboard.CommandSource
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		// #nosec G115 -- QoS validated to 0..2
		mirror = mqtt.NewGuardedPublisher(mqttClient, byte(cfg.MQTT.QoS), cfg.MQTT.Breaker, log.Component("mqtt"))
		commands = mqttClient
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	var telemetry dashboard.TelemetryWriter
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		telemetry = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	// WebSocket hub shared by the dashboard (broadcasts) and the API (clients)
	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go hub.Run(hubCtx)

	store := sensor.NewStore()
	store.SetLogger(log.Component("store"))
	store.SetFilter(cfg.Store.ShowConnectedOnly)

	manager := socket.NewManager[sensor.Record](socket.Config{
		ReconnectDelay:   cfg.ReconnectDelay(),
		HandshakeTimeout: time.Duration(cfg.Socket.HandshakeTimeout) * time.Second,
		MaxMessageSize:   cfg.Socket.MaxMessageSize,
		PingInterval:     time.Duration(cfg.Socket.PingInterval) * time.Second,
		PongTimeout:      time.Duration(cfg.Socket.PongTimeout) * time.Second,
	})
	manager.SetLogger(log.Component("socket"))

	dash, err := dashboard.New(dashboard.Deps{
		Endpoint:    cfg.Socket.Endpoint,
		Store:       store,
		Manager:     manager,
		Logger:      log.Component("dashboard"),
		Mirror:      mirror,
		Commands:    commands,
		CommandQoS:  byte(cfg.MQTT.QoS), // #nosec G115 -- QoS validated to 0..2
		Telemetry:   telemetry,
		Journal:     journal,
		Broadcaster: hub,
		Metrics:     collector,
	})
	if err != nil {
		return fmt.Errorf("creating dashboard: %w", err)
	}
	if err := dash.Start(ctx); err != nil {
		return fmt.Errorf("starting dashboard: %w", err)
	}
	defer func() {
		log.Info("stopping sensor feed")
		if stopErr := dash.Stop(); stopErr != nil {
			log.Error("error stopping sensor feed", "error", stopErr)
		}
	}()

	// Start HTTP API (optional)
	if cfg.API.Enabled {
		server, err := api.New(api.Deps{
			Config:         cfg.API,
			WS:             cfg.WebSocket,
			Metrics:        cfg.Metrics,
			Logger:         log.Component("api"),
			Dashboard:      dash,
			MetricsHandler: collector.Handler(),
			ExternalHub:    hub,
			Version:        version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
		log.Info("API server listening", "address", server.Addr())
	} else {
		log.Info("API server disabled")
	}

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal",
		"endpoint", cfg.Socket.Endpoint,
	)

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// 1. API server
	// 2. Sensor feed
	// 3. WebSocket hub
	// 4. InfluxDB, MQTT, database (if enabled)

	log.Info("sensorlink stopped")
	return nil
}

// healthCheck verifies every enabled infrastructure connection. Nil
// arguments are skipped.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	// The sensor feed is not checked: it reconnects on its own and the
	// dashboard reports its phase.

	return nil
}
