// thermosync - Computherm B-series cloud synchronizer
//
// This is the main entry point for thermosync. It maintains a live mirror
// of the account's thermostat state by combining the cloud REST API
// (login, device listing, commands) with the push feed (real-time state
// events), and exposes the merged state over MQTT, InfluxDB, and a local
// HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/zadoli/thermosync/migrations"

	"github.com/zadoli/thermosync/internal/api"
	"github.com/zadoli/thermosync/internal/cloud"
	"github.com/zadoli/thermosync/internal/coordinator"
	"github.com/zadoli/thermosync/internal/device"
	"github.com/zadoli/thermosync/internal/export"
	"github.com/zadoli/thermosync/internal/infrastructure/config"
	"github.com/zadoli/thermosync/internal/infrastructure/database"
	"github.com/zadoli/thermosync/internal/infrastructure/influxdb"
	"github.com/zadoli/thermosync/internal/infrastructure/logging"
	"github.com/zadoli/thermosync/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting thermosync",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open the snapshot history database (optional)
	var db *database.DB
	var history device.HistoryRepository
	if cfg.History.Enabled {
		db, err = database.Open(database.Config{
			Path:        cfg.History.Path,
			WALMode:     cfg.History.WALMode,
			BusyTimeout: cfg.History.BusyTimeout,
		})
		if err != nil {
			return fmt.Errorf("opening history database: %w", err)
		}
		defer func() {
			log.Info("closing history database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing history database", "error", closeErr)
			}
		}()

		if migrateErr := db.Migrate(ctx); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("history database ready", "path", cfg.History.Path)

		history = device.NewSQLiteHistoryRepository(db.DB)
	} else {
		log.Info("snapshot history disabled")
	}

	// Cloud REST client
	cloudClient := cloud.NewClient(cfg.Cloud.BaseURL, cfg.CloudTimeout())
	cloudClient.SetLogger(log)

	// Coordinator: login, device listing, push feed, token refresh
	coord := coordinator.New(cfg, cloudClient, history)
	coord.SetLogger(log)
	if err := coord.Start(ctx); err != nil {
		return fmt.Errorf("starting device synchronization: %w", err)
	}
	defer func() {
		log.Info("stopping device synchronization")
		coord.Stop()
	}()
	log.Info("device synchronization started",
		"devices", len(coord.Store().Serials()),
	)

	components := make(map[string]api.HealthChecker)
	if db != nil {
		components["database"] = db
	}

	// Connect to MQTT broker (optional)
	if cfg.MQTT.Enabled {
		mqttClient, err := mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		components["mqtt"] = mqttClient

		publisher := export.NewStatePublisher(mqttClient, coord.Store(), coord, byte(cfg.MQTT.QoS))
		publisher.SetLogger(log)
		if err := publisher.Start(); err != nil {
			return fmt.Errorf("starting MQTT state publisher: %w", err)
		}
		defer publisher.Stop()
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, err := influxdb.Connect(cfg.InfluxDB)
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
		components["influxdb"] = influxClient

		recorder := export.NewRecorder(influxClient, coord.Store(), coord)
		recorder.Start()
		defer recorder.Stop()
	} else {
		log.Info("InfluxDB disabled")
	}

	// Start HTTP API (optional)
	if cfg.API.Enabled {
		apiServer, err := api.New(api.Deps{
			Config:     cfg.API,
			Logger:     log,
			Controller: coord,
			History:    history,
			Components: components,
			Version:    version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := apiServer.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("HTTP API disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls unwind in reverse order:
	// 1. API server
	// 2. InfluxDB recorder, then client (if enabled)
	// 3. MQTT publisher, then client (if enabled)
	// 4. Coordinator (push feed)
	// 5. History database (if enabled)

	log.Info("thermosync stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses THERMOSYNC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("THERMOSYNC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
