// Open Peer Power Core - home automation hub.
//
// This is the main entry point. It loads configuration, opens the user
// store, builds the hub (bus, state machine, service registry), loads the
// built-in components and serves the HTTP and WebSocket APIs until a
// signal arrives or a client calls openpeerpower.stop / restart.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/openpeerpower/core/internal/api"
	"github.com/openpeerpower/core/internal/auth"
	"github.com/openpeerpower/core/internal/components/inputboolean"
	"github.com/openpeerpower/core/internal/components/openpeerpower"
	"github.com/openpeerpower/core/internal/core"
	"github.com/openpeerpower/core/internal/infrastructure/config"
	"github.com/openpeerpower/core/internal/infrastructure/database"
	"github.com/openpeerpower/core/internal/infrastructure/influxdb"
	"github.com/openpeerpower/core/internal/infrastructure/logging"
	"github.com/openpeerpower/core/internal/infrastructure/mqtt"
	"github.com/openpeerpower/core/internal/recorder"
	"github.com/openpeerpower/core/internal/statestream"
	"github.com/openpeerpower/core/internal/template"
	"github.com/openpeerpower/core/internal/wsapi"
	"github.com/openpeerpower/core/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=2026.10.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	// defaultConfigPath is used when OPP_CONFIG is not set.
	defaultConfigPath = "configs/config.yaml"

	configPathEnv = "OPP_CONFIG"
)

// errRestartRequested is returned by run when openpeerpower.restart stopped
// the hub. main turns it into core.ExitCodeRestart so a supervisor can
// start the process again.
var errRestartRequested = errors.New("restart requested")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := run(ctx)
	switch {
	case errors.Is(err, errRestartRequested):
		cancel()
		os.Exit(core.ExitCodeRestart)
	case err != nil:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Returns nil on a clean shutdown, errRestartRequested when a restart was
// asked for, or an error describing the start-up failure.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo,funlen // linear start-up sequence
	log := logging.Default()
	log.Info("starting Open Peer Power Core",
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

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// User store
	db, err := database.Open(cfg.Database)
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

	users := auth.NewUserRepository(db.DB)
	if _, seedErr := auth.SeedOwner(ctx, users, cfg.Core.Name, log.Logger); seedErr != nil {
		return fmt.Errorf("seeding owner account: %w", seedErr)
	}
	authManager := auth.NewManager(cfg.Security, users,
		auth.NewTokenRepository(db.DB),
		auth.NewEntityAccessRepository(db.DB),
		log.Logger,
	)
	attempts := auth.NewLoginAttempts(cfg.Security.LoginAttempts, log.Logger)
	go attempts.PruneLoop(ctx)
	go authManager.SweepLoop(ctx, 0)

	// Hub
	hub := core.NewHub(&core.Config{
		LocationName: cfg.Core.Name,
		Latitude:     cfg.Core.Location.Latitude,
		Longitude:    cfg.Core.Location.Longitude,
		Elevation:    cfg.Core.Location.Elevation,
		UnitSystem:   cfg.Core.UnitSystem,
		TimeZone:     cfg.Core.TimeZone,
		Version:      version,
		ConfigDir:    filepath.Dir(configPath),
	})
	hub.SetLogger(log.Component("core"))

	if setupErr := openpeerpower.Setup(hub, log); setupErr != nil {
		return fmt.Errorf("setting up %s: %w", openpeerpower.Domain, setupErr)
	}
	booleans, err := inputboolean.Setup(hub, cfg.InputBoolean, log)
	if err != nil {
		return fmt.Errorf("setting up %s: %w", inputboolean.Domain, err)
	}
	log.Info("components loaded", "input_boolean", len(booleans.Entities()))

	health := map[string]api.HealthChecker{"database": db}

	// MQTT statestream (optional)
	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := mqtt.Connect(cfg.MQTT)
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT connected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		stream := statestream.New(hub, mqttClient, cfg.MQTT, log)
		if startErr := stream.Start(ctx); startErr != nil {
			return fmt.Errorf("starting statestream: %w", startErr)
		}
		defer stream.Stop()
		hub.Config.AddComponent("mqtt_statestream")
		health["mqtt"] = mqttClient
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB recorder (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		rec := recorder.New(hub, influxClient, log)
		rec.Start()
		defer rec.Stop()
		hub.Config.AddComponent("influxdb")
		health["influxdb"] = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	// WebSocket API
	registry := wsapi.NewRegistry()
	if regErr := wsapi.RegisterBuiltins(registry); regErr != nil {
		return fmt.Errorf("registering websocket commands: %w", regErr)
	}
	if regErr := api.RegisterCommands(registry); regErr != nil {
		return fmt.Errorf("registering websocket commands: %w", regErr)
	}
	registry.Freeze()

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	wsServer := wsapi.NewServer(wsapi.Options{
		Config: cfg.WebSocket,
		Deps: wsapi.Deps{
			Hub:      hub,
			Renderer: template.NewRenderer(hub),
			Registry: registry,
			Logger:   log,
			Version:  version,
		},
		Auth:      authManager,
		Attempts:  attempts,
		Metrics:   wsapi.NewMetrics(promRegistry),
		Observers: []wsapi.Observer{wsapi.NewConnectedClients(hub, log)},
	})
	hub.Config.AddComponent("websocket_api")

	// HTTP API
	apiServer, err := api.New(api.Deps{
		Config:    cfg.API,
		Security:  cfg.Security,
		WSPath:    cfg.WebSocket.Path,
		Logger:    log,
		Hub:       hub,
		Auth:      authManager,
		Attempts:  attempts,
		WebSocket: wsServer,
		Gatherer:  promRegistry,
		Health:    health,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	hub.Config.AddComponent("api")

	if err := healthCheck(ctx, health); err != nil {
		_ = apiServer.Close() //nolint:errcheck // already failing
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	hub.Start()
	log.Info("initialisation complete", "address", apiServer.Addr())

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, cleaning up")
		if stopErr := hub.Stop(false); stopErr != nil {
			log.Warn("hub already stopping", "error", stopErr)
		}
	case <-hub.Done():
		log.Info("hub stopped by service call", "exit_code", hub.ExitCode())
	}
	<-hub.Done()

	if closeErr := apiServer.Close(); closeErr != nil {
		log.Error("error closing API server", "error", closeErr)
	}
	hub.Services.Wait()

	// Deferred closes run in reverse order: recorder, InfluxDB,
	// statestream, MQTT, database.
	log.Info("Open Peer Power Core stopped")

	if hub.ExitCode() == core.ExitCodeRestart {
		return errRestartRequested
	}
	return nil
}

// getConfigPath returns the configuration file path.
// Uses OPP_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv(configPathEnv); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck runs every infrastructure health check and returns the first
// failure.
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	for name, check := range checks {
		if err := check.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
