// Gray Logic Access - door access control for the Gray Logic home.
//
// This binary authenticates keypad PINs and RFID cards for the front door,
// keeps the access log and failed-attempt counter, routes controller and
// sensor traffic arriving over MQTT, and serves the admin HTTP/WebSocket API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/alert"
	"github.com/nerrad567/gray-logic-access/internal/api"
	"github.com/nerrad567/gray-logic-access/internal/audit"
	"github.com/nerrad567/gray-logic-access/internal/auth"
	"github.com/nerrad567/gray-logic-access/internal/dispatch"
	"github.com/nerrad567/gray-logic-access/internal/door"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-access/internal/notify"
	"github.com/nerrad567/gray-logic-access/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Gray Logic Access",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// .env files only fill variables that are not already set.
	if err := config.LoadEnvFiles(".env", ".env.local"); err != nil {
		return err
	}

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	defer log.Close() //nolint:errcheck // shutdown path
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

	// Database
	db, err := database.Open(ctx, database.FromConfig(cfg.Database))
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	applied, err := db.Migrate(ctx, migrations.FS)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path, "migrations_applied", applied)

	// Accounts
	userRepo := auth.NewUserRepository(db.DB)
	if _, seedErr := auth.SeedAdmin(ctx, userRepo, log); seedErr != nil {
		return fmt.Errorf("seeding admin: %w", seedErr)
	}
	authSvc := auth.NewService(userRepo, cfg.Security.JWT.Secret, cfg.Security.JWT.AccessTokenTTL)
	authSvc.SetLogger(log)

	// MQTT
	mqttClient, err := mqtt.Connect(ctx, cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// InfluxDB (optional)
	var metrics dispatch.Metrics
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(ctx, cfg.InfluxDB)
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
		metrics = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Push notifications
	sink, closeSink := newSink(ctx, cfg.Notify.Redis, log)
	defer closeSink()
	pushSvc := notify.NewService(notify.NewTokenRepository(db.DB), sink)
	pushSvc.SetLogger(log)

	alertSvc := alert.NewService(alert.NewRepository(db.DB), mqttClient, nil, pushSvc)
	alertSvc.SetLogger(log)

	// Door
	doorSvc := door.NewService(door.NewRepository(db.DB), mqttClient, door.ServiceConfig{
		DefaultPIN:          cfg.Door.DefaultPIN,
		AlarmThreshold:      cfg.Door.AlarmThreshold,
		ResetCounterOnAlarm: cfg.Door.ResetCounterOnAlarm,
	})
	doorSvc.SetLogger(log)
	if initErr := doorSvc.Init(ctx); initErr != nil {
		return fmt.Errorf("initialising door: %w", initErr)
	}

	router := dispatch.NewRouter(doorSvc, alertSvc, mqttClient, metrics, dispatch.Config{
		OfflineThreshold: cfg.Door.OfflineThreshold(),
		SweepInterval:    cfg.Door.SweepInterval(),
		DedupeWindow:     cfg.Door.DedupeWindow(),
		DedupeCapacity:   cfg.Door.DedupeCapacity,
	})
	router.SetLogger(log)

	// HTTP API
	srv, err := api.New(api.Deps{
		Config: cfg.API,
		WS:     cfg.WebSocket,
		Logger: log,
		Auth:   authSvc,
		Door:   doorSvc,
		PIN:    router,
		Alerts: alertSvc,
		Push:   pushSvc,
		Audit:  audit.NewRepository(db.DB),
		Health: map[string]api.HealthChecker{
			"database": db,
			"mqtt":     mqttClient,
		},
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	// Wire the live feed before MQTT delivery starts.
	alertSvc.SetBroadcaster(srv.Hub())
	doorSvc.SetBroadcaster(srv.Hub())
	router.SetBroadcaster(srv.Hub())

	// The controller may have restarted while we were away, so push the
	// PIN digest and whitelist on every (re)connect.
	mqttClient.OnConnect(func() {
		pushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if pushErr := doorSvc.RepublishConfig(pushCtx); pushErr != nil {
			log.Warn("republishing door config failed", "error", pushErr)
		}
	})
	if pushErr := doorSvc.RepublishConfig(ctx); pushErr != nil {
		log.Warn("initial door config push failed", "error", pushErr)
	}

	if subErr := mqttClient.SubscribeAll(router.Topics(), router.HandleMessage); subErr != nil {
		return fmt.Errorf("subscribing to inbound topics: %w", subErr)
	}
	go router.Run(ctx)

	if startErr := srv.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal",
		"api", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
	)
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// API server, sink, InfluxDB, MQTT, database.
	return nil
}

// newSink returns the Redis hand-off when enabled and reachable, otherwise a
// sink that only logs. The returned func releases the sink.
func newSink(ctx context.Context, cfg config.RedisConfig, log *logging.Logger) (notify.Sink, func()) {
	redisSink, err := notify.NewRedisSink(ctx, cfg)
	switch {
	case errors.Is(err, notify.ErrDisabled):
		log.Info("push hand-off disabled, notifications will be logged only")
		return notify.NewLogSink(log), func() {}
	case err != nil:
		log.Warn("push hand-off unavailable, notifications will be logged only", "error", err)
		return notify.NewLogSink(log), func() {}
	}

	log.Info("push hand-off connected", "addr", cfg.Addr, "channel", cfg.Channel)
	return redisSink, func() {
		if closeErr := redisSink.Close(); closeErr != nil {
			log.Error("error closing push hand-off", "error", closeErr)
		}
	}
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
