package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/nerrad567/elevate/internal/api"
	"github.com/nerrad567/elevate/internal/audit"
	"github.com/nerrad567/elevate/internal/auth"
	"github.com/nerrad567/elevate/internal/infrastructure/config"
	"github.com/nerrad567/elevate/internal/infrastructure/database"
	"github.com/nerrad567/elevate/internal/infrastructure/influxdb"
	"github.com/nerrad567/elevate/internal/infrastructure/logging"
	"github.com/nerrad567/elevate/internal/infrastructure/mqtt"
	"github.com/nerrad567/elevate/internal/session"
)

func newServeCommand(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the session server until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath())
		},
	}
}

// run is the server lifecycle, separated from the command for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configPath: YAML configuration file
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, configPath string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Elevate",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)

	db, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := session.NewMetrics(reg)

	store, closeStore, err := openSessionStore(ctx, cfg, db, metrics, log)
	if err != nil {
		return err
	}
	defer closeStore()

	// Accounts and credentials
	users := auth.NewUserRepository(db.DB)
	provider := auth.NewProvider(users, auth.NewCredentialRepository(db.DB))
	if _, seedErr := auth.SeedOwner(ctx, provider, log.Logger); seedErr != nil {
		return fmt.Errorf("seeding owner account: %w", seedErr)
	}

	// Audit trail, drained in the background
	auditRepo := audit.NewSQLiteRepository(db.DB)
	recorder := audit.NewRecorder(auditRepo, audit.DefaultQueueSize, log)
	recorderCtx, stopRecorder := context.WithCancel(context.WithoutCancel(ctx))
	recorderDone := make(chan struct{})
	go func() {
		defer close(recorderDone)
		recorder.Run(recorderCtx)
	}()
	defer func() {
		stopRecorder()
		<-recorderDone
	}()

	hub := api.NewHub(cfg.WebSocket, log)
	notifiers := []session.Notifier{hub, metrics, recorder}

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(ctx, cfg.MQTT)
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
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		notifiers = append(notifiers, session.NewMQTTNotifier(mqttClient))
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
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
		notifiers = append(notifiers, session.NewPointNotifier(influxClient))
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	svc := session.NewService(store, provider, session.Options{
		TTL:           cfg.SessionTTL(),
		ElevationRole: cfg.Session.ElevationRole,
		Notifier:      session.NewMultiNotifier(notifiers...),
		Metrics:       metrics,
		Logger:        log,
	})

	deps := api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Security:   cfg.Security,
		Logger:     log,
		Sessions:   svc,
		Auth:       provider,
		Users:      users,
		AuditRepo:  auditRepo,
		Audit:      recorder,
		Hub:        hub,
		DB:         db.DB,
		Registerer: reg,
		Gatherer:   reg,
		Version:    version,
	}
	if mqttClient != nil {
		deps.MQTT = mqttClient
	}
	server, err := api.New(deps)
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

	log.Info("initialisation complete, waiting for shutdown signal",
		"session_ttl", cfg.SessionTTL(),
		"elevation_role", cfg.Session.ElevationRole,
		"store", cfg.Database.Driver,
	)

	<-ctx.Done()

	// Deferred Close() calls run in reverse order: API server, InfluxDB,
	// MQTT, audit recorder, session store, database.
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// openDatabase opens the SQLite database and applies pending migrations.
func openDatabase(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.DB, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	log.Info("database connected", "path", cfg.Database.Path)

	if err := db.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database migrations complete")
	return db, nil
}

// openSessionStore picks the record store named by database.driver.
// The returned func releases it.
func openSessionStore(ctx context.Context, cfg *config.Config, db *database.DB, metrics *session.Metrics, log *logging.Logger) (session.Store, func(), error) {
	if cfg.Database.Driver != config.DriverPostgres {
		store := session.NewSQLiteStore(db.DB, cfg.Session.MaxCASAttempts)
		store.SetOnRetry(metrics.CASRetry)
		log.Info("session store ready", "driver", config.DriverSQLite)
		return store, func() {}, nil
	}

	pool, err := database.OpenPostgres(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("opening postgres: %w", err)
	}
	store := session.NewPostgresStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("preparing postgres schema: %w", err)
	}
	log.Info("session store ready", "driver", config.DriverPostgres)
	return store, func() {
		log.Info("closing postgres pool")
		pool.Close()
	}, nil
}
