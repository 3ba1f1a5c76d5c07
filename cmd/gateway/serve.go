package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"openhl7/gateway/internal/adapter"
	"openhl7/gateway/internal/config"
	"openhl7/gateway/internal/events"
	"openhl7/gateway/internal/handler"
	"openhl7/gateway/internal/httpapi"
	"openhl7/gateway/internal/metrics"
	"openhl7/gateway/internal/middleware"
	"openhl7/gateway/internal/server"
	"openhl7/gateway/internal/store"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	cfg := config.Load()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MLLP listener and the management API",
		RunE: func(cmd *cobra.Command, args []string) error {
			explicit := cmd.Flags().Changed("listen-ip") || cmd.Flags().Changed("listen-port") ||
				os.Getenv("HL7_LISTEN_IP") != "" || os.Getenv("HL7_LISTEN_PORT") != ""
			return runServe(cmd.Context(), cfg, explicit)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.GatewayID, "gateway-id", cfg.GatewayID, "Gateway instance ID")
	f.StringVar(&cfg.ListenIP, "listen-ip", cfg.ListenIP, "MLLP listen IPv4 address")
	f.IntVar(&cfg.ListenPort, "listen-port", cfg.ListenPort, "MLLP listen port")
	f.DurationVar(&cfg.ReadTimeout, "read-timeout", cfg.ReadTimeout, "Idle read timeout per connection")
	f.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "ACK write timeout")
	f.IntVar(&cfg.MaxFrameBytes, "max-frame-bytes", cfg.MaxFrameBytes, "Largest accepted MLLP frame")
	f.BoolVar(&cfg.AutoStart, "auto-start", cfg.AutoStart, "Start the listener at boot")
	f.StringSliceVar(&cfg.AllowedTypes, "allowed-types", cfg.AllowedTypes, "Accepted message types (MSH-9)")
	f.StringVar(&cfg.AckVersion, "ack-version", cfg.AckVersion, "Version ID written in ACK headers")
	f.IntVar(&cfg.HTTPPort, "http-port", cfg.HTTPPort, "Management API port")
	f.StringVar(&cfg.JWTSecret, "jwt-secret", cfg.JWTSecret, "HS256 secret protecting the API (empty disables auth)")
	f.IntVar(&cfg.RateLimit, "rate-limit", cfg.RateLimit, "API requests per minute per client (0 disables)")
	f.StringVar(&cfg.RedisURL, "redis", cfg.RedisURL, "Redis address or redis:// URL for settings and sessions")
	f.StringVar(&cfg.NATSURL, "nats", cfg.NATSURL, "NATS URL for event publishing")
	f.BoolVar(&cfg.NATSJetStream, "jetstream", cfg.NATSJetStream, "Persist events in the HL7_EVENTS JetStream stream")
	f.StringVar(&cfg.NATSPrefix, "nats-prefix", cfg.NATSPrefix, "NATS subject prefix")
	f.StringVar(&cfg.DatabaseURL, "database", cfg.DatabaseURL, "Postgres DSN for the message archive")
	f.StringVar(&cfg.SettingsFile, "settings", cfg.SettingsFile, "Settings file used when Redis is not configured")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	f.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "text or json")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, explicitListen bool) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return err
	}
	logger.Info("Starting HL7 gateway", "id", cfg.GatewayID, "version", version)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	bus := events.NewBus(logger)
	defer bus.Close()

	var (
		settings store.SettingsStore = store.NewFileSettings(cfg.SettingsFile)
		registry server.SessionRegistry
		limiter  middleware.RateLimiter
	)

	// Connect to Redis
	if cfg.RedisURL != "" {
		rdb, err := connectRedis(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		logger.Info("Connected to Redis")
		settings = store.NewRedisSettings(rdb, "")
		registry = store.NewRedisSessionRegistry(rdb, 0)
		limiter = middleware.NewRedisRateLimiter(rdb)
	}

	// Connect to NATS
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("hl7-gateway-"+cfg.GatewayID))
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer nc.Drain()
		logger.Info("Connected to NATS", "jetstream", cfg.NATSJetStream)

		var publisher *events.NATSPublisher
		if cfg.NATSJetStream {
			publisher, err = events.NewJetStreamPublisher(nc, cfg.NATSPrefix, logger)
			if err != nil {
				return err
			}
		} else {
			publisher = events.NewNATSPublisher(nc, cfg.NATSPrefix, logger)
		}
		ch, unsubscribe := bus.Subscribe(0)
		defer unsubscribe()
		go events.Forward(ctx, ch, publisher)
	}

	// Message archive
	var archive store.Archive = store.NewMemoryArchive(0)
	if cfg.DatabaseURL != "" {
		db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		})
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		gormArchive := store.NewGormArchive(db)
		if err := gormArchive.Migrate(); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}
		logger.Info("Connected to database")
		archive = gormArchive
	}
	archiveCh, unsubscribeArchive := bus.Subscribe(0)
	defer unsubscribeArchive()
	go store.NewRecorder(archive, logger).Run(ctx, archiveCh)

	// MLLP listener
	hl7 := adapter.NewHL7Adapter(adapter.HL7Config{
		AllowedTypes: cfg.AllowedTypes,
		AckVersion:   cfg.AckVersion,
	})
	listener := server.NewTCPServer(cfg, hl7, bus, logger)
	listener.SetMetrics(metrics.New(reg))
	if registry != nil {
		listener.SetRegistry(registry)
	}

	// Management API
	hub := handler.NewWSHub(logger)
	hubCh, unsubscribeHub := bus.Subscribe(0)
	defer unsubscribeHub()
	go hub.Run(ctx, hubCh)

	api := httpapi.NewServer(cfg, listener, settings, archive, hub, logger)
	api.SetGatherer(reg)
	if limiter != nil {
		api.SetRateLimiter(limiter)
	}
	api.Setup()

	apiErr := make(chan error, 1)
	go func() {
		apiErr <- api.Run(":" + strconv.Itoa(cfg.HTTPPort))
	}()

	if explicitListen {
		if err := settings.Save(ctx, store.Settings{IP: cfg.ListenIP, Port: cfg.ListenPort}); err != nil {
			return fmt.Errorf("failed to save listen settings: %w", err)
		}
	}
	if cfg.AutoStart {
		autoStart(ctx, listener, settings, logger)
	}

	select {
	case <-ctx.Done():
		logger.Info("Shutting down...")
	case err := <-apiErr:
		if err != nil {
			logger.Error("HTTP server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := listener.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Listener shutdown", "error", err)
	}
	if err := api.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown", "error", err)
	}
	logger.Info("Gateway stopped")
	return nil
}

// autoStart binds the listener to the saved settings. A failure is
// reported through the status event and the API stays up so an operator
// can fix the settings.
func autoStart(ctx context.Context, listener *server.TCPServer, settings store.SettingsStore, logger *slog.Logger) {
	s, err := settings.Load(ctx)
	if err != nil {
		logger.Error("Failed to load settings, listener not started", "error", err)
		return
	}
	if err := listener.Start(s.IP, s.Port); err != nil && !errors.Is(err, server.ErrAlreadyRunning) {
		logger.Error("Listener auto start failed", "error", err)
	}
}

// connectRedis accepts a host:port address or a redis:// URL
func connectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts := &redis.Options{Addr: url, DB: 0}
	if strings.HasPrefix(url, "redis://") || strings.HasPrefix(url, "rediss://") {
		parsed, err := redis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		opts = parsed
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}
