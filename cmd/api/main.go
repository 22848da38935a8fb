// cmd/api/main.go

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/nats-io/nats.go"

	"tribe/internal/adapter/events"
	"tribe/internal/adapter/storage"
	"tribe/internal/config"
	"tribe/internal/domain/geo"
	"tribe/internal/domain/proximity"
	"tribe/internal/logging"
	"tribe/internal/observability"
	"tribe/internal/server"
	"tribe/internal/service/nearby"
	"tribe/internal/service/tracking"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging, os.Stdout)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Initialize dependencies
	db, err := initDatabase(ctx, cfg.Database)
	if err != nil {
		fatal(logger, "Failed to initialize database", err)
	}
	defer db.Close()

	natsConn, err := initNATS(cfg.NATS, logger)
	if err != nil {
		fatal(logger, "Failed to connect to NATS", err)
	}
	defer natsConn.Close()

	metrics := observability.NewMetrics()

	// Initialize adapters
	peerStore := storage.NewPeerStore(db, storage.PeerStoreConfig{
		MaxPeers: cfg.Proximity.MaxPeers,
	})

	bus := events.NewBus(natsConn, events.BusConfig{
		PositionSubject:  cfg.Realtime.PositionSubject,
		InterestsSubject: cfg.Realtime.InterestsSubject,
	}, logger)

	var announcer proximity.PositionAnnouncer
	if cfg.Realtime.AnnouncePosition {
		announcer = bus
	}

	// Initialize services
	engine := nearby.NewEngine(
		peerStore,
		nearby.EngineConfig{
			QueryTimeout: cfg.Proximity.QueryTimeout,
		},
		logger,
		metrics,
	)

	sessions := tracking.NewManager(
		engine,
		peerStore,
		announcer,
		bus,
		sessionConfig(cfg),
		logger,
		metrics,
	)

	// Initialize HTTP server
	httpServer := server.NewServer(cfg.Server, sessions, engine, metrics, logger)

	// Start HTTP server
	go func() {
		logger.Info("Starting HTTP server", "host", cfg.Server.Host, "port", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fatal(logger, "HTTP server error", err)
		}
	}()

	// Wait for shutdown signal
	<-shutdown
	logger.Info("Shutdown signal received")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Graceful shutdown
	logger.Info("Shutting down services...")

	// Shutdown HTTP server
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	// Stop tracking sessions
	if err := sessions.StopAll(shutdownCtx); err != nil {
		logger.Error("Tracking sessions shutdown error", "error", err)
	}

	logger.Info("Shutdown complete")
}

func sessionConfig(cfg config.Config) tracking.SessionConfig {
	t := cfg.Tracking

	return tracking.SessionConfig{
		Scheduler: tracking.SchedulerConfig{
			Policy: tracking.IntervalPolicy{
				Base:             t.BaseInterval,
				Step:             t.IntervalStep,
				Min:              t.MinInterval,
				Max:              t.MaxInterval,
				StationaryMeters: t.StationaryMeters,
				BackoffFactor:    t.BackoffFactor,
			},
			Motion: geo.MotionRules{
				TransitSpeed:     t.TransitSpeed,
				WalkingSpeed:     t.WalkingSpeed,
				StationaryMeters: t.StationaryMeters,
				HomeRadius:       t.HomeRadius,
			},
			ProviderTimeout: t.ProviderTimeout,
			DegradedAfter:   t.DegradedAfter,
			HistorySize:     t.HistorySize,
			DwellWindow:     t.DwellWindow,
		},
		Publisher: tracking.PublisherConfig{
			WriteTimeout:  t.WriteTimeout,
			RequeryMeters: t.RequeryMeters,
		},
		DefaultRadius: proximity.Radius(cfg.Proximity.DefaultRadiusKm),
		EventBuffer:   cfg.Realtime.InboxBuffer,
	}
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}

// Initialize database connection
func initDatabase(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.MaxLifetime

	db, err := pgxpool.ConnectConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	// Test connection
	if err := db.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return db, nil
}

// Initialize NATS connection. The event bus installs the reconnect handler.
func initNATS(cfg config.NATSConfig, logger *slog.Logger) (*nats.Conn, error) {
	logger = logger.With("component", "nats")

	options := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, options...)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to NATS: %w", err)
	}

	return nc, nil
}
