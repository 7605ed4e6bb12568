// cmd/api/main.go

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"nearchat/internal/adapter/bus"
	"nearchat/internal/adapter/cache"
	fsadapter "nearchat/internal/adapter/firestore"
	"nearchat/internal/adapter/memory"
	"nearchat/internal/adapter/storage"
	"nearchat/internal/config"
	"nearchat/internal/domain/message"
	"nearchat/internal/domain/session"
	"nearchat/internal/server"
	"nearchat/internal/server/handlers"
	"nearchat/internal/service/geocode"
	"nearchat/internal/service/grouping"
	"nearchat/internal/service/nearby"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("Warning: .env file not found, using system environment variables")
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg.Environment)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Initialize the message backend
	source, cleanup, err := initSource(ctx, cfg, logger)
	if err != nil {
		logger.Fatalw("Failed to initialize message backend", "backend", cfg.Backend, "error", err)
	}
	defer cleanup()

	// Optional Redis-backed send rate limiter
	var limiter nearby.RateLimiter
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatalw("Failed to connect to Redis", "error", err)
		}
		defer redisClient.Close()

		limiter = cache.NewSendLimiter(redisClient, "nearchat:send", cfg.Redis.SendLimit, cfg.Redis.SendWindow)
	}

	// Reverse geocoder with coordinate-label fallback
	var geocoder geocode.Geocoder
	if cfg.Geo.GeocoderBaseURL != "" {
		geocoder = geocode.NewNominatimGeocoder(cfg.Geo.GeocoderBaseURL, cfg.Geo.GeocoderUserAgent, cfg.Geo.GeocoderTimeout)
	} else {
		geocoder = geocode.NewStaticGeocoder()
	}

	grouper := grouping.NewGrouper(geocoder, logger)

	// Handlers
	messageHandler := handlers.NewMessageHandler(
		source,
		grouper,
		limiter,
		cfg.Geo.DefaultRadiusMeters,
		cfg.Messaging.MaxMessageLength,
		logger,
	)
	geoHandler := handlers.NewGeoHandler(geocoder, logger)

	controllerFactory := func(sess session.Session) *nearby.Controller {
		return nearby.NewController(source, sess, limiter, nearby.Config{
			RadiusMeters:               cfg.Geo.DefaultRadiusMeters,
			ResubscribeThresholdMeters: cfg.Geo.ResubscribeThresholdMeters,
			MessageRadiusMeters:        cfg.Geo.DefaultRadiusMeters,
		}, logger)
	}
	wsHandler := handlers.NearbyWebSocketHandler(controllerFactory, logger)

	// Initialize HTTP server
	httpServer := server.NewServer(cfg.Server, messageHandler, geoHandler, wsHandler)

	// Start HTTP server
	go func() {
		logger.Infow("Starting HTTP server", "host", cfg.Server.Host, "port", cfg.Server.Port, "backend", cfg.Backend)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalw("HTTP server error", "error", err)
		}
	}()

	// Wait for shutdown signal
	<-shutdown
	logger.Infow("Shutdown signal received")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("HTTP server shutdown error", "error", err)
	}

	logger.Infow("Shutdown complete")
}

// newLogger builds the application logger.
func newLogger(environment string) (*zap.SugaredLogger, error) {
	var l *zap.Logger
	var err error

	if environment == "development" {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}

	return l.Sugar(), nil
}

// initSource builds the configured message backend. The returned cleanup
// closes backend connections.
func initSource(ctx context.Context, cfg config.Config, logger *zap.SugaredLogger) (message.Source, func(), error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		db, err := initDatabase(ctx, cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("database: %w", err)
		}

		natsConn, err := initNATS(cfg.NATS, logger)
		if err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("nats: %w", err)
		}

		store := storage.NewMessageStore(db, cfg.Messaging.FetchLimit)
		source := bus.NewSource(store, natsConn, logger)

		return source, func() {
			natsConn.Close()
			db.Close()
		}, nil

	case config.BackendFirestore:
		client, err := fsadapter.NewClient(ctx, cfg.Firestore.ProjectID)
		if err != nil {
			return nil, nil, err
		}

		source := fsadapter.NewSource(client, cfg.Firestore.Collection, cfg.Messaging.FetchLimit, logger)

		return source, func() { client.Close() }, nil

	case config.BackendMemory:
		return memory.NewSource(), func() {}, nil
	}

	return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

// Initialize database connection
func initDatabase(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connString)
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

// Initialize NATS connection
func initNATS(cfg config.NATSConfig, logger *zap.SugaredLogger) (*nats.Conn, error) {
	options := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warnw("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Infow("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Infow("NATS connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, options...)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to NATS: %w", err)
	}

	return nc, nil
}
