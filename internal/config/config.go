// internal/config/config.go

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Backend selects the message source implementation.
type Backend string

const (
	BackendPostgres  Backend = "postgres"
	BackendFirestore Backend = "firestore"
	BackendMemory    Backend = "memory"
)

// Config holds all application configuration
type Config struct {
	Environment string
	Backend     Backend
	Server      ServerConfig
	Database    DatabaseConfig
	NATS        NATSConfig
	Redis       RedisConfig
	Firestore   FirestoreConfig
	Geo         GeoConfig
	Messaging   MessagingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CorsOrigins     []string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
	SSLMode      string
}

// NATSConfig holds NATS configuration
type NATSConfig struct {
	URL            string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
}

// RedisConfig holds the optional send rate limiter configuration. An empty
// Addr disables rate limiting.
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	SendLimit  int
	SendWindow time.Duration
}

// FirestoreConfig holds Firestore backend configuration
type FirestoreConfig struct {
	ProjectID  string
	Collection string
}

// GeoConfig holds proximity and geocoding configuration
type GeoConfig struct {
	DefaultRadiusMeters        float64
	ResubscribeThresholdMeters float64
	GeocoderBaseURL            string
	GeocoderUserAgent          string
	GeocoderTimeout            time.Duration
}

// MessagingConfig holds messaging configuration
type MessagingConfig struct {
	MaxMessageLength int
	FetchLimit       int
}

// Load loads configuration from environment variables
func Load() (Config, error) {
	config := Config{
		Environment: getEnv("APP_ENV", "development"),
		Backend:     Backend(getEnv("MESSAGE_BACKEND", string(BackendPostgres))),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			CorsOrigins:     getEnvAsSlice("SERVER_CORS_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", "postgres"),
			Database:     getEnv("DB_NAME", "nearchat"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  getEnvAsDuration("DB_MAX_LIFETIME", 5*time.Minute),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
		},
		NATS: NATSConfig{
			URL:            getEnv("NATS_URL", "nats://localhost:4222"),
			MaxReconnects:  getEnvAsInt("NATS_MAX_RECONNECTS", 10),
			ReconnectWait:  getEnvAsDuration("NATS_RECONNECT_WAIT", 1*time.Second),
			ConnectTimeout: getEnvAsDuration("NATS_CONNECT_TIMEOUT", 2*time.Second),
		},
		Redis: RedisConfig{
			Addr:       getEnv("REDIS_ADDR", ""),
			Password:   getEnv("REDIS_PASSWORD", ""),
			DB:         getEnvAsInt("REDIS_DB", 0),
			SendLimit:  getEnvAsInt("SEND_RATE_LIMIT", 20),
			SendWindow: getEnvAsDuration("SEND_RATE_WINDOW", 1*time.Minute),
		},
		Firestore: FirestoreConfig{
			ProjectID:  getEnv("FIRESTORE_PROJECT_ID", ""),
			Collection: getEnv("FIRESTORE_COLLECTION", "messages"),
		},
		Geo: GeoConfig{
			DefaultRadiusMeters:        getEnvAsFloat("GEO_DEFAULT_RADIUS_METERS", 500),
			ResubscribeThresholdMeters: getEnvAsFloat("GEO_RESUBSCRIBE_THRESHOLD_METERS", 100),
			GeocoderBaseURL:            getEnv("GEOCODER_BASE_URL", ""),
			GeocoderUserAgent:          getEnv("GEOCODER_USER_AGENT", "nearchat/1.0"),
			GeocoderTimeout:            getEnvAsDuration("GEOCODER_TIMEOUT", 5*time.Second),
		},
		Messaging: MessagingConfig{
			MaxMessageLength: getEnvAsInt("MESSAGING_MAX_MESSAGE_LENGTH", 1000),
			FetchLimit:       getEnvAsInt("MESSAGING_FETCH_LIMIT", 500),
		},
	}

	return config, validate(config)
}

// validate checks if config is valid
func validate(config Config) error {
	switch config.Backend {
	case BackendPostgres, BackendMemory:
	case BackendFirestore:
		if config.Firestore.ProjectID == "" {
			return fmt.Errorf("FIRESTORE_PROJECT_ID must be set for the firestore backend")
		}
	default:
		return fmt.Errorf("unknown message backend %q", config.Backend)
	}

	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	return strings.Split(valueStr, ",")
}
