// internal/config/config.go

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	NATS        NATSConfig
	Tracking    TrackingConfig
	Proximity   ProximityConfig
	Realtime    RealtimeConfig
	Logging     LoggingConfig
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

// TrackingConfig holds adaptive sampling configuration
type TrackingConfig struct {
	BaseInterval     time.Duration
	IntervalStep     time.Duration
	MinInterval      time.Duration
	MaxInterval      time.Duration
	BackoffFactor    float64
	StationaryMeters float64
	RequeryMeters    float64
	TransitSpeed     float64
	WalkingSpeed     float64
	HomeRadius       float64
	ProviderTimeout  time.Duration
	WriteTimeout     time.Duration
	DegradedAfter    int
	HistorySize      int
	DwellWindow      time.Duration
}

// ProximityConfig holds proximity query configuration
type ProximityConfig struct {
	DefaultRadiusKm int
	QueryTimeout    time.Duration
	MaxPeers        int
}

// RealtimeConfig holds peer event configuration
type RealtimeConfig struct {
	PositionSubject  string
	InterestsSubject string
	InboxBuffer      int
	AnnouncePosition bool
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// Load loads configuration from a .env file, when present, and the environment
func Load() (Config, error) {
	// A missing .env file is fine; the environment is used as is
	_ = godotenv.Load()

	config := Config{
		Environment: getEnv("APP_ENV", "development"),
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
			Database:     getEnv("DB_NAME", "tribe"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			MaxLifetime:  getEnvAsDuration("DB_MAX_LIFETIME", 5*time.Minute),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
		},
		NATS: NATSConfig{
			URL:            getEnv("NATS_URL", "nats://localhost:4222"),
			MaxReconnects:  getEnvAsInt("NATS_MAX_RECONNECTS", -1),
			ReconnectWait:  getEnvAsDuration("NATS_RECONNECT_WAIT", 1*time.Second),
			ConnectTimeout: getEnvAsDuration("NATS_CONNECT_TIMEOUT", 2*time.Second),
		},
		Tracking: TrackingConfig{
			BaseInterval:     getEnvAsDuration("TRACKING_BASE_INTERVAL", 30*time.Second),
			IntervalStep:     getEnvAsDuration("TRACKING_INTERVAL_STEP", 30*time.Second),
			MinInterval:      getEnvAsDuration("TRACKING_MIN_INTERVAL", 15*time.Second),
			MaxInterval:      getEnvAsDuration("TRACKING_MAX_INTERVAL", 5*time.Minute),
			BackoffFactor:    getEnvAsFloat("TRACKING_BACKOFF_FACTOR", 1.5),
			StationaryMeters: getEnvAsFloat("TRACKING_STATIONARY_METERS", 50),
			RequeryMeters:    getEnvAsFloat("TRACKING_REQUERY_METERS", 100),
			TransitSpeed:     getEnvAsFloat("TRACKING_TRANSIT_SPEED", 15),
			WalkingSpeed:     getEnvAsFloat("TRACKING_WALKING_SPEED", 2),
			HomeRadius:       getEnvAsFloat("TRACKING_HOME_RADIUS", 100),
			ProviderTimeout:  getEnvAsDuration("TRACKING_PROVIDER_TIMEOUT", 12*time.Second),
			WriteTimeout:     getEnvAsDuration("TRACKING_WRITE_TIMEOUT", 5*time.Second),
			DegradedAfter:    getEnvAsInt("TRACKING_DEGRADED_AFTER", 3),
			HistorySize:      getEnvAsInt("TRACKING_HISTORY_SIZE", 32),
			DwellWindow:      getEnvAsDuration("TRACKING_DWELL_WINDOW", 10*time.Minute),
		},
		Proximity: ProximityConfig{
			DefaultRadiusKm: getEnvAsInt("PROXIMITY_DEFAULT_RADIUS_KM", 10),
			QueryTimeout:    getEnvAsDuration("PROXIMITY_QUERY_TIMEOUT", 10*time.Second),
			MaxPeers:        getEnvAsInt("PROXIMITY_MAX_PEERS", 200),
		},
		Realtime: RealtimeConfig{
			PositionSubject:  getEnv("REALTIME_POSITION_SUBJECT", "tribe.peer.position"),
			InterestsSubject: getEnv("REALTIME_INTERESTS_SUBJECT", "tribe.peer.interests"),
			InboxBuffer:      getEnvAsInt("REALTIME_INBOX_BUFFER", 64),
			AnnouncePosition: getEnvAsBool("REALTIME_ANNOUNCE_POSITION", true),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}

	return config, validate(config)
}

// validate checks if config is valid
func validate(config Config) error {
	var errs []error

	t := config.Tracking
	if t.MinInterval <= 0 {
		errs = append(errs, fmt.Errorf("tracking min interval must be positive, got %v", t.MinInterval))
	}
	if t.MinInterval > t.BaseInterval || t.BaseInterval > t.MaxInterval {
		errs = append(errs, fmt.Errorf("tracking intervals must satisfy min <= base <= max, got %v, %v, %v",
			t.MinInterval, t.BaseInterval, t.MaxInterval))
	}
	if t.BackoffFactor < 1 {
		errs = append(errs, fmt.Errorf("tracking backoff factor must be at least 1, got %v", t.BackoffFactor))
	}
	if t.WalkingSpeed >= t.TransitSpeed {
		errs = append(errs, fmt.Errorf("walking speed %v must be below transit speed %v", t.WalkingSpeed, t.TransitSpeed))
	}
	if t.ProviderTimeout <= 0 {
		errs = append(errs, errors.New("tracking provider timeout must be positive"))
	}

	switch config.Proximity.DefaultRadiusKm {
	case 5, 10, 25:
	default:
		errs = append(errs, fmt.Errorf("default radius must be 5, 10 or 25 km, got %d", config.Proximity.DefaultRadiusKm))
	}

	switch strings.ToLower(config.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log format must be text or json, got %q", config.Logging.Format))
	}

	return errors.Join(errs...)
}

// DSN returns the PostgreSQL connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
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

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
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
