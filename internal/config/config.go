package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Backends accepted by LEASE_BACKEND.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMongo    = "mongo"
)

type Config struct {
	Development bool
	Backend     string

	// Redis configuration
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// SQL configuration
	PostgresDSN string
	SQLitePath  string

	// MongoDB configuration
	MongoURI      string
	MongoDatabase string

	// NATS or Kafka carry lock events for backends without pub/sub. Optional.
	NATSURL      string
	KafkaBrokers []string

	// Session defaults
	TTL     time.Duration
	Retries int

	HTTPPort int
}

// LoadConfig loads the configuration from a .env file, if present, and the
// environment, and validates it.
func LoadConfig() (*Config, error) {
	cfg := ReadConfig()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReadConfig is LoadConfig without validation, for callers that apply their
// own overrides before calling Validate.
func ReadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		Development:   getEnvAsBool("LEASE_DEVELOPMENT", false),
		Backend:       getEnv("LEASE_BACKEND", BackendMemory),
		RedisAddr:     getEnv("LEASE_REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("LEASE_REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("LEASE_REDIS_DB", 0),
		PostgresDSN:   getEnv("LEASE_POSTGRES_DSN", ""),
		SQLitePath:    getEnv("LEASE_SQLITE_PATH", "lease.db"),
		MongoURI:      getEnv("LEASE_MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase: getEnv("LEASE_MONGO_DATABASE", "lease"),
		NATSURL:       getEnv("LEASE_NATS_URL", ""),
		KafkaBrokers:  getEnvAsList("LEASE_KAFKA_BROKERS"),
		TTL:           getEnvAsDuration("LEASE_TTL", 3*time.Second),
		Retries:       getEnvAsInt("LEASE_RETRIES", 0),
		HTTPPort:      getEnvAsInt("LEASE_HTTP_PORT", 8080),
	}
}

// Validate checks that the selected backend is fully configured and that the
// session defaults are usable.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("LEASE_REDIS_ADDR is required for the redis backend")
		}
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("LEASE_POSTGRES_DSN is required for the postgres backend")
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("LEASE_SQLITE_PATH is required for the sqlite backend")
		}
	case BackendMongo:
		if c.MongoURI == "" || c.MongoDatabase == "" {
			return fmt.Errorf("LEASE_MONGO_URI and LEASE_MONGO_DATABASE are required for the mongo backend")
		}
	default:
		return fmt.Errorf("unknown LEASE_BACKEND %q", c.Backend)
	}

	if c.NATSURL != "" && len(c.KafkaBrokers) > 0 {
		return fmt.Errorf("LEASE_NATS_URL and LEASE_KAFKA_BROKERS are mutually exclusive")
	}
	if c.TTL < time.Millisecond {
		return fmt.Errorf("LEASE_TTL must be at least 1ms, got %v", c.TTL)
	}
	if c.Retries < 0 {
		return fmt.Errorf("LEASE_RETRIES must not be negative, got %d", c.Retries)
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid LEASE_HTTP_PORT %d", c.HTTPPort)
	}
	return nil
}

// Helper functions to read environment variables
func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(name string, defaultValue int) int {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := strconv.Atoi(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvAsBool(name string, defaultValue bool) bool {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := strconv.ParseBool(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvAsDuration(name string, defaultValue time.Duration) time.Duration {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := time.ParseDuration(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping empty items.
func getEnvAsList(name string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(name), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
