package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	ListenAddr  string

	DatabaseURL string

	RedisURL           string
	RedisAuthCacheTTL   time.Duration
	RedisQueryCacheTTL  time.Duration

	RabbitMQURL      string
	RabbitMQExchange string

	Argon2Time    uint32
	Argon2Memory  uint32
	Argon2Threads uint8
	Argon2KeyLen  uint32

	OTLPEndpoint string
	LogLevel     string
}

// Load reads configuration from the environment (and an optional .env file).
// Missing DatabaseURL, RedisURL, or RabbitMQURL is treated as a startup fatal
// error by the caller; Load itself only surfaces what it found.
func Load() Config {
	_ = godotenv.Load()

	environment := getenv("ENVIRONMENT", "development")

	return Config{
		AppName:            getenv("APP_SERVICE", "platformd"),
		AppVersion:         getenv("APP_VERSION", "0.1.0"),
		Environment:        environment,
		ListenAddr:         getenv("LISTEN_ADDR", ":8080"),
		DatabaseURL:        strings.TrimSpace(getenv("DATABASE_URL", "")),
		RedisURL:           strings.TrimSpace(getenv("REDIS_URL", "")),
		RedisAuthCacheTTL:  getenvDuration("AUTH_CACHE_TTL", 24*time.Hour),
		RedisQueryCacheTTL: getenvDuration("QUERY_CACHE_TTL", 45*time.Second),
		RabbitMQURL:        strings.TrimSpace(getenv("RABBITMQ_URL", "")),
		RabbitMQExchange:   getenv("RABBITMQ_EXCHANGE_NAME", "platformd_events"),
		Argon2Time:         getenvUint32("ARGON2_TIME", 1),
		Argon2Memory:       getenvUint32("ARGON2_MEMORY_KB", 64*1024),
		Argon2Threads:      uint8(getenvUint32("ARGON2_THREADS", 4)),
		Argon2KeyLen:       getenvUint32("ARGON2_KEY_LEN", 32),
		OTLPEndpoint:       getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		LogLevel:           getenv("LOG_LEVEL", "info"),
	}
}

// Validate returns an error naming any required setting that is missing.
// The caller exits(1) on a non-nil result, per the startup-fatal contract
// for a missing store/broker dependency.
func (c Config) Validate() error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.RedisURL == "" {
		missing = append(missing, "REDIS_URL")
	}
	if c.RabbitMQURL == "" {
		missing = append(missing, "RABBITMQ_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvUint32(key string, def uint32) uint32 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return def
	}
	return uint32(parsed)
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
