package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	// HTTP
	HTTPPort string

	// TimescaleDB
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBMaxConns int32

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Containment state backend: redis | sqlite | memory
	StateBackend string
	SQLitePath   string

	// Evaluation settings file
	SettingsPath string

	// Pipeline channels
	SampleBufferSize   int
	EventChannelSize   int
	PublishChannelSize int
	CommandChannelSize int

	// Batch writer tuning
	DBBatchSize       int
	DBFlushIntervalMS int

	// Ingest rate limit per device (samples/second, 0 = unlimited)
	IngestRatePerDevice int

	// Auth
	AuthCacheTTLSeconds int
	ValidAPIKeys        []string
}

func Load() *Config {
	return &Config{
		HTTPPort:            getEnv("HTTP_PORT", "8002"),
		DBHost:              getEnv("DB_HOST", "localhost"),
		DBPort:              getEnv("DB_PORT", "5432"),
		DBUser:              getEnv("DB_USER", "fleet_user"),
		DBPassword:          getEnv("DB_PASSWORD", "fleet_password"),
		DBName:              getEnv("DB_NAME", "fleet_monitor"),
		DBMaxConns:          int32(getEnvInt("DB_MAX_CONNS", 10)),
		RedisAddr:           getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""),
		RedisDB:             getEnvInt("REDIS_DB", 0),
		StateBackend:        strings.ToLower(getEnv("STATE_BACKEND", "redis")),
		SQLitePath:          getEnv("SQLITE_PATH", "geotrack.db"),
		SettingsPath:        getEnv("SETTINGS_PATH", "config/settings.yaml"),
		SampleBufferSize:    getEnvInt("SAMPLE_BUFFER_SIZE", 1000),
		EventChannelSize:    getEnvInt("EVENT_CHANNEL_SIZE", 10000),
		PublishChannelSize:  getEnvInt("PUBLISH_CHANNEL_SIZE", 10000),
		CommandChannelSize:  getEnvInt("COMMAND_CHANNEL_SIZE", 1000),
		DBBatchSize:         getEnvInt("DB_BATCH_SIZE", 500),
		DBFlushIntervalMS:   getEnvInt("DB_FLUSH_INTERVAL_MS", 1000),
		IngestRatePerDevice: getEnvInt("INGEST_RATE_PER_DEVICE", 20),
		AuthCacheTTLSeconds: getEnvInt("AUTH_CACHE_TTL_SECONDS", 300),
		ValidAPIKeys:        strings.Split(getEnv("VALID_API_KEYS", ""), ","),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// DatabaseURL is the Timescale connection string for pgxpool.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?pool_max_conns=%d",
		c.DBUser,
		c.DBPassword,
		c.DBHost,
		c.DBPort,
		c.DBName,
		c.DBMaxConns,
	)
}
