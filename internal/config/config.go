package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/geddydukes/portfolio/internal/logging"
	"github.com/geddydukes/portfolio/internal/store/redis"
)

// Store backends accepted by STORE_BACKEND.
const (
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

type Config struct {
	ListenAddr          string
	StoreBackend        string
	RedisURL            string
	RedisToken          string
	DBPath              string
	AnalyticsPassword   string
	MaxMindDBPath       string
	LogLevel            slog.Level
	LogFormat           logging.Format
	LogFile             string
	RateLimitPerMinute  int
	MaxRequestBodyBytes int64
	IngestTimeout       time.Duration
	StoreTimeout        time.Duration
	VisitLogMax         int
	RecentVisitsLimit   int
	StatsConcurrency    int
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first without overriding variables already set.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env", "error", err)
	}

	cfg := Config{
		ListenAddr:          getEnv("LISTEN_ADDR", ":8080"),
		StoreBackend:        strings.ToLower(getEnv("STORE_BACKEND", BackendRedis)),
		RedisURL:            firstEnv("REDIS_URL", "UPSTASH_REDIS_REST_URL"),
		RedisToken:          firstEnv("REDIS_TOKEN", "UPSTASH_REDIS_REST_TOKEN"),
		DBPath:              getEnv("DB_PATH", "./data/analytics.db"),
		AnalyticsPassword:   firstEnv("ANALYTICS_PASSWORD", "BLOG_PASSWORD"),
		MaxMindDBPath:       os.Getenv("MAXMIND_DB_PATH"),
		LogLevel:            logging.ParseLevel(getEnv("LOG_LEVEL", "INFO")),
		LogFormat:           logging.ParseFormat(getEnv("LOG_FORMAT", "text")),
		LogFile:             os.Getenv("LOG_FILE"),
		RateLimitPerMinute:  getEnvInt("RATE_LIMIT_PER_MINUTE", 0),
		MaxRequestBodyBytes: getEnvInt64("MAX_REQUEST_BODY_BYTES", 64<<10),
		IngestTimeout:       getEnvDuration("INGEST_TIMEOUT", 2*time.Second),
		StoreTimeout:        getEnvDuration("STORE_TIMEOUT", 5*time.Second),
		VisitLogMax:         getEnvInt("VISIT_LOG_MAX", 1000),
		RecentVisitsLimit:   getEnvInt("RECENT_VISITS_LIMIT", 50),
		StatsConcurrency:    getEnvInt("STATS_CONCURRENCY", 8),
	}

	switch cfg.StoreBackend {
	case BackendRedis, BackendSQLite, BackendMemory:
	default:
		slog.Warn("unknown store backend, using redis", "value", cfg.StoreBackend)
		cfg.StoreBackend = BackendRedis
	}
	if cfg.VisitLogMax <= 0 {
		cfg.VisitLogMax = 1000
	}
	if cfg.RecentVisitsLimit <= 0 {
		cfg.RecentVisitsLimit = 50
	}
	if cfg.StatsConcurrency <= 0 {
		cfg.StatsConcurrency = 8
	}

	return cfg
}

// StoreConfigured reports whether enough settings exist to open the selected
// backend. The redis backend needs an endpoint, plus the access token when
// the endpoint is a REST-style https URL; sqlite and memory always work.
func (c Config) StoreConfigured() bool {
	if c.StoreBackend == BackendRedis {
		return redis.Configured(c.RedisURL, c.RedisToken)
	}
	return true
}

// AuthConfigured returns true if an operator secret is set.
func (c Config) AuthConfigured() bool {
	return c.AnalyticsPassword != ""
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if val := strings.TrimSpace(os.Getenv(key)); val != "" {
			return val
		}
	}
	return ""
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		slog.Warn("invalid int environment variable", "key", key, "value", val, "error", err)
		return def
	}
	return parsed
}

func getEnvInt64(key string, def int64) int64 {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	parsed, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		slog.Warn("invalid int64 environment variable", "key", key, "value", val, "error", err)
		return def
	}
	return parsed
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		slog.Warn("invalid duration environment variable", "key", key, "value", val, "error", err)
		return def
	}
	return parsed
}
