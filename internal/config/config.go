package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const (
	LockBackendPostgres = "postgres"
	LockBackendRedis    = "redis"
)

type Config struct {
	// Server
	Port           string
	Env            string
	LogLevel       string
	RequestTimeout time.Duration

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// JWT
	JWTSecret string

	// Timer gate
	LockBackend string
	LockTTL     time.Duration

	// API rate limit (requests per minute per IP)
	RateLimitPerMinute int

	// Frontend
	FrontendURL string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:               getEnvOrDefault("PORT", "8080"),
		Env:                getEnvOrDefault("ENV", "development"),
		LogLevel:           getEnvOrDefault("LOG_LEVEL", "info"),
		RequestTimeout:     getEnvAsDurationOrDefault("REQUEST_TIMEOUT", 15*time.Second),
		DatabaseURL:        mustGetEnv("DATABASE_URL"),
		RedisURL:           mustGetEnv("REDIS_URL"),
		JWTSecret:          mustGetEnv("JWT_SECRET"),
		LockBackend:        parseLockBackend(getEnvOrDefault("LOCK_BACKEND", LockBackendPostgres)),
		LockTTL:            getEnvAsDurationOrDefault("LOCK_TTL", 30*time.Second),
		RateLimitPerMinute: getEnvAsIntOrDefault("RATE_LIMIT_PER_MINUTE", 50),
		FrontendURL:        getEnvOrDefault("FRONTEND_URL", "http://localhost:5173"),
	}

	return cfg
}

// IsDevelopment reports whether human-readable console logging should be used.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func parseLockBackend(val string) string {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case LockBackendPostgres:
		return LockBackendPostgres
	case LockBackendRedis:
		return LockBackendRedis
	default:
		log.Warn().Str("lock_backend", val).Msg("unknown LOCK_BACKEND, falling back to postgres")
		return LockBackendPostgres
	}
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvAsDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
