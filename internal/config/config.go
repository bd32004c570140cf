package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	// Queue-management backend
	APIBaseURL   string
	APITimeout   time.Duration
	MediaBaseURL string

	// Token persistence
	RedisAddr         string
	RedisPassword     string
	RedisTLS          bool
	SessionCookieName string
	SessionTTL        time.Duration

	// Calendar and "today" calculations
	Timezone string

	// Query cache and polling
	CacheSize       int
	CacheTTL        time.Duration
	PollIdleTimeout time.Duration

	// Per-IP limits for unauthenticated form posts
	LoginRatePerSec float64
	LoginRateBurst  int

	// Tracing
	OTLPEndpoint string
	OTLPInsecure bool
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		APIBaseURL:   strings.TrimRight(getEnv("API_BASE_URL", "http://localhost:8000/api"), "/"),
		APITimeout:   getEnvAsDuration("API_TIMEOUT", 15*time.Second),
		MediaBaseURL: strings.TrimRight(getEnv("MEDIA_BASE_URL", "http://localhost:8000"), "/"),

		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisTLS:          getEnvAsBool("REDIS_TLS", false),
		SessionCookieName: getEnv("SESSION_COOKIE_NAME", "sq_session"),
		SessionTTL:        getEnvAsDuration("SESSION_TTL", 7*24*time.Hour),

		Timezone: getEnv("APP_TIMEZONE", "Local"),

		CacheSize:       getEnvAsInt("CACHE_SIZE", 2048),
		CacheTTL:        getEnvAsDuration("CACHE_TTL", 5*time.Minute),
		PollIdleTimeout: getEnvAsDuration("POLL_IDLE_TIMEOUT", 2*time.Minute),

		LoginRatePerSec: getEnvAsFloat("LOGIN_RATE_PER_SEC", 1),
		LoginRateBurst:  getEnvAsInt("LOGIN_RATE_BURST", 5),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTLPInsecure: getEnvAsBool("OTEL_EXPORTER_OTLP_INSECURE", false),
	}
}

// IsProduction reports whether cookies should be marked Secure.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// Location resolves Timezone, falling back to the process local zone.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
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

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
