package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("API_BASE_URL", "")
	t.Setenv("REDIS_ADDR", "")
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.APIBaseURL != "http://localhost:8000/api" {
		t.Fatalf("expected default api base url, got %s", cfg.APIBaseURL)
	}
	if cfg.RedisAddr != "" {
		t.Fatalf("expected redis disabled by default, got %s", cfg.RedisAddr)
	}
	if cfg.SessionCookieName != "sq_session" {
		t.Fatalf("expected default cookie name, got %s", cfg.SessionCookieName)
	}
	if cfg.SessionTTL != 7*24*time.Hour {
		t.Fatalf("expected default session ttl, got %s", cfg.SessionTTL)
	}
	if cfg.IsProduction() {
		t.Fatalf("development config should not be production")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("API_BASE_URL", "https://queue.example.gov/api/")
	t.Setenv("API_TIMEOUT", "3s")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("REDIS_TLS", "true")
	t.Setenv("CACHE_SIZE", "64")
	t.Setenv("POLL_IDLE_TIMEOUT", "45s")
	t.Setenv("LOGIN_RATE_PER_SEC", "0.5")
	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if !cfg.IsProduction() {
		t.Fatalf("expected production env")
	}
	if cfg.APIBaseURL != "https://queue.example.gov/api" {
		t.Fatalf("expected trailing slash trimmed, got %s", cfg.APIBaseURL)
	}
	if cfg.APITimeout != 3*time.Second {
		t.Fatalf("expected api timeout override, got %s", cfg.APITimeout)
	}
	if !cfg.RedisTLS || cfg.RedisAddr != "redis:6379" {
		t.Fatalf("expected redis overrides, got %s tls=%v", cfg.RedisAddr, cfg.RedisTLS)
	}
	if cfg.CacheSize != 64 {
		t.Fatalf("expected cache size override, got %d", cfg.CacheSize)
	}
	if cfg.PollIdleTimeout != 45*time.Second {
		t.Fatalf("expected poll idle override, got %s", cfg.PollIdleTimeout)
	}
	if cfg.LoginRatePerSec != 0.5 {
		t.Fatalf("expected rate override, got %v", cfg.LoginRatePerSec)
	}
}

func TestLocationFallsBackToLocal(t *testing.T) {
	cfg := &Config{Timezone: "Not/AZone"}
	if cfg.Location() != time.Local {
		t.Fatalf("expected local fallback for invalid zone")
	}
	cfg.Timezone = "UTC"
	if cfg.Location().String() != "UTC" {
		t.Fatalf("expected UTC, got %s", cfg.Location())
	}
}
