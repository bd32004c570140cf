package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	appconfig "github.com/wolfman30/smartqueue-portal/internal/config"
	"github.com/wolfman30/smartqueue-portal/internal/session"
	"github.com/wolfman30/smartqueue-portal/pkg/logging"
)

func TestBuildRedisClientDisabledWithoutAddr(t *testing.T) {
	if client := BuildRedisClient(context.Background(), &appconfig.Config{}, logging.Discard(), true); client != nil {
		t.Fatalf("expected nil client when REDIS_ADDR is empty")
	}
	if client := BuildRedisClient(context.Background(), nil, logging.Discard(), true); client != nil {
		t.Fatalf("expected nil client for nil config")
	}
}

func TestBuildRedisClientVerifiesPing(t *testing.T) {
	mr := miniredis.RunT(t)

	client := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, logging.Discard(), true)
	if client == nil {
		t.Fatalf("expected client for reachable redis")
	}
	defer client.Close()

	addr := mr.Addr()
	mr.Close()
	if client := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: addr}, logging.Discard(), true); client != nil {
		t.Fatalf("expected nil client when ping fails")
	}
}

func TestBuildTokenStoreFallsBackToMemory(t *testing.T) {
	cfg := &appconfig.Config{SessionTTL: time.Hour}
	if _, ok := BuildTokenStore(nil, cfg, logging.Discard()).(*session.MemoryStore); !ok {
		t.Fatalf("expected memory store without redis")
	}

	mr := miniredis.RunT(t)
	cfg.RedisAddr = mr.Addr()
	client := BuildRedisClient(context.Background(), cfg, logging.Discard(), false)
	defer client.Close()
	if _, ok := BuildTokenStore(client, cfg, logging.Discard()).(*session.RedisStore); !ok {
		t.Fatalf("expected redis store when a client is available")
	}
}

func TestBuildPortalRequiresStore(t *testing.T) {
	if _, err := BuildPortal(&appconfig.Config{}, PortalDeps{}, logging.Discard()); err == nil {
		t.Fatalf("expected error without a token store")
	}
	if _, err := BuildPortal(nil, PortalDeps{Store: session.NewMemoryStore()}, logging.Discard()); err == nil {
		t.Fatalf("expected error without config")
	}
}
