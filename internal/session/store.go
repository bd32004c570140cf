package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/smartqueue-portal/internal/qmsapi"
)

const (
	accessTokenField  = "accessToken"
	refreshTokenField = "refreshToken"
	maxFlashes        = 10
)

// Flash is a one-shot notification shown on the next rendered page.
type Flash struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

const (
	FlashSuccess = "success"
	FlashError   = "error"
	FlashInfo    = "info"
)

// TokenStore persists the two bearer tokens of a browser session plus its
// pending flash notices. Writes are synchronous.
type TokenStore interface {
	Load(ctx context.Context, sid string) (qmsapi.Tokens, error)
	SaveTokens(ctx context.Context, sid string, tokens qmsapi.Tokens) error
	SaveAccess(ctx context.Context, sid, access string) error
	Clear(ctx context.Context, sid string) error
	PushFlash(ctx context.Context, sid string, flash Flash) error
	PopFlashes(ctx context.Context, sid string) ([]Flash, error)
}

// TokenTTL derives how long tokens should be kept from the refresh token's
// exp claim. The signature is not verified; the backend owns that.
func TokenTTL(refresh string, now time.Time, fallback time.Duration) time.Duration {
	if refresh == "" {
		return fallback
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(refresh, &claims); err != nil || claims.ExpiresAt == nil {
		return fallback
	}
	ttl := claims.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return time.Second
	}
	return ttl
}

// RedisStore keeps tokens under sq:{sid}:accessToken and sq:{sid}:refreshToken.
type RedisStore struct {
	redis    *redis.Client
	tracer   trace.Tracer
	fallback time.Duration
	now      func() time.Time
}

// NewRedisStore wraps a redis client. fallbackTTL applies when the refresh
// token has no readable expiry.
func NewRedisStore(client *redis.Client, fallbackTTL time.Duration) *RedisStore {
	if client == nil {
		panic("session: redis client cannot be nil")
	}
	if fallbackTTL <= 0 {
		fallbackTTL = 7 * 24 * time.Hour
	}
	return &RedisStore{
		redis:    client,
		tracer:   otel.Tracer("smartqueue.internal.session.store"),
		fallback: fallbackTTL,
		now:      time.Now,
	}
}

func tokenKey(sid, field string) string {
	return fmt.Sprintf("sq:%s:%s", sid, field)
}

func flashKey(sid string) string {
	return fmt.Sprintf("sq:%s:flash", sid)
}

func (s *RedisStore) Load(ctx context.Context, sid string) (qmsapi.Tokens, error) {
	ctx, span := s.tracer.Start(ctx, "session.load_tokens")
	defer span.End()

	values, err := s.redis.MGet(ctx, tokenKey(sid, accessTokenField), tokenKey(sid, refreshTokenField)).Result()
	if err != nil {
		span.RecordError(err)
		return qmsapi.Tokens{}, fmt.Errorf("session: failed to load tokens: %w", err)
	}
	var tokens qmsapi.Tokens
	if v, ok := values[0].(string); ok {
		tokens.Access = v
	}
	if v, ok := values[1].(string); ok {
		tokens.Refresh = v
	}
	return tokens, nil
}

func (s *RedisStore) SaveTokens(ctx context.Context, sid string, tokens qmsapi.Tokens) error {
	ctx, span := s.tracer.Start(ctx, "session.save_tokens")
	defer span.End()

	ttl := TokenTTL(tokens.Refresh, s.now(), s.fallback)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, tokenKey(sid, accessTokenField), tokens.Access, ttl)
		pipe.Set(ctx, tokenKey(sid, refreshTokenField), tokens.Refresh, ttl)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("session: failed to persist tokens: %w", err)
	}
	return nil
}

func (s *RedisStore) SaveAccess(ctx context.Context, sid, access string) error {
	ctx, span := s.tracer.Start(ctx, "session.save_access")
	defer span.End()

	ttl, err := s.redis.TTL(ctx, tokenKey(sid, refreshTokenField)).Result()
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("session: failed to read token ttl: %w", err)
	}
	if ttl <= 0 {
		ttl = s.fallback
	}
	if err := s.redis.Set(ctx, tokenKey(sid, accessTokenField), access, ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("session: failed to persist access token: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, sid string) error {
	ctx, span := s.tracer.Start(ctx, "session.clear_tokens")
	defer span.End()

	if err := s.redis.Del(ctx, tokenKey(sid, accessTokenField), tokenKey(sid, refreshTokenField)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("session: failed to clear tokens: %w", err)
	}
	return nil
}

func (s *RedisStore) PushFlash(ctx context.Context, sid string, flash Flash) error {
	data, err := json.Marshal(flash)
	if err != nil {
		return fmt.Errorf("session: failed to marshal flash: %w", err)
	}
	key := flashKey(sid)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		pipe.LTrim(ctx, key, -maxFlashes, -1)
		pipe.Expire(ctx, key, time.Hour)
		return nil
	})
	if err != nil {
		return fmt.Errorf("session: failed to push flash: %w", err)
	}
	return nil
}

func (s *RedisStore) PopFlashes(ctx context.Context, sid string) ([]Flash, error) {
	key := flashKey(sid)
	var lrange *redis.StringSliceCmd
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		lrange = pipe.LRange(ctx, key, 0, -1)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("session: failed to pop flashes: %w", err)
	}
	raw, _ := lrange.Result()
	flashes := make([]Flash, 0, len(raw))
	for _, item := range raw {
		var f Flash
		if err := json.Unmarshal([]byte(item), &f); err != nil {
			continue
		}
		flashes = append(flashes, f)
	}
	return flashes, nil
}

// MemoryStore is a process-local TokenStore used when redis is not
// configured and in tests.
type MemoryStore struct {
	mu      sync.Mutex
	tokens  map[string]qmsapi.Tokens
	flashes map[string][]Flash
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tokens:  make(map[string]qmsapi.Tokens),
		flashes: make(map[string][]Flash),
	}
}

func (m *MemoryStore) Load(_ context.Context, sid string) (qmsapi.Tokens, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens[sid], nil
}

func (m *MemoryStore) SaveTokens(_ context.Context, sid string, tokens qmsapi.Tokens) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[sid] = tokens
	return nil
}

func (m *MemoryStore) SaveAccess(_ context.Context, sid, access string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tokens[sid]
	t.Access = access
	m.tokens[sid] = t
	return nil
}

func (m *MemoryStore) Clear(_ context.Context, sid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, sid)
	return nil
}

func (m *MemoryStore) PushFlash(_ context.Context, sid string, flash Flash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append(m.flashes[sid], flash)
	if len(list) > maxFlashes {
		list = list[len(list)-maxFlashes:]
	}
	m.flashes[sid] = list
	return nil
}

func (m *MemoryStore) PopFlashes(_ context.Context, sid string) ([]Flash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.flashes[sid]
	delete(m.flashes, sid)
	return list, nil
}
