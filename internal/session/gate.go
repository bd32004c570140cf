package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/smartqueue-portal/internal/qmsapi"
	"github.com/wolfman30/smartqueue-portal/pkg/logging"
)

const (
	defaultCacheSize = 4096
	defaultIdleTTL   = 30 * time.Minute
)

// AuthError is a login or registration rejection with a user-facing
// message.
type AuthError struct {
	Message string
	Err     error
}

func (e *AuthError) Error() string { return e.Message }
func (e *AuthError) Unwrap() error { return e.Err }

// Gate hands out per-browser Session objects and caches their identity.
type Gate struct {
	store  TokenStore
	api    *qmsapi.Client
	logger *logging.Logger
	tracer trace.Tracer

	mu       sync.Mutex
	sessions *expirable.LRU[string, *Session]
}

// GateOptions tunes the identity cache.
type GateOptions struct {
	CacheSize int
	IdleTTL   time.Duration
	Logger    *logging.Logger
}

func NewGate(store TokenStore, api *qmsapi.Client, opts GateOptions) *Gate {
	if store == nil {
		panic("session: token store cannot be nil")
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultCacheSize
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = defaultIdleTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Gate{
		store:    store,
		api:      api,
		logger:   logger.Component("session"),
		tracer:   otel.Tracer("smartqueue.internal.session.gate"),
		sessions: expirable.NewLRU[string, *Session](opts.CacheSize, nil, opts.IdleTTL),
	}
}

// NewID returns a fresh opaque session identifier.
func NewID() string {
	return uuid.NewString()
}

// ValidID reports whether id looks like one we issued.
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// Session returns the session for id, creating an unhydrated one if needed.
func (g *Gate) Session(id string) *Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.sessions.Get(id); ok {
		return s
	}
	s := &Session{id: id, gate: g}
	g.sessions.Add(id, s)
	return s
}

// Forget drops the cached identity for id; the next request re-hydrates.
func (g *Gate) Forget(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions.Remove(id)
}

// Session is one browser's authentication state. It implements
// qmsapi.Credentials so backend calls refresh and clear through it.
type Session struct {
	id   string
	gate *Gate

	mu       sync.Mutex
	user     *qmsapi.User
	hydrated bool
	loading  chan struct{}
}

func (s *Session) ID() string { return s.id }

// Key implements qmsapi.Credentials.
func (s *Session) Key() string { return s.id }

func (s *Session) AccessToken(ctx context.Context) (string, error) {
	tokens, err := s.gate.store.Load(ctx, s.id)
	return tokens.Access, err
}

func (s *Session) RefreshToken(ctx context.Context) (string, error) {
	tokens, err := s.gate.store.Load(ctx, s.id)
	return tokens.Refresh, err
}

func (s *Session) StoreAccess(ctx context.Context, access string) error {
	return s.gate.store.SaveAccess(ctx, s.id, access)
}

// Clear removes both tokens and the cached identity.
func (s *Session) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.user = nil
	s.hydrated = true
	s.mu.Unlock()
	return s.gate.store.Clear(ctx, s.id)
}

// API returns a backend client authenticated as this session.
func (s *Session) API() *qmsapi.AuthClient {
	return s.gate.api.As(s)
}

// Hydrate resolves the identity from persisted tokens once. Concurrent
// callers wait for the in-flight attempt. Any failure leaves the session
// logged out with its tokens cleared.
func (s *Session) Hydrate(ctx context.Context) error {
	s.mu.Lock()
	if s.hydrated {
		s.mu.Unlock()
		return nil
	}
	if wait := s.loading; wait != nil {
		s.mu.Unlock()
		select {
		case <-wait:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	done := make(chan struct{})
	s.loading = done
	s.mu.Unlock()

	user := s.resolve(context.WithoutCancel(ctx))

	s.mu.Lock()
	if !s.hydrated {
		s.user = user
		s.hydrated = true
	}
	s.loading = nil
	s.mu.Unlock()
	close(done)
	return nil
}

func (s *Session) resolve(ctx context.Context) *qmsapi.User {
	ctx, span := s.gate.tracer.Start(ctx, "session.hydrate")
	defer span.End()

	tokens, err := s.gate.store.Load(ctx, s.id)
	if err != nil {
		span.RecordError(err)
		s.gate.logger.Warn("failed to load tokens", "session_id", s.id, "error", err)
		return nil
	}
	if tokens.Access == "" {
		return nil
	}
	user, err := s.API().Profile(ctx)
	if err != nil {
		span.RecordError(err)
		s.gate.logger.Info("session hydration failed, clearing tokens", "session_id", s.id, "error", err)
		if clearErr := s.gate.store.Clear(ctx, s.id); clearErr != nil {
			s.gate.logger.Error("failed to clear tokens", "session_id", s.id, "error", clearErr)
		}
		return nil
	}
	return user
}

// Loading is true while a hydration is in flight.
func (s *Session) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading != nil || !s.hydrated
}

// Identity returns a copy of the signed-in user.
func (s *Session) Identity() (qmsapi.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return qmsapi.User{}, false
	}
	return *s.user, true
}

func (s *Session) Authenticated() bool {
	_, ok := s.Identity()
	return ok
}

// HasRole reports whether the signed-in user holds one of roles.
func (s *Session) HasRole(roles ...qmsapi.Role) bool {
	user, ok := s.Identity()
	if !ok {
		return false
	}
	for _, r := range roles {
		if user.Role == r {
			return true
		}
	}
	return false
}

// UpdateLocalIdentity replaces the cached identity without a network call.
func (s *Session) UpdateLocalIdentity(user qmsapi.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = &user
	s.hydrated = true
}

// Login authenticates and returns the landing path for the user's role.
func (s *Session) Login(ctx context.Context, email, password string) (string, error) {
	resp, err := s.gate.api.Login(ctx, qmsapi.LoginRequest{Email: email, Password: password})
	if err != nil {
		return "", &AuthError{Message: qmsapi.UserMessage(err, "Login failed", qmsapi.PickDetail), Err: err}
	}
	return s.establish(ctx, resp)
}

// Register creates an account and signs it in. Field-level server messages
// are joined into one notice.
func (s *Session) Register(ctx context.Context, req qmsapi.RegisterRequest) (string, error) {
	resp, err := s.gate.api.Register(ctx, req)
	if err != nil {
		return "", &AuthError{Message: qmsapi.UserMessage(err, "Registration failed", qmsapi.JoinFields(", ")), Err: err}
	}
	return s.establish(ctx, resp)
}

func (s *Session) establish(ctx context.Context, resp *qmsapi.AuthResponse) (string, error) {
	if resp.Tokens.Access == "" {
		return "", &AuthError{Message: "Login failed", Err: errors.New("session: auth response without access token")}
	}
	if err := s.gate.store.SaveTokens(ctx, s.id, resp.Tokens); err != nil {
		return "", fmt.Errorf("session: persist tokens: %w", err)
	}
	s.UpdateLocalIdentity(resp.User)
	s.gate.logger.Info("user signed in", "session_id", s.id, "user_id", resp.User.ID, "role", string(resp.User.Role))
	return RouteForRole(resp.User.Role), nil
}

// Logout clears tokens and identity. It always lands on the login page.
func (s *Session) Logout(ctx context.Context) string {
	if err := s.Clear(ctx); err != nil {
		s.gate.logger.Error("failed to clear tokens on logout", "session_id", s.id, "error", err)
	}
	return PathLogin
}

// Notify queues a flash notice for the next rendered page.
func (s *Session) Notify(ctx context.Context, kind, message string) {
	if err := s.gate.store.PushFlash(ctx, s.id, Flash{Kind: kind, Message: message}); err != nil {
		s.gate.logger.Warn("failed to queue notice", "session_id", s.id, "error", err)
	}
}

// Flashes pops every pending notice.
func (s *Session) Flashes(ctx context.Context) []Flash {
	flashes, err := s.gate.store.PopFlashes(ctx, s.id)
	if err != nil {
		s.gate.logger.Warn("failed to read notices", "session_id", s.id, "error", err)
		return nil
	}
	return flashes
}
