package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/smartqueue-portal/internal/qmsapi"
	"github.com/wolfman30/smartqueue-portal/pkg/logging"
)

func newTestGate(t *testing.T, handler http.Handler) (*Gate, *MemoryStore) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	api := qmsapi.New(qmsapi.Options{BaseURL: ts.URL, HTTPClient: ts.Client(), Logger: logging.Discard()})
	store := NewMemoryStore()
	return NewGate(store, api, GateOptions{Logger: logging.Discard()}), store
}

func TestRouteForRole(t *testing.T) {
	cases := map[qmsapi.Role]string{
		qmsapi.RoleCitizen: "/dashboard",
		qmsapi.RoleStaff:   "/admin",
		qmsapi.RoleAdmin:   "/admin",
		qmsapi.Role("VIP"): "/dashboard",
		qmsapi.Role(""):    "/dashboard",
	}
	for role, want := range cases {
		if got := RouteForRole(role); got != want {
			t.Fatalf("RouteForRole(%q) = %s, want %s", role, got, want)
		}
	}
}

func TestSession_HydrateWithoutAccessTokenSkipsBackend(t *testing.T) {
	var calls atomic.Int32
	gate, store := newTestGate(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	require.NoError(t, store.SaveTokens(context.Background(), "sid", qmsapi.Tokens{Refresh: "r-only"}))

	sess := gate.Session("sid")
	assert.True(t, sess.Loading())
	require.NoError(t, sess.Hydrate(context.Background()))

	assert.False(t, sess.Loading())
	assert.False(t, sess.Authenticated())
	assert.Equal(t, int32(0), calls.Load())
}

func TestSession_HydrateLoadsProfile(t *testing.T) {
	gate, store := newTestGate(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/profile/" || r.Header.Get("Authorization") != "Bearer a1" {
			t.Errorf("unexpected request %s auth=%q", r.URL.Path, r.Header.Get("Authorization"))
		}
		_, _ = w.Write([]byte(`{"id":3,"email":"ana@example.lk","first_name":"Ana","role":"CITIZEN"}`))
	}))
	require.NoError(t, store.SaveTokens(context.Background(), "sid", qmsapi.Tokens{Access: "a1", Refresh: "r1"}))

	sess := gate.Session("sid")
	require.NoError(t, sess.Hydrate(context.Background()))

	user, ok := sess.Identity()
	require.True(t, ok)
	assert.Equal(t, "Ana", user.FullName())
	assert.True(t, sess.HasRole(qmsapi.RoleCitizen))
	assert.False(t, sess.HasRole(qmsapi.RoleStaff, qmsapi.RoleAdmin))
}

func TestSession_HydrateFailureClearsTokens(t *testing.T) {
	gate, store := newTestGate(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	ctx := context.Background()
	require.NoError(t, store.SaveTokens(ctx, "sid", qmsapi.Tokens{Access: "a1", Refresh: "r1"}))

	sess := gate.Session("sid")
	require.NoError(t, sess.Hydrate(ctx))

	assert.False(t, sess.Authenticated())
	tokens, _ := store.Load(ctx, "sid")
	assert.Equal(t, qmsapi.Tokens{}, tokens)
}

func TestSession_ConcurrentHydrateSharesOneFetch(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	gate, store := newTestGate(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		_, _ = w.Write([]byte(`{"id":3,"role":"STAFF"}`))
	}))
	require.NoError(t, store.SaveTokens(context.Background(), "sid", qmsapi.Tokens{Access: "a1"}))
	sess := gate.Session("sid")

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = sess.Hydrate(context.Background())
		}()
	}
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, sess.Loading())
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, sess.HasRole(qmsapi.RoleStaff))
}

func loginBackend(role string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/login/":
			_, _ = w.Write([]byte(`{"user":{"id":1,"email":"u@example.lk","role":"` + role + `"},"tokens":{"access":"a1","refresh":"r1"}}`))
		default:
			http.NotFound(w, r)
		}
	}
}

func TestSession_LoginRoutesByRole(t *testing.T) {
	for role, want := range map[string]string{"CITIZEN": "/dashboard", "STAFF": "/admin", "ADMIN": "/admin"} {
		gate, store := newTestGate(t, loginBackend(role))
		sess := gate.Session("sid-" + role)

		dest, err := sess.Login(context.Background(), "u@example.lk", "pw")
		require.NoError(t, err)
		assert.Equal(t, want, dest, role)
		assert.True(t, sess.Authenticated())

		tokens, _ := store.Load(context.Background(), "sid-"+role)
		assert.Equal(t, qmsapi.Tokens{Access: "a1", Refresh: "r1"}, tokens)
	}
}

func TestSession_LoginFailureMessages(t *testing.T) {
	gate, _ := newTestGate(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"No active account found with the given credentials"}`))
	}))
	sess := gate.Session("sid")

	_, err := sess.Login(context.Background(), "u@example.lk", "bad")
	require.Error(t, err)
	assert.Equal(t, "No active account found with the given credentials", err.Error())
	assert.False(t, sess.Authenticated())

	var authErr *AuthError
	assert.True(t, errors.As(err, &authErr))
}

func TestSession_LoginFallbackMessage(t *testing.T) {
	gate, _ := newTestGate(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	_, err := gate.Session("sid").Login(context.Background(), "u", "p")
	require.Error(t, err)
	assert.Equal(t, "Login failed", err.Error())
}

func TestSession_RegisterJoinsFieldErrors(t *testing.T) {
	gate, _ := newTestGate(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"password":["This password is too common."],"email":["user with this email already exists."]}`))
	}))

	_, err := gate.Session("sid").Register(context.Background(), qmsapi.RegisterRequest{Email: "u@example.lk"})
	require.Error(t, err)
	assert.Equal(t, "user with this email already exists., This password is too common.", err.Error())
}

func TestSession_RegisterFallbackMessage(t *testing.T) {
	gate, _ := newTestGate(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{}`))
	}))

	_, err := gate.Session("sid").Register(context.Background(), qmsapi.RegisterRequest{})
	require.Error(t, err)
	assert.Equal(t, "Registration failed", err.Error())
}

func TestSession_LogoutClearsEverything(t *testing.T) {
	gate, store := newTestGate(t, loginBackend("CITIZEN"))
	ctx := context.Background()
	sess := gate.Session("sid")
	_, err := sess.Login(ctx, "u@example.lk", "pw")
	require.NoError(t, err)

	assert.Equal(t, "/login", sess.Logout(ctx))
	assert.False(t, sess.Authenticated())
	tokens, _ := store.Load(ctx, "sid")
	assert.Equal(t, qmsapi.Tokens{}, tokens)
}

func TestSession_UpdateLocalIdentity(t *testing.T) {
	gate, _ := newTestGate(t, http.NotFoundHandler())
	sess := gate.Session("sid")

	sess.UpdateLocalIdentity(qmsapi.User{ID: 4, FirstName: "Nimal", LastName: "Perera", Role: qmsapi.RoleCitizen})

	user, ok := sess.Identity()
	require.True(t, ok)
	assert.Equal(t, "Nimal Perera", user.FullName())
	assert.False(t, sess.Loading())
}

func TestSession_ExpiredDuringCallLogsOut(t *testing.T) {
	gate, store := newTestGate(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	ctx := context.Background()
	require.NoError(t, store.SaveTokens(ctx, "sid", qmsapi.Tokens{Access: "a1", Refresh: "r1"}))
	sess := gate.Session("sid")
	sess.UpdateLocalIdentity(qmsapi.User{ID: 1, Role: qmsapi.RoleCitizen})

	_, err := sess.API().MyAppointments(ctx)
	require.ErrorIs(t, err, qmsapi.ErrSessionExpired)
	assert.False(t, sess.Authenticated())
	tokens, _ := store.Load(ctx, "sid")
	assert.Equal(t, qmsapi.Tokens{}, tokens)
}

func TestGate_SessionIsStablePerID(t *testing.T) {
	gate, _ := newTestGate(t, http.NotFoundHandler())
	a := gate.Session("sid")
	assert.Same(t, a, gate.Session("sid"))
	gate.Forget("sid")
	assert.NotSame(t, a, gate.Session("sid"))

	assert.True(t, ValidID(NewID()))
	assert.False(t, ValidID("../etc"))
}

func TestSession_Flashes(t *testing.T) {
	gate, _ := newTestGate(t, http.NotFoundHandler())
	sess := gate.Session("sid")
	ctx := context.Background()

	sess.Notify(ctx, FlashSuccess, "Profile updated successfully!")
	assert.Equal(t, []Flash{{Kind: FlashSuccess, Message: "Profile updated successfully!"}}, sess.Flashes(ctx))
	assert.Empty(t, sess.Flashes(ctx))
}
