package qmsapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/smartqueue-portal/pkg/logging"
)

type fakeCreds struct {
	mu      sync.Mutex
	access  string
	refresh string
	cleared bool
}

func (f *fakeCreds) Key() string { return "sid-1" }

func (f *fakeCreds) AccessToken(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.access, nil
}

func (f *fakeCreds) RefreshToken(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refresh, nil
}

func (f *fakeCreds) StoreAccess(_ context.Context, access string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.access = access
	return nil
}

func (f *fakeCreds) Clear(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.access, f.refresh, f.cleared = "", "", true
	return nil
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return New(Options{BaseURL: ts.URL, HTTPClient: ts.Client(), Logger: logging.Discard()})
}

func TestClient_Login_Success(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/auth/login/" {
			t.Fatalf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "" {
			t.Fatalf("login must not carry a bearer token")
		}
		var body LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Email != "ana@example.lk" || body.Password != "pw" {
			t.Fatalf("body = %+v", body)
		}
		_, _ = w.Write([]byte(`{"user":{"id":7,"email":"ana@example.lk","role":"STAFF"},"tokens":{"access":"a1","refresh":"r1"}}`))
	}))

	resp, err := client.Login(context.Background(), LoginRequest{Email: "ana@example.lk", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, RoleStaff, resp.User.Role)
	assert.Equal(t, "a1", resp.Tokens.Access)
	assert.Equal(t, "r1", resp.Tokens.Refresh)
}

func TestClient_Login_RejectedCarriesDetail(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"detail":"Invalid credentials"}`))
	}))

	_, err := client.Login(context.Background(), LoginRequest{Email: "x", Password: "y"})
	require.Error(t, err)
	assert.Equal(t, "Invalid credentials", UserMessage(err, "Login failed", PickDetail))
}

func TestAuthClient_AvailableSlots_Query(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/appointments/available-slots/" {
			t.Fatalf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("date"); got != "2024-06-10" {
			t.Fatalf("date = %s", got)
		}
		if got := r.URL.Query().Get("service_id"); got != "2" {
			t.Fatalf("service_id = %s", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer a1" {
			t.Fatalf("Authorization = %q", got)
		}
		_, _ = w.Write([]byte(`[{"id":5,"datetime":"2024-06-10T09:00:00","current_bookings":1,"max_capacity":3}]`))
	}))

	creds := &fakeCreds{access: "a1", refresh: "r1"}
	slots, err := client.As(creds).AvailableSlots(context.Background(), 2, time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, int64(5), slots[0].ID)
	assert.Equal(t, 2, slots[0].Remaining())
}

func TestAuthClient_MyAppointments_PaginatedEnvelope(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"count":1,"results":[{"id":"u-1","token_code":"A1B2C3","service_name":"Passport","status":"SCHEDULED"}]}`))
	}))

	appts, err := client.As(&fakeCreds{access: "a1"}).MyAppointments(context.Background())
	require.NoError(t, err)
	require.Len(t, appts, 1)
	assert.Equal(t, "A1B2C3", appts[0].TokenCode)
	assert.Equal(t, StatusScheduled, appts[0].Status)
}

// refreshingBackend rejects every token except fresh, and counts refreshes.
type refreshingBackend struct {
	fresh          string
	refreshStatus  int
	refreshCalls   atomic.Int32
	profileCalls   atomic.Int32
	rejectAlways   bool
	seenAuthHeader []string
	mu             sync.Mutex
}

func (b *refreshingBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/auth/token/refresh/":
		b.refreshCalls.Add(1)
		if b.refreshStatus != http.StatusOK {
			w.WriteHeader(b.refreshStatus)
			_, _ = w.Write([]byte(`{"detail":"Token is invalid or expired"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access":"` + b.fresh + `"}`))
	case "/auth/profile/":
		b.profileCalls.Add(1)
		auth := r.Header.Get("Authorization")
		b.mu.Lock()
		b.seenAuthHeader = append(b.seenAuthHeader, auth)
		b.mu.Unlock()
		if b.rejectAlways || auth != "Bearer "+b.fresh {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"Given token not valid"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":1,"email":"ana@example.lk","role":"CITIZEN"}`))
	default:
		http.NotFound(w, r)
	}
}

func TestAuthClient_RefreshesOnceAndRetries(t *testing.T) {
	backend := &refreshingBackend{fresh: "a2", refreshStatus: http.StatusOK}
	client := newTestClient(t, backend)
	creds := &fakeCreds{access: "a1", refresh: "r1"}

	user, err := client.As(creds).Profile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RoleCitizen, user.Role)
	assert.Equal(t, int32(1), backend.refreshCalls.Load())
	assert.Equal(t, int32(2), backend.profileCalls.Load())
	assert.Equal(t, []string{"Bearer a1", "Bearer a2"}, backend.seenAuthHeader)
	assert.Equal(t, "a2", creds.access)
	assert.False(t, creds.cleared)
}

func TestAuthClient_RefreshFailureExpiresSession(t *testing.T) {
	backend := &refreshingBackend{fresh: "a2", refreshStatus: http.StatusUnauthorized}
	client := newTestClient(t, backend)
	creds := &fakeCreds{access: "a1", refresh: "r1"}

	_, err := client.As(creds).Profile(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSessionExpired))
	assert.Equal(t, int32(1), backend.refreshCalls.Load())
	assert.Equal(t, int32(1), backend.profileCalls.Load(), "original call must not be retried")
	assert.True(t, creds.cleared)
	assert.Empty(t, creds.access)
	assert.Empty(t, creds.refresh)
}

func TestAuthClient_SecondUnauthorizedExpiresSession(t *testing.T) {
	backend := &refreshingBackend{fresh: "a2", refreshStatus: http.StatusOK, rejectAlways: true}
	client := newTestClient(t, backend)
	creds := &fakeCreds{access: "a1", refresh: "r1"}

	_, err := client.As(creds).Profile(context.Background())
	require.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, int32(1), backend.refreshCalls.Load())
	assert.Equal(t, int32(2), backend.profileCalls.Load())
	assert.True(t, creds.cleared)
}

func TestAuthClient_MissingRefreshTokenExpiresWithoutCall(t *testing.T) {
	backend := &refreshingBackend{fresh: "a2", refreshStatus: http.StatusOK}
	client := newTestClient(t, backend)
	creds := &fakeCreds{access: "a1"}

	_, err := client.As(creds).Profile(context.Background())
	require.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, int32(0), backend.refreshCalls.Load())
	assert.True(t, creds.cleared)
}

func TestAuthClient_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	backend := &refreshingBackend{fresh: "a2", refreshStatus: http.StatusOK}
	client := newTestClient(t, backend)
	creds := &fakeCreds{access: "a1", refresh: "r1"}
	auth := client.As(creds)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := auth.Profile(context.Background())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), backend.refreshCalls.Load())
}

func TestAuthClient_UpdateStatusErrorText(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/appointments/u-9/status/" {
			t.Fatalf("unexpected %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"Invalid status"}`))
	}))

	_, err := client.As(&fakeCreds{access: "a1"}).UpdateStatus(context.Background(), "u-9", Status("BOGUS"))
	require.Error(t, err)
	assert.Equal(t, "Invalid status", UserMessage(err, "Failed to update status", PickError))
}

func TestAuthClient_ToggleContactNotFound(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail":"Message not found"}`))
	}))

	_, err := client.As(&fakeCreds{access: "a1"}).ToggleContact(context.Background(), 42)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestAPIError_FieldMessages(t *testing.T) {
	apiErr := &APIError{Status: 400, Body: []byte(`{"username":["A user with that username already exists."],"email":["Enter a valid email address.","Too long."],"code":3}`)}

	got := apiErr.FieldMessages()
	want := []string{"Enter a valid email address.", "Too long.", "A user with that username already exists."}
	assert.Equal(t, want, got)
	assert.Equal(t, "Enter a valid email address., Too long., A user with that username already exists.",
		UserMessage(apiErr, "Registration failed", JoinFields(", ")))
}

func TestAPIError_NestedErrors(t *testing.T) {
	apiErr := &APIError{Status: 400, Body: []byte(`{"errors":{"old_password":["Wrong password."],"new_password2":"Mismatch."}}`)}
	assert.Equal(t, "Mismatch. Wrong password.", UserMessage(apiErr, "Failed to update password", JoinNested(" ")))
}

func TestUserMessage_Fallbacks(t *testing.T) {
	assert.Equal(t, "fallback", UserMessage(errors.New("dial tcp: refused"), "fallback", PickDetail))
	assert.Equal(t, "fallback", UserMessage(&APIError{Status: 500, Body: []byte("<html>")}, "fallback", PickDetail, PickMessage))
	assert.Equal(t, "Slot full", UserMessage(&APIError{Status: 400, Body: []byte(`{"message":"Slot full"}`)}, "fallback", PickDetail, PickMessage))
}

func TestParseDateTime(t *testing.T) {
	loc := time.FixedZone("LKT", 5*3600+1800)
	naive, err := ParseDateTime("2024-06-10T09:00:00", loc)
	require.NoError(t, err)
	assert.Equal(t, loc, naive.Location())
	assert.Equal(t, 9, naive.Hour())

	zoned, err := ParseDateTime("2024-06-10T09:00:00Z", loc)
	require.NoError(t, err)
	assert.True(t, zoned.Equal(time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)))

	_, err = ParseDateTime("tomorrow", loc)
	assert.Error(t, err)
}
