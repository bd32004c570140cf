package qmsapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/wolfman30/smartqueue-portal/internal/observability/metrics"
	"github.com/wolfman30/smartqueue-portal/pkg/logging"
)

const (
	defaultBaseURL = "http://localhost:8000/api"
	defaultTimeout = 15 * time.Second
)

// Credentials is the per-session token holder the client reads bearer
// tokens from and writes renewed access tokens to.
type Credentials interface {
	// Key identifies the session; concurrent refreshes with the same key
	// share one backend call.
	Key() string
	AccessToken(ctx context.Context) (string, error)
	RefreshToken(ctx context.Context) (string, error)
	StoreAccess(ctx context.Context, access string) error
	Clear(ctx context.Context) error
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *logging.Logger
	Metrics    *metrics.PortalMetrics
	Tracer     trace.Tracer
}

// Client talks JSON to the queue-management API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *logging.Logger
	metrics    *metrics.PortalMetrics
	tracer     trace.Tracer
	refreshes  singleflight.Group
}

// New constructs a Client. The default transport is instrumented with
// otelhttp.
func New(opts Options) *Client {
	baseURL := strings.TrimSpace(opts.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer("smartqueue.internal.qmsapi")
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		logger:     logger.Component("qmsapi"),
		metrics:    opts.Metrics,
		tracer:     tracer,
	}
}

// As binds the client to one session's credentials.
func (c *Client) As(creds Credentials) *AuthClient {
	return &AuthClient{client: c, creds: creds}
}

// AuthClient issues bearer-authenticated calls for one session.
type AuthClient struct {
	client *Client
	creds  Credentials
}

type call struct {
	name   string
	method string
	path   string
	body   interface{}
	out    interface{}
}

// do runs an authenticated call. A 401 triggers one refresh and one retry;
// a failed refresh or a second 401 clears the session.
func (a *AuthClient) do(ctx context.Context, c call) error {
	access, err := a.creds.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("load access token: %w", err)
	}

	err = a.client.doJSON(ctx, c, access)
	if !isUnauthorized(err) {
		return err
	}

	renewed, refreshErr := a.client.refresh(ctx, a.creds, access)
	if refreshErr != nil {
		a.client.logger.Warn("token refresh failed", "endpoint", c.name, "error", refreshErr)
		a.expire(ctx)
		return fmt.Errorf("%s: %w", c.name, ErrSessionExpired)
	}

	err = a.client.doJSON(ctx, c, renewed)
	if isUnauthorized(err) {
		a.client.logger.Warn("retry rejected after refresh", "endpoint", c.name)
		a.expire(ctx)
		return fmt.Errorf("%s: %w", c.name, ErrSessionExpired)
	}
	return err
}

func (a *AuthClient) expire(ctx context.Context) {
	if err := a.creds.Clear(context.WithoutCancel(ctx)); err != nil {
		a.client.logger.Error("failed to clear expired session", "error", err)
	}
}

// refresh exchanges the refresh token for a new access token. Callers that
// raced on the same stale token share the first caller's result.
func (c *Client) refresh(ctx context.Context, creds Credentials, stale string) (string, error) {
	result, err, _ := c.refreshes.Do(creds.Key(), func() (interface{}, error) {
		ctx := context.WithoutCancel(ctx)
		if current, err := creds.AccessToken(ctx); err == nil && current != "" && current != stale {
			return current, nil
		}
		refreshToken, err := creds.RefreshToken(ctx)
		if err != nil {
			return "", fmt.Errorf("load refresh token: %w", err)
		}
		if refreshToken == "" {
			c.metrics.ObserveRefresh("missing")
			return "", errors.New("no refresh token")
		}
		access, err := c.RefreshAccess(ctx, refreshToken)
		if err != nil {
			c.metrics.ObserveRefresh("failure")
			return "", err
		}
		if err := creds.StoreAccess(ctx, access); err != nil {
			c.metrics.ObserveRefresh("failure")
			return "", fmt.Errorf("store access token: %w", err)
		}
		c.metrics.ObserveRefresh("success")
		return access, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// RefreshAccess posts a refresh token and returns the new access token.
func (c *Client) RefreshAccess(ctx context.Context, refreshToken string) (string, error) {
	var resp struct {
		Access string `json:"access"`
	}
	err := c.doJSON(ctx, call{
		name:   "auth_token_refresh",
		method: http.MethodPost,
		path:   "/auth/token/refresh/",
		body:   map[string]string{"refresh": refreshToken},
		out:    &resp,
	}, "")
	if err != nil {
		return "", fmt.Errorf("refresh token: %w", err)
	}
	if resp.Access == "" {
		return "", errors.New("refresh token: empty access token")
	}
	return resp.Access, nil
}

func (c *Client) doJSON(ctx context.Context, cl call, bearer string) (err error) {
	ctx, span := c.tracer.Start(ctx, "qmsapi."+cl.name)
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", cl.method),
		attribute.String("qmsapi.path", cl.path),
	)

	start := time.Now()
	status := 0
	defer func() {
		c.metrics.ObserveBackend(cl.name, status, time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
		}
	}()

	var bodyReader io.Reader
	if cl.body != nil {
		payload, err := json.Marshal(cl.body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, cl.method, c.baseURL+cl.path, bodyReader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if cl.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()
	status = resp.StatusCode
	span.SetAttributes(attribute.Int("http.status_code", status))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Path: cl.path, Body: respBody}
		if resp.StatusCode >= 500 {
			c.logger.Warn("backend non-2xx response", "status", resp.StatusCode, "path", cl.path)
		} else {
			c.logger.Debug("backend rejected request", "status", resp.StatusCode, "path", cl.path)
		}
		return apiErr
	}

	if len(respBody) == 0 || cl.out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, cl.out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func isUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}
