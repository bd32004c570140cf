package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/wolfman30/smartqueue-portal/internal/api/router"
	"github.com/wolfman30/smartqueue-portal/internal/booking"
	appconfig "github.com/wolfman30/smartqueue-portal/internal/config"
	"github.com/wolfman30/smartqueue-portal/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/smartqueue-portal/internal/http/middleware"
	"github.com/wolfman30/smartqueue-portal/internal/mutation"
	"github.com/wolfman30/smartqueue-portal/internal/observability/metrics"
	"github.com/wolfman30/smartqueue-portal/internal/qmsapi"
	"github.com/wolfman30/smartqueue-portal/internal/querycache"
	"github.com/wolfman30/smartqueue-portal/internal/session"
	"github.com/wolfman30/smartqueue-portal/pkg/logging"
)

// PortalDeps are the pieces BuildPortal cannot construct itself.
type PortalDeps struct {
	Store          session.TokenStore
	Metrics        *metrics.PortalMetrics
	MetricsHandler http.Handler
	// HTTPClient overrides the backend client transport.
	HTTPClient *http.Client
	// ServiceName enables request tracing when set.
	ServiceName string
	Now         func() time.Time
}

// Portal is the wired web application.
type Portal struct {
	Handler http.Handler

	poller *querycache.Poller
	cancel context.CancelFunc
}

// Close stops background polls and limiter sweeps.
func (p *Portal) Close() {
	p.cancel()
	p.poller.Close()
}

// BuildPortal wires the backend client, session gate, caches and handlers
// into one HTTP handler.
func BuildPortal(cfg *appconfig.Config, deps PortalDeps, logger *logging.Logger) (*Portal, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("bootstrap: token store is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	loc := cfg.Location()

	api := qmsapi.New(qmsapi.Options{
		BaseURL:    cfg.APIBaseURL,
		Timeout:    cfg.APITimeout,
		HTTPClient: deps.HTTPClient,
		Logger:     logger,
		Metrics:    deps.Metrics,
	})
	gate := session.NewGate(deps.Store, api, session.GateOptions{
		CacheSize: cfg.CacheSize,
		IdleTTL:   cfg.CacheTTL,
		Logger:    logger,
	})

	cache := querycache.New(querycache.Options{
		Size:     cfg.CacheSize,
		TTL:      cfg.CacheTTL,
		FreshFor: querycache.IntervalQueueStatus,
		Now:      deps.Now,
	})
	poller := querycache.NewPoller(cache, querycache.PollerOptions{
		IdleTimeout:  cfg.PollIdleTimeout,
		FetchTimeout: cfg.APITimeout,
		Logger:       logger,
		Metrics:      deps.Metrics,
		Now:          deps.Now,
	})
	runner := mutation.NewRunner(cache, logger, deps.Metrics)
	fetchers := booking.NewFetcherRegistry(cfg.CacheSize, cfg.CacheTTL, booking.FetcherOptions{
		Location: loc,
		Now:      deps.Now,
		Logger:   logger.Component("slots"),
		Metrics:  deps.Metrics,
	})
	assembler := booking.NewAssembler(cache, logger)

	renderer, err := handlers.NewRenderer(loc, cfg.MediaBaseURL, logger)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	limiter := httpmiddleware.NewRateLimiter(cfg.LoginRatePerSec, cfg.LoginRateBurst)
	go limiter.Run(ctx)

	handler := router.New(&router.Config{
		Logger: logger,
		Gate:   gate,
		Cookie: httpmiddleware.CookieConfig{
			Name:   cfg.SessionCookieName,
			Secure: cfg.IsProduction(),
			MaxAge: cfg.SessionTTL,
		},
		LoginLimiter:   limiter,
		Public:         handlers.NewPublicHandler(api, renderer, logger),
		Auth:           handlers.NewAuthHandler(renderer, cache, poller, fetchers, logger),
		Booking:        handlers.NewBookingHandler(handlers.BookingOptions{Renderer: renderer, Cache: cache, Fetchers: fetchers, Assembler: assembler, Runner: runner, Location: loc, Now: deps.Now, Logger: logger}),
		Appointments:   handlers.NewAppointmentsHandler(renderer, cache, poller, logger),
		Account:        handlers.NewAccountHandler(renderer, cache, poller, runner, logger),
		Admin:          handlers.NewAdminHandler(renderer, cache, poller, runner, logger),
		AdminMessages:  handlers.NewAdminMessagesHandler(renderer, cache, runner, logger),
		MetricsHandler: deps.MetricsHandler,
		ServiceName:    deps.ServiceName,
	})

	return &Portal{Handler: handler, poller: poller, cancel: cancel}, nil
}
