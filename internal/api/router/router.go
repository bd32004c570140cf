package router

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wolfman30/smartqueue-portal/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/smartqueue-portal/internal/http/middleware"
	"github.com/wolfman30/smartqueue-portal/internal/qmsapi"
	"github.com/wolfman30/smartqueue-portal/internal/session"
	"github.com/wolfman30/smartqueue-portal/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger       *logging.Logger
	Gate         *session.Gate
	Cookie       httpmiddleware.CookieConfig
	LoginLimiter *httpmiddleware.RateLimiter

	Public        *handlers.PublicHandler
	Auth          *handlers.AuthHandler
	Booking       *handlers.BookingHandler
	Appointments  *handlers.AppointmentsHandler
	Account       *handlers.AccountHandler
	Admin         *handlers.AdminHandler
	AdminMessages *handlers.AdminMessagesHandler

	MetricsHandler http.Handler
	// ServiceName labels server spans. Empty disables request tracing.
	ServiceName string
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// Endpoints that never touch a browser session
	r.Get("/health", health)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}
	r.Handle("/static/*", handlers.Static())

	limit := func(next http.Handler) http.Handler { return next }
	if cfg.LoginLimiter != nil {
		limit = httpmiddleware.LimitPosts(cfg.LoginLimiter)
	}

	r.Group(func(pages chi.Router) {
		pages.Use(httpmiddleware.LoadSession(cfg.Gate, cfg.Cookie, cfg.Logger))

		pages.Get("/", cfg.Public.Home)
		pages.Get("/about", cfg.Public.About)
		pages.Get("/contact", cfg.Public.Contact)
		pages.With(limit).Post("/contact", cfg.Public.SubmitContact)

		pages.Get("/login", cfg.Auth.LoginPage)
		pages.With(limit).Post("/login", cfg.Auth.Login)
		pages.Get("/register", cfg.Auth.RegisterPage)
		pages.With(limit).Post("/register", cfg.Auth.Register)
		pages.Post("/logout", cfg.Auth.Logout)

		// Signed-in users
		pages.Group(func(authed chi.Router) {
			authed.Use(httpmiddleware.RequireAuth)

			authed.Get("/dashboard", cfg.Account.Dashboard)
			authed.Post("/dashboard/profile", cfg.Account.UpdateProfile)
			authed.Get("/password-settings", cfg.Account.PasswordPage)
			authed.Post("/password-settings", cfg.Account.ChangePassword)

			authed.Get("/book", cfg.Booking.Book)
			authed.Post("/book", cfg.Booking.Submit)
			authed.Get("/mine", cfg.Appointments.Mine)

			// Staff and admins
			authed.Route("/admin", func(admin chi.Router) {
				admin.Use(httpmiddleware.RequireRole(qmsapi.RoleStaff, qmsapi.RoleAdmin))
				admin.Get("/", cfg.Admin.Dashboard)
				admin.Post("/refresh", cfg.Admin.Refresh)
				admin.Post("/appointments/{id}/status", cfg.Admin.UpdateStatus)
				admin.Get("/messages", cfg.AdminMessages.List)
				admin.Post("/messages/{id}/toggle", cfg.AdminMessages.Toggle)
			})
		})
	})

	r.NotFound(cfg.Public.NotFound)

	if cfg.ServiceName == "" {
		return r
	}
	return otelhttp.NewHandler(r, cfg.ServiceName, otelhttp.WithFilter(traced))
}

// traced skips spans for probes and assets.
func traced(r *http.Request) bool {
	switch {
	case r.URL.Path == "/health", r.URL.Path == "/metrics":
		return false
	case strings.HasPrefix(r.URL.Path, "/static/"):
		return false
	}
	return true
}

func health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
