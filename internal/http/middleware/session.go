package middleware

import (
	"net/http"
	"time"

	"github.com/wolfman30/smartqueue-portal/internal/session"
	"github.com/wolfman30/smartqueue-portal/pkg/logging"
)

// CookieConfig describes the browser session cookie.
type CookieConfig struct {
	Name   string
	Secure bool
	MaxAge time.Duration
}

// LoadSession resolves the browser session from its cookie, issuing a new
// one when absent, and hydrates it before any route renders.
func LoadSession(gate *session.Gate, cookie CookieConfig, logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	if cookie.Name == "" {
		cookie.Name = "sq_session"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sid := ""
			if c, err := r.Cookie(cookie.Name); err == nil && session.ValidID(c.Value) {
				sid = c.Value
			}
			if sid == "" {
				sid = session.NewID()
				http.SetCookie(w, &http.Cookie{
					Name:     cookie.Name,
					Value:    sid,
					Path:     "/",
					MaxAge:   int(cookie.MaxAge.Seconds()),
					HttpOnly: true,
					Secure:   cookie.Secure,
					SameSite: http.SameSiteLaxMode,
				})
			}

			sess := gate.Session(sid)
			if err := sess.Hydrate(r.Context()); err != nil {
				logger.Debug("session hydration abandoned", "session_id", sid, "error", err)
			}
			next.ServeHTTP(w, r.WithContext(session.WithSession(r.Context(), sess)))
		})
	}
}
