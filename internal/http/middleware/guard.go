package middleware

import (
	"net/http"

	"github.com/wolfman30/smartqueue-portal/internal/qmsapi"
	"github.com/wolfman30/smartqueue-portal/internal/session"
)

// Decision is what a guarded route does for the current session.
type Decision int

const (
	// DecisionWait renders nothing until the session finishes loading.
	DecisionWait Decision = iota
	DecisionRender
	DecisionRedirect
)

// Decide maps the session state to a guard decision.
func Decide(sess *session.Session) Decision {
	if sess == nil {
		return DecisionRedirect
	}
	if sess.Loading() {
		return DecisionWait
	}
	if sess.Authenticated() {
		return DecisionRender
	}
	return DecisionRedirect
}

// Redirect answers with 303 so the browser follows with a GET.
func Redirect(w http.ResponseWriter, r *http.Request, path string) {
	http.Redirect(w, r, path, http.StatusSeeOther)
}

// RequireAuth renders the route for signed-in sessions and sends everyone
// else to the login page.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := session.FromContext(r.Context())
		decision := Decide(sess)
		if decision == DecisionWait {
			if err := sess.Hydrate(r.Context()); err != nil {
				return
			}
			decision = Decide(sess)
		}
		switch decision {
		case DecisionRender:
			next.ServeHTTP(w, r)
		case DecisionRedirect:
			Redirect(w, r, session.PathLogin)
		}
	})
}

// RequireRole lets through signed-in users holding one of roles and sends
// other signed-in users home. Mount after RequireAuth.
func RequireRole(roles ...qmsapi.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := session.FromContext(r.Context())
			if sess == nil || !sess.Authenticated() {
				Redirect(w, r, session.PathLogin)
				return
			}
			if !sess.HasRole(roles...) {
				Redirect(w, r, "/")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
