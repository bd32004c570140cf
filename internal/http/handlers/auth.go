package handlers

import (
	"errors"
	"net/http"

	"github.com/wolfman30/smartqueue-portal/internal/booking"
	"github.com/wolfman30/smartqueue-portal/internal/qmsapi"
	"github.com/wolfman30/smartqueue-portal/internal/querycache"
	"github.com/wolfman30/smartqueue-portal/internal/session"
	"github.com/wolfman30/smartqueue-portal/pkg/logging"
)

const (
	welcomeMessage    = "Welcome back!"
	registeredMessage = "Account created successfully!"
)

// AuthHandler serves sign in, registration and sign out.
type AuthHandler struct {
	renderer *Renderer
	cache    *querycache.Cache
	poller   *querycache.Poller
	fetchers *booking.FetcherRegistry
	logger   *logging.Logger
}

func NewAuthHandler(renderer *Renderer, cache *querycache.Cache, poller *querycache.Poller, fetchers *booking.FetcherRegistry, logger *logging.Logger) *AuthHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AuthHandler{renderer: renderer, cache: cache, poller: poller, fetchers: fetchers, logger: logger}
}

type loginView struct {
	Email  string
	Errors FieldErrors
}

// LoginPage renders the sign-in form. Signed-in users go to their landing
// page instead.
// GET /login
func (h *AuthHandler) LoginPage(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	if user, ok := sess.Identity(); ok {
		redirect(w, r, session.RouteForRole(user.Role))
		return
	}
	h.renderer.Render(w, r, http.StatusOK, "login", "Sign In", loginView{})
}

// Login handles POST /login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	email := formValue(r, "email")
	password := r.FormValue("password")

	errs := FieldErrors{}
	if email == "" {
		errs.add("email", "Email is required")
	} else if !emailPattern.MatchString(email) {
		errs.add("email", "Invalid email address")
	}
	if password == "" {
		errs.add("password", "Password is required")
	}
	if errs.Any() {
		h.renderer.Render(w, r, http.StatusUnprocessableEntity, "login", "Sign In", loginView{Email: email, Errors: errs})
		return
	}

	sess := session.FromContext(r.Context())
	h.resetSession(sess.ID())
	dest, err := sess.Login(r.Context(), email, password)
	if err != nil {
		h.authFailed(w, r, "login", err, loginView{Email: email})
		return
	}
	sess.Notify(r.Context(), session.FlashSuccess, welcomeMessage)
	redirect(w, r, dest)
}

type registerView struct {
	Form   qmsapi.RegisterRequest
	Errors FieldErrors
}

// RegisterPage renders the sign-up form.
// GET /register
func (h *AuthHandler) RegisterPage(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	if user, ok := sess.Identity(); ok {
		redirect(w, r, session.RouteForRole(user.Role))
		return
	}
	h.renderer.Render(w, r, http.StatusOK, "register", "Create Account", registerView{})
}

// Register handles POST /register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	req := qmsapi.RegisterRequest{
		FirstName:       formValue(r, "first_name"),
		LastName:        formValue(r, "last_name"),
		Email:           formValue(r, "email"),
		Username:        formValue(r, "username"),
		Phone:           formValue(r, "phone"),
		Password:        r.FormValue("password"),
		PasswordConfirm: r.FormValue("password_confirm"),
	}

	errs := validateRegistration(req)
	// Passwords are never echoed back into the form.
	view := registerView{Form: req}
	view.Form.Password, view.Form.PasswordConfirm = "", ""
	if errs.Any() {
		view.Errors = errs
		h.renderer.Render(w, r, http.StatusUnprocessableEntity, "register", "Create Account", view)
		return
	}

	sess := session.FromContext(r.Context())
	h.resetSession(sess.ID())
	dest, err := sess.Register(r.Context(), req)
	if err != nil {
		h.authFailed(w, r, "register", err, view)
		return
	}
	sess.Notify(r.Context(), session.FlashSuccess, registeredMessage)
	redirect(w, r, dest)
}

func validateRegistration(req qmsapi.RegisterRequest) FieldErrors {
	errs := FieldErrors{}
	if req.FirstName == "" {
		errs.add("first_name", "First name is required")
	}
	if req.LastName == "" {
		errs.add("last_name", "Last name is required")
	}
	if req.Email == "" {
		errs.add("email", "Email is required")
	} else if !emailPattern.MatchString(req.Email) {
		errs.add("email", "Invalid email address")
	}
	if req.Username == "" {
		errs.add("username", "Username is required")
	} else if len(req.Username) < 3 {
		errs.add("username", "Username must be at least 3 characters")
	}
	if req.Password == "" {
		errs.add("password", "Password is required")
	} else if len(req.Password) < 8 {
		errs.add("password", "Password must be at least 8 characters")
	}
	if req.PasswordConfirm != req.Password {
		errs.add("password_confirm", "Passwords do not match")
	}
	return errs
}

func (h *AuthHandler) authFailed(w http.ResponseWriter, r *http.Request, page string, err error, data any) {
	var authErr *session.AuthError
	if !errors.As(err, &authErr) {
		h.logger.Error("auth request failed", "page", page, "error", err)
		notify(r, session.FlashError, "Something went wrong. Please try again.")
		h.renderer.Render(w, r, http.StatusInternalServerError, page, pageTitle(page), data)
		return
	}
	notify(r, session.FlashError, authErr.Message)
	h.renderer.Render(w, r, http.StatusOK, page, pageTitle(page), data)
}

func pageTitle(page string) string {
	if page == "register" {
		return "Create Account"
	}
	return "Sign In"
}

// Logout handles POST /logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	h.resetSession(sess.ID())
	redirect(w, r, sess.Logout(r.Context()))
}

// resetSession drops per-session view state so nothing leaks across users
// of the same browser.
func (h *AuthHandler) resetSession(sid string) {
	if h.poller != nil {
		h.poller.StopPrefix(querycache.SessionPrefix(sid))
	}
	if h.cache != nil {
		h.cache.Remove(querycache.SessionPrefix(sid))
	}
	if h.fetchers != nil {
		h.fetchers.Drop(sid)
	}
}
