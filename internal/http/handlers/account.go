package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/wolfman30/smartqueue-portal/internal/mutation"
	"github.com/wolfman30/smartqueue-portal/internal/qmsapi"
	"github.com/wolfman30/smartqueue-portal/internal/querycache"
	"github.com/wolfman30/smartqueue-portal/internal/session"
	"github.com/wolfman30/smartqueue-portal/pkg/logging"
)

const (
	mutationProfile  = "update-profile"
	mutationPassword = "change-password"

	profileUpdated        = "Profile updated successfully!"
	profileFailed         = "Failed to update profile"
	passwordUpdated       = "Password updated successfully!"
	passwordFailed        = "Failed to update password"
	passwordFieldsMissing = "All fields are required"
	passwordMismatch      = "New passwords do not match"
	passwordWeak          = "Please choose a stronger password"
	requestPending        = "Your previous request is still being processed."

	PathPasswordSettings = "/password-settings"
)

// AccountHandler serves the personal dashboard and password settings.
type AccountHandler struct {
	renderer *Renderer
	cache    *querycache.Cache
	poller   *querycache.Poller
	runner   *mutation.Runner
	logger   *logging.Logger
}

func NewAccountHandler(renderer *Renderer, cache *querycache.Cache, poller *querycache.Poller, runner *mutation.Runner, logger *logging.Logger) *AccountHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AccountHandler{renderer: renderer, cache: cache, poller: poller, runner: runner, logger: logger}
}

type dashboardView struct {
	Profile      qmsapi.User
	Editing      bool
	Form         qmsapi.ProfileUpdate
	Errors       FieldErrors
	Pending      bool
	Recent       []qmsapi.MyAppointment
	RecentFailed bool
	ShowRecent   bool
}

func profileForm(u qmsapi.User) qmsapi.ProfileUpdate {
	return qmsapi.ProfileUpdate{
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Email:     u.Email,
		Phone:     u.Phone,
		Username:  u.Username,
	}
}

func (h *AccountHandler) dashboard(w http.ResponseWriter, r *http.Request, sess *session.Session, view dashboardView) (dashboardView, bool) {
	user, _ := sess.Identity()
	view.Profile = user
	view.Pending = h.runner.Pending(mutation.Key(sess.ID(), mutationProfile, ""))
	if user.Role != qmsapi.RoleCitizen {
		return view, true
	}
	view.ShowRecent = true
	res := loadMine(r.Context(), h.cache, h.poller, sess)
	if res.Failed() {
		if expired(w, r, res.Err) {
			return view, false
		}
		view.RecentFailed = true
	}
	recent := res.Value
	if len(recent) > recentAppointmentCount {
		recent = recent[:recentAppointmentCount]
	}
	view.Recent = recent
	return view, true
}

// Dashboard renders the profile card and recent appointments.
// GET /dashboard?edit=1
func (h *AccountHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	view := dashboardView{Editing: r.URL.Query().Get("edit") != ""}
	view, ok := h.dashboard(w, r, sess, view)
	if !ok {
		return
	}
	view.Form = profileForm(view.Profile)
	h.renderer.Render(w, r, http.StatusOK, "dashboard", "Dashboard", view)
}

// UpdateProfile handles POST /dashboard/profile
func (h *AccountHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	sess := session.FromContext(r.Context())
	form := qmsapi.ProfileUpdate{
		FirstName: formValue(r, "first_name"),
		LastName:  formValue(r, "last_name"),
		Email:     formValue(r, "email"),
		Phone:     formValue(r, "phone"),
		Username:  formValue(r, "username"),
	}

	errs := FieldErrors{}
	if form.Email == "" {
		errs.add("email", "Email is required")
	} else if !emailPattern.MatchString(form.Email) {
		errs.add("email", "Invalid email address")
	}
	if errs.Any() {
		h.rerenderProfile(w, r, sess, form, errs, http.StatusUnprocessableEntity)
		return
	}

	api := sess.API()
	key := mutation.Key(sess.ID(), mutationProfile, "")
	err := h.runner.Run(r.Context(), mutationProfile, key, nil, func(ctx context.Context) error {
		user, err := api.UpdateProfile(ctx, form)
		if err != nil {
			return err
		}
		sess.UpdateLocalIdentity(*user)
		return nil
	})
	switch {
	case err == nil:
		notify(r, session.FlashSuccess, profileUpdated)
		redirect(w, r, session.PathDashboard)
	case expired(w, r, err):
	case errors.Is(err, mutation.ErrPending):
		notify(r, session.FlashInfo, requestPending)
		h.rerenderProfile(w, r, sess, form, nil, http.StatusOK)
	default:
		notify(r, session.FlashError, qmsapi.UserMessage(err, profileFailed, qmsapi.PickMessage))
		h.rerenderProfile(w, r, sess, form, nil, http.StatusOK)
	}
}

func (h *AccountHandler) rerenderProfile(w http.ResponseWriter, r *http.Request, sess *session.Session, form qmsapi.ProfileUpdate, errs FieldErrors, status int) {
	view, ok := h.dashboard(w, r, sess, dashboardView{Editing: true, Form: form, Errors: errs})
	if !ok {
		return
	}
	h.renderer.Render(w, r, status, "dashboard", "Dashboard", view)
}

type passwordView struct {
	Strength PasswordStrength
	Checked  bool
	Pending  bool
}

// PasswordPage renders the password change form.
// GET /password-settings
func (h *AccountHandler) PasswordPage(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	h.renderer.Render(w, r, http.StatusOK, "password", "Password Settings", passwordView{
		Pending: h.runner.Pending(mutation.Key(sess.ID(), mutationPassword, "")),
	})
}

// validatePasswordChange returns the notice for the first failing rule, or
// "" when the change may be sent.
func validatePasswordChange(req qmsapi.PasswordChange) string {
	if req.OldPassword == "" || req.NewPassword1 == "" || req.NewPassword2 == "" {
		return passwordFieldsMissing
	}
	if req.NewPassword1 != req.NewPassword2 {
		return passwordMismatch
	}
	if !CheckPassword(req.NewPassword1).Strong() {
		return passwordWeak
	}
	return ""
}

// ChangePassword handles POST /password-settings
func (h *AccountHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	sess := session.FromContext(r.Context())
	req := qmsapi.PasswordChange{
		OldPassword:  r.FormValue("old_password"),
		NewPassword1: r.FormValue("new_password1"),
		NewPassword2: r.FormValue("new_password2"),
	}
	view := passwordView{Strength: CheckPassword(req.NewPassword1), Checked: req.NewPassword1 != ""}

	if msg := validatePasswordChange(req); msg != "" {
		notify(r, session.FlashError, msg)
		h.renderer.Render(w, r, http.StatusUnprocessableEntity, "password", "Password Settings", view)
		return
	}

	api := sess.API()
	key := mutation.Key(sess.ID(), mutationPassword, "")
	err := h.runner.Run(r.Context(), mutationPassword, key, nil, func(ctx context.Context) error {
		return api.ChangePassword(ctx, req)
	})
	switch {
	case err == nil:
		notify(r, session.FlashSuccess, passwordUpdated)
		redirect(w, r, PathPasswordSettings)
	case expired(w, r, err):
	case errors.Is(err, mutation.ErrPending):
		view.Pending = true
		notify(r, session.FlashInfo, requestPending)
		h.renderer.Render(w, r, http.StatusOK, "password", "Password Settings", view)
	default:
		notify(r, session.FlashError, qmsapi.UserMessage(err, passwordFailed, qmsapi.JoinNested(" "), qmsapi.PickMessage))
		h.renderer.Render(w, r, http.StatusOK, "password", "Password Settings", view)
	}
}
