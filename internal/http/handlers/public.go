package handlers

import (
	"net/http"

	"github.com/wolfman30/smartqueue-portal/internal/qmsapi"
	"github.com/wolfman30/smartqueue-portal/internal/session"
	"github.com/wolfman30/smartqueue-portal/pkg/logging"
)

const (
	contactSentMessage   = "Message sent successfully! We'll get back to you within 24 hours."
	contactFailedMessage = "Failed to send message. Please try again."
)

// PublicHandler serves the pages anyone can see.
type PublicHandler struct {
	api      *qmsapi.Client
	renderer *Renderer
	logger   *logging.Logger
}

func NewPublicHandler(api *qmsapi.Client, renderer *Renderer, logger *logging.Logger) *PublicHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &PublicHandler{api: api, renderer: renderer, logger: logger}
}

// Home renders the landing page.
// GET /
func (h *PublicHandler) Home(w http.ResponseWriter, r *http.Request) {
	h.renderer.Render(w, r, http.StatusOK, "home", "Smart Queue", nil)
}

// About renders the about page.
// GET /about
func (h *PublicHandler) About(w http.ResponseWriter, r *http.Request) {
	h.renderer.Render(w, r, http.StatusOK, "about", "About Us", nil)
}

type contactView struct {
	Form       qmsapi.ContactSubmission
	Errors     FieldErrors
	Categories []qmsapi.ContactCategory
}

// Contact renders the contact form.
// GET /contact
func (h *PublicHandler) Contact(w http.ResponseWriter, r *http.Request) {
	form := qmsapi.ContactSubmission{Category: qmsapi.CategoryGeneral}
	if sess := session.FromContext(r.Context()); sess != nil {
		if user, ok := sess.Identity(); ok {
			form.Name = user.FullName()
			form.Email = user.Email
			form.Phone = user.Phone
		}
	}
	h.renderContact(w, r, http.StatusOK, form, nil)
}

func (h *PublicHandler) renderContact(w http.ResponseWriter, r *http.Request, status int, form qmsapi.ContactSubmission, errs FieldErrors) {
	h.renderer.Render(w, r, status, "contact", "Contact Us", contactView{
		Form:       form,
		Errors:     errs,
		Categories: qmsapi.ContactCategories,
	})
}

// SubmitContact posts the contact form to the backend.
// POST /contact
func (h *PublicHandler) SubmitContact(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	form := qmsapi.ContactSubmission{
		Name:     formValue(r, "name"),
		Email:    formValue(r, "email"),
		Phone:    formValue(r, "phone"),
		Subject:  formValue(r, "subject"),
		Category: qmsapi.ContactCategory(formValue(r, "category")),
		Message:  formValue(r, "message"),
	}

	errs := FieldErrors{}
	if form.Name == "" {
		errs.add("name", "Name is required")
	}
	if form.Email == "" {
		errs.add("email", "Email is required")
	} else if !emailPattern.MatchString(form.Email) {
		errs.add("email", "Invalid email address")
	}
	if form.Subject == "" {
		errs.add("subject", "Subject is required")
	}
	if !form.Category.Valid() {
		errs.add("category", "Please choose a category")
	}
	if form.Message == "" {
		errs.add("message", "Message is required")
	}
	if errs.Any() {
		h.renderContact(w, r, http.StatusUnprocessableEntity, form, errs)
		return
	}

	if _, err := h.api.CreateContact(r.Context(), form); err != nil {
		h.logger.Warn("contact submission failed", "error", err)
		notify(r, session.FlashError, qmsapi.UserMessage(err, contactFailedMessage, qmsapi.PickMessage))
		h.renderContact(w, r, http.StatusOK, form, nil)
		return
	}
	notify(r, session.FlashSuccess, contactSentMessage)
	redirect(w, r, "/contact")
}

// NotFound sends unknown paths home.
func (h *PublicHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	redirect(w, r, "/")
}
