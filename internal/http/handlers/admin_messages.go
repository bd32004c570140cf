package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/smartqueue-portal/internal/mutation"
	"github.com/wolfman30/smartqueue-portal/internal/qmsapi"
	"github.com/wolfman30/smartqueue-portal/internal/querycache"
	"github.com/wolfman30/smartqueue-portal/internal/session"
	"github.com/wolfman30/smartqueue-portal/pkg/logging"
)

const (
	mutationToggleContact = "toggle-contact"

	PathAdminMessages = "/admin/messages"

	messagesLoadFailed   = "Failed to load messages"
	messageToggleFailed  = "Failed to update message status"
	messageResolved      = "Message marked as resolved"
	messageMarkedPending = "Message marked as pending"
)

// Message list filters.
const (
	FilterAll      = "all"
	FilterResolved = "resolved"
	FilterPending  = "pending"
)

// AdminMessagesHandler serves the contact message inbox.
type AdminMessagesHandler struct {
	renderer *Renderer
	cache    *querycache.Cache
	runner   *mutation.Runner
	logger   *logging.Logger
}

func NewAdminMessagesHandler(renderer *Renderer, cache *querycache.Cache, runner *mutation.Runner, logger *logging.Logger) *AdminMessagesHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminMessagesHandler{renderer: renderer, cache: cache, runner: runner, logger: logger}
}

type messagesView struct {
	Messages []qmsapi.ContactSubmission
	Filter   string
	Query    string
	Total    int
	Resolved int
	Pending  int
	Busy     map[int64]bool
	Failed   bool
	Stale    bool
}

// ReturnTo rebuilds the list URL with the current filter and search.
func (v messagesView) ReturnTo() string {
	return messagesURL(v.Filter, v.Query)
}

func messagesURL(filter, query string) string {
	q := url.Values{}
	if filter != "" && filter != FilterAll {
		q.Set("filter", filter)
	}
	if query != "" {
		q.Set("q", query)
	}
	if len(q) == 0 {
		return PathAdminMessages
	}
	return PathAdminMessages + "?" + q.Encode()
}

func normalizeFilter(f string) string {
	switch f {
	case FilterResolved, FilterPending:
		return f
	default:
		return FilterAll
	}
}

// FilterMessages applies the status filter and a case-insensitive search
// over name, email, subject and message.
func FilterMessages(all []qmsapi.ContactSubmission, filter, query string) []qmsapi.ContactSubmission {
	query = strings.ToLower(strings.TrimSpace(query))
	out := make([]qmsapi.ContactSubmission, 0, len(all))
	for _, m := range all {
		if filter == FilterResolved && !m.IsResolved {
			continue
		}
		if filter == FilterPending && m.IsResolved {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(m.Name), query) &&
			!strings.Contains(strings.ToLower(m.Email), query) &&
			!strings.Contains(strings.ToLower(m.Subject), query) &&
			!strings.Contains(strings.ToLower(m.Message), query) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// List renders the inbox.
// GET /admin/messages?filter=&q=
func (h *AdminMessagesHandler) List(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	api := sess.API()
	filter := normalizeFilter(r.URL.Query().Get("filter"))
	query := strings.TrimSpace(r.URL.Query().Get("q"))

	res := querycache.Load(r.Context(), h.cache, querycache.Key(sess.ID(), querycache.KeyContacts), api.Contacts)
	if res.Err != nil {
		if expired(w, r, res.Err) {
			return
		}
		h.logger.Warn("failed to load contact messages", "session_id", sess.ID(), "error", res.Err)
	}

	view := messagesView{
		Messages: FilterMessages(res.Value, filter, query),
		Filter:   filter,
		Query:    query,
		Total:    len(res.Value),
		Busy:     map[int64]bool{},
		Failed:   res.Failed(),
		Stale:    res.Stale,
	}
	for _, m := range res.Value {
		if m.IsResolved {
			view.Resolved++
		} else {
			view.Pending++
		}
		if h.runner.Pending(mutation.Key(sess.ID(), mutationToggleContact, strconv.FormatInt(m.ID, 10))) {
			view.Busy[m.ID] = true
		}
	}
	if view.Failed {
		notify(r, session.FlashError, messagesLoadFailed)
	}
	h.renderer.Render(w, r, http.StatusOK, "admin_messages", "Contact Messages", view)
}

// Toggle flips a message between resolved and pending. The cached list is
// only changed once the backend confirms.
// POST /admin/messages/{id}/toggle
func (h *AdminMessagesHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	sess := session.FromContext(r.Context())
	back := messagesURL(normalizeFilter(formValue(r, "filter")), formValue(r, "q"))

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		notify(r, session.FlashError, messageToggleFailed)
		redirect(w, r, back)
		return
	}

	api := sess.API()
	cacheKey := querycache.Key(sess.ID(), querycache.KeyContacts)
	key := mutation.Key(sess.ID(), mutationToggleContact, strconv.FormatInt(id, 10))
	var resolved bool
	err = h.runner.Run(r.Context(), mutationToggleContact, key, nil, func(ctx context.Context) error {
		updated, err := api.ToggleContact(ctx, id)
		if err != nil {
			return err
		}
		resolved = updated.IsResolved
		querycache.Update(h.cache, cacheKey, func(list []qmsapi.ContactSubmission) []qmsapi.ContactSubmission {
			out := make([]qmsapi.ContactSubmission, len(list))
			copy(out, list)
			for i := range out {
				if out[i].ID == id {
					out[i].IsResolved = !out[i].IsResolved
				}
			}
			return out
		})
		return nil
	})
	switch {
	case err == nil:
		if resolved {
			notify(r, session.FlashSuccess, messageResolved)
		} else {
			notify(r, session.FlashSuccess, messageMarkedPending)
		}
	case expired(w, r, err):
		return
	case errors.Is(err, mutation.ErrPending):
		notify(r, session.FlashInfo, requestPending)
	default:
		notify(r, session.FlashError, messageToggleFailed)
	}
	redirect(w, r, back)
}
