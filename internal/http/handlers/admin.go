package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/smartqueue-portal/internal/mutation"
	"github.com/wolfman30/smartqueue-portal/internal/qmsapi"
	"github.com/wolfman30/smartqueue-portal/internal/querycache"
	"github.com/wolfman30/smartqueue-portal/internal/session"
	"github.com/wolfman30/smartqueue-portal/pkg/logging"
)

const (
	mutationStatus = "update-status"

	statusUpdated       = "Status updated successfully"
	statusFailed        = "Failed to update status"
	statusPending       = "A status update is already in progress."
	statusInvalid       = "Please choose a valid status"
	dataRefreshed       = "Data refreshed"
	recentAdminListSize = 10
)

// AdminHandler serves the operations dashboard.
type AdminHandler struct {
	renderer *Renderer
	cache    *querycache.Cache
	poller   *querycache.Poller
	runner   *mutation.Runner
	logger   *logging.Logger
}

func NewAdminHandler(renderer *Renderer, cache *querycache.Cache, poller *querycache.Poller, runner *mutation.Runner, logger *logging.Logger) *AdminHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminHandler{renderer: renderer, cache: cache, poller: poller, runner: runner, logger: logger}
}

type adminView struct {
	Analytics     *qmsapi.Analytics
	Queue         *qmsapi.QueueStatus
	Recent        []qmsapi.Appointment
	Performance   *qmsapi.ServicePerformance
	Statuses      []qmsapi.Status
	StatusPending bool
	Stale         bool
	Failed        []string
}

func (h *AdminHandler) keys(sid string) []string {
	return []string{
		querycache.Key(sid, querycache.KeyAllAppointments),
		querycache.Key(sid, querycache.KeyQueueStatus),
		querycache.Key(sid, querycache.KeyAnalytics),
	}
}

// note records a view's load outcome on the page.
func note[T any](view *adminView, name string, res querycache.Result[T]) {
	if res.Stale {
		view.Stale = true
	}
	if res.Failed() {
		view.Failed = append(view.Failed, name)
	}
}

// sessionErr lets an expired session cancel the sibling loads.
func sessionErr(err error) error {
	if errors.Is(err, qmsapi.ErrSessionExpired) {
		return err
	}
	return nil
}

// Dashboard loads every operations view in parallel.
// GET /admin
func (h *AdminHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	sid := sess.ID()
	api := sess.API()

	var (
		analytics   querycache.Result[*qmsapi.Analytics]
		queue       querycache.Result[*qmsapi.QueueStatus]
		all         querycache.Result[[]qmsapi.Appointment]
		performance querycache.Result[*qmsapi.ServicePerformance]
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		analytics = querycache.Load(ctx, h.cache, querycache.Key(sid, querycache.KeyAnalytics), api.Analytics)
		return sessionErr(analytics.Err)
	})
	g.Go(func() error {
		queue = querycache.Load(ctx, h.cache, querycache.Key(sid, querycache.KeyQueueStatus), api.QueueStatus)
		return sessionErr(queue.Err)
	})
	g.Go(func() error {
		all = querycache.Load(ctx, h.cache, querycache.Key(sid, querycache.KeyAllAppointments), api.AllAppointments)
		return sessionErr(all.Err)
	})
	g.Go(func() error {
		performance = querycache.Load(ctx, h.cache, querycache.Key(sid, querycache.KeyServicePerformance), api.ServicePerformance)
		return sessionErr(performance.Err)
	})
	if err := g.Wait(); expired(w, r, err) {
		return
	}

	view := adminView{
		Statuses:      qmsapi.Statuses,
		StatusPending: h.runner.Pending(mutation.Key(sid, mutationStatus, "")),
	}
	note(&view, "analytics", analytics)
	note(&view, "queue", queue)
	note(&view, "appointments", all)
	note(&view, "service performance", performance)
	if len(view.Failed) > 0 || view.Stale {
		h.logger.Warn("admin dashboard degraded", "session_id", sid, "failed", view.Failed, "stale", view.Stale)
	}

	view.Analytics = analytics.Value
	view.Queue = queue.Value
	view.Performance = performance.Value
	view.Recent = all.Value
	if len(view.Recent) > recentAdminListSize {
		view.Recent = view.Recent[:recentAdminListSize]
	}

	h.ensurePolls(sid, api)
	h.renderer.Render(w, r, http.StatusOK, "admin", "Admin Dashboard", view, WithRefresh(querycache.IntervalQueueStatus))
}

func (h *AdminHandler) ensurePolls(sid string, api *qmsapi.AuthClient) {
	if h.poller == nil {
		return
	}
	h.poller.Ensure(querycache.Key(sid, querycache.KeyAnalytics), querycache.KeyAnalytics, querycache.IntervalAnalytics,
		func(ctx context.Context) (any, error) { return api.Analytics(ctx) })
	h.poller.Ensure(querycache.Key(sid, querycache.KeyAllAppointments), querycache.KeyAllAppointments, querycache.IntervalAllAppointments,
		func(ctx context.Context) (any, error) { return api.AllAppointments(ctx) })
	h.poller.Ensure(querycache.Key(sid, querycache.KeyQueueStatus), querycache.KeyQueueStatus, querycache.IntervalQueueStatus,
		func(ctx context.Context) (any, error) { return api.QueueStatus(ctx) })
}

// UpdateStatus changes one appointment's status.
// POST /admin/appointments/{id}/status
func (h *AdminHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	sess := session.FromContext(r.Context())
	id := chi.URLParam(r, "id")
	status := qmsapi.Status(formValue(r, "status"))
	if id == "" || !status.Valid() {
		notify(r, session.FlashError, statusInvalid)
		redirect(w, r, session.PathAdmin)
		return
	}

	api := sess.API()
	key := mutation.Key(sess.ID(), mutationStatus, "")
	err := h.runner.Run(r.Context(), mutationStatus, key, h.keys(sess.ID()), func(ctx context.Context) error {
		_, err := api.UpdateStatus(ctx, id, status)
		return err
	})
	switch {
	case err == nil:
		notify(r, session.FlashSuccess, statusUpdated)
	case expired(w, r, err):
		return
	case errors.Is(err, mutation.ErrPending):
		notify(r, session.FlashInfo, statusPending)
	default:
		notify(r, session.FlashError, qmsapi.UserMessage(err, statusFailed, qmsapi.PickError))
	}
	redirect(w, r, session.PathAdmin)
}

// Refresh drops the cached operations views so the next render refetches.
// POST /admin/refresh
func (h *AdminHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	keys := append(h.keys(sess.ID()), querycache.Key(sess.ID(), querycache.KeyServicePerformance))
	h.cache.Invalidate(keys...)
	notify(r, session.FlashInfo, dataRefreshed)
	redirect(w, r, session.PathAdmin)
}
