package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/wolfman30/smartqueue-portal/internal/booking"
	"github.com/wolfman30/smartqueue-portal/internal/mutation"
	"github.com/wolfman30/smartqueue-portal/internal/qmsapi"
	"github.com/wolfman30/smartqueue-portal/internal/querycache"
	"github.com/wolfman30/smartqueue-portal/internal/session"
	"github.com/wolfman30/smartqueue-portal/pkg/logging"
)

const (
	bookedMessage      = "Appointment booked successfully!"
	bookingPendingMsg  = "Your booking is already being submitted."
	defaultSlotWait    = 3 * time.Second
	slotLoadingRefresh = time.Second
	mutationCreateAppt = "create-appointment"
)

// BookingHandler serves the appointment booking flow.
type BookingHandler struct {
	renderer  *Renderer
	cache     *querycache.Cache
	fetchers  *booking.FetcherRegistry
	assembler *booking.Assembler
	runner    *mutation.Runner
	loc       *time.Location
	now       func() time.Time
	slotWait  time.Duration
	logger    *logging.Logger
}

// BookingOptions wires a BookingHandler.
type BookingOptions struct {
	Renderer  *Renderer
	Cache     *querycache.Cache
	Fetchers  *booking.FetcherRegistry
	Assembler *booking.Assembler
	Runner    *mutation.Runner
	Location  *time.Location
	Now       func() time.Time
	// SlotWait bounds how long a page render waits for a slot fetch before
	// showing the loading state.
	SlotWait time.Duration
	Logger   *logging.Logger
}

func NewBookingHandler(opts BookingOptions) *BookingHandler {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SlotWait <= 0 {
		opts.SlotWait = defaultSlotWait
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	return &BookingHandler{
		renderer:  opts.Renderer,
		cache:     opts.Cache,
		fetchers:  opts.Fetchers,
		assembler: opts.Assembler,
		runner:    opts.Runner,
		loc:       opts.Location,
		now:       opts.Now,
		slotWait:  opts.SlotWait,
		logger:    opts.Logger,
	}
}

type bookView struct {
	Services     []qmsapi.Service
	ServicesErr  bool
	ServiceID    int64
	Service      *qmsapi.Service
	Calendar     booking.Calendar
	Date         string
	Slots        booking.View
	Loading      bool
	Priorities   []qmsapi.Priority
	Priority     qmsapi.Priority
	Notes        string
	Errors       FieldErrors
	Pending      bool
	TodayMonth   string
	SelectedDate time.Time
}

// Link builds a /book URL that keeps the current selection.
func (v bookView) Link(serviceID int64, date, month string) string {
	q := url.Values{}
	if serviceID != 0 {
		q.Set("service", strconv.FormatInt(serviceID, 10))
	}
	if date != "" {
		q.Set("date", date)
	}
	if month != "" {
		q.Set("month", month)
	}
	if len(q) == 0 {
		return "/book"
	}
	return "/book?" + q.Encode()
}

// Idle reports that no slot list has been requested for the selection.
func (v bookView) Idle() bool {
	return v.Slots.State == booking.StateIdle
}

// MonthParam formats a calendar reference month for a query string.
func (v bookView) MonthParam(t time.Time) string {
	return t.Format(booking.MonthFormat)
}

func (h *BookingHandler) services(ctx context.Context, sess *session.Session) querycache.Result[[]qmsapi.Service] {
	api := sess.API()
	return querycache.Load(ctx, h.cache, querycache.Key(sess.ID(), querycache.KeyServices), func(ctx context.Context) ([]qmsapi.Service, error) {
		return api.BookingServices(ctx)
	})
}

// ensureSlots starts a fetch when the requested selection differs from
// what the session's fetcher holds, then waits briefly for it.
func (h *BookingHandler) ensureSlots(ctx context.Context, f *booking.SlotFetcher, serviceID int64, date time.Time, retry bool) bool {
	if retry || !f.Matches(serviceID, date) {
		f.Select(ctx, serviceID, date)
	}
	waitCtx, cancel := context.WithTimeout(ctx, h.slotWait)
	defer cancel()
	return f.Wait(waitCtx) == nil
}

// Book renders the booking form.
// GET /book?service=&date=&month=&slot=&retry=
func (h *BookingHandler) Book(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	q := r.URL.Query()

	serviceID := queryInt64(r, "service")
	date, _ := booking.ParseDate(q.Get("date"), h.loc)

	fetcher := h.fetchers.For(sess.ID(), sess.API())
	settled := h.ensureSlots(r.Context(), fetcher, serviceID, date, q.Get("retry") != "")
	if slotID := queryInt64(r, "slot"); slotID != 0 {
		_ = fetcher.SelectSlot(slotID)
	}

	view := h.baseView(w, r, sess, serviceID, date, q.Get("month"))
	if view == nil {
		return
	}
	view.Slots = fetcher.View()
	view.Loading = !settled
	view.Priority = qmsapi.PriorityNormal

	var opts []PageOption
	if view.Loading {
		opts = append(opts, WithRefresh(slotLoadingRefresh))
	}
	h.renderer.Render(w, r, http.StatusOK, "book", "Book Appointment", view, opts...)
}

// baseView loads services and lays out the calendar. It returns nil after
// redirecting an expired session.
func (h *BookingHandler) baseView(w http.ResponseWriter, r *http.Request, sess *session.Session, serviceID int64, date time.Time, month string) *bookView {
	now := h.now().In(h.loc)
	view := &bookView{
		ServiceID:  serviceID,
		Priorities: qmsapi.Priorities,
		TodayMonth: now.Format(booking.MonthFormat),
	}

	services := h.services(r.Context(), sess)
	if services.Failed() {
		if expired(w, r, services.Err) {
			return nil
		}
		h.logger.Warn("failed to load booking services", "error", services.Err)
		view.ServicesErr = true
	}
	view.Services = services.Value
	for i := range view.Services {
		if view.Services[i].ID == serviceID {
			view.Service = &view.Services[i]
		}
	}

	ref := booking.ParseMonth(month, now)
	if month == "" && !date.IsZero() {
		ref = date
	}
	view.Calendar = booking.Month(ref, now)
	if !date.IsZero() {
		view.Date = date.Format("2006-01-02")
		view.SelectedDate = date
	}
	return view
}

func (h *BookingHandler) draftFromForm(r *http.Request) booking.Draft {
	date, _ := booking.ParseDate(formValue(r, "date"), h.loc)
	return booking.Draft{
		ServiceID: formInt64(r, "service"),
		Date:      date,
		SlotID:    formInt64(r, "slot"),
		Priority:  qmsapi.Priority(formValue(r, "priority")),
		Notes:     r.FormValue("notes"),
	}
}

// Submit creates the appointment.
// POST /book
func (h *BookingHandler) Submit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	sess := session.FromContext(r.Context())
	api := sess.API()
	draft := h.draftFromForm(r)
	fetcher := h.fetchers.For(sess.ID(), api)

	// An incomplete draft is rejected before any backend call.
	if err := draft.Validate(); err != nil {
		h.submitFailed(w, r, sess, draft, fetcher, err)
		return
	}

	if !fetcher.Matches(draft.ServiceID, draft.Date) {
		h.ensureSlots(r.Context(), fetcher, draft.ServiceID, draft.Date, false)
	}
	_ = fetcher.SelectSlot(draft.SlotID)

	var dest string
	key := mutation.Key(sess.ID(), mutationCreateAppt, "")
	err := h.runner.Run(r.Context(), mutationCreateAppt, key, nil, func(ctx context.Context) error {
		var err error
		dest, _, err = h.assembler.Submit(ctx, api, draft, fetcher.View(), querycache.Key(sess.ID(), querycache.KeyMyAppointments))
		return err
	})
	if err != nil {
		h.submitFailed(w, r, sess, draft, fetcher, err)
		return
	}
	fetcher.Reset()
	sess.Notify(r.Context(), session.FlashSuccess, bookedMessage)
	redirect(w, r, dest)
}

// submitFailed re-renders the form with the notice for err.
func (h *BookingHandler) submitFailed(w http.ResponseWriter, r *http.Request, sess *session.Session, draft booking.Draft, fetcher *booking.SlotFetcher, err error) {
	if expired(w, r, err) {
		return
	}

	status := http.StatusOK
	view := h.baseView(w, r, sess, draft.ServiceID, draft.Date, "")
	if view == nil {
		return
	}
	if fetcher.Matches(draft.ServiceID, draft.Date) {
		view.Slots = fetcher.View()
	}
	view.Priority = draft.Priority
	view.Notes = draft.Notes

	var draftErr *booking.DraftError
	var submitErr *booking.SubmitError
	switch {
	case errors.As(err, &draftErr):
		status = http.StatusUnprocessableEntity
		view.Errors = FieldErrors{}
		for _, field := range draftErr.Fields {
			view.Errors.add(field, "Required")
		}
		notify(r, session.FlashError, draftErr.Error())
	case errors.Is(err, booking.ErrInvalidSlot):
		status = http.StatusUnprocessableEntity
		notify(r, session.FlashError, booking.InvalidSlotMessage)
	case errors.As(err, &submitErr):
		notify(r, session.FlashError, submitErr.Message)
	case errors.Is(err, mutation.ErrPending):
		view.Pending = true
		notify(r, session.FlashInfo, bookingPendingMsg)
	default:
		h.logger.Error("booking submission failed", "error", err)
		notify(r, session.FlashError, "Failed to create appointment")
	}
	h.renderer.Render(w, r, status, "book", "Book Appointment", view)
}
