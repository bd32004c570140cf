package booking

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/wolfman30/smartqueue-portal/internal/observability/metrics"
	"github.com/wolfman30/smartqueue-portal/internal/qmsapi"
	"github.com/wolfman30/smartqueue-portal/pkg/logging"
)

// ErrUnknownSlot is returned when a slot id is not in the displayed list.
var ErrUnknownSlot = errors.New("booking: slot is not available for the current selection")

// SlotSource fetches slots for a (service, date) pair.
type SlotSource interface {
	AvailableSlots(ctx context.Context, serviceID int64, date time.Time) ([]qmsapi.AvailableSlot, error)
}

// State is the slot list's view state.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return "idle"
	}
}

type selection struct {
	serviceID int64
	date      time.Time
}

func (s selection) complete() bool {
	return s.serviceID != 0 && !s.date.IsZero()
}

// View is a consistent snapshot of a SlotFetcher.
type View struct {
	State      State
	ServiceID  int64
	Date       time.Time
	Slots      []qmsapi.AvailableSlot
	SelectedID int64
}

// Selected returns the chosen slot, if any.
func (v View) Selected() (qmsapi.AvailableSlot, bool) {
	if v.SelectedID == 0 {
		return qmsapi.AvailableSlot{}, false
	}
	for _, s := range v.Slots {
		if s.ID == v.SelectedID {
			return s, true
		}
	}
	return qmsapi.AvailableSlot{}, false
}

// SlotFetcher tracks one booking form's (service, date) selection and the
// slots fetched for it. Only the result of the latest selection is ever
// applied; older in-flight results are dropped.
type SlotFetcher struct {
	source  SlotSource
	loc     *time.Location
	now     func() time.Time
	logger  *logging.Logger
	metrics *metrics.PortalMetrics

	mu         sync.Mutex
	generation uint64
	current    selection
	state      State
	slots      []qmsapi.AvailableSlot
	selectedID int64
	changed    chan struct{}
}

// FetcherOptions configures a SlotFetcher.
type FetcherOptions struct {
	Location *time.Location
	Now      func() time.Time
	Logger   *logging.Logger
	Metrics  *metrics.PortalMetrics
}

func NewSlotFetcher(source SlotSource, opts FetcherOptions) *SlotFetcher {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	return &SlotFetcher{
		source:  source,
		loc:     opts.Location,
		now:     opts.Now,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		changed: make(chan struct{}),
	}
}

// notifyLocked wakes Wait callers. f.mu must be held.
func (f *SlotFetcher) notifyLocked() {
	close(f.changed)
	f.changed = make(chan struct{})
}

// Select sets the service and date. The chosen slot and the displayed list
// are cleared before anything else; a fetch starts when both are set.
func (f *SlotFetcher) Select(ctx context.Context, serviceID int64, date time.Time) {
	if !date.IsZero() {
		d := date.In(f.loc)
		date = time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, f.loc)
	}

	f.mu.Lock()
	f.selectedID = 0
	f.slots = nil
	f.generation++
	gen := f.generation
	f.current = selection{serviceID: serviceID, date: date}
	sel := f.current
	source := f.source
	if sel.complete() {
		f.state = StateLoading
	} else {
		f.state = StateIdle
	}
	f.notifyLocked()
	f.mu.Unlock()

	if !sel.complete() {
		return
	}
	fetchCtx := context.WithoutCancel(ctx)
	go func() {
		slots, err := source.AvailableSlots(fetchCtx, sel.serviceID, sel.date)
		f.apply(gen, sel, slots, err)
	}()
}

func (f *SlotFetcher) apply(gen uint64, sel selection, slots []qmsapi.AvailableSlot, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if gen != f.generation || sel != f.current {
		f.metrics.ObserveSlotDiscarded()
		return
	}
	if err != nil {
		f.logger.Warn("failed to fetch available slots", "service_id", sel.serviceID, "date", sel.date.Format("2006-01-02"), "error", err)
		slots = nil
	}
	f.slots = filterPast(slots, sel.date, f.now().In(f.loc), f.loc)
	f.state = StateReady
	f.notifyLocked()
}

// filterPast drops slots at or before now when date is today.
func filterPast(slots []qmsapi.AvailableSlot, date, now time.Time, loc *time.Location) []qmsapi.AvailableSlot {
	out := make([]qmsapi.AvailableSlot, 0, len(slots))
	sameDay := date.Year() == now.Year() && date.YearDay() == now.YearDay()
	for _, slot := range slots {
		if sameDay {
			at, err := slot.Time(loc)
			if err != nil || !at.After(now) {
				continue
			}
		}
		out = append(out, slot)
	}
	return out
}

// Wait blocks until the current selection is no longer loading.
func (f *SlotFetcher) Wait(ctx context.Context) error {
	for {
		f.mu.Lock()
		if f.state != StateLoading {
			f.mu.Unlock()
			return nil
		}
		ch := f.changed
		f.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// View returns a snapshot of the current state.
func (f *SlotFetcher) View() View {
	f.mu.Lock()
	defer f.mu.Unlock()
	slots := make([]qmsapi.AvailableSlot, len(f.slots))
	copy(slots, f.slots)
	return View{
		State:      f.state,
		ServiceID:  f.current.serviceID,
		Date:       f.current.date,
		Slots:      slots,
		SelectedID: f.selectedID,
	}
}

// Matches reports whether serviceID and date equal the current selection.
func (f *SlotFetcher) Matches(serviceID int64, date time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if date.IsZero() != f.current.date.IsZero() {
		return false
	}
	if f.current.serviceID != serviceID {
		return false
	}
	if date.IsZero() {
		return true
	}
	d := date.In(f.loc)
	return d.Year() == f.current.date.Year() && d.YearDay() == f.current.date.YearDay()
}

// SelectSlot picks a slot from the displayed list.
func (f *SlotFetcher) SelectSlot(id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateReady {
		return ErrUnknownSlot
	}
	for _, s := range f.slots {
		if s.ID == id {
			f.selectedID = id
			return nil
		}
	}
	return ErrUnknownSlot
}

// Slot looks up a slot in the displayed list.
func (f *SlotFetcher) Slot(id int64) (qmsapi.AvailableSlot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.slots {
		if s.ID == id {
			return s, true
		}
	}
	return qmsapi.AvailableSlot{}, false
}

// Reset returns the fetcher to idle with nothing selected.
func (f *SlotFetcher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generation++
	f.current = selection{}
	f.slots = nil
	f.selectedID = 0
	f.state = StateIdle
	f.notifyLocked()
}

// FetcherRegistry keeps one SlotFetcher per browser session.
type FetcherRegistry struct {
	mu       sync.Mutex
	fetchers *expirable.LRU[string, *SlotFetcher]
	opts     FetcherOptions
}

func NewFetcherRegistry(size int, ttl time.Duration, opts FetcherOptions) *FetcherRegistry {
	if size <= 0 {
		size = 1024
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &FetcherRegistry{
		fetchers: expirable.NewLRU[string, *SlotFetcher](size, nil, ttl),
		opts:     opts,
	}
}

// For returns the session's fetcher, creating it with source if missing.
func (r *FetcherRegistry) For(sessionID string, source SlotSource) *SlotFetcher {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.fetchers.Get(sessionID); ok {
		f.mu.Lock()
		f.source = source
		f.mu.Unlock()
		return f
	}
	f := NewSlotFetcher(source, r.opts)
	r.fetchers.Add(sessionID, f)
	return f
}

// Drop forgets a session's fetcher.
func (r *FetcherRegistry) Drop(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetchers.Remove(sessionID)
}
