package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/smartqueue-portal/internal/qmsapi"
	"github.com/wolfman30/smartqueue-portal/pkg/logging"
)

// PathMine is where a successful booking lands.
const PathMine = "/mine"

// ErrInvalidSlot is returned when the chosen slot is not in the list shown
// for the draft's service and date.
var ErrInvalidSlot = errors.New("booking: invalid time slot selected")

// InvalidSlotMessage is the notice shown for ErrInvalidSlot.
const InvalidSlotMessage = "Invalid time slot selected"

// Draft is the booking form as submitted.
type Draft struct {
	ServiceID int64
	Date      time.Time
	SlotID    int64
	Priority  qmsapi.Priority
	Notes     string
}

// DraftError lists every missing or invalid field at once.
type DraftError struct {
	Fields []string
}

var fieldLabels = map[string]string{
	"service":  "service",
	"date":     "date",
	"slot":     "time slot",
	"priority": "priority",
}

func (e *DraftError) Error() string {
	labels := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		labels = append(labels, fieldLabels[f])
	}
	return "Please select " + strings.Join(labels, ", ")
}

// Has reports whether field is among the failures.
func (e *DraftError) Has(field string) bool {
	for _, f := range e.Fields {
		if f == field {
			return true
		}
	}
	return false
}

// Validate checks presence of every required field. It never touches the
// network.
func (d Draft) Validate() error {
	var missing []string
	if d.ServiceID == 0 {
		missing = append(missing, "service")
	}
	if d.Date.IsZero() {
		missing = append(missing, "date")
	}
	if d.SlotID == 0 {
		missing = append(missing, "slot")
	}
	if !d.Priority.Valid() {
		missing = append(missing, "priority")
	}
	if len(missing) > 0 {
		return &DraftError{Fields: missing}
	}
	return nil
}

// Build turns a valid draft into the create request. The slot must be in
// view, and view must be for the draft's service and date. The appointment
// time is the slot's datetime string, untouched.
func Build(d Draft, view View) (qmsapi.CreateAppointmentRequest, error) {
	if err := d.Validate(); err != nil {
		return qmsapi.CreateAppointmentRequest{}, err
	}
	if view.State != StateReady || view.ServiceID != d.ServiceID || !sameDay(view.Date, d.Date) {
		return qmsapi.CreateAppointmentRequest{}, ErrInvalidSlot
	}
	var slot *qmsapi.AvailableSlot
	for i := range view.Slots {
		if view.Slots[i].ID == d.SlotID {
			slot = &view.Slots[i]
			break
		}
	}
	if slot == nil {
		return qmsapi.CreateAppointmentRequest{}, ErrInvalidSlot
	}
	return qmsapi.CreateAppointmentRequest{
		Service:             d.ServiceID,
		AppointmentDatetime: slot.Datetime,
		SlotID:              slot.ID,
		Priority:            d.Priority,
		Notes:               strings.TrimSpace(d.Notes),
	}, nil
}

func sameDay(a, b time.Time) bool {
	if a.IsZero() || b.IsZero() {
		return false
	}
	b = b.In(a.Location())
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

// Creator posts a create request.
type Creator interface {
	CreateAppointment(ctx context.Context, req qmsapi.CreateAppointmentRequest) (*qmsapi.Appointment, error)
}

// Invalidator drops cached query results.
type Invalidator interface {
	Invalidate(keys ...string)
}

// SubmitError is a rejected booking with a user-facing message.
type SubmitError struct {
	Message string
	Err     error
}

func (e *SubmitError) Error() string { return e.Message }
func (e *SubmitError) Unwrap() error { return e.Err }

// Assembler validates drafts and submits them.
type Assembler struct {
	cache  Invalidator
	logger *logging.Logger
}

func NewAssembler(cache Invalidator, logger *logging.Logger) *Assembler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Assembler{cache: cache, logger: logger.Component("booking")}
}

// Submit creates the appointment. On success the listed cache keys are
// invalidated and the path to navigate to is returned.
func (a *Assembler) Submit(ctx context.Context, creator Creator, d Draft, view View, invalidate ...string) (string, *qmsapi.Appointment, error) {
	req, err := Build(d, view)
	if err != nil {
		return "", nil, err
	}
	appt, err := creator.CreateAppointment(ctx, req)
	if err != nil {
		if errors.Is(err, qmsapi.ErrSessionExpired) {
			return "", nil, err
		}
		a.logger.Info("appointment rejected", "service_id", req.Service, "slot_id", req.SlotID, "error", err)
		return "", nil, &SubmitError{
			Message: qmsapi.UserMessage(err, "Failed to create appointment", qmsapi.PickDetail, qmsapi.PickMessage),
			Err:     fmt.Errorf("submit draft: %w", err),
		}
	}
	if a.cache != nil && len(invalidate) > 0 {
		a.cache.Invalidate(invalidate...)
	}
	a.logger.Info("appointment created", "service_id", req.Service, "slot_id", req.SlotID, "token_code", appt.TokenCode)
	return PathMine, appt, nil
}
