package qmsapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// BookingServices lists the services open for booking.
func (a *AuthClient) BookingServices(ctx context.Context) ([]Service, error) {
	var list listOf[Service]
	if err := a.do(ctx, call{name: "services_booking_list", method: http.MethodGet, path: "/services/booking-list/", out: &list}); err != nil {
		return nil, fmt.Errorf("list booking services: %w", err)
	}
	return list.Items, nil
}

// AvailableSlots lists the slots for a service on a calendar day.
func (a *AuthClient) AvailableSlots(ctx context.Context, serviceID int64, date time.Time) ([]AvailableSlot, error) {
	q := url.Values{}
	q.Set("date", date.Format("2006-01-02"))
	q.Set("service_id", strconv.FormatInt(serviceID, 10))

	var list listOf[AvailableSlot]
	err := a.do(ctx, call{
		name:   "appointments_available_slots",
		method: http.MethodGet,
		path:   "/appointments/available-slots/?" + q.Encode(),
		out:    &list,
	})
	if err != nil {
		return nil, fmt.Errorf("get available slots: %w", err)
	}
	return list.Items, nil
}

// CreateAppointment books an appointment for the signed-in citizen.
func (a *AuthClient) CreateAppointment(ctx context.Context, req CreateAppointmentRequest) (*Appointment, error) {
	var appt Appointment
	err := a.do(ctx, call{
		name:   "appointments_create",
		method: http.MethodPost,
		path:   "/appointments/create/",
		body:   req,
		out:    &appt,
	})
	if err != nil {
		return nil, fmt.Errorf("create appointment: %w", err)
	}
	return &appt, nil
}

// MyAppointments lists the signed-in citizen's appointments.
func (a *AuthClient) MyAppointments(ctx context.Context) ([]MyAppointment, error) {
	var list listOf[MyAppointment]
	if err := a.do(ctx, call{name: "appointments_mine", method: http.MethodGet, path: "/appointments/mine/", out: &list}); err != nil {
		return nil, fmt.Errorf("list my appointments: %w", err)
	}
	return list.Items, nil
}

// AllAppointments lists every appointment (staff only).
func (a *AuthClient) AllAppointments(ctx context.Context) ([]Appointment, error) {
	var list listOf[Appointment]
	if err := a.do(ctx, call{name: "appointments_all", method: http.MethodGet, path: "/appointments/all/", out: &list}); err != nil {
		return nil, fmt.Errorf("list all appointments: %w", err)
	}
	return list.Items, nil
}

// Appointment fetches one appointment.
func (a *AuthClient) Appointment(ctx context.Context, id string) (*Appointment, error) {
	var appt Appointment
	err := a.do(ctx, call{
		name:   "appointments_detail",
		method: http.MethodGet,
		path:   "/appointments/" + url.PathEscape(id) + "/",
		out:    &appt,
	})
	if err != nil {
		return nil, fmt.Errorf("get appointment %s: %w", id, err)
	}
	return &appt, nil
}

// UpdateStatus moves an appointment to status (staff only).
func (a *AuthClient) UpdateStatus(ctx context.Context, id string, status Status) (*Appointment, error) {
	var appt Appointment
	err := a.do(ctx, call{
		name:   "appointments_status",
		method: http.MethodPatch,
		path:   "/appointments/" + url.PathEscape(id) + "/status/",
		body:   map[string]Status{"status": status},
		out:    &appt,
	})
	if err != nil {
		return nil, fmt.Errorf("update appointment %s status: %w", id, err)
	}
	return &appt, nil
}

// QueueStatus returns the live waiting and in-progress queues.
func (a *AuthClient) QueueStatus(ctx context.Context) (*QueueStatus, error) {
	var qs QueueStatus
	if err := a.do(ctx, call{name: "appointments_queue_status", method: http.MethodGet, path: "/appointments/queue/status/", out: &qs}); err != nil {
		return nil, fmt.Errorf("get queue status: %w", err)
	}
	return &qs, nil
}
