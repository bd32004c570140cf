package qmsapi

import (
	"fmt"
	"strings"
	"time"
)

// Role is the account type the backend assigns to a user.
type Role string

const (
	RoleCitizen Role = "CITIZEN"
	RoleStaff   Role = "STAFF"
	RoleAdmin   Role = "ADMIN"
)

// IsStaff reports whether the role may use the operations dashboard.
func (r Role) IsStaff() bool {
	return r == RoleStaff || r == RoleAdmin
}

// User is the authenticated identity returned by the auth endpoints.
type User struct {
	ID         int64  `json:"id"`
	Email      string `json:"email"`
	Username   string `json:"username"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Phone      string `json:"phone"`
	Role       Role   `json:"role"`
	DateJoined string `json:"date_joined,omitempty"`
}

// FullName joins first and last name, falling back to the username.
func (u User) FullName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Username
	}
	return name
}

// Tokens is the bearer pair issued on login and registration.
type Tokens struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// AuthResponse is the body of a successful login or registration.
type AuthResponse struct {
	User   User   `json:"user"`
	Tokens Tokens `json:"tokens"`
}

// LoginRequest is posted to /auth/login/.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest is posted to /auth/register/.
type RegisterRequest struct {
	Email           string `json:"email"`
	Username        string `json:"username"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Phone           string `json:"phone"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"password_confirm"`
}

// ProfileUpdate carries the editable profile fields.
type ProfileUpdate struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Username  string `json:"username"`
}

// PasswordChange is posted to /auth/password/change/.
type PasswordChange struct {
	OldPassword  string `json:"old_password"`
	NewPassword1 string `json:"new_password1"`
	NewPassword2 string `json:"new_password2"`
}

// Service is a bookable counter service.
type Service struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	Department        string `json:"department"`
	Description       string `json:"description,omitempty"`
	AvgServiceMinutes int    `json:"avg_service_minutes"`
	IsActive          bool   `json:"is_active,omitempty"`
	CreatedAt         string `json:"created_at,omitempty"`
	UpdatedAt         string `json:"updated_at,omitempty"`
}

// AvailableSlot is one bookable time unit for a (date, service) query.
type AvailableSlot struct {
	ID              int64  `json:"id"`
	Datetime        string `json:"datetime"`
	CurrentBookings int    `json:"current_bookings"`
	MaxCapacity     int    `json:"max_capacity"`
}

// Time parses Datetime. Values without an offset are read in loc.
func (s AvailableSlot) Time(loc *time.Location) (time.Time, error) {
	return ParseDateTime(s.Datetime, loc)
}

// Remaining is the number of bookings the slot can still take.
func (s AvailableSlot) Remaining() int {
	if s.MaxCapacity <= s.CurrentBookings {
		return 0
	}
	return s.MaxCapacity - s.CurrentBookings
}

// IsFull returns true if the slot has no capacity left.
func (s AvailableSlot) IsFull() bool {
	return s.Remaining() == 0
}

// Priority is the citizen-declared urgency tier.
type Priority string

const (
	PriorityNormal    Priority = "NORMAL"
	PriorityElderly   Priority = "ELDERLY"
	PriorityDisabled  Priority = "DISABLED"
	PriorityEmergency Priority = "EMERGENCY"
)

// Priorities lists the tiers in display order.
var Priorities = []Priority{PriorityNormal, PriorityElderly, PriorityDisabled, PriorityEmergency}

// Valid reports whether p is a declared tier.
func (p Priority) Valid() bool {
	for _, known := range Priorities {
		if p == known {
			return true
		}
	}
	return false
}

// Status is the server-owned lifecycle state of an appointment.
type Status string

const (
	StatusScheduled  Status = "SCHEDULED"
	StatusWaiting    Status = "WAITING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
	StatusNoShow     Status = "NO_SHOW"
)

// Statuses is the fixed enumeration staff may choose from.
var Statuses = []Status{StatusScheduled, StatusWaiting, StatusInProgress, StatusCompleted, StatusCancelled, StatusNoShow}

// Valid reports whether s is a declared status.
func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// Label renders IN_PROGRESS as "In progress".
func (s Status) Label() string {
	words := strings.ToLower(strings.ReplaceAll(string(s), "_", " "))
	if words == "" {
		return ""
	}
	return strings.ToUpper(words[:1]) + words[1:]
}

// Appointment is the full staff-facing appointment record.
type Appointment struct {
	ID                      string   `json:"id"`
	TokenCode               string   `json:"token_code"`
	Service                 Service  `json:"service"`
	Citizen                 User     `json:"citizen"`
	AppointmentDatetime     string   `json:"appointment_datetime"`
	Priority                Priority `json:"priority"`
	Status                  Status   `json:"status"`
	PredictedWaitMinutes    int      `json:"predicted_wait_minutes"`
	ActualWaitMinutes       *int     `json:"actual_wait_minutes,omitempty"`
	Notes                   string   `json:"notes"`
	CreatedAt               string   `json:"created_at"`
	UpdatedAt               string   `json:"updated_at,omitempty"`
	EstimatedCompletionTime string   `json:"estimated_completion_time,omitempty"`
	QRCodeURL               string   `json:"qr_code_url,omitempty"`
}

// MyAppointment is the citizen-facing list projection.
type MyAppointment struct {
	ID                      string   `json:"id"`
	TokenCode               string   `json:"token_code"`
	ServiceName             string   `json:"service_name"`
	AppointmentDatetime     string   `json:"appointment_datetime"`
	Priority                Priority `json:"priority"`
	Status                  Status   `json:"status"`
	PredictedWaitMinutes    int      `json:"predicted_wait_minutes"`
	EstimatedCompletionTime string   `json:"estimated_completion_time"`
	Notes                   string   `json:"notes"`
	CreatedAt               string   `json:"created_at"`
	QRCodeURL               string   `json:"qr_code_url,omitempty"`
}

// CreateAppointmentRequest is posted to /appointments/create/.
type CreateAppointmentRequest struct {
	Service             int64    `json:"service"`
	AppointmentDatetime string   `json:"appointment_datetime"`
	SlotID              int64    `json:"slot_id,omitempty"`
	Priority            Priority `json:"priority"`
	Notes               string   `json:"notes,omitempty"`
}

// QueueStatus is the live waiting / in-progress snapshot.
type QueueStatus struct {
	WaitingQueue    []Appointment `json:"waiting_queue"`
	InProgress      []Appointment `json:"in_progress"`
	TotalWaiting    int           `json:"total_waiting"`
	TotalInProgress int           `json:"total_in_progress"`
}

// Analytics is the operations summary for today.
type Analytics struct {
	TotalToday               int                `json:"total_today"`
	CompletedToday           int                `json:"completed_today"`
	CurrentQueueLength       int                `json:"current_queue_length"`
	TotalAppointmentsAllTime int                `json:"total_appointments_all_time"`
	StatusBreakdown          map[string]int     `json:"status_breakdown"`
	AvgWaitByPriority        map[string]float64 `json:"avg_wait_by_priority"`
}

// ServiceStats is one row of the service performance report.
type ServiceStats struct {
	Name              string  `json:"name"`
	Department        string  `json:"department"`
	TotalAppointments int     `json:"total_appointments"`
	AvgWaitTime       float64 `json:"avg_wait_time"`
	CompletionRate    float64 `json:"completion_rate"`
}

// ServicePerformance wraps the per-service report.
type ServicePerformance struct {
	Services []ServiceStats `json:"services"`
}

// ContactCategory groups public contact messages.
type ContactCategory string

const (
	CategoryGeneral   ContactCategory = "general"
	CategoryTechnical ContactCategory = "technical"
	CategoryJaffna    ContactCategory = "jaffna"
	CategoryFeedback  ContactCategory = "feedback"
	CategoryOther     ContactCategory = "other"
)

// ContactCategories lists categories in display order.
var ContactCategories = []ContactCategory{CategoryGeneral, CategoryTechnical, CategoryJaffna, CategoryFeedback, CategoryOther}

// Valid reports whether c is a declared category.
func (c ContactCategory) Valid() bool {
	for _, known := range ContactCategories {
		if c == known {
			return true
		}
	}
	return false
}

// ContactSubmission is a public contact-form message.
type ContactSubmission struct {
	ID          int64           `json:"id,omitempty"`
	Name        string          `json:"name"`
	Email       string          `json:"email"`
	Phone       string          `json:"phone,omitempty"`
	Subject     string          `json:"subject"`
	Category    ContactCategory `json:"category"`
	Message     string          `json:"message"`
	SubmittedAt string          `json:"submitted_at,omitempty"`
	IsResolved  bool            `json:"is_resolved"`
}

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
}

// ParseDateTime accepts the ISO-8601 variants the backend emits. Naive
// values are interpreted in loc.
func ParseDateTime(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("qmsapi: unrecognised datetime %q", value)
}
