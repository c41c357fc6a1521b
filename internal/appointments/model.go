// Package appointments books employees in with OH professionals and tracks
// each appointment through its lifecycle.
package appointments

import (
	"errors"
	"slices"
	"strings"
	"time"
)

var (
	ErrAppointmentNotFound     = errors.New("appointments: appointment not found")
	ErrSlotConflict            = errors.New("appointments: professional already booked for that time")
	ErrInvalidTransition       = errors.New("appointments: status transition not allowed")
	ErrProfessionalUnavailable = errors.New("appointments: professional is not accepting appointments")
	ErrInPast                  = errors.New("appointments: scheduled time must be in the future")
)

type Type string

const (
	TypeHealthCheck   Type = "health_check"
	TypeConsultation  Type = "consultation"
	TypeFollowUp      Type = "follow_up"
	TypeEmergency     Type = "emergency"
	TypePreEmployment Type = "pre_employment"
	TypeReturnToWork  Type = "return_to_work"
)

var Types = []Type{TypeHealthCheck, TypeConsultation, TypeFollowUp, TypeEmergency, TypePreEmployment, TypeReturnToWork}

func ParseType(raw string) (Type, bool) {
	t := Type(strings.ToLower(strings.TrimSpace(raw)))
	return t, slices.Contains(Types, t)
}

type Mode string

const (
	ModeInPerson Mode = "in_person"
	ModeVirtual  Mode = "virtual"
	ModePhone    Mode = "phone"
)

var Modes = []Mode{ModeInPerson, ModeVirtual, ModePhone}

func ParseMode(raw string) (Mode, bool) {
	m := Mode(strings.ToLower(strings.TrimSpace(raw)))
	return m, slices.Contains(Modes, m)
}

type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusNoShow     Status = "no_show"
)

var Statuses = []Status{StatusScheduled, StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled, StatusNoShow}

func ParseStatus(raw string) (Status, bool) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	return s, slices.Contains(Statuses, s)
}

var transitions = map[Status][]Status{
	StatusScheduled:  {StatusConfirmed, StatusInProgress, StatusCancelled, StatusNoShow},
	StatusConfirmed:  {StatusInProgress, StatusCancelled, StatusNoShow},
	StatusInProgress: {StatusCompleted},
}

// CanTransition reports whether from may move to to. Terminal states have no exits.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

func (s Status) reschedulable() bool {
	return s == StatusScheduled || s == StatusConfirmed
}

const defaultDuration = 30

// Appointment is one booking, joined with the display names of both parties.
type Appointment struct {
	ID                 string    `json:"id"`
	EmployeeID         string    `json:"employeeId"`
	EmployeeUserID     string    `json:"employeeUserId"`
	EmployeeName       string    `json:"employeeName"`
	ProfessionalID     string    `json:"professionalId"`
	ProfessionalUserID string    `json:"professionalUserId"`
	ProfessionalName   string    `json:"professionalName"`
	Type               Type      `json:"appointmentType"`
	Mode               Mode      `json:"appointmentMode"`
	ScheduledAt        time.Time `json:"scheduledDateTime"`
	DurationMinutes    int       `json:"durationMinutes"`
	Status             Status    `json:"status"`
	Location           string    `json:"location,omitempty"`
	Reason             string    `json:"reason"`
	Notes              string    `json:"notes,omitempty"`
	CancellationReason string    `json:"cancellationReason,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// End is the first instant after the appointment.
func (a *Appointment) End() time.Time {
	return a.ScheduledAt.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// Slot is a bookable half hour.
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Label string    `json:"label"`
}

// Filter narrows List. Zero fields are ignored.
type Filter struct {
	EmployeeID     string
	ProfessionalID string
	Status         Status
	From           time.Time
	To             time.Time
	Limit          int
}

// BookRequest is the body of POST /api/appointments.
type BookRequest struct {
	EmployeeID        string    `json:"employeeId"`
	ProfessionalID    string    `json:"professionalId"`
	AppointmentType   string    `json:"appointmentType"`
	AppointmentMode   string    `json:"appointmentMode"`
	ScheduledDateTime time.Time `json:"scheduledDateTime"`
	Reason            string    `json:"reason"`
	DurationMinutes   *int      `json:"durationMinutes,omitempty"`
	Location          string    `json:"location,omitempty"`
}

func (r BookRequest) Validate() map[string]string {
	errs := map[string]string{}
	if strings.TrimSpace(r.ProfessionalID) == "" {
		errs["professionalId"] = "Professional is required"
	}
	if _, ok := ParseType(r.AppointmentType); !ok {
		errs["appointmentType"] = "Unknown appointment type"
	}
	if _, ok := ParseMode(r.AppointmentMode); !ok {
		errs["appointmentMode"] = "Unknown appointment mode"
	}
	if r.ScheduledDateTime.IsZero() {
		errs["scheduledDateTime"] = "Scheduled date and time is required"
	}
	if strings.TrimSpace(r.Reason) == "" {
		errs["reason"] = "Reason is required"
	}
	if r.DurationMinutes != nil && *r.DurationMinutes < 1 {
		errs["durationMinutes"] = "Duration must be at least 1 minute"
	}
	if len(r.Location) > 255 {
		errs["location"] = "Location must not exceed 255 characters"
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

func (r BookRequest) duration() int {
	if r.DurationMinutes == nil {
		return defaultDuration
	}
	return *r.DurationMinutes
}

type StatusRequest struct {
	Status string `json:"status"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

type RescheduleRequest struct {
	ScheduledDateTime time.Time `json:"scheduledDateTime"`
}

type NotesRequest struct {
	Notes string `json:"notes"`
}
