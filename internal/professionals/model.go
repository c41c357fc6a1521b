// Package professionals keeps the directory of occupational-health professionals
// and their weekly working hours.
package professionals

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrProfessionalNotFound  = errors.New("professionals: professional not found")
	ErrDuplicateRegistration = errors.New("professionals: registration number already exists")
	ErrAlreadyProfessional   = errors.New("professionals: user already has a professional profile")
	ErrNotProfessionalUser   = errors.New("professionals: user does not have the oh_professional role")
	ErrInvalidWorkingHours   = errors.New("professionals: invalid working hours")
)

// Hours is one day's window in 24h "HH:MM".
type Hours struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Bounds returns the window as minutes after midnight.
func (h Hours) Bounds() (start, end int, err error) {
	start, err = clockMinutes(h.Start)
	if err != nil {
		return 0, 0, err
	}
	end, err = clockMinutes(h.End)
	if err != nil {
		return 0, 0, err
	}
	if end <= start {
		return 0, 0, fmt.Errorf("%w: %s-%s ends before it starts", ErrInvalidWorkingHours, h.Start, h.End)
	}
	return start, end, nil
}

func clockMinutes(v string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not HH:MM", ErrInvalidWorkingHours, v)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// WorkingHours is keyed by lowercase weekday name.
type WorkingHours map[string]Hours

// Validate checks day names and every window.
func (w WorkingHours) Validate() error {
	for day, h := range w {
		if _, ok := weekdays[strings.ToLower(day)]; !ok {
			return fmt.Errorf("%w: unknown day %q", ErrInvalidWorkingHours, day)
		}
		if _, _, err := h.Bounds(); err != nil {
			return err
		}
	}
	return nil
}

// On returns the hours for a weekday, if any.
func (w WorkingHours) On(day time.Weekday) (Hours, bool) {
	h, ok := w[strings.ToLower(day.String())]
	return h, ok
}

func (w WorkingHours) normalized() WorkingHours {
	out := make(WorkingHours, len(w))
	for day, h := range w {
		out[strings.ToLower(day)] = Hours{Start: strings.TrimSpace(h.Start), End: strings.TrimSpace(h.End)}
	}
	return out
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
	"thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday,
}

// Professional is an OH professional profile joined with the user's name.
type Professional struct {
	ID                 string       `json:"id"`
	UserID             string       `json:"userId"`
	FirstName          string       `json:"firstName"`
	LastName           string       `json:"lastName"`
	Email              string       `json:"email"`
	RegistrationNumber string       `json:"registrationNumber"`
	Specialization     string       `json:"specialization,omitempty"`
	WorkingHours       WorkingHours `json:"workingHours,omitempty"`
	Available          bool         `json:"available"`
	CreatedAt          time.Time    `json:"createdAt"`
	UpdatedAt          time.Time    `json:"updatedAt"`
}

func (p *Professional) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

type CreateRequest struct {
	UserID             string       `json:"userId"`
	RegistrationNumber string       `json:"registrationNumber"`
	Specialization     string       `json:"specialization,omitempty"`
	WorkingHours       WorkingHours `json:"workingHours,omitempty"`
	Available          *bool        `json:"available,omitempty"`
}

func (r CreateRequest) Validate() map[string]string {
	errs := map[string]string{}
	if strings.TrimSpace(r.UserID) == "" {
		errs["userId"] = "User id is required"
	}
	if n := len(strings.TrimSpace(r.RegistrationNumber)); n == 0 || n > 50 {
		errs["registrationNumber"] = "Registration number is required and must not exceed 50 characters"
	}
	if len(r.Specialization) > 100 {
		errs["specialization"] = "Specialization must not exceed 100 characters"
	}
	if err := r.WorkingHours.Validate(); err != nil {
		errs["workingHours"] = err.Error()
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// AvailabilityRequest updates availability and optionally replaces working hours.
type AvailabilityRequest struct {
	Available    *bool        `json:"available,omitempty"`
	WorkingHours WorkingHours `json:"workingHours,omitempty"`
}
