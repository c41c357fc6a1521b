package employees

import (
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/oh-ehr-portal/internal/auth"
	"github.com/wolfman30/oh-ehr-portal/internal/civil"
)

// EmploymentStatus tracks where an employee is in their employment lifecycle.
type EmploymentStatus string

const (
	StatusActive     EmploymentStatus = "active"
	StatusOnLeave    EmploymentStatus = "on_leave"
	StatusSuspended  EmploymentStatus = "suspended"
	StatusTerminated EmploymentStatus = "terminated"
)

var Statuses = []EmploymentStatus{StatusActive, StatusOnLeave, StatusSuspended, StatusTerminated}

func ParseStatus(raw string) (EmploymentStatus, bool) {
	s := EmploymentStatus(strings.ToLower(strings.TrimSpace(raw)))
	return s, slices.Contains(Statuses, s)
}

type Gender string

const (
	GenderMale           Gender = "male"
	GenderFemale         Gender = "female"
	GenderOther          Gender = "other"
	GenderPreferNotToSay Gender = "prefer_not_to_say"
)

var Genders = []Gender{GenderMale, GenderFemale, GenderOther, GenderPreferNotToSay}

func ParseGender(raw string) (Gender, bool) {
	g := Gender(strings.ToLower(strings.TrimSpace(raw)))
	return g, slices.Contains(Genders, g)
}

// Employee joins the employees row with its user account.
type Employee struct {
	ID                    string           `json:"id"`
	UserID                string           `json:"userId"`
	EmployeeNumber        string           `json:"employeeNumber"`
	Username              string           `json:"username"`
	Email                 string           `json:"email"`
	FirstName             string           `json:"firstName"`
	LastName              string           `json:"lastName"`
	Role                  auth.Role        `json:"role"`
	UserStatus            auth.UserStatus  `json:"userStatus"`
	Title                 string           `json:"title,omitempty"`
	DateOfBirth           *civil.Date      `json:"dateOfBirth,omitempty"`
	Gender                Gender           `json:"gender,omitempty"`
	PhoneNumber           string           `json:"phoneNumber,omitempty"`
	Address               string           `json:"address,omitempty"`
	Postcode              string           `json:"postcode,omitempty"`
	EmergencyContactName  string           `json:"emergencyContactName,omitempty"`
	EmergencyContactPhone string           `json:"emergencyContactPhone,omitempty"`
	Department            string           `json:"department,omitempty"`
	JobTitle              string           `json:"jobTitle,omitempty"`
	ManagerID             *string          `json:"managerId,omitempty"`
	StartDate             civil.Date       `json:"startDate"`
	EmploymentStatus      EmploymentStatus `json:"employmentStatus"`
	ServiceYears          int              `json:"serviceYears"`
	CreatedAt             time.Time        `json:"createdAt"`
	UpdatedAt             time.Time        `json:"updatedAt"`
}

func (e *Employee) FullName() string {
	return strings.TrimSpace(e.FirstName + " " + e.LastName)
}

// personalSnapshot is what UPDATE audit records compare.
func (e *Employee) personalSnapshot() map[string]any {
	return map[string]any{
		"firstName":             e.FirstName,
		"lastName":              e.LastName,
		"email":                 e.Email,
		"title":                 e.Title,
		"dateOfBirth":           e.DateOfBirth,
		"gender":                e.Gender,
		"phoneNumber":           e.PhoneNumber,
		"address":               e.Address,
		"postcode":              e.Postcode,
		"emergencyContactName":  e.EmergencyContactName,
		"emergencyContactPhone": e.EmergencyContactPhone,
	}
}

// CreateRequest is the body of POST /api/employee-profiles.
type CreateRequest struct {
	Username              string      `json:"username"`
	Email                 string      `json:"email"`
	Password              string      `json:"password"`
	FirstName             string      `json:"firstName"`
	LastName              string      `json:"lastName"`
	Role                  string      `json:"role,omitempty"`
	EmployeeNumber        string      `json:"employeeNumber"`
	Title                 string      `json:"title,omitempty"`
	DateOfBirth           *civil.Date `json:"dateOfBirth,omitempty"`
	Gender                string      `json:"gender,omitempty"`
	PhoneNumber           string      `json:"phoneNumber,omitempty"`
	Address               string      `json:"address,omitempty"`
	Postcode              string      `json:"postcode,omitempty"`
	EmergencyContactName  string      `json:"emergencyContactName,omitempty"`
	EmergencyContactPhone string      `json:"emergencyContactPhone,omitempty"`
	Department            string      `json:"department,omitempty"`
	JobTitle              string      `json:"jobTitle,omitempty"`
	ManagerID             *string     `json:"managerId,omitempty"`
	StartDate             *civil.Date `json:"startDate,omitempty"`
}

func (r CreateRequest) Validate() map[string]string {
	errs := map[string]string{}
	if n := len(strings.TrimSpace(r.Username)); n < 3 || n > 20 {
		errs["username"] = "Username must be between 3 and 20 characters"
	}
	if strings.TrimSpace(r.Email) == "" || len(r.Email) > 50 {
		errs["email"] = "Email is required and must not exceed 50 characters"
	}
	if err := auth.ValidatePassword(r.Password); err != nil {
		errs["password"] = auth.PasswordPolicyDescription
	}
	checkName(errs, "firstName", "First name", r.FirstName)
	checkName(errs, "lastName", "Last name", r.LastName)
	if strings.TrimSpace(r.EmployeeNumber) == "" || len(r.EmployeeNumber) > 20 {
		errs["employeeNumber"] = "Employee number is required and must not exceed 20 characters"
	}
	if r.Role != "" {
		if _, ok := auth.ParseRole(r.Role); !ok {
			errs["role"] = "Unknown role"
		}
	}
	if r.Gender != "" {
		if _, ok := ParseGender(r.Gender); !ok {
			errs["gender"] = "Unknown gender"
		}
	}
	checkMax(errs, "title", "Title", r.Title, 50)
	checkMax(errs, "phoneNumber", "Phone number", r.PhoneNumber, 20)
	checkMax(errs, "postcode", "Postcode", r.Postcode, 10)
	checkMax(errs, "emergencyContactName", "Emergency contact name", r.EmergencyContactName, 100)
	checkMax(errs, "emergencyContactPhone", "Emergency contact phone", r.EmergencyContactPhone, 20)
	checkMax(errs, "department", "Department", r.Department, 100)
	checkMax(errs, "jobTitle", "Job title", r.JobTitle, 100)
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// UpdatePersonalInformationRequest is a partial update; nil fields are left alone.
type UpdatePersonalInformationRequest struct {
	FirstName             *string     `json:"firstName,omitempty"`
	LastName              *string     `json:"lastName,omitempty"`
	Email                 *string     `json:"email,omitempty"`
	Title                 *string     `json:"title,omitempty"`
	DateOfBirth           *civil.Date `json:"dateOfBirth,omitempty"`
	Gender                *string     `json:"gender,omitempty"`
	PhoneNumber           *string     `json:"phoneNumber,omitempty"`
	Address               *string     `json:"address,omitempty"`
	Postcode              *string     `json:"postcode,omitempty"`
	EmergencyContactName  *string     `json:"emergencyContactName,omitempty"`
	EmergencyContactPhone *string     `json:"emergencyContactPhone,omitempty"`
}

func (r UpdatePersonalInformationRequest) Validate() map[string]string {
	errs := map[string]string{}
	if r.FirstName != nil {
		checkName(errs, "firstName", "First name", *r.FirstName)
	}
	if r.LastName != nil {
		checkName(errs, "lastName", "Last name", *r.LastName)
	}
	if r.Email != nil {
		checkMax(errs, "email", "Email", *r.Email, 50)
	}
	if r.Gender != nil && *r.Gender != "" {
		if _, ok := ParseGender(*r.Gender); !ok {
			errs["gender"] = "Unknown gender"
		}
	}
	checkMaxPtr(errs, "title", "Title", r.Title, 50)
	checkMaxPtr(errs, "phoneNumber", "Phone number", r.PhoneNumber, 20)
	checkMaxPtr(errs, "postcode", "Postcode", r.Postcode, 10)
	checkMaxPtr(errs, "emergencyContactName", "Emergency contact name", r.EmergencyContactName, 100)
	checkMaxPtr(errs, "emergencyContactPhone", "Emergency contact phone", r.EmergencyContactPhone, 20)
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// apply copies the set fields onto e.
func (r UpdatePersonalInformationRequest) apply(e *Employee) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	set(&e.FirstName, r.FirstName)
	set(&e.LastName, r.LastName)
	set(&e.Email, r.Email)
	set(&e.Title, r.Title)
	set(&e.PhoneNumber, r.PhoneNumber)
	set(&e.Address, r.Address)
	set(&e.Postcode, r.Postcode)
	set(&e.EmergencyContactName, r.EmergencyContactName)
	set(&e.EmergencyContactPhone, r.EmergencyContactPhone)
	if r.DateOfBirth != nil {
		if r.DateOfBirth.IsZero() {
			e.DateOfBirth = nil
		} else {
			d := *r.DateOfBirth
			e.DateOfBirth = &d
		}
	}
	if r.Gender != nil {
		g, _ := ParseGender(*r.Gender)
		e.Gender = g
	}
}

// StatusChangeRequest is the body of PUT /{id}/employment-status.
type StatusChangeRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func (r StatusChangeRequest) Validate() map[string]string {
	errs := map[string]string{}
	if _, ok := ParseStatus(r.Status); !ok {
		errs["status"] = "Employment status is required"
	}
	if len(r.Reason) > 500 {
		errs["reason"] = "Reason must not exceed 500 characters"
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

func checkName(errs map[string]string, field, label, v string) {
	if n := len(strings.TrimSpace(v)); n < 1 || n > 50 {
		errs[field] = label + " must be between 1 and 50 characters"
	}
}

func checkMax(errs map[string]string, field, label, v string, limit int) {
	if len(v) > limit {
		errs[field] = label + " must not exceed " + strconv.Itoa(limit) + " characters"
	}
}

func checkMaxPtr(errs map[string]string, field, label string, v *string, limit int) {
	if v != nil {
		checkMax(errs, field, label, *v, limit)
	}
}
