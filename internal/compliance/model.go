// Package compliance implements consent and data-subject rights: export,
// anonymisation and erasure of an employee's data.
package compliance

import (
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/wolfman30/oh-ehr-portal/internal/appointments"
	"github.com/wolfman30/oh-ehr-portal/internal/documents"
	"github.com/wolfman30/oh-ehr-portal/internal/employees"
	"github.com/wolfman30/oh-ehr-portal/internal/healthrecords"
)

var (
	ErrUnknownConsentType = errors.New("compliance: unknown consent type")
	ErrExpiryInPast       = errors.New("compliance: consent expiry must be in the future")
)

// ConsentHealthData gates clinician access to health records.
const ConsentHealthData = "health_data_processing"

var ConsentTypes = []string{ConsentHealthData, "data_sharing_with_manager", "occupational_health_referral", "email_communications"}

// Consent is one recorded decision. Decisions are appended, never overwritten.
type Consent struct {
	ID          string     `json:"consentId"`
	EmployeeID  string     `json:"employeeId"`
	ConsentType string     `json:"consentType"`
	Granted     bool       `json:"isGranted"`
	ConsentDate time.Time  `json:"consentDate"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	RecordedBy  string     `json:"recordedBy"`
}

// Active reports whether the consent is granted and unexpired at now.
func (c *Consent) Active(now time.Time) bool {
	return c.Granted && (c.ExpiresAt == nil || c.ExpiresAt.After(now))
}

type ConsentRequest struct {
	ConsentType string     `json:"consentType"`
	Granted     bool       `json:"isGranted"`
	ExpiresAt   *time.Time `json:"expiresAt"`
}

func (r ConsentRequest) Validate() map[string]string {
	if !slices.Contains(ConsentTypes, strings.ToLower(strings.TrimSpace(r.ConsentType))) {
		return map[string]string{"consentType": "Consent type must be one of " + strings.Join(ConsentTypes, ", ")}
	}
	return nil
}

// Export is the subject access bundle for one employee.
type Export struct {
	ExportedAt   time.Time                  `json:"exportedAt"`
	Employee     *employees.Employee        `json:"employee"`
	HealthRecord *healthrecords.Record      `json:"healthRecord"`
	Appointments []appointments.Appointment `json:"appointments"`
	Documents    []documents.Document       `json:"documents"`
	Consents     []Consent                  `json:"consents"`
}
