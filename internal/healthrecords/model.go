// Package healthrecords keeps each employee's occupational-health record.
package healthrecords

import (
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/wolfman30/oh-ehr-portal/internal/civil"
)

var (
	ErrRecordNotFound  = errors.New("healthrecords: record not found")
	ErrConsentRequired = errors.New("healthrecords: health data processing consent required")
)

type BloodGroup string

var BloodGroups = []BloodGroup{"A+", "A-", "B+", "B-", "AB+", "AB-", "O+", "O-", "Unknown"}

func ParseBloodGroup(raw string) (BloodGroup, bool) {
	raw = strings.TrimSpace(raw)
	if strings.EqualFold(raw, "unknown") {
		return "Unknown", true
	}
	g := BloodGroup(strings.ToUpper(raw))
	return g, slices.Contains(BloodGroups, g)
}

type HealthStatus string

const (
	StatusHealthy        HealthStatus = "healthy"
	StatusNeedsAttention HealthStatus = "needs_attention"
	StatusHighRisk       HealthStatus = "high_risk"
	StatusOverdue        HealthStatus = "overdue"
)

var HealthStatuses = []HealthStatus{StatusHealthy, StatusNeedsAttention, StatusHighRisk, StatusOverdue}

func ParseHealthStatus(raw string) (HealthStatus, bool) {
	s := HealthStatus(strings.ToLower(strings.TrimSpace(raw)))
	return s, slices.Contains(HealthStatuses, s)
}

type Fitness string

const (
	FitnessFit              Fitness = "fit"
	FitnessWithRestrictions Fitness = "fit_with_restrictions"
	FitnessTemporarilyUnfit Fitness = "temporarily_unfit"
	FitnessPermanentlyUnfit Fitness = "permanently_unfit"
)

var Fitnesses = []Fitness{FitnessFit, FitnessWithRestrictions, FitnessTemporarilyUnfit, FitnessPermanentlyUnfit}

func ParseFitness(raw string) (Fitness, bool) {
	f := Fitness(strings.ToLower(strings.TrimSpace(raw)))
	return f, slices.Contains(Fitnesses, f)
}

type Condition struct {
	Condition  string `json:"condition"`
	Severity   string `json:"severity,omitempty"`
	Managed    bool   `json:"managed"`
	Medication string `json:"medication,omitempty"`
	SnomedCode string `json:"snomedCode,omitempty"`
}

type Vaccination struct {
	Vaccine     string      `json:"vaccine"`
	Date        civil.Date  `json:"date"`
	BatchNumber string      `json:"batchNumber,omitempty"`
	NextDue     *civil.Date `json:"nextDue,omitempty"`
}

// Record holds plaintext values; NHSNumber and HealthNotes are sealed in storage.
type Record struct {
	ID                string        `json:"id"`
	EmployeeID        string        `json:"employeeId"`
	NHSNumber         string        `json:"nhsNumber,omitempty"`
	GPName            string        `json:"gpName,omitempty"`
	GPAddress         string        `json:"gpAddress,omitempty"`
	BloodGroup        BloodGroup    `json:"bloodGroup,omitempty"`
	Allergies         []string      `json:"allergies"`
	Medications       []string      `json:"medications"`
	MedicalConditions []Condition   `json:"medicalConditions"`
	Vaccinations      []Vaccination `json:"vaccinations"`
	HealthNotes       string        `json:"healthNotes,omitempty"`
	HealthStatus      HealthStatus  `json:"healthStatus"`
	FitnessForWork    Fitness       `json:"fitnessForWork"`
	LastCheckupDate   *civil.Date   `json:"lastCheckupDate,omitempty"`
	NextCheckupDue    *civil.Date   `json:"nextCheckupDue,omitempty"`
	UpdatedBy         string        `json:"updatedBy"`
	CreatedAt         time.Time     `json:"createdAt"`
	UpdatedAt         time.Time     `json:"updatedAt"`
}

// effectiveStatus reports overdue once the next checkup date has passed.
func (r *Record) effectiveStatus(today civil.Date) HealthStatus {
	if r.NextCheckupDue != nil && r.NextCheckupDue.Before(today) {
		return StatusOverdue
	}
	return r.HealthStatus
}

// FitnessSummary is the part of a record a line manager may see.
type FitnessSummary struct {
	EmployeeID     string       `json:"employeeId"`
	HealthStatus   HealthStatus `json:"healthStatus"`
	FitnessForWork Fitness      `json:"fitnessForWork"`
	NextCheckupDue *civil.Date  `json:"nextCheckupDue,omitempty"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

type UpsertRequest struct {
	NHSNumber         string        `json:"nhsNumber"`
	GPName            string        `json:"gpName"`
	GPAddress         string        `json:"gpAddress"`
	BloodGroup        string        `json:"bloodGroup"`
	Allergies         []string      `json:"allergies"`
	Medications       []string      `json:"medications"`
	MedicalConditions []Condition   `json:"medicalConditions"`
	Vaccinations      []Vaccination `json:"vaccinations"`
	HealthNotes       string        `json:"healthNotes"`
	HealthStatus      string        `json:"healthStatus"`
	FitnessForWork    string        `json:"fitnessForWork"`
	LastCheckupDate   *civil.Date   `json:"lastCheckupDate"`
	NextCheckupDue    *civil.Date   `json:"nextCheckupDue"`
}

var severities = []string{"mild", "moderate", "severe"}

// Validate checks the request; known reports whether a SNOMED code exists.
func (r UpsertRequest) Validate(known func(code string) bool) map[string]string {
	errs := map[string]string{}
	if r.NHSNumber != "" && !ValidNHSNumber(r.NHSNumber) {
		errs["nhsNumber"] = "NHS number must be 10 digits with a valid check digit"
	}
	if r.BloodGroup != "" {
		if _, ok := ParseBloodGroup(r.BloodGroup); !ok {
			errs["bloodGroup"] = "Unknown blood group"
		}
	}
	if _, ok := ParseHealthStatus(r.HealthStatus); !ok {
		errs["healthStatus"] = "Health status must be one of healthy, needs_attention, high_risk, overdue"
	}
	if _, ok := ParseFitness(r.FitnessForWork); !ok {
		errs["fitnessForWork"] = "Unknown fitness for work outcome"
	}
	for _, c := range r.MedicalConditions {
		if strings.TrimSpace(c.Condition) == "" {
			errs["medicalConditions"] = "Every condition needs a name"
			break
		}
		if c.Severity != "" && !slices.Contains(severities, strings.ToLower(c.Severity)) {
			errs["medicalConditions"] = "Severity must be mild, moderate or severe"
			break
		}
		if c.SnomedCode != "" && !known(c.SnomedCode) {
			errs["medicalConditions"] = "Unknown SNOMED CT code " + c.SnomedCode
			break
		}
	}
	for _, v := range r.Vaccinations {
		if strings.TrimSpace(v.Vaccine) == "" || v.Date.IsZero() {
			errs["vaccinations"] = "Every vaccination needs a vaccine and a date"
			break
		}
		if v.NextDue != nil && !v.NextDue.IsZero() && v.NextDue.Before(v.Date) {
			errs["vaccinations"] = "Next due date cannot precede the vaccination date"
			break
		}
	}
	if r.LastCheckupDate != nil && r.NextCheckupDue != nil &&
		!r.LastCheckupDate.IsZero() && !r.NextCheckupDue.IsZero() && r.NextCheckupDue.Before(*r.LastCheckupDate) {
		errs["nextCheckupDue"] = "Next checkup cannot precede the last checkup"
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// ValidNHSNumber applies the modulus 11 check. Spaces are ignored.
func ValidNHSNumber(raw string) bool {
	digits := strings.ReplaceAll(strings.TrimSpace(raw), " ", "")
	if len(digits) != 10 {
		return false
	}
	sum := 0
	for i := 0; i < 10; i++ {
		c := digits[i]
		if c < '0' || c > '9' {
			return false
		}
		if i < 9 {
			sum += int(c-'0') * (10 - i)
		}
	}
	check := 11 - sum%11
	if check == 11 {
		check = 0
	}
	return check != 10 && check == int(digits[9]-'0')
}

func normalizeNHS(raw string) string {
	return strings.ReplaceAll(strings.TrimSpace(raw), " ", "")
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
