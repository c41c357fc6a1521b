package healthrecords

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/wolfman30/oh-ehr-portal/internal/audit"
	"github.com/wolfman30/oh-ehr-portal/internal/auth"
	"github.com/wolfman30/oh-ehr-portal/internal/civil"
	"github.com/wolfman30/oh-ehr-portal/internal/db"
	"github.com/wolfman30/oh-ehr-portal/internal/employees"
	"github.com/wolfman30/oh-ehr-portal/internal/notify"
	"github.com/wolfman30/oh-ehr-portal/internal/terminology"
	"github.com/wolfman30/oh-ehr-portal/pkg/logging"
)

var healthTracer = otel.Tracer("ohehr.internal.healthrecords")

const (
	serviceName = "HealthRecordService"
	entityType  = "HealthRecord"
)

// Cipher seals the NHS number and health notes.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

type EmployeeDirectory interface {
	Lookup(ctx context.Context, id string) (*employees.Employee, error)
	LookupByUser(ctx context.Context, userID string) (*employees.Employee, error)
}

// ConsentChecker answers whether an employee currently allows health data processing.
type ConsentChecker interface {
	HasHealthDataConsent(ctx context.Context, employeeID string) (bool, error)
}

type CodeLookup interface {
	Lookup(code string) (terminology.Concept, bool)
}

type Notifier interface {
	Notify(ctx context.Context, req notify.Request) (*notify.Notification, error)
}

type Service struct {
	repo      Repository
	cipher    Cipher
	employees EmployeeDirectory
	consent   ConsentChecker
	codes     CodeLookup
	notifier  Notifier
	audit     audit.Recorder
	logger    *logging.Logger
	now       func() time.Time
}

func NewService(repo Repository, cipher Cipher, emps EmployeeDirectory, consent ConsentChecker, codes CodeLookup,
	notifier Notifier, recorder audit.Recorder, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		repo:      repo,
		cipher:    cipher,
		employees: emps,
		consent:   consent,
		codes:     codes,
		notifier:  notifier,
		audit:     recorder,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) today() civil.Date { return civil.DateOf(s.now()) }

// KnownCode validates a SNOMED CT code against the terminology table.
func (s *Service) KnownCode(code string) bool {
	_, ok := s.codes.Lookup(code)
	return ok
}

// authorize applies the full-record rule: the employee always, clinicians and
// admins only while consent is in force.
func (s *Service) authorize(ctx context.Context, actor auth.Principal, emp *employees.Employee) error {
	if actor.UserID == emp.UserID {
		return nil
	}
	if !actor.HasRole(auth.RoleOHProfessional, auth.RoleAdmin) {
		return auth.ErrForbidden
	}
	ok, err := s.consent.HasHealthDataConsent(ctx, emp.ID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConsentRequired
	}
	return nil
}

// Get returns the decrypted record and logs the access.
func (s *Service) Get(ctx context.Context, actor auth.Principal, employeeID string) (*Record, error) {
	ctx, span := healthTracer.Start(ctx, "healthrecords.get")
	defer span.End()

	emp, err := s.employees.Lookup(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, emp); err != nil {
		return nil, err
	}
	r, err := s.load(ctx, emp.ID)
	if err != nil {
		return nil, err
	}
	audit.RecordAccess(ctx, s.audit, s.logger, audit.Access{
		AccessorID: actor.UserID,
		EmployeeID: emp.ID,
		DataType:   "HEALTH_RECORD",
		Purpose:    "view health record",
	})
	return r, nil
}

// Mine resolves the caller's own employee profile.
func (s *Service) Mine(ctx context.Context, actor auth.Principal) (*Record, error) {
	emp, err := s.employees.LookupByUser(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, actor, emp.ID)
}

func (s *Service) load(ctx context.Context, employeeID string) (*Record, error) {
	r, err := s.repo.Get(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	if r.NHSNumber, err = s.cipher.Decrypt(r.NHSNumber); err != nil {
		return nil, fmt.Errorf("healthrecords: decrypt nhs number: %w", err)
	}
	if r.HealthNotes, err = s.cipher.Decrypt(r.HealthNotes); err != nil {
		return nil, fmt.Errorf("healthrecords: decrypt notes: %w", err)
	}
	r.HealthStatus = r.effectiveStatus(s.today())
	return r, nil
}

// Fitness returns the manager-facing outcome without clinical detail.
func (s *Service) Fitness(ctx context.Context, actor auth.Principal, employeeID string) (*FitnessSummary, error) {
	emp, err := s.employees.Lookup(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	if actor.UserID != emp.UserID && !actor.HasRole(auth.RoleManager, auth.RoleOHProfessional, auth.RoleAdmin) {
		return nil, auth.ErrForbidden
	}
	r, err := s.repo.Get(ctx, emp.ID)
	if err != nil {
		return nil, err
	}
	if actor.UserID != emp.UserID {
		audit.RecordAccess(ctx, s.audit, s.logger, audit.Access{
			AccessorID: actor.UserID,
			EmployeeID: emp.ID,
			DataType:   "FITNESS_SUMMARY",
			Purpose:    "view fitness for work",
		})
	}
	return &FitnessSummary{
		EmployeeID:     emp.ID,
		HealthStatus:   r.effectiveStatus(s.today()),
		FitnessForWork: r.FitnessForWork,
		NextCheckupDue: r.NextCheckupDue,
		UpdatedAt:      r.UpdatedAt,
	}, nil
}

// FitnessForUser is Fitness for the caller's own profile, or nil when none is recorded.
func (s *Service) FitnessForUser(ctx context.Context, actor auth.Principal) (*FitnessSummary, error) {
	emp, err := s.employees.LookupByUser(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	f, err := s.Fitness(ctx, actor, emp.ID)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, nil
	}
	return f, err
}

// Upsert replaces the record. Clinicians need the employee's consent to write it.
func (s *Service) Upsert(ctx context.Context, actor auth.Principal, employeeID string, req UpsertRequest, ip string) (*Record, error) {
	ctx, span := healthTracer.Start(ctx, "healthrecords.upsert")
	defer span.End()

	if !actor.HasRole(auth.RoleOHProfessional) {
		return nil, auth.ErrForbidden
	}
	emp, err := s.employees.Lookup(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, emp); err != nil {
		return nil, err
	}

	prev, err := s.repo.Get(ctx, emp.ID)
	if err != nil && !errors.Is(err, ErrRecordNotFound) {
		return nil, err
	}

	status, _ := ParseHealthStatus(req.HealthStatus)
	fitness, _ := ParseFitness(req.FitnessForWork)
	var blood BloodGroup
	if req.BloodGroup != "" {
		blood, _ = ParseBloodGroup(req.BloodGroup)
	}
	conditions := make([]Condition, 0, len(req.MedicalConditions))
	for _, c := range req.MedicalConditions {
		c.Condition = strings.TrimSpace(c.Condition)
		c.Severity = strings.ToLower(strings.TrimSpace(c.Severity))
		c.SnomedCode = strings.TrimSpace(c.SnomedCode)
		conditions = append(conditions, c)
	}
	vaccinations := req.Vaccinations
	if vaccinations == nil {
		vaccinations = []Vaccination{}
	}
	r := &Record{
		ID:                uuid.NewString(),
		EmployeeID:        emp.ID,
		GPName:            strings.TrimSpace(req.GPName),
		GPAddress:         strings.TrimSpace(req.GPAddress),
		BloodGroup:        blood,
		Allergies:         cleanList(req.Allergies),
		Medications:       cleanList(req.Medications),
		MedicalConditions: conditions,
		Vaccinations:      vaccinations,
		HealthStatus:      status,
		FitnessForWork:    fitness,
		LastCheckupDate:   req.LastCheckupDate,
		NextCheckupDue:    req.NextCheckupDue,
		UpdatedBy:         actor.UserID,
	}
	if prev != nil {
		r.ID = prev.ID
	}
	if r.NHSNumber, err = s.cipher.Encrypt(normalizeNHS(req.NHSNumber)); err != nil {
		return nil, fmt.Errorf("healthrecords: encrypt nhs number: %w", err)
	}
	if r.HealthNotes, err = s.cipher.Encrypt(strings.TrimSpace(req.HealthNotes)); err != nil {
		return nil, fmt.Errorf("healthrecords: encrypt notes: %w", err)
	}
	if err := s.repo.Upsert(ctx, r); err != nil {
		return nil, err
	}

	action := audit.ActionCreate
	var oldValues json.RawMessage
	if prev != nil {
		action = audit.ActionUpdate
		oldValues = audit.Values(map[string]any{"healthStatus": prev.HealthStatus, "fitnessForWork": prev.FitnessForWork})
	}
	audit.Record(ctx, s.audit, s.logger, audit.Entry{
		UserID:      actor.UserID,
		ServiceName: serviceName,
		EntityType:  entityType,
		EntityID:    r.ID,
		Action:      action,
		OldValues:   oldValues,
		NewValues:   audit.Values(map[string]any{"healthStatus": r.HealthStatus, "fitnessForWork": r.FitnessForWork}),
		IPAddress:   ip,
	})

	if prev == nil || prev.HealthStatus != r.HealthStatus || prev.FitnessForWork != r.FitnessForWork {
		s.notifyChange(ctx, emp, r)
	}

	r.NHSNumber = normalizeNHS(req.NHSNumber)
	r.HealthNotes = strings.TrimSpace(req.HealthNotes)
	r.HealthStatus = r.effectiveStatus(s.today())
	return r, nil
}

func (s *Service) notifyChange(ctx context.Context, emp *employees.Employee, r *Record) {
	if s.notifier == nil {
		return
	}
	_, err := s.notifier.Notify(ctx, notify.Request{
		UserID:          emp.UserID,
		Type:            notify.TypeHealthStatusChange,
		Title:           "Health Status Updated",
		Message:         fmt.Sprintf("Your occupational health status is now %s and your fitness for work is %s.", humanize(string(r.HealthStatus)), humanize(string(r.FitnessForWork))),
		RelatedEntityID: r.ID,
	})
	if err != nil {
		logging.FromContext(ctx, s.logger).Error("health status notification failed", "employee_id", emp.ID, "error", err)
	}
}

func humanize(v string) string { return strings.ReplaceAll(v, "_", " ") }

// ForExport returns the decrypted record without access checks, or nil when none exists.
func (s *Service) ForExport(ctx context.Context, employeeID string) (*Record, error) {
	r, err := s.load(ctx, employeeID)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, nil
	}
	return r, err
}

// ClearIdentifiers removes the NHS number and health notes during anonymisation.
func (s *Service) ClearIdentifiers(employeeID string) db.TxStep {
	return s.repo.ClearIdentifiers(employeeID)
}
