package compliance

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/oh-ehr-portal/internal/appointments"
	"github.com/wolfman30/oh-ehr-portal/internal/audit"
	"github.com/wolfman30/oh-ehr-portal/internal/auth"
	"github.com/wolfman30/oh-ehr-portal/internal/db"
	"github.com/wolfman30/oh-ehr-portal/internal/documents"
	"github.com/wolfman30/oh-ehr-portal/internal/employees"
	"github.com/wolfman30/oh-ehr-portal/internal/healthrecords"
	"github.com/wolfman30/oh-ehr-portal/pkg/logging"
)

var complianceTracer = otel.Tracer("ohehr.internal.compliance")

const (
	serviceName = "ComplianceService"
	entityType  = "Employee"
)

type EmployeeStore interface {
	Lookup(ctx context.Context, id string) (*employees.Employee, error)
	Anonymize(ctx context.Context, e *employees.Employee, also ...db.TxStep) error
}

type HealthData interface {
	ForExport(ctx context.Context, employeeID string) (*healthrecords.Record, error)
	ClearIdentifiers(employeeID string) db.TxStep
}

type AppointmentLister interface {
	List(ctx context.Context, actor auth.Principal, f appointments.Filter) ([]appointments.Appointment, error)
}

type DocumentStore interface {
	MetadataForEmployee(ctx context.Context, employeeID string) ([]documents.Document, error)
	PurgeBlobs(ctx context.Context, employeeID string) (int, error)
}

type Service struct {
	repo         Repository
	employees    EmployeeStore
	health       HealthData
	appointments AppointmentLister
	documents    DocumentStore
	audit        audit.Recorder
	logger       *logging.Logger
	now          func() time.Time
}

func NewService(repo Repository, emps EmployeeStore, health HealthData, appts AppointmentLister, docs DocumentStore,
	recorder audit.Recorder, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		repo:         repo,
		employees:    emps,
		health:       health,
		appointments: appts,
		documents:    docs,
		audit:        recorder,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// selfOrStaff lets the employee, clinicians and admins through.
func selfOrStaff(actor auth.Principal, emp *employees.Employee) error {
	if actor.UserID == emp.UserID || actor.HasRole(auth.RoleOHProfessional, auth.RoleAdmin) {
		return nil
	}
	return auth.ErrForbidden
}

// RecordConsent appends a consent decision.
func (s *Service) RecordConsent(ctx context.Context, actor auth.Principal, employeeID string, req ConsentRequest, ip string) (*Consent, error) {
	emp, err := s.employees.Lookup(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	if err := selfOrStaff(actor, emp); err != nil {
		return nil, err
	}
	consentType := strings.ToLower(strings.TrimSpace(req.ConsentType))
	if !slices.Contains(ConsentTypes, consentType) {
		return nil, ErrUnknownConsentType
	}
	now := s.now()
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return nil, ErrExpiryInPast
	}
	c := &Consent{
		ID:          uuid.NewString(),
		EmployeeID:  emp.ID,
		ConsentType: consentType,
		Granted:     req.Granted,
		ConsentDate: now,
		ExpiresAt:   req.ExpiresAt,
		RecordedBy:  actor.UserID,
	}
	prev, err := s.repo.LatestConsent(ctx, emp.ID, c.ConsentType)
	if err != nil {
		return nil, err
	}
	if err := s.repo.InsertConsent(ctx, c); err != nil {
		return nil, err
	}
	entry := audit.Entry{
		UserID:      actor.UserID,
		ServiceName: serviceName,
		EntityType:  "Consent",
		EntityID:    c.ID,
		Action:      audit.ActionConsentChange,
		NewValues:   audit.Values(map[string]any{"employeeId": emp.ID, "consentType": c.ConsentType, "granted": c.Granted, "expiresAt": c.ExpiresAt}),
		IPAddress:   ip,
	}
	if prev != nil {
		entry.OldValues = audit.Values(map[string]any{"granted": prev.Granted, "expiresAt": prev.ExpiresAt})
	}
	audit.Record(ctx, s.audit, s.logger, entry)
	logging.FromContext(ctx, s.logger).Info("consent recorded", "employee_id", emp.ID, "consent_type", c.ConsentType, "granted", c.Granted)
	return c, nil
}

func (s *Service) ListConsents(ctx context.Context, actor auth.Principal, employeeID string) ([]Consent, error) {
	emp, err := s.employees.Lookup(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	if err := selfOrStaff(actor, emp); err != nil {
		return nil, err
	}
	return s.repo.ListConsents(ctx, emp.ID)
}

// HasHealthDataConsent is true when the latest health data decision is a grant that has not expired.
func (s *Service) HasHealthDataConsent(ctx context.Context, employeeID string) (bool, error) {
	c, err := s.repo.LatestConsent(ctx, employeeID, ConsentHealthData)
	if err != nil || c == nil {
		return false, err
	}
	return c.Active(s.now()), nil
}

// ConsentLedger answers health data consent checks from the repository alone.
// Health records depend on it, while Service depends on health records.
type ConsentLedger struct {
	repo Repository
	now  func() time.Time
}

func NewConsentLedger(repo Repository) *ConsentLedger {
	return &ConsentLedger{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

func (l *ConsentLedger) HasHealthDataConsent(ctx context.Context, employeeID string) (bool, error) {
	c, err := l.repo.LatestConsent(ctx, employeeID, ConsentHealthData)
	if err != nil || c == nil {
		return false, err
	}
	return c.Active(l.now()), nil
}

// ValidateConsent is HasHealthDataConsent behind the access rule.
func (s *Service) ValidateConsent(ctx context.Context, actor auth.Principal, employeeID string) (bool, error) {
	emp, err := s.employees.Lookup(ctx, employeeID)
	if err != nil {
		return false, err
	}
	if err := selfOrStaff(actor, emp); err != nil {
		return false, err
	}
	return s.HasHealthDataConsent(ctx, emp.ID)
}

// Export gathers everything held about the employee.
func (s *Service) Export(ctx context.Context, actor auth.Principal, employeeID, ip string) (*Export, error) {
	ctx, span := complianceTracer.Start(ctx, "compliance.export")
	defer span.End()
	span.SetAttributes(attribute.String("ohehr.employee_id", employeeID))

	emp, err := s.employees.Lookup(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	if actor.UserID != emp.UserID && !actor.HasRole(auth.RoleAdmin) {
		return nil, auth.ErrForbidden
	}
	out := &Export{ExportedAt: s.now(), Employee: emp}
	if out.HealthRecord, err = s.health.ForExport(ctx, emp.ID); err != nil {
		return nil, fmt.Errorf("compliance: export health record: %w", err)
	}
	if out.Appointments, err = s.appointments.List(ctx, actor, appointments.Filter{EmployeeID: emp.ID}); err != nil {
		return nil, fmt.Errorf("compliance: export appointments: %w", err)
	}
	if out.Documents, err = s.documents.MetadataForEmployee(ctx, emp.ID); err != nil {
		return nil, fmt.Errorf("compliance: export documents: %w", err)
	}
	if out.Consents, err = s.repo.ListConsents(ctx, emp.ID); err != nil {
		return nil, fmt.Errorf("compliance: export consents: %w", err)
	}
	if out.Appointments == nil {
		out.Appointments = []appointments.Appointment{}
	}
	if out.Documents == nil {
		out.Documents = []documents.Document{}
	}
	if out.Consents == nil {
		out.Consents = []Consent{}
	}
	audit.Record(ctx, s.audit, s.logger, audit.Entry{
		UserID:      actor.UserID,
		ServiceName: serviceName,
		EntityType:  entityType,
		EntityID:    emp.ID,
		Action:      audit.ActionExport,
		IPAddress:   ip,
	})
	return out, nil
}

// Anonymize strips identifying data from the profile and the health record in
// one transaction.
func (s *Service) Anonymize(ctx context.Context, actor auth.Principal, employeeID, ip string) error {
	if !actor.HasRole(auth.RoleAdmin) {
		return auth.ErrForbidden
	}
	emp, err := s.employees.Lookup(ctx, employeeID)
	if err != nil {
		return err
	}
	if err := s.employees.Anonymize(ctx, emp, s.health.ClearIdentifiers(emp.ID)); err != nil {
		return err
	}
	audit.Record(ctx, s.audit, s.logger, audit.Entry{
		UserID:      actor.UserID,
		ServiceName: serviceName,
		EntityType:  entityType,
		EntityID:    emp.ID,
		Action:      audit.ActionAnonymize,
		IPAddress:   ip,
	})
	logging.FromContext(ctx, s.logger).Info("employee anonymized", "employee_id", emp.ID)
	return nil
}

// Delete erases document content first so a failed purge leaves the account for a retry.
func (s *Service) Delete(ctx context.Context, actor auth.Principal, employeeID, ip string) error {
	ctx, span := complianceTracer.Start(ctx, "compliance.delete")
	defer span.End()

	if !actor.HasRole(auth.RoleAdmin) {
		return auth.ErrForbidden
	}
	emp, err := s.employees.Lookup(ctx, employeeID)
	if err != nil {
		return err
	}
	purged, err := s.documents.PurgeBlobs(ctx, emp.ID)
	if err != nil {
		return fmt.Errorf("compliance: purge documents: %w", err)
	}
	if err := s.repo.DeleteUser(ctx, emp.UserID); err != nil {
		return err
	}
	audit.Record(ctx, s.audit, s.logger, audit.Entry{
		UserID:      actor.UserID,
		ServiceName: serviceName,
		EntityType:  entityType,
		EntityID:    emp.ID,
		Action:      audit.ActionDelete,
		OldValues:   audit.Values(map[string]any{"userId": emp.UserID, "documentsPurged": purged}),
		IPAddress:   ip,
	})
	logging.FromContext(ctx, s.logger).Info("employee data deleted", "employee_id", emp.ID, "documents_purged", purged)
	return nil
}

// AuditAccess records an access to an employee's health data made outside the API.
func (s *Service) AuditAccess(ctx context.Context, actor auth.Principal, accessorID, employeeID string) error {
	if !actor.HasRole(auth.RoleOHProfessional, auth.RoleAdmin) {
		return auth.ErrForbidden
	}
	emp, err := s.employees.Lookup(ctx, employeeID)
	if err != nil {
		return err
	}
	if s.audit == nil {
		return nil
	}
	return s.audit.RecordAccess(ctx, audit.Access{
		AccessorID: accessorID,
		EmployeeID: emp.ID,
		DataType:   "HEALTH_DATA",
		Purpose:    "reported access",
	})
}
