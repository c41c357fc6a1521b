package employees

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/oh-ehr-portal/internal/audit"
	"github.com/wolfman30/oh-ehr-portal/internal/auth"
	"github.com/wolfman30/oh-ehr-portal/internal/civil"
	"github.com/wolfman30/oh-ehr-portal/internal/db"
	"github.com/wolfman30/oh-ehr-portal/pkg/logging"
)

var employeesTracer = otel.Tracer("ohehr.internal.employees")

const (
	serviceName       = "EmployeeProfileService"
	entityType        = "Employee"
	defaultSearchSize = 50
)

// Service manages employee profiles.
type Service struct {
	repo   Repository
	audit  audit.Recorder
	logger *logging.Logger
	now    func() time.Time
}

func NewService(repo Repository, recorder audit.Recorder, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		repo:   repo,
		audit:  recorder,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) today() civil.Date { return civil.DateOf(s.now()) }

func (s *Service) decorate(e *Employee) *Employee {
	if e != nil {
		e.ServiceYears = ServiceYears(e.StartDate, s.today())
	}
	return e
}

// canManageRole reports whether actor may create or change the employment of
// an account holding role. Only admins touch admin and manager accounts.
func canManageRole(actor auth.Principal, role auth.Role) bool {
	switch role {
	case auth.RoleAdmin, auth.RoleManager:
		return actor.Role == auth.RoleAdmin
	default:
		return actor.Role == auth.RoleAdmin || actor.Role == auth.RoleManager
	}
}

// Create registers a user account and its employee profile together.
func (s *Service) Create(ctx context.Context, actor auth.Principal, req CreateRequest, ip string) (*Employee, error) {
	ctx, span := employeesTracer.Start(ctx, "employees.create")
	defer span.End()

	number := strings.TrimSpace(req.EmployeeNumber)
	taken, err := s.repo.ExistsByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrDuplicateEmployeeNumber
	}
	if !ValidContactInformation(req.Email, req.PhoneNumber) || !ValidContactInformation("", req.EmergencyContactPhone) {
		return nil, ErrInvalidContactInformation
	}
	if inUse, err := s.repo.EmailInUse(ctx, strings.TrimSpace(req.Email), ""); err != nil {
		return nil, err
	} else if inUse {
		return nil, auth.ErrEmailTaken
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("employees: hash password: %w", err)
	}
	role := auth.RoleEmployee
	if parsed, ok := auth.ParseRole(req.Role); ok {
		role = parsed
	}
	if !canManageRole(actor, role) {
		return nil, auth.ErrForbidden
	}
	user := &auth.User{
		ID:                 uuid.NewString(),
		Username:           strings.TrimSpace(req.Username),
		Email:              strings.TrimSpace(req.Email),
		PasswordHash:       hash,
		FirstName:          strings.TrimSpace(req.FirstName),
		LastName:           strings.TrimSpace(req.LastName),
		Role:               role,
		Status:             auth.UserActive,
		EmailNotifications: true,
	}
	gender, _ := ParseGender(req.Gender)
	start := s.today()
	if req.StartDate != nil && !req.StartDate.IsZero() {
		start = *req.StartDate
	}
	emp := &Employee{
		ID:                    uuid.NewString(),
		UserID:                user.ID,
		EmployeeNumber:        number,
		Username:              user.Username,
		Email:                 user.Email,
		FirstName:             user.FirstName,
		LastName:              user.LastName,
		Role:                  user.Role,
		UserStatus:            user.Status,
		Title:                 strings.TrimSpace(req.Title),
		DateOfBirth:           req.DateOfBirth,
		Gender:                gender,
		PhoneNumber:           strings.TrimSpace(req.PhoneNumber),
		Address:               strings.TrimSpace(req.Address),
		Postcode:              strings.TrimSpace(req.Postcode),
		EmergencyContactName:  strings.TrimSpace(req.EmergencyContactName),
		EmergencyContactPhone: strings.TrimSpace(req.EmergencyContactPhone),
		Department:            strings.TrimSpace(req.Department),
		JobTitle:              strings.TrimSpace(req.JobTitle),
		ManagerID:             req.ManagerID,
		StartDate:             start,
		EmploymentStatus:      StatusActive,
	}
	if err := s.repo.Create(ctx, user, emp); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("ohehr.employee_id", emp.ID))

	audit.Record(ctx, s.audit, s.logger, audit.Entry{
		UserID:      actor.UserID,
		ServiceName: serviceName,
		EntityType:  entityType,
		EntityID:    emp.ID,
		Action:      audit.ActionCreate,
		NewValues: audit.Values(map[string]any{
			"employeeNumber": emp.EmployeeNumber,
			"userId":         emp.UserID,
			"department":     emp.Department,
		}),
		IPAddress: ip,
	})
	logging.FromContext(ctx, s.logger).Info("employee profile created", "employee_id", emp.ID, "employee_number", emp.EmployeeNumber)
	return s.decorate(emp), nil
}

// canView lets staff roles read any profile and employees read their own.
func canView(actor auth.Principal, e *Employee) bool {
	return actor.HasRole(auth.RoleAdmin, auth.RoleManager, auth.RoleOHProfessional) || actor.UserID == e.UserID
}

func canEdit(actor auth.Principal, e *Employee) bool {
	return actor.HasRole(auth.RoleAdmin, auth.RoleManager) || actor.UserID == e.UserID
}

// Get returns a profile by id.
func (s *Service) Get(ctx context.Context, actor auth.Principal, id string) (*Employee, error) {
	e, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(actor, e) {
		return nil, auth.ErrForbidden
	}
	return s.decorate(e), nil
}

// Lookup is Get without access control, for other domain services.
func (s *Service) Lookup(ctx context.Context, id string) (*Employee, error) {
	e, err := s.repo.GetByID(ctx, id)
	return s.decorate(e), err
}

// LookupByUser resolves the profile owned by a user account.
func (s *Service) LookupByUser(ctx context.Context, userID string) (*Employee, error) {
	e, err := s.repo.GetByUserID(ctx, userID)
	return s.decorate(e), err
}

func (s *Service) GetByNumber(ctx context.Context, number string) (*Employee, error) {
	e, err := s.repo.GetByNumber(ctx, strings.TrimSpace(number))
	return s.decorate(e), err
}

// MyProfile returns the caller's own profile.
func (s *Service) MyProfile(ctx context.Context, actor auth.Principal) (*Employee, error) {
	return s.LookupByUser(ctx, actor.UserID)
}

func (s *Service) ListByStatus(ctx context.Context, status EmploymentStatus) ([]Employee, error) {
	list, err := s.repo.ListByStatus(ctx, status)
	if err != nil {
		return nil, err
	}
	for i := range list {
		s.decorate(&list[i])
	}
	return list, nil
}

func (s *Service) Search(ctx context.Context, query string) ([]Employee, error) {
	if strings.TrimSpace(query) == "" {
		return []Employee{}, nil
	}
	list, err := s.repo.Search(ctx, query, defaultSearchSize)
	if err != nil {
		return nil, err
	}
	for i := range list {
		s.decorate(&list[i])
	}
	return list, nil
}

// UpdatePersonalInformation applies a partial update of personal fields.
func (s *Service) UpdatePersonalInformation(ctx context.Context, actor auth.Principal, id string, req UpdatePersonalInformationRequest, ip string) (*Employee, error) {
	ctx, span := employeesTracer.Start(ctx, "employees.update_personal")
	defer span.End()

	e, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canEdit(actor, e) {
		return nil, auth.ErrForbidden
	}
	before := e.personalSnapshot()
	oldEmail := e.Email

	req.apply(e)
	if !ValidContactInformation(e.Email, e.PhoneNumber) || !ValidContactInformation("", e.EmergencyContactPhone) {
		return nil, ErrInvalidContactInformation
	}
	if strings.TrimSpace(e.Email) == "" {
		return nil, ErrInvalidContactInformation
	}
	if !strings.EqualFold(oldEmail, e.Email) {
		inUse, err := s.repo.EmailInUse(ctx, e.Email, e.UserID)
		if err != nil {
			return nil, err
		}
		if inUse {
			return nil, auth.ErrEmailTaken
		}
	}
	if err := s.repo.UpdatePersonal(ctx, e); err != nil {
		return nil, err
	}

	audit.Record(ctx, s.audit, s.logger, audit.Entry{
		UserID:      actor.UserID,
		ServiceName: serviceName,
		EntityType:  entityType,
		EntityID:    e.ID,
		Action:      audit.ActionUpdate,
		OldValues:   audit.Values(before),
		NewValues:   audit.Values(e.personalSnapshot()),
		IPAddress:   ip,
	})
	return s.decorate(e), nil
}

// ManageEmploymentStatus changes the employment status and keeps the user
// account's active flag in step with it.
func (s *Service) ManageEmploymentStatus(ctx context.Context, actor auth.Principal, id string, req StatusChangeRequest, ip string) (*Employee, error) {
	ctx, span := employeesTracer.Start(ctx, "employees.manage_status")
	defer span.End()

	status, ok := ParseStatus(req.Status)
	if !ok {
		return nil, fmt.Errorf("employees: unknown status %q", req.Status)
	}
	e, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canManageRole(actor, e.Role) {
		return nil, auth.ErrForbidden
	}
	old := e.EmploymentStatus

	userStatus := e.UserStatus
	switch status {
	case StatusTerminated:
		userStatus = auth.UserInactive
	case StatusActive:
		userStatus = auth.UserActive
	}
	if err := s.repo.UpdateStatus(ctx, e, status, userStatus); err != nil {
		return nil, err
	}
	e.EmploymentStatus = status
	e.UserStatus = userStatus
	span.SetAttributes(attribute.String("ohehr.employment_status", string(status)))

	audit.Record(ctx, s.audit, s.logger, audit.Entry{
		UserID:      actor.UserID,
		ServiceName: serviceName,
		EntityType:  entityType,
		EntityID:    e.ID,
		Action:      audit.ActionUpdate,
		OldValues:   audit.Values(map[string]any{"employmentStatus": old}),
		NewValues:   audit.Values(map[string]any{"employmentStatus": status, "reason": req.Reason}),
		IPAddress:   ip,
	})
	logging.FromContext(ctx, s.logger).Info("employment status changed",
		"employee_id", e.ID, "from", old, "to", status)
	return s.decorate(e), nil
}

// ValidateEmployeeNumber reports whether number is non-blank and unused.
func (s *Service) ValidateEmployeeNumber(ctx context.Context, number string) (bool, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return false, nil
	}
	taken, err := s.repo.ExistsByNumber(ctx, number)
	if err != nil {
		return false, err
	}
	return !taken, nil
}

func (s *Service) CalculateServiceYears(start civil.Date) int {
	return ServiceYears(start, s.today())
}

func (s *Service) CountByStatus(ctx context.Context) (map[EmploymentStatus]int, error) {
	return s.repo.CountByStatus(ctx)
}

// Anonymize strips personal data from the profile and deactivates the account.
func (s *Service) Anonymize(ctx context.Context, e *Employee, also ...db.TxStep) error {
	if e == nil {
		return ErrEmployeeNotFound
	}
	return s.repo.Anonymize(ctx, e, also...)
}

