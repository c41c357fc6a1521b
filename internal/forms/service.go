package forms

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/oh-ehr-portal/internal/audit"
	"github.com/wolfman30/oh-ehr-portal/internal/auth"
	"github.com/wolfman30/oh-ehr-portal/internal/employees"
	"github.com/wolfman30/oh-ehr-portal/internal/terminology"
	"github.com/wolfman30/oh-ehr-portal/pkg/logging"
)

const serviceName = "FormService"

type CodeLookup interface {
	Lookup(code string) (terminology.Concept, bool)
}

type EmployeeStore interface {
	Lookup(ctx context.Context, id string) (*employees.Employee, error)
	LookupByUser(ctx context.Context, userID string) (*employees.Employee, error)
}

type Service struct {
	repo      Repository
	codes     CodeLookup
	employees EmployeeStore
	audit     audit.Recorder
	logger    *logging.Logger
	now       func() time.Time
}

func NewService(repo Repository, codes CodeLookup, emps EmployeeStore, recorder audit.Recorder, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		repo:      repo,
		codes:     codes,
		employees: emps,
		audit:     recorder,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func canEdit(actor auth.Principal) error {
	if actor.HasRole(auth.RoleOHProfessional, auth.RoleAdmin) {
		return nil
	}
	return auth.ErrForbidden
}

func (s *Service) Create(ctx context.Context, actor auth.Principal, req TemplateRequest) (*Template, error) {
	if err := canEdit(actor); err != nil {
		return nil, err
	}
	req.normalize()
	now := s.now()
	t := &Template{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		Rows:        req.Rows,
		Version:     1,
		CreatedBy:   actor.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateTemplate(ctx, t); err != nil {
		return nil, err
	}
	s.record(ctx, actor, "FormTemplate", t.ID, audit.ActionCreate, nil, audit.Values(map[string]any{"name": t.Name, "version": t.Version}))
	logging.FromContext(ctx, s.logger).Info("form template created", "template_id", t.ID)
	return t, nil
}

// Update replaces the template body and bumps its version.
func (s *Service) Update(ctx context.Context, actor auth.Principal, id string, req TemplateRequest) (*Template, error) {
	if err := canEdit(actor); err != nil {
		return nil, err
	}
	t, err := s.repo.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	req.normalize()
	old := audit.Values(map[string]any{"name": t.Name, "version": t.Version})
	t.Name, t.Description, t.Category, t.Rows = req.Name, req.Description, req.Category, req.Rows
	t.Version++
	t.UpdatedAt = s.now()
	if err := s.repo.UpdateTemplate(ctx, t); err != nil {
		return nil, err
	}
	s.record(ctx, actor, "FormTemplate", t.ID, audit.ActionUpdate, old, audit.Values(map[string]any{"name": t.Name, "version": t.Version}))
	return t, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Template, error) {
	return s.repo.GetTemplate(ctx, id)
}

func (s *Service) List(ctx context.Context, category string) ([]Template, error) {
	return s.repo.ListTemplates(ctx, category)
}

func (s *Service) Delete(ctx context.Context, actor auth.Principal, id string) error {
	if err := canEdit(actor); err != nil {
		return err
	}
	if err := s.repo.DeleteTemplate(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actor, "FormTemplate", id, audit.ActionDelete, nil, nil)
	return nil
}

// SeedBuiltins stores each bundled template whose name is not taken yet.
func (s *Service) SeedBuiltins(ctx context.Context) (int, error) {
	reqs, err := Builtins()
	if err != nil {
		return 0, err
	}
	seeded := 0
	for _, req := range reqs {
		exists, err := s.repo.TemplateNameExists(ctx, req.Name)
		if err != nil {
			return seeded, err
		}
		if exists {
			continue
		}
		now := s.now()
		err = s.repo.CreateTemplate(ctx, &Template{
			ID:          uuid.NewString(),
			Name:        req.Name,
			Description: req.Description,
			Category:    req.Category,
			Rows:        req.Rows,
			Version:     1,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if errors.Is(err, ErrDuplicateName) {
			continue
		}
		if err != nil {
			return seeded, err
		}
		seeded++
	}
	if seeded > 0 {
		s.logger.Info("built-in form templates seeded", "count", seeded)
	}
	return seeded, nil
}

// subject resolves whose form is being handled. Employees may only act for themselves.
func (s *Service) subject(ctx context.Context, actor auth.Principal, employeeID string) (*employees.Employee, error) {
	if actor.HasRole(auth.RoleOHProfessional, auth.RoleAdmin) {
		if employeeID == "" {
			return nil, employees.ErrEmployeeNotFound
		}
		return s.employees.Lookup(ctx, employeeID)
	}
	own, err := s.employees.LookupByUser(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	if employeeID != "" && employeeID != own.ID {
		return nil, auth.ErrForbidden
	}
	return own, nil
}

func (s *Service) knownCode(code string) bool {
	if s.codes == nil {
		return false
	}
	_, ok := s.codes.Lookup(code)
	return ok
}

// Submit validates answers against the current template and stores them with its version.
func (s *Service) Submit(ctx context.Context, actor auth.Principal, templateID string, req SubmitRequest, ip string) (*Submission, error) {
	t, err := s.repo.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	emp, err := s.subject(ctx, actor, req.EmployeeID)
	if err != nil {
		return nil, err
	}
	if errs := checkAnswers(t, req.Answers, s.knownCode); errs != nil {
		return nil, &AnswerError{Fields: errs}
	}
	sub := &Submission{
		ID:              uuid.NewString(),
		TemplateID:      t.ID,
		TemplateVersion: t.Version,
		EmployeeID:      emp.ID,
		Answers:         req.Answers,
		SubmittedBy:     actor.UserID,
		SubmittedAt:     s.now(),
	}
	if err := s.repo.InsertSubmission(ctx, sub); err != nil {
		return nil, err
	}
	entry := audit.Entry{
		UserID:      actor.UserID,
		ServiceName: serviceName,
		EntityType:  "FormSubmission",
		EntityID:    sub.ID,
		Action:      audit.ActionCreate,
		NewValues:   audit.Values(map[string]any{"templateId": t.ID, "templateVersion": t.Version, "employeeId": emp.ID}),
		IPAddress:   ip,
	}
	audit.Record(ctx, s.audit, s.logger, entry)
	logging.FromContext(ctx, s.logger).Info("form submitted", "template_id", t.ID, "employee_id", emp.ID)
	return sub, nil
}

func (s *Service) Submissions(ctx context.Context, actor auth.Principal, employeeID string) ([]Submission, error) {
	emp, err := s.subject(ctx, actor, employeeID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListSubmissions(ctx, emp.ID)
}

func (s *Service) record(ctx context.Context, actor auth.Principal, entity, id string, action audit.Action, oldValues, newValues json.RawMessage) {
	audit.Record(ctx, s.audit, s.logger, audit.Entry{
		UserID:      actor.UserID,
		ServiceName: serviceName,
		EntityType:  entity,
		EntityID:    id,
		Action:      action,
		OldValues:   oldValues,
		NewValues:   newValues,
	})
}
