package professionals

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/wolfman30/oh-ehr-portal/internal/audit"
	"github.com/wolfman30/oh-ehr-portal/internal/auth"
	"github.com/wolfman30/oh-ehr-portal/pkg/logging"
)

// UserLookup resolves accounts; auth.Service satisfies it.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (*auth.User, error)
}

type Service struct {
	repo   Repository
	users  UserLookup
	audit  audit.Recorder
	logger *logging.Logger
}

func NewService(repo Repository, users UserLookup, recorder audit.Recorder, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{repo: repo, users: users, audit: recorder, logger: logger}
}

// Create attaches a professional profile to an existing oh_professional account.
func (s *Service) Create(ctx context.Context, actor auth.Principal, req CreateRequest) (*Professional, error) {
	user, err := s.users.GetUser(ctx, strings.TrimSpace(req.UserID))
	if err != nil {
		return nil, err
	}
	if user.Role != auth.RoleOHProfessional {
		return nil, ErrNotProfessionalUser
	}
	available := true
	if req.Available != nil {
		available = *req.Available
	}
	p := &Professional{
		ID:                 uuid.NewString(),
		UserID:             user.ID,
		FirstName:          user.FirstName,
		LastName:           user.LastName,
		Email:              user.Email,
		RegistrationNumber: strings.TrimSpace(req.RegistrationNumber),
		Specialization:     strings.TrimSpace(req.Specialization),
		WorkingHours:       req.WorkingHours.normalized(),
		Available:          available,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	audit.Record(ctx, s.audit, s.logger, audit.Entry{
		UserID:      actor.UserID,
		ServiceName: "ProfessionalService",
		EntityType:  "OHProfessional",
		EntityID:    p.ID,
		Action:      audit.ActionCreate,
		NewValues:   audit.Values(map[string]any{"userId": p.UserID, "registrationNumber": p.RegistrationNumber}),
	})
	return p, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Professional, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByUserID(ctx context.Context, userID string) (*Professional, error) {
	return s.repo.GetByUserID(ctx, userID)
}

func (s *Service) List(ctx context.Context, onlyAvailable bool) ([]Professional, error) {
	return s.repo.List(ctx, onlyAvailable)
}

// UpdateAvailability is allowed to admins and to the professional themself.
func (s *Service) UpdateAvailability(ctx context.Context, actor auth.Principal, id string, req AvailabilityRequest) (*Professional, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.HasRole(auth.RoleAdmin) && actor.UserID != p.UserID {
		return nil, auth.ErrForbidden
	}
	if req.WorkingHours != nil {
		if err := req.WorkingHours.Validate(); err != nil {
			return nil, err
		}
		p.WorkingHours = req.WorkingHours.normalized()
	}
	if req.Available != nil {
		p.Available = *req.Available
	}
	if err := s.repo.UpdateAvailability(ctx, p); err != nil {
		return nil, err
	}
	logging.FromContext(ctx, s.logger).Info("professional availability updated", "professional_id", p.ID, "available", p.Available)
	return p, nil
}
