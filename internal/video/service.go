package video

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/oh-ehr-portal/internal/appointments"
	"github.com/wolfman30/oh-ehr-portal/internal/auth"
	"github.com/wolfman30/oh-ehr-portal/pkg/logging"
)

// AppointmentStore is the slice of the appointments service video needs.
type AppointmentStore interface {
	Lookup(ctx context.Context, id string) (*appointments.Appointment, error)
	CompleteInProgress(ctx context.Context, actor auth.Principal, id string) error
}

type Service struct {
	repo         Repository
	appointments AppointmentStore
	iceServers   []ICEServer
	logger       *logging.Logger
	now          func() time.Time
}

// NewService builds the session service. stunURLs become the advertised ICE servers.
func NewService(repo Repository, appts AppointmentStore, stunURLs []string, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	var servers []ICEServer
	for _, u := range stunURLs {
		if u = strings.TrimSpace(u); u != "" {
			servers = append(servers, ICEServer{URLs: []string{u}})
		}
	}
	return &Service{
		repo:         repo,
		appointments: appts,
		iceServers:   servers,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// roleIn returns the caller's role in the appointment's call, or ErrForbidden.
func roleIn(actor auth.Principal, a *appointments.Appointment) (Role, error) {
	switch actor.UserID {
	case a.ProfessionalUserID:
		return RoleHost, nil
	case a.EmployeeUserID:
		return RoleParticipant, nil
	}
	return "", auth.ErrForbidden
}

func (s *Service) info(sess *Session, role Role) *SessionInfo {
	servers := s.iceServers
	if servers == nil {
		servers = []ICEServer{}
	}
	return &SessionInfo{
		SessionID:     sess.ID,
		MeetingRoomID: sess.MeetingRoomID,
		Status:        sess.Status,
		Role:          role,
		ICEServers:    servers,
	}
}

// GetOrCreate returns the appointment's session, creating it on first use.
func (s *Service) GetOrCreate(ctx context.Context, actor auth.Principal, appointmentID string) (*SessionInfo, error) {
	a, err := s.appointments.Lookup(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if a.Mode != appointments.ModeVirtual {
		return nil, ErrNotVirtual
	}
	role, err := roleIn(actor, a)
	if err != nil {
		return nil, err
	}
	sess, err := s.repo.GetByAppointment(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		sess, err = s.repo.Create(ctx, &Session{
			ID:            uuid.NewString(),
			AppointmentID: a.ID,
			MeetingRoomID: "room-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
			Status:        StatusWaiting,
			CreatedAt:     s.now(),
		})
		if err != nil {
			return nil, err
		}
		logging.FromContext(ctx, s.logger).Info("video session created", "session_id", sess.ID, "appointment_id", a.ID)
	}
	return s.info(sess, role), nil
}

// Authorize loads a live session the caller belongs to.
func (s *Service) Authorize(ctx context.Context, actor auth.Principal, sessionID string) (*Session, Role, error) {
	sess, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		return nil, "", err
	}
	a, err := s.appointments.Lookup(ctx, sess.AppointmentID)
	if err != nil {
		return nil, "", err
	}
	role, err := roleIn(actor, a)
	if err != nil {
		return nil, "", err
	}
	if sess.Status == StatusEnded {
		return nil, "", ErrSessionEnded
	}
	return sess, role, nil
}

// Join records the caller in the session. The second participant starts the call.
func (s *Service) Join(ctx context.Context, actor auth.Principal, sessionID string) (*SessionInfo, error) {
	sess, role, err := s.Authorize(ctx, actor, sessionID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	present, err := s.repo.Join(ctx, &Participant{SessionID: sess.ID, UserID: actor.UserID, Role: role, JoinedAt: now})
	if err != nil {
		return nil, err
	}
	if present >= 2 && sess.Status == StatusWaiting {
		sess.Status = StatusActive
		sess.StartedAt = &now
		if err := s.repo.UpdateStatus(ctx, sess); err != nil {
			return nil, err
		}
		logging.FromContext(ctx, s.logger).Info("video session active", "session_id", sess.ID)
	}
	return s.info(sess, role), nil
}

func (s *Service) Leave(ctx context.Context, actor auth.Principal, sessionID string) error {
	sess, _, err := s.Authorize(ctx, actor, sessionID)
	if err != nil {
		return err
	}
	return s.repo.Leave(ctx, sess.ID, actor.UserID, s.now())
}

// End closes the session and completes an in-progress appointment.
func (s *Service) End(ctx context.Context, actor auth.Principal, sessionID string) (*Session, error) {
	sess, role, err := s.Authorize(ctx, actor, sessionID)
	if err != nil {
		return nil, err
	}
	if role != RoleHost {
		return nil, ErrNotHost
	}
	now := s.now()
	sess.Status = StatusEnded
	sess.EndedAt = &now
	if err := s.repo.UpdateStatus(ctx, sess); err != nil {
		return nil, err
	}
	if err := s.appointments.CompleteInProgress(ctx, actor, sess.AppointmentID); err != nil {
		return nil, err
	}
	logging.FromContext(ctx, s.logger).Info("video session ended", "session_id", sess.ID, "appointment_id", sess.AppointmentID)
	return sess, nil
}
