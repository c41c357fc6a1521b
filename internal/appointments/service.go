package appointments

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
	"github.com/wolfman30/oh-ehr-portal/internal/employees"
	"github.com/wolfman30/oh-ehr-portal/internal/notify"
	"github.com/wolfman30/oh-ehr-portal/internal/professionals"
	"github.com/wolfman30/oh-ehr-portal/pkg/logging"
)

var appointmentsTracer = otel.Tracer("ohehr.internal.appointments")

const (
	serviceName         = "AppointmentService"
	entityType          = "Appointment"
	slotLength          = 30
	defaultListLimit    = 200
	defaultReminderLead = 24 * time.Hour
)

// defaultWindows is the clinic day used when a professional has no hours for
// the weekday: 09:00-12:00 and 14:00-17:00, in minutes after midnight.
var defaultWindows = [][2]int{{9 * 60, 12 * 60}, {14 * 60, 17 * 60}}

type EmployeeDirectory interface {
	Lookup(ctx context.Context, id string) (*employees.Employee, error)
	LookupByUser(ctx context.Context, userID string) (*employees.Employee, error)
}

type ProfessionalDirectory interface {
	Get(ctx context.Context, id string) (*professionals.Professional, error)
	GetByUserID(ctx context.Context, userID string) (*professionals.Professional, error)
}

// Notifier is the slice of notify.Service used for reminders.
type Notifier interface {
	Notify(ctx context.Context, req notify.Request) (*notify.Notification, error)
	CancelPending(ctx context.Context, relatedEntityID string, typ notify.Type) error
}

// Service books and manages appointments.
type Service struct {
	repo          Repository
	employees     EmployeeDirectory
	professionals ProfessionalDirectory
	notifier      Notifier
	audit         audit.Recorder
	logger        *logging.Logger
	reminderLead  time.Duration
	now           func() time.Time
}

func NewService(repo Repository, emps EmployeeDirectory, pros ProfessionalDirectory, notifier Notifier, recorder audit.Recorder, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		repo:          repo,
		employees:     emps,
		professionals: pros,
		notifier:      notifier,
		audit:         recorder,
		logger:        logger,
		reminderLead:  defaultReminderLead,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// WithReminderLead sets how long before the start the reminder fires.
func (s *Service) WithReminderLead(d time.Duration) *Service {
	if d > 0 {
		s.reminderLead = d
	}
	return s
}

// AvailableSlots lists the free 30-minute slots on date. Without a professional
// only the default clinic day minus past slots is returned.
func (s *Service) AvailableSlots(ctx context.Context, date civil.Date, professionalID string) ([]Slot, error) {
	if date.IsZero() {
		date = civil.DateOf(s.now())
	}
	windows := defaultWindows
	var booked []Appointment
	if professionalID != "" {
		p, err := s.professionals.Get(ctx, professionalID)
		if err != nil {
			return nil, err
		}
		if !p.Available {
			return []Slot{}, nil
		}
		if h, ok := p.WorkingHours.On(date.Weekday()); ok {
			start, end, err := h.Bounds()
			if err != nil {
				return nil, err
			}
			windows = [][2]int{{start, end}}
		}
		dayStart := date.Time()
		booked, err = s.repo.Booked(ctx, p.ID, dayStart, dayStart.AddDate(0, 0, 1))
		if err != nil {
			return nil, err
		}
	}
	return buildSlots(date, windows, booked, s.now()), nil
}

func buildSlots(date civil.Date, windows [][2]int, booked []Appointment, now time.Time) []Slot {
	base := date.Time()
	slots := []Slot{}
	for _, w := range windows {
		for m := w[0]; m+slotLength <= w[1]; m += slotLength {
			start := base.Add(time.Duration(m) * time.Minute)
			end := start.Add(slotLength * time.Minute)
			if !start.After(now) || overlapsAny(start, end, booked) {
				continue
			}
			slots = append(slots, Slot{Start: start, End: end, Label: start.Format("15:04")})
		}
	}
	return slots
}

func overlapsAny(start, end time.Time, booked []Appointment) bool {
	for i := range booked {
		if booked[i].Status == StatusCancelled {
			continue
		}
		if booked[i].ScheduledAt.Before(end) && booked[i].End().After(start) {
			return true
		}
	}
	return false
}

// Book creates a scheduled appointment and its reminder.
func (s *Service) Book(ctx context.Context, actor auth.Principal, req BookRequest, ip string) (*Appointment, error) {
	ctx, span := appointmentsTracer.Start(ctx, "appointments.book")
	defer span.End()

	at := req.ScheduledDateTime.UTC()
	if !at.After(s.now()) {
		return nil, ErrInPast
	}
	emp, err := s.bookingEmployee(ctx, actor, strings.TrimSpace(req.EmployeeID))
	if err != nil {
		return nil, err
	}
	pro, err := s.professionals.Get(ctx, strings.TrimSpace(req.ProfessionalID))
	if err != nil {
		return nil, err
	}
	if !pro.Available {
		return nil, ErrProfessionalUnavailable
	}
	typ, _ := ParseType(req.AppointmentType)
	mode, _ := ParseMode(req.AppointmentMode)

	a := &Appointment{
		ID:                 uuid.NewString(),
		EmployeeID:         emp.ID,
		EmployeeUserID:     emp.UserID,
		EmployeeName:       emp.FullName(),
		ProfessionalID:     pro.ID,
		ProfessionalUserID: pro.UserID,
		ProfessionalName:   pro.FullName(),
		Type:               typ,
		Mode:               mode,
		ScheduledAt:        at,
		DurationMinutes:    req.duration(),
		Status:             StatusScheduled,
		Location:           strings.TrimSpace(req.Location),
		Reason:             strings.TrimSpace(req.Reason),
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("ohehr.appointment_id", a.ID))
	s.scheduleReminder(ctx, a)

	audit.Record(ctx, s.audit, s.logger, audit.Entry{
		UserID:      actor.UserID,
		ServiceName: serviceName,
		EntityType:  entityType,
		EntityID:    a.ID,
		Action:      audit.ActionCreate,
		NewValues: audit.Values(map[string]any{
			"employeeId":     a.EmployeeID,
			"professionalId": a.ProfessionalID,
			"scheduledAt":    a.ScheduledAt,
			"type":           a.Type,
			"mode":           a.Mode,
		}),
		IPAddress: ip,
	})
	logging.FromContext(ctx, s.logger).Info("appointment booked",
		"appointment_id", a.ID, "professional_id", a.ProfessionalID, "scheduled_at", a.ScheduledAt)
	return a, nil
}

// bookingEmployee resolves who the booking is for. Employees may only book for themselves.
func (s *Service) bookingEmployee(ctx context.Context, actor auth.Principal, employeeID string) (*employees.Employee, error) {
	if actor.Role == auth.RoleEmployee {
		own, err := s.employees.LookupByUser(ctx, actor.UserID)
		if err != nil {
			return nil, err
		}
		if employeeID != "" && employeeID != own.ID {
			return nil, auth.ErrForbidden
		}
		return own, nil
	}
	if employeeID == "" {
		return nil, employees.ErrEmployeeNotFound
	}
	return s.employees.Lookup(ctx, employeeID)
}

func (s *Service) scheduleReminder(ctx context.Context, a *Appointment) {
	if s.notifier == nil {
		return
	}
	at := a.ScheduledAt.Add(-s.reminderLead)
	if now := s.now(); at.Before(now) {
		at = now
	}
	_, err := s.notifier.Notify(ctx, notify.Request{
		UserID: a.EmployeeUserID,
		Type:   notify.TypeAppointmentReminder,
		Title:  "Upcoming Appointment Reminder",
		Message: fmt.Sprintf("You have an appointment with %s on %s.",
			a.ProfessionalName, a.ScheduledAt.Format("Mon 2 Jan 2006 at 15:04 MST")),
		ScheduledFor:    at,
		RelatedEntityID: a.ID,
	})
	if err != nil {
		logging.FromContext(ctx, s.logger).Error("failed to schedule appointment reminder", "appointment_id", a.ID, "error", err)
	}
}

func (s *Service) cancelReminder(ctx context.Context, a *Appointment) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.CancelPending(ctx, a.ID, notify.TypeAppointmentReminder); err != nil {
		logging.FromContext(ctx, s.logger).Error("failed to cancel appointment reminder", "appointment_id", a.ID, "error", err)
	}
}

func canAccess(actor auth.Principal, a *Appointment) bool {
	return actor.HasRole(auth.RoleAdmin, auth.RoleManager) ||
		actor.UserID == a.EmployeeUserID || actor.UserID == a.ProfessionalUserID
}

// canManage covers status changes other than cancellation.
func canManage(actor auth.Principal, a *Appointment) bool {
	return actor.HasRole(auth.RoleAdmin, auth.RoleManager) || actor.UserID == a.ProfessionalUserID
}

func (s *Service) Get(ctx context.Context, actor auth.Principal, id string) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canAccess(actor, a) {
		return nil, auth.ErrForbidden
	}
	return a, nil
}

// Lookup is GetByID without access control, for other domain services.
func (s *Service) Lookup(ctx context.Context, id string) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

// List applies f, narrowed to the caller's own appointments for employees and professionals.
func (s *Service) List(ctx context.Context, actor auth.Principal, f Filter) ([]Appointment, error) {
	switch actor.Role {
	case auth.RoleEmployee:
		emp, err := s.employees.LookupByUser(ctx, actor.UserID)
		if err != nil {
			return nil, err
		}
		f.EmployeeID = emp.ID
	case auth.RoleOHProfessional:
		pro, err := s.professionals.GetByUserID(ctx, actor.UserID)
		if err != nil {
			return nil, err
		}
		f.ProfessionalID = pro.ID
	}
	if f.Limit <= 0 || f.Limit > defaultListLimit {
		f.Limit = defaultListLimit
	}
	return s.repo.List(ctx, f)
}

// Upcoming returns the caller's next non-cancelled appointments.
func (s *Service) Upcoming(ctx context.Context, actor auth.Principal, limit int) ([]Appointment, error) {
	list, err := s.List(ctx, actor, Filter{From: s.now(), Limit: defaultListLimit})
	if err != nil {
		return nil, err
	}
	out := make([]Appointment, 0, limit)
	for _, a := range list {
		if a.Status == StatusScheduled || a.Status == StatusConfirmed {
			out = append(out, a)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// OnDate returns the caller's appointments starting on date.
func (s *Service) OnDate(ctx context.Context, actor auth.Principal, date civil.Date) ([]Appointment, error) {
	start := date.Time()
	return s.List(ctx, actor, Filter{From: start, To: start.AddDate(0, 0, 1)})
}

// Today is the current UTC date.
func (s *Service) Today() civil.Date { return civil.DateOf(s.now()) }

// UpdateStatus applies one transition of the appointment state machine.
func (s *Service) UpdateStatus(ctx context.Context, actor auth.Principal, id string, to Status, ip string) (*Appointment, error) {
	a, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if to == StatusCancelled {
		return s.cancel(ctx, actor, a, "", ip)
	}
	if !canManage(actor, a) {
		return nil, auth.ErrForbidden
	}
	if err := s.transition(ctx, actor, a, to, ip); err != nil {
		return nil, err
	}
	return a, nil
}

// Cancel is open to both parties and to staff.
func (s *Service) Cancel(ctx context.Context, actor auth.Principal, id, reason, ip string) (*Appointment, error) {
	a, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return s.cancel(ctx, actor, a, reason, ip)
}

func (s *Service) cancel(ctx context.Context, actor auth.Principal, a *Appointment, reason, ip string) (*Appointment, error) {
	a.CancellationReason = strings.TrimSpace(reason)
	if err := s.transition(ctx, actor, a, StatusCancelled, ip); err != nil {
		return nil, err
	}
	return a, nil
}

// CompleteInProgress marks an in-progress appointment completed, e.g. when its
// video session ends. Other statuses are left alone.
func (s *Service) CompleteInProgress(ctx context.Context, actor auth.Principal, id string) error {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if a.Status != StatusInProgress {
		return nil
	}
	return s.transition(ctx, actor, a, StatusCompleted, "")
}

func (s *Service) transition(ctx context.Context, actor auth.Principal, a *Appointment, to Status, ip string) error {
	from := a.Status
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
	}
	if err := s.repo.UpdateStatus(ctx, a, from, to); err != nil {
		return err
	}
	if to == StatusCancelled || to == StatusNoShow {
		s.cancelReminder(ctx, a)
	}
	newValues := map[string]any{"status": to}
	if a.CancellationReason != "" {
		newValues["cancellationReason"] = a.CancellationReason
	}
	audit.Record(ctx, s.audit, s.logger, audit.Entry{
		UserID:      actor.UserID,
		ServiceName: serviceName,
		EntityType:  entityType,
		EntityID:    a.ID,
		Action:      audit.ActionUpdate,
		OldValues:   audit.Values(map[string]any{"status": from}),
		NewValues:   audit.Values(newValues),
		IPAddress:   ip,
	})
	logging.FromContext(ctx, s.logger).Info("appointment status changed", "appointment_id", a.ID, "from", from, "to", to)
	return nil
}

// Reschedule moves a scheduled or confirmed appointment and replaces its reminder.
func (s *Service) Reschedule(ctx context.Context, actor auth.Principal, id string, at time.Time, ip string) (*Appointment, error) {
	ctx, span := appointmentsTracer.Start(ctx, "appointments.reschedule")
	defer span.End()

	a, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !a.Status.reschedulable() {
		return nil, fmt.Errorf("%w: cannot reschedule a %s appointment", ErrInvalidTransition, a.Status)
	}
	at = at.UTC()
	if !at.After(s.now()) {
		return nil, ErrInPast
	}
	old := a.ScheduledAt
	if err := s.repo.Reschedule(ctx, a, at); err != nil {
		return nil, err
	}
	s.cancelReminder(ctx, a)
	s.scheduleReminder(ctx, a)

	audit.Record(ctx, s.audit, s.logger, audit.Entry{
		UserID:      actor.UserID,
		ServiceName: serviceName,
		EntityType:  entityType,
		EntityID:    a.ID,
		Action:      audit.ActionUpdate,
		OldValues:   audit.Values(map[string]any{"scheduledAt": old}),
		NewValues:   audit.Values(map[string]any{"scheduledAt": at, "status": a.Status}),
		IPAddress:   ip,
	})
	logging.FromContext(ctx, s.logger).Info("appointment rescheduled", "appointment_id", a.ID, "scheduled_at", at)
	return a, nil
}

// UpdateNotes is reserved to the professional the appointment is with.
func (s *Service) UpdateNotes(ctx context.Context, actor auth.Principal, id, notes string) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.UserID != a.ProfessionalUserID {
		return nil, auth.ErrForbidden
	}
	a.Notes = strings.TrimSpace(notes)
	if err := s.repo.UpdateNotes(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}
