// Package dashboard assembles the landing-page summary for each role.
package dashboard

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfman30/oh-ehr-portal/internal/appointments"
	"github.com/wolfman30/oh-ehr-portal/internal/auth"
	"github.com/wolfman30/oh-ehr-portal/internal/civil"
	"github.com/wolfman30/oh-ehr-portal/internal/employees"
	"github.com/wolfman30/oh-ehr-portal/internal/healthrecords"
	"github.com/wolfman30/oh-ehr-portal/internal/notify"
	"github.com/wolfman30/oh-ehr-portal/internal/observability/metrics"
)

const (
	upcomingLimit      = 5
	notificationsLimit = 5
)

type Appointments interface {
	Upcoming(ctx context.Context, actor auth.Principal, limit int) ([]appointments.Appointment, error)
	OnDate(ctx context.Context, actor auth.Principal, date civil.Date) ([]appointments.Appointment, error)
	List(ctx context.Context, actor auth.Principal, f appointments.Filter) ([]appointments.Appointment, error)
	Today() civil.Date
}

type Notifications interface {
	List(ctx context.Context, userID string, unreadOnly bool) ([]notify.Notification, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
}

type Fitness interface {
	FitnessForUser(ctx context.Context, actor auth.Principal) (*healthrecords.FitnessSummary, error)
}

type Employees interface {
	CountByStatus(ctx context.Context) (map[employees.EmploymentStatus]int, error)
}

type Users interface {
	UserCounts(ctx context.Context) (map[auth.Role]int, error)
}

// Operations reports process-level counters for the admin view.
type Operations interface {
	Operations() metrics.OpsSnapshot
}

// Summary carries only the section that matches Role.
type Summary struct {
	Role     auth.Role         `json:"role"`
	Employee *EmployeeView     `json:"employee,omitempty"`
	Clinic   *ProfessionalView `json:"ohProfessional,omitempty"`
	Manager  *ManagerView      `json:"manager,omitempty"`
	Admin    *AdminView        `json:"admin,omitempty"`
}

type EmployeeView struct {
	UpcomingAppointments []appointments.Appointment    `json:"upcomingAppointments"`
	UnreadNotifications  int                           `json:"unreadNotifications"`
	RecentNotifications  []notify.Notification         `json:"recentNotifications"`
	Fitness              *healthrecords.FitnessSummary `json:"fitness"`
}

type ProfessionalView struct {
	Date                string                     `json:"date"`
	TodaysAppointments  []appointments.Appointment `json:"todaysAppointments"`
	PendingAppointments int                        `json:"pendingAppointments"`
}

type ManagerView struct {
	EmployeesByStatus map[employees.EmploymentStatus]int `json:"employeesByStatus"`
	TotalEmployees    int                                `json:"totalEmployees"`
}

type AdminView struct {
	UsersByRole map[auth.Role]int    `json:"usersByRole"`
	TotalUsers  int                  `json:"totalUsers"`
	Operations  *metrics.OpsSnapshot `json:"operations,omitempty"`
}

type Service struct {
	appointments  Appointments
	notifications Notifications
	fitness       Fitness
	employees     Employees
	users         Users
	ops           Operations
	now           func() time.Time
}

func NewService(appts Appointments, notes Notifications, fitness Fitness, emps Employees, users Users) *Service {
	return &Service{
		appointments:  appts,
		notifications: notes,
		fitness:       fitness,
		employees:     emps,
		users:         users,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// WithOperations adds the metrics snapshot to the admin view.
func (s *Service) WithOperations(o Operations) *Service {
	s.ops = o
	return s
}

func (s *Service) Summary(ctx context.Context, actor auth.Principal) (*Summary, error) {
	out := &Summary{Role: actor.Role}
	var err error
	switch actor.Role {
	case auth.RoleEmployee:
		out.Employee, err = s.employeeView(ctx, actor)
	case auth.RoleOHProfessional:
		out.Clinic, err = s.professionalView(ctx, actor)
	case auth.RoleManager:
		out.Manager, err = s.managerView(ctx)
	case auth.RoleAdmin:
		out.Admin, err = s.adminView(ctx)
	default:
		return nil, auth.ErrForbidden
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) employeeView(ctx context.Context, actor auth.Principal) (*EmployeeView, error) {
	upcoming, err := s.appointments.Upcoming(ctx, actor, upcomingLimit)
	if err != nil {
		return nil, fmt.Errorf("dashboard: upcoming appointments: %w", err)
	}
	unread, err := s.notifications.UnreadCount(ctx, actor.UserID)
	if err != nil {
		return nil, fmt.Errorf("dashboard: unread count: %w", err)
	}
	recent, err := s.notifications.List(ctx, actor.UserID, true)
	if err != nil {
		return nil, fmt.Errorf("dashboard: notifications: %w", err)
	}
	if len(recent) > notificationsLimit {
		recent = recent[:notificationsLimit]
	}
	fitness, err := s.fitness.FitnessForUser(ctx, actor)
	if err != nil {
		return nil, fmt.Errorf("dashboard: fitness: %w", err)
	}
	if upcoming == nil {
		upcoming = []appointments.Appointment{}
	}
	if recent == nil {
		recent = []notify.Notification{}
	}
	return &EmployeeView{UpcomingAppointments: upcoming, UnreadNotifications: unread, RecentNotifications: recent, Fitness: fitness}, nil
}

func (s *Service) professionalView(ctx context.Context, actor auth.Principal) (*ProfessionalView, error) {
	today := s.appointments.Today()
	todays, err := s.appointments.OnDate(ctx, actor, today)
	if err != nil {
		return nil, fmt.Errorf("dashboard: today's appointments: %w", err)
	}
	pending, err := s.appointments.List(ctx, actor, appointments.Filter{Status: appointments.StatusScheduled, From: s.now()})
	if err != nil {
		return nil, fmt.Errorf("dashboard: pending appointments: %w", err)
	}
	if todays == nil {
		todays = []appointments.Appointment{}
	}
	return &ProfessionalView{Date: today.String(), TodaysAppointments: todays, PendingAppointments: len(pending)}, nil
}

func (s *Service) managerView(ctx context.Context) (*ManagerView, error) {
	counts, err := s.employees.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("dashboard: employee counts: %w", err)
	}
	v := &ManagerView{EmployeesByStatus: counts}
	for _, n := range counts {
		v.TotalEmployees += n
	}
	return v, nil
}

func (s *Service) adminView(ctx context.Context) (*AdminView, error) {
	counts, err := s.users.UserCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("dashboard: user counts: %w", err)
	}
	v := &AdminView{UsersByRole: counts}
	for _, n := range counts {
		v.TotalUsers += n
	}
	if s.ops != nil {
		snap := s.ops.Operations()
		v.Operations = &snap
	}
	return v, nil
}
