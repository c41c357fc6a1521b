package appointments

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/oh-ehr-portal/internal/auth"
	"github.com/wolfman30/oh-ehr-portal/internal/civil"
	"github.com/wolfman30/oh-ehr-portal/internal/employees"
	"github.com/wolfman30/oh-ehr-portal/internal/http/middleware"
	"github.com/wolfman30/oh-ehr-portal/internal/http/respond"
	"github.com/wolfman30/oh-ehr-portal/internal/professionals"
	"github.com/wolfman30/oh-ehr-portal/pkg/logging"
)

type calendar interface {
	AvailableSlots(ctx context.Context, date civil.Date, professionalID string) ([]Slot, error)
	Book(ctx context.Context, actor auth.Principal, req BookRequest, ip string) (*Appointment, error)
	Get(ctx context.Context, actor auth.Principal, id string) (*Appointment, error)
	List(ctx context.Context, actor auth.Principal, f Filter) ([]Appointment, error)
	UpdateStatus(ctx context.Context, actor auth.Principal, id string, to Status, ip string) (*Appointment, error)
	Cancel(ctx context.Context, actor auth.Principal, id, reason, ip string) (*Appointment, error)
	Reschedule(ctx context.Context, actor auth.Principal, id string, at time.Time, ip string) (*Appointment, error)
	UpdateNotes(ctx context.Context, actor auth.Principal, id, notes string) (*Appointment, error)
}

// Handler serves /api/appointments.
type Handler struct {
	svc    calendar
	logger *logging.Logger
}

func NewHandler(svc calendar, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/slots", h.Slots)
	r.Get("/", h.List)
	r.Post("/", h.Book)
	r.Get("/{id}", h.Get)
	r.Put("/{id}/status", h.UpdateStatus)
	r.Put("/{id}/cancel", h.Cancel)
	r.Put("/{id}/reschedule", h.Reschedule)
	r.With(middleware.RequireRoles(auth.RoleOHProfessional)).Put("/{id}/notes", h.UpdateNotes)
}

func (h *Handler) Slots(w http.ResponseWriter, r *http.Request) {
	var date civil.Date
	if raw := r.URL.Query().Get("date"); raw != "" {
		d, err := civil.ParseDate(raw)
		if err != nil {
			respond.Error(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		date = d
	}
	slots, err := h.svc.AvailableSlots(r.Context(), date, r.URL.Query().Get("professionalId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, slots)
}

func (h *Handler) Book(w http.ResponseWriter, r *http.Request) {
	var req BookRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if fields := req.Validate(); fields != nil {
		respond.ValidationFailed(w, fields)
		return
	}
	p, _ := auth.PrincipalFromContext(r.Context())
	a, err := h.svc.Book(r.Context(), p, req, auth.ClientInfoFromRequest(r).IPAddress)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, a)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := Filter{EmployeeID: q.Get("employeeId"), ProfessionalID: q.Get("professionalId")}
	if raw := q.Get("status"); raw != "" {
		status, ok := ParseStatus(raw)
		if !ok {
			respond.Error(w, http.StatusBadRequest, "Unknown appointment status")
			return
		}
		f.Status = status
	}
	var err error
	if f.From, err = parseBound(q.Get("from")); err != nil {
		respond.Error(w, http.StatusBadRequest, "from must be RFC 3339 or YYYY-MM-DD")
		return
	}
	if f.To, err = parseBound(q.Get("to")); err != nil {
		respond.Error(w, http.StatusBadRequest, "to must be RFC 3339 or YYYY-MM-DD")
		return
	}
	p, _ := auth.PrincipalFromContext(r.Context())
	list, err := h.svc.List(r.Context(), p, f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []Appointment{}
	}
	respond.JSON(w, http.StatusOK, list)
}

func parseBound(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	d, err := civil.ParseDate(raw)
	if err != nil {
		return time.Time{}, err
	}
	return d.Time(), nil
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	a, err := h.svc.Get(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, a)
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	status, ok := ParseStatus(req.Status)
	if !ok {
		respond.ValidationFailed(w, map[string]string{"status": "Unknown appointment status"})
		return
	}
	p, _ := auth.PrincipalFromContext(r.Context())
	a, err := h.svc.UpdateStatus(r.Context(), p, chi.URLParam(r, "id"), status, auth.ClientInfoFromRequest(r).IPAddress)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, a)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if r.ContentLength != 0 {
		if err := respond.Decode(r, &req); err != nil {
			respond.Error(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if len(req.Reason) > 500 {
		respond.ValidationFailed(w, map[string]string{"reason": "Reason must not exceed 500 characters"})
		return
	}
	p, _ := auth.PrincipalFromContext(r.Context())
	a, err := h.svc.Cancel(r.Context(), p, chi.URLParam(r, "id"), req.Reason, auth.ClientInfoFromRequest(r).IPAddress)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, a)
}

func (h *Handler) Reschedule(w http.ResponseWriter, r *http.Request) {
	var req RescheduleRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ScheduledDateTime.IsZero() {
		respond.ValidationFailed(w, map[string]string{"scheduledDateTime": "Scheduled date and time is required"})
		return
	}
	p, _ := auth.PrincipalFromContext(r.Context())
	a, err := h.svc.Reschedule(r.Context(), p, chi.URLParam(r, "id"), req.ScheduledDateTime, auth.ClientInfoFromRequest(r).IPAddress)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, a)
}

func (h *Handler) UpdateNotes(w http.ResponseWriter, r *http.Request) {
	var req NotesRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	p, _ := auth.PrincipalFromContext(r.Context())
	a, err := h.svc.UpdateNotes(r.Context(), p, chi.URLParam(r, "id"), req.Notes)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, a)
}

// StatusFor maps appointment errors, and the directory errors booking surfaces, to HTTP.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrAppointmentNotFound):
		return http.StatusNotFound, "Appointment not found"
	case errors.Is(err, ErrSlotConflict):
		return http.StatusConflict, "The professional already has an appointment at that time"
	case errors.Is(err, ErrInvalidTransition):
		return http.StatusConflict, "Appointment status change not allowed"
	case errors.Is(err, ErrProfessionalUnavailable):
		return http.StatusConflict, "Professional is not available"
	case errors.Is(err, ErrInPast):
		return http.StatusBadRequest, "Appointment time must be in the future"
	case errors.Is(err, employees.ErrEmployeeNotFound):
		return employees.StatusFor(err)
	case errors.Is(err, professionals.ErrProfessionalNotFound), errors.Is(err, professionals.ErrInvalidWorkingHours):
		return professionals.StatusFor(err)
	default:
		return auth.StatusFor(err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := StatusFor(err)
	if status == http.StatusInternalServerError {
		logging.FromContext(r.Context(), h.logger).Error("appointment request failed", "path", r.URL.Path, "error", err)
	}
	respond.Error(w, status, msg)
}
