package healthrecords

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/oh-ehr-portal/internal/auth"
	"github.com/wolfman30/oh-ehr-portal/internal/employees"
	"github.com/wolfman30/oh-ehr-portal/internal/http/middleware"
	"github.com/wolfman30/oh-ehr-portal/internal/http/respond"
	"github.com/wolfman30/oh-ehr-portal/pkg/logging"
)

type records interface {
	Get(ctx context.Context, actor auth.Principal, employeeID string) (*Record, error)
	Mine(ctx context.Context, actor auth.Principal) (*Record, error)
	Fitness(ctx context.Context, actor auth.Principal, employeeID string) (*FitnessSummary, error)
	Upsert(ctx context.Context, actor auth.Principal, employeeID string, req UpsertRequest, ip string) (*Record, error)
	KnownCode(code string) bool
}

// Handler serves /api/health-records.
type Handler struct {
	svc    records
	logger *logging.Logger
}

func NewHandler(svc records, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/me", h.Mine)
	r.Get("/{employeeId}", h.Get)
	r.Get("/{employeeId}/fitness", h.Fitness)
	r.With(middleware.RequireRoles(auth.RoleOHProfessional)).Put("/{employeeId}", h.Upsert)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	rec, err := h.svc.Get(r.Context(), p, chi.URLParam(r, "employeeId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, rec)
}

func (h *Handler) Mine(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	rec, err := h.svc.Mine(r.Context(), p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, rec)
}

func (h *Handler) Fitness(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	f, err := h.svc.Fitness(r.Context(), p, chi.URLParam(r, "employeeId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, f)
}

func (h *Handler) Upsert(w http.ResponseWriter, r *http.Request) {
	var req UpsertRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if fields := req.Validate(h.svc.KnownCode); fields != nil {
		respond.ValidationFailed(w, fields)
		return
	}
	p, _ := auth.PrincipalFromContext(r.Context())
	rec, err := h.svc.Upsert(r.Context(), p, chi.URLParam(r, "employeeId"), req, auth.ClientInfoFromRequest(r).IPAddress)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, rec)
}

func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrRecordNotFound):
		return http.StatusNotFound, "Health record not found"
	case errors.Is(err, ErrConsentRequired):
		return http.StatusForbidden, "Employee has not consented to health data processing"
	case errors.Is(err, employees.ErrEmployeeNotFound):
		return employees.StatusFor(err)
	default:
		return auth.StatusFor(err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := StatusFor(err)
	if status == http.StatusInternalServerError {
		logging.FromContext(r.Context(), h.logger).Error("health record request failed", "path", r.URL.Path, "error", err)
	}
	respond.Error(w, status, msg)
}
