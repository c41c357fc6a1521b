package professionals

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/oh-ehr-portal/internal/auth"
	"github.com/wolfman30/oh-ehr-portal/internal/http/middleware"
	"github.com/wolfman30/oh-ehr-portal/internal/http/respond"
	"github.com/wolfman30/oh-ehr-portal/pkg/logging"
)

type directory interface {
	Create(ctx context.Context, actor auth.Principal, req CreateRequest) (*Professional, error)
	Get(ctx context.Context, id string) (*Professional, error)
	GetByUserID(ctx context.Context, userID string) (*Professional, error)
	List(ctx context.Context, onlyAvailable bool) ([]Professional, error)
	UpdateAvailability(ctx context.Context, actor auth.Principal, id string, req AvailabilityRequest) (*Professional, error)
}

// Handler serves /api/professionals.
type Handler struct {
	svc    directory
	logger *logging.Logger
}

func NewHandler(svc directory, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.List)
	r.Get("/available", h.ListAvailable)
	r.Get("/me", h.Me)
	r.Get("/{id}", h.Get)
	r.With(middleware.RequireRoles(auth.RoleAdmin, auth.RoleOHProfessional)).Put("/{id}/availability", h.UpdateAvailability)
	r.With(middleware.RequireRoles(auth.RoleAdmin)).Post("/", h.Create)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if fields := req.Validate(); fields != nil {
		respond.ValidationFailed(w, fields)
		return
	}
	p, _ := auth.PrincipalFromContext(r.Context())
	prof, err := h.svc.Create(r.Context(), p, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, prof)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, r.URL.Query().Get("available") == "true")
}

func (h *Handler) ListAvailable(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, true)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request, onlyAvailable bool) {
	list, err := h.svc.List(r.Context(), onlyAvailable)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []Professional{}
	}
	respond.JSON(w, http.StatusOK, list)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	prof, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, prof)
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	prof, err := h.svc.GetByUserID(r.Context(), p.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, prof)
}

func (h *Handler) UpdateAvailability(w http.ResponseWriter, r *http.Request) {
	var req AvailabilityRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	p, _ := auth.PrincipalFromContext(r.Context())
	prof, err := h.svc.UpdateAvailability(r.Context(), p, chi.URLParam(r, "id"), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, prof)
}

func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrProfessionalNotFound):
		return http.StatusNotFound, "Professional not found"
	case errors.Is(err, ErrDuplicateRegistration):
		return http.StatusConflict, "Registration number already exists"
	case errors.Is(err, ErrAlreadyProfessional):
		return http.StatusConflict, "User already has a professional profile"
	case errors.Is(err, ErrNotProfessionalUser):
		return http.StatusBadRequest, "User is not an OH professional"
	case errors.Is(err, ErrInvalidWorkingHours):
		return http.StatusBadRequest, err.Error()
	default:
		return auth.StatusFor(err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := StatusFor(err)
	if status == http.StatusInternalServerError {
		logging.FromContext(r.Context(), h.logger).Error("professional request failed", "path", r.URL.Path, "error", err)
	}
	respond.Error(w, status, msg)
}
