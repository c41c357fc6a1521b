package employees

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/oh-ehr-portal/internal/auth"
	"github.com/wolfman30/oh-ehr-portal/internal/civil"
	"github.com/wolfman30/oh-ehr-portal/internal/http/middleware"
	"github.com/wolfman30/oh-ehr-portal/internal/http/respond"
	"github.com/wolfman30/oh-ehr-portal/pkg/logging"
)

type profileService interface {
	Create(ctx context.Context, actor auth.Principal, req CreateRequest, ip string) (*Employee, error)
	Get(ctx context.Context, actor auth.Principal, id string) (*Employee, error)
	GetByNumber(ctx context.Context, number string) (*Employee, error)
	MyProfile(ctx context.Context, actor auth.Principal) (*Employee, error)
	ListByStatus(ctx context.Context, status EmploymentStatus) ([]Employee, error)
	Search(ctx context.Context, query string) ([]Employee, error)
	UpdatePersonalInformation(ctx context.Context, actor auth.Principal, id string, req UpdatePersonalInformationRequest, ip string) (*Employee, error)
	ManageEmploymentStatus(ctx context.Context, actor auth.Principal, id string, req StatusChangeRequest, ip string) (*Employee, error)
	ValidateEmployeeNumber(ctx context.Context, number string) (bool, error)
	CalculateServiceYears(start civil.Date) int
}

// Handler serves /api/employee-profiles.
type Handler struct {
	svc    profileService
	logger *logging.Logger
}

func NewHandler(svc profileService, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes expects to be mounted behind RequireAuth.
func (h *Handler) Routes(r chi.Router) {
	staff := middleware.RequireRoles(auth.RoleAdmin, auth.RoleManager)

	r.Get("/me", h.MyProfile)
	r.Get("/service-years", h.ServiceYears)
	r.Post("/validate-contact", h.ValidateContact)
	r.Get("/{id}", h.Get)
	r.Put("/{id}/personal-information", h.UpdatePersonalInformation)

	r.Group(func(r chi.Router) {
		r.Use(staff)
		r.Post("/", h.Create)
		r.Get("/validate-employee-number", h.ValidateEmployeeNumber)
		r.Get("/by-number/{employeeNumber}", h.GetByNumber)
		r.Get("/by-status/{status}", h.ListByStatus)
		r.Get("/search", h.Search)
		r.Put("/{id}/employment-status", h.ManageEmploymentStatus)
	})
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
	e, err := h.svc.Create(r.Context(), p, req, auth.ClientInfoFromRequest(r).IPAddress)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, e)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	e, err := h.svc.Get(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, e)
}

func (h *Handler) GetByNumber(w http.ResponseWriter, r *http.Request) {
	e, err := h.svc.GetByNumber(r.Context(), chi.URLParam(r, "employeeNumber"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, e)
}

func (h *Handler) MyProfile(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	e, err := h.svc.MyProfile(r.Context(), p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, e)
}

func (h *Handler) ListByStatus(w http.ResponseWriter, r *http.Request) {
	status, ok := ParseStatus(chi.URLParam(r, "status"))
	if !ok {
		respond.Error(w, http.StatusBadRequest, "Unknown employment status")
		return
	}
	list, err := h.svc.ListByStatus(r.Context(), status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, nonNil(list))
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, nonNil(list))
}

func (h *Handler) UpdatePersonalInformation(w http.ResponseWriter, r *http.Request) {
	var req UpdatePersonalInformationRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if fields := req.Validate(); fields != nil {
		respond.ValidationFailed(w, fields)
		return
	}
	p, _ := auth.PrincipalFromContext(r.Context())
	e, err := h.svc.UpdatePersonalInformation(r.Context(), p, chi.URLParam(r, "id"), req, auth.ClientInfoFromRequest(r).IPAddress)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, e)
}

func (h *Handler) ManageEmploymentStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusChangeRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if fields := req.Validate(); fields != nil {
		respond.ValidationFailed(w, fields)
		return
	}
	p, _ := auth.PrincipalFromContext(r.Context())
	e, err := h.svc.ManageEmploymentStatus(r.Context(), p, chi.URLParam(r, "id"), req, auth.ClientInfoFromRequest(r).IPAddress)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, e)
}

func (h *Handler) ValidateEmployeeNumber(w http.ResponseWriter, r *http.Request) {
	ok, err := h.svc.ValidateEmployeeNumber(r.Context(), r.URL.Query().Get("employeeNumber"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]bool{"valid": ok})
}

func (h *Handler) ValidateContact(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email       string `json:"email"`
		PhoneNumber string `json:"phoneNumber"`
	}
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	respond.JSON(w, http.StatusOK, map[string]bool{"valid": ValidContactInformation(req.Email, req.PhoneNumber)})
}

func (h *Handler) ServiceYears(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("startDate")
	var start civil.Date
	if raw != "" {
		d, err := civil.ParseDate(raw)
		if err != nil {
			respond.Error(w, http.StatusBadRequest, "startDate must be YYYY-MM-DD")
			return
		}
		start = d
	}
	respond.JSON(w, http.StatusOK, map[string]int{"serviceYears": h.svc.CalculateServiceYears(start)})
}

// StatusFor maps employee errors to HTTP statuses and client messages.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrEmployeeNotFound):
		return http.StatusNotFound, "Employee not found"
	case errors.Is(err, ErrDuplicateEmployeeNumber):
		return http.StatusConflict, "Employee number already exists"
	case errors.Is(err, ErrInvalidContactInformation):
		return http.StatusBadRequest, "Invalid contact information"
	default:
		return auth.StatusFor(err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := StatusFor(err)
	if status == http.StatusInternalServerError {
		logging.FromContext(r.Context(), h.logger).Error("employee request failed", "path", r.URL.Path, "error", err)
	}
	respond.Error(w, status, msg)
}

func nonNil(list []Employee) []Employee {
	if list == nil {
		return []Employee{}
	}
	return list
}
