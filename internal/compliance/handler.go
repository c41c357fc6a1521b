package compliance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/oh-ehr-portal/internal/auth"
	"github.com/wolfman30/oh-ehr-portal/internal/employees"
	"github.com/wolfman30/oh-ehr-portal/internal/http/middleware"
	"github.com/wolfman30/oh-ehr-portal/internal/http/respond"
	"github.com/wolfman30/oh-ehr-portal/pkg/logging"
)

type compliance interface {
	RecordConsent(ctx context.Context, actor auth.Principal, employeeID string, req ConsentRequest, ip string) (*Consent, error)
	ListConsents(ctx context.Context, actor auth.Principal, employeeID string) ([]Consent, error)
	ValidateConsent(ctx context.Context, actor auth.Principal, employeeID string) (bool, error)
	Export(ctx context.Context, actor auth.Principal, employeeID, ip string) (*Export, error)
	Anonymize(ctx context.Context, actor auth.Principal, employeeID, ip string) error
	Delete(ctx context.Context, actor auth.Principal, employeeID, ip string) error
	AuditAccess(ctx context.Context, actor auth.Principal, accessorID, employeeID string) error
}

// Handler serves /api/compliance.
type Handler struct {
	svc    compliance
	logger *logging.Logger
}

func NewHandler(svc compliance, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/consent/{employeeId}", h.ValidateConsent)
	r.Post("/consent/{employeeId}", h.RecordConsent)
	r.Get("/consent/{employeeId}/history", h.ListConsents)
	r.Get("/export/{employeeId}", h.Export)
	r.With(middleware.RequireRoles(auth.RoleAdmin)).Post("/anonymize/{employeeId}", h.Anonymize)
	r.With(middleware.RequireRoles(auth.RoleAdmin)).Delete("/delete/{employeeId}", h.Delete)
	r.With(middleware.RequireRoles(auth.RoleOHProfessional, auth.RoleAdmin)).Post("/audit-access", h.AuditAccess)
}

func (h *Handler) RecordConsent(w http.ResponseWriter, r *http.Request) {
	var req ConsentRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if fields := req.Validate(); fields != nil {
		respond.ValidationFailed(w, fields)
		return
	}
	p, _ := auth.PrincipalFromContext(r.Context())
	c, err := h.svc.RecordConsent(r.Context(), p, chi.URLParam(r, "employeeId"), req, auth.ClientInfoFromRequest(r).IPAddress)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, c)
}

func (h *Handler) ListConsents(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	list, err := h.svc.ListConsents(r.Context(), p, chi.URLParam(r, "employeeId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []Consent{}
	}
	respond.JSON(w, http.StatusOK, list)
}

func (h *Handler) ValidateConsent(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	ok, err := h.svc.ValidateConsent(r.Context(), p, chi.URLParam(r, "employeeId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, ok)
}

func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	id := chi.URLParam(r, "employeeId")
	out, err := h.svc.Export(r.Context(), p, id, auth.ClientInfoFromRequest(r).IPAddress)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	body, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="employee_data_%s.json"`, out.Employee.ID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *Handler) Anonymize(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	if err := h.svc.Anonymize(r.Context(), p, chi.URLParam(r, "employeeId"), auth.ClientInfoFromRequest(r).IPAddress); err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, respond.Message{Message: "Employee data anonymized"})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	if err := h.svc.Delete(r.Context(), p, chi.URLParam(r, "employeeId"), auth.ClientInfoFromRequest(r).IPAddress); err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, respond.Message{Message: "Employee data deleted"})
}

func (h *Handler) AuditAccess(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	accessor, employee := strings.TrimSpace(q.Get("accessorId")), strings.TrimSpace(q.Get("employeeId"))
	if accessor == "" || employee == "" {
		respond.Error(w, http.StatusBadRequest, "accessorId and employeeId are required")
		return
	}
	p, _ := auth.PrincipalFromContext(r.Context())
	if err := h.svc.AuditAccess(r.Context(), p, accessor, employee); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrUnknownConsentType):
		return http.StatusBadRequest, "Unknown consent type"
	case errors.Is(err, ErrExpiryInPast):
		return http.StatusBadRequest, "Consent expiry must be in the future"
	case errors.Is(err, employees.ErrEmployeeNotFound):
		return employees.StatusFor(err)
	default:
		return auth.StatusFor(err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := StatusFor(err)
	if status == http.StatusInternalServerError {
		logging.FromContext(r.Context(), h.logger).Error("compliance request failed", "path", r.URL.Path, "error", err)
	}
	respond.Error(w, status, msg)
}
