package forms

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

type builder interface {
	Create(ctx context.Context, actor auth.Principal, req TemplateRequest) (*Template, error)
	Update(ctx context.Context, actor auth.Principal, id string, req TemplateRequest) (*Template, error)
	Get(ctx context.Context, id string) (*Template, error)
	List(ctx context.Context, category string) ([]Template, error)
	Delete(ctx context.Context, actor auth.Principal, id string) error
	Submit(ctx context.Context, actor auth.Principal, templateID string, req SubmitRequest, ip string) (*Submission, error)
	Submissions(ctx context.Context, actor auth.Principal, employeeID string) ([]Submission, error)
}

// Handler serves /api/forms.
type Handler struct {
	svc    builder
	logger *logging.Logger
}

func NewHandler(svc builder, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Routes(r chi.Router) {
	editors := middleware.RequireRoles(auth.RoleOHProfessional, auth.RoleAdmin)
	r.Get("/templates", h.List)
	r.Get("/templates/{id}", h.Get)
	r.With(editors).Post("/templates", h.Create)
	r.With(editors).Put("/templates/{id}", h.Update)
	r.With(editors).Delete("/templates/{id}", h.Delete)
	r.Post("/templates/{id}/submissions", h.Submit)
	r.Get("/submissions/me", h.MySubmissions)
	r.Get("/submissions/employee/{employeeId}", h.EmployeeSubmissions)
}

func (h *Handler) decodeTemplate(w http.ResponseWriter, r *http.Request) (TemplateRequest, bool) {
	var req TemplateRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return req, false
	}
	if fields := req.Validate(); fields != nil {
		respond.ValidationFailed(w, fields)
		return req, false
	}
	return req, true
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeTemplate(w, r)
	if !ok {
		return
	}
	p, _ := auth.PrincipalFromContext(r.Context())
	t, err := h.svc.Create(r.Context(), p, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, t)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeTemplate(w, r)
	if !ok {
		return
	}
	p, _ := auth.PrincipalFromContext(r.Context())
	t, err := h.svc.Update(r.Context(), p, chi.URLParam(r, "id"), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, t)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, t)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.List(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []Template{}
	}
	respond.JSON(w, http.StatusOK, list)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	if err := h.svc.Delete(r.Context(), p, chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, respond.Message{Message: "Form template deleted"})
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	p, _ := auth.PrincipalFromContext(r.Context())
	sub, err := h.svc.Submit(r.Context(), p, chi.URLParam(r, "id"), req, auth.ClientInfoFromRequest(r).IPAddress)
	if err != nil {
		var answerErr *AnswerError
		if errors.As(err, &answerErr) {
			respond.ValidationFailed(w, answerErr.Fields)
			return
		}
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, sub)
}

func (h *Handler) MySubmissions(w http.ResponseWriter, r *http.Request) {
	h.submissions(w, r, "")
}

func (h *Handler) EmployeeSubmissions(w http.ResponseWriter, r *http.Request) {
	h.submissions(w, r, chi.URLParam(r, "employeeId"))
}

func (h *Handler) submissions(w http.ResponseWriter, r *http.Request, employeeID string) {
	p, _ := auth.PrincipalFromContext(r.Context())
	list, err := h.svc.Submissions(r.Context(), p, employeeID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []Submission{}
	}
	respond.JSON(w, http.StatusOK, list)
}

func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrTemplateNotFound):
		return http.StatusNotFound, "Form template not found"
	case errors.Is(err, ErrDuplicateName):
		return http.StatusConflict, "A form template with that name already exists"
	case errors.Is(err, employees.ErrEmployeeNotFound):
		return employees.StatusFor(err)
	default:
		return auth.StatusFor(err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := StatusFor(err)
	if status == http.StatusInternalServerError {
		logging.FromContext(r.Context(), h.logger).Error("form request failed", "path", r.URL.Path, "error", err)
	}
	respond.Error(w, status, msg)
}
