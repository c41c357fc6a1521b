package dashboard

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/oh-ehr-portal/internal/auth"
	"github.com/wolfman30/oh-ehr-portal/internal/employees"
	"github.com/wolfman30/oh-ehr-portal/internal/http/respond"
	"github.com/wolfman30/oh-ehr-portal/pkg/logging"
)

type summarizer interface {
	Summary(ctx context.Context, actor auth.Principal) (*Summary, error)
}

// Handler serves /api/dashboard.
type Handler struct {
	svc    summarizer
	logger *logging.Logger
}

func NewHandler(svc summarizer, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.Get)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	summary, err := h.svc.Summary(r.Context(), p)
	if err != nil {
		status, msg := employees.StatusFor(err)
		if status == http.StatusInternalServerError {
			logging.FromContext(r.Context(), h.logger).Error("dashboard request failed", "role", p.Role, "error", err)
		}
		respond.Error(w, status, msg)
		return
	}
	respond.JSON(w, http.StatusOK, summary)
}
