package audit

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/oh-ehr-portal/internal/http/respond"
	"github.com/wolfman30/oh-ehr-portal/pkg/logging"
)

type querier interface {
	Query(ctx context.Context, filter Filter) ([]Entry, error)
	AccessHistory(ctx context.Context, employeeID string, limit int) ([]Access, error)
}

// Handler serves the admin audit views.
type Handler struct {
	store  querier
	logger *logging.Logger
}

func NewHandler(store querier, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{store: store, logger: logger}
}

// Routes mounts GET / and GET /access/{employeeId}.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/logs", h.ListLogs)
	r.Get("/access/{employeeId}", h.ListAccess)
}

// ListLogs handles GET /api/audit/logs.
func (h *Handler) ListLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := Filter{
		UserID:     q.Get("userId"),
		Action:     Action(q.Get("action")),
		EntityType: q.Get("entityType"),
		EntityID:   q.Get("entityId"),
	}
	var err error
	if filter.From, err = parseTime(q.Get("from")); err != nil {
		respond.Error(w, http.StatusBadRequest, "from must be RFC3339")
		return
	}
	if filter.To, err = parseTime(q.Get("to")); err != nil {
		respond.Error(w, http.StatusBadRequest, "to must be RFC3339")
		return
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))

	entries, err := h.store.Query(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to query audit logs", "error", err)
		respond.InternalError(w)
		return
	}
	if entries == nil {
		entries = []Entry{}
	}
	respond.JSON(w, http.StatusOK, entries)
}

// ListAccess handles GET /api/audit/access/{employeeId}.
func (h *Handler) ListAccess(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	out, err := h.store.AccessHistory(r.Context(), chi.URLParam(r, "employeeId"), limit)
	if err != nil {
		h.logger.Error("failed to query access history", "error", err)
		respond.InternalError(w)
		return
	}
	if out == nil {
		out = []Access{}
	}
	respond.JSON(w, http.StatusOK, out)
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}
