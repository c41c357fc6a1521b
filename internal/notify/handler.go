package notify

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/oh-ehr-portal/internal/auth"
	"github.com/wolfman30/oh-ehr-portal/internal/http/respond"
	"github.com/wolfman30/oh-ehr-portal/pkg/logging"
)

type inbox interface {
	List(ctx context.Context, userID string, unreadOnly bool) ([]Notification, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, userID, id string) error
	MarkAllRead(ctx context.Context, userID string) (int, error)
}

// Handler serves /api/notifications for the signed-in user.
type Handler struct {
	svc    inbox
	logger *logging.Logger
}

func NewHandler(svc inbox, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.List)
	r.Get("/unread-count", h.UnreadCount)
	r.Put("/read-all", h.MarkAllRead)
	r.Put("/{id}/read", h.MarkRead)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	list, err := h.svc.List(r.Context(), p.UserID, r.URL.Query().Get("unreadOnly") == "true")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []Notification{}
	}
	respond.JSON(w, http.StatusOK, list)
}

func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	n, err := h.svc.UnreadCount(r.Context(), p.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]int{"count": n})
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	if err := h.svc.MarkRead(r.Context(), p.UserID, chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, respond.Message{Message: "Notification marked as read"})
}

func (h *Handler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	n, err := h.svc.MarkAllRead(r.Context(), p.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]int{"updated": n})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ErrNotificationNotFound) {
		respond.Error(w, http.StatusNotFound, "Notification not found")
		return
	}
	logging.FromContext(r.Context(), h.logger).Error("notification request failed", "path", r.URL.Path, "error", err)
	respond.InternalError(w)
}
