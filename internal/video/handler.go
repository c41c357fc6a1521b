package video

import (
	"context"
	"errors"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/wolfman30/oh-ehr-portal/internal/appointments"
	"github.com/wolfman30/oh-ehr-portal/internal/auth"
	"github.com/wolfman30/oh-ehr-portal/internal/http/respond"
	"github.com/wolfman30/oh-ehr-portal/pkg/logging"
)

type sessions interface {
	GetOrCreate(ctx context.Context, actor auth.Principal, appointmentID string) (*SessionInfo, error)
	Authorize(ctx context.Context, actor auth.Principal, sessionID string) (*Session, Role, error)
	Join(ctx context.Context, actor auth.Principal, sessionID string) (*SessionInfo, error)
	Leave(ctx context.Context, actor auth.Principal, sessionID string) error
	End(ctx context.Context, actor auth.Principal, sessionID string) (*Session, error)
}

// Handler serves /api/video.
type Handler struct {
	svc      sessions
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *logging.Logger
}

// NewHandler builds the video routes. Upgrades are accepted from allowedOrigins,
// or from the request's own host when the list is empty.
func NewHandler(svc sessions, hub *Hub, allowedOrigins []string, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	h := &Handler{svc: svc, hub: hub, logger: logger}
	h.upgrader = websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096}
	if len(allowedOrigins) > 0 {
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(allowedOrigins, origin)
		}
	}
	return h
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/appointments/{appointmentId}/session", h.GetOrCreate)
	r.Post("/sessions/{id}/join", h.Join)
	r.Post("/sessions/{id}/leave", h.Leave)
	r.Post("/sessions/{id}/end", h.End)
	r.Get("/sessions/{id}/ws", h.Signal)
}

func (h *Handler) GetOrCreate(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	info, err := h.svc.GetOrCreate(r.Context(), p, chi.URLParam(r, "appointmentId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, info)
}

func (h *Handler) Join(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	info, err := h.svc.Join(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, info)
}

func (h *Handler) Leave(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	if err := h.svc.Leave(r.Context(), p, chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, respond.Message{Message: "Left session"})
}

func (h *Handler) End(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	sess, err := h.svc.End(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.hub.CloseRoom(sess.ID)
	respond.JSON(w, http.StatusOK, sess)
}

// Signal upgrades to the signalling socket once the caller is known to belong to a live session.
func (h *Handler) Signal(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	sess, role, err := h.svc.Authorize(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the failure response.
		logging.FromContext(r.Context(), h.logger).Warn("websocket upgrade failed", "session_id", sess.ID, "error", err)
		return
	}
	h.hub.Serve(context.WithoutCancel(r.Context()), conn, sess.ID, p.UserID, role)
}

func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return http.StatusNotFound, "Video session not found"
	case errors.Is(err, ErrNotVirtual):
		return http.StatusBadRequest, "Video sessions are only available for virtual appointments"
	case errors.Is(err, ErrSessionEnded):
		return http.StatusGone, "Video session has ended"
	case errors.Is(err, ErrNotHost):
		return http.StatusForbidden, "Only the host can end the session"
	default:
		return appointments.StatusFor(err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := StatusFor(err)
	if status == http.StatusInternalServerError {
		logging.FromContext(r.Context(), h.logger).Error("video request failed", "path", r.URL.Path, "error", err)
	}
	respond.Error(w, status, msg)
}
