package messaging

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/oh-ehr-portal/internal/auth"
	"github.com/wolfman30/oh-ehr-portal/internal/http/respond"
	"github.com/wolfman30/oh-ehr-portal/pkg/logging"
)

type messenger interface {
	CreateConversation(ctx context.Context, actor auth.Principal, req CreateConversationRequest) (*Conversation, error)
	ListConversations(ctx context.Context, actor auth.Principal) ([]Conversation, error)
	GetConversation(ctx context.Context, actor auth.Principal, id string) (*Conversation, error)
	Send(ctx context.Context, actor auth.Principal, req SendRequest) (*Message, error)
	Messages(ctx context.Context, actor auth.Principal, conversationID string) ([]Message, error)
	Edit(ctx context.Context, actor auth.Principal, id, content string) (*Message, error)
	Delete(ctx context.Context, actor auth.Principal, id string) error
	MarkRead(ctx context.Context, actor auth.Principal, id string) error
	UnreadCount(ctx context.Context, actor auth.Principal, conversationID string) (int, error)
}

// Handler serves /api/messaging.
type Handler struct {
	svc    messenger
	logger *logging.Logger
}

func NewHandler(svc messenger, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.Send)
	r.Get("/conversations", h.ListConversations)
	r.Post("/conversations", h.CreateConversation)
	r.Get("/conversations/{conversationId}", h.GetConversation)
	r.Get("/conversation/{conversationId}", h.Messages)
	r.Get("/conversation/{conversationId}/unread-count", h.UnreadCount)
	r.Put("/{messageId}", h.Edit)
	r.Delete("/{messageId}", h.Delete)
	r.Post("/{messageId}/read", h.MarkRead)
}

func (h *Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	var req CreateConversationRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if fields := req.Validate(); fields != nil {
		respond.ValidationFailed(w, fields)
		return
	}
	p, _ := auth.PrincipalFromContext(r.Context())
	c, err := h.svc.CreateConversation(r.Context(), p, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, c)
}

func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	list, err := h.svc.ListConversations(r.Context(), p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []Conversation{}
	}
	respond.JSON(w, http.StatusOK, list)
}

func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	c, err := h.svc.GetConversation(r.Context(), p, chi.URLParam(r, "conversationId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, c)
}

func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ConversationID == "" {
		respond.ValidationFailed(w, map[string]string{"conversationId": "Conversation is required"})
		return
	}
	p, _ := auth.PrincipalFromContext(r.Context())
	m, err := h.svc.Send(r.Context(), p, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, m)
}

func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	list, err := h.svc.Messages(r.Context(), p, chi.URLParam(r, "conversationId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []Message{}
	}
	respond.JSON(w, http.StatusOK, list)
}

func (h *Handler) Edit(w http.ResponseWriter, r *http.Request) {
	var req EditRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	p, _ := auth.PrincipalFromContext(r.Context())
	m, err := h.svc.Edit(r.Context(), p, chi.URLParam(r, "messageId"), req.Content)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, m)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	if err := h.svc.Delete(r.Context(), p, chi.URLParam(r, "messageId")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	if err := h.svc.MarkRead(r.Context(), p, chi.URLParam(r, "messageId")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	n, err := h.svc.UnreadCount(r.Context(), p, chi.URLParam(r, "conversationId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, n)
}

func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrConversationNotFound):
		return http.StatusNotFound, "Conversation not found"
	case errors.Is(err, ErrMessageNotFound):
		return http.StatusNotFound, "Message not found"
	case errors.Is(err, ErrNotParticipant):
		return http.StatusForbidden, "User is not a participant in this conversation."
	case errors.Is(err, ErrEmptyContent):
		return http.StatusBadRequest, "Message content cannot be empty."
	case errors.Is(err, ErrContentTooLong):
		return http.StatusBadRequest, "Message content exceeds maximum length of 4096 characters."
	case errors.Is(err, ErrUnknownParticipant):
		return http.StatusBadRequest, "One or more participants do not exist"
	default:
		return auth.StatusFor(err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := StatusFor(err)
	if status == http.StatusInternalServerError {
		logging.FromContext(r.Context(), h.logger).Error("messaging request failed", "path", r.URL.Path, "error", err)
	}
	respond.Error(w, status, msg)
}
