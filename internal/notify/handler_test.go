package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/oh-ehr-portal/internal/auth"
)

func newInboxRouter(svc inbox, userID string) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			p := auth.Principal{UserID: userID, Role: auth.RoleEmployee}
			next.ServeHTTP(w, req.WithContext(auth.WithPrincipal(req.Context(), p)))
		})
	})
	r.Route("/api/notifications", NewHandler(svc, nil).Routes)
	return r
}

func TestHandler_Inbox(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()
	n, err := svc.Notify(ctx, Request{UserID: "u1", Type: TypeMessageAlert, Title: "New message"})
	require.NoError(t, err)
	router := newInboxRouter(svc, "u1")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/notifications/unread-count", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count":1}`, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/notifications/?unreadOnly=true", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"title":"New message"`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/notifications/"+n.ID+"/read", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/notifications/read-all", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"updated":0}`, rec.Body.String())
}

func TestHandler_MarkReadOfAnotherUsersNotification(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil)
	n, err := svc.Notify(context.Background(), Request{UserID: "u1", Type: TypeSystemAlert, Title: "x"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	newInboxRouter(svc, "u2").ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/notifications/"+n.ID+"/read", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	newInboxRouter(svc, "u2").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/notifications/", nil))
	assert.Equal(t, "[]\n", rec.Body.String())
}
