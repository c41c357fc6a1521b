package messaging

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/oh-ehr-portal/internal/auth"
)

func newRouter(svc messenger, p auth.Principal) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(auth.WithPrincipal(req.Context(), p)))
		})
	})
	r.Route("/api/messaging", NewHandler(svc, nil).Routes)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandler_ConversationFlow(t *testing.T) {
	f := newFixture(t)
	asJane := newRouter(f.svc, jane)
	asNina := newRouter(f.svc, nina)

	rec := do(t, asJane, http.MethodPost, "/api/messaging/conversations", `{"subject":"Fit note","participantIds":["user-nina"]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var conv Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))

	rec = do(t, asJane, http.MethodPost, "/api/messaging/", `{"conversationId":"`+conv.ID+`","content":"Hello"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var msg Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	assert.Equal(t, "Hello", msg.Content)

	rec = do(t, asNina, http.MethodGet, "/api/messaging/conversation/"+conv.ID+"/unread-count", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1\n", rec.Body.String())

	rec = do(t, asNina, http.MethodPost, "/api/messaging/"+msg.ID+"/read", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, asNina, http.MethodPut, "/api/messaging/"+msg.ID, `{"content":"changed"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, asJane, http.MethodDelete, "/api/messaging/"+msg.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, asNina, http.MethodGet, "/api/messaging/conversation/"+conv.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestHandler_Errors(t *testing.T) {
	f := newFixture(t)
	c := f.conversation(t)

	rec := do(t, newRouter(f.svc, mo), http.MethodGet, "/api/messaging/conversation/"+c.ID, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, newRouter(f.svc, jane), http.MethodPost, "/api/messaging/", `{"conversationId":"`+c.ID+`","content":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "cannot be empty")

	rec = do(t, newRouter(f.svc, jane), http.MethodGet, "/api/messaging/conversation/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, newRouter(f.svc, jane), http.MethodPost, "/api/messaging/conversations", `{"participantIds":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
