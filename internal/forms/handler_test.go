package forms

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
	"github.com/wolfman30/oh-ehr-portal/internal/http/respond"
)

func newRouter(svc builder, p auth.Principal) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(auth.WithPrincipal(req.Context(), p)))
		})
	})
	r.Route("/api/forms", NewHandler(svc, nil).Routes)
	return r
}

const templateBody = `{"name":"Night worker assessment","category":"surveillance","rows":[{"id":"r1","elements":[
	{"id":"sleep","type":"number","label":"Hours of sleep","required":true},
	{"id":"shift","type":"radio","label":"Shift","options":["Day","Night"]}]}]}`

func TestHandler_TemplateLifecycle(t *testing.T) {
	svc, _, _ := newTestService()

	rec := httptest.NewRecorder()
	newRouter(svc, jane).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/forms/templates", strings.NewReader(templateBody)))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	newRouter(svc, nina).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/forms/templates", strings.NewReader(templateBody)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var tmpl Template
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tmpl))

	rec = httptest.NewRecorder()
	newRouter(svc, nina).ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/forms/templates/"+tmpl.ID, strings.NewReader(templateBody)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tmpl))
	assert.Equal(t, 2, tmpl.Version)

	rec = httptest.NewRecorder()
	newRouter(svc, jane).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/forms/templates?category=surveillance", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list []Template
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rec = httptest.NewRecorder()
	newRouter(svc, nina).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/forms/templates",
		strings.NewReader(`{"name":"","rows":[]}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var msg respond.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	assert.Contains(t, msg.Errors, "name")
	assert.Contains(t, msg.Errors, "rows")

	rec = httptest.NewRecorder()
	newRouter(svc, jane).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/forms/templates/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_Submit(t *testing.T) {
	svc, _, _ := newTestService()
	tmpl, err := svc.Create(t.Context(), nina, validRequest())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	newRouter(svc, jane).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/forms/templates/"+tmpl.ID+"/submissions",
		strings.NewReader(`{"answers":{"hours":"lots"}}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var msg respond.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	assert.Equal(t, "Must be a number", msg.Errors["hours"])

	rec = httptest.NewRecorder()
	newRouter(svc, jane).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/forms/templates/"+tmpl.ID+"/submissions",
		strings.NewReader(`{"answers":{"hours":6}}`)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	newRouter(svc, jane).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/forms/submissions/me", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var subs []Submission
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &subs))
	require.Len(t, subs, 1)
	assert.JSONEq(t, `6`, string(subs[0].Answers["hours"]))

	rec = httptest.NewRecorder()
	newRouter(svc, nina).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/forms/submissions/employee/emp-jane", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
