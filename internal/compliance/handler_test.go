package compliance

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

func newRouter(svc compliance, p auth.Principal) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(auth.WithPrincipal(req.Context(), p)))
		})
	})
	r.Route("/api/compliance", NewHandler(svc, nil).Routes)
	return r
}

func TestHandler_ConsentEndpoints(t *testing.T) {
	f := newFixture()
	h := newRouter(f.svc, jane)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/compliance/consent/emp-jane", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "false\n", rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/compliance/consent/emp-jane",
		strings.NewReader(`{"consentType":"health_data_processing","isGranted":true}`)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/compliance/consent/emp-jane", nil))
	assert.Equal(t, "true\n", rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/compliance/consent/emp-jane",
		strings.NewReader(`{"consentType":"newsletter","isGranted":true}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_ExportAttachment(t *testing.T) {
	f := newFixture()
	rec := httptest.NewRecorder()
	newRouter(f.svc, admin).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/compliance/export/emp-jane", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="employee_data_emp-jane.json"`, rec.Header().Get("Content-Disposition"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "healthRecord")
	assert.Contains(t, body, "consents")
}

func TestHandler_AdminOnlyRoutes(t *testing.T) {
	f := newFixture()

	rec := httptest.NewRecorder()
	newRouter(f.svc, nina).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/compliance/anonymize/emp-jane", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	newRouter(f.svc, admin).ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/compliance/delete/emp-jane", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	newRouter(f.svc, nina).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/compliance/audit-access?accessorId=user-nina", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	newRouter(f.svc, nina).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/compliance/audit-access?accessorId=user-nina&employeeId=emp-jane", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, f.audit.accesses, 1)
}
