package terminology

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTable(t *testing.T) {
	table := Default()
	assert.GreaterOrEqual(t, table.Len(), 10)

	c, ok := table.Lookup("195967001")
	require.True(t, ok)
	assert.Equal(t, "Asthma (disorder)", c.Display)

	_, ok = table.Lookup("000")
	assert.False(t, ok)
}

func TestSearch(t *testing.T) {
	table := Default()

	got := table.Search("DIABETES", 0)
	require.Len(t, got, 2)
	assert.Equal(t, "Diabetes mellitus (disorder)", got[0].Display)
	assert.Equal(t, "Type 2 diabetes mellitus (disorder)", got[1].Display)

	got = table.Search("4405", 5)
	require.Len(t, got, 1)
	assert.Equal(t, "44054006", got[0].Code)

	assert.Len(t, table.Search("", 0), defaultLimit)
	assert.Len(t, table.Search("", 3), 3)
	assert.Empty(t, table.Search("zzz", 0))
}

func TestLoadRejectsDuplicates(t *testing.T) {
	_, err := Load([]byte("concepts:\n  - {code: \"1\", display: A}\n  - {code: \"1\", display: B}\n"))
	assert.ErrorContains(t, err, "duplicate code 1")

	_, err = Load([]byte("concepts:\n  - {code: \"1\"}\n"))
	assert.Error(t, err)
}

func TestHandler(t *testing.T) {
	r := chi.NewRouter()
	r.Route("/api/terminology", NewHandler(Default()).Routes)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/terminology/snomed?q=head&limit=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got []Concept
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "Head injury (disorder)", got[0].Display)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/terminology/snomed?limit=x", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/terminology/snomed/6571000", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/terminology/snomed/1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
