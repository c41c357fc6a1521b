package respond

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	var dst struct {
		Name string `json:"name"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"ada"}`))
	require.NoError(t, Decode(req, &dst))
	assert.Equal(t, "ada", dst.Name)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"nope":1}`))
	assert.Error(t, Decode(req, &dst))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(``))
	assert.EqualError(t, Decode(req, &dst), "request body required")

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a"}{"name":"b"}`))
	assert.Error(t, Decode(req, &dst))
}

func TestValidationFailed(t *testing.T) {
	rec := httptest.NewRecorder()
	ValidationFailed(rec, map[string]string{"email": "Invalid email format"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"message":"Validation failed","errors":{"email":"Invalid email format"}}`, rec.Body.String())
}

func TestInternalErrorIsGeneric(t *testing.T) {
	rec := httptest.NewRecorder()
	InternalError(rec)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"message":"An error occurred"}`, rec.Body.String())
}
