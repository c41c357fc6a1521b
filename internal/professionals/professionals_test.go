package professionals

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/oh-ehr-portal/internal/auth"
)

func TestWorkingHours(t *testing.T) {
	hours := WorkingHours{"Monday": {Start: "08:00", End: "12:30"}}
	require.NoError(t, hours.Validate())

	h, ok := hours.normalized().On(time.Monday)
	require.True(t, ok)
	start, end, err := h.Bounds()
	require.NoError(t, err)
	assert.Equal(t, 480, start)
	assert.Equal(t, 750, end)

	_, ok = hours.normalized().On(time.Tuesday)
	assert.False(t, ok)

	assert.ErrorIs(t, WorkingHours{"funday": {Start: "08:00", End: "09:00"}}.Validate(), ErrInvalidWorkingHours)
	assert.ErrorIs(t, WorkingHours{"friday": {Start: "17:00", End: "09:00"}}.Validate(), ErrInvalidWorkingHours)
	assert.ErrorIs(t, WorkingHours{"friday": {Start: "9am", End: "5pm"}}.Validate(), ErrInvalidWorkingHours)
}

type memRepo struct {
	mu    sync.Mutex
	items map[string]*Professional
}

func (m *memRepo) Create(_ context.Context, p *Professional) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.items {
		if existing.UserID == p.UserID {
			return ErrAlreadyProfessional
		}
		if existing.RegistrationNumber == p.RegistrationNumber {
			return ErrDuplicateRegistration
		}
	}
	cp := *p
	m.items[p.ID] = &cp
	return nil
}
func (m *memRepo) GetByID(_ context.Context, id string) (*Professional, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.items[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, ErrProfessionalNotFound
}
func (m *memRepo) GetByUserID(_ context.Context, id string) (*Professional, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.items {
		if p.UserID == id {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrProfessionalNotFound
}
func (m *memRepo) List(_ context.Context, onlyAvailable bool) ([]Professional, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Professional
	for _, p := range m.items {
		if !onlyAvailable || p.Available {
			out = append(out, *p)
		}
	}
	return out, nil
}
func (m *memRepo) UpdateAvailability(_ context.Context, p *Professional) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.items[p.ID] = &cp
	return nil
}

type users map[string]*auth.User

func (u users) GetUser(_ context.Context, id string) (*auth.User, error) {
	if user, ok := u[id]; ok {
		return user, nil
	}
	return nil, auth.ErrUserNotFound
}

func newTestService() *Service {
	return NewService(&memRepo{items: map[string]*Professional{}}, users{
		"doc":  {ID: "doc", FirstName: "Amir", LastName: "Khan", Role: auth.RoleOHProfessional},
		"emp":  {ID: "emp", Role: auth.RoleEmployee},
		"doc2": {ID: "doc2", Role: auth.RoleOHProfessional},
	}, nil, nil)
}

func TestService_Create(t *testing.T) {
	svc := newTestService()
	admin := auth.Principal{UserID: "a", Role: auth.RoleAdmin}

	p, err := svc.Create(context.Background(), admin, CreateRequest{UserID: "doc", RegistrationNumber: "NMC-1"})
	require.NoError(t, err)
	assert.True(t, p.Available)
	assert.Equal(t, "Amir Khan", p.FullName())

	_, err = svc.Create(context.Background(), admin, CreateRequest{UserID: "emp", RegistrationNumber: "NMC-2"})
	assert.ErrorIs(t, err, ErrNotProfessionalUser)
	_, err = svc.Create(context.Background(), admin, CreateRequest{UserID: "doc2", RegistrationNumber: "NMC-1"})
	assert.ErrorIs(t, err, ErrDuplicateRegistration)
	_, err = svc.Create(context.Background(), admin, CreateRequest{UserID: "ghost", RegistrationNumber: "NMC-3"})
	assert.ErrorIs(t, err, auth.ErrUserNotFound)
}

func TestService_UpdateAvailability(t *testing.T) {
	svc := newTestService()
	p, err := svc.Create(context.Background(), auth.Principal{Role: auth.RoleAdmin}, CreateRequest{UserID: "doc", RegistrationNumber: "NMC-1"})
	require.NoError(t, err)

	off := false
	self := auth.Principal{UserID: "doc", Role: auth.RoleOHProfessional}
	updated, err := svc.UpdateAvailability(context.Background(), self, p.ID, AvailabilityRequest{
		Available:    &off,
		WorkingHours: WorkingHours{"Tuesday": {Start: "10:00", End: "14:00"}},
	})
	require.NoError(t, err)
	assert.False(t, updated.Available)
	_, ok := updated.WorkingHours.On(time.Tuesday)
	assert.True(t, ok)

	other := auth.Principal{UserID: "doc2", Role: auth.RoleOHProfessional}
	_, err = svc.UpdateAvailability(context.Background(), other, p.ID, AvailabilityRequest{Available: &off})
	assert.ErrorIs(t, err, auth.ErrForbidden)

	list, err := svc.List(context.Background(), true)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestHandler_CreateIsAdminOnly(t *testing.T) {
	svc := newTestService()
	serve := func(p auth.Principal, method, path, body string) *httptest.ResponseRecorder {
		r := chi.NewRouter()
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				next.ServeHTTP(w, req.WithContext(auth.WithPrincipal(req.Context(), p)))
			})
		})
		r.Route("/api/professionals", NewHandler(svc, nil).Routes)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
		return rec
	}

	body := `{"userId":"doc","registrationNumber":"NMC-1","workingHours":{"monday":{"start":"09:00","end":"17:00"}}}`
	rec := serve(auth.Principal{UserID: "doc", Role: auth.RoleOHProfessional}, http.MethodPost, "/api/professionals/", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(auth.Principal{UserID: "a", Role: auth.RoleAdmin}, http.MethodPost, "/api/professionals/", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = serve(auth.Principal{UserID: "e", Role: auth.RoleEmployee}, http.MethodGet, "/api/professionals/available", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"registrationNumber":"NMC-1"`)

	rec = serve(auth.Principal{UserID: "a", Role: auth.RoleAdmin}, http.MethodPost, "/api/professionals/",
		`{"userId":"doc2","registrationNumber":"NMC-9","workingHours":{"monday":{"start":"17:00","end":"09:00"}}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostgresRepository_ScanDecodesHours(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now()
	mock.ExpectQuery(`FROM oh_professionals p\s+JOIN users u ON u.id = p.user_id\s+WHERE p.id = \$1`).
		WithArgs("p1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "first_name", "last_name", "email",
			"registration_number", "specialization", "working_hours", "available", "created_at", "updated_at"}).
			AddRow("p1", "doc", "Amir", "Khan", "amir@example.com", "NMC-1", "Occupational Medicine",
				[]byte(`{"monday":{"start":"09:00","end":"13:00"}}`), true, now, now))

	p, err := NewPostgresRepository(mock).GetByID(context.Background(), "p1")
	require.NoError(t, err)
	h, ok := p.WorkingHours.On(time.Monday)
	require.True(t, ok)
	assert.Equal(t, "13:00", h.End)
	require.NoError(t, mock.ExpectationsWereMet())
}
