package employees

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/oh-ehr-portal/internal/audit"
	"github.com/wolfman30/oh-ehr-portal/internal/auth"
	"github.com/wolfman30/oh-ehr-portal/internal/civil"
	"github.com/wolfman30/oh-ehr-portal/internal/db"
)

type memRepo struct {
	mu        sync.Mutex
	employees map[string]*Employee
	users     map[string]*auth.User
}

func newMemRepo() *memRepo {
	return &memRepo{employees: map[string]*Employee{}, users: map[string]*auth.User{}}
}

func (m *memRepo) Create(_ context.Context, u *auth.User, e *Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Username == u.Username {
			return auth.ErrUsernameTaken
		}
	}
	cpU, cpE := *u, *e
	m.users[u.ID] = &cpU
	m.employees[e.ID] = &cpE
	return nil
}

func (m *memRepo) find(match func(*Employee) bool) (*Employee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.employees {
		if match(e) {
			cp := *e
			return &cp, nil
		}
	}
	return nil, ErrEmployeeNotFound
}

func (m *memRepo) GetByID(_ context.Context, id string) (*Employee, error) {
	return m.find(func(e *Employee) bool { return e.ID == id })
}
func (m *memRepo) GetByUserID(_ context.Context, id string) (*Employee, error) {
	return m.find(func(e *Employee) bool { return e.UserID == id })
}
func (m *memRepo) GetByNumber(_ context.Context, n string) (*Employee, error) {
	return m.find(func(e *Employee) bool { return e.EmployeeNumber == n })
}
func (m *memRepo) ExistsByNumber(ctx context.Context, n string) (bool, error) {
	_, err := m.GetByNumber(ctx, n)
	return err == nil, nil
}
func (m *memRepo) EmailInUse(_ context.Context, email, except string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.employees {
		if strings.EqualFold(e.Email, email) && e.UserID != except {
			return true, nil
		}
	}
	return false, nil
}
func (m *memRepo) ListByStatus(_ context.Context, s EmploymentStatus) ([]Employee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Employee
	for _, e := range m.employees {
		if e.EmploymentStatus == s {
			out = append(out, *e)
		}
	}
	return out, nil
}
func (m *memRepo) Search(_ context.Context, q string, _ int) ([]Employee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Employee
	q = strings.ToLower(q)
	for _, e := range m.employees {
		if strings.Contains(strings.ToLower(e.FullName()+" "+e.Department), q) {
			out = append(out, *e)
		}
	}
	return out, nil
}
func (m *memRepo) UpdatePersonal(_ context.Context, e *Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.employees[e.ID] = &cp
	return nil
}
func (m *memRepo) UpdateStatus(_ context.Context, e *Employee, s EmploymentStatus, us auth.UserStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.employees[e.ID]
	if !ok {
		return ErrEmployeeNotFound
	}
	stored.EmploymentStatus = s
	stored.UserStatus = us
	return nil
}
func (m *memRepo) CountByStatus(context.Context) (map[EmploymentStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[EmploymentStatus]int{}
	for _, e := range m.employees {
		out[e.EmploymentStatus]++
	}
	return out, nil
}
func (m *memRepo) Anonymize(ctx context.Context, e *Employee, also ...db.TxStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, step := range also {
		if err := step(ctx, nil); err != nil {
			return err
		}
	}
	stored := m.employees[e.ID]
	stored.FirstName, stored.LastName = "Anonymized", "Anonymized"
	stored.Email = AnonymizedEmail(e.UserID)
	return nil
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recordingAudit) Record(_ context.Context, e audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}
func (r *recordingAudit) RecordAccess(context.Context, audit.Access) error { return nil }

func (r *recordingAudit) actions() []audit.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []audit.Action
	for _, e := range r.entries {
		out = append(out, e.Action)
	}
	return out
}

var (
	admin    = auth.Principal{UserID: "admin-1", Role: auth.RoleAdmin}
	manager  = auth.Principal{UserID: "mgr-1", Role: auth.RoleManager}
	fixedNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
)

func newTestService() (*Service, *memRepo, *recordingAudit) {
	repo := newMemRepo()
	rec := &recordingAudit{}
	svc := NewService(repo, rec, nil)
	svc.now = func() time.Time { return fixedNow }
	return svc, repo, rec
}

func validCreate() CreateRequest {
	return CreateRequest{
		Username:       "jsmith",
		Email:          "jane.smith@example.com",
		Password:       "Passw0rd!",
		FirstName:      "Jane",
		LastName:       "Smith",
		EmployeeNumber: "EMP001",
		PhoneNumber:    "07700 900123",
		Department:     "Logistics",
	}
}

func TestCreate(t *testing.T) {
	svc, repo, rec := newTestService()

	e, err := svc.Create(context.Background(), admin, validCreate(), "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, e.EmploymentStatus)
	assert.Equal(t, "2026-03-02", e.StartDate.String())
	assert.Equal(t, 0, e.ServiceYears)
	assert.Equal(t, auth.RoleEmployee, e.Role)
	assert.Equal(t, []audit.Action{audit.ActionCreate}, rec.actions())

	stored := repo.users[e.UserID]
	require.NotNil(t, stored)
	assert.True(t, auth.CheckPassword(stored.PasswordHash, "Passw0rd!"))

	_, err = svc.Create(context.Background(), admin, validCreate(), "")
	assert.ErrorIs(t, err, ErrDuplicateEmployeeNumber)

	req := validCreate()
	req.EmployeeNumber = "EMP002"
	req.Username = "other"
	_, err = svc.Create(context.Background(), admin, req, "")
	assert.ErrorIs(t, err, auth.ErrEmailTaken)
}

func TestCreateRejectsBadContact(t *testing.T) {
	svc, _, _ := newTestService()
	req := validCreate()
	req.PhoneNumber = "call me"
	_, err := svc.Create(context.Background(), admin, req, "")
	assert.ErrorIs(t, err, ErrInvalidContactInformation)
}

func TestGetAccess(t *testing.T) {
	svc, _, _ := newTestService()
	e, err := svc.Create(context.Background(), admin, validCreate(), "")
	require.NoError(t, err)

	self := auth.Principal{UserID: e.UserID, Role: auth.RoleEmployee}
	other := auth.Principal{UserID: "someone-else", Role: auth.RoleEmployee}
	prof := auth.Principal{UserID: "prof", Role: auth.RoleOHProfessional}

	_, err = svc.Get(context.Background(), self, e.ID)
	assert.NoError(t, err)
	_, err = svc.Get(context.Background(), prof, e.ID)
	assert.NoError(t, err)
	_, err = svc.Get(context.Background(), other, e.ID)
	assert.ErrorIs(t, err, auth.ErrForbidden)
	_, err = svc.Get(context.Background(), admin, "missing")
	assert.ErrorIs(t, err, ErrEmployeeNotFound)

	mine, err := svc.MyProfile(context.Background(), self)
	require.NoError(t, err)
	assert.Equal(t, e.ID, mine.ID)
}

func TestUpdatePersonalInformation(t *testing.T) {
	svc, _, rec := newTestService()
	e, err := svc.Create(context.Background(), admin, validCreate(), "")
	require.NoError(t, err)

	self := auth.Principal{UserID: e.UserID, Role: auth.RoleEmployee}
	newPhone := "+447700900456"
	title := "Dr"
	dob, _ := civil.ParseDate("1990-05-01")
	updated, err := svc.UpdatePersonalInformation(context.Background(), self, e.ID, UpdatePersonalInformationRequest{
		PhoneNumber: &newPhone,
		Title:       &title,
		DateOfBirth: &dob,
	}, "")
	require.NoError(t, err)
	assert.Equal(t, newPhone, updated.PhoneNumber)
	assert.Equal(t, "Dr", updated.Title)
	assert.Equal(t, "1990-05-01", updated.DateOfBirth.String())
	assert.Equal(t, "Jane", updated.FirstName)

	bad := "12"
	_, err = svc.UpdatePersonalInformation(context.Background(), self, e.ID, UpdatePersonalInformationRequest{PhoneNumber: &bad}, "")
	assert.ErrorIs(t, err, ErrInvalidContactInformation)

	other := auth.Principal{UserID: "x", Role: auth.RoleOHProfessional}
	_, err = svc.UpdatePersonalInformation(context.Background(), other, e.ID, UpdatePersonalInformationRequest{Title: &title}, "")
	assert.ErrorIs(t, err, auth.ErrForbidden)

	assert.Equal(t, []audit.Action{audit.ActionCreate, audit.ActionUpdate}, rec.actions())
	last := rec.entries[len(rec.entries)-1]
	assert.Contains(t, string(last.OldValues), "07700 900123")
	assert.Contains(t, string(last.NewValues), newPhone)
}

func TestManageEmploymentStatus(t *testing.T) {
	svc, repo, rec := newTestService()
	e, err := svc.Create(context.Background(), admin, validCreate(), "")
	require.NoError(t, err)

	updated, err := svc.ManageEmploymentStatus(context.Background(), manager, e.ID, StatusChangeRequest{Status: "TERMINATED", Reason: "resigned"}, "")
	require.NoError(t, err)
	assert.Equal(t, StatusTerminated, updated.EmploymentStatus)
	assert.Equal(t, auth.UserInactive, repo.employees[e.ID].UserStatus)

	updated, err = svc.ManageEmploymentStatus(context.Background(), manager, e.ID, StatusChangeRequest{Status: "active"}, "")
	require.NoError(t, err)
	assert.Equal(t, auth.UserActive, updated.UserStatus)

	_, err = svc.ManageEmploymentStatus(context.Background(), manager, e.ID, StatusChangeRequest{Status: "on_leave"}, "")
	require.NoError(t, err)
	assert.Equal(t, auth.UserActive, repo.employees[e.ID].UserStatus)

	statusEntry := rec.entries[1]
	assert.Contains(t, string(statusEntry.OldValues), `"active"`)
	assert.Contains(t, string(statusEntry.NewValues), `"resigned"`)
}

func TestCreateRoleAssignment(t *testing.T) {
	prof := auth.Principal{UserID: "prof-1", Role: auth.RoleOHProfessional}
	cases := []struct {
		name    string
		actor   auth.Principal
		role    string
		allowed bool
	}{
		{"admin creates admin", admin, "admin", true},
		{"admin creates manager", admin, "manager", true},
		{"manager creates employee", manager, "employee", true},
		{"manager creates professional", manager, "oh_professional", true},
		{"manager cannot create admin", manager, "admin", false},
		{"manager cannot create manager", manager, "MANAGER", false},
		{"professional cannot create employee", prof, "employee", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, repo, rec := newTestService()
			req := validCreate()
			req.Role = tc.role

			e, err := svc.Create(context.Background(), tc.actor, req, "")
			if tc.allowed {
				require.NoError(t, err)
				assert.Equal(t, strings.ToLower(tc.role), string(e.Role))
				return
			}
			assert.ErrorIs(t, err, auth.ErrForbidden)
			assert.Empty(t, repo.users)
			assert.Empty(t, rec.actions())
		})
	}
}

func TestManageEmploymentStatusOfPrivilegedAccounts(t *testing.T) {
	cases := []struct {
		name    string
		actor   auth.Principal
		target  string
		allowed bool
	}{
		{"admin suspends admin", admin, "admin", true},
		{"admin suspends manager", admin, "manager", true},
		{"manager suspends employee", manager, "employee", true},
		{"manager cannot suspend admin", manager, "admin", false},
		{"manager cannot suspend manager", manager, "manager", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, repo, _ := newTestService()
			req := validCreate()
			req.Role = tc.target
			e, err := svc.Create(context.Background(), admin, req, "")
			require.NoError(t, err)

			_, err = svc.ManageEmploymentStatus(context.Background(), tc.actor, e.ID, StatusChangeRequest{Status: "terminated"}, "")
			if tc.allowed {
				require.NoError(t, err)
				assert.Equal(t, StatusTerminated, repo.employees[e.ID].EmploymentStatus)
				return
			}
			assert.ErrorIs(t, err, auth.ErrForbidden)
			assert.Equal(t, StatusActive, repo.employees[e.ID].EmploymentStatus)
			assert.Equal(t, auth.UserActive, repo.employees[e.ID].UserStatus)
		})
	}
}

func TestValidateEmployeeNumberAndServiceYears(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.Create(context.Background(), admin, validCreate(), "")
	require.NoError(t, err)

	ok, err := svc.ValidateEmployeeNumber(context.Background(), "EMP001")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, _ = svc.ValidateEmployeeNumber(context.Background(), "  ")
	assert.False(t, ok)
	ok, _ = svc.ValidateEmployeeNumber(context.Background(), "EMP999")
	assert.True(t, ok)

	start, _ := civil.ParseDate("2016-03-03")
	assert.Equal(t, 9, svc.CalculateServiceYears(start))
}

func TestSearch(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.Create(context.Background(), admin, validCreate(), "")
	require.NoError(t, err)

	list, err := svc.Search(context.Background(), "logist")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	list, err = svc.Search(context.Background(), "   ")
	require.NoError(t, err)
	assert.Empty(t, list)
}
