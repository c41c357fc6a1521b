package compliance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/oh-ehr-portal/internal/appointments"
	"github.com/wolfman30/oh-ehr-portal/internal/audit"
	"github.com/wolfman30/oh-ehr-portal/internal/auth"
	"github.com/wolfman30/oh-ehr-portal/internal/db"
	"github.com/wolfman30/oh-ehr-portal/internal/documents"
	"github.com/wolfman30/oh-ehr-portal/internal/employees"
	"github.com/wolfman30/oh-ehr-portal/internal/healthrecords"
)

type memRepo struct {
	consents []Consent
	deleted  []string
}

func (m *memRepo) InsertConsent(_ context.Context, c *Consent) error {
	m.consents = append(m.consents, *c)
	return nil
}

func (m *memRepo) ListConsents(_ context.Context, employeeID string) ([]Consent, error) {
	var out []Consent
	for i := len(m.consents) - 1; i >= 0; i-- {
		if m.consents[i].EmployeeID == employeeID {
			out = append(out, m.consents[i])
		}
	}
	return out, nil
}

func (m *memRepo) LatestConsent(_ context.Context, employeeID, consentType string) (*Consent, error) {
	for i := len(m.consents) - 1; i >= 0; i-- {
		c := m.consents[i]
		if c.EmployeeID == employeeID && c.ConsentType == consentType {
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memRepo) DeleteUser(_ context.Context, userID string) error {
	m.deleted = append(m.deleted, userID)
	return nil
}

type employeeStore struct {
	byID       map[string]*employees.Employee
	anonymized []string
}

func (e *employeeStore) Lookup(_ context.Context, id string) (*employees.Employee, error) {
	if emp, ok := e.byID[id]; ok {
		return emp, nil
	}
	return nil, employees.ErrEmployeeNotFound
}

// Anonymize mimics the transactional repository: the profile is only changed
// when every contributed step succeeds.
func (e *employeeStore) Anonymize(ctx context.Context, emp *employees.Employee, also ...db.TxStep) error {
	for _, step := range also {
		if err := step(ctx, nil); err != nil {
			return err
		}
	}
	e.anonymized = append(e.anonymized, emp.ID)
	return nil
}

type healthData struct {
	record   *healthrecords.Record
	cleared  []string
	clearErr error
}

func (h *healthData) ForExport(context.Context, string) (*healthrecords.Record, error) { return h.record, nil }

func (h *healthData) ClearIdentifiers(employeeID string) db.TxStep {
	return func(context.Context, db.Querier) error {
		if h.clearErr != nil {
			return h.clearErr
		}
		h.cleared = append(h.cleared, employeeID)
		return nil
	}
}

type appointmentLister struct{ got appointments.Filter }

func (a *appointmentLister) List(_ context.Context, _ auth.Principal, f appointments.Filter) ([]appointments.Appointment, error) {
	a.got = f
	return []appointments.Appointment{{ID: "appt-1", EmployeeID: f.EmployeeID}}, nil
}

type documentStore struct {
	purgeErr error
	purged   []string
}

func (d *documentStore) MetadataForEmployee(context.Context, string) ([]documents.Document, error) {
	return nil, nil
}

func (d *documentStore) PurgeBlobs(_ context.Context, employeeID string) (int, error) {
	if d.purgeErr != nil {
		return 0, d.purgeErr
	}
	d.purged = append(d.purged, employeeID)
	return 2, nil
}

type recordingAudit struct {
	entries  []audit.Entry
	accesses []audit.Access
}

func (r *recordingAudit) Record(_ context.Context, e audit.Entry) error {
	r.entries = append(r.entries, e)
	return nil
}

func (r *recordingAudit) RecordAccess(_ context.Context, a audit.Access) error {
	r.accesses = append(r.accesses, a)
	return nil
}

var (
	jane  = auth.Principal{UserID: "user-jane", Role: auth.RoleEmployee}
	bob   = auth.Principal{UserID: "user-bob", Role: auth.RoleEmployee}
	nina  = auth.Principal{UserID: "user-nina", Role: auth.RoleOHProfessional}
	admin = auth.Principal{UserID: "user-admin", Role: auth.RoleAdmin}
)

var fixedNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fixture struct {
	svc    *Service
	repo   *memRepo
	emps   *employeeStore
	health *healthData
	appts  *appointmentLister
	docs   *documentStore
	audit  *recordingAudit
}

func newFixture() *fixture {
	f := &fixture{
		repo: &memRepo{},
		emps: &employeeStore{byID: map[string]*employees.Employee{
			"emp-jane": {ID: "emp-jane", UserID: "user-jane", FirstName: "Jane"},
		}},
		health: &healthData{record: &healthrecords.Record{EmployeeID: "emp-jane", HealthNotes: "notes"}},
		appts:  &appointmentLister{},
		docs:   &documentStore{},
		audit:  &recordingAudit{},
	}
	f.svc = NewService(f.repo, f.emps, f.health, f.appts, f.docs, f.audit, nil)
	f.svc.now = func() time.Time { return fixedNow }
	return f
}

func TestConsentLifecycle(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	ok, err := f.svc.HasHealthDataConsent(ctx, "emp-jane")
	require.NoError(t, err)
	assert.False(t, ok)

	expires := fixedNow.Add(365 * 24 * time.Hour)
	c, err := f.svc.RecordConsent(ctx, jane, "emp-jane", ConsentRequest{ConsentType: "Health_Data_Processing", Granted: true, ExpiresAt: &expires}, "")
	require.NoError(t, err)
	assert.Equal(t, ConsentHealthData, c.ConsentType)
	assert.Equal(t, "user-jane", c.RecordedBy)

	ok, err = f.svc.ValidateConsent(ctx, nina, "emp-jane")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = f.svc.RecordConsent(ctx, jane, "emp-jane", ConsentRequest{ConsentType: ConsentHealthData, Granted: false}, "")
	require.NoError(t, err)
	ok, err = f.svc.HasHealthDataConsent(ctx, "emp-jane")
	require.NoError(t, err)
	assert.False(t, ok, "a later withdrawal wins")

	require.Len(t, f.audit.entries, 2)
	assert.Equal(t, audit.ActionConsentChange, f.audit.entries[1].Action)
	assert.NotEmpty(t, f.audit.entries[1].OldValues)
	assert.Empty(t, f.audit.entries[0].OldValues)

	history, err := f.svc.ListConsents(ctx, jane, "emp-jane")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.False(t, history[0].Granted)
}

func TestConsentExpiry(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	expires := fixedNow.Add(time.Hour)
	_, err := f.svc.RecordConsent(ctx, nina, "emp-jane", ConsentRequest{ConsentType: ConsentHealthData, Granted: true, ExpiresAt: &expires}, "")
	require.NoError(t, err)

	f.svc.now = func() time.Time { return fixedNow.Add(2 * time.Hour) }
	ok, err := f.svc.HasHealthDataConsent(ctx, "emp-jane")
	require.NoError(t, err)
	assert.False(t, ok)

	past := fixedNow
	_, err = f.svc.RecordConsent(ctx, nina, "emp-jane", ConsentRequest{ConsentType: ConsentHealthData, Granted: true, ExpiresAt: &past}, "")
	assert.ErrorIs(t, err, ErrExpiryInPast)
}

func TestConsentRules(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.RecordConsent(ctx, bob, "emp-jane", ConsentRequest{ConsentType: ConsentHealthData, Granted: true}, "")
	assert.ErrorIs(t, err, auth.ErrForbidden)

	_, err = f.svc.RecordConsent(ctx, jane, "emp-jane", ConsentRequest{ConsentType: "marketing", Granted: true}, "")
	assert.ErrorIs(t, err, ErrUnknownConsentType)

	_, err = f.svc.ValidateConsent(ctx, bob, "emp-jane")
	assert.ErrorIs(t, err, auth.ErrForbidden)
}

func TestExport(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	out, err := f.svc.Export(ctx, jane, "emp-jane", "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "Jane", out.Employee.FirstName)
	assert.Equal(t, "notes", out.HealthRecord.HealthNotes)
	require.Len(t, out.Appointments, 1)
	assert.Equal(t, "emp-jane", f.appts.got.EmployeeID)
	assert.NotNil(t, out.Documents)
	assert.NotNil(t, out.Consents)
	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, audit.ActionExport, f.audit.entries[0].Action)

	_, err = f.svc.Export(ctx, nina, "emp-jane", "")
	assert.ErrorIs(t, err, auth.ErrForbidden)
}

func TestAnonymize(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.Anonymize(ctx, nina, "emp-jane", ""), auth.ErrForbidden)
	require.NoError(t, f.svc.Anonymize(ctx, admin, "emp-jane", ""))
	assert.Equal(t, []string{"emp-jane"}, f.emps.anonymized)
	assert.Equal(t, []string{"emp-jane"}, f.health.cleared)
	assert.Equal(t, audit.ActionAnonymize, f.audit.entries[0].Action)
}

func TestAnonymizeIsAllOrNothing(t *testing.T) {
	f := newFixture()
	f.health.clearErr = errors.New("health_records locked")

	err := f.svc.Anonymize(context.Background(), admin, "emp-jane", "")
	assert.ErrorIs(t, err, f.health.clearErr)
	assert.Empty(t, f.emps.anonymized, "profile is left intact when the health record cannot be scrubbed")
	assert.Empty(t, f.health.cleared)
	assert.Empty(t, f.audit.entries)
}

func TestDelete(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.docs.purgeErr = errors.New("s3 down")
	assert.Error(t, f.svc.Delete(ctx, admin, "emp-jane", ""))
	assert.Empty(t, f.repo.deleted, "the account stays until blobs are gone")

	f.docs.purgeErr = nil
	require.NoError(t, f.svc.Delete(ctx, admin, "emp-jane", ""))
	assert.Equal(t, []string{"user-jane"}, f.repo.deleted)
	assert.Equal(t, audit.ActionDelete, f.audit.entries[0].Action)

	assert.ErrorIs(t, f.svc.Delete(ctx, admin, "emp-none", ""), employees.ErrEmployeeNotFound)
}

func TestAuditAccess(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.AuditAccess(ctx, jane, "user-nina", "emp-jane"), auth.ErrForbidden)
	require.NoError(t, f.svc.AuditAccess(ctx, nina, "user-nina", "emp-jane"))
	require.Len(t, f.audit.accesses, 1)
	assert.Equal(t, "user-nina", f.audit.accesses[0].AccessorID)
	assert.Equal(t, "HEALTH_DATA", f.audit.accesses[0].DataType)
}

func TestConsentLedgerMatchesService(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	ledger := NewConsentLedger(f.repo)
	ledger.now = func() time.Time { return fixedNow }

	ok, err := ledger.HasHealthDataConsent(ctx, "emp-jane")
	require.NoError(t, err)
	assert.False(t, ok)

	expires := fixedNow.Add(time.Hour)
	_, err = f.svc.RecordConsent(ctx, nina, "emp-jane", ConsentRequest{ConsentType: ConsentHealthData, Granted: true, ExpiresAt: &expires}, "")
	require.NoError(t, err)

	ok, err = ledger.HasHealthDataConsent(ctx, "emp-jane")
	require.NoError(t, err)
	assert.True(t, ok)

	ledger.now = func() time.Time { return expires.Add(time.Second) }
	ok, err = ledger.HasHealthDataConsent(ctx, "emp-jane")
	require.NoError(t, err)
	assert.False(t, ok)
}
