package appointments

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresRepository_CreateRejectsOverlap(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	at := time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)
	a := &Appointment{ID: "a1", EmployeeID: "e1", ProfessionalID: "p1", Type: TypeConsultation, Mode: ModePhone,
		ScheduledAt: at, DurationMinutes: 30, Status: StatusScheduled, Reason: "r"}

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WithArgs("p1").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("p1", at, at.Add(30*time.Minute), "a1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	err = NewPostgresRepository(mock).Create(context.Background(), a)
	assert.ErrorIs(t, err, ErrSlotConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_CreateInserts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	at := time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)
	now := time.Now()
	a := &Appointment{ID: "a1", EmployeeID: "e1", ProfessionalID: "p1", Type: TypeConsultation, Mode: ModePhone,
		ScheduledAt: at, DurationMinutes: 45, Status: StatusScheduled, Reason: "r"}

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WithArgs("p1").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("p1", at, at.Add(45*time.Minute), "a1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs("a1", "e1", "p1", "consultation", "phone", at, 45, "scheduled", "", "r").
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectCommit()

	require.NoError(t, NewPostgresRepository(mock).Create(context.Background(), a))
	assert.Equal(t, now, a.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_UpdateStatusIsConditional(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("UPDATE appointments SET status").
		WithArgs("a1", "scheduled", "cancelled", "").
		WillReturnRows(pgxmock.NewRows([]string{"updated_at"}))

	err = NewPostgresRepository(mock).UpdateStatus(context.Background(), &Appointment{ID: "a1"}, StatusScheduled, StatusCancelled)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_ListBuildsFilter(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`WHERE a.employee_id = \$1 AND a.status = \$2 AND a.scheduled_at >= \$3 ORDER BY a.scheduled_at LIMIT \$4`).
		WithArgs("e1", "scheduled", from, 10).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	list, err := NewPostgresRepository(mock).List(context.Background(), Filter{EmployeeID: "e1", Status: StatusScheduled, From: from, Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, list)
	require.NoError(t, mock.ExpectationsWereMet())
}
