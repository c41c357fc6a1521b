package compliance

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresRepository_LatestConsent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := NewPostgresRepository(mock)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM consents\\s+WHERE employee_id = \\$1 AND consent_type = \\$2 ORDER BY consent_date DESC LIMIT 1").
		WithArgs("emp-1", ConsentHealthData).
		WillReturnRows(pgxmock.NewRows([]string{"id", "employee_id", "consent_type", "is_granted", "consent_date", "expires_at", "recorded_by"}).
			AddRow("c1", "emp-1", ConsentHealthData, true, now, (*time.Time)(nil), "user-1"))
	c, err := repo.LatestConsent(context.Background(), "emp-1", ConsentHealthData)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.True(t, c.Active(now))

	mock.ExpectQuery("FROM consents").WithArgs("emp-2", ConsentHealthData).WillReturnError(pgx.ErrNoRows)
	c, err = repo.LatestConsent(context.Background(), "emp-2", ConsentHealthData)
	require.NoError(t, err)
	assert.Nil(t, c)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_DeleteUser(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("DELETE FROM users WHERE id = \\$1").
		WithArgs("user-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, NewPostgresRepository(mock).DeleteUser(context.Background(), "user-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}
