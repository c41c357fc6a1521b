package video

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresRepository_CreateReturnsStoredSession(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO video_sessions").
		WithArgs("s-new", "appt-1", "room-abc", StatusWaiting, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery("FROM video_sessions\\s+WHERE appointment_id = \\$1").
		WithArgs("appt-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "appointment_id", "meeting_room_id", "status", "created_at", "started_at", "ended_at"}).
			AddRow("s-existing", "appt-1", "room-old", StatusWaiting, now, (*time.Time)(nil), (*time.Time)(nil)))

	s, err := NewPostgresRepository(mock).Create(context.Background(), &Session{
		ID: "s-new", AppointmentID: "appt-1", MeetingRoomID: "room-abc", Status: StatusWaiting, CreatedAt: now,
	})
	require.NoError(t, err)
	assert.Equal(t, "s-existing", s.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_JoinCountsPresent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO video_participants").
		WithArgs("s-1", "user-1", RoleHost, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM video_participants").
		WithArgs("s-1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(2))

	n, err := NewPostgresRepository(mock).Join(context.Background(), &Participant{SessionID: "s-1", UserID: "user-1", Role: RoleHost, JoinedAt: now})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_GetMissing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("FROM video_sessions").WithArgs("nope").WillReturnError(pgx.ErrNoRows)
	_, err = NewPostgresRepository(mock).Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
