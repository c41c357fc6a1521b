package video

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/oh-ehr-portal/internal/db"
)

type Repository interface {
	// GetByAppointment returns nil when the appointment has no session yet.
	GetByAppointment(ctx context.Context, appointmentID string) (*Session, error)
	Get(ctx context.Context, id string) (*Session, error)
	// Create inserts s unless the appointment already has a session, and returns the stored one.
	Create(ctx context.Context, s *Session) (*Session, error)
	// Join upserts the participant and returns how many are currently in the session.
	Join(ctx context.Context, p *Participant) (int, error)
	Leave(ctx context.Context, sessionID, userID string, at time.Time) error
	UpdateStatus(ctx context.Context, s *Session) error
}

type PostgresRepository struct {
	pool db.Querier
}

func NewPostgresRepository(pool db.Querier) *PostgresRepository {
	if pool == nil {
		panic("video: pgx pool required")
	}
	return &PostgresRepository{pool: pool}
}

const selectSession = `
	SELECT id, appointment_id, meeting_room_id, status, created_at, started_at, ended_at
	FROM video_sessions
`

func scanSession(row pgx.Row) (*Session, error) {
	var s Session
	if err := row.Scan(&s.ID, &s.AppointmentID, &s.MeetingRoomID, &s.Status, &s.CreatedAt, &s.StartedAt, &s.EndedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *PostgresRepository) GetByAppointment(ctx context.Context, appointmentID string) (*Session, error) {
	s, err := scanSession(r.pool.QueryRow(ctx, selectSession+"WHERE appointment_id = $1", appointmentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("video: get session by appointment: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*Session, error) {
	s, err := scanSession(r.pool.QueryRow(ctx, selectSession+"WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("video: get session: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) Create(ctx context.Context, s *Session) (*Session, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO video_sessions (id, appointment_id, meeting_room_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (appointment_id) DO NOTHING`,
		s.ID, s.AppointmentID, s.MeetingRoomID, s.Status, s.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("video: create session: %w", err)
	}
	stored, err := r.GetByAppointment(ctx, s.AppointmentID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, ErrSessionNotFound
	}
	return stored, nil
}

func (r *PostgresRepository) Join(ctx context.Context, p *Participant) (int, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO video_participants (session_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id, user_id) DO UPDATE SET joined_at = EXCLUDED.joined_at, left_at = NULL`,
		p.SessionID, p.UserID, p.Role, p.JoinedAt)
	if err != nil {
		return 0, fmt.Errorf("video: join session: %w", err)
	}
	var n int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM video_participants WHERE session_id = $1 AND left_at IS NULL`,
		p.SessionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("video: count participants: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) Leave(ctx context.Context, sessionID, userID string, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE video_participants SET left_at = $3 WHERE session_id = $1 AND user_id = $2 AND left_at IS NULL`,
		sessionID, userID, at)
	if err != nil {
		return fmt.Errorf("video: leave session: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, s *Session) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE video_sessions SET status = $2, started_at = $3, ended_at = $4 WHERE id = $1`,
		s.ID, s.Status, s.StartedAt, s.EndedAt)
	if err != nil {
		return fmt.Errorf("video: update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}
