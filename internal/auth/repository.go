package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/oh-ehr-portal/internal/db"
)

// Repository persists users and sessions.
type Repository interface {
	CreateUser(ctx context.Context, u *User) error
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByResetHash(ctx context.Context, hash string) (*User, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	SetPasswordResetToken(ctx context.Context, userID, hash string, expires time.Time) error
	ResetPassword(ctx context.Context, userID, passwordHash string) error
	SetTwoFactor(ctx context.Context, userID string, secret *string, enabled bool) error
	// ClaimTOTPStep records step as the user's last accepted TOTP step. It
	// reports false when that step or a later one was already used.
	ClaimTOTPStep(ctx context.Context, userID string, step int64) (bool, error)
	TouchLastLogin(ctx context.Context, userID string, at time.Time) error
	CountUsersByRole(ctx context.Context) (map[Role]int, error)

	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	GetSessionByRefreshHash(ctx context.Context, hash string) (*Session, error)
	ListSessions(ctx context.Context, userID string) ([]Session, error)
	DeleteSession(ctx context.Context, id string) error
	DeleteUserSessions(ctx context.Context, userID string) error
}

// PostgresRepository implements Repository with pgx.
type PostgresRepository struct {
	pool db.Querier
}

// NewPostgresRepository wraps a pool (or any db.Querier).
func NewPostgresRepository(pool db.Querier) *PostgresRepository {
	if pool == nil {
		panic("auth: pgx pool required")
	}
	return &PostgresRepository{pool: pool}
}

const userColumns = `id, username, email, password_hash, first_name, last_name, role, status,
	two_factor_secret, two_factor_enabled, email_notifications,
	password_reset_hash, password_reset_expires_at, last_login_at, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var role, status string
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName,
		&role, &status, &u.TwoFactorSecret, &u.TwoFactorEnabled, &u.EmailNotifications,
		&u.PasswordResetHash, &u.PasswordResetExpires, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	u.Role = Role(role)
	u.Status = UserStatus(status)
	return &u, nil
}

// CreateUser inserts u, mapping unique violations to ErrUsernameTaken or ErrEmailTaken.
func (r *PostgresRepository) CreateUser(ctx context.Context, u *User) error {
	return InsertUser(ctx, r.pool, u)
}

// InsertUser is CreateUser against an arbitrary querier so other packages can
// create accounts inside their own transaction.
func InsertUser(ctx context.Context, q db.Querier, u *User) error {
	query := `
		INSERT INTO users (id, username, email, password_hash, first_name, last_name, role, status,
			two_factor_enabled, email_notifications)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`
	err := q.QueryRow(ctx, query, u.ID, u.Username, u.Email, u.PasswordHash, u.FirstName, u.LastName,
		string(u.Role), string(u.Status), u.TwoFactorEnabled, u.EmailNotifications,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			if strings.Contains(db.ConstraintName(err), "email") {
				return ErrEmailTaken
			}
			return ErrUsernameTaken
		}
		return fmt.Errorf("auth: insert user: %w", err)
	}
	return nil
}

func (r *PostgresRepository) getUser(ctx context.Context, where string, arg any) (*User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg))
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("auth: select user: %w", err)
	}
	return u, err
}

func (r *PostgresRepository) GetUserByID(ctx context.Context, id string) (*User, error) {
	return r.getUser(ctx, "id = $1", id)
}

func (r *PostgresRepository) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return r.getUser(ctx, "lower(username) = lower($1)", username)
}

func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return r.getUser(ctx, "lower(email) = lower($1)", email)
}

func (r *PostgresRepository) GetUserByResetHash(ctx context.Context, hash string) (*User, error) {
	return r.getUser(ctx, "password_reset_hash = $1", hash)
}

func (r *PostgresRepository) exists(ctx context.Context, column, value string) (bool, error) {
	var ok bool
	query := `SELECT EXISTS(SELECT 1 FROM users WHERE lower(` + column + `) = lower($1))`
	if err := r.pool.QueryRow(ctx, query, value).Scan(&ok); err != nil {
		return false, fmt.Errorf("auth: exists %s: %w", column, err)
	}
	return ok, nil
}

func (r *PostgresRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	return r.exists(ctx, "username", username)
}

func (r *PostgresRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return r.exists(ctx, "email", email)
}

func (r *PostgresRepository) execUser(ctx context.Context, op, query string, args ...any) error {
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("auth: %s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *PostgresRepository) SetPasswordResetToken(ctx context.Context, userID, hash string, expires time.Time) error {
	return r.execUser(ctx, "set reset token",
		`UPDATE users SET password_reset_hash = $2, password_reset_expires_at = $3, updated_at = now() WHERE id = $1`,
		userID, hash, expires)
}

// ResetPassword stores the new hash and clears any reset token.
func (r *PostgresRepository) ResetPassword(ctx context.Context, userID, passwordHash string) error {
	return r.execUser(ctx, "reset password",
		`UPDATE users SET password_hash = $2, password_reset_hash = NULL, password_reset_expires_at = NULL, updated_at = now() WHERE id = $1`,
		userID, passwordHash)
}

func (r *PostgresRepository) SetTwoFactor(ctx context.Context, userID string, secret *string, enabled bool) error {
	return r.execUser(ctx, "set two factor",
		`UPDATE users SET two_factor_secret = $2, two_factor_enabled = $3, updated_at = now() WHERE id = $1`,
		userID, secret, enabled)
}

func (r *PostgresRepository) ClaimTOTPStep(ctx context.Context, userID string, step int64) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET two_factor_last_step = $2 WHERE id = $1 AND two_factor_last_step < $2`,
		userID, step)
	if err != nil {
		return false, fmt.Errorf("auth: claim totp step: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRepository) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	return r.execUser(ctx, "touch last login", `UPDATE users SET last_login_at = $2 WHERE id = $1`, userID, at)
}

func (r *PostgresRepository) CountUsersByRole(ctx context.Context) (map[Role]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT role, count(*) FROM users GROUP BY role`)
	if err != nil {
		return nil, fmt.Errorf("auth: count users: %w", err)
	}
	defer rows.Close()
	out := map[Role]int{}
	for rows.Next() {
		var role string
		var n int
		if err := rows.Scan(&role, &n); err != nil {
			return nil, fmt.Errorf("auth: scan count: %w", err)
		}
		out[Role(role)] = n
	}
	return out, rows.Err()
}

func (r *PostgresRepository) CreateSession(ctx context.Context, s *Session) error {
	query := `
		INSERT INTO user_sessions (id, user_id, refresh_token_hash, expires_at, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`
	if err := r.pool.QueryRow(ctx, query, s.ID, s.UserID, s.RefreshTokenHash, s.ExpiresAt, s.IPAddress, s.UserAgent).Scan(&s.CreatedAt); err != nil {
		return fmt.Errorf("auth: insert session: %w", err)
	}
	return nil
}

const sessionColumns = `id, user_id, refresh_token_hash, expires_at, ip_address, user_agent, created_at`

func scanSession(row pgx.Row) (*Session, error) {
	var s Session
	if err := row.Scan(&s.ID, &s.UserID, &s.RefreshTokenHash, &s.ExpiresAt, &s.IPAddress, &s.UserAgent, &s.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("auth: select session: %w", err)
	}
	return &s, nil
}

func (r *PostgresRepository) GetSession(ctx context.Context, id string) (*Session, error) {
	return scanSession(r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM user_sessions WHERE id = $1`, id))
}

func (r *PostgresRepository) GetSessionByRefreshHash(ctx context.Context, hash string) (*Session, error) {
	return scanSession(r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM user_sessions WHERE refresh_token_hash = $1`, hash))
}

func (r *PostgresRepository) ListSessions(ctx context.Context, userID string) ([]Session, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+sessionColumns+` FROM user_sessions WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("auth: list sessions: %w", err)
	}
	defer rows.Close()
	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) DeleteSession(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM user_sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("auth: delete session: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteUserSessions(ctx context.Context, userID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM user_sessions WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("auth: delete user sessions: %w", err)
	}
	return nil
}
