package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/oh-ehr-portal/internal/db"
)

type Repository interface {
	Create(ctx context.Context, n *Notification) error
	ListForUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]Notification, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, id, userID string, at time.Time) error
	MarkAllRead(ctx context.Context, userID string, at time.Time) (int, error)
	// ClaimDue leases up to limit due notifications until the given time so
	// concurrent dispatchers never publish the same row.
	ClaimDue(ctx context.Context, now, until time.Time, limit int) ([]Notification, error)
	MarkSent(ctx context.Context, id string, at time.Time) error
	RecordFailure(ctx context.Context, id, reason string, maxAttempts int) (DeliveryStatus, error)
	DeletePending(ctx context.Context, relatedEntityID string, typ Type) (int, error)
}

type PostgresRepository struct {
	pool db.Querier
}

func NewPostgresRepository(pool db.Querier) *PostgresRepository {
	if pool == nil {
		panic("notify: pgx pool required")
	}
	return &PostgresRepository{pool: pool}
}

const notificationColumns = `id, user_id, type, title, message, is_read, read_at, scheduled_for, sent_at,
	delivery_status, attempts, last_error, related_entity_id, created_at`

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	var typ, status string
	var lastErr, related *string
	if err := row.Scan(&n.ID, &n.UserID, &typ, &n.Title, &n.Message, &n.IsRead, &n.ReadAt, &n.ScheduledFor,
		&n.SentAt, &status, &n.Attempts, &lastErr, &related, &n.CreatedAt); err != nil {
		return nil, err
	}
	n.Type = Type(typ)
	n.DeliveryStatus = DeliveryStatus(status)
	if lastErr != nil {
		n.LastError = *lastErr
	}
	if related != nil {
		n.RelatedEntityID = *related
	}
	return &n, nil
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]Notification, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("notify: list: %w", err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("notify: scan: %w", err)
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Create(ctx context.Context, n *Notification) error {
	query := `
		INSERT INTO notifications (id, user_id, type, title, message, scheduled_for, delivery_status, related_entity_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`
	var related *string
	if n.RelatedEntityID != "" {
		related = &n.RelatedEntityID
	}
	err := r.pool.QueryRow(ctx, query, n.ID, n.UserID, string(n.Type), n.Title, n.Message, n.ScheduledFor,
		string(n.DeliveryStatus), related).Scan(&n.CreatedAt)
	if err != nil {
		return fmt.Errorf("notify: insert: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListForUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE user_id = $1 AND scheduled_for <= now()`
	if unreadOnly {
		query += ` AND NOT is_read`
	}
	return r.list(ctx, query+` ORDER BY scheduled_for DESC LIMIT $2`, userID, limit)
}

func (r *PostgresRepository) UnreadCount(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM notifications WHERE user_id = $1 AND NOT is_read AND scheduled_for <= now()`,
		userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("notify: unread count: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) MarkRead(ctx context.Context, id, userID string, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE notifications SET is_read = true, read_at = COALESCE(read_at, $3) WHERE id = $1 AND user_id = $2`,
		id, userID, at)
	if err != nil {
		return fmt.Errorf("notify: mark read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

func (r *PostgresRepository) MarkAllRead(ctx context.Context, userID string, at time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE notifications SET is_read = true, read_at = $2 WHERE user_id = $1 AND NOT is_read`, userID, at)
	if err != nil {
		return 0, fmt.Errorf("notify: mark all read: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ClaimDue returns pending notifications whose time has come, oldest first.
// Rows locked by another dispatcher are skipped and claimed rows stay hidden
// until the lease lapses, so a crashed dispatcher's rows are picked up again.
func (r *PostgresRepository) ClaimDue(ctx context.Context, now, until time.Time, limit int) ([]Notification, error) {
	due, err := r.list(ctx, `UPDATE notifications SET claimed_until = $2
		WHERE id IN (
			SELECT id FROM notifications
			WHERE delivery_status = 'pending' AND scheduled_for <= $1
				AND (claimed_until IS NULL OR claimed_until <= $1)
			ORDER BY scheduled_for
			LIMIT $3
			FOR UPDATE SKIP LOCKED)
		RETURNING `+notificationColumns, now, until, limit)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].ScheduledFor.Before(due[j].ScheduledFor) })
	return due, nil
}

func (r *PostgresRepository) MarkSent(ctx context.Context, id string, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE notifications SET delivery_status = 'sent', sent_at = $2 WHERE id = $1 AND delivery_status = 'pending'`,
		id, at)
	if err != nil {
		return fmt.Errorf("notify: mark sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

// RecordFailure bumps attempts and flips the row to failed once maxAttempts is reached.
func (r *PostgresRepository) RecordFailure(ctx context.Context, id, reason string, maxAttempts int) (DeliveryStatus, error) {
	var status string
	err := r.pool.QueryRow(ctx, `
		UPDATE notifications
		SET attempts = attempts + 1,
			last_error = $2,
			claimed_until = NULL,
			delivery_status = CASE WHEN attempts + 1 >= $3 THEN 'failed' ELSE delivery_status END
		WHERE id = $1
		RETURNING delivery_status`, id, reason, maxAttempts).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotificationNotFound
	}
	if err != nil {
		return "", fmt.Errorf("notify: record failure: %w", err)
	}
	return DeliveryStatus(status), nil
}

func (r *PostgresRepository) DeletePending(ctx context.Context, relatedEntityID string, typ Type) (int, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM notifications WHERE related_entity_id = $1 AND type = $2 AND delivery_status = 'pending'`,
		relatedEntityID, string(typ))
	if err != nil {
		return 0, fmt.Errorf("notify: delete pending: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
