package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/oh-ehr-portal/internal/db"
)

// Repository stores conversations and ciphertext messages.
type Repository interface {
	CreateConversation(ctx context.Context, c *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]Conversation, error)
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	InsertMessage(ctx context.Context, m *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	// ListMessages returns the conversation's non-deleted messages oldest first.
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)
	UpdateContent(ctx context.Context, id, content string, at time.Time) error
	SoftDelete(ctx context.Context, id string) error
	// MarkRead is a no-op when the receipt already exists.
	MarkRead(ctx context.Context, messageID, userID string, at time.Time) error
	UnreadCount(ctx context.Context, conversationID, userID string) (int, error)
}

type PostgresRepository struct {
	pool db.TxBeginner
}

func NewPostgresRepository(pool db.TxBeginner) *PostgresRepository {
	if pool == nil {
		panic("messaging: pgx pool required")
	}
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) CreateConversation(ctx context.Context, c *Conversation) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO conversations (id, subject, created_by)
			VALUES ($1, $2, $3)
			RETURNING created_at, updated_at`,
			c.ID, c.Subject, c.CreatedBy,
		).Scan(&c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return fmt.Errorf("messaging: insert conversation: %w", err)
		}
		for i := range c.Participants {
			err := tx.QueryRow(ctx, `
				INSERT INTO conversation_participants (conversation_id, user_id)
				VALUES ($1, $2)
				RETURNING joined_at`,
				c.ID, c.Participants[i].UserID,
			).Scan(&c.Participants[i].JoinedAt)
			if err != nil {
				if db.IsForeignKeyViolation(err) {
					return ErrUnknownParticipant
				}
				return fmt.Errorf("messaging: insert participant: %w", err)
			}
		}
		return nil
	})
}

func (r *PostgresRepository) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var c Conversation
	err := r.pool.QueryRow(ctx, `
		SELECT id, subject, created_by, created_at, updated_at
		FROM conversations WHERE id = $1`, id,
	).Scan(&c.ID, &c.Subject, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("messaging: select conversation: %w", err)
	}
	byConv, err := r.participants(ctx, []string{c.ID})
	if err != nil {
		return nil, err
	}
	c.Participants = byConv[c.ID]
	return &c, nil
}

func (r *PostgresRepository) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT c.id, c.subject, c.created_by, c.created_at, c.updated_at
		FROM conversations c
		JOIN conversation_participants cp ON cp.conversation_id = c.id
		WHERE cp.user_id = $1 AND cp.is_active
		ORDER BY c.updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("messaging: list conversations: %w", err)
	}
	var out []Conversation
	var ids []string
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.Subject, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("messaging: scan conversation: %w", err)
		}
		out = append(out, c)
		ids = append(ids, c.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("messaging: list conversations: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	byConv, err := r.participants(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Participants = byConv[out[i].ID]
	}
	return out, nil
}

func (r *PostgresRepository) participants(ctx context.Context, conversationIDs []string) (map[string][]Participant, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT cp.conversation_id, u.id, u.first_name, u.last_name, u.role, cp.joined_at
		FROM conversation_participants cp
		JOIN users u ON u.id = cp.user_id
		WHERE cp.conversation_id = ANY($1) AND cp.is_active
		ORDER BY cp.joined_at, u.last_name`, conversationIDs)
	if err != nil {
		return nil, fmt.Errorf("messaging: list participants: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]Participant, len(conversationIDs))
	for rows.Next() {
		var convID string
		var p Participant
		if err := rows.Scan(&convID, &p.UserID, &p.FirstName, &p.LastName, &p.Role, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("messaging: scan participant: %w", err)
		}
		out[convID] = append(out[convID], p)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM conversation_participants
			WHERE conversation_id = $1 AND user_id = $2 AND is_active
		)`, conversationID, userID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("messaging: participant check: %w", err)
	}
	return ok, nil
}

func (r *PostgresRepository) InsertMessage(ctx context.Context, m *Message) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO messages (id, conversation_id, sender_id, content)
			VALUES ($1, $2, $3, $4)
			RETURNING sent_at`,
			m.ID, m.ConversationID, m.SenderID, m.Content,
		).Scan(&m.SentAt)
		if err != nil {
			return fmt.Errorf("messaging: insert message: %w", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE conversations SET updated_at = $2 WHERE id = $1`, m.ConversationID, m.SentAt); err != nil {
			return fmt.Errorf("messaging: touch conversation: %w", err)
		}
		return nil
	})
}

const selectMessage = `
	SELECT m.id, m.conversation_id, m.sender_id, u.first_name || ' ' || u.last_name, m.content,
		m.is_edited, m.is_deleted, m.sent_at, m.edited_at
	FROM messages m
	JOIN users u ON u.id = m.sender_id
`

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	if err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.SenderName, &m.Content,
		&m.IsEdited, &m.IsDeleted, &m.SentAt, &m.EditedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *PostgresRepository) GetMessage(ctx context.Context, id string) (*Message, error) {
	m, err := scanMessage(r.pool.QueryRow(ctx, selectMessage+"WHERE m.id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("messaging: select message: %w", err)
	}
	return m, nil
}

func (r *PostgresRepository) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := r.pool.Query(ctx, selectMessage+"WHERE m.conversation_id = $1 AND NOT m.is_deleted ORDER BY m.sent_at", conversationID)
	if err != nil {
		return nil, fmt.Errorf("messaging: list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("messaging: scan message: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) UpdateContent(ctx context.Context, id, content string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE messages SET content = $2, is_edited = true, edited_at = $3
		WHERE id = $1 AND NOT is_deleted`, id, content, at)
	if err != nil {
		return fmt.Errorf("messaging: update message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func (r *PostgresRepository) SoftDelete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE messages SET is_deleted = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("messaging: delete message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func (r *PostgresRepository) MarkRead(ctx context.Context, messageID, userID string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO message_reads (message_id, user_id, read_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (message_id, user_id) DO NOTHING`, messageID, userID, at)
	if err != nil {
		return fmt.Errorf("messaging: mark read: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM messages m
		WHERE m.conversation_id = $1 AND NOT m.is_deleted AND m.sender_id <> $2
			AND NOT EXISTS (SELECT 1 FROM message_reads mr WHERE mr.message_id = m.id AND mr.user_id = $2)`,
		conversationID, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("messaging: unread count: %w", err)
	}
	return n, nil
}
