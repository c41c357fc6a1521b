package compliance

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/oh-ehr-portal/internal/db"
)

type Repository interface {
	InsertConsent(ctx context.Context, c *Consent) error
	ListConsents(ctx context.Context, employeeID string) ([]Consent, error)
	// LatestConsent returns the most recent decision of one type, or nil.
	LatestConsent(ctx context.Context, employeeID, consentType string) (*Consent, error)
	// DeleteUser removes the account; employee-owned rows cascade.
	DeleteUser(ctx context.Context, userID string) error
}

type PostgresRepository struct {
	pool db.Querier
}

func NewPostgresRepository(pool db.Querier) *PostgresRepository {
	if pool == nil {
		panic("compliance: pgx pool required")
	}
	return &PostgresRepository{pool: pool}
}

const selectConsent = `
	SELECT id, employee_id, consent_type, is_granted, consent_date, expires_at, recorded_by
	FROM consents
`

func scanConsent(row pgx.Row) (*Consent, error) {
	var c Consent
	if err := row.Scan(&c.ID, &c.EmployeeID, &c.ConsentType, &c.Granted, &c.ConsentDate, &c.ExpiresAt, &c.RecordedBy); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *PostgresRepository) InsertConsent(ctx context.Context, c *Consent) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO consents (id, employee_id, consent_type, is_granted, consent_date, expires_at, recorded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.EmployeeID, c.ConsentType, c.Granted, c.ConsentDate, c.ExpiresAt, c.RecordedBy)
	if err != nil {
		return fmt.Errorf("compliance: insert consent: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListConsents(ctx context.Context, employeeID string) ([]Consent, error) {
	rows, err := r.pool.Query(ctx, selectConsent+"WHERE employee_id = $1 ORDER BY consent_date DESC", employeeID)
	if err != nil {
		return nil, fmt.Errorf("compliance: list consents: %w", err)
	}
	defer rows.Close()

	var out []Consent
	for rows.Next() {
		c, err := scanConsent(rows)
		if err != nil {
			return nil, fmt.Errorf("compliance: scan consent: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) LatestConsent(ctx context.Context, employeeID, consentType string) (*Consent, error) {
	c, err := scanConsent(r.pool.QueryRow(ctx,
		selectConsent+"WHERE employee_id = $1 AND consent_type = $2 ORDER BY consent_date DESC LIMIT 1",
		employeeID, consentType))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("compliance: latest consent: %w", err)
	}
	return c, nil
}

func (r *PostgresRepository) DeleteUser(ctx context.Context, userID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, userID); err != nil {
		return fmt.Errorf("compliance: delete user: %w", err)
	}
	return nil
}
