package professionals

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/oh-ehr-portal/internal/db"
)

type Repository interface {
	Create(ctx context.Context, p *Professional) error
	GetByID(ctx context.Context, id string) (*Professional, error)
	GetByUserID(ctx context.Context, userID string) (*Professional, error)
	List(ctx context.Context, onlyAvailable bool) ([]Professional, error)
	UpdateAvailability(ctx context.Context, p *Professional) error
}

// PostgresRepository stores profiles in oh_professionals with working hours as JSONB.
type PostgresRepository struct {
	pool db.Querier
}

func NewPostgresRepository(pool db.Querier) *PostgresRepository {
	if pool == nil {
		panic("professionals: pgx pool required")
	}
	return &PostgresRepository{pool: pool}
}

const selectProfessional = `
	SELECT p.id, p.user_id, u.first_name, u.last_name, u.email, p.registration_number, p.specialization,
		p.working_hours, p.available, p.created_at, p.updated_at
	FROM oh_professionals p
	JOIN users u ON u.id = p.user_id
`

func scanProfessional(row pgx.Row) (*Professional, error) {
	var p Professional
	var hours []byte
	if err := row.Scan(&p.ID, &p.UserID, &p.FirstName, &p.LastName, &p.Email, &p.RegistrationNumber,
		&p.Specialization, &hours, &p.Available, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if len(hours) > 0 {
		if err := json.Unmarshal(hours, &p.WorkingHours); err != nil {
			return nil, fmt.Errorf("professionals: decode working hours: %w", err)
		}
	}
	return &p, nil
}

func encodeHours(h WorkingHours) (string, error) {
	if h == nil {
		h = WorkingHours{}
	}
	b, err := json.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("professionals: encode working hours: %w", err)
	}
	return string(b), nil
}

func (r *PostgresRepository) Create(ctx context.Context, p *Professional) error {
	hours, err := encodeHours(p.WorkingHours)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO oh_professionals (id, user_id, registration_number, specialization, working_hours, available)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`
	err = r.pool.QueryRow(ctx, query, p.ID, p.UserID, p.RegistrationNumber, p.Specialization, hours, p.Available).
		Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			if db.ConstraintName(err) == "oh_professionals_user_id_key" {
				return ErrAlreadyProfessional
			}
			return ErrDuplicateRegistration
		}
		return fmt.Errorf("professionals: insert: %w", err)
	}
	return nil
}

func (r *PostgresRepository) one(ctx context.Context, where string, arg any) (*Professional, error) {
	p, err := scanProfessional(r.pool.QueryRow(ctx, selectProfessional+"WHERE "+where, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrProfessionalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("professionals: select: %w", err)
	}
	return p, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Professional, error) {
	return r.one(ctx, "p.id = $1", id)
}

func (r *PostgresRepository) GetByUserID(ctx context.Context, userID string) (*Professional, error) {
	return r.one(ctx, "p.user_id = $1", userID)
}

func (r *PostgresRepository) List(ctx context.Context, onlyAvailable bool) ([]Professional, error) {
	query := selectProfessional
	if onlyAvailable {
		query += "WHERE p.available AND u.status = 'active' "
	}
	rows, err := r.pool.Query(ctx, query+"ORDER BY u.last_name, u.first_name")
	if err != nil {
		return nil, fmt.Errorf("professionals: list: %w", err)
	}
	defer rows.Close()

	var out []Professional
	for rows.Next() {
		p, err := scanProfessional(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) UpdateAvailability(ctx context.Context, p *Professional) error {
	hours, err := encodeHours(p.WorkingHours)
	if err != nil {
		return err
	}
	err = r.pool.QueryRow(ctx, `
		UPDATE oh_professionals SET available = $2, working_hours = $3, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`, p.ID, p.Available, hours).Scan(&p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrProfessionalNotFound
	}
	if err != nil {
		return fmt.Errorf("professionals: update availability: %w", err)
	}
	return nil
}
