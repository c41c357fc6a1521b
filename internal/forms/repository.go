package forms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/oh-ehr-portal/internal/db"
)

type Repository interface {
	CreateTemplate(ctx context.Context, t *Template) error
	UpdateTemplate(ctx context.Context, t *Template) error
	GetTemplate(ctx context.Context, id string) (*Template, error)
	// ListTemplates filters by category when it is non-empty.
	ListTemplates(ctx context.Context, category string) ([]Template, error)
	DeleteTemplate(ctx context.Context, id string) error
	TemplateNameExists(ctx context.Context, name string) (bool, error)
	InsertSubmission(ctx context.Context, s *Submission) error
	ListSubmissions(ctx context.Context, employeeID string) ([]Submission, error)
}

type PostgresRepository struct {
	pool db.Querier
}

func NewPostgresRepository(pool db.Querier) *PostgresRepository {
	if pool == nil {
		panic("forms: pgx pool required")
	}
	return &PostgresRepository{pool: pool}
}

const selectTemplate = `
	SELECT id, name, description, category, rows, version, COALESCE(created_by::text, ''), created_at, updated_at
	FROM form_templates
`

func scanTemplate(row pgx.Row) (*Template, error) {
	var t Template
	var rows []byte
	if err := row.Scan(&t.ID, &t.Name, &t.Description, &t.Category, &rows, &t.Version, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(rows, &t.Rows); err != nil {
		return nil, fmt.Errorf("forms: decode rows: %w", err)
	}
	return &t, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *PostgresRepository) CreateTemplate(ctx context.Context, t *Template) error {
	rows, err := json.Marshal(t.Rows)
	if err != nil {
		return fmt.Errorf("forms: encode rows: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO form_templates (id, name, description, category, rows, version, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.Name, t.Description, t.Category, rows, t.Version, nullable(t.CreatedBy), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrDuplicateName
		}
		return fmt.Errorf("forms: insert template: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateTemplate(ctx context.Context, t *Template) error {
	rows, err := json.Marshal(t.Rows)
	if err != nil {
		return fmt.Errorf("forms: encode rows: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE form_templates
		SET name = $2, description = $3, category = $4, rows = $5, version = $6, updated_at = $7
		WHERE id = $1`,
		t.ID, t.Name, t.Description, t.Category, rows, t.Version, t.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrDuplicateName
		}
		return fmt.Errorf("forms: update template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTemplateNotFound
	}
	return nil
}

func (r *PostgresRepository) GetTemplate(ctx context.Context, id string) (*Template, error) {
	t, err := scanTemplate(r.pool.QueryRow(ctx, selectTemplate+"WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTemplateNotFound
		}
		return nil, fmt.Errorf("forms: get template: %w", err)
	}
	return t, nil
}

func (r *PostgresRepository) ListTemplates(ctx context.Context, category string) ([]Template, error) {
	rows, err := r.pool.Query(ctx, selectTemplate+"WHERE ($1 = '' OR category = $1) ORDER BY name", category)
	if err != nil {
		return nil, fmt.Errorf("forms: list templates: %w", err)
	}
	defer rows.Close()

	var out []Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("forms: scan template: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) DeleteTemplate(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM form_templates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("forms: delete template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTemplateNotFound
	}
	return nil
}

func (r *PostgresRepository) TemplateNameExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM form_templates WHERE name = $1)`, name).Scan(&exists); err != nil {
		return false, fmt.Errorf("forms: template name exists: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) InsertSubmission(ctx context.Context, s *Submission) error {
	answers, err := json.Marshal(s.Answers)
	if err != nil {
		return fmt.Errorf("forms: encode answers: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO form_submissions (id, template_id, template_version, employee_id, answers, submitted_by, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.TemplateID, s.TemplateVersion, s.EmployeeID, answers, s.SubmittedBy, s.SubmittedAt)
	if err != nil {
		return fmt.Errorf("forms: insert submission: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListSubmissions(ctx context.Context, employeeID string) ([]Submission, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, template_id, template_version, employee_id, answers, submitted_by, submitted_at
		FROM form_submissions WHERE employee_id = $1 ORDER BY submitted_at DESC`, employeeID)
	if err != nil {
		return nil, fmt.Errorf("forms: list submissions: %w", err)
	}
	defer rows.Close()

	var out []Submission
	for rows.Next() {
		var s Submission
		var answers []byte
		if err := rows.Scan(&s.ID, &s.TemplateID, &s.TemplateVersion, &s.EmployeeID, &answers, &s.SubmittedBy, &s.SubmittedAt); err != nil {
			return nil, fmt.Errorf("forms: scan submission: %w", err)
		}
		if err := json.Unmarshal(answers, &s.Answers); err != nil {
			return nil, fmt.Errorf("forms: decode answers: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
