package documents

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/oh-ehr-portal/internal/db"
)

type Repository interface {
	Create(ctx context.Context, d *Document) error
	GetByID(ctx context.Context, id string) (*Document, error)
	ListByEmployee(ctx context.Context, employeeID string) ([]Document, error)
	Delete(ctx context.Context, id string) error
}

type PostgresRepository struct {
	pool db.Querier
}

func NewPostgresRepository(pool db.Querier) *PostgresRepository {
	if pool == nil {
		panic("documents: pgx pool required")
	}
	return &PostgresRepository{pool: pool}
}

const selectDocument = `
	SELECT d.id, d.employee_id, e.user_id, d.uploaded_by, d.document_name, d.document_type, d.file_name,
		d.content_type, d.size_bytes, d.sha256, d.storage_key, d.access_level, d.created_at
	FROM documents d
	JOIN employees e ON e.id = d.employee_id
`

func scanDocument(row pgx.Row) (*Document, error) {
	var d Document
	var typ, level string
	if err := row.Scan(&d.ID, &d.EmployeeID, &d.EmployeeUserID, &d.UploadedBy, &d.DocumentName, &typ, &d.FileName,
		&d.ContentType, &d.SizeBytes, &d.SHA256, &d.StorageKey, &level, &d.CreatedAt); err != nil {
		return nil, err
	}
	d.DocumentType = Type(typ)
	d.AccessLevel = AccessLevel(level)
	return &d, nil
}

func (r *PostgresRepository) Create(ctx context.Context, d *Document) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO documents (id, employee_id, uploaded_by, document_name, document_type, file_name,
			content_type, size_bytes, sha256, storage_key, access_level)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at`,
		d.ID, d.EmployeeID, d.UploadedBy, d.DocumentName, string(d.DocumentType), d.FileName,
		d.ContentType, d.SizeBytes, d.SHA256, d.StorageKey, string(d.AccessLevel),
	).Scan(&d.CreatedAt)
	if err != nil {
		return fmt.Errorf("documents: insert: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Document, error) {
	d, err := scanDocument(r.pool.QueryRow(ctx, selectDocument+"WHERE d.id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("documents: select: %w", err)
	}
	return d, nil
}

func (r *PostgresRepository) ListByEmployee(ctx context.Context, employeeID string) ([]Document, error) {
	rows, err := r.pool.Query(ctx, selectDocument+"WHERE d.employee_id = $1 ORDER BY d.created_at DESC", employeeID)
	if err != nil {
		return nil, fmt.Errorf("documents: list: %w", err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("documents: scan: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("documents: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDocumentNotFound
	}
	return nil
}
