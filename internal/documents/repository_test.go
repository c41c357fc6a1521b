package documents

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var documentCols = []string{"id", "employee_id", "user_id", "uploaded_by", "document_name", "document_type", "file_name",
	"content_type", "size_bytes", "sha256", "storage_key", "access_level", "created_at"}

func TestPostgresRepository_CreateAndGet(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := NewPostgresRepository(mock)
	created := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	d := &Document{ID: "d1", EmployeeID: "e1", UploadedBy: "u2", DocumentName: "Fit note", DocumentType: TypeFitNote,
		FileName: "note.pdf", ContentType: "application/pdf", SizeBytes: 3, SHA256: "abc", StorageKey: "documents/e1/d1/note.pdf",
		AccessLevel: AccessPrivate}
	mock.ExpectQuery("INSERT INTO documents").
		WithArgs("d1", "e1", "u2", "Fit note", "fit_note", "note.pdf", "application/pdf", int64(3), "abc",
			"documents/e1/d1/note.pdf", "private").
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(created))
	require.NoError(t, repo.Create(context.Background(), d))
	assert.Equal(t, created, d.CreatedAt)

	mock.ExpectQuery("FROM documents d\\s+JOIN employees e ON e.id = d.employee_id\\s+WHERE d.id = \\$1").
		WithArgs("d1").
		WillReturnRows(pgxmock.NewRows(documentCols).
			AddRow("d1", "e1", "u1", "u2", "Fit note", "fit_note", "note.pdf", "application/pdf", int64(3), "abc",
				"documents/e1/d1/note.pdf", "shared_with_manager", created))
	got, err := repo.GetByID(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.EmployeeUserID)
	assert.Equal(t, AccessSharedWithManager, got.AccessLevel)

	mock.ExpectQuery("WHERE d.id = \\$1").WithArgs("missing").WillReturnError(pgx.ErrNoRows)
	_, err = repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_Delete(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("DELETE FROM documents WHERE id = \\$1").
		WithArgs("gone").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	assert.ErrorIs(t, NewPostgresRepository(mock).Delete(context.Background(), "gone"), ErrDocumentNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
