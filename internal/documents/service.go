package documents

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/oh-ehr-portal/internal/audit"
	"github.com/wolfman30/oh-ehr-portal/internal/auth"
	"github.com/wolfman30/oh-ehr-portal/internal/employees"
	"github.com/wolfman30/oh-ehr-portal/internal/notify"
	"github.com/wolfman30/oh-ehr-portal/pkg/logging"
)

var documentsTracer = otel.Tracer("ohehr.internal.documents")

const (
	serviceName     = "DocumentService"
	entityType      = "Document"
	accessDataType  = "DOCUMENT"
	defaultMaxBytes = 10 << 20
)

type EmployeeDirectory interface {
	Lookup(ctx context.Context, id string) (*employees.Employee, error)
	LookupByUser(ctx context.Context, userID string) (*employees.Employee, error)
}

type Notifier interface {
	Notify(ctx context.Context, req notify.Request) (*notify.Notification, error)
}

// UploadObserver counts uploads for metrics.
type UploadObserver interface {
	ObserveDocumentUpload(documentType string)
}

type Service struct {
	repo      Repository
	store     BlobStore
	employees EmployeeDirectory
	notifier  Notifier
	audit     audit.Recorder
	observer  UploadObserver
	logger    *logging.Logger
	maxBytes  int64
}

func NewService(repo Repository, store BlobStore, emps EmployeeDirectory, notifier Notifier, recorder audit.Recorder, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		repo:      repo,
		store:     store,
		employees: emps,
		notifier:  notifier,
		audit:     recorder,
		logger:    logger,
		maxBytes:  defaultMaxBytes,
	}
}

func (s *Service) WithMaxBytes(n int64) *Service {
	if n > 0 {
		s.maxBytes = n
	}
	return s
}

func (s *Service) WithObserver(o UploadObserver) *Service {
	s.observer = o
	return s
}

// MaxUploadBytes is the largest accepted file.
func (s *Service) MaxUploadBytes() int64 { return s.maxBytes }

// StorageKey is where a document's content lives.
func StorageKey(employeeID, documentID, fileName string) string {
	return fmt.Sprintf("documents/%s/%s/%s", employeeID, documentID, cleanFileName(fileName))
}

func cleanFileName(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), `\`, "/"))
	if name == "." || name == "/" || name == "" {
		return "file"
	}
	return name
}

func canUpload(actor auth.Principal, owner *employees.Employee) bool {
	return actor.HasRole(auth.RoleOHProfessional, auth.RoleAdmin) || actor.UserID == owner.UserID
}

// CanRead applies the document access rule.
func CanRead(actor auth.Principal, d *Document) bool {
	switch {
	case actor.UserID == d.EmployeeUserID, actor.UserID == d.UploadedBy:
		return true
	case actor.HasRole(auth.RoleOHProfessional, auth.RoleAdmin):
		return true
	case actor.HasRole(auth.RoleManager):
		return d.AccessLevel != AccessPrivate
	}
	return false
}

// Upload stores content then metadata. The blob is removed again if the row cannot be written.
func (s *Service) Upload(ctx context.Context, actor auth.Principal, in UploadInput, content io.Reader, ip string) (*Document, error) {
	ctx, span := documentsTracer.Start(ctx, "documents.upload")
	defer span.End()

	owner, err := s.employees.Lookup(ctx, strings.TrimSpace(in.EmployeeID))
	if err != nil {
		return nil, err
	}
	if !canUpload(actor, owner) {
		return nil, auth.ErrForbidden
	}

	body, err := io.ReadAll(io.LimitReader(content, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("documents: read upload: %w", err)
	}
	if int64(len(body)) > s.maxBytes {
		return nil, ErrTooLarge
	}
	if len(body) == 0 {
		return nil, ErrEmptyFile
	}
	sum := sha256.Sum256(body)

	typ, _ := ParseType(in.DocumentType)
	level, _ := ParseAccessLevel(in.AccessLevel)
	contentType := strings.TrimSpace(in.ContentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	d := &Document{
		ID:             uuid.NewString(),
		EmployeeID:     owner.ID,
		EmployeeUserID: owner.UserID,
		UploadedBy:     actor.UserID,
		DocumentName:   strings.TrimSpace(in.DocumentName),
		DocumentType:   typ,
		FileName:       cleanFileName(in.FileName),
		ContentType:    contentType,
		SizeBytes:      int64(len(body)),
		SHA256:         hex.EncodeToString(sum[:]),
		AccessLevel:    level,
	}
	d.StorageKey = StorageKey(d.EmployeeID, d.ID, d.FileName)
	span.SetAttributes(attribute.String("ohehr.document_id", d.ID), attribute.Int64("ohehr.document_bytes", d.SizeBytes))

	if err := s.store.Put(ctx, d.StorageKey, body, d.ContentType); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, d); err != nil {
		if delErr := s.store.Delete(ctx, d.StorageKey); delErr != nil {
			logging.FromContext(ctx, s.logger).Error("failed to remove orphaned document blob", "key", d.StorageKey, "error", delErr)
		}
		return nil, err
	}

	if actor.UserID != owner.UserID && s.notifier != nil {
		_, err := s.notifier.Notify(ctx, notify.Request{
			UserID:          owner.UserID,
			Type:            notify.TypeDocumentUploaded,
			Title:           "New Document Uploaded",
			Message:         fmt.Sprintf("A new document, %q, has been added to your record.", d.DocumentName),
			RelatedEntityID: d.ID,
		})
		if err != nil {
			logging.FromContext(ctx, s.logger).Error("document upload notification failed", "document_id", d.ID, "error", err)
		}
	}
	if s.observer != nil {
		s.observer.ObserveDocumentUpload(string(d.DocumentType))
	}
	audit.Record(ctx, s.audit, s.logger, audit.Entry{
		UserID:      actor.UserID,
		ServiceName: serviceName,
		EntityType:  entityType,
		EntityID:    d.ID,
		Action:      audit.ActionCreate,
		NewValues: audit.Values(map[string]any{
			"employeeId":   d.EmployeeID,
			"documentType": d.DocumentType,
			"accessLevel":  d.AccessLevel,
			"sha256":       d.SHA256,
		}),
		IPAddress: ip,
	})
	logging.FromContext(ctx, s.logger).Info("document uploaded", "document_id", d.ID, "employee_id", d.EmployeeID, "size", d.SizeBytes)
	return d, nil
}

func (s *Service) readable(ctx context.Context, actor auth.Principal, id, purpose string) (*Document, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanRead(actor, d) {
		return nil, auth.ErrForbidden
	}
	audit.RecordAccess(ctx, s.audit, s.logger, audit.Access{
		AccessorID: actor.UserID,
		EmployeeID: d.EmployeeID,
		DataType:   accessDataType,
		Purpose:    purpose,
	})
	return d, nil
}

// Get returns metadata and logs the access.
func (s *Service) Get(ctx context.Context, actor auth.Principal, id string) (*Document, error) {
	return s.readable(ctx, actor, id, "view document metadata")
}

// Download opens the content. The caller closes the reader.
func (s *Service) Download(ctx context.Context, actor auth.Principal, id string) (*Document, io.ReadCloser, error) {
	d, err := s.readable(ctx, actor, id, "download document")
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.store.Get(ctx, d.StorageKey)
	if err != nil {
		return nil, nil, err
	}
	return d, rc, nil
}

// ListByEmployee returns the documents the caller may read.
func (s *Service) ListByEmployee(ctx context.Context, actor auth.Principal, employeeID string) ([]Document, error) {
	all, err := s.repo.ListByEmployee(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	out := make([]Document, 0, len(all))
	for i := range all {
		if CanRead(actor, &all[i]) {
			out = append(out, all[i])
		}
	}
	if len(out) > 0 {
		audit.RecordAccess(ctx, s.audit, s.logger, audit.Access{
			AccessorID: actor.UserID,
			EmployeeID: employeeID,
			DataType:   accessDataType,
			Purpose:    "list documents",
		})
	}
	return out, nil
}

// ListByUser resolves the user's employee profile first.
func (s *Service) ListByUser(ctx context.Context, actor auth.Principal, userID string) ([]Document, error) {
	owner, err := s.employees.LookupByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.ListByEmployee(ctx, actor, owner.ID)
}

// Delete removes blob and row; only the uploader or an admin may do so.
func (s *Service) Delete(ctx context.Context, actor auth.Principal, id, ip string) error {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if actor.UserID != d.UploadedBy && !actor.HasRole(auth.RoleAdmin) {
		return auth.ErrForbidden
	}
	if err := s.store.Delete(ctx, d.StorageKey); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, d.ID); err != nil {
		return err
	}
	audit.Record(ctx, s.audit, s.logger, audit.Entry{
		UserID:      actor.UserID,
		ServiceName: serviceName,
		EntityType:  entityType,
		EntityID:    d.ID,
		Action:      audit.ActionDelete,
		OldValues:   audit.Values(map[string]any{"employeeId": d.EmployeeID, "documentName": d.DocumentName}),
		IPAddress:   ip,
	})
	return nil
}

// MetadataForEmployee lists every document without access checks, for data exports.
func (s *Service) MetadataForEmployee(ctx context.Context, employeeID string) ([]Document, error) {
	return s.repo.ListByEmployee(ctx, employeeID)
}

// PurgeBlobs deletes the content of every document an employee owns. Rows are
// left to the caller's cascade.
func (s *Service) PurgeBlobs(ctx context.Context, employeeID string) (int, error) {
	docs, err := s.repo.ListByEmployee(ctx, employeeID)
	if err != nil {
		return 0, err
	}
	var errs []error
	purged := 0
	for _, d := range docs {
		if err := s.store.Delete(ctx, d.StorageKey); err != nil {
			errs = append(errs, err)
			continue
		}
		purged++
	}
	return purged, errors.Join(errs...)
}
