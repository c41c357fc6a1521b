package documents

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/oh-ehr-portal/internal/auth"
	"github.com/wolfman30/oh-ehr-portal/internal/employees"
	"github.com/wolfman30/oh-ehr-portal/internal/http/respond"
	"github.com/wolfman30/oh-ehr-portal/pkg/logging"
)

type library interface {
	Upload(ctx context.Context, actor auth.Principal, in UploadInput, content io.Reader, ip string) (*Document, error)
	Get(ctx context.Context, actor auth.Principal, id string) (*Document, error)
	Download(ctx context.Context, actor auth.Principal, id string) (*Document, io.ReadCloser, error)
	ListByEmployee(ctx context.Context, actor auth.Principal, employeeID string) ([]Document, error)
	ListByUser(ctx context.Context, actor auth.Principal, userID string) ([]Document, error)
	Delete(ctx context.Context, actor auth.Principal, id, ip string) error
	MaxUploadBytes() int64
}

// multipartOverhead covers form fields and boundaries around the file part.
const multipartOverhead = 1 << 20

// Handler serves /api/documents.
type Handler struct {
	svc    library
	logger *logging.Logger
}

func NewHandler(svc library, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.Upload)
	r.Get("/user/{userId}", h.ListByUser)
	r.Get("/employee/{employeeId}", h.ListByEmployee)
	r.Get("/{id}", h.Get)
	r.Get("/{id}/download", h.Download)
	r.Delete("/{id}", h.Delete)
}

func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	limit := h.svc.MaxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	if err := r.ParseMultipartForm(multipartOverhead); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			h.writeError(w, r, ErrTooLarge)
			return
		}
		respond.Error(w, http.StatusBadRequest, "Expected a multipart form upload")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		respond.ValidationFailed(w, map[string]string{"file": "File is required"})
		return
	}
	defer file.Close()

	in := UploadInput{
		EmployeeID:   r.FormValue("employeeId"),
		DocumentName: r.FormValue("documentName"),
		DocumentType: r.FormValue("documentType"),
		AccessLevel:  r.FormValue("accessLevel"),
		FileName:     header.Filename,
		ContentType:  header.Header.Get("Content-Type"),
	}
	if in.DocumentName == "" {
		in.DocumentName = header.Filename
	}
	if fields := in.Validate(); fields != nil {
		respond.ValidationFailed(w, fields)
		return
	}
	p, _ := auth.PrincipalFromContext(r.Context())
	d, err := h.svc.Upload(r.Context(), p, in, file, auth.ClientInfoFromRequest(r).IPAddress)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, d)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	d, err := h.svc.Get(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, d)
}

func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	d, rc, err := h.svc.Download(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", d.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(d.SizeBytes, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": d.FileName}))
	w.Header().Set("X-Content-SHA256", d.SHA256)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		logging.FromContext(r.Context(), h.logger).Warn("document download interrupted", "document_id", d.ID, "error", err)
	}
}

func (h *Handler) ListByEmployee(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	list, err := h.svc.ListByEmployee(r.Context(), p, chi.URLParam(r, "employeeId"))
	h.writeList(w, r, list, err)
}

func (h *Handler) ListByUser(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	list, err := h.svc.ListByUser(r.Context(), p, chi.URLParam(r, "userId"))
	h.writeList(w, r, list, err)
}

func (h *Handler) writeList(w http.ResponseWriter, r *http.Request, list []Document, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []Document{}
	}
	respond.JSON(w, http.StatusOK, list)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	if err := h.svc.Delete(r.Context(), p, chi.URLParam(r, "id"), auth.ClientInfoFromRequest(r).IPAddress); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrDocumentNotFound), errors.Is(err, ErrBlobNotFound):
		return http.StatusNotFound, "Document not found"
	case errors.Is(err, ErrTooLarge):
		return http.StatusBadRequest, "File exceeds the maximum upload size"
	case errors.Is(err, ErrEmptyFile):
		return http.StatusBadRequest, "File is empty"
	case errors.Is(err, employees.ErrEmployeeNotFound):
		return employees.StatusFor(err)
	default:
		return auth.StatusFor(err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := StatusFor(err)
	if status == http.StatusInternalServerError {
		logging.FromContext(r.Context(), h.logger).Error("document request failed", "path", r.URL.Path, "error", err)
	}
	respond.Error(w, status, msg)
}
