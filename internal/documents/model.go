// Package documents stores occupational-health documents: metadata in
// Postgres, content in object storage.
package documents

import (
	"errors"
	"slices"
	"strings"
	"time"
)

var (
	ErrDocumentNotFound = errors.New("documents: document not found")
	ErrTooLarge         = errors.New("documents: file exceeds the upload limit")
	ErrEmptyFile        = errors.New("documents: file is empty")
	ErrBlobNotFound     = errors.New("documents: stored content not found")
)

type Type string

const (
	TypeMedicalReport     Type = "medical_report"
	TypeFitNote           Type = "fit_note"
	TypeReferral          Type = "referral"
	TypeAssessment        Type = "assessment"
	TypeVaccinationRecord Type = "vaccination_record"
	TypeConsentForm       Type = "consent_form"
	TypeOther             Type = "other"
)

var Types = []Type{TypeMedicalReport, TypeFitNote, TypeReferral, TypeAssessment, TypeVaccinationRecord, TypeConsentForm, TypeOther}

func ParseType(raw string) (Type, bool) {
	t := Type(strings.ToLower(strings.TrimSpace(raw)))
	return t, slices.Contains(Types, t)
}

type AccessLevel string

const (
	AccessPrivate           AccessLevel = "private"
	AccessSharedWithManager AccessLevel = "shared_with_manager"
	AccessPublic            AccessLevel = "public"
)

var AccessLevels = []AccessLevel{AccessPrivate, AccessSharedWithManager, AccessPublic}

// ParseAccessLevel defaults a blank value to private.
func ParseAccessLevel(raw string) (AccessLevel, bool) {
	if strings.TrimSpace(raw) == "" {
		return AccessPrivate, true
	}
	l := AccessLevel(strings.ToLower(strings.TrimSpace(raw)))
	return l, slices.Contains(AccessLevels, l)
}

// Document is the metadata row; the content lives at StorageKey.
type Document struct {
	ID             string      `json:"id"`
	EmployeeID     string      `json:"employeeId"`
	EmployeeUserID string      `json:"-"`
	UploadedBy     string      `json:"uploadedBy"`
	DocumentName   string      `json:"documentName"`
	DocumentType   Type        `json:"documentType"`
	FileName       string      `json:"fileName"`
	ContentType    string      `json:"contentType"`
	SizeBytes      int64       `json:"sizeBytes"`
	SHA256         string      `json:"sha256"`
	StorageKey     string      `json:"-"`
	AccessLevel    AccessLevel `json:"accessLevel"`
	CreatedAt      time.Time   `json:"createdAt"`
}

// UploadInput carries one multipart upload into the service.
type UploadInput struct {
	EmployeeID   string
	DocumentName string
	DocumentType string
	AccessLevel  string
	FileName     string
	ContentType  string
}

func (in UploadInput) Validate() map[string]string {
	errs := map[string]string{}
	if strings.TrimSpace(in.EmployeeID) == "" {
		errs["employeeId"] = "Employee is required"
	}
	if n := len(strings.TrimSpace(in.DocumentName)); n == 0 || n > 255 {
		errs["documentName"] = "Document name is required and must not exceed 255 characters"
	}
	if _, ok := ParseType(in.DocumentType); !ok {
		errs["documentType"] = "Unknown document type"
	}
	if _, ok := ParseAccessLevel(in.AccessLevel); !ok {
		errs["accessLevel"] = "Unknown access level"
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}
