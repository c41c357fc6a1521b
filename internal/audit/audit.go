// Package audit records security events, entity changes and PHI access.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/oh-ehr-portal/pkg/logging"
)

// Action is the kind of audited event.
type Action string

const (
	ActionCreate                   Action = "CREATE"
	ActionRead                     Action = "READ"
	ActionUpdate                   Action = "UPDATE"
	ActionDelete                   Action = "DELETE"
	ActionLogin                    Action = "LOGIN"
	ActionLogout                   Action = "LOGOUT"
	ActionLoginSuccess             Action = "LOGIN_SUCCESS"
	ActionLoginFailure             Action = "LOGIN_FAILURE"
	ActionTokenRefresh             Action = "TOKEN_REFRESH"
	ActionSuspiciousLoginIP        Action = "SUSPICIOUS_LOGIN_IP"
	ActionSuspiciousLoginUserAgent Action = "SUSPICIOUS_LOGIN_USER_AGENT"
	ActionExport                   Action = "EXPORT"
	ActionAnonymize                Action = "ANONYMIZE"
	ActionConsentChange            Action = "CONSENT_CHANGE"
)

// Entry is one row of audit_logs. OldValues and NewValues are stored as JSON.
type Entry struct {
	ID          string          `json:"id"`
	UserID      string          `json:"userId,omitempty"`
	ServiceName string          `json:"serviceName"`
	EntityType  string          `json:"entityType,omitempty"`
	EntityID    string          `json:"entityId,omitempty"`
	Action      Action          `json:"action"`
	OldValues   json.RawMessage `json:"oldValues,omitempty"`
	NewValues   json.RawMessage `json:"newValues,omitempty"`
	IPAddress   string          `json:"ipAddress,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Access is one row of data_access_log.
type Access struct {
	ID         string    `json:"id"`
	AccessorID string    `json:"accessorId"`
	EmployeeID string    `json:"employeeId"`
	DataType   string    `json:"dataType"`
	Purpose    string    `json:"purpose,omitempty"`
	AccessedAt time.Time `json:"accessedAt"`
}

// Filter narrows Query.
type Filter struct {
	UserID     string
	Action     Action
	EntityType string
	EntityID   string
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}

// Recorder is what domain services depend on.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
	RecordAccess(ctx context.Context, a Access) error
}

// Values marshals v for OldValues/NewValues, returning nil when v is nil.
func Values(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

// Record writes e and logs instead of failing the caller.
func Record(ctx context.Context, r Recorder, logger *logging.Logger, e Entry) {
	if r == nil {
		return
	}
	if err := r.Record(ctx, e); err != nil {
		logging.FromContext(ctx, logger).Error("audit write failed", "action", e.Action, "entity_type", e.EntityType, "error", err)
	}
}

// RecordAccess writes a and logs instead of failing the caller.
func RecordAccess(ctx context.Context, r Recorder, logger *logging.Logger, a Access) {
	if r == nil {
		return
	}
	if err := r.RecordAccess(ctx, a); err != nil {
		logging.FromContext(ctx, logger).Error("data access log failed", "data_type", a.DataType, "error", err)
	}
}

// Service stores audit records through database/sql.
type Service struct {
	db  *sql.DB
	now func() time.Time
}

// NewService creates a new audit service.
func NewService(db *sql.DB) *Service {
	return &Service{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Record inserts an audit_logs row.
func (s *Service) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	query := `
		INSERT INTO audit_logs (
			id, user_id, service_name, entity_type, entity_id,
			action, old_values, new_values, ip_address, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		nullString(e.UserID),
		e.ServiceName,
		nullString(e.EntityType),
		nullString(e.EntityID),
		string(e.Action),
		nullJSON(e.OldValues),
		nullJSON(e.NewValues),
		nullString(e.IPAddress),
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: insert log: %w", err)
	}
	return nil
}

// RecordAccess inserts a data_access_log row.
func (s *Service) RecordAccess(ctx context.Context, a Access) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.AccessedAt.IsZero() {
		a.AccessedAt = s.now()
	}
	query := `
		INSERT INTO data_access_log (id, accessor_id, employee_id, data_type, purpose, accessed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := s.db.ExecContext(ctx, query, a.ID, a.AccessorID, a.EmployeeID, a.DataType, nullString(a.Purpose), a.AccessedAt); err != nil {
		return fmt.Errorf("audit: insert access: %w", err)
	}
	return nil
}

// Query lists audit_logs newest first.
func (s *Service) Query(ctx context.Context, filter Filter) ([]Entry, error) {
	query := `
		SELECT id, user_id, service_name, entity_type, entity_id,
			   action, old_values, new_values, ip_address, created_at
		FROM audit_logs
		WHERE 1=1
	`
	var args []any
	argIdx := 1
	add := func(clause string, v any) {
		query += fmt.Sprintf(clause, argIdx)
		args = append(args, v)
		argIdx++
	}
	if filter.UserID != "" {
		add(" AND user_id = $%d", filter.UserID)
	}
	if filter.Action != "" {
		add(" AND action = $%d", string(filter.Action))
	}
	if filter.EntityType != "" {
		add(" AND entity_type = $%d", filter.EntityType)
	}
	if filter.EntityID != "" {
		add(" AND entity_id = $%d", filter.EntityID)
	}
	if !filter.From.IsZero() {
		add(" AND created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add(" AND created_at <= $%d", filter.To)
	}
	query += " ORDER BY created_at DESC"
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT %d", limit)
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query logs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var userID, entityType, entityID, ip sql.NullString
		var oldValues, newValues []byte
		if err := rows.Scan(&e.ID, &userID, &e.ServiceName, &entityType, &entityID,
			&e.Action, &oldValues, &newValues, &ip, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scan log: %w", err)
		}
		e.UserID = userID.String
		e.EntityType = entityType.String
		e.EntityID = entityID.String
		e.IPAddress = ip.String
		e.OldValues = oldValues
		e.NewValues = newValues
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate logs: %w", err)
	}
	return entries, nil
}

// AccessHistory lists who read an employee's data, newest first.
func (s *Service) AccessHistory(ctx context.Context, employeeID string, limit int) ([]Access, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, accessor_id, employee_id, data_type, purpose, accessed_at
		FROM data_access_log
		WHERE employee_id = $1
		ORDER BY accessed_at DESC
		LIMIT $2
	`, employeeID, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: query access: %w", err)
	}
	defer rows.Close()

	var out []Access
	for rows.Next() {
		var a Access
		var purpose sql.NullString
		if err := rows.Scan(&a.ID, &a.AccessorID, &a.EmployeeID, &a.DataType, &purpose, &a.AccessedAt); err != nil {
			return nil, fmt.Errorf("audit: scan access: %w", err)
		}
		a.Purpose = purpose.String
		out = append(out, a)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullJSON(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}
