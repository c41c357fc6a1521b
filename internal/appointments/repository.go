package appointments

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/oh-ehr-portal/internal/db"
)

type Repository interface {
	// Create inserts a, failing with ErrSlotConflict if the professional is busy.
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id string) (*Appointment, error)
	List(ctx context.Context, f Filter) ([]Appointment, error)
	// Booked returns the professional's non-cancelled appointments overlapping [from, to).
	Booked(ctx context.Context, professionalID string, from, to time.Time) ([]Appointment, error)
	// UpdateStatus moves the row from one status to another, failing with
	// ErrInvalidTransition if it is no longer in from.
	UpdateStatus(ctx context.Context, a *Appointment, from, to Status) error
	Reschedule(ctx context.Context, a *Appointment, at time.Time) error
	UpdateNotes(ctx context.Context, a *Appointment) error
}

type PostgresRepository struct {
	pool db.TxBeginner
}

func NewPostgresRepository(pool db.TxBeginner) *PostgresRepository {
	if pool == nil {
		panic("appointments: pgx pool required")
	}
	return &PostgresRepository{pool: pool}
}

const selectAppointment = `
	SELECT a.id, a.employee_id, e.user_id, eu.first_name || ' ' || eu.last_name,
		a.professional_id, p.user_id, pu.first_name || ' ' || pu.last_name,
		a.appointment_type, a.appointment_mode, a.scheduled_at, a.duration_minutes, a.status,
		a.location, a.reason, a.notes, a.cancellation_reason, a.created_at, a.updated_at
	FROM appointments a
	JOIN employees e ON e.id = a.employee_id
	JOIN users eu ON eu.id = e.user_id
	JOIN oh_professionals p ON p.id = a.professional_id
	JOIN users pu ON pu.id = p.user_id
`

// overlapQuery matches non-cancelled appointments of $1 intersecting [$2, $3), excluding $4.
const overlapQuery = `
	SELECT EXISTS(
		SELECT 1 FROM appointments
		WHERE professional_id = $1 AND status <> 'cancelled' AND id <> $4
			AND scheduled_at < $3
			AND scheduled_at + make_interval(mins => duration_minutes) > $2
	)`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var typ, mode, status string
	if err := row.Scan(&a.ID, &a.EmployeeID, &a.EmployeeUserID, &a.EmployeeName,
		&a.ProfessionalID, &a.ProfessionalUserID, &a.ProfessionalName,
		&typ, &mode, &a.ScheduledAt, &a.DurationMinutes, &status,
		&a.Location, &a.Reason, &a.Notes, &a.CancellationReason, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Type = Type(typ)
	a.Mode = Mode(mode)
	a.Status = Status(status)
	a.ScheduledAt = a.ScheduledAt.UTC()
	return &a, nil
}

func (r *PostgresRepository) many(ctx context.Context, query string, args ...any) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("appointments: list: %w", err)
	}
	defer rows.Close()

	var out []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("appointments: scan: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// lockProfessional serialises bookings for one professional until tx ends.
func lockProfessional(ctx context.Context, tx pgx.Tx, professionalID string) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, professionalID); err != nil {
		return fmt.Errorf("appointments: lock professional: %w", err)
	}
	return nil
}

func checkOverlap(ctx context.Context, tx pgx.Tx, professionalID, excludeID string, start, end time.Time) error {
	var busy bool
	if err := tx.QueryRow(ctx, overlapQuery, professionalID, start, end, excludeID).Scan(&busy); err != nil {
		return fmt.Errorf("appointments: overlap check: %w", err)
	}
	if busy {
		return ErrSlotConflict
	}
	return nil
}

func (r *PostgresRepository) Create(ctx context.Context, a *Appointment) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := lockProfessional(ctx, tx, a.ProfessionalID); err != nil {
			return err
		}
		if err := checkOverlap(ctx, tx, a.ProfessionalID, a.ID, a.ScheduledAt, a.End()); err != nil {
			return err
		}
		err := tx.QueryRow(ctx, `
			INSERT INTO appointments (id, employee_id, professional_id, appointment_type, appointment_mode,
				scheduled_at, duration_minutes, status, location, reason)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING created_at, updated_at`,
			a.ID, a.EmployeeID, a.ProfessionalID, string(a.Type), string(a.Mode),
			a.ScheduledAt, a.DurationMinutes, string(a.Status), a.Location, a.Reason,
		).Scan(&a.CreatedAt, &a.UpdatedAt)
		if err != nil {
			return fmt.Errorf("appointments: insert: %w", err)
		}
		return nil
	})
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Appointment, error) {
	a, err := scanAppointment(r.pool.QueryRow(ctx, selectAppointment+"WHERE a.id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("appointments: select: %w", err)
	}
	return a, nil
}

func (r *PostgresRepository) List(ctx context.Context, f Filter) ([]Appointment, error) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, strings.Replace(cond, "?", "$"+strconv.Itoa(len(args)), 1))
	}
	if f.EmployeeID != "" {
		add("a.employee_id = ?", f.EmployeeID)
	}
	if f.ProfessionalID != "" {
		add("a.professional_id = ?", f.ProfessionalID)
	}
	if f.Status != "" {
		add("a.status = ?", string(f.Status))
	}
	if !f.From.IsZero() {
		add("a.scheduled_at >= ?", f.From)
	}
	if !f.To.IsZero() {
		add("a.scheduled_at < ?", f.To)
	}
	query := selectAppointment
	if len(where) > 0 {
		query += "WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY a.scheduled_at"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}
	return r.many(ctx, query, args...)
}

func (r *PostgresRepository) Booked(ctx context.Context, professionalID string, from, to time.Time) ([]Appointment, error) {
	return r.many(ctx, selectAppointment+`
		WHERE a.professional_id = $1 AND a.status <> 'cancelled'
			AND a.scheduled_at < $3
			AND a.scheduled_at + make_interval(mins => a.duration_minutes) > $2
		ORDER BY a.scheduled_at`, professionalID, from, to)
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, a *Appointment, from, to Status) error {
	err := r.pool.QueryRow(ctx, `
		UPDATE appointments SET status = $3, cancellation_reason = $4, updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING updated_at`, a.ID, string(from), string(to), a.CancellationReason,
	).Scan(&a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrInvalidTransition
	}
	if err != nil {
		return fmt.Errorf("appointments: update status: %w", err)
	}
	a.Status = to
	return nil
}

// Reschedule moves a to at under the same conflict rules as Create and resets it to scheduled.
func (r *PostgresRepository) Reschedule(ctx context.Context, a *Appointment, at time.Time) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := lockProfessional(ctx, tx, a.ProfessionalID); err != nil {
			return err
		}
		end := at.Add(time.Duration(a.DurationMinutes) * time.Minute)
		if err := checkOverlap(ctx, tx, a.ProfessionalID, a.ID, at, end); err != nil {
			return err
		}
		err := tx.QueryRow(ctx, `
			UPDATE appointments SET scheduled_at = $2, status = 'scheduled', updated_at = now()
			WHERE id = $1 AND status IN ('scheduled', 'confirmed')
			RETURNING updated_at`, a.ID, at,
		).Scan(&a.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrInvalidTransition
		}
		if err != nil {
			return fmt.Errorf("appointments: reschedule: %w", err)
		}
		a.ScheduledAt = at
		a.Status = StatusScheduled
		return nil
	})
}

func (r *PostgresRepository) UpdateNotes(ctx context.Context, a *Appointment) error {
	err := r.pool.QueryRow(ctx,
		`UPDATE appointments SET notes = $2, updated_at = now() WHERE id = $1 RETURNING updated_at`,
		a.ID, a.Notes).Scan(&a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrAppointmentNotFound
	}
	if err != nil {
		return fmt.Errorf("appointments: update notes: %w", err)
	}
	return nil
}
