package employees

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/oh-ehr-portal/internal/auth"
	"github.com/wolfman30/oh-ehr-portal/internal/civil"
	"github.com/wolfman30/oh-ehr-portal/internal/db"
)

// Repository persists employee profiles alongside their user accounts.
type Repository interface {
	Create(ctx context.Context, user *auth.User, e *Employee) error
	GetByID(ctx context.Context, id string) (*Employee, error)
	GetByUserID(ctx context.Context, userID string) (*Employee, error)
	GetByNumber(ctx context.Context, number string) (*Employee, error)
	ExistsByNumber(ctx context.Context, number string) (bool, error)
	EmailInUse(ctx context.Context, email, exceptUserID string) (bool, error)
	ListByStatus(ctx context.Context, status EmploymentStatus) ([]Employee, error)
	Search(ctx context.Context, query string, limit int) ([]Employee, error)
	UpdatePersonal(ctx context.Context, e *Employee) error
	UpdateStatus(ctx context.Context, e *Employee, status EmploymentStatus, userStatus auth.UserStatus) error
	CountByStatus(ctx context.Context) (map[EmploymentStatus]int, error)
	// Anonymize runs also inside the same transaction, so related records are
	// scrubbed together with the profile or not at all.
	Anonymize(ctx context.Context, e *Employee, also ...db.TxStep) error
}

// PostgresRepository implements Repository with pgx.
type PostgresRepository struct {
	pool db.TxBeginner
}

func NewPostgresRepository(pool db.TxBeginner) *PostgresRepository {
	if pool == nil {
		panic("employees: pgx pool required")
	}
	return &PostgresRepository{pool: pool}
}

const selectEmployee = `
	SELECT e.id, e.user_id, e.employee_number, u.username, u.email, u.first_name, u.last_name,
		u.role, u.status, e.title, e.date_of_birth, e.gender, e.phone_number, e.address, e.postcode,
		e.emergency_contact_name, e.emergency_contact_phone, e.department, e.job_title,
		e.manager_id, e.start_date, e.employment_status, e.created_at, e.updated_at
	FROM employees e
	JOIN users u ON u.id = e.user_id
`

func scanEmployee(row pgx.Row) (*Employee, error) {
	var e Employee
	var role, userStatus, gender, status string
	var dob *time.Time
	var start time.Time
	if err := row.Scan(&e.ID, &e.UserID, &e.EmployeeNumber, &e.Username, &e.Email, &e.FirstName, &e.LastName,
		&role, &userStatus, &e.Title, &dob, &gender, &e.PhoneNumber, &e.Address, &e.Postcode,
		&e.EmergencyContactName, &e.EmergencyContactPhone, &e.Department, &e.JobTitle,
		&e.ManagerID, &start, &status, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Role = auth.Role(role)
	e.UserStatus = auth.UserStatus(userStatus)
	e.Gender = Gender(gender)
	e.EmploymentStatus = EmploymentStatus(status)
	e.DateOfBirth = civil.FromPtr(dob)
	e.StartDate = civil.DateOf(start)
	return &e, nil
}

func (r *PostgresRepository) one(ctx context.Context, where string, arg any) (*Employee, error) {
	e, err := scanEmployee(r.pool.QueryRow(ctx, selectEmployee+"WHERE "+where, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEmployeeNotFound
		}
		return nil, fmt.Errorf("employees: select: %w", err)
	}
	return e, nil
}

func (r *PostgresRepository) many(ctx context.Context, query string, args ...any) ([]Employee, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("employees: list: %w", err)
	}
	defer rows.Close()

	var out []Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, fmt.Errorf("employees: scan: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// Create inserts the user and the employee in a single transaction.
func (r *PostgresRepository) Create(ctx context.Context, user *auth.User, e *Employee) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := auth.InsertUser(ctx, tx, user); err != nil {
			return err
		}
		query := `
			INSERT INTO employees (id, user_id, employee_number, title, date_of_birth, gender, phone_number,
				address, postcode, emergency_contact_name, emergency_contact_phone, department, job_title,
				manager_id, start_date, employment_status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			RETURNING created_at, updated_at
		`
		err := tx.QueryRow(ctx, query, e.ID, user.ID, e.EmployeeNumber, e.Title, e.DateOfBirth.Ptr(), string(e.Gender),
			e.PhoneNumber, e.Address, e.Postcode, e.EmergencyContactName, e.EmergencyContactPhone,
			e.Department, e.JobTitle, e.ManagerID, e.StartDate.Time(), string(e.EmploymentStatus),
		).Scan(&e.CreatedAt, &e.UpdatedAt)
		if err != nil {
			if db.IsUniqueViolation(err) {
				return ErrDuplicateEmployeeNumber
			}
			return fmt.Errorf("employees: insert: %w", err)
		}
		return nil
	})
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Employee, error) {
	return r.one(ctx, "e.id = $1", id)
}

func (r *PostgresRepository) GetByUserID(ctx context.Context, userID string) (*Employee, error) {
	return r.one(ctx, "e.user_id = $1", userID)
}

func (r *PostgresRepository) GetByNumber(ctx context.Context, number string) (*Employee, error) {
	return r.one(ctx, "e.employee_number = $1", number)
}

func (r *PostgresRepository) ExistsByNumber(ctx context.Context, number string) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM employees WHERE employee_number = $1)`, number).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("employees: exists: %w", err)
	}
	return ok, nil
}

func (r *PostgresRepository) EmailInUse(ctx context.Context, email, exceptUserID string) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE lower(email) = lower($1) AND id <> $2)`,
		email, exceptUserID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("employees: email in use: %w", err)
	}
	return ok, nil
}

func (r *PostgresRepository) ListByStatus(ctx context.Context, status EmploymentStatus) ([]Employee, error) {
	return r.many(ctx, selectEmployee+"WHERE e.employment_status = $1 ORDER BY u.last_name, u.first_name", string(status))
}

// Search matches name, employee number, email or department case-insensitively.
func (r *PostgresRepository) Search(ctx context.Context, query string, limit int) ([]Employee, error) {
	pattern := "%" + escapeLike(strings.TrimSpace(query)) + "%"
	return r.many(ctx, selectEmployee+`
		WHERE u.first_name ILIKE $1 OR u.last_name ILIKE $1 OR (u.first_name || ' ' || u.last_name) ILIKE $1
			OR e.employee_number ILIKE $1 OR u.email ILIKE $1 OR e.department ILIKE $1
		ORDER BY u.last_name, u.first_name
		LIMIT $2`, pattern, limit)
}

// UpdatePersonal writes the user-owned and employee-owned personal fields together.
func (r *PostgresRepository) UpdatePersonal(ctx context.Context, e *Employee) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE users SET first_name = $2, last_name = $3, email = $4, updated_at = now()
			WHERE id = $1`, e.UserID, e.FirstName, e.LastName, e.Email)
		if err != nil {
			if db.IsUniqueViolation(err) {
				return auth.ErrEmailTaken
			}
			return fmt.Errorf("employees: update user: %w", err)
		}
		err = tx.QueryRow(ctx, `
			UPDATE employees SET title = $2, date_of_birth = $3, gender = $4, phone_number = $5, address = $6,
				postcode = $7, emergency_contact_name = $8, emergency_contact_phone = $9, updated_at = now()
			WHERE id = $1
			RETURNING updated_at`,
			e.ID, e.Title, e.DateOfBirth.Ptr(), string(e.Gender), e.PhoneNumber, e.Address, e.Postcode,
			e.EmergencyContactName, e.EmergencyContactPhone,
		).Scan(&e.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrEmployeeNotFound
		}
		if err != nil {
			return fmt.Errorf("employees: update: %w", err)
		}
		return nil
	})
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, e *Employee, status EmploymentStatus, userStatus auth.UserStatus) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE employees SET employment_status = $2, updated_at = now() WHERE id = $1`,
			e.ID, string(status))
		if err != nil {
			return fmt.Errorf("employees: update status: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrEmployeeNotFound
		}
		if _, err := tx.Exec(ctx, `UPDATE users SET status = $2, updated_at = now() WHERE id = $1`,
			e.UserID, string(userStatus)); err != nil {
			return fmt.Errorf("employees: update user status: %w", err)
		}
		return nil
	})
}

func (r *PostgresRepository) CountByStatus(ctx context.Context) (map[EmploymentStatus]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT employment_status, count(*) FROM employees GROUP BY employment_status`)
	if err != nil {
		return nil, fmt.Errorf("employees: count: %w", err)
	}
	defer rows.Close()

	counts := make(map[EmploymentStatus]int, len(Statuses))
	for _, s := range Statuses {
		counts[s] = 0
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("employees: count scan: %w", err)
		}
		counts[EmploymentStatus(status)] = n
	}
	return counts, rows.Err()
}

// Anonymize replaces identifying user fields, clears personal employee fields
// and deactivates the account.
func (r *PostgresRepository) Anonymize(ctx context.Context, e *Employee, also ...db.TxStep) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			UPDATE users SET first_name = 'Anonymized', last_name = 'Anonymized', email = $2,
				status = 'inactive', two_factor_secret = NULL, two_factor_enabled = false, updated_at = now()
			WHERE id = $1`, e.UserID, AnonymizedEmail(e.UserID)); err != nil {
			return fmt.Errorf("employees: anonymize user: %w", err)
		}
		tag, err := tx.Exec(ctx, `
			UPDATE employees SET title = '', date_of_birth = NULL, gender = '', phone_number = '', address = '',
				postcode = '', emergency_contact_name = '', emergency_contact_phone = '', updated_at = now()
			WHERE id = $1`, e.ID)
		if err != nil {
			return fmt.Errorf("employees: anonymize: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrEmployeeNotFound
		}
		for _, step := range also {
			if err := step(ctx, tx); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(ctx, `DELETE FROM user_sessions WHERE user_id = $1`, e.UserID); err != nil {
			return fmt.Errorf("employees: anonymize sessions: %w", err)
		}
		return nil
	})
}

// AnonymizedEmail keeps the users.email unique constraint satisfied after anonymisation.
func AnonymizedEmail(userID string) string {
	return "anonymized+" + userID + "@invalid.local"
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
