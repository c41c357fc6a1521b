package healthrecords

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/oh-ehr-portal/internal/civil"
	"github.com/wolfman30/oh-ehr-portal/internal/db"
)

// Repository persists records as stored; sealed fields arrive already encrypted.
type Repository interface {
	Get(ctx context.Context, employeeID string) (*Record, error)
	Upsert(ctx context.Context, r *Record) error
	// ClearIdentifiers drops the NHS number and health notes inside the
	// caller's transaction.
	ClearIdentifiers(employeeID string) db.TxStep
}

type PostgresRepository struct {
	pool db.Querier
}

func NewPostgresRepository(pool db.Querier) *PostgresRepository {
	if pool == nil {
		panic("healthrecords: pgx pool required")
	}
	return &PostgresRepository{pool: pool}
}

func (p *PostgresRepository) Get(ctx context.Context, employeeID string) (*Record, error) {
	var r Record
	var nhs, gpName, gpAddress, blood, notes *string
	var allergies, medications, conditions, vaccinations []byte
	var status, fitness string
	var last, next *time.Time
	err := p.pool.QueryRow(ctx, `
		SELECT id, employee_id, nhs_number, gp_name, gp_address, blood_group, allergies, medications,
			medical_conditions, vaccinations, health_notes, health_status, fitness_for_work,
			last_checkup_date, next_checkup_due, updated_by, created_at, updated_at
		FROM health_records WHERE employee_id = $1`, employeeID,
	).Scan(&r.ID, &r.EmployeeID, &nhs, &gpName, &gpAddress, &blood, &allergies, &medications,
		&conditions, &vaccinations, &notes, &status, &fitness,
		&last, &next, &r.UpdatedBy, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("healthrecords: select: %w", err)
	}
	r.NHSNumber = deref(nhs)
	r.GPName = deref(gpName)
	r.GPAddress = deref(gpAddress)
	r.BloodGroup = BloodGroup(deref(blood))
	r.HealthNotes = deref(notes)
	r.HealthStatus = HealthStatus(status)
	r.FitnessForWork = Fitness(fitness)
	r.LastCheckupDate = civil.FromPtr(last)
	r.NextCheckupDue = civil.FromPtr(next)
	for _, col := range []struct {
		raw  []byte
		into any
	}{
		{allergies, &r.Allergies},
		{medications, &r.Medications},
		{conditions, &r.MedicalConditions},
		{vaccinations, &r.Vaccinations},
	} {
		if len(col.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(col.raw, col.into); err != nil {
			return nil, fmt.Errorf("healthrecords: decode json column: %w", err)
		}
	}
	return &r, nil
}

func (p *PostgresRepository) Upsert(ctx context.Context, r *Record) error {
	cols := make([][]byte, 0, 4)
	for _, v := range []any{r.Allergies, r.Medications, r.MedicalConditions, r.Vaccinations} {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("healthrecords: encode json column: %w", err)
		}
		cols = append(cols, raw)
	}
	err := p.pool.QueryRow(ctx, `
		INSERT INTO health_records (id, employee_id, nhs_number, gp_name, gp_address, blood_group, allergies,
			medications, medical_conditions, vaccinations, health_notes, health_status, fitness_for_work,
			last_checkup_date, next_checkup_due, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (employee_id) DO UPDATE SET
			nhs_number = EXCLUDED.nhs_number,
			gp_name = EXCLUDED.gp_name,
			gp_address = EXCLUDED.gp_address,
			blood_group = EXCLUDED.blood_group,
			allergies = EXCLUDED.allergies,
			medications = EXCLUDED.medications,
			medical_conditions = EXCLUDED.medical_conditions,
			vaccinations = EXCLUDED.vaccinations,
			health_notes = EXCLUDED.health_notes,
			health_status = EXCLUDED.health_status,
			fitness_for_work = EXCLUDED.fitness_for_work,
			last_checkup_date = EXCLUDED.last_checkup_date,
			next_checkup_due = EXCLUDED.next_checkup_due,
			updated_by = EXCLUDED.updated_by,
			updated_at = now()
		RETURNING id, created_at, updated_at`,
		r.ID, r.EmployeeID, nullable(r.NHSNumber), nullable(r.GPName), nullable(r.GPAddress), nullable(string(r.BloodGroup)),
		cols[0], cols[1], cols[2], cols[3], nullable(r.HealthNotes), string(r.HealthStatus), string(r.FitnessForWork),
		r.LastCheckupDate.Ptr(), r.NextCheckupDue.Ptr(), r.UpdatedBy,
	).Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("healthrecords: upsert: %w", err)
	}
	return nil
}

func (p *PostgresRepository) ClearIdentifiers(employeeID string) db.TxStep {
	return func(ctx context.Context, q db.Querier) error {
		_, err := q.Exec(ctx, `
			UPDATE health_records SET nhs_number = NULL, health_notes = NULL, updated_at = now()
			WHERE employee_id = $1`, employeeID)
		if err != nil {
			return fmt.Errorf("healthrecords: clear identifiers: %w", err)
		}
		return nil
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
