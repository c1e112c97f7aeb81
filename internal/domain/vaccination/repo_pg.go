package vaccination

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/muslih-a/appklinik/internal/platform/apperr"
	"github.com/muslih-a/appklinik/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

const vaxCols = `v.id, v.patient_id, v.doctor_id, v.clinic_id, v.vaccine_name, v.scheduled_at,
	v.service_day, v.status, v.created_at, v.updated_at, COALESCE(p.name, '')`

const vaxFrom = ` FROM scheduled_vaccinations v LEFT JOIN users p ON p.id = v.patient_id`

func scanVaccination(row pgx.Row) (*Vaccination, error) {
	var v Vaccination
	err := row.Scan(&v.ID, &v.PatientID, &v.DoctorID, &v.ClinicID, &v.VaccineName, &v.ScheduledAt,
		&v.ServiceDay, &v.Status, &v.CreatedAt, &v.UpdatedAt, &v.PatientName)
	return &v, err
}

func (r *repoPG) Create(ctx context.Context, v *Vaccination) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO scheduled_vaccinations (id, patient_id, doctor_id, clinic_id, vaccine_name,
			scheduled_at, service_day, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		v.ID, v.PatientID, v.DoctorID, v.ClinicID, v.VaccineName, v.ScheduledAt, v.ServiceDay, v.Status).
		Scan(&v.CreatedAt, &v.UpdatedAt)
	if _, ok := db.ForeignKeyViolation(err); ok {
		return apperr.NotFound("patient %s not found", v.PatientID)
	}
	if err != nil {
		return fmt.Errorf("insert vaccination: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Vaccination, error) {
	v, err := scanVaccination(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+vaxCols+vaxFrom+` WHERE v.id = $1`, id))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("vaccination %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get vaccination: %w", err)
	}
	return v, nil
}

// SetStatus moves a vaccination from one status to another; it reports a
// conflict when the row is no longer in from.
func (r *repoPG) SetStatus(ctx context.Context, id uuid.UUID, from, to string) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE scheduled_vaccinations SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return fmt.Errorf("update vaccination status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict(apperr.CodeInvalidTransition, "vaccination is no longer %s", from)
	}
	return nil
}

func (r *repoPG) list(ctx context.Context, where string, args ...interface{}) ([]*Vaccination, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+vaxCols+vaxFrom+` WHERE `+where+` ORDER BY v.scheduled_at`, args...)
	if err != nil {
		return nil, fmt.Errorf("list vaccinations: %w", err)
	}
	defer rows.Close()
	var items []*Vaccination
	for rows.Next() {
		v, err := scanVaccination(rows)
		if err != nil {
			return nil, fmt.Errorf("scan vaccination: %w", err)
		}
		items = append(items, v)
	}
	return items, rows.Err()
}

func (r *repoPG) ListUpcomingForPatient(ctx context.Context, patientID uuid.UUID, from time.Time) ([]*Vaccination, error) {
	return r.list(ctx, `v.patient_id = $1 AND v.status = 'SCHEDULED' AND v.scheduled_at >= $2`, patientID, from)
}

func (r *repoPG) ListForDoctor(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]*Vaccination, error) {
	return r.list(ctx, `v.doctor_id = $1 AND v.status = 'SCHEDULED' AND v.scheduled_at BETWEEN $2 AND $3`, doctorID, from, to)
}

func (r *repoPG) ListScheduledOn(ctx context.Context, day time.Time) ([]*Vaccination, error) {
	return r.list(ctx, `v.service_day = $1 AND v.status = 'SCHEDULED'`, day)
}
