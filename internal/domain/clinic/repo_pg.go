package clinic

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

const clinicCols = `id, name, address, phone_number, doctor_id, average_consultation_time,
	opening_time, is_registration_closed, registration_close_time, display_key, created_at, updated_at`

func scanClinic(row pgx.Row) (*Clinic, error) {
	var c Clinic
	err := row.Scan(&c.ID, &c.Name, &c.Address, &c.PhoneNumber, &c.DoctorID, &c.AverageConsultationTime,
		&c.OpeningTime, &c.IsRegistrationClosed, &c.RegistrationCloseTime, &c.DisplayKey, &c.CreatedAt, &c.UpdatedAt)
	return &c, err
}

func (r *repoPG) Create(ctx context.Context, c *Clinic) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO clinics (id, name, address, phone_number, doctor_id, average_consultation_time,
			opening_time, display_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		c.ID, c.Name, c.Address, c.PhoneNumber, c.DoctorID, c.AverageConsultationTime, c.OpeningTime, c.DisplayKey).
		Scan(&c.CreatedAt, &c.UpdatedAt)
	if name, ok := db.UniqueViolation(err); ok && name == "clinics_doctor_id_key" {
		return apperr.Conflict("", "doctor already runs another clinic")
	}
	if _, ok := db.ForeignKeyViolation(err); ok {
		return apperr.NotFound("doctor %s not found", c.DoctorID)
	}
	if err != nil {
		return fmt.Errorf("insert clinic: %w", err)
	}
	return nil
}

func (r *repoPG) get(ctx context.Context, where string, arg interface{}) (*Clinic, error) {
	c, err := scanClinic(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+clinicCols+` FROM clinics WHERE `+where, arg))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("clinic not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get clinic: %w", err)
	}
	return c, nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Clinic, error) {
	return r.get(ctx, `id = $1`, id)
}

func (r *repoPG) GetByDisplayKey(ctx context.Context, key string) (*Clinic, error) {
	return r.get(ctx, `display_key = $1`, key)
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Clinic, int, error) {
	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM clinics`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count clinics: %w", err)
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+clinicCols+` FROM clinics ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list clinics: %w", err)
	}
	defer rows.Close()
	var items []*Clinic
	for rows.Next() {
		c, err := scanClinic(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan clinic: %w", err)
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

func (r *repoPG) exec(ctx context.Context, id uuid.UUID, sql string, args ...interface{}) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, sql, append([]interface{}{id}, args...)...)
	if name, ok := db.UniqueViolation(err); ok && name == "clinics_doctor_id_key" {
		return apperr.Conflict("", "doctor already runs another clinic")
	}
	if err != nil {
		return fmt.Errorf("update clinic: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("clinic %s not found", id)
	}
	return nil
}

func (r *repoPG) Update(ctx context.Context, c *Clinic) error {
	return r.exec(ctx, c.ID, `
		UPDATE clinics SET name = $2, address = $3, phone_number = $4,
			average_consultation_time = $5, opening_time = $6, updated_at = NOW()
		WHERE id = $1`,
		c.Name, c.Address, c.PhoneNumber, c.AverageConsultationTime, c.OpeningTime)
}

func (r *repoPG) SetRegistration(ctx context.Context, id uuid.UUID, closed bool, closeAt *time.Time) error {
	return r.exec(ctx, id, `
		UPDATE clinics SET is_registration_closed = $2, registration_close_time = $3, updated_at = NOW()
		WHERE id = $1`, closed, closeAt)
}

func (r *repoPG) SetDoctor(ctx context.Context, id, doctorID uuid.UUID) error {
	return r.exec(ctx, id, `UPDATE clinics SET doctor_id = $2, updated_at = NOW() WHERE id = $1`, doctorID)
}

func (r *repoPG) SetDisplayKey(ctx context.Context, id uuid.UUID, key string) error {
	return r.exec(ctx, id, `UPDATE clinics SET display_key = $2, updated_at = NOW() WHERE id = $1`, key)
}
