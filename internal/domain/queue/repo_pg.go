package queue

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

const apptCols = `a.id, a.patient_id, a.doctor_id, a.clinic_id, a.appointment_time, a.service_day,
	a.queue_number, a.status, a.on_hold_time, a.consultation_start_time, a.consultation_end_time,
	a.symptoms, a.diagnosis, a.treatment, a.realtime_reminder_sent, a.superseded_by, a.version_id,
	a.created_at, a.updated_at, COALESCE(p.name, ''), COALESCE(d.name, '')`

const apptFrom = ` FROM appointments a
	LEFT JOIN users p ON p.id = a.patient_id
	LEFT JOIN users d ON d.id = a.doctor_id`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.ClinicID, &a.AppointmentTime, &a.ServiceDay,
		&a.QueueNumber, &a.Status, &a.OnHoldTime, &a.ConsultationStartTime, &a.ConsultationEndTime,
		&a.Symptoms, &a.Diagnosis, &a.Treatment, &a.RealtimeReminderSent, &a.SupersededBy, &a.VersionID,
		&a.CreatedAt, &a.UpdatedAt, &a.PatientName, &a.DoctorName)
	return &a, err
}

// NextQueueNumber upserts the (doctor, day) counter. The first allocation of
// a day seeds the counter from existing rows so that numbers stay unique
// even for appointments written before the counter existed.
func (r *repoPG) NextQueueNumber(ctx context.Context, doctorID uuid.UUID, day time.Time) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO queue_counters (doctor_id, service_day, last_number)
		VALUES ($1, $2, (
			SELECT COALESCE(MAX(queue_number), 0) + 1 FROM appointments
			WHERE doctor_id = $1 AND service_day = $2))
		ON CONFLICT (doctor_id, service_day)
		DO UPDATE SET last_number = queue_counters.last_number + 1
		RETURNING last_number`, doctorID, day).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("allocate queue number: %w", err)
	}
	return n, nil
}

// constraintConflict maps violations of the appointment unique constraints
// to Conflict. It returns nil for any other error.
func constraintConflict(err error) error {
	name, ok := db.UniqueViolation(err)
	if !ok {
		return nil
	}
	switch name {
	case "appointments_one_active_per_day":
		return apperr.Conflict(apperr.CodeDuplicateActive, "patient already has an active appointment on that day")
	case "appointments_queue_number_key":
		return apperr.Conflict(apperr.CodeQueueNumberTaken, "queue number is already taken, try booking again")
	}
	return nil
}

func (r *repoPG) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.VersionID == 0 {
		a.VersionID = 1
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, clinic_id, appointment_time, service_day,
			queue_number, status, version_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.DoctorID, a.ClinicID, a.AppointmentTime, a.ServiceDay,
		a.QueueNumber, a.Status, a.VersionID).Scan(&a.CreatedAt, &a.UpdatedAt)
	if cerr := constraintConflict(err); cerr != nil {
		return cerr
	}
	if _, ok := db.ForeignKeyViolation(err); ok {
		return apperr.NotFound("patient, doctor or clinic not found")
	}
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppointment(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+apptCols+apptFrom+` WHERE a.id = $1`, id))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("appointment %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return a, nil
}

func (r *repoPG) Update(ctx context.Context, a *Appointment) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE appointments SET status = $3, on_hold_time = $4, consultation_start_time = $5,
			consultation_end_time = $6, symptoms = $7, diagnosis = $8, treatment = $9,
			superseded_by = $10, version_id = version_id + 1, updated_at = NOW()
		WHERE id = $1 AND version_id = $2
		RETURNING version_id, updated_at`,
		a.ID, a.VersionID, a.Status, a.OnHoldTime, a.ConsultationStartTime,
		a.ConsultationEndTime, a.Symptoms, a.Diagnosis, a.Treatment, a.SupersededBy).
		Scan(&a.VersionID, &a.UpdatedAt)
	if db.IsNoRows(err) {
		return ErrStaleVersion
	}
	if cerr := constraintConflict(err); cerr != nil {
		return cerr
	}
	if err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	return nil
}

func (r *repoPG) list(ctx context.Context, tail string, args ...interface{}) ([]*Appointment, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+apptCols+apptFrom+` `+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *repoPG) ActiveForPatientOnDay(ctx context.Context, patientID uuid.UUID, day time.Time) (*Appointment, error) {
	items, err := r.list(ctx, `WHERE a.patient_id = $1 AND a.service_day = $2
		AND a.status IN ('SCHEDULED', 'WAITING', 'IN_PROGRESS', 'ON_HOLD')
		ORDER BY a.queue_number LIMIT 1`, patientID, day)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return items[0], nil
}

func (r *repoPG) ListForClinicDay(ctx context.Context, clinicID uuid.UUID, day time.Time) ([]*Appointment, error) {
	return r.list(ctx, `WHERE a.clinic_id = $1 AND a.service_day = $2 ORDER BY a.queue_number`, clinicID, day)
}

func (r *repoPG) ListForPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM appointments WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count patient appointments: %w", err)
	}
	items, err := r.list(ctx, `WHERE a.patient_id = $1 ORDER BY a.appointment_time DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	return items, total, err
}

func (r *repoPG) ListForDoctor(ctx context.Context, doctorID uuid.UUID, f HistoryFilter) ([]*Appointment, error) {
	tail := `WHERE a.doctor_id = $1`
	args := []interface{}{doctorID}
	if f.Status != "" {
		args = append(args, f.Status)
		tail += fmt.Sprintf(` AND a.status = $%d`, len(args))
	}
	if f.From != nil {
		args = append(args, *f.From)
		tail += fmt.Sprintf(` AND a.appointment_time >= $%d`, len(args))
	}
	if f.To != nil {
		args = append(args, *f.To)
		tail += fmt.Sprintf(` AND a.appointment_time <= $%d`, len(args))
	}
	return r.list(ctx, tail+` ORDER BY a.appointment_time DESC, a.queue_number DESC`, args...)
}

func (r *repoPG) ListScheduleForDoctor(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]*Appointment, error) {
	return r.list(ctx, `WHERE a.doctor_id = $1 AND a.appointment_time BETWEEN $2 AND $3
		AND a.status IN ('SCHEDULED', 'WAITING', 'IN_PROGRESS', 'ON_HOLD')
		ORDER BY a.appointment_time`, doctorID, from, to)
}
