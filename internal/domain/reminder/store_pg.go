package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/muslih-a/appklinik/internal/platform/db"
)

type storePG struct{ pool *pgxpool.Pool }

func NewStorePG(pool *pgxpool.Pool) Store { return &storePG{pool: pool} }

func (s *storePG) RealtimeCandidates(ctx context.Context, day time.Time) ([]RealtimeCandidate, error) {
	rows, err := db.Conn(ctx, s.pool).Query(ctx, `
		SELECT a.id, a.queue_number,
			p.id IS NOT NULL, a.patient_id, COALESCE(p.expo_push_token, ''),
			c.id IS NOT NULL, COALESCE(c.name, ''), COALESCE(c.average_consultation_time, 0), COALESCE(c.opening_time, ''),
			d.id IS NOT NULL, COALESCE(d.now_serving_doctor, 0), d.now_serving_updated_at
		FROM appointments a
		LEFT JOIN users p ON p.id = a.patient_id
		LEFT JOIN clinics c ON c.id = a.clinic_id
		LEFT JOIN users d ON d.id = a.doctor_id AND d.role = 'Doctor'
		WHERE a.status = 'WAITING' AND a.realtime_reminder_sent = FALSE AND a.service_day = $1
		ORDER BY a.queue_number`, day)
	if err != nil {
		return nil, fmt.Errorf("query realtime candidates: %w", err)
	}
	defer rows.Close()

	var out []RealtimeCandidate
	for rows.Next() {
		var c RealtimeCandidate
		if err := rows.Scan(&c.AppointmentID, &c.QueueNumber,
			&c.PatientFound, &c.PatientID, &c.PushToken,
			&c.ClinicFound, &c.ClinicName, &c.AverageConsultationTime, &c.OpeningTime,
			&c.DoctorFound, &c.NowServing, &c.NowServingUpdatedAt); err != nil {
			return nil, fmt.Errorf("scan realtime candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *storePG) ClaimRealtime(ctx context.Context, appointmentID uuid.UUID) (bool, error) {
	tag, err := db.Conn(ctx, s.pool).Exec(ctx, `
		UPDATE appointments SET realtime_reminder_sent = TRUE
		WHERE id = $1 AND realtime_reminder_sent = FALSE AND status = 'WAITING'`, appointmentID)
	if err != nil {
		return false, fmt.Errorf("claim realtime reminder: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *storePG) ReleaseRealtime(ctx context.Context, appointmentID uuid.UUID) error {
	_, err := db.Conn(ctx, s.pool).Exec(ctx,
		`UPDATE appointments SET realtime_reminder_sent = FALSE WHERE id = $1`, appointmentID)
	if err != nil {
		return fmt.Errorf("release realtime reminder: %w", err)
	}
	return nil
}

func (s *storePG) DailyCandidates(ctx context.Context, day time.Time) ([]DailyCandidate, error) {
	rows, err := db.Conn(ctx, s.pool).Query(ctx, `
		SELECT 'appointment', a.id, a.appointment_time, '',
			p.id IS NOT NULL, a.patient_id, COALESCE(p.expo_push_token, '')
		FROM appointments a LEFT JOIN users p ON p.id = a.patient_id
		WHERE a.status = 'SCHEDULED' AND a.service_day = $1
		UNION ALL
		SELECT 'vaccination', v.id, v.scheduled_at, v.vaccine_name,
			p.id IS NOT NULL, v.patient_id, COALESCE(p.expo_push_token, '')
		FROM scheduled_vaccinations v LEFT JOIN users p ON p.id = v.patient_id
		WHERE v.status = 'SCHEDULED' AND v.service_day = $1
		ORDER BY 3`, day)
	if err != nil {
		return nil, fmt.Errorf("query daily candidates: %w", err)
	}
	defer rows.Close()

	var out []DailyCandidate
	for rows.Next() {
		var c DailyCandidate
		if err := rows.Scan(&c.Kind, &c.RefID, &c.At, &c.VaccineName,
			&c.PatientFound, &c.PatientID, &c.PushToken); err != nil {
			return nil, fmt.Errorf("scan daily candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *storePG) ClaimDaily(ctx context.Context, kind string, refID uuid.UUID, day time.Time) (bool, error) {
	tag, err := db.Conn(ctx, s.pool).Exec(ctx, `
		INSERT INTO reminder_log (kind, ref_id, day) VALUES ($1, $2, $3)
		ON CONFLICT (kind, ref_id, day) DO NOTHING`, kind, refID, day)
	if err != nil {
		return false, fmt.Errorf("claim %s reminder: %w", kind, err)
	}
	return tag.RowsAffected() == 1, nil
}
