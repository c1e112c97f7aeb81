package settings

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/muslih-a/appklinik/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

// Get returns the stored settings, or the defaults when the row is missing.
func (r *repoPG) Get(ctx context.Context) (*Settings, error) {
	var s Settings
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT is_scheduled_reminder_active, h1_reminder_time, day_h_reminder_time,
			realtime_reminder_threshold, updated_at
		FROM reminder_settings WHERE id = 1`).
		Scan(&s.IsScheduledReminderActive, &s.H1ReminderTime, &s.DayHReminderTime,
			&s.RealtimeReminderThreshold, &s.UpdatedAt)
	if db.IsNoRows(err) {
		d := Defaults()
		return &d, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	return &s, nil
}

func (r *repoPG) Save(ctx context.Context, s *Settings) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO reminder_settings (id, is_scheduled_reminder_active, h1_reminder_time,
			day_h_reminder_time, realtime_reminder_threshold, updated_at)
		VALUES (1, $1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE SET
			is_scheduled_reminder_active = EXCLUDED.is_scheduled_reminder_active,
			h1_reminder_time = EXCLUDED.h1_reminder_time,
			day_h_reminder_time = EXCLUDED.day_h_reminder_time,
			realtime_reminder_threshold = EXCLUDED.realtime_reminder_threshold,
			updated_at = NOW()
		RETURNING updated_at`,
		s.IsScheduledReminderActive, s.H1ReminderTime, s.DayHReminderTime, s.RealtimeReminderThreshold).
		Scan(&s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}
