package user

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

const userCols = `id, name, email, role, clinic_id, fcm_token, expo_push_token,
	now_serving_doctor, now_serving_updated_at, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.ClinicID, &u.FCMToken, &u.ExpoPushToken,
		&u.NowServingDoctor, &u.NowServingUpdatedAt, &u.CreatedAt, &u.UpdatedAt)
	return &u, err
}

func (r *repoPG) Create(ctx context.Context, u *User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO users (id, name, email, role, clinic_id, fcm_token, expo_push_token)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		u.ID, u.Name, u.Email, u.Role, u.ClinicID, u.FCMToken, u.ExpoPushToken).
		Scan(&u.CreatedAt, &u.UpdatedAt)
	if name, ok := db.UniqueViolation(err); ok && name == "users_email_key" {
		return apperr.Conflict("", "email %s is already registered", u.Email)
	}
	if _, ok := db.ForeignKeyViolation(err); ok {
		return apperr.NotFound("clinic %s not found", u.ClinicID)
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := scanUser(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("user %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (r *repoPG) ListByClinic(ctx context.Context, clinicID uuid.UUID, role string) ([]*User, error) {
	query := `SELECT ` + userCols + ` FROM users WHERE clinic_id = $1`
	args := []interface{}{clinicID}
	if role != "" {
		query += ` AND role = $2`
		args = append(args, role)
	}
	query += ` ORDER BY name`

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list clinic users: %w", err)
	}
	defer rows.Close()
	var items []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, u)
	}
	return items, rows.Err()
}

func (r *repoPG) AssignClinic(ctx context.Context, id, clinicID uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE users SET clinic_id = $2, updated_at = NOW() WHERE id = $1`, id, clinicID)
	if _, ok := db.ForeignKeyViolation(err); ok {
		return apperr.NotFound("clinic %s not found", clinicID)
	}
	if err != nil {
		return fmt.Errorf("assign clinic: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("user %s not found", id)
	}
	return nil
}

func (r *repoPG) UpdatePushTokens(ctx context.Context, id uuid.UUID, expo, fcm string) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE users SET expo_push_token = $2, fcm_token = $3, updated_at = NOW()
		WHERE id = $1`, id, expo, fcm)
	if err != nil {
		return fmt.Errorf("update push tokens: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("user %s not found", id)
	}
	return nil
}

func (r *repoPG) SetNowServing(ctx context.Context, doctorID uuid.UUID, queueNumber int, at time.Time) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE users SET now_serving_doctor = $2, now_serving_updated_at = $3
		WHERE id = $1 AND role = 'Doctor'`, doctorID, queueNumber, at)
	if err != nil {
		return fmt.Errorf("set now serving: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("doctor %s not found", doctorID)
	}
	return nil
}

func (r *repoPG) ResetNowServing(ctx context.Context) (int64, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE users SET now_serving_doctor = 0, now_serving_updated_at = NOW()
		WHERE role = 'Doctor' AND now_serving_doctor <> 0`)
	if err != nil {
		return 0, fmt.Errorf("reset now serving: %w", err)
	}
	return tag.RowsAffected(), nil
}
