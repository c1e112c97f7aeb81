package user

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	ListByClinic(ctx context.Context, clinicID uuid.UUID, role string) ([]*User, error)
	AssignClinic(ctx context.Context, id, clinicID uuid.UUID) error
	UpdatePushTokens(ctx context.Context, id uuid.UUID, expo, fcm string) error
	// SetNowServing moves the doctor's cursor. It joins the caller's
	// transaction when there is one.
	SetNowServing(ctx context.Context, doctorID uuid.UUID, queueNumber int, at time.Time) error
	ResetNowServing(ctx context.Context) (int64, error)
}
