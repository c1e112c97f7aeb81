package clinic

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, c *Clinic) error
	GetByID(ctx context.Context, id uuid.UUID) (*Clinic, error)
	GetByDisplayKey(ctx context.Context, key string) (*Clinic, error)
	List(ctx context.Context, limit, offset int) ([]*Clinic, int, error)
	Update(ctx context.Context, c *Clinic) error
	SetRegistration(ctx context.Context, id uuid.UUID, closed bool, closeAt *time.Time) error
	SetDoctor(ctx context.Context, id, doctorID uuid.UUID) error
	SetDisplayKey(ctx context.Context, id uuid.UUID, key string) error
}
