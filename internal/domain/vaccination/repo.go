package vaccination

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, v *Vaccination) error
	GetByID(ctx context.Context, id uuid.UUID) (*Vaccination, error)
	SetStatus(ctx context.Context, id uuid.UUID, from, to string) error
	ListUpcomingForPatient(ctx context.Context, patientID uuid.UUID, from time.Time) ([]*Vaccination, error)
	ListForDoctor(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]*Vaccination, error)
	// ListScheduledOn returns SCHEDULED vaccinations on one service day.
	ListScheduledOn(ctx context.Context, day time.Time) ([]*Vaccination, error)
}
