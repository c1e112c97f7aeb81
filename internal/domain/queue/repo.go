package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrStaleVersion is returned by Update when the row changed since it was
// read. The service re-reads and re-plans.
var ErrStaleVersion = errors.New("appointment was modified concurrently")

type Repository interface {
	// NextQueueNumber allocates the next number for doctorID on day. Inside
	// a transaction the allocation holds a row lock until commit.
	NextQueueNumber(ctx context.Context, doctorID uuid.UUID, day time.Time) (int, error)
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// Update writes a's mutable fields when a.VersionID still matches and
	// bumps the version.
	Update(ctx context.Context, a *Appointment) error
	ActiveForPatientOnDay(ctx context.Context, patientID uuid.UUID, day time.Time) (*Appointment, error)
	ListForClinicDay(ctx context.Context, clinicID uuid.UUID, day time.Time) ([]*Appointment, error)
	ListForPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error)
	ListForDoctor(ctx context.Context, doctorID uuid.UUID, f HistoryFilter) ([]*Appointment, error)
	ListScheduleForDoctor(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]*Appointment, error)
}
