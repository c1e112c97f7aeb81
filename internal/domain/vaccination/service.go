package vaccination

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/muslih-a/appklinik/internal/platform/apperr"
	"github.com/muslih-a/appklinik/internal/platform/auth"
	"github.com/muslih-a/appklinik/internal/platform/clock"
)

type Service struct {
	repo   Repository
	clock  clock.Clock
	loc    *time.Location
	logger zerolog.Logger
}

func NewService(repo Repository, clk clock.Clock, loc *time.Location, logger zerolog.Logger) *Service {
	if clk == nil {
		clk = clock.System()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{repo: repo, clock: clk, loc: loc, logger: logger.With().Str("component", "vaccinations").Logger()}
}

// Schedule books a vaccination with the calling doctor at the doctor's clinic.
func (s *Service) Schedule(ctx context.Context, actor auth.Actor, req CreateRequest) (*Vaccination, error) {
	doctorID, ok := actor.UUID()
	if !ok || !actor.Is(auth.RoleDoctor) {
		return nil, apperr.Forbidden("only doctors can schedule vaccinations")
	}
	clinicID, ok := actor.ClinicUUID()
	if !ok {
		return nil, apperr.Forbidden("user is not linked to a clinic")
	}
	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		return nil, apperr.Validation("patientId must be a valid id")
	}
	if req.ScheduledDate.Before(s.clock.Now()) {
		return nil, apperr.Validation("scheduledDate must not be in the past")
	}

	v := &Vaccination{
		PatientID:   patientID,
		DoctorID:    doctorID,
		ClinicID:    clinicID,
		VaccineName: req.VaccineName,
		ScheduledAt: req.ScheduledDate,
		ServiceDay:  clock.Day(req.ScheduledDate, s.loc),
		Status:      StatusScheduled,
	}
	if err := s.repo.Create(ctx, v); err != nil {
		return nil, err
	}
	s.logger.Info().Str("vaccination_id", v.ID.String()).Str("vaccine", v.VaccineName).Msg("vaccination scheduled")
	return v, nil
}

// Upcoming lists the caller's scheduled vaccinations from now on.
func (s *Service) Upcoming(ctx context.Context, actor auth.Actor) ([]*Vaccination, error) {
	id, ok := actor.UUID()
	if !ok {
		return nil, apperr.NotFound("no profile for %s", actor.UserID)
	}
	return s.repo.ListUpcomingForPatient(ctx, id, s.clock.Now())
}

func (s *Service) ForDoctor(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]*Vaccination, error) {
	return s.repo.ListForDoctor(ctx, doctorID, from, to)
}

func (s *Service) ScheduledOn(ctx context.Context, day time.Time) ([]*Vaccination, error) {
	return s.repo.ListScheduledOn(ctx, day)
}

// SetStatus completes or cancels a scheduled vaccination. Only the doctor who
// scheduled it may change it.
func (s *Service) SetStatus(ctx context.Context, actor auth.Actor, id uuid.UUID, status string) (*Vaccination, error) {
	if status != StatusCompleted && status != StatusCancelled {
		return nil, apperr.Validation("status must be COMPLETED or CANCELLED")
	}
	v, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if v.DoctorID.String() != actor.UserID {
		return nil, apperr.Forbidden("vaccination belongs to another doctor")
	}
	if v.Status == status {
		return v, nil
	}
	if err := s.repo.SetStatus(ctx, id, StatusScheduled, status); err != nil {
		return nil, err
	}
	v.Status = status
	return v, nil
}
