package clinic

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/muslih-a/appklinik/internal/domain/user"
	"github.com/muslih-a/appklinik/internal/platform/apperr"
	"github.com/muslih-a/appklinik/internal/platform/auth"
	"github.com/muslih-a/appklinik/internal/platform/clock"
	"github.com/muslih-a/appklinik/internal/platform/db"
)

// Doctors is the part of the user store the clinic service needs.
type Doctors interface {
	GetByID(ctx context.Context, id uuid.UUID) (*user.User, error)
	AssignClinic(ctx context.Context, id, clinicID uuid.UUID) error
}

type Service struct {
	repo    Repository
	doctors Doctors
	tx      db.TxManager
	clock   clock.Clock
	logger  zerolog.Logger
}

func NewService(repo Repository, doctors Doctors, tx db.TxManager, clk clock.Clock, logger zerolog.Logger) *Service {
	if clk == nil {
		clk = clock.System()
	}
	return &Service{
		repo:    repo,
		doctors: doctors,
		tx:      tx,
		clock:   clk,
		logger:  logger.With().Str("component", "clinics").Logger(),
	}
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*Clinic, error) {
	c := &Clinic{
		Name:                    req.Name,
		Address:                 req.Address,
		PhoneNumber:             req.PhoneNumber,
		AverageConsultationTime: req.AverageConsultationTime,
		OpeningTime:             req.OpeningTime,
		DisplayKey:              NewDisplayKey(),
	}
	if c.AverageConsultationTime == 0 {
		c.AverageConsultationTime = DefaultAverageConsultationTime
	}
	if c.OpeningTime == "" {
		c.OpeningTime = DefaultOpeningTime
	}
	if _, _, err := clock.ParseHHMM(c.OpeningTime); err != nil {
		return nil, apperr.Validation("%v", err)
	}

	var doctorID uuid.UUID
	if req.DoctorID != "" {
		id, err := uuid.Parse(req.DoctorID)
		if err != nil {
			return nil, apperr.Validation("doctorId must be a valid id")
		}
		doctorID = id
		c.DoctorID = &doctorID
	}

	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		if c.DoctorID != nil {
			if err := s.checkDoctor(ctx, doctorID); err != nil {
				return err
			}
		}
		if err := s.repo.Create(ctx, c); err != nil {
			return err
		}
		if c.DoctorID != nil {
			return s.doctors.AssignClinic(ctx, doctorID, c.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("clinic_id", c.ID.String()).Str("name", c.Name).Msg("clinic created")
	return c, nil
}

func (s *Service) checkDoctor(ctx context.Context, id uuid.UUID) error {
	d, err := s.doctors.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if d.Role != auth.RoleDoctor {
		return apperr.Validation("user %s is not a doctor", id)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Clinic, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.Public(), nil
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Clinic, int, error) {
	items, total, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	out := make([]*Clinic, 0, len(items))
	for _, c := range items {
		out = append(out, c.Public())
	}
	return out, total, nil
}

// Mine returns the clinic the caller works at, display key included.
func (s *Service) Mine(ctx context.Context, actor auth.Actor) (*Clinic, error) {
	id, err := s.actorClinic(actor)
	if err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, id)
}

func (s *Service) actorClinic(actor auth.Actor) (uuid.UUID, error) {
	id, ok := actor.ClinicUUID()
	if !ok {
		return uuid.Nil, apperr.Forbidden("user is not linked to a clinic")
	}
	return id, nil
}

func (s *Service) UpdateMine(ctx context.Context, actor auth.Actor, req UpdateRequest) (*Clinic, error) {
	c, err := s.Mine(ctx, actor)
	if err != nil {
		return nil, err
	}
	req.apply(c)
	if c.AverageConsultationTime <= 0 {
		return nil, apperr.Validation("averageConsultationTime must be positive")
	}
	if _, _, err := clock.ParseHHMM(c.OpeningTime); err != nil {
		return nil, apperr.Validation("%v", err)
	}
	if err := s.repo.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// CloseRegistration stops same-day bookings immediately.
func (s *Service) CloseRegistration(ctx context.Context, actor auth.Actor) (*Clinic, error) {
	return s.setRegistration(ctx, actor, true, nil)
}

// OpenRegistration reopens bookings and clears any scheduled close.
func (s *Service) OpenRegistration(ctx context.Context, actor auth.Actor) (*Clinic, error) {
	return s.setRegistration(ctx, actor, false, nil)
}

// ScheduleClose closes registration automatically once at has passed.
func (s *Service) ScheduleClose(ctx context.Context, actor auth.Actor, at time.Time) (*Clinic, error) {
	if !at.After(s.clock.Now()) {
		return nil, apperr.Validation("closeTime must be in the future")
	}
	return s.setRegistration(ctx, actor, false, &at)
}

func (s *Service) setRegistration(ctx context.Context, actor auth.Actor, closed bool, at *time.Time) (*Clinic, error) {
	id, err := s.actorClinic(actor)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetRegistration(ctx, id, closed, at); err != nil {
		return nil, err
	}
	evt := s.logger.Info().Str("clinic_id", id.String()).Bool("closed", closed)
	if at != nil {
		evt = evt.Time("close_at", *at)
	}
	evt.Msg("registration updated")
	return s.repo.GetByID(ctx, id)
}

// AssignDoctor links a doctor to a clinic in both directions.
func (s *Service) AssignDoctor(ctx context.Context, clinicID, doctorID uuid.UUID) (*Clinic, error) {
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.checkDoctor(ctx, doctorID); err != nil {
			return err
		}
		if err := s.repo.SetDoctor(ctx, clinicID, doctorID); err != nil {
			return err
		}
		return s.doctors.AssignClinic(ctx, doctorID, clinicID)
	})
	if err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, clinicID)
}

// RotateDisplayKey invalidates the current display board URL.
func (s *Service) RotateDisplayKey(ctx context.Context, actor auth.Actor) (*Clinic, error) {
	id, err := s.actorClinic(actor)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetDisplayKey(ctx, id, NewDisplayKey()); err != nil {
		return nil, err
	}
	s.logger.Info().Str("clinic_id", id.String()).Msg("display key rotated")
	return s.repo.GetByID(ctx, id)
}

// ResolveDisplayKey maps a display board key to its clinic id.
func (s *Service) ResolveDisplayKey(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", apperr.NotFound("clinic not found")
	}
	c, err := s.repo.GetByDisplayKey(ctx, key)
	if err != nil {
		return "", err
	}
	return c.ID.String(), nil
}
