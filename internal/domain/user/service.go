package user

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/muslih-a/appklinik/internal/platform/apperr"
	"github.com/muslih-a/appklinik/internal/platform/auth"
	"github.com/muslih-a/appklinik/internal/platform/notification"
)

type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger.With().Str("component", "users").Logger()}
}

// Create provisions an account. Sign-up and credentials live with the
// identity provider; this only records the profile the queue needs.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*User, error) {
	u := &User{Name: req.Name, Email: req.Email, Role: req.Role}
	if req.ClinicID != "" {
		id, err := uuid.Parse(req.ClinicID)
		if err != nil {
			return nil, apperr.Validation("clinicId must be a valid id")
		}
		u.ClinicID = &id
	}
	switch u.Role {
	case auth.RoleAdminKlinik:
		if u.ClinicID == nil {
			return nil, apperr.Validation("clinicId is required for role %s", u.Role)
		}
	case auth.RolePatient, auth.RoleAdmin:
		u.ClinicID = nil
	}

	if err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", u.ID.String()).Str("role", u.Role).Msg("user created")
	return u, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) Me(ctx context.Context, actor auth.Actor) (*User, error) {
	id, ok := actor.UUID()
	if !ok {
		return nil, apperr.NotFound("no profile for %s", actor.UserID)
	}
	return s.repo.GetByID(ctx, id)
}

// Doctors lists the doctors practising at a clinic, for booking.
func (s *Service) Doctors(ctx context.Context, clinicID uuid.UUID) ([]*User, error) {
	return s.repo.ListByClinic(ctx, clinicID, auth.RoleDoctor)
}

// RegisterPushToken stores the caller's device tokens. Expo tokens are
// checked for shape so that a typo surfaces now rather than at call time.
func (s *Service) RegisterPushToken(ctx context.Context, actor auth.Actor, req PushTokenRequest) error {
	id, ok := actor.UUID()
	if !ok {
		return apperr.NotFound("no profile for %s", actor.UserID)
	}
	if req.ExpoPushToken != "" && !notification.ValidExpoToken(req.ExpoPushToken) {
		return apperr.Validation("expoPushToken is not a valid Expo push token")
	}
	return s.repo.UpdatePushTokens(ctx, id, req.ExpoPushToken, req.FCMToken)
}

// ResetNowServing zeroes every doctor's cursor. It runs at midnight in the
// clinic time zone.
func (s *Service) ResetNowServing(ctx context.Context) error {
	start := time.Now()
	n, err := s.repo.ResetNowServing(ctx)
	if err != nil {
		return err
	}
	s.logger.Info().Int64("doctors", n).Dur("took", time.Since(start)).Msg("now-serving cursors reset")
	return nil
}
