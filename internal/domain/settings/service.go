package settings

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/muslih-a/appklinik/internal/platform/apperr"
	"github.com/muslih-a/appklinik/internal/platform/clock"
)

type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger.With().Str("component", "settings").Logger()}
}

// Get is the collaborator the reminder sweeps read on every tick.
func (s *Service) Get(ctx context.Context) (*Settings, error) {
	return s.repo.Get(ctx)
}

func (s *Service) Update(ctx context.Context, req UpdateRequest) (*Settings, error) {
	current, err := s.repo.Get(ctx)
	if err != nil {
		return nil, err
	}
	req.apply(current)

	for _, hhmm := range []string{current.H1ReminderTime, current.DayHReminderTime} {
		if _, _, err := clock.ParseHHMM(hhmm); err != nil {
			return nil, apperr.Validation("%v", err)
		}
	}
	if current.RealtimeReminderThreshold <= 0 {
		return nil, apperr.Validation("realtimeReminderThreshold must be positive")
	}

	if err := s.repo.Save(ctx, current); err != nil {
		return nil, err
	}
	s.logger.Info().
		Bool("active", current.IsScheduledReminderActive).
		Str("h1", current.H1ReminderTime).
		Str("day_h", current.DayHReminderTime).
		Int("threshold", current.RealtimeReminderThreshold).
		Msg("reminder settings updated")
	return current, nil
}
