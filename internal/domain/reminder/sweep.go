package reminder

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/muslih-a/appklinik/internal/domain/queue"
	"github.com/muslih-a/appklinik/internal/domain/settings"
	"github.com/muslih-a/appklinik/internal/domain/user"
	"github.com/muslih-a/appklinik/internal/platform/clock"
	"github.com/muslih-a/appklinik/internal/platform/metrics"
	"github.com/muslih-a/appklinik/internal/platform/notification"
)

// Sweep names, used for metrics and job registration.
const (
	SweepRealtime = "realtime-reminder"
	SweepDaily    = "daily-reminder"
)

const (
	LabelToday    = "Hari Ini"
	LabelTomorrow = "Besok"
)

// Item outcomes.
const (
	outcomeSent    = "sent"
	outcomeSkipped = "skipped"
	outcomeNotDue  = "not_due"
	outcomeTaken   = "taken"
	outcomeFailed  = "failed"
)

type SettingsSource interface {
	Get(ctx context.Context) (*settings.Settings, error)
}

// Notifier sends one push and reports the result.
type Notifier interface {
	Notify(ctx context.Context, msg notification.Message) error
}

type Deps struct {
	Store       Store
	Settings    SettingsSource
	Notifier    Notifier
	Clock       clock.Clock
	Location    *time.Location
	Concurrency int
	Metrics     *metrics.Metrics
	Logger      zerolog.Logger
}

type Sweeper struct {
	store       Store
	settings    SettingsSource
	notifier    Notifier
	clock       clock.Clock
	loc         *time.Location
	concurrency int
	metrics     *metrics.Metrics
	logger      zerolog.Logger
}

func NewSweeper(d Deps) *Sweeper {
	s := &Sweeper{
		store:       d.Store,
		settings:    d.Settings,
		notifier:    d.Notifier,
		clock:       d.Clock,
		loc:         d.Location,
		concurrency: d.Concurrency,
		metrics:     d.Metrics,
		logger:      d.Logger.With().Str("component", "reminder").Logger(),
	}
	if s.clock == nil {
		s.clock = clock.System()
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.concurrency <= 0 {
		s.concurrency = 4
	}
	return s
}

// Result counts what one sweep did.
type Result struct {
	Disabled   bool `json:"disabled,omitempty"`
	Candidates int  `json:"candidates"`
	Sent       int  `json:"sent"`
	Skipped    int  `json:"skipped"`
	NotDue     int  `json:"notDue"`
	Taken      int  `json:"taken"`
	Failed     int  `json:"failed"`
}

func (r *Result) add(outcome string) {
	switch outcome {
	case outcomeSent:
		r.Sent++
	case outcomeSkipped:
		r.Skipped++
	case outcomeNotDue:
		r.NotDue++
	case outcomeTaken:
		r.Taken++
	case outcomeFailed:
		r.Failed++
	}
}

func (r *Result) merge(o Result) {
	r.Candidates += o.Candidates
	r.Sent += o.Sent
	r.Skipped += o.Skipped
	r.NotDue += o.NotDue
	r.Taken += o.Taken
	r.Failed += o.Failed
}

// fanOut runs fn for every index with bounded parallelism and tallies the
// outcomes. fn never returns an error; failures are outcomes.
func (s *Sweeper) fanOut(ctx context.Context, sweep string, n int, fn func(ctx context.Context, i int) string) Result {
	res := Result{Candidates: n}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			outcome := fn(gctx, i)
			s.metrics.SweepItem(sweep, outcome)
			mu.Lock()
			res.add(outcome)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return res
}

// ---------------------------------------------------------------------------
// Realtime sweep
// ---------------------------------------------------------------------------

// Realtime pushes "get ready" to WAITING patients whose estimated start is
// within the configured threshold. Each appointment gets it at most once.
func (s *Sweeper) Realtime(ctx context.Context) (Result, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveSweep(SweepRealtime, time.Since(start)) }()

	st, err := s.settings.Get(ctx)
	if err != nil {
		return Result{}, err
	}
	if !st.IsScheduledReminderActive {
		return Result{Disabled: true}, nil
	}

	now := s.clock.Now()
	candidates, err := s.store.RealtimeCandidates(ctx, clock.Day(now, s.loc))
	if err != nil {
		return Result{}, err
	}
	threshold := time.Duration(st.RealtimeReminderThreshold) * time.Minute

	res := s.fanOut(ctx, SweepRealtime, len(candidates), func(ctx context.Context, i int) string {
		return s.realtimeItem(ctx, candidates[i], now, threshold)
	})
	s.logResult(SweepRealtime, res)
	return res, nil
}

func (s *Sweeper) realtimeItem(ctx context.Context, c RealtimeCandidate, now time.Time, threshold time.Duration) string {
	log := s.logger.With().Str("appointment_id", c.AppointmentID.String()).Logger()
	switch {
	case !c.ClinicFound:
		log.Warn().Msg("clinic missing, realtime reminder skipped")
		return outcomeSkipped
	case !c.DoctorFound:
		log.Warn().Msg("doctor missing, realtime reminder skipped")
		return outcomeSkipped
	case !c.PatientFound:
		log.Warn().Msg("patient missing, realtime reminder skipped")
		return outcomeSkipped
	case !notification.ValidExpoToken(c.PushToken):
		log.Warn().Str("patient_id", c.PatientID.String()).Msg("patient has no push token, realtime reminder skipped")
		return outcomeSkipped
	}

	doctor := user.User{NowServingDoctor: c.NowServing, NowServingUpdatedAt: c.NowServingUpdatedAt}
	est := queue.EstimateStart(c.QueueNumber, doctor.NowServing(now, s.loc),
		c.AverageConsultationTime, c.OpeningTime, now, s.loc)
	if est == nil {
		return outcomeNotDue
	}
	if until := est.Sub(now); until <= 0 || until > threshold {
		return outcomeNotDue
	}

	claimed, err := s.store.ClaimRealtime(ctx, c.AppointmentID)
	if err != nil {
		log.Error().Err(err).Msg("claim realtime reminder")
		return outcomeFailed
	}
	if !claimed {
		return outcomeTaken
	}

	err = s.notifier.Notify(ctx, notification.Message{
		Kind:  notification.KindRealtimeReminder,
		Token: c.PushToken,
		Vars:  map[string]string{"time": clock.HHMM(*est, s.loc)},
		Data: map[string]interface{}{
			"type":          "realtime-reminder",
			"appointmentId": c.AppointmentID.String(),
		},
		Ref: c.AppointmentID.String(),
	})
	if err != nil {
		if rerr := s.store.ReleaseRealtime(context.WithoutCancel(ctx), c.AppointmentID); rerr != nil {
			log.Error().Err(rerr).Msg("release realtime reminder")
		}
		return outcomeFailed
	}
	return outcomeSent
}

// ---------------------------------------------------------------------------
// Daily sweep
// ---------------------------------------------------------------------------

// Daily sends today's reminders at dayHReminderTime and tomorrow's at
// h1ReminderTime, comparing HH:MM in the clinic time zone. At any other
// minute it does nothing.
func (s *Sweeper) Daily(ctx context.Context) (Result, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveSweep(SweepDaily, time.Since(start)) }()

	st, err := s.settings.Get(ctx)
	if err != nil {
		return Result{}, err
	}
	if !st.IsScheduledReminderActive {
		return Result{Disabled: true}, nil
	}

	now := s.clock.Now()
	hhmm := clock.HHMM(now, s.loc)
	today := clock.Day(now, s.loc)

	var res Result
	if hhmm == st.DayHReminderTime {
		r, err := s.RemindDay(ctx, today, false)
		if err != nil {
			return res, err
		}
		res.merge(r)
	}
	if hhmm == st.H1ReminderTime {
		r, err := s.RemindDay(ctx, today.AddDate(0, 0, 1), true)
		if err != nil {
			return res, err
		}
		res.merge(r)
	}
	return res, nil
}

// RemindDay sends the daily reminders for day regardless of the clock.
// reminder_log keeps a second run from sending anything twice.
func (s *Sweeper) RemindDay(ctx context.Context, day time.Time, tomorrow bool) (Result, error) {
	label := LabelToday
	if tomorrow {
		label = LabelTomorrow
	}
	candidates, err := s.store.DailyCandidates(ctx, day)
	if err != nil {
		return Result{}, err
	}
	res := s.fanOut(ctx, SweepDaily, len(candidates), func(ctx context.Context, i int) string {
		return s.dailyItem(ctx, candidates[i], day, label)
	})
	s.logger.Info().
		Str("day", day.Format("2006-01-02")).
		Str("label", label).
		Int("candidates", res.Candidates).
		Int("sent", res.Sent).
		Int("failed", res.Failed).
		Msg("daily reminders processed")
	return res, nil
}

func (s *Sweeper) dailyItem(ctx context.Context, c DailyCandidate, day time.Time, label string) string {
	log := s.logger.With().Str("kind", c.Kind).Str("ref", c.RefID.String()).Logger()
	if !c.PatientFound {
		log.Warn().Msg("patient missing, daily reminder skipped")
		return outcomeSkipped
	}
	if !notification.ValidExpoToken(c.PushToken) {
		log.Debug().Str("patient_id", c.PatientID.String()).Msg("patient has no push token, daily reminder skipped")
		return outcomeSkipped
	}

	claimed, err := s.store.ClaimDaily(ctx, c.Kind, c.RefID, day)
	if err != nil {
		log.Error().Err(err).Msg("claim daily reminder")
		return outcomeFailed
	}
	if !claimed {
		return outcomeTaken
	}

	msg := notification.Message{
		Token: c.PushToken,
		Ref:   c.RefID.String(),
		Data:  map[string]interface{}{"type": c.Kind + "-reminder", "id": c.RefID.String()},
	}
	switch c.Kind {
	case KindVaccination:
		msg.Kind = notification.KindVaccinationReminder
		msg.Vars = map[string]string{"day_label": label, "vaccine_name": c.VaccineName}
	default:
		msg.Kind = notification.KindAppointmentReminder
		msg.Vars = map[string]string{"day_label": label, "time": clock.HHMM(c.At, s.loc)}
	}
	if err := s.notifier.Notify(ctx, msg); err != nil {
		return outcomeFailed
	}
	return outcomeSent
}

func (s *Sweeper) logResult(sweep string, res Result) {
	if res.Candidates == 0 {
		return
	}
	s.logger.Info().
		Str("sweep", sweep).
		Int("candidates", res.Candidates).
		Int("sent", res.Sent).
		Int("skipped", res.Skipped).
		Int("failed", res.Failed).
		Msg("sweep finished")
}
