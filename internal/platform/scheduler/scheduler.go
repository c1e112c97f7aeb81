// Package scheduler runs the periodic jobs (reminder sweeps, the daily
// now-serving reset) on a cron loop. When several replicas run, a shared
// lock keyed by job and minute makes exactly one of them execute each tick.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is one periodic task. Run receives a context that is cancelled when
// the scheduler stops.
type Job struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

type Scheduler struct {
	cron    *cron.Cron
	locker  Locker
	loc     *time.Location
	logger  zerolog.Logger
	now     func() time.Time
	mu      sync.Mutex
	jobs    map[string]Job
	ctx     context.Context
	cancel  context.CancelFunc
	running sync.WaitGroup
}

func New(loc *time.Location, locker Locker, logger zerolog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if locker == nil {
		locker = NewLocalLocker()
	}
	logger = logger.With().Str("component", "scheduler").Logger()
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(cronLogger{logger})),
		),
		locker: locker,
		loc:    loc,
		logger: logger,
		now:    time.Now,
		jobs:   make(map[string]Job),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers job on its cron spec.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("job needs a name and a run function")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[job.Name]; dup {
		return fmt.Errorf("job %q already registered", job.Name)
	}

	if _, err := s.cron.AddFunc(job.Spec, func() { s.tick(job) }); err != nil {
		return fmt.Errorf("schedule %s (%q): %w", job.Name, job.Spec, err)
	}
	s.jobs[job.Name] = job
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Int("jobs", len(s.jobs)).Str("timezone", s.loc.String()).Msg("scheduler started")
}

// Stop halts the cron loop, cancels running jobs and waits for them.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.cancel()
	s.running.Wait()
	s.logger.Info().Msg("scheduler stopped")
}

func lockKey(name string, at time.Time) string {
	return fmt.Sprintf("klinik:job:%s:%d", name, at.Unix()/60)
}

// tick runs job if this instance wins the lock for the current minute.
func (s *Scheduler) tick(job Job) {
	at := s.now()
	ok, err := s.locker.Acquire(s.ctx, lockKey(job.Name, at), 2*time.Minute)
	if err != nil {
		s.logger.Error().Err(err).Str("job", job.Name).Msg("acquire job lock")
		return
	}
	if !ok {
		s.logger.Debug().Str("job", job.Name).Msg("tick taken by another instance")
		return
	}
	s.execute(s.ctx, job)
}

// RunNow executes a registered job immediately without taking the lock.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	return s.execute(ctx, job)
}

func (s *Scheduler) execute(ctx context.Context, job Job) error {
	s.running.Add(1)
	defer s.running.Done()

	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := job.Run(ctx)
	evt := s.logger.Debug()
	if err != nil {
		evt = s.logger.Error().Err(err)
	}
	evt.Str("job", job.Name).Dur("took", time.Since(start)).Msg("job finished")
	return err
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
