// Package scheduler wraps robfig/cron for recurring background runs.
package scheduler

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler runs named jobs on cron schedules. Specs use six fields with a
// leading seconds column.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

// New creates a scheduler
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// Schedule registers a named job. The job function is responsible for
// skipping itself when a previous run is still active.
func (s *Scheduler) Schedule(spec, name string, fn func()) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.log.Info().Str("job", name).Msg("Scheduled job triggered")
		fn()
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s with spec %q: %w", name, spec, err)
	}

	s.log.Info().Str("job", name).Str("spec", spec).Msg("Scheduled job registered")
	return nil
}

// Start begins running scheduled jobs in their own goroutines.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}
