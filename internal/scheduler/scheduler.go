package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// TickFunc is invoked at every scheduled fire time.
type TickFunc func(ctx context.Context, fireAt time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	// Cron is a standard five-field expression, e.g. "30 21 * * 1-5".
	Cron         string
	Location     *time.Location
	StartupDelay time.Duration
	RunOnStart   bool
}

// Scheduler fires a tick function on a cron schedule. Ticks never overlap: a
// tick that overruns the next fire time delays it.
type Scheduler struct {
	opts     Options
	schedule cron.Schedule
	now      func() time.Time
	logger   zerolog.Logger
}

// New parses the cron expression and constructs a Scheduler.
func New(opts Options, logger zerolog.Logger) (*Scheduler, error) {
	schedule, err := Parse(opts.Cron)
	if err != nil {
		return nil, err
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Scheduler{
		opts:     opts,
		schedule: schedule,
		now:      time.Now,
		logger:   logger.With().Str("component", "scheduler").Logger(),
	}, nil
}

// Parse validates a standard cron expression.
func Parse(expr string) (cron.Schedule, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", expr, err)
	}
	return schedule, nil
}

// Next returns the first fire time strictly after t, evaluated in the
// configured location.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t.In(s.opts.Location))
}

// Run blocks, invoking tick at each fire time until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if s.opts.RunOnStart {
		s.fire(ctx, tick, s.now().In(s.opts.Location))
	}

	for {
		next := s.Next(s.now())
		delay := time.Until(next)
		if delay < 0 {
			delay = 0
		}

		timer := time.NewTimer(delay)
		s.logger.Info().Time("next_run", next).Msg("waiting for next scheduled run")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		s.fire(ctx, tick, next)
	}
}

func (s *Scheduler) fire(ctx context.Context, tick TickFunc, at time.Time) {
	s.logger.Info().Time("fire_at", at).Msg("executing scheduled run")
	if err := tick(ctx, at); err != nil {
		s.logger.Error().Err(err).Time("fire_at", at).Msg("scheduled run failed")
	}
}
