package usecase

import (
	"context"
	"log/slog"
	"time"

	"PleaPipeline/internal/domain"
	"PleaPipeline/internal/ports"
)

// DefaultDaysAhead is how far ahead of the tick daily content is produced.
const DefaultDaysAhead = 2

// Scheduler turns clock ticks from the driver into scheduled-tick events.
type Scheduler struct {
	driver    ports.Scheduler
	publisher ports.EventPublisher
	logger    *slog.Logger
}

// NewScheduler returns a helper to start/stop the daily tick.
func NewScheduler(driver ports.Scheduler, publisher ports.EventPublisher, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{driver: driver, publisher: publisher, logger: logger}
}

// Start registers the tick job with the driver.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.publisher == nil {
		return nil
	}

	job := func(trigger time.Time) {
		event := domain.ScheduledTick(trigger)
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.Error("publish scheduled tick", "tick", trigger, "error", err)
		}
	}

	return s.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}

// TargetDate is the calendar day daysAhead days after now, in now's location.
func TargetDate(now time.Time, daysAhead int) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d+daysAhead, 0, 0, 0, 0, now.Location())
}
