package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"PleaPipeline/internal/ports"
)

// CronScheduler runs one job on a standard five-field cron expression.
type CronScheduler struct {
	spec     string
	location *time.Location
	logger   *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

var _ ports.Scheduler = (*CronScheduler)(nil)

// NewCronScheduler builds a scheduler evaluating spec in loc.
func NewCronScheduler(spec string, loc *time.Location, logger *slog.Logger) *CronScheduler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CronScheduler{spec: spec, location: loc, logger: logger}
}

// Start registers job and begins firing. The job receives the firing time in
// the scheduler's location. Starting twice is a no-op.
func (c *CronScheduler) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron != nil {
		return nil
	}

	runner := cron.New(cron.WithLocation(c.location))
	id, err := runner.AddFunc(c.spec, func() {
		job(time.Now().In(c.location))
	})
	if err != nil {
		return fmt.Errorf("parse cron expression %q: %w", c.spec, err)
	}
	runner.Start()
	c.cron = runner

	c.logger.Info("scheduler started", "spec", c.spec, "location", c.location.String(), "next", runner.Entry(id).Next)

	go func() {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = c.Stop(stopCtx)
	}()
	return nil
}

// Stop halts firing and waits for a running job until ctx expires.
func (c *CronScheduler) Stop(ctx context.Context) error {
	c.mu.Lock()
	runner := c.cron
	c.cron = nil
	c.mu.Unlock()
	if runner == nil {
		return nil
	}

	select {
	case <-runner.Stop().Done():
		c.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("scheduler stop timed out"), ctx.Err())
	}
}
