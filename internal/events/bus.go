package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"PleaPipeline/internal/domain"
	"PleaPipeline/internal/metrics"
	"PleaPipeline/internal/ports"
)

// Options tunes the worker pool and redelivery.
type Options struct {
	Workers     int
	QueueSize   int
	MaxAttempts int
	// InitialBackoff is the first redelivery delay; it doubles per attempt.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 1
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 200 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 10 * time.Second
	}
	return o
}

// Bus delivers events to registered handlers on a pool of workers. Delivery is
// at least once: a handler returning an error is invoked again with the same
// event until it succeeds or MaxAttempts is reached.
type Bus struct {
	registry *Registry
	opts     Options
	logger   *slog.Logger
	queue    chan domain.Event
	done     chan struct{}
	once     sync.Once
}

var (
	_ ports.EventPublisher  = (*Bus)(nil)
	_ ports.EventSubscriber = (*Bus)(nil)
)

// NewBus builds a bus; call Run to start the workers.
func NewBus(opts Options, logger *slog.Logger) *Bus {
	opts = opts.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		registry: NewRegistry(),
		opts:     opts,
		logger:   logger,
		queue:    make(chan domain.Event, opts.QueueSize),
		done:     make(chan struct{}),
	}
}

// Subscribe registers handler for eventType.
func (b *Bus) Subscribe(eventType domain.EventType, handler ports.EventHandler) {
	b.registry.Register(eventType, handler)
}

// Publish enqueues event without blocking the caller. When the queue is full
// the event is handed over by a goroutine so handlers may publish too.
func (b *Bus) Publish(_ context.Context, event domain.Event) error {
	select {
	case <-b.done:
		return errors.New("event bus stopped")
	default:
	}

	select {
	case b.queue <- event:
	default:
		b.logger.Warn("event queue full, handing off", "type", event.Type, "event_id", event.ID)
		go func() {
			select {
			case b.queue <- event:
			case <-b.done:
				b.logger.Error("event dropped on shutdown", "type", event.Type, "event_id", event.ID)
			}
		}()
	}
	return nil
}

// Run consumes the queue with the configured number of workers until ctx is
// cancelled. Events still queued at that point are not delivered.
func (b *Bus) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < b.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case event := <-b.queue:
					_ = b.Dispatch(ctx, event)
				}
			}
		}()
	}

	b.logger.Info("event bus started", "workers", b.opts.Workers, "types", len(b.registry.Types()))
	wg.Wait()
	b.once.Do(func() { close(b.done) })
	b.logger.Info("event bus stopped", "pending", len(b.queue))
	return nil
}

// Dispatch runs every handler of event synchronously with redelivery and
// returns the joined errors of handlers that never succeeded.
func (b *Bus) Dispatch(ctx context.Context, event domain.Event) error {
	handlers := b.registry.Resolve(event.Type)
	if len(handlers) == 0 {
		b.logger.Debug("no handlers", "type", event.Type, "event_id", event.ID)
		return nil
	}

	started := time.Now()
	var errs []error
	for _, handler := range handlers {
		if err := b.deliver(ctx, event, handler); err != nil {
			errs = append(errs, err)
		}
	}

	outcome := "ok"
	err := errors.Join(errs...)
	if err != nil {
		outcome = "error"
		b.logger.Error("event handling failed", "type", event.Type, "event_id", event.ID, "error", err)
	}
	metrics.ObserveEvent(string(event.Type), outcome, time.Since(started).Seconds())
	return err
}

func (b *Bus) deliver(ctx context.Context, event domain.Event, handler ports.EventHandler) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = b.opts.InitialBackoff
	policy.MaxInterval = b.opts.MaxBackoff
	policy.MaxElapsedTime = 0
	retries := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(b.opts.MaxAttempts-1)), ctx)

	attempt := 0
	operation := func() (err error) {
		attempt++
		defer func() {
			if r := recover(); r != nil {
				err = backoff.Permanent(fmt.Errorf("handler panic: %v", r))
			}
		}()
		err = handler(ctx, event)
		if err != nil && attempt < b.opts.MaxAttempts {
			b.logger.Warn("redelivering event", "type", event.Type, "event_id", event.ID, "attempt", attempt, "error", err)
		}
		return err
	}

	if err := backoff.Retry(operation, retries); err != nil {
		return fmt.Errorf("%s %s after %d attempts: %w", event.Type, event.ID, attempt, err)
	}
	return nil
}
