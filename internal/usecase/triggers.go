package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"PleaPipeline/internal/domain"
	"PleaPipeline/internal/ports"
)

// Moderator settles pending content.
type Moderator interface {
	Moderate(ctx context.Context, ref domain.ContentRef) (Outcome, error)
}

// Notifier sends the approval-driven notifications.
type Notifier interface {
	NotifyNewPlea(ctx context.Context, plea domain.ContentItem) (domain.DeliveryReport, error)
	NotifyNewEncouragement(ctx context.Context, enc domain.ContentItem) (domain.DeliveryReport, error)
	NotifyNewMessage(ctx context.Context, threadID, messageID string) (domain.DeliveryReport, error)
}

// DailyGenerator produces the devotional for one date.
type DailyGenerator interface {
	Generate(ctx context.Context, date time.Time) (domain.DailyContent, error)
}

// TriggerDeps wires the event handlers.
type TriggerDeps struct {
	Content   ports.ContentRepository
	Gate      Moderator
	Notifier  Notifier
	Generator DailyGenerator
	Location  *time.Location
	DaysAhead int
	Logger    *slog.Logger
}

// Triggers turns change events into use-case calls. Every handler is safe to
// run more than once for the same event.
type Triggers struct {
	content   ports.ContentRepository
	gate      Moderator
	notifier  Notifier
	generator DailyGenerator
	location  *time.Location
	daysAhead int
	logger    *slog.Logger
}

// NewTriggers constructs the handlers.
func NewTriggers(deps TriggerDeps) *Triggers {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	loc := deps.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Triggers{
		content:   deps.Content,
		gate:      deps.Gate,
		notifier:  deps.Notifier,
		generator: deps.Generator,
		location:  loc,
		daysAhead: deps.DaysAhead,
		logger:    logger,
	}
}

// Register subscribes every handler.
func (t *Triggers) Register(sub ports.EventSubscriber) {
	sub.Subscribe(domain.EventContentCreated, t.OnContentCreated)
	sub.Subscribe(domain.EventStatusChanged, t.OnStatusChanged)
	sub.Subscribe(domain.EventMessageCreated, t.OnMessageCreated)
	sub.Subscribe(domain.EventScheduledTick, t.OnScheduledTick)
}

// OnContentCreated moderates pending content and notifies for content
// written already approved.
func (t *Triggers) OnContentCreated(ctx context.Context, e domain.Event) error {
	switch e.Status {
	case "", domain.StatusPending:
		_, err := t.gate.Moderate(ctx, e.Content)
		return err
	case domain.StatusApproved:
		return t.approved(ctx, e.Content)
	default:
		return nil
	}
}

// OnStatusChanged notifies for the transition into approved.
func (t *Triggers) OnStatusChanged(ctx context.Context, e domain.Event) error {
	if e.Status != domain.StatusApproved || e.Previous.Terminal() {
		return nil
	}
	return t.approved(ctx, e.Content)
}

// OnMessageCreated notifies the other thread participant.
func (t *Triggers) OnMessageCreated(ctx context.Context, e domain.Event) error {
	_, err := t.notifier.NotifyNewMessage(ctx, e.ThreadID, e.MessageID)
	return err
}

// OnScheduledTick generates the devotional DaysAhead days after the tick.
func (t *Triggers) OnScheduledTick(ctx context.Context, e domain.Event) error {
	tick := e.Tick
	if tick.IsZero() {
		tick = e.OccurredAt
	}
	target := TargetDate(tick.In(t.location), t.daysAhead)
	_, err := t.generator.Generate(ctx, target)
	return err
}

func (t *Triggers) approved(ctx context.Context, ref domain.ContentRef) error {
	if ref.Kind != domain.KindPlea && ref.Kind != domain.KindEncouragement {
		return nil
	}

	item, err := t.content.Get(ctx, ref)
	if err != nil {
		return fmt.Errorf("load %s: %w", ref, err)
	}
	if item.Status != domain.StatusApproved {
		t.logger.Warn("approval event for unapproved content", "ref", ref.String(), "status", item.Status)
		return nil
	}

	switch ref.Kind {
	case domain.KindPlea:
		_, err = t.notifier.NotifyNewPlea(ctx, item)
	case domain.KindEncouragement:
		_, err = t.notifier.NotifyNewEncouragement(ctx, item)
	}
	return err
}
