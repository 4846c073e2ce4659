package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"PleaPipeline/internal/domain"
	"PleaPipeline/internal/ports"
)

// changeNotification is the payload written by the schema's NOTIFY triggers.
type changeNotification struct {
	Type      string `json:"type"`
	Kind      string `json:"kind"`
	ID        string `json:"id"`
	ParentID  string `json:"parent_id"`
	Status    string `json:"status"`
	Previous  string `json:"previous"`
	ThreadID  string `json:"thread_id"`
	MessageID string `json:"message_id"`
}

// DecodeNotification converts a NOTIFY payload into a domain event.
func DecodeNotification(payload string) (domain.Event, error) {
	var n changeNotification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return domain.Event{}, fmt.Errorf("decode notification: %w", err)
	}

	switch domain.EventType(n.Type) {
	case domain.EventContentCreated, domain.EventStatusChanged:
		ref := domain.ContentRef{Kind: domain.ContentKind(n.Kind), ID: n.ID, ParentID: n.ParentID}
		if err := ref.Validate(); err != nil {
			return domain.Event{}, fmt.Errorf("notification %s: %w", n.Type, err)
		}
		if domain.EventType(n.Type) == domain.EventContentCreated {
			return domain.ContentCreated(ref, domain.Status(n.Status)), nil
		}
		return domain.StatusChanged(ref, domain.Status(n.Previous), domain.Status(n.Status)), nil
	case domain.EventMessageCreated:
		if n.ThreadID == "" || n.MessageID == "" {
			return domain.Event{}, fmt.Errorf("notification %s without thread or message id", n.Type)
		}
		return domain.MessageCreated(n.ThreadID, n.MessageID), nil
	default:
		return domain.Event{}, fmt.Errorf("unknown notification type %q", n.Type)
	}
}

// Listener forwards Postgres change notifications to a publisher.
type Listener struct {
	dsn       string
	channel   string
	publisher ports.EventPublisher
	logger    *slog.Logger
}

// NewListener builds a listener on channel.
func NewListener(dsn, channel string, publisher ports.EventPublisher, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{dsn: dsn, channel: channel, publisher: publisher, logger: logger}
}

// Run listens until ctx is cancelled. Notifications sent while the connection
// is down are lost; pq reports the reconnect with a nil notification.
func (l *Listener) Run(ctx context.Context) error {
	report := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			l.logger.Warn("listener connection event", "event", ev, "error", err)
		}
	}
	listener := pq.NewListener(l.dsn, time.Second, time.Minute, report)
	defer listener.Close()

	if err := listener.Listen(l.channel); err != nil {
		return fmt.Errorf("listen %s: %w", l.channel, err)
	}
	l.logger.Info("listening for changes", "channel", l.channel)

	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-listener.Notify:
			if n == nil {
				l.logger.Warn("listener reconnected, changes may have been missed", "channel", l.channel)
				continue
			}
			l.forward(ctx, n.Extra)
		case <-ping.C:
			go func() {
				if err := listener.Ping(); err != nil {
					l.logger.Warn("listener ping", "error", err)
				}
			}()
		}
	}
}

func (l *Listener) forward(ctx context.Context, payload string) {
	event, err := DecodeNotification(payload)
	if err != nil {
		l.logger.Error("drop notification", "payload", payload, "error", err)
		return
	}
	if err := l.publisher.Publish(ctx, event); err != nil {
		l.logger.Error("publish notification", "type", event.Type, "error", err)
	}
}
