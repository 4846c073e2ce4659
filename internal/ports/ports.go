package ports

import (
	"context"
	"time"

	"PleaPipeline/internal/domain"
)

// ContentRepository reads and settles moderated content documents.
type ContentRepository interface {
	Get(ctx context.Context, ref domain.ContentRef) (domain.ContentItem, error)
	// Settle moves a pending item to a terminal status. It reports false when
	// the item had already settled, in which case nothing is written.
	Settle(ctx context.Context, ref domain.ContentRef, s domain.Settlement) (bool, error)
	// MarkEncouragementCounted flags an approved encouragement as counted and
	// increments its plea's unreadEncouragementCount in the same write. It
	// reports false when the encouragement was already counted.
	MarkEncouragementCounted(ctx context.Context, ref domain.ContentRef) (bool, error)
}

// UserRepository stores push tokens and notification preferences.
type UserRepository interface {
	Get(ctx context.Context, userID string) (domain.UserProfile, error)
	// ListPleaAudience returns users opted into plea notifications that have a
	// token, excluding excludeUserID.
	ListPleaAudience(ctx context.Context, excludeUserID string) ([]domain.UserProfile, error)
	RegisterPushToken(ctx context.Context, userID, token string) error
	UpdatePreferences(ctx context.Context, userID string, prefs domain.NotificationPreferences) error
}

// ThreadRepository reads private threads and their messages.
type ThreadRepository interface {
	Get(ctx context.Context, threadID string) (domain.Thread, error)
	GetMessage(ctx context.Context, threadID, messageID string) (domain.Message, error)
}

// DailyContentRepository keeps one devotional record per date.
type DailyContentRepository interface {
	// Recent returns up to limit records ordered by date descending.
	Recent(ctx context.Context, limit int) ([]domain.DailyContent, error)
	Get(ctx context.Context, date string) (domain.DailyContent, error)
	Upsert(ctx context.Context, content domain.DailyContent) error
}

// ConfigRepository holds small externally editable text documents.
type ConfigRepository interface {
	GetText(ctx context.Context, key string) (string, error)
	PutText(ctx context.Context, key, value string) error
}

// ModerationClassifier is the general-purpose first moderation stage.
type ModerationClassifier interface {
	Flagged(ctx context.Context, text string) (bool, error)
}

// ChatClient sends single prompts to a chat-completion model.
type ChatClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
	// CompleteJSON asks the model for a JSON object and returns it raw.
	CompleteJSON(ctx context.Context, prompt string) (string, error)
}

// ScriptureSource returns chapter text for a "<Book> <chapter>" query.
type ScriptureSource interface {
	Chapter(ctx context.Context, query string) (string, error)
}

// PushSender submits one batch of push messages.
type PushSender interface {
	Send(ctx context.Context, messages []domain.PushMessage) ([]domain.PushTicket, error)
}

// EventHandler processes one delivery of an event. A returned error asks for redelivery.
type EventHandler func(ctx context.Context, event domain.Event) error

// EventPublisher accepts change events.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// EventSubscriber registers handlers per event type.
type EventSubscriber interface {
	Subscribe(eventType domain.EventType, handler EventHandler)
}

// Scheduler controls when recurring jobs execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
