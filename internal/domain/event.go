package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a change event emitted by the content store or the clock.
type EventType string

const (
	EventContentCreated EventType = "content.created"
	EventStatusChanged  EventType = "content.status_changed"
	EventMessageCreated EventType = "message.created"
	EventScheduledTick  EventType = "schedule.tick"
)

// Event is delivered at least once and possibly concurrently with others.
type Event struct {
	ID         string     `json:"id"`
	Type       EventType  `json:"type"`
	OccurredAt time.Time  `json:"occurredAt"`
	Content    ContentRef `json:"content"`
	// Status at creation for content.created; new status for status_changed.
	Status    Status    `json:"status,omitempty"`
	Previous  Status    `json:"previous,omitempty"`
	ThreadID  string    `json:"threadId,omitempty"`
	MessageID string    `json:"messageId,omitempty"`
	Tick      time.Time `json:"tick,omitempty"`
}

func newEvent(t EventType) Event {
	return Event{ID: uuid.NewString(), Type: t, OccurredAt: time.Now().UTC()}
}

// ContentCreated builds the creation event with the status written by the client.
func ContentCreated(ref ContentRef, status Status) Event {
	e := newEvent(EventContentCreated)
	e.Content = ref
	e.Status = status
	return e
}

// StatusChanged builds a transition event.
func StatusChanged(ref ContentRef, previous, current Status) Event {
	e := newEvent(EventStatusChanged)
	e.Content = ref
	e.Previous = previous
	e.Status = current
	return e
}

// MessageCreated builds the event for a new thread message.
func MessageCreated(threadID, messageID string) Event {
	e := newEvent(EventMessageCreated)
	e.ThreadID = threadID
	e.MessageID = messageID
	return e
}

// ScheduledTick builds the daily clock event.
func ScheduledTick(at time.Time) Event {
	e := newEvent(EventScheduledTick)
	e.Tick = at
	return e
}
