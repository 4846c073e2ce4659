package domain

import (
	"regexp"
	"strings"
)

var pushTokenExpr = regexp.MustCompile(`^Expo(nent)?PushToken\[[^\[\]\s]+\]$`)

// ValidPushToken reports whether token looks like an Expo push token.
func ValidPushToken(token string) bool {
	return pushTokenExpr.MatchString(strings.TrimSpace(token))
}

// NotificationPreferences are per-user opt-in flags; every flag defaults to true.
type NotificationPreferences struct {
	Pleas          bool `json:"pleas"`
	Encouragements bool `json:"encouragements"`
	Messages       bool `json:"messages"`
	General        bool `json:"general"`
	Accountability bool `json:"accountability"`
}

// DefaultPreferences enables every category.
func DefaultPreferences() NotificationPreferences {
	return NotificationPreferences{
		Pleas:          true,
		Encouragements: true,
		Messages:       true,
		General:        true,
		Accountability: true,
	}
}

// PreferencesFromMap reads stored flags, treating missing keys as enabled.
func PreferencesFromMap(m map[string]bool) NotificationPreferences {
	get := func(key string) bool {
		v, ok := m[key]
		return !ok || v
	}
	return NotificationPreferences{
		Pleas:          get("pleas"),
		Encouragements: get("encouragements"),
		Messages:       get("messages"),
		General:        get("general"),
		Accountability: get("accountability"),
	}
}

// Map is the stored form of the preferences.
func (p NotificationPreferences) Map() map[string]bool {
	return map[string]bool{
		"pleas":          p.Pleas,
		"encouragements": p.Encouragements,
		"messages":       p.Messages,
		"general":        p.General,
		"accountability": p.Accountability,
	}
}

// UserProfile holds what the dispatcher needs to reach a user.
type UserProfile struct {
	UserID      string
	PushToken   string
	Preferences NotificationPreferences
}

// Reachable reports whether the profile has a well-formed token.
func (u UserProfile) Reachable() bool {
	return ValidPushToken(u.PushToken)
}

// NotificationType identifies the dispatcher event.
type NotificationType string

const (
	NotifyNewPlea          NotificationType = "new_plea"
	NotifyNewEncouragement NotificationType = "new_encouragement"
	NotifyNewMessage       NotificationType = "new_message"
	NotifyRejection        NotificationType = "rejection"
)

// PushMessage is one entry of a push-delivery batch.
type PushMessage struct {
	To    string            `json:"to"`
	Sound string            `json:"sound"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// PushTicket is the per-message answer of the push service.
type PushTicket struct {
	Status    string
	ID        string
	Message   string
	ErrorCode string
}

// Failed reports whether the service refused the message.
func (t PushTicket) Failed() bool {
	return t.Status != "" && t.Status != "ok"
}

// ChunkResult is the outcome of one delivery call.
type ChunkResult struct {
	Index   int
	Size    int
	Err     error
	Tickets []PushTicket
}

// TicketFailures counts refused messages in the chunk.
func (c ChunkResult) TicketFailures() int {
	n := 0
	for _, t := range c.Tickets {
		if t.Failed() {
			n++
		}
	}
	return n
}

// DeliveryReport enumerates chunk outcomes of a fan-out.
type DeliveryReport struct {
	Type       NotificationType
	Recipients int
	Chunks     []ChunkResult
}

// FailedChunks counts chunks whose delivery call errored.
func (r DeliveryReport) FailedChunks() int {
	n := 0
	for _, c := range r.Chunks {
		if c.Err != nil {
			n++
		}
	}
	return n
}
