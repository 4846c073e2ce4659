package domain

import "time"

// Thread is a private conversation between participants.
type Thread struct {
	ID             string
	ParticipantIDs []string
}

// OtherParticipant returns the first participant that is not the sender.
func (t Thread) OtherParticipant(senderID string) (string, bool) {
	for _, id := range t.ParticipantIDs {
		if id != "" && id != senderID {
			return id, true
		}
	}
	return "", false
}

// Message is a single entry in a thread. Messages are not moderated.
type Message struct {
	ID        string
	ThreadID  string
	SenderID  string
	Text      string
	CreatedAt time.Time
}
