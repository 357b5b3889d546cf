package domain

import "time"

// MessageKind tags a Message as session-wide or addressed to one player.
type MessageKind string

const (
	MessageBroadcast MessageKind = "broadcast"
	MessageDirect    MessageKind = "direct"
)

// Message is an at-most-once notification shown to clients.
type Message struct {
	Kind   MessageKind `json:"kind"`
	Text   string      `json:"text"`
	SentAt time.Time   `json:"sentAt"`
}

// MessageCursor remembers the newest message a consumer has already shown.
// The zero value accepts any message.
type MessageCursor struct {
	lastSeen map[MessageKind]time.Time
}

// Accept reports whether msg is new for this consumer and records it if so.
func (c *MessageCursor) Accept(msg *Message) bool {
	if msg == nil || msg.Text == "" {
		return false
	}
	if c.lastSeen == nil {
		c.lastSeen = make(map[MessageKind]time.Time)
	}
	if !msg.SentAt.After(c.lastSeen[msg.Kind]) {
		return false
	}
	c.lastSeen[msg.Kind] = msg.SentAt
	return true
}
