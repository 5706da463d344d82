package bus

import "time"

// InboundMessage is a transport event normalized for the router.
type InboundMessage struct {
	Channel      string
	MessageID    string
	SenderID     string
	SenderName   string
	SenderNumber string
	ChatID       string
	Content      string
	MessageType  string
	Timestamp    time.Time
	FromMe       bool
	IsStatus     bool
	IsGroup      bool
	Metadata     map[string]any
}

// ContactKey identifies the sender across chats on one channel.
func (m *InboundMessage) ContactKey() string {
	return m.Channel + ":" + m.SenderID
}

type OutboundMessage struct {
	Channel  string
	ChatID   string
	Content  string
	ReplyTo  string
	Metadata map[string]any
}
