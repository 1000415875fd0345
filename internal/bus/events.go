package bus

import "time"

// InboundMessage is a text message received on a chat channel.
type InboundMessage struct {
	Channel   string
	SenderID  string
	ChatID    string
	MessageID string // platform id, empty when the channel has none
	Content   string
	Timestamp time.Time
	Metadata  map[string]any
}

// SessionKey identifies the conversation a message belongs to.
func (m *InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

// OutboundMessage is a reply or notification to deliver on a channel.
type OutboundMessage struct {
	Channel  string
	ChatID   string
	Content  string
	ReplyTo  string // MessageID of the inbound message being answered
	Metadata map[string]any
}
