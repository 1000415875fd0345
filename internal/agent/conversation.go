package agent

import "github.com/stellarlinkco/factubot/internal/llm"

// Conversation is the message history of one Run. It only grows; every tool
// message answers a call id of an earlier assistant message.
type Conversation struct {
	msgs []llm.Message
}

func newConversation(system, question string) *Conversation {
	return &Conversation{msgs: []llm.Message{llm.System(system), llm.User(question)}}
}

func (c *Conversation) Append(m llm.Message) {
	c.msgs = append(c.msgs, m)
}

// Messages returns a copy safe to hand to a client.
func (c *Conversation) Messages() []llm.Message {
	out := make([]llm.Message, len(c.msgs))
	copy(out, c.msgs)
	return out
}

func (c *Conversation) Len() int { return len(c.msgs) }
