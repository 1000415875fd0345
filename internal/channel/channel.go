// Package channel connects chat platforms to the message bus.
package channel

import (
	"context"

	"go.uber.org/zap"

	"github.com/stellarlinkco/factubot/internal/bus"
	"github.com/stellarlinkco/factubot/internal/logging"
)

type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Send(msg bus.OutboundMessage) error
}

// BaseChannel holds what every channel shares: its name, the bus and the
// sender allow-list.
type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowFrom map[string]bool
	logger    *zap.Logger
}

func NewBaseChannel(name string, b *bus.MessageBus, allowFrom []string) BaseChannel {
	allowed := make(map[string]bool, len(allowFrom))
	for _, id := range allowFrom {
		allowed[id] = true
	}
	return BaseChannel{name: name, bus: b, allowFrom: allowed, logger: zap.NewNop()}
}

func (c *BaseChannel) Name() string { return c.name }

// IsAllowed reports whether senderID may talk to the bot. An empty
// allow-list admits everyone.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowFrom) == 0 {
		return true
	}
	return c.allowFrom[senderID]
}

func (c *BaseChannel) SetLogger(l *zap.Logger) {
	c.logger = logging.OrNop(l).Named(c.name)
}
