// Package bus decouples chat channels from the gateway with buffered queues.
package bus

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/stellarlinkco/factubot/internal/logging"
)

// OutboundHandler delivers one outbound message on its channel.
type OutboundHandler func(OutboundMessage)

type MessageBus struct {
	Inbound  chan InboundMessage
	Outbound chan OutboundMessage

	mu          sync.RWMutex
	subscribers map[string]OutboundHandler
	logger      *zap.Logger
}

func NewMessageBus(bufSize int) *MessageBus {
	if bufSize < 0 {
		bufSize = 0
	}
	return &MessageBus{
		Inbound:     make(chan InboundMessage, bufSize),
		Outbound:    make(chan OutboundMessage, bufSize),
		subscribers: make(map[string]OutboundHandler),
		logger:      zap.NewNop(),
	}
}

func (b *MessageBus) SetLogger(l *zap.Logger) {
	b.mu.Lock()
	b.logger = logging.OrNop(l).Named("bus")
	b.mu.Unlock()
}

// SubscribeOutbound registers the handler for messages addressed to channel.
// A later subscription replaces the earlier one.
func (b *MessageBus) SubscribeOutbound(channel string, fn OutboundHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[channel] = fn
}

// Publish queues msg for delivery, giving up when ctx ends.
func (b *MessageBus) Publish(ctx context.Context, msg OutboundMessage) error {
	select {
	case b.Outbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DispatchOutbound hands outbound messages to their channel handler until
// ctx is done.
func (b *MessageBus) DispatchOutbound(ctx context.Context) {
	for {
		select {
		case msg := <-b.Outbound:
			b.mu.RLock()
			fn, ok := b.subscribers[msg.Channel]
			logger := b.logger
			b.mu.RUnlock()
			if !ok {
				logger.Warn("no subscriber for outbound message", zap.String("channel", msg.Channel))
				continue
			}
			fn(msg)
		case <-ctx.Done():
			return
		}
	}
}
