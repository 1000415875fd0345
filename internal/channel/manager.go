package channel

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/stellarlinkco/factubot/internal/bus"
	"github.com/stellarlinkco/factubot/internal/config"
	"github.com/stellarlinkco/factubot/internal/logging"
)

type ChannelManager struct {
	channels map[string]Channel
	bus      *bus.MessageBus
	logger   *zap.Logger
}

func NewChannelManager(cfg config.ChannelsConfig, b *bus.MessageBus, logger *zap.Logger) (*ChannelManager, error) {
	m := &ChannelManager{
		channels: make(map[string]Channel),
		bus:      b,
		logger:   logging.OrNop(logger).Named("channels"),
	}

	if cfg.Telegram.Enabled {
		ch, err := NewTelegramChannel(cfg.Telegram, b)
		if err != nil {
			return nil, fmt.Errorf("init telegram channel: %w", err)
		}
		ch.SetLogger(logger)
		m.Register(ch)
	}
	return m, nil
}

// Register adds ch and routes outbound messages for it.
func (m *ChannelManager) Register(ch Channel) {
	m.channels[ch.Name()] = ch
	m.bus.SubscribeOutbound(ch.Name(), func(msg bus.OutboundMessage) {
		if err := ch.Send(msg); err != nil {
			m.logger.Error("send failed", zap.String("channel", ch.Name()), zap.Error(err))
		}
	})
}

func (m *ChannelManager) StartAll(ctx context.Context) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(m.channels))

	for name, ch := range m.channels {
		wg.Add(1)
		go func(name string, ch Channel) {
			defer wg.Done()
			m.logger.Info("starting", zap.String("channel", name))
			if err := ch.Start(ctx); err != nil {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}(name, ch)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		return err
	}
	return nil
}

// StopAll stops every channel; failures are logged.
func (m *ChannelManager) StopAll() error {
	for name, ch := range m.channels {
		m.logger.Info("stopping", zap.String("channel", name))
		if err := ch.Stop(); err != nil {
			m.logger.Error("stop failed", zap.String("channel", name), zap.Error(err))
		}
	}
	return nil
}

func (m *ChannelManager) EnabledChannels() []string {
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
