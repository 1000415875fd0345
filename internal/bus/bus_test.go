package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestInboundMessage_SessionKey(t *testing.T) {
	m := InboundMessage{Channel: "telegram", ChatID: "42"}
	assert.Equal(t, "telegram:42", m.SessionKey())
}

func TestMessageBus_DispatchOutbound(t *testing.T) {
	b := NewMessageBus(4)
	got := make(chan OutboundMessage, 1)
	b.SubscribeOutbound("telegram", func(msg OutboundMessage) { got <- msg })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.DispatchOutbound(ctx)
		close(done)
	}()

	require.NoError(t, b.Publish(ctx, OutboundMessage{Channel: "nowhere", ChatID: "1", Content: "perdu"}))
	require.NoError(t, b.Publish(ctx, OutboundMessage{Channel: "telegram", ChatID: "42", Content: "bonjour"}))

	select {
	case msg := <-got:
		assert.Equal(t, "42", msg.ChatID)
		assert.Equal(t, "bonjour", msg.Content)
	case <-time.After(time.Second):
		t.Fatal("outbound message not dispatched")
	}

	cancel()
	<-done
}

func TestMessageBus_PublishHonoursContext(t *testing.T) {
	b := NewMessageBus(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, b.Publish(ctx, OutboundMessage{Channel: "telegram"}), context.Canceled)
}
