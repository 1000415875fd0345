package channel

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/stellarlinkco/factubot/internal/bus"
	"github.com/stellarlinkco/factubot/internal/config"
)

func TestBaseChannel_Name(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch := NewBaseChannel("test", b, nil)
	if ch.Name() != "test" {
		t.Errorf("Name = %q, want test", ch.Name())
	}
}

func TestBaseChannel_IsAllowed(t *testing.T) {
	b := bus.NewMessageBus(10)
	open := NewBaseChannel("test", b, nil)
	if !open.IsAllowed("anyone") {
		t.Error("should allow anyone when allowFrom is empty")
	}

	closed := NewBaseChannel("test", b, []string{"user1", "user2"})
	if !closed.IsAllowed("user1") || !closed.IsAllowed("user2") {
		t.Error("should allow listed users")
	}
	if closed.IsAllowed("user3") {
		t.Error("should reject user3")
	}
}

func TestNewTelegramChannel(t *testing.T) {
	b := bus.NewMessageBus(10)
	if _, err := NewTelegramChannel(config.TelegramConfig{}, b); err == nil {
		t.Error("expected error for empty token")
	}

	ch, err := NewTelegramChannel(config.TelegramConfig{Token: "fake-token", Proxy: "http://proxy.local:8080"}, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ch.Name() != "telegram" {
		t.Errorf("Name = %q, want telegram", ch.Name())
	}
	if ch.proxy != "http://proxy.local:8080" {
		t.Errorf("proxy = %q", ch.proxy)
	}
}

func TestToTelegramHTML(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "hello", "hello"},
		{"bold", "**Total** : 1 200,00 €", "<b>Total</b> : 1 200,00 €"},
		{"code", "`INV-42`", "<code>INV-42</code>"},
		{"entities", "a & b <c>", "a &amp; b &lt;c&gt;"},
		{"code block with language", "```text\nINV-42\n```", "<pre>INV-42\n</pre>"},
		{"code block without language", "```\nINV-42\n```", "<pre>\nINV-42\n</pre>"},
		{"mixed", "**payée** et *en retard*", "<b>payée</b> et <i>en retard</i>"},
		{"unclosed code block", "```code", "<code></code>`code"},
		{"unclosed inline code", "`code", "`code"},
		{"unclosed bold", "**bold", "<i></i>bold"},
		{"unclosed italic", "*italic", "*italic"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := toTelegramHTML(tt.input); got != tt.want {
				t.Errorf("toTelegramHTML(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSplitMessage(t *testing.T) {
	if got := splitMessage("", 10); len(got) != 0 {
		t.Errorf("empty input gave %d chunks", len(got))
	}
	if got := splitMessage("court", 10); len(got) != 1 || got[0] != "court" {
		t.Errorf("short input = %q", got)
	}

	lines := strings.Repeat("ligne\n", 5)
	got := splitMessage(lines, 14)
	for _, c := range got {
		if utf8.RuneCountInString(c) > 14 {
			t.Errorf("chunk too long: %q", c)
		}
		if strings.HasPrefix(c, "\n") {
			t.Errorf("chunk starts with newline: %q", c)
		}
	}
	if strings.Join(got, "\n") != lines {
		t.Errorf("chunks lost content: %q", got)
	}

	accents := strings.Repeat("é", 25)
	got = splitMessage(accents, 10)
	if len(got) != 3 {
		t.Fatalf("chunks = %d, want 3", len(got))
	}
	for _, c := range got {
		if !utf8.ValidString(c) {
			t.Errorf("chunk split a rune: %q", c)
		}
	}
}

type mockTelegramBot struct {
	updatesChan chan tgbotapi.Update
	sentMsgs    []tgbotapi.Chattable
	sendErr     error
	failHTML    bool
	stopped     bool
	self        tgbotapi.User
}

func newMockBot() *mockTelegramBot {
	return &mockTelegramBot{
		updatesChan: make(chan tgbotapi.Update, 10),
		self:        tgbotapi.User{UserName: "factubot"},
	}
}

func (m *mockTelegramBot) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return m.updatesChan
}

func (m *mockTelegramBot) StopReceivingUpdates() {
	m.stopped = true
}

func (m *mockTelegramBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m.sentMsgs = append(m.sentMsgs, c)
	if m.sendErr != nil {
		return tgbotapi.Message{}, m.sendErr
	}
	if msg, ok := c.(tgbotapi.MessageConfig); ok && m.failHTML && msg.ParseMode == tgbotapi.ModeHTML {
		return tgbotapi.Message{}, fmt.Errorf("can't parse entities")
	}
	return tgbotapi.Message{MessageID: 1}, nil
}

func (m *mockTelegramBot) GetSelf() tgbotapi.User {
	return m.self
}

func TestTelegramChannel_HandleMessage_Allowed(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, _ := NewTelegramChannel(config.TelegramConfig{Token: "fake-token"}, b)

	ch.handleMessage(context.Background(), &tgbotapi.Message{
		MessageID: 7,
		From:      &tgbotapi.User{ID: 123, UserName: "compta"},
		Chat:      &tgbotapi.Chat{ID: 456},
		Text:      "  factures impayées ?  ",
		Date:      1752570000,
	})

	select {
	case inbound := <-b.Inbound:
		if inbound.Content != "factures impayées ?" {
			t.Errorf("content = %q", inbound.Content)
		}
		if inbound.SenderID != "123" || inbound.ChatID != "456" {
			t.Errorf("sender/chat = %s/%s", inbound.SenderID, inbound.ChatID)
		}
		if inbound.MessageID != "7" {
			t.Errorf("message id = %q", inbound.MessageID)
		}
		if inbound.SessionKey() != "telegram:456" {
			t.Errorf("session key = %q", inbound.SessionKey())
		}
		if inbound.Metadata["message_id"] != 7 {
			t.Errorf("message_id = %v", inbound.Metadata["message_id"])
		}
	default:
		t.Error("expected inbound message")
	}
}

func TestTelegramChannel_HandleMessage_Rejected(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, _ := NewTelegramChannel(config.TelegramConfig{Token: "fake-token", AllowFrom: []string{"999"}}, b)

	ch.handleMessage(context.Background(), &tgbotapi.Message{
		From: &tgbotapi.User{ID: 123},
		Chat: &tgbotapi.Chat{ID: 456},
		Text: "hello",
	})

	select {
	case <-b.Inbound:
		t.Error("should not receive message from rejected user")
	default:
	}
}

func TestTelegramChannel_HandleMessage_Caption(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, _ := NewTelegramChannel(config.TelegramConfig{Token: "fake-token"}, b)

	ch.handleMessage(context.Background(), &tgbotapi.Message{
		From:    &tgbotapi.User{ID: 123},
		Chat:    &tgbotapi.Chat{ID: 456},
		Caption: "facture EDF",
		Photo:   []tgbotapi.PhotoSize{{FileID: "p"}},
	})

	select {
	case inbound := <-b.Inbound:
		if inbound.Content != "facture EDF" {
			t.Errorf("content = %q", inbound.Content)
		}
	default:
		t.Error("expected inbound message")
	}
}

func TestTelegramChannel_HandleMessage_MediaOnly(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, _ := NewTelegramChannel(config.TelegramConfig{Token: "fake-token"}, b)
	bot := newMockBot()
	ch.SetBot(bot)

	ch.handleMessage(context.Background(), &tgbotapi.Message{
		From:  &tgbotapi.User{ID: 123},
		Chat:  &tgbotapi.Chat{ID: 456},
		Voice: &tgbotapi.Voice{FileID: "v"},
	})

	select {
	case <-b.Inbound:
		t.Error("media without text must not reach the bus")
	default:
	}
	if len(bot.sentMsgs) != 1 {
		t.Fatalf("expected the text-only reply, got %d messages", len(bot.sentMsgs))
	}
	reply := bot.sentMsgs[0].(tgbotapi.MessageConfig)
	if reply.ChatID != 456 || !strings.Contains(reply.Text, "texte") {
		t.Errorf("reply = %+v", reply)
	}
}

func TestTelegramChannel_HandleMessage_EmptyText(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, _ := NewTelegramChannel(config.TelegramConfig{Token: "fake-token"}, b)
	bot := newMockBot()
	ch.SetBot(bot)

	ch.handleMessage(context.Background(), &tgbotapi.Message{From: &tgbotapi.User{ID: 123}, Chat: &tgbotapi.Chat{ID: 456}})
	ch.handleMessage(context.Background(), &tgbotapi.Message{Text: "sans expéditeur"})

	select {
	case <-b.Inbound:
		t.Error("should not send message with empty content")
	default:
	}
	if len(bot.sentMsgs) != 0 {
		t.Errorf("unexpected reply: %d", len(bot.sentMsgs))
	}
}

func TestTelegramChannel_InitBot(t *testing.T) {
	b := bus.NewMessageBus(10)
	mockBot := newMockBot()
	ok := func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) { return mockBot, nil }
	failing := func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
		return nil, fmt.Errorf("auth failed")
	}

	ch, _ := NewTelegramChannelWithFactory(config.TelegramConfig{Token: "fake-token"}, b, ok)
	if err := ch.initBot(); err != nil {
		t.Errorf("initBot error: %v", err)
	}
	if ch.bot == nil {
		t.Error("bot should be set")
	}

	ch, _ = NewTelegramChannelWithFactory(config.TelegramConfig{Token: "fake-token"}, b, failing)
	if err := ch.initBot(); err == nil {
		t.Error("expected error from initBot")
	}

	ch, _ = NewTelegramChannelWithFactory(config.TelegramConfig{Token: "fake-token", Proxy: "://invalid-url"}, b, ok)
	if err := ch.initBot(); err == nil {
		t.Error("expected error for invalid proxy URL")
	}
}

func TestTelegramChannel_Start(t *testing.T) {
	b := bus.NewMessageBus(10)
	mockBot := newMockBot()
	factory := func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) { return mockBot, nil }
	ch, _ := NewTelegramChannelWithFactory(config.TelegramConfig{Token: "fake-token"}, b, factory)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := ch.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	mockBot.updatesChan <- tgbotapi.Update{Message: nil}
	mockBot.updatesChan <- tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: 123},
		Chat: &tgbotapi.Chat{ID: 456},
		Text: "solde du mois",
	}}

	select {
	case inbound := <-b.Inbound:
		if inbound.Content != "solde du mois" {
			t.Errorf("content = %q", inbound.Content)
		}
	case <-time.After(time.Second):
		t.Fatal("expected inbound message")
	}

	ch.Stop()
	if !mockBot.stopped {
		t.Error("bot should be stopped")
	}
}

func TestTelegramChannel_Start_InitError(t *testing.T) {
	b := bus.NewMessageBus(10)
	factory := func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
		return nil, fmt.Errorf("init failed")
	}
	ch, _ := NewTelegramChannelWithFactory(config.TelegramConfig{Token: "fake-token"}, b, factory)
	if err := ch.Start(context.Background()); err == nil {
		t.Error("expected error from Start")
	}
}

func TestTelegramChannel_Send(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, _ := NewTelegramChannel(config.TelegramConfig{Token: "fake-token"}, b)

	if err := ch.Send(bus.OutboundMessage{ChatID: "123", Content: "test"}); err == nil {
		t.Error("expected error when bot is nil")
	}

	bot := newMockBot()
	ch.SetBot(bot)
	if err := ch.Send(bus.OutboundMessage{ChatID: "not-a-number", Content: "test"}); err == nil {
		t.Error("expected error for invalid chat ID")
	}

	if err := ch.Send(bus.OutboundMessage{ChatID: "123", Content: "**3** factures"}); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if len(bot.sentMsgs) != 1 {
		t.Fatalf("expected 1 sent message, got %d", len(bot.sentMsgs))
	}
	sent := bot.sentMsgs[0].(tgbotapi.MessageConfig)
	if sent.ParseMode != tgbotapi.ModeHTML || sent.Text != "<b>3</b> factures" {
		t.Errorf("sent = %q (%s)", sent.Text, sent.ParseMode)
	}
}

func TestTelegramChannel_Send_LongMessage(t *testing.T) {
	b := bus.NewMessageBus(10)
	bot := newMockBot()
	ch, _ := NewTelegramChannel(config.TelegramConfig{Token: "fake-token"}, b)
	ch.SetBot(bot)

	long := strings.Repeat("• INV-42 · CIERS · 1 200,00 € · du 01/07/2025\n", 200)
	if err := ch.Send(bus.OutboundMessage{ChatID: "123", Content: long}); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if len(bot.sentMsgs) < 2 {
		t.Errorf("expected several messages, got %d", len(bot.sentMsgs))
	}
}

func TestTelegramChannel_Send_RepliesToQuestion(t *testing.T) {
	b := bus.NewMessageBus(10)
	bot := newMockBot()
	ch, _ := NewTelegramChannel(config.TelegramConfig{Token: "fake-token"}, b)
	ch.SetBot(bot)

	long := strings.Repeat("• INV-42 · CIERS · 1 200,00 € · du 01/07/2025\n", 200)
	if err := ch.Send(bus.OutboundMessage{ChatID: "123", Content: long, ReplyTo: "77"}); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if len(bot.sentMsgs) < 2 {
		t.Fatalf("expected several messages, got %d", len(bot.sentMsgs))
	}
	if first := bot.sentMsgs[0].(tgbotapi.MessageConfig); first.ReplyToMessageID != 77 {
		t.Errorf("first chunk reply_to = %d, want 77", first.ReplyToMessageID)
	}
	if second := bot.sentMsgs[1].(tgbotapi.MessageConfig); second.ReplyToMessageID != 0 {
		t.Errorf("second chunk reply_to = %d, want 0", second.ReplyToMessageID)
	}
}

func TestTelegramChannel_Send_PlainFallback(t *testing.T) {
	b := bus.NewMessageBus(10)
	bot := newMockBot()
	bot.failHTML = true
	ch, _ := NewTelegramChannel(config.TelegramConfig{Token: "fake-token"}, b)
	ch.SetBot(bot)

	if err := ch.Send(bus.OutboundMessage{ChatID: "123", Content: "a < b"}); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if len(bot.sentMsgs) != 2 {
		t.Fatalf("expected HTML attempt then plain retry, got %d", len(bot.sentMsgs))
	}
	retry := bot.sentMsgs[1].(tgbotapi.MessageConfig)
	if retry.ParseMode != "" || retry.Text != "a < b" {
		t.Errorf("retry = %q (%s)", retry.Text, retry.ParseMode)
	}
}

func TestTelegramChannel_Send_Error(t *testing.T) {
	b := bus.NewMessageBus(10)
	bot := newMockBot()
	bot.sendErr = fmt.Errorf("network down")
	ch, _ := NewTelegramChannel(config.TelegramConfig{Token: "fake-token"}, b)
	ch.SetBot(bot)

	if err := ch.Send(bus.OutboundMessage{ChatID: "123", Content: "x"}); err == nil {
		t.Error("expected send error")
	}
}

type mockChannel struct {
	name     string
	started  bool
	stopped  bool
	startErr error
	stopErr  error
	sent     chan bus.OutboundMessage
}

func (m *mockChannel) Name() string { return m.name }

func (m *mockChannel) Start(ctx context.Context) error {
	m.started = true
	return m.startErr
}

func (m *mockChannel) Stop() error {
	m.stopped = true
	return m.stopErr
}

func (m *mockChannel) Send(msg bus.OutboundMessage) error {
	if m.sent != nil {
		m.sent <- msg
	}
	return nil
}

func TestChannelManager_Empty(t *testing.T) {
	b := bus.NewMessageBus(10)
	m, err := NewChannelManager(config.ChannelsConfig{}, b, nil)
	if err != nil {
		t.Fatalf("NewChannelManager error: %v", err)
	}
	if len(m.EnabledChannels()) != 0 {
		t.Errorf("expected 0 enabled channels, got %d", len(m.EnabledChannels()))
	}
	if err := m.StartAll(context.Background()); err != nil {
		t.Errorf("StartAll error: %v", err)
	}
	if err := m.StopAll(); err != nil {
		t.Errorf("StopAll error: %v", err)
	}
}

func TestChannelManager_TelegramMissingToken(t *testing.T) {
	b := bus.NewMessageBus(10)
	_, err := NewChannelManager(config.ChannelsConfig{Telegram: config.TelegramConfig{Enabled: true}}, b, nil)
	if err == nil {
		t.Error("expected error for enabled telegram without token")
	}
}

func TestChannelManager_WithMockChannel(t *testing.T) {
	b := bus.NewMessageBus(10)
	m, _ := NewChannelManager(config.ChannelsConfig{}, b, nil)
	mock := &mockChannel{name: "mock", sent: make(chan bus.OutboundMessage, 1)}
	m.Register(mock)

	if err := m.StartAll(context.Background()); err != nil {
		t.Errorf("StartAll error: %v", err)
	}
	if !mock.started {
		t.Error("mock channel should be started")
	}
	if got := m.EnabledChannels(); len(got) != 1 || got[0] != "mock" {
		t.Errorf("EnabledChannels = %v, want [mock]", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.DispatchOutbound(ctx)
		close(done)
	}()
	b.Outbound <- bus.OutboundMessage{Channel: "mock", ChatID: "1", Content: "ok"}
	select {
	case msg := <-mock.sent:
		if msg.Content != "ok" {
			t.Errorf("content = %q", msg.Content)
		}
	case <-time.After(time.Second):
		t.Error("outbound message not routed to channel")
	}
	cancel()
	<-done

	if err := m.StopAll(); err != nil {
		t.Errorf("StopAll error: %v", err)
	}
	if !mock.stopped {
		t.Error("mock channel should be stopped")
	}
}

func TestChannelManager_StartAll_Error(t *testing.T) {
	b := bus.NewMessageBus(10)
	m, _ := NewChannelManager(config.ChannelsConfig{}, b, nil)
	m.Register(&mockChannel{name: "mock", startErr: fmt.Errorf("start failed")})
	if err := m.StartAll(context.Background()); err == nil {
		t.Error("expected error from StartAll")
	}
}

func TestChannelManager_StopAll_Error(t *testing.T) {
	b := bus.NewMessageBus(10)
	m, _ := NewChannelManager(config.ChannelsConfig{}, b, nil)
	m.Register(&mockChannel{name: "mock", stopErr: fmt.Errorf("stop failed")})
	if err := m.StopAll(); err != nil {
		t.Errorf("StopAll should not return error: %v", err)
	}
}
