package channel

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/stellarlinkco/factubot/internal/bus"
	"github.com/stellarlinkco/factubot/internal/config"
)

const (
	telegramChannelName = "telegram"
	// Telegram rejects messages over 4096 characters.
	telegramMaxLen = 4000
	textOnlyReply  = "Je ne lis que les messages texte. Écris-moi ta question 🙂"
)

// TelegramBot is the part of the bot API the channel uses.
type TelegramBot interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetSelf() tgbotapi.User
}

type tgBotWrapper struct {
	bot *tgbotapi.BotAPI
}

func (w *tgBotWrapper) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return w.bot.GetUpdatesChan(config)
}

func (w *tgBotWrapper) StopReceivingUpdates() {
	w.bot.StopReceivingUpdates()
}

func (w *tgBotWrapper) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return w.bot.Send(c)
}

func (w *tgBotWrapper) GetSelf() tgbotapi.User {
	return w.bot.Self
}

// BotFactory creates TelegramBot instances.
type BotFactory func(token, apiEndpoint string, client *http.Client) (TelegramBot, error)

var defaultBotFactory BotFactory = func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, client)
	if err != nil {
		return nil, err
	}
	return &tgBotWrapper{bot: bot}, nil
}

type TelegramChannel struct {
	BaseChannel
	token      string
	bot        TelegramBot
	proxy      string
	cancel     context.CancelFunc
	botFactory BotFactory
}

func NewTelegramChannel(cfg config.TelegramConfig, b *bus.MessageBus) (*TelegramChannel, error) {
	return NewTelegramChannelWithFactory(cfg, b, defaultBotFactory)
}

func NewTelegramChannelWithFactory(cfg config.TelegramConfig, b *bus.MessageBus, factory BotFactory) (*TelegramChannel, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	return &TelegramChannel{
		BaseChannel: NewBaseChannel(telegramChannelName, b, cfg.AllowFrom),
		token:       cfg.Token,
		proxy:       cfg.Proxy,
		botFactory:  factory,
	}, nil
}

func (t *TelegramChannel) initBot() error {
	client := http.DefaultClient
	if t.proxy != "" {
		proxyURL, err := url.Parse(t.proxy)
		if err != nil {
			return fmt.Errorf("parse proxy url: %w", err)
		}
		client = &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)}}
	}

	bot, err := t.botFactory(t.token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}
	t.bot = bot
	t.logger.Info("authorized", zap.String("bot", bot.GetSelf().UserName))
	return nil
}

func (t *TelegramChannel) Start(ctx context.Context) error {
	if err := t.initBot(); err != nil {
		return err
	}
	ctx, t.cancel = context.WithCancel(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := t.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message == nil {
					continue
				}
				t.handleMessage(ctx, update.Message)
			case <-ctx.Done():
				return
			}
		}
	}()

	t.logger.Info("polling started")
	return nil
}

func (t *TelegramChannel) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	senderID := strconv.FormatInt(msg.From.ID, 10)
	if !t.IsAllowed(senderID) {
		t.logger.Info("rejected message", zap.String("sender", senderID), zap.String("username", msg.From.UserName))
		return
	}

	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	content := strings.TrimSpace(msg.Text)
	if content == "" {
		content = strings.TrimSpace(msg.Caption)
	}
	if content == "" {
		if hasMedia(msg) {
			if err := t.Send(bus.OutboundMessage{Channel: telegramChannelName, ChatID: chatID, Content: textOnlyReply}); err != nil {
				t.logger.Warn("text-only reply failed", zap.Error(err))
			}
		}
		return
	}

	inbound := bus.InboundMessage{
		Channel:   telegramChannelName,
		SenderID:  senderID,
		ChatID:    chatID,
		MessageID: strconv.Itoa(msg.MessageID),
		Content:   content,
		Timestamp: time.Unix(int64(msg.Date), 0),
		Metadata: map[string]any{
			"username":   msg.From.UserName,
			"first_name": msg.From.FirstName,
			"message_id": msg.MessageID,
		},
	}
	select {
	case t.bus.Inbound <- inbound:
	case <-ctx.Done():
	}
}

func hasMedia(msg *tgbotapi.Message) bool {
	return len(msg.Photo) > 0 || msg.Document != nil || msg.Voice != nil || msg.Audio != nil || msg.Video != nil
}

func (t *TelegramChannel) Stop() error {
	if t.cancel != nil {
		t.cancel()
	}
	if t.bot != nil {
		t.bot.StopReceivingUpdates()
	}
	t.logger.Info("stopped")
	return nil
}

// SetBot replaces the bot client.
func (t *TelegramChannel) SetBot(bot TelegramBot) {
	t.bot = bot
}

// Send delivers msg as HTML, split into chunks Telegram accepts. A chunk
// the HTML parser rejects is resent as plain text.
func (t *TelegramChannel) Send(msg bus.OutboundMessage) error {
	if t.bot == nil {
		return fmt.Errorf("telegram bot not initialized")
	}
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", msg.ChatID, err)
	}

	replyTo, _ := strconv.Atoi(msg.ReplyTo)
	for i, chunk := range splitMessage(msg.Content, telegramMaxLen) {
		tgMsg := tgbotapi.NewMessage(chatID, toTelegramHTML(chunk))
		tgMsg.ParseMode = tgbotapi.ModeHTML
		if i == 0 {
			tgMsg.ReplyToMessageID = replyTo
		}
		if _, err := t.bot.Send(tgMsg); err != nil {
			tgMsg.ParseMode = ""
			tgMsg.Text = chunk
			if _, err2 := t.bot.Send(tgMsg); err2 != nil {
				return fmt.Errorf("send telegram message: %w", err2)
			}
		}
	}
	return nil
}

// splitMessage cuts s into pieces of at most max runes, preferring line
// breaks.
func splitMessage(s string, max int) []string {
	var chunks []string
	for utf8.RuneCountInString(s) > max {
		cut := byteOffset(s, max)
		if idx := strings.LastIndex(s[:cut], "\n"); idx > 0 {
			cut = idx
		}
		chunks = append(chunks, s[:cut])
		s = strings.TrimPrefix(s[cut:], "\n")
	}
	if s != "" {
		chunks = append(chunks, s)
	}
	return chunks
}

func byteOffset(s string, runes int) int {
	n := 0
	for i := range s {
		if n == runes {
			return i
		}
		n++
	}
	return len(s)
}

// toTelegramHTML converts basic markdown to Telegram HTML.
func toTelegramHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")

	s = replacePairs(s, "```", func(inner string) string {
		if nl := strings.Index(inner, "\n"); nl >= 0 {
			first := strings.TrimSpace(inner[:nl])
			if first != "" && !strings.Contains(first, " ") {
				inner = inner[nl+1:]
			}
		}
		return "<pre>" + inner + "</pre>"
	})
	s = replacePairs(s, "`", func(inner string) string { return "<code>" + inner + "</code>" })
	s = replacePairs(s, "**", func(inner string) string { return "<b>" + inner + "</b>" })
	s = replacePairs(s, "*", func(inner string) string { return "<i>" + inner + "</i>" })
	return s
}

// replacePairs rewrites every delim...delim span with wrap. An unclosed
// delimiter is left as is.
func replacePairs(s, delim string, wrap func(string) string) string {
	for {
		start := strings.Index(s, delim)
		if start == -1 {
			return s
		}
		end := strings.Index(s[start+len(delim):], delim)
		if end == -1 {
			return s
		}
		end += start + len(delim)
		s = s[:start] + wrap(s[start+len(delim):end]) + s[end+len(delim):]
	}
}
