package channel

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/stellarlinkco/vitalsense/internal/bus"
	"github.com/stellarlinkco/vitalsense/internal/config"
)

const telegramChannelName = "telegram"

// TelegramBot interface for mocking telegram bot API
type TelegramBot interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetSelf() tgbotapi.User
}

// tgBotWrapper wraps tgbotapi.BotAPI to implement TelegramBot interface
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

// BotFactory creates TelegramBot instances (allows mocking)
type BotFactory func(token, apiEndpoint string, client *http.Client) (TelegramBot, error)

// defaultBotFactory creates real telegram bot
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
	logger     *zap.Logger
}

func NewTelegramChannel(cfg config.TelegramConfig, b *bus.MessageBus, logger *zap.Logger) (*TelegramChannel, error) {
	return NewTelegramChannelWithFactory(cfg, b, defaultBotFactory, logger)
}

// NewTelegramChannelWithFactory creates a TelegramChannel with custom bot factory (for testing)
func NewTelegramChannelWithFactory(cfg config.TelegramConfig, b *bus.MessageBus, factory BotFactory, logger *zap.Logger) (*TelegramChannel, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ch := &TelegramChannel{
		BaseChannel: NewBaseChannel(telegramChannelName, b, cfg.AllowFrom),
		token:       cfg.Token,
		proxy:       cfg.Proxy,
		botFactory:  factory,
		logger:      logger.Named("telegram"),
	}
	return ch, nil
}

func (t *TelegramChannel) initBot() error {
	client := http.DefaultClient
	if t.proxy != "" {
		proxyURL, err := url.Parse(t.proxy)
		if err != nil {
			return fmt.Errorf("parse proxy url: %w", err)
		}
		client = &http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}
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
				t.handleMessage(update.Message)
			case <-ctx.Done():
				return
			}
		}
	}()

	t.logger.Info("polling started")
	return nil
}

func (t *TelegramChannel) handleMessage(msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	senderID := strconv.FormatInt(msg.From.ID, 10)

	if !t.IsAllowed(senderID) {
		t.logger.Warn("rejected message", zap.String("sender", senderID), zap.String("username", msg.From.UserName))
		return
	}

	content := msg.Text
	if content == "" && msg.Caption != "" {
		content = msg.Caption
	}

	attachments := attachmentsOf(msg)
	if content == "" && len(attachments) == 0 {
		return
	}

	chatID := strconv.FormatInt(msg.Chat.ID, 10)

	t.bus.Inbound <- bus.InboundMessage{
		Channel:     telegramChannelName,
		SenderID:    senderID,
		ChatID:      chatID,
		Content:     content,
		Timestamp:   time.Unix(int64(msg.Date), 0),
		Attachments: attachments,
	}
}

// attachmentsOf describes the files of msg. Only metadata is taken; the
// files themselves are never downloaded.
func attachmentsOf(msg *tgbotapi.Message) []bus.Attachment {
	var out []bus.Attachment

	if len(msg.Photo) > 0 {
		photo := msg.Photo[len(msg.Photo)-1]
		out = append(out, bus.Attachment{
			Name:     "photo.jpg",
			MimeType: "image/jpeg",
			Size:     int64(photo.FileSize),
		})
	}

	if doc := msg.Document; doc != nil {
		name := doc.FileName
		if name == "" {
			name = "document" + extensionFor(doc.MimeType)
		}
		out = append(out, bus.Attachment{
			Name:     path.Base(name),
			MimeType: doc.MimeType,
			Size:     int64(doc.FileSize),
		})
	}

	return out
}

func extensionFor(mimeType string) string {
	switch strings.ToLower(mimeType) {
	case "application/pdf":
		return ".pdf"
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	}
	return ""
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

// SetBot sets the bot (for testing)
func (t *TelegramChannel) SetBot(bot TelegramBot) {
	t.bot = bot
}

// maxChunkLen keeps a chunk under Telegram's 4096 character limit once
// the HTML tags and entities are added.
const maxChunkLen = 3500

func (t *TelegramChannel) Send(msg bus.OutboundMessage) error {
	if t.bot == nil {
		return fmt.Errorf("telegram bot not initialized")
	}

	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", msg.ChatID, err)
	}

	for _, chunk := range splitMessage(msg.Content, maxChunkLen) {
		tgMsg := tgbotapi.NewMessage(chatID, toTelegramHTML(chunk))
		tgMsg.ParseMode = tgbotapi.ModeHTML
		_, err := t.bot.Send(tgMsg)
		if err == nil {
			continue
		}
		t.logger.Debug("html send failed, retrying as plain text", zap.Error(err))

		tgMsg.ParseMode = ""
		tgMsg.Text = chunk
		if _, err := t.bot.Send(tgMsg); err != nil {
			return fmt.Errorf("send telegram message: %w", err)
		}
	}
	return nil
}

// splitMessage cuts s into pieces of at most limit bytes. It prefers to
// cut after a newline and never cuts inside a rune.
func splitMessage(s string, limit int) []string {
	var out []string
	for len(s) > limit {
		cut := strings.LastIndex(s[:limit], "\n") + 1
		if cut == 0 {
			cut = limit
			for cut > 1 && !utf8.RuneStart(s[cut]) {
				cut--
			}
		}
		out = append(out, s[:cut])
		s = s[cut:]
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// toTelegramHTML converts the markdown subset of the chat views (code
// fences, inline code, bold, italic) to Telegram HTML.
func toTelegramHTML(s string) string {
	s = htmlEscaper.Replace(s)
	s = wrapDelimited(s, "```", "pre", stripFenceLang)
	s = wrapDelimited(s, "`", "code", nil)
	s = wrapDelimited(s, "**", "b", nil)
	return wrapDelimited(s, "*", "i", nil)
}

// wrapDelimited replaces each delim...delim pair with <tag>...</tag>. An
// unpaired delimiter or an empty pair is left as is.
func wrapDelimited(s, delim, tag string, inner func(string) string) string {
	var sb strings.Builder
	for {
		start := strings.Index(s, delim)
		if start < 0 {
			break
		}
		rest := s[start+len(delim):]
		end := strings.Index(rest, delim)
		if end < 0 {
			break
		}
		if end == 0 {
			sb.WriteString(s[:start+2*len(delim)])
			s = rest[len(delim):]
			continue
		}
		body := rest[:end]
		if inner != nil {
			body = inner(body)
		}
		sb.WriteString(s[:start])
		sb.WriteString("<" + tag + ">" + body + "</" + tag + ">")
		s = rest[end+len(delim):]
	}
	sb.WriteString(s)
	return sb.String()
}

// stripFenceLang drops a language tag such as "yaml" from the first line
// of a code fence.
func stripFenceLang(code string) string {
	first, rest, ok := strings.Cut(code, "\n")
	first = strings.TrimSpace(first)
	if ok && first != "" && !strings.Contains(first, " ") {
		return rest
	}
	return code
}
