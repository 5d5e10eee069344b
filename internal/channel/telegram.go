package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"carebot/internal/domain"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

// Telegram is the family caregiver's channel: chat with the agent plus
// delivery of medication and bill reminders.
type Telegram struct {
	token           string
	allowFrom       []int64 // allowed user IDs (empty = allow all)
	caregiverChatID int64   // default target for reminder delivery

	bot    *tgbotapi.BotAPI
	bus    domain.MessageBus
	logger *slog.Logger
}

type TelegramConfig struct {
	Token           string
	AllowFrom       []string
	CaregiverChatID string
	Logger          *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	caregiverID, _ := strconv.ParseInt(strings.TrimSpace(cfg.CaregiverChatID), 10, 64)
	return &Telegram{
		token:           cfg.Token,
		allowFrom:       allowed,
		caregiverChatID: caregiverID,
		logger:          cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and polls for updates until the context ends.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	t.bus = bus

	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)

	bus.OnOutbound("telegram", func(msg domain.OutboundMessage) {
		chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
		if err != nil {
			// Reminders address the caregiver without knowing a chat ID.
			if t.caregiverChatID != 0 {
				t.sendMessage(t.caregiverChatID, msg.Content)
				return
			}
			t.logger.Error("invalid chat ID for telegram outbound", "chatID", msg.ChatID, "err", err)
			return
		}
		t.sendMessage(chatID, msg.Content)
	})

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(update)
		}
	}
}

// Stop is a no-op: the bot stops when Start's context is cancelled, and
// StopReceivingUpdates panics when called twice.
func (t *Telegram) Stop() error { return nil }

func (t *Telegram) Send(ctx context.Context, chatID, content string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		if t.caregiverChatID == 0 {
			return fmt.Errorf("invalid chat ID: %w", err)
		}
		id = t.caregiverChatID
	}
	t.sendMessage(id, content)
	return nil
}

func (t *Telegram) handleUpdate(update tgbotapi.Update) {
	if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return
	}

	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	if !t.isAllowed(userID) {
		t.logger.Warn("unauthorized telegram user",
			"user_id", userID,
			"username", update.Message.From.UserName,
		)
		t.sendMessage(chatID, "Unauthorized. Your user ID is not in the allow list.")
		return
	}

	text := strings.TrimSpace(update.Message.Text)
	if text == "" {
		return
	}

	if update.Message.IsCommand() {
		t.handleCommand(chatID, update.Message)
		return
	}

	t.logger.Info("telegram message received",
		"user_id", userID,
		"chat_id", chatID,
		"text_len", len(text),
	)

	typing := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	t.bot.Send(typing)

	t.bus.Publish(domain.InboundMessage{
		Channel:   "telegram",
		ChatID:    strconv.FormatInt(chatID, 10),
		SenderID:  strconv.FormatInt(userID, 10),
		Content:   text,
		Timestamp: time.Unix(int64(update.Message.Date), 0),
	})
}

func (t *Telegram) handleCommand(chatID int64, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		t.sendMessage(chatID, "Hello! I'm CareBot. I help look after your family member: medications, appointments, bills, rides, and more.\n\nJust send me a message.\n\nCommands:\n/status - bot status\n/help - this message")
	case "help":
		t.sendMessage(chatID, "Send me any message and I'll answer about medications, appointments, contacts, bills, groceries, weather, email, or rides.\n\nI also deliver medication and bill reminders here.\n\nCommands:\n/status - bot status")
	case "status":
		t.sendMessage(chatID, fmt.Sprintf("CareBot is running.\nBot: @%s\nYour ID: %d\nChat ID: %d", t.bot.Self.UserName, msg.From.ID, chatID))
	default:
		t.sendMessage(chatID, "Unknown command. Type /help for available commands.")
	}
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

// sendMessage splits long texts under Telegram's per-message limit.
func (t *Telegram) sendMessage(chatID int64, text string) {
	for len(text) > 0 {
		chunk := text
		if len(chunk) > telegramMaxMsgLen {
			cutAt := strings.LastIndex(chunk[:telegramMaxMsgLen], "\n")
			if cutAt < telegramMaxMsgLen/2 {
				cutAt = telegramMaxMsgLen
			}
			chunk = text[:cutAt]
			text = text[cutAt:]
		} else {
			text = ""
		}
		t.sendChunk(chatID, chunk)
	}
}

// sendChunk sends one chunk with retry and rate limit handling.
func (t *Telegram) sendChunk(chatID int64, text string) {
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		_, err := t.bot.Send(msg)
		if err == nil {
			return
		}

		errStr := err.Error()
		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off",
				"retry_after", retryAfter, "attempt", attempt+1,
			)
			time.Sleep(retryAfter)
			continue
		}

		if attempt < telegramMaxSendRetries {
			backoff := time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
			time.Sleep(backoff)
			continue
		}

		t.logger.Error("telegram send failed after retries", "err", err, "attempts", telegramMaxSendRetries+1)
	}
}
