package notify

import (
	"context"
	"fmt"

	"gopkg.in/telebot.v3"

	"github.com/ashwinkrishna05/timetable-generator/internal/domain"
)

// TelegramClient sends a text message to a chat.
type TelegramClient interface {
	SendMessage(chatID int64, text string, opts *telebot.SendOptions) error
}

// TelebotAdapter implements TelegramClient with gopkg.in/telebot.v3.
type TelebotAdapter struct {
	bot *telebot.Bot
}

func NewTelebotAdapter(b *telebot.Bot) *TelebotAdapter {
	return &TelebotAdapter{bot: b}
}

func (a *TelebotAdapter) SendMessage(chatID int64, text string, opts *telebot.SendOptions) error {
	if opts == nil {
		opts = &telebot.SendOptions{}
	}
	_, err := a.bot.Send(&telebot.Chat{ID: chatID}, text, opts)
	return err
}

// NewTelebot builds a send-only bot. Offline skips the getMe round trip at
// startup; nothing here polls for updates.
func NewTelebot(token string) (*telebot.Bot, error) {
	bot, err := telebot.NewBot(telebot.Settings{Token: token, Offline: true})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return bot, nil
}

// TelegramChannel posts outcomes to a staff chat.
type TelegramChannel struct {
	client TelegramClient
	chatID int64
}

func NewTelegramChannel(client TelegramClient, chatID int64) *TelegramChannel {
	return &TelegramChannel{client: client, chatID: chatID}
}

func (c *TelegramChannel) Name() string { return "telegram" }

func (c *TelegramChannel) Send(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	text := fmt.Sprintf("%s School %s: %s", levelIcon(n.Level), n.SchoolID, n.Message)
	return c.client.SendMessage(c.chatID, text, &telebot.SendOptions{DisableWebPagePreview: true})
}

func levelIcon(l domain.Level) string {
	switch l {
	case domain.LevelSuccess:
		return "✅"
	case domain.LevelWarning:
		return "⚠️"
	default:
		return "❌"
	}
}
