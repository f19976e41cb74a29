package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type telegramChannel struct {
	botToken string
	chatID   int64
}

func newTelegramChannel(botToken string, chatID int64) *telegramChannel {
	return &telegramChannel{botToken: botToken, chatID: chatID}
}

func (c *telegramChannel) Name() string { return "telegram" }

func (c *telegramChannel) Send(_ context.Context, p Payload) error {
	bot, err := tgbotapi.NewBotAPI(c.botToken)
	if err != nil {
		return fmt.Errorf("bot api: %w", err)
	}

	text := p.Title + "\n" + p.Message
	if p.Link != "" {
		text += "\n" + p.Link
	}

	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := bot.Send(msg); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}
