package notify

import (
	"context"
	"fmt"

	"github.com/gregdel/pushover"
)

type pushoverChannel struct {
	appToken string
	userKey  string
}

func newPushoverChannel(appToken, userKey string) *pushoverChannel {
	return &pushoverChannel{appToken: appToken, userKey: userKey}
}

func (c *pushoverChannel) Name() string { return "pushover" }

func (c *pushoverChannel) Send(_ context.Context, p Payload) error {
	app := pushover.New(c.appToken)
	recipient := pushover.NewRecipient(c.userKey)

	msg := pushover.NewMessageWithTitle(p.Message, p.Title)
	if p.Link != "" {
		msg.URL = p.Link
		msg.URLTitle = "Open entry"
	}

	if _, err := app.SendMessage(msg, recipient); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}
