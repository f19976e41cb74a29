// Package notify delivers alert messages over the user's configured
// notification channels.
package notify

import (
	"context"
	"fmt"
	"sync"

	"rsswatcher/internal/model"
)

// Payload is one alert message to deliver.
type Payload struct {
	Title   string
	Message string
	Link    string
}

// Channel delivers a payload over one transport.
type Channel interface {
	Name() string
	Send(ctx context.Context, p Payload) error
}

// Summary aggregates the outcome of one delivery across all channels.
// Sent and Failed are channel counts, not message counts.
type Summary struct {
	Sent   int
	Failed int
	Errors []string
}

// Notifier fans a payload out to every configured channel.
type Notifier struct {
	channels func(*model.NotificationSettings) []Channel
}

// New creates a Notifier using the built-in channel set.
func New() *Notifier {
	return &Notifier{channels: ChannelsFor}
}

// NewWithChannels creates a Notifier with a custom channel builder
// (useful for testing).
func NewWithChannels(build func(*model.NotificationSettings) []Channel) *Notifier {
	return &Notifier{channels: build}
}

// ChannelsFor returns the channels whose required settings fields are
// all present. A channel missing any required field is not attempted.
func ChannelsFor(settings *model.NotificationSettings) []Channel {
	var channels []Channel
	if settings.PushoverAppToken != "" && settings.PushoverUserKey != "" {
		channels = append(channels, newPushoverChannel(settings.PushoverAppToken, settings.PushoverUserKey))
	}
	if settings.SMTPHost != "" && settings.SMTPPort != 0 && settings.SMTPFrom != "" && settings.SMTPTo != "" {
		channels = append(channels, newSMTPChannel(smtpConfig{
			Host: settings.SMTPHost,
			Port: settings.SMTPPort,
			User: settings.SMTPUser,
			Pass: settings.SMTPPass,
			From: settings.SMTPFrom,
			To:   settings.SMTPTo,
		}))
	}
	if settings.TelegramBotToken != "" && settings.TelegramChatID != 0 {
		channels = append(channels, newTelegramChannel(settings.TelegramBotToken, settings.TelegramChatID))
	}
	return channels
}

// NotifyAll dispatches the payload to each configured channel
// concurrently and waits for all of them to settle. Each channel's
// outcome is isolated: one failure never affects the others and is
// reported only through the summary. A nil settings means no channels
// are configured and yields an all-zero summary.
func (n *Notifier) NotifyAll(ctx context.Context, settings *model.NotificationSettings, p Payload) Summary {
	summary := Summary{Errors: []string{}}
	if settings == nil {
		return summary
	}

	channels := n.channels(settings)

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, ch := range channels {
		wg.Add(1)
		go func(ch Channel) {
			defer wg.Done()
			err := ch.Send(ctx, p)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Failed++
				summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", ch.Name(), err))
				return
			}
			summary.Sent++
		}(ch)
	}
	wg.Wait()

	return summary
}
