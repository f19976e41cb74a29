package notify

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"

	"rsswatcher/internal/model"
)

type fakeChannel struct {
	name string
	err  error
}

func (c *fakeChannel) Name() string                        { return c.name }
func (c *fakeChannel) Send(context.Context, Payload) error { return c.err }

func TestNotifyAllNilSettings(t *testing.T) {
	n := New()
	got := n.NotifyAll(context.Background(), nil, Payload{Title: "t", Message: "m"})
	want := Summary{Errors: []string{}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
}

func TestNotifyAllNoConfiguredChannels(t *testing.T) {
	n := New()
	got := n.NotifyAll(context.Background(), &model.NotificationSettings{}, Payload{Title: "t"})
	if got.Sent != 0 || got.Failed != 0 || len(got.Errors) != 0 {
		t.Errorf("expected all-zero summary, got %+v", got)
	}
}

func TestNotifyAllIsolatesFailures(t *testing.T) {
	n := NewWithChannels(func(*model.NotificationSettings) []Channel {
		return []Channel{
			&fakeChannel{name: "good"},
			&fakeChannel{name: "bad", err: errors.New("boom")},
			&fakeChannel{name: "worse", err: errors.New("kaput")},
		}
	})

	got := n.NotifyAll(context.Background(), &model.NotificationSettings{}, Payload{Title: "t"})
	if got.Sent != 1 {
		t.Errorf("sent = %d, want 1", got.Sent)
	}
	if got.Failed != 2 {
		t.Errorf("failed = %d, want 2", got.Failed)
	}

	// Channels run concurrently; error order is not defined.
	sort.Strings(got.Errors)
	want := []string{"bad: boom", "worse: kaput"}
	if diff := cmp.Diff(want, got.Errors); diff != "" {
		t.Errorf("errors mismatch (-want +got):\n%s", diff)
	}
}

func TestChannelsForGating(t *testing.T) {
	tests := []struct {
		name     string
		settings model.NotificationSettings
		want     []string
	}{
		{
			name: "nothing configured",
		},
		{
			name: "pushover needs both fields",
			settings: model.NotificationSettings{
				PushoverAppToken: "app",
			},
		},
		{
			name: "pushover configured",
			settings: model.NotificationSettings{
				PushoverAppToken: "app",
				PushoverUserKey:  "key",
			},
			want: []string{"pushover"},
		},
		{
			name: "smtp needs host port from to",
			settings: model.NotificationSettings{
				SMTPHost: "smtp.example.com",
				SMTPPort: 587,
				SMTPFrom: "from@example.com",
			},
		},
		{
			name: "smtp configured",
			settings: model.NotificationSettings{
				SMTPHost: "smtp.example.com",
				SMTPPort: 587,
				SMTPFrom: "from@example.com",
				SMTPTo:   "to@example.com",
			},
			want: []string{"smtp"},
		},
		{
			name: "telegram configured",
			settings: model.NotificationSettings{
				TelegramBotToken: "123:abc",
				TelegramChatID:   42,
			},
			want: []string{"telegram"},
		},
		{
			name: "all configured",
			settings: model.NotificationSettings{
				PushoverAppToken: "app",
				PushoverUserKey:  "key",
				TelegramBotToken: "123:abc",
				TelegramChatID:   42,
				SMTPHost:         "smtp.example.com",
				SMTPPort:         465,
				SMTPUser:         "u",
				SMTPPass:         "p",
				SMTPFrom:         "from@example.com",
				SMTPTo:           "to@example.com",
			},
			want: []string{"pushover", "smtp", "telegram"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			channels := ChannelsFor(&tt.settings)
			var names []string
			for _, ch := range channels {
				names = append(names, ch.Name())
			}
			if diff := cmp.Diff(tt.want, names); diff != "" {
				t.Errorf("channels mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
