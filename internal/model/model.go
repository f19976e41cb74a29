// Package model defines the domain types used across the application.
package model

import "time"

// Feed is one watched feed belonging to a user.
type Feed struct {
	ID        int64
	UserID    string
	Name      string
	URL       string
	Enabled   bool
	Armed     bool
	CreatedAt time.Time
}

// Rule is a keyword rule owned by a user. FeedID scopes the rule to a
// single feed; nil means the rule applies to all of the user's feeds.
type Rule struct {
	ID        int64
	UserID    string
	FeedID    *int64
	Keyword   string
	Enabled   bool
	CreatedAt time.Time
}

// Entry is a normalized feed item. EntryKey is the content-addressed
// identity; (FeedID, EntryKey) is unique and is the dedup boundary.
type Entry struct {
	ID        int64
	UserID    string
	FeedID    int64
	EntryKey  string
	Link      string
	Title     string
	Published *string
	Summary   *string
	CreatedAt time.Time
}

// Alert records that a rule matched an entry. (EntryID, RuleID) is
// unique; an alert is created once and never updated.
type Alert struct {
	ID        int64
	UserID    string
	EntryID   int64
	RuleID    int64
	Keyword   string
	CreatedAt time.Time
}

// Log levels for audit events.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Audit areas used by the poller pipeline.
const (
	AreaPoller = "poller"
	AreaNotify = "notify"
	AreaAlert  = "alert"
)

// Messages the scheduler and dashboards key on.
const (
	MsgRunStarted     = "run_started"
	MsgRunComplete    = "run_complete"
	MsgFeedPollFailed = "feed_poll_failed"
	MsgDeliveryFailed = "delivery_failed"
)

// LogEvent is an append-only audit record. Besides operator visibility
// it derives the "last completed run" timestamp used for scheduling.
type LogEvent struct {
	ID        int64
	UserID    string
	Level     string
	Area      string
	Message   string
	FeedID    *int64
	RuleID    *int64
	EntryLink string
	Error     string
	TS        time.Time
}

// NotificationSettings holds a user's decrypted channel credentials and
// poll interval. A channel is configured only when all of its required
// fields are present.
type NotificationSettings struct {
	UserID              string
	PollIntervalSeconds int
	PushoverAppToken    string
	PushoverUserKey     string
	TelegramBotToken    string
	TelegramChatID      int64
	SMTPHost            string
	SMTPPort            int
	SMTPUser            string
	SMTPPass            string
	SMTPFrom            string
	SMTPTo              string
}

// UserPollState is one user's scheduling input: the configured interval
// and the timestamp of the most recent completed run, if any.
type UserPollState struct {
	UserID              string
	PollIntervalSeconds int
	LastRunAt           *time.Time
}

// RunStats is the aggregate result of one poller invocation. The JSON
// shape is part of the trigger surface contract.
type RunStats struct {
	UsersProcessed      int  `json:"usersProcessed"`
	FeedsPolled         int  `json:"feedsPolled"`
	EntriesInserted     int  `json:"entriesInserted"`
	AlertsInserted      int  `json:"alertsInserted"`
	NotificationsSent   int  `json:"notificationsSent"`
	NotificationsFailed int  `json:"notificationsFailed"`
	Errors              int  `json:"errors"`
	HasMoreDue          bool `json:"hasMoreDue"`
}

// Add accumulates another run's counters. HasMoreDue is owned by the
// batch entrypoint and is not merged here.
func (s *RunStats) Add(o RunStats) {
	s.UsersProcessed += o.UsersProcessed
	s.FeedsPolled += o.FeedsPolled
	s.EntriesInserted += o.EntriesInserted
	s.AlertsInserted += o.AlertsInserted
	s.NotificationsSent += o.NotificationsSent
	s.NotificationsFailed += o.NotificationsFailed
	s.Errors += o.Errors
}

// RunStatus summarizes a user's recent poller history for dashboards.
type RunStatus struct {
	LastRunAt   *time.Time
	LastErrorAt *time.Time
}
