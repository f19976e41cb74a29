// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"

	"rsswatcher/internal/model"
)

// ErrInvariantViolation is returned when an insert reports a
// unique-constraint conflict but the existing row cannot be found.
// It means the uniqueness contract itself is broken and is fatal for
// the entry or alert being stored.
var ErrInvariantViolation = errors.New("storage: uniqueness invariant violated")

// Storage is the interface for all persistence operations. The
// *IfNew primitives must be atomic "insert; on conflict return the
// existing row" operations, never a check-then-insert pair.
type Storage interface {
	CreateUser(ctx context.Context, userID string) error

	CreateFeed(ctx context.Context, feed *model.Feed) error
	GetFeed(ctx context.Context, id int64) (*model.Feed, error)
	ListFeeds(ctx context.Context, userID string) ([]model.Feed, error)
	ListEnabledFeeds(ctx context.Context, userID string) ([]model.Feed, error)
	SetFeedEnabled(ctx context.Context, id int64, enabled bool) error
	MarkFeedsArmed(ctx context.Context, feedIDs []int64) error

	CreateRule(ctx context.Context, rule *model.Rule) error
	ListRules(ctx context.Context, userID string) ([]model.Rule, error)
	ListEnabledRules(ctx context.Context, userID string) ([]model.Rule, error)

	StoreEntryIfNew(ctx context.Context, userID string, feedID int64, entry model.Entry) (created bool, stored *model.Entry, err error)
	StoreAlertIfNew(ctx context.Context, userID string, entryID, ruleID int64, keyword string) (created bool, alertID int64, err error)

	SaveNotificationSettings(ctx context.Context, settings *model.NotificationSettings) error
	GetNotificationSettings(ctx context.Context, userID string) (*model.NotificationSettings, error)

	AppendLog(ctx context.Context, event *model.LogEvent) error
	ListRecentLog(ctx context.Context, userID string, limit int) ([]model.LogEvent, error)

	ListUserPollStates(ctx context.Context) ([]model.UserPollState, error)
	RecentRunStatus(ctx context.Context, userID string) (model.RunStatus, error)

	Close() error
}
