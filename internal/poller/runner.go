// Package poller implements the polling, matching, and alerting
// pipeline: due-user scheduling, feed normalization, content-addressed
// deduplication, keyword matching, and notification fan-out.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mmcdole/gofeed"

	"rsswatcher/internal/model"
	"rsswatcher/internal/notify"
	"rsswatcher/internal/storage"
)

// Config holds the per-run caps. Both bound worst-case run duration
// under time-limited execution environments.
type Config struct {
	MaxUsersPerRun    int
	MaxEntriesPerFeed int
}

func (c Config) withDefaults() Config {
	if c.MaxUsersPerRun < 1 {
		c.MaxUsersPerRun = 25
	}
	if c.MaxEntriesPerFeed < 1 {
		c.MaxEntriesPerFeed = 200
	}
	return c
}

// FeedFetcher retrieves and parses one feed URL.
type FeedFetcher interface {
	Fetch(ctx context.Context, url string) (*gofeed.Feed, error)
}

// Notifier delivers one alert over the user's configured channels.
type Notifier interface {
	NotifyAll(ctx context.Context, settings *model.NotificationSettings, p notify.Payload) notify.Summary
}

// Runner orchestrates poll runs. Feeds within one user's run are
// processed strictly sequentially; only the notification channels of a
// single matched alert fan out concurrently.
type Runner struct {
	store    storage.Storage
	fetcher  FeedFetcher
	notifier Notifier
	log      *slog.Logger
	cfg      Config
}

// NewRunner creates a Runner. The fetcher carries the process-wide
// feed parser; cfg values below their minimums fall back to defaults.
func NewRunner(store storage.Storage, fetcher FeedFetcher, notifier Notifier, log *slog.Logger, cfg Config) *Runner {
	return &Runner{
		store:    store,
		fetcher:  fetcher,
		notifier: notifier,
		log:      log,
		cfg:      cfg.withDefaults(),
	}
}

// RunForUser performs one full poll for a single user. Fetch failures
// are contained to the failing feed; any other failure aborts this
// user's run and is returned along with the stats for the work that
// did complete.
func (r *Runner) RunForUser(ctx context.Context, userID string) (model.RunStats, error) {
	stats := model.RunStats{UsersProcessed: 1}

	feeds, err := r.store.ListEnabledFeeds(ctx, userID)
	if err != nil {
		return stats, fmt.Errorf("list feeds: %w", err)
	}
	rules, err := r.store.ListEnabledRules(ctx, userID)
	if err != nil {
		return stats, fmt.Errorf("list rules: %w", err)
	}
	settings, err := r.store.GetNotificationSettings(ctx, userID)
	if err != nil {
		return stats, fmt.Errorf("load settings: %w", err)
	}

	if err := r.audit(ctx, model.LogEvent{
		UserID: userID, Level: model.LevelInfo, Area: model.AreaPoller, Message: model.MsgRunStarted,
	}); err != nil {
		return stats, err
	}

	var toArm []int64

	for _, feed := range feeds {
		stats.FeedsPolled++

		parsed, err := r.fetcher.Fetch(ctx, feed.URL)
		if err != nil {
			stats.Errors++
			r.log.Error("feed poll failed", "user_id", userID, "feed_id", feed.ID, "url", feed.URL, "error", err)
			if auditErr := r.audit(ctx, model.LogEvent{
				UserID: userID, Level: model.LevelError, Area: model.AreaPoller,
				Message: model.MsgFeedPollFailed, FeedID: &feed.ID, Error: err.Error(),
			}); auditErr != nil {
				return stats, auditErr
			}
			continue
		}

		items := parsed.Items
		if len(items) > r.cfg.MaxEntriesPerFeed {
			items = items[:r.cfg.MaxEntriesPerFeed]
		}

		for _, item := range items {
			if err := r.processItem(ctx, &stats, feed, rules, settings, item); err != nil {
				return stats, err
			}
		}

		// The first successful poll only records the backlog; the feed
		// starts alerting once armed at the end of this run.
		if !feed.Armed {
			toArm = append(toArm, feed.ID)
		}
	}

	if err := r.store.MarkFeedsArmed(ctx, toArm); err != nil {
		return stats, fmt.Errorf("mark feeds armed: %w", err)
	}

	if err := r.audit(ctx, model.LogEvent{
		UserID: userID, Level: model.LevelInfo, Area: model.AreaPoller, Message: model.MsgRunComplete,
	}); err != nil {
		return stats, err
	}

	r.log.Info("run complete", "user_id", userID,
		"feeds_polled", stats.FeedsPolled,
		"entries_inserted", stats.EntriesInserted,
		"alerts_inserted", stats.AlertsInserted)

	return stats, nil
}

func (r *Runner) processItem(ctx context.Context, stats *model.RunStats, feed model.Feed, rules []model.Rule, settings *model.NotificationSettings, item *gofeed.Item) error {
	entry, ok := NormalizeItem(item)
	if !ok {
		return nil
	}

	created, stored, err := r.store.StoreEntryIfNew(ctx, feed.UserID, feed.ID, entry)
	if err != nil {
		return fmt.Errorf("store entry: %w", err)
	}
	if !created {
		return nil
	}
	stats.EntriesInserted++

	// Backlog suppression: an unarmed feed records entries without
	// evaluating rules.
	if !feed.Armed {
		return nil
	}

	for _, rule := range CollectMatches(rules, feed.ID, entry) {
		created, _, err := r.store.StoreAlertIfNew(ctx, feed.UserID, stored.ID, rule.ID, rule.Keyword)
		if err != nil {
			return fmt.Errorf("store alert: %w", err)
		}
		if !created {
			continue
		}
		stats.AlertsInserted++

		summary := r.notifier.NotifyAll(ctx, settings, notify.Payload{
			Title:   "RSS Watcher: " + rule.Keyword,
			Message: entry.Title + "\nMatched keyword: " + rule.Keyword,
			Link:    entry.Link,
		})
		stats.NotificationsSent += summary.Sent
		stats.NotificationsFailed += summary.Failed

		for _, deliveryErr := range summary.Errors {
			r.log.Warn("delivery failed", "user_id", feed.UserID, "feed_id", feed.ID,
				"rule_id", rule.ID, "error", deliveryErr)
			if err := r.audit(ctx, model.LogEvent{
				UserID: feed.UserID, Level: model.LevelWarn, Area: model.AreaNotify,
				Message: model.MsgDeliveryFailed, FeedID: &feed.ID, RuleID: &rule.ID,
				EntryLink: entry.Link, Error: deliveryErr,
			}); err != nil {
				return err
			}
		}

		if err := r.audit(ctx, model.LogEvent{
			UserID: feed.UserID, Level: model.LevelInfo, Area: model.AreaAlert,
			Message: "matched:" + rule.Keyword, FeedID: &feed.ID, RuleID: &rule.ID,
			EntryLink: entry.Link,
		}); err != nil {
			return err
		}
	}
	return nil
}

// RunDue selects the due users, processes up to MaxUsersPerRun of them
// sequentially, and reports whether backlog remains so the external
// trigger can re-invoke promptly. One user's failure never aborts the
// batch.
func (r *Runner) RunDue(ctx context.Context, now time.Time) (model.RunStats, error) {
	states, err := r.store.ListUserPollStates(ctx)
	if err != nil {
		return model.RunStats{}, fmt.Errorf("list poll states: %w", err)
	}

	due := DueUsers(states, now)
	limit := len(due)
	if limit > r.cfg.MaxUsersPerRun {
		limit = r.cfg.MaxUsersPerRun
	}

	stats := model.RunStats{HasMoreDue: len(due) > limit}

	for _, user := range due[:limit] {
		userStats, err := r.RunForUser(ctx, user.UserID)
		stats.Add(userStats)
		if err != nil {
			stats.Errors++
			r.log.Error("user run failed", "user_id", user.UserID, "error", err)
		}
	}

	return stats, nil
}

func (r *Runner) audit(ctx context.Context, event model.LogEvent) error {
	if err := r.store.AppendLog(ctx, &event); err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}
