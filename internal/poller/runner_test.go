package poller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/mmcdole/gofeed"

	"rsswatcher/internal/model"
	"rsswatcher/internal/notify"
	"rsswatcher/internal/storage"
)

type stubFetcher struct {
	feeds map[string]*gofeed.Feed
	errs  map[string]error
}

func (f *stubFetcher) Fetch(_ context.Context, url string) (*gofeed.Feed, error) {
	if err := f.errs[url]; err != nil {
		return nil, err
	}
	if feed := f.feeds[url]; feed != nil {
		return feed, nil
	}
	return &gofeed.Feed{}, nil
}

type fakeNotifier struct {
	summary  notify.Summary
	payloads []notify.Payload
}

func (n *fakeNotifier) NotifyAll(_ context.Context, _ *model.NotificationSettings, p notify.Payload) notify.Summary {
	n.payloads = append(n.payloads, p)
	return n.summary
}

func rssFeed(titles ...string) *gofeed.Feed {
	feed := &gofeed.Feed{}
	for _, title := range titles {
		feed.Items = append(feed.Items, &gofeed.Item{
			Title: title,
			Link:  "https://example.com/posts/" + title,
			GUID:  "guid:" + title,
		})
	}
	return feed
}

func newTestStore(t *testing.T) *storage.SQLite {
	t.Helper()
	s, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedUser(t *testing.T, s *storage.SQLite, userID string, feedURLs ...string) []*model.Feed {
	t.Helper()
	ctx := context.Background()
	if err := s.CreateUser(ctx, userID); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := s.SaveNotificationSettings(ctx, &model.NotificationSettings{
		UserID: userID, PollIntervalSeconds: 300,
	}); err != nil {
		t.Fatalf("save settings: %v", err)
	}
	var feeds []*model.Feed
	for _, url := range feedURLs {
		feed := &model.Feed{UserID: userID, Name: url, URL: url, Enabled: true}
		if err := s.CreateFeed(ctx, feed); err != nil {
			t.Fatalf("create feed: %v", err)
		}
		feeds = append(feeds, feed)
	}
	return feeds
}

func hasLogMessage(t *testing.T, s *storage.SQLite, userID, message string) bool {
	t.Helper()
	events, err := s.ListRecentLog(context.Background(), userID, 100)
	if err != nil {
		t.Fatalf("list log: %v", err)
	}
	for _, e := range events {
		if e.Message == message {
			return true
		}
	}
	return false
}

func TestRunForUserArmingScenario(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	feeds := seedUser(t, store, "alice", "https://example.com/rss")
	feedURL := feeds[0].URL

	if err := store.CreateRule(ctx, &model.Rule{
		UserID: "alice", Keyword: "ransomware", Enabled: true,
	}); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	fetch := &stubFetcher{feeds: map[string]*gofeed.Feed{feedURL: rssFeed("Daily digest 1")}}
	notifier := &fakeNotifier{summary: notify.Summary{Sent: 1}}
	runner := NewRunner(store, fetch, notifier, discardLogger(), Config{})

	// Baseline poll: entries recorded, no alerts, feed armed afterwards.
	stats, err := runner.RunForUser(ctx, "alice")
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	want := model.RunStats{UsersProcessed: 1, FeedsPolled: 1, EntriesInserted: 1}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Errorf("first run stats mismatch (-want +got):\n%s", diff)
	}
	armed, err := store.GetFeed(ctx, feeds[0].ID)
	if err != nil {
		t.Fatalf("get feed: %v", err)
	}
	if !armed.Armed {
		t.Fatal("feed should be armed after its first successful poll")
	}

	// Second poll: one new matching item yields exactly one alert.
	fetch.feeds[feedURL] = rssFeed("Daily digest 1", "Ransomware bulletin 2")
	stats, err = runner.RunForUser(ctx, "alice")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	want = model.RunStats{
		UsersProcessed: 1, FeedsPolled: 1, EntriesInserted: 1,
		AlertsInserted: 1, NotificationsSent: 1,
	}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Errorf("second run stats mismatch (-want +got):\n%s", diff)
	}
	if len(notifier.payloads) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(notifier.payloads))
	}
	if notifier.payloads[0].Title != "RSS Watcher: ransomware" {
		t.Errorf("payload title = %q", notifier.payloads[0].Title)
	}
	if !hasLogMessage(t, store, "alice", "matched:ransomware") {
		t.Error("expected matched:ransomware log event")
	}
	if !hasLogMessage(t, store, "alice", model.MsgRunComplete) {
		t.Error("expected run_complete log event")
	}

	// Third poll with no new items inserts nothing.
	stats, err = runner.RunForUser(ctx, "alice")
	if err != nil {
		t.Fatalf("third run: %v", err)
	}
	if stats.EntriesInserted != 0 || stats.AlertsInserted != 0 {
		t.Errorf("expected idle run, got %+v", stats)
	}
}

func TestRunForUserBacklogSuppression(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	feeds := seedUser(t, store, "alice", "https://example.com/rss")

	if err := store.CreateRule(ctx, &model.Rule{
		UserID: "alice", Keyword: "ransomware", Enabled: true,
	}); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	fetch := &stubFetcher{feeds: map[string]*gofeed.Feed{
		feeds[0].URL: rssFeed("Ransomware in the backlog"),
	}}
	notifier := &fakeNotifier{}
	runner := NewRunner(store, fetch, notifier, discardLogger(), Config{})

	stats, err := runner.RunForUser(ctx, "alice")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.EntriesInserted != 1 {
		t.Errorf("entries = %d, want 1", stats.EntriesInserted)
	}
	if stats.AlertsInserted != 0 {
		t.Errorf("unarmed feed produced %d alerts", stats.AlertsInserted)
	}
	if len(notifier.payloads) != 0 {
		t.Errorf("unarmed feed sent %d notifications", len(notifier.payloads))
	}

	// The backlog entry never alerts, only items discovered after arming do.
	fetch.feeds[feeds[0].URL] = rssFeed("Ransomware in the backlog", "Ransomware returns")
	stats, err = runner.RunForUser(ctx, "alice")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if stats.AlertsInserted != 1 {
		t.Errorf("alerts = %d, want 1", stats.AlertsInserted)
	}
}

func TestRunForUserEntryCap(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	feeds := seedUser(t, store, "alice", "https://example.com/rss")

	var titles []string
	for i := 0; i < 10; i++ {
		titles = append(titles, fmt.Sprintf("Item %d", i))
	}
	fetch := &stubFetcher{feeds: map[string]*gofeed.Feed{feeds[0].URL: rssFeed(titles...)}}
	runner := NewRunner(store, fetch, &fakeNotifier{}, discardLogger(), Config{MaxEntriesPerFeed: 3})

	stats, err := runner.RunForUser(ctx, "alice")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.EntriesInserted != 3 {
		t.Errorf("entries = %d, want 3 (capped)", stats.EntriesInserted)
	}
}

func TestRunForUserFetchFailureIsolation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	feeds := seedUser(t, store, "alice", "https://bad.example.com/rss", "https://good.example.com/rss")

	fetch := &stubFetcher{
		feeds: map[string]*gofeed.Feed{feeds[1].URL: rssFeed("Fresh item")},
		errs:  map[string]error{feeds[0].URL: errors.New("connection refused")},
	}
	runner := NewRunner(store, fetch, &fakeNotifier{}, discardLogger(), Config{})

	stats, err := runner.RunForUser(ctx, "alice")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := model.RunStats{UsersProcessed: 1, FeedsPolled: 2, EntriesInserted: 1, Errors: 1}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
	if !hasLogMessage(t, store, "alice", model.MsgFeedPollFailed) {
		t.Error("expected feed_poll_failed log event")
	}
	if !hasLogMessage(t, store, "alice", model.MsgRunComplete) {
		t.Error("fetch failure must not abort the run")
	}

	// A feed that failed to fetch is not armed by this run.
	bad, _ := store.GetFeed(ctx, feeds[0].ID)
	good, _ := store.GetFeed(ctx, feeds[1].ID)
	if bad.Armed {
		t.Error("failed feed should stay unarmed")
	}
	if !good.Armed {
		t.Error("successful feed should be armed")
	}
}

func TestRunForUserNotificationFailures(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	feeds := seedUser(t, store, "alice", "https://example.com/rss")
	if err := store.CreateRule(ctx, &model.Rule{
		UserID: "alice", Keyword: "alert", Enabled: true,
	}); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	if err := store.MarkFeedsArmed(ctx, []int64{feeds[0].ID}); err != nil {
		t.Fatalf("arm feed: %v", err)
	}

	fetch := &stubFetcher{feeds: map[string]*gofeed.Feed{feeds[0].URL: rssFeed("Alert worthy item")}}
	notifier := &fakeNotifier{summary: notify.Summary{
		Sent: 1, Failed: 1, Errors: []string{"smtp: connection reset"},
	}}
	runner := NewRunner(store, fetch, notifier, discardLogger(), Config{})

	stats, err := runner.RunForUser(ctx, "alice")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.NotificationsSent != 1 || stats.NotificationsFailed != 1 {
		t.Errorf("notification counts = %d/%d, want 1/1", stats.NotificationsSent, stats.NotificationsFailed)
	}
	// Alert persistence precedes delivery; a channel failure still
	// leaves the alert row and the audit trail behind.
	if stats.AlertsInserted != 1 {
		t.Errorf("alerts = %d, want 1", stats.AlertsInserted)
	}
	if !hasLogMessage(t, store, "alice", model.MsgDeliveryFailed) {
		t.Error("expected delivery_failed log event")
	}
}

func TestRunDueCap(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("cap below due count", func(t *testing.T) {
		store := newTestStore(t)
		for _, id := range []string{"alice", "bob", "carol"} {
			seedUser(t, store, id)
		}
		runner := NewRunner(store, &stubFetcher{}, &fakeNotifier{}, discardLogger(), Config{MaxUsersPerRun: 2})

		stats, err := runner.RunDue(ctx, now)
		if err != nil {
			t.Fatalf("run due: %v", err)
		}
		if stats.UsersProcessed != 2 {
			t.Errorf("users processed = %d, want 2", stats.UsersProcessed)
		}
		if !stats.HasMoreDue {
			t.Error("expected hasMoreDue=true")
		}
	})

	t.Run("cap covers due count", func(t *testing.T) {
		store := newTestStore(t)
		for _, id := range []string{"alice", "bob", "carol"} {
			seedUser(t, store, id)
		}
		runner := NewRunner(store, &stubFetcher{}, &fakeNotifier{}, discardLogger(), Config{MaxUsersPerRun: 3})

		stats, err := runner.RunDue(ctx, now)
		if err != nil {
			t.Fatalf("run due: %v", err)
		}
		if stats.UsersProcessed != 3 {
			t.Errorf("users processed = %d, want 3", stats.UsersProcessed)
		}
		if stats.HasMoreDue {
			t.Error("expected hasMoreDue=false")
		}
	})
}

func TestRunDueSkipsNotDueUsers(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedUser(t, store, "alice")
	seedUser(t, store, "bob")
	runner := NewRunner(store, &stubFetcher{}, &fakeNotifier{}, discardLogger(), Config{})

	stats, err := runner.RunDue(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("first batch: %v", err)
	}
	if stats.UsersProcessed != 2 {
		t.Fatalf("users processed = %d, want 2", stats.UsersProcessed)
	}

	// Both users just completed a run; nobody is due again yet.
	stats, err = runner.RunDue(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("second batch: %v", err)
	}
	if stats.UsersProcessed != 0 {
		t.Errorf("users processed = %d, want 0", stats.UsersProcessed)
	}
}

// failingStore simulates a storage fault for a single user.
type failingStore struct {
	storage.Storage
	failUser string
}

func (s *failingStore) ListEnabledRules(ctx context.Context, userID string) ([]model.Rule, error) {
	if userID == s.failUser {
		return nil, errors.New("disk I/O error")
	}
	return s.Storage.ListEnabledRules(ctx, userID)
}

func TestRunDueUserFailureIsolation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedUser(t, store, "alice")
	feeds := seedUser(t, store, "bob", "https://example.com/rss")

	fetch := &stubFetcher{feeds: map[string]*gofeed.Feed{feeds[0].URL: rssFeed("Item")}}
	wrapped := &failingStore{Storage: store, failUser: "alice"}
	runner := NewRunner(wrapped, fetch, &fakeNotifier{}, discardLogger(), Config{})

	stats, err := runner.RunDue(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("run due: %v", err)
	}
	if stats.Errors != 1 {
		t.Errorf("errors = %d, want 1", stats.Errors)
	}
	// bob's work completed despite alice's failure.
	if stats.EntriesInserted != 1 {
		t.Errorf("entries = %d, want 1", stats.EntriesInserted)
	}
	if !hasLogMessage(t, store, "bob", model.MsgRunComplete) {
		t.Error("bob's run should have completed")
	}
}
