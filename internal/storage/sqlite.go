package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"rsswatcher/internal/model"
	"rsswatcher/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// CreateUser inserts a user row with an externally assigned identity.
// Inserting an existing id is a no-op.
func (s *SQLite) CreateUser(ctx context.Context, userID string) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO users (id, created_at) VALUES (?, ?)`, userID, now)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// CreateFeed inserts a new feed and populates its ID and CreatedAt.
func (s *SQLite) CreateFeed(ctx context.Context, feed *model.Feed) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO feeds (user_id, name, url, enabled, armed, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		feed.UserID, feed.Name, feed.URL, boolToInt(feed.Enabled), boolToInt(feed.Armed), now,
	)
	if err != nil {
		return fmt.Errorf("insert feed: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	feed.ID = id
	feed.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetFeed returns a single feed by its ID.
func (s *SQLite) GetFeed(ctx context.Context, id int64) (*model.Feed, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, url, enabled, armed, created_at FROM feeds WHERE id = ?`, id,
	)
	return scanFeed(row)
}

// ListFeeds returns all feeds belonging to the given user.
func (s *SQLite) ListFeeds(ctx context.Context, userID string) ([]model.Feed, error) {
	return s.queryFeeds(ctx,
		`SELECT id, user_id, name, url, enabled, armed, created_at
		 FROM feeds WHERE user_id = ? ORDER BY id`, userID)
}

// ListEnabledFeeds returns the user's enabled feeds in insertion order.
func (s *SQLite) ListEnabledFeeds(ctx context.Context, userID string) ([]model.Feed, error) {
	return s.queryFeeds(ctx,
		`SELECT id, user_id, name, url, enabled, armed, created_at
		 FROM feeds WHERE user_id = ? AND enabled = 1 ORDER BY id`, userID)
}

func (s *SQLite) queryFeeds(ctx context.Context, query string, args ...any) ([]model.Feed, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query feeds: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var feeds []model.Feed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, *f)
	}
	return feeds, rows.Err()
}

// SetFeedEnabled toggles a feed's enabled flag.
func (s *SQLite) SetFeedEnabled(ctx context.Context, id int64, enabled bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE feeds SET enabled = ? WHERE id = ?`, boolToInt(enabled), id)
	if err != nil {
		return fmt.Errorf("update feed enabled: %w", err)
	}
	return nil
}

// MarkFeedsArmed sets armed=true for the given feeds. Arming is
// monotonic and idempotent; an empty input is a no-op.
func (s *SQLite) MarkFeedsArmed(ctx context.Context, feedIDs []int64) error {
	if len(feedIDs) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(feedIDs)), ",")
	args := make([]any, len(feedIDs))
	for i, id := range feedIDs {
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE feeds SET armed = 1 WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("mark feeds armed: %w", err)
	}
	return nil
}

// CreateRule inserts a new rule and populates its ID and CreatedAt.
func (s *SQLite) CreateRule(ctx context.Context, rule *model.Rule) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO rules (user_id, feed_id, keyword, enabled, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rule.UserID, rule.FeedID, rule.Keyword, boolToInt(rule.Enabled), now,
	)
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	rule.ID = id
	rule.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// ListRules returns all rules belonging to the given user.
func (s *SQLite) ListRules(ctx context.Context, userID string) ([]model.Rule, error) {
	return s.queryRules(ctx,
		`SELECT id, user_id, feed_id, keyword, enabled, created_at
		 FROM rules WHERE user_id = ? ORDER BY id`, userID)
}

// ListEnabledRules returns the user's enabled rules in insertion order.
func (s *SQLite) ListEnabledRules(ctx context.Context, userID string) ([]model.Rule, error) {
	return s.queryRules(ctx,
		`SELECT id, user_id, feed_id, keyword, enabled, created_at
		 FROM rules WHERE user_id = ? AND enabled = 1 ORDER BY id`, userID)
}

func (s *SQLite) queryRules(ctx context.Context, query string, args ...any) ([]model.Rule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rules []model.Rule
	for rows.Next() {
		var r model.Rule
		var feedID sql.NullInt64
		var enabled int
		var created string
		if err := rows.Scan(&r.ID, &r.UserID, &feedID, &r.Keyword, &enabled, &created); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		if feedID.Valid {
			v := feedID.Int64
			r.FeedID = &v
		}
		r.Enabled = enabled == 1
		r.CreatedAt, _ = time.Parse(timeLayout, created)
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// StoreEntryIfNew inserts the entry keyed on (feedID, entryKey). The
// insert and the conflict check are a single atomic statement; on
// conflict the existing row is fetched and returned with created=false.
func (s *SQLite) StoreEntryIfNew(ctx context.Context, userID string, feedID int64, entry model.Entry) (bool, *model.Entry, error) {
	now := time.Now().UTC().Format(timeLayout)
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO entries (user_id, feed_id, entry_key, link, title, published, summary, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (feed_id, entry_key) DO NOTHING
		 RETURNING id, user_id, feed_id, entry_key, link, title, published, summary, created_at`,
		userID, feedID, entry.EntryKey, entry.Link, entry.Title, entry.Published, entry.Summary, now,
	)
	stored, err := scanEntry(row)
	if err == nil {
		return true, stored, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, nil, fmt.Errorf("insert entry: %w", err)
	}

	row = s.db.QueryRowContext(ctx,
		`SELECT id, user_id, feed_id, entry_key, link, title, published, summary, created_at
		 FROM entries WHERE feed_id = ? AND entry_key = ?`,
		feedID, entry.EntryKey,
	)
	stored, err = scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil, fmt.Errorf("entry (%d, %s): %w", feedID, entry.EntryKey, ErrInvariantViolation)
	}
	if err != nil {
		return false, nil, fmt.Errorf("select entry: %w", err)
	}
	return false, stored, nil
}

// StoreAlertIfNew inserts an alert keyed on (entryID, ruleID) with the
// same atomic insert-or-fetch contract as StoreEntryIfNew.
func (s *SQLite) StoreAlertIfNew(ctx context.Context, userID string, entryID, ruleID int64, keyword string) (bool, int64, error) {
	now := time.Now().UTC().Format(timeLayout)
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO alerts (user_id, entry_id, rule_id, keyword, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (entry_id, rule_id) DO NOTHING
		 RETURNING id`,
		userID, entryID, ruleID, keyword, now,
	).Scan(&id)
	if err == nil {
		return true, id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, 0, fmt.Errorf("insert alert: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM alerts WHERE entry_id = ? AND rule_id = ?`, entryID, ruleID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, 0, fmt.Errorf("alert (%d, %d): %w", entryID, ruleID, ErrInvariantViolation)
	}
	if err != nil {
		return false, 0, fmt.Errorf("select alert: %w", err)
	}
	return false, id, nil
}

// SaveNotificationSettings upserts the user's settings record.
func (s *SQLite) SaveNotificationSettings(ctx context.Context, settings *model.NotificationSettings) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_settings (
		    user_id, poll_interval_seconds,
		    pushover_app_token, pushover_user_key,
		    telegram_bot_token, telegram_chat_id,
		    smtp_host, smtp_port, smtp_user, smtp_pass, smtp_from, smtp_to)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET
		    poll_interval_seconds = excluded.poll_interval_seconds,
		    pushover_app_token = excluded.pushover_app_token,
		    pushover_user_key = excluded.pushover_user_key,
		    telegram_bot_token = excluded.telegram_bot_token,
		    telegram_chat_id = excluded.telegram_chat_id,
		    smtp_host = excluded.smtp_host,
		    smtp_port = excluded.smtp_port,
		    smtp_user = excluded.smtp_user,
		    smtp_pass = excluded.smtp_pass,
		    smtp_from = excluded.smtp_from,
		    smtp_to = excluded.smtp_to`,
		settings.UserID, settings.PollIntervalSeconds,
		settings.PushoverAppToken, settings.PushoverUserKey,
		settings.TelegramBotToken, settings.TelegramChatID,
		settings.SMTPHost, settings.SMTPPort, settings.SMTPUser,
		settings.SMTPPass, settings.SMTPFrom, settings.SMTPTo,
	)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// GetNotificationSettings returns the user's settings, or nil when the
// user has no settings record.
func (s *SQLite) GetNotificationSettings(ctx context.Context, userID string) (*model.NotificationSettings, error) {
	var st model.NotificationSettings
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, poll_interval_seconds,
		        pushover_app_token, pushover_user_key,
		        telegram_bot_token, telegram_chat_id,
		        smtp_host, smtp_port, smtp_user, smtp_pass, smtp_from, smtp_to
		 FROM user_settings WHERE user_id = ?`, userID,
	).Scan(
		&st.UserID, &st.PollIntervalSeconds,
		&st.PushoverAppToken, &st.PushoverUserKey,
		&st.TelegramBotToken, &st.TelegramChatID,
		&st.SMTPHost, &st.SMTPPort, &st.SMTPUser, &st.SMTPPass, &st.SMTPFrom, &st.SMTPTo,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select settings: %w", err)
	}
	return &st, nil
}

// AppendLog writes one audit event and populates its ID and TS.
func (s *SQLite) AppendLog(ctx context.Context, event *model.LogEvent) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO user_log (user_id, level, area, message, feed_id, rule_id, entry_link, error, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.UserID, event.Level, event.Area, event.Message,
		event.FeedID, event.RuleID, event.EntryLink, event.Error, now,
	)
	if err != nil {
		return fmt.Errorf("insert log event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	event.ID = id
	event.TS, _ = time.Parse(timeLayout, now)
	return nil
}

// ListRecentLog returns the user's newest log events, newest first.
func (s *SQLite) ListRecentLog(ctx context.Context, userID string, limit int) ([]model.LogEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, level, area, message, feed_id, rule_id, entry_link, error, ts
		 FROM user_log WHERE user_id = ? ORDER BY id DESC LIMIT ?`, userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []model.LogEvent
	for rows.Next() {
		var e model.LogEvent
		var feedID, ruleID sql.NullInt64
		var ts string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Level, &e.Area, &e.Message,
			&feedID, &ruleID, &e.EntryLink, &e.Error, &ts); err != nil {
			return nil, fmt.Errorf("scan log event: %w", err)
		}
		if feedID.Valid {
			v := feedID.Int64
			e.FeedID = &v
		}
		if ruleID.Valid {
			v := ruleID.Int64
			e.RuleID = &v
		}
		e.TS, _ = time.Parse(timeLayout, ts)
		events = append(events, e)
	}
	return events, rows.Err()
}

// ListUserPollStates returns, for every user with a settings record,
// the configured interval and the timestamp of the most recent
// completed run taken from the audit log.
func (s *SQLite) ListUserPollStates(ctx context.Context) ([]model.UserPollState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.id, us.poll_interval_seconds,
		        (SELECT MAX(ul.ts) FROM user_log ul
		          WHERE ul.user_id = u.id AND ul.area = ? AND ul.message = ?)
		 FROM users u
		 INNER JOIN user_settings us ON us.user_id = u.id`,
		model.AreaPoller, model.MsgRunComplete,
	)
	if err != nil {
		return nil, fmt.Errorf("query poll states: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var states []model.UserPollState
	for rows.Next() {
		var st model.UserPollState
		var last sql.NullString
		if err := rows.Scan(&st.UserID, &st.PollIntervalSeconds, &last); err != nil {
			return nil, fmt.Errorf("scan poll state: %w", err)
		}
		if last.Valid {
			t, _ := time.Parse(timeLayout, last.String)
			st.LastRunAt = &t
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

// RecentRunStatus derives the user's last completed run and last error
// from the newest poller log events.
func (s *SQLite) RecentRunStatus(ctx context.Context, userID string) (model.RunStatus, error) {
	var status model.RunStatus

	rows, err := s.db.QueryContext(ctx,
		`SELECT level, message, ts FROM user_log
		 WHERE user_id = ? AND area = ? ORDER BY id DESC LIMIT 100`,
		userID, model.AreaPoller,
	)
	if err != nil {
		return status, fmt.Errorf("query run status: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var level, message, raw string
		if err := rows.Scan(&level, &message, &raw); err != nil {
			return status, fmt.Errorf("scan run status: %w", err)
		}
		ts, _ := time.Parse(timeLayout, raw)
		if status.LastRunAt == nil && message == model.MsgRunComplete {
			t := ts
			status.LastRunAt = &t
		}
		if status.LastErrorAt == nil && level == model.LevelError {
			t := ts
			status.LastErrorAt = &t
		}
		if status.LastRunAt != nil && status.LastErrorAt != nil {
			break
		}
	}
	return status, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scannable interface {
	Scan(dest ...any) error
}

func scanFeed(row scannable) (*model.Feed, error) {
	var f model.Feed
	var enabled, armed int
	var created string
	err := row.Scan(&f.ID, &f.UserID, &f.Name, &f.URL, &enabled, &armed, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan feed: %w", err)
	}
	f.Enabled = enabled == 1
	f.Armed = armed == 1
	f.CreatedAt, _ = time.Parse(timeLayout, created)
	return &f, nil
}

func scanEntry(row scannable) (*model.Entry, error) {
	var e model.Entry
	var published, summary sql.NullString
	var created string
	err := row.Scan(&e.ID, &e.UserID, &e.FeedID, &e.EntryKey, &e.Link, &e.Title,
		&published, &summary, &created)
	if err != nil {
		return nil, err
	}
	if published.Valid {
		v := published.String
		e.Published = &v
	}
	if summary.Valid {
		v := summary.String
		e.Summary = &v
	}
	e.CreatedAt, _ = time.Parse(timeLayout, created)
	return &e, nil
}
