package poller

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/mmcdole/gofeed"

	"rsswatcher/internal/model"
)

const summaryKeyPrefix = 256

// NormalizeItem converts a raw feed item into a canonical entry with a
// stable content-addressed key. It returns ok=false when the item has
// no usable identity (no guid, link, or title); such items are skipped
// by the caller, not treated as errors.
func NormalizeItem(item *gofeed.Item) (model.Entry, bool) {
	guid := strings.TrimSpace(item.GUID)
	sourceTitle := strings.TrimSpace(item.Title)
	link := firstNonEmpty(item.Link, guid)

	if guid == "" && link == "" && sourceTitle == "" {
		return model.Entry{}, false
	}

	title := sourceTitle
	if title == "" {
		title = "(untitled)"
	}

	published := optional(firstNonEmpty(item.Published, item.Updated))
	summary := optional(firstNonEmpty(item.Description, item.Content))

	key := entryKey(guid, link, title, published, summary)
	if link == "" {
		link = "about:blank"
	}

	return model.Entry{
		EntryKey:  key,
		Link:      link,
		Title:     title,
		Published: published,
		Summary:   summary,
	}, true
}

// entryKey hashes the guid when the item has one. Without a guid it
// hashes a composite of the other identifying fields, so a republished
// unchanged item keys the same and an edited one keys differently.
func entryKey(guid, link, title string, published, summary *string) string {
	source := guid
	if source == "" {
		source = link + "|" + title + "|" + deref(published) + "|" + truncate(deref(summary), summaryKeyPrefix)
	}
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
