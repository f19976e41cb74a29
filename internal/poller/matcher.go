package poller

import (
	"strings"

	"rsswatcher/internal/model"
)

// RuleMatches reports whether a keyword rule applies to an entry seen
// on the given feed. Disabled rules never match, a feed-scoped rule
// only matches its own feed, and an empty keyword matches nothing.
// Matching is a case-insensitive substring test against the entry's
// title and summary.
func RuleMatches(rule model.Rule, feedID int64, entry model.Entry) bool {
	if !rule.Enabled {
		return false
	}
	if rule.FeedID != nil && *rule.FeedID != feedID {
		return false
	}

	keyword := strings.ToLower(strings.TrimSpace(rule.Keyword))
	if keyword == "" {
		return false
	}

	haystack := strings.ToLower(entry.Title + " " + deref(entry.Summary))
	return strings.Contains(haystack, keyword)
}

// CollectMatches returns the rules that match the entry, preserving
// input order. One alert attempt is fanned out per returned rule.
func CollectMatches(rules []model.Rule, feedID int64, entry model.Entry) []model.Rule {
	var matched []model.Rule
	for _, rule := range rules {
		if RuleMatches(rule, feedID, entry) {
			matched = append(matched, rule)
		}
	}
	return matched
}
