package poller

import (
	"time"

	"rsswatcher/internal/model"
)

// MinPollInterval is the floor applied to every user's configured poll
// interval, independent of stored configuration, bounding worst-case
// load under misconfiguration.
const MinPollInterval = 60 * time.Second

// DueUsers filters poll states down to the users due at now: users who
// have never completed a run, or whose effective interval has elapsed
// since their last completed run. The result keeps the input order;
// the caller imposes any cap.
func DueUsers(states []model.UserPollState, now time.Time) []model.UserPollState {
	var due []model.UserPollState
	for _, st := range states {
		if st.LastRunAt == nil {
			due = append(due, st)
			continue
		}
		interval := time.Duration(st.PollIntervalSeconds) * time.Second
		if interval < MinPollInterval {
			interval = MinPollInterval
		}
		if now.Sub(*st.LastRunAt) >= interval {
			due = append(due, st)
		}
	}
	return due
}
