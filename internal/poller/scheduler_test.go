package poller

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"rsswatcher/internal/model"
)

func TestDueUsers(t *testing.T) {
	now := time.Date(2026, 8, 18, 12, 0, 0, 0, time.UTC)
	timePtr := func(t time.Time) *time.Time { return &t }

	tests := []struct {
		name   string
		states []model.UserPollState
		want   []string
	}{
		{
			name: "never-run user is due",
			states: []model.UserPollState{
				{UserID: "alice", PollIntervalSeconds: 300},
			},
			want: []string{"alice"},
		},
		{
			name: "interval elapsed",
			states: []model.UserPollState{
				{UserID: "alice", PollIntervalSeconds: 300, LastRunAt: timePtr(now.Add(-301 * time.Second))},
			},
			want: []string{"alice"},
		},
		{
			name: "interval exactly elapsed",
			states: []model.UserPollState{
				{UserID: "alice", PollIntervalSeconds: 300, LastRunAt: timePtr(now.Add(-300 * time.Second))},
			},
			want: []string{"alice"},
		},
		{
			name: "interval not elapsed",
			states: []model.UserPollState{
				{UserID: "alice", PollIntervalSeconds: 300, LastRunAt: timePtr(now.Add(-299 * time.Second))},
			},
			want: nil,
		},
		{
			name: "sixty second floor overrides short interval",
			states: []model.UserPollState{
				{UserID: "alice", PollIntervalSeconds: 5, LastRunAt: timePtr(now.Add(-30 * time.Second))},
			},
			want: nil,
		},
		{
			name: "floor satisfied",
			states: []model.UserPollState{
				{UserID: "alice", PollIntervalSeconds: 5, LastRunAt: timePtr(now.Add(-60 * time.Second))},
			},
			want: []string{"alice"},
		},
		{
			name: "mixed set",
			states: []model.UserPollState{
				{UserID: "alice", PollIntervalSeconds: 300, LastRunAt: timePtr(now.Add(-10 * time.Minute))},
				{UserID: "bob", PollIntervalSeconds: 3600, LastRunAt: timePtr(now.Add(-10 * time.Minute))},
				{UserID: "carol", PollIntervalSeconds: 300},
			},
			want: []string{"alice", "carol"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			due := DueUsers(tt.states, now)
			var ids []string
			for _, u := range due {
				ids = append(ids, u.UserID)
			}
			if diff := cmp.Diff(tt.want, ids); diff != "" {
				t.Errorf("due users mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
