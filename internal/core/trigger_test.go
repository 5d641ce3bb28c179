package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func weeklyTriggers() Triggers {
	return Triggers{
		Push:        &PushTrigger{Branches: []string{"main"}},
		PullRequest: &PullRequestTrigger{},
		Schedule:    []ScheduleTrigger{{Cron: "0 1 * * 0"}},
	}
}

func TestMatchPush(t *testing.T) {
	tr := weeklyTriggers()

	assert.True(t, tr.Match(Event{Kind: EventPush, Ref: "main"}))
	assert.False(t, tr.Match(Event{Kind: EventPush, Ref: "feature-x"}))

	// No push rule at all: pushes never match.
	assert.False(t, Triggers{}.Match(Event{Kind: EventPush, Ref: "main"}))

	// Empty branch list accepts any branch.
	anyBranch := Triggers{Push: &PushTrigger{}}
	assert.True(t, anyBranch.Match(Event{Kind: EventPush, Ref: "feature-x"}))
}

func TestMatchPullRequest(t *testing.T) {
	tr := weeklyTriggers()

	assert.True(t, tr.Match(Event{Kind: EventPullRequest, Ref: "feature-x"}))
	assert.False(t, Triggers{}.Match(Event{Kind: EventPullRequest}))
}

func TestMatchSchedule(t *testing.T) {
	tr := weeklyTriggers()

	// 2026-01-04 is a Sunday.
	sunday1am := time.Date(2026, 1, 4, 1, 0, 30, 0, time.UTC)
	assert.True(t, tr.Match(Event{Kind: EventSchedule, Time: sunday1am}))

	sunday2am := time.Date(2026, 1, 4, 2, 0, 0, 0, time.UTC)
	assert.False(t, tr.Match(Event{Kind: EventSchedule, Time: sunday2am}))

	monday1am := time.Date(2026, 1, 5, 1, 0, 0, 0, time.UTC)
	assert.False(t, tr.Match(Event{Kind: EventSchedule, Time: monday1am}))

	assert.False(t, Triggers{}.Match(Event{Kind: EventSchedule, Time: sunday1am}))
}

func TestMatchMalformedCronIsInert(t *testing.T) {
	// Validate rejects bad expressions at load time; Match on its own
	// must still treat them as non-matching rather than panic.
	tr := Triggers{Schedule: []ScheduleTrigger{{Cron: "not a cron"}}}
	assert.False(t, tr.Match(Event{Kind: EventSchedule, Time: time.Now()}))
}

func TestMatchUnknownKind(t *testing.T) {
	assert.False(t, weeklyTriggers().Match(Event{Kind: "deployment"}))
}
