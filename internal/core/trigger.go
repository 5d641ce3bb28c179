package core

import (
	"time"

	"github.com/robfig/cron/v3"
)

// EventKind classifies an incoming event.
type EventKind string

const (
	EventPush        EventKind = "push"
	EventPullRequest EventKind = "pull_request"
	EventSchedule    EventKind = "schedule"
)

// Event is one incoming occurrence the trigger rules are evaluated
// against. Ref carries the branch for pushes and the head branch for
// pull requests; Time is the firing instant for schedule events.
type Event struct {
	Kind EventKind `json:"kind"`
	Ref  string    `json:"ref"`
	Time time.Time `json:"time"`
}

// Match reports whether the event starts a run under these trigger
// rules. A non-match is inaction, not an error: malformed cron
// expressions are rejected at parse time by Validate, so they are
// treated as non-matching here.
func (t Triggers) Match(ev Event) bool {
	switch ev.Kind {
	case EventPush:
		if t.Push == nil {
			return false
		}
		if len(t.Push.Branches) == 0 {
			return true
		}
		for _, b := range t.Push.Branches {
			if b == ev.Ref {
				return true
			}
		}
		return false
	case EventPullRequest:
		return t.PullRequest != nil
	case EventSchedule:
		for _, s := range t.Schedule {
			if cronMatches(s.Cron, ev.Time) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// cronMatches reports whether at (truncated to the minute) is an
// activation instant of the expression.
func cronMatches(expr string, at time.Time) bool {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return false
	}
	at = at.Truncate(time.Minute)
	return sched.Next(at.Add(-time.Second)).Equal(at)
}
