// Package events publishes rate limiter activity to an audit stream.
//
// A Publisher is a creditfence.Observer. It queues events without blocking
// the decision path and writes them to a Sink in batches from its own
// goroutine. RedisSink appends them to a capped Redis stream. The stream is
// an audit trail only; it is never read back into decisions.
package events

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/KanavDutta/creditfence/pkg/creditfence"
)

// Kind distinguishes decision events from sweep events.
type Kind string

const (
	KindDecision Kind = "decision"
	KindSweep    Kind = "sweep"
)

// Event is one audited limiter action.
type Event struct {
	ID   string    `json:"id"`
	Kind Kind      `json:"kind"`
	At   time.Time `json:"at"`

	Route string `json:"route,omitempty"`

	// Decision fields
	Identity  string    `json:"identity,omitempty"`
	Tier      string    `json:"tier,omitempty"`
	Allowed   bool      `json:"allowed"`
	Count     int       `json:"count,omitempty"`
	Credits   int       `json:"credits,omitempty"`
	WindowEnd time.Time `json:"window_end,omitempty"`

	// Sweep fields
	Removed   int `json:"removed,omitempty"`
	Remaining int `json:"remaining,omitempty"`
}

// NewDecisionEvent builds the event for one decision.
func NewDecisionEvent(d creditfence.Decision, at time.Time) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      KindDecision,
		At:        at,
		Route:     d.Route,
		Identity:  d.Key,
		Tier:      d.Tier.String(),
		Allowed:   d.Allowed,
		Count:     d.Count,
		Credits:   d.Credits,
		WindowEnd: d.ResetAt,
	}
}

// NewSweepEvent builds the event for one sweep pass.
func NewSweepEvent(route string, removed, remaining int, at time.Time) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      KindSweep,
		At:        at,
		Route:     route,
		Removed:   removed,
		Remaining: remaining,
	}
}

// Values flattens the event into stream fields.
func (e Event) Values() map[string]interface{} {
	v := map[string]interface{}{
		"id":    e.ID,
		"kind":  string(e.Kind),
		"at":    e.At.UTC().Format(time.RFC3339Nano),
		"route": e.Route,
	}
	switch e.Kind {
	case KindDecision:
		v["identity"] = e.Identity
		v["tier"] = e.Tier
		v["allowed"] = strconv.FormatBool(e.Allowed)
		v["count"] = strconv.Itoa(e.Count)
		v["credits"] = strconv.Itoa(e.Credits)
		v["window_end"] = e.WindowEnd.UTC().Format(time.RFC3339Nano)
	case KindSweep:
		v["removed"] = strconv.Itoa(e.Removed)
		v["remaining"] = strconv.Itoa(e.Remaining)
	}
	return v
}

// eventFromValues is the inverse of Values. Unknown or malformed fields are
// left at their zero value.
func eventFromValues(values map[string]interface{}) Event {
	str := func(key string) string {
		s, _ := values[key].(string)
		return s
	}
	num := func(key string) int {
		n, _ := strconv.Atoi(str(key))
		return n
	}
	ts := func(key string) time.Time {
		t, _ := time.Parse(time.RFC3339Nano, str(key))
		return t
	}

	e := Event{
		ID:    str("id"),
		Kind:  Kind(str("kind")),
		At:    ts("at"),
		Route: str("route"),
	}
	switch e.Kind {
	case KindDecision:
		e.Identity = str("identity")
		e.Tier = str("tier")
		e.Allowed, _ = strconv.ParseBool(str("allowed"))
		e.Count = num("count")
		e.Credits = num("credits")
		e.WindowEnd = ts("window_end")
	case KindSweep:
		e.Removed = num("removed")
		e.Remaining = num("remaining")
	}
	return e
}
