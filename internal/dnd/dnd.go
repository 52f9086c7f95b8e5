// Package dnd decides whether a user's quiet hours suppress a notification at
// a given instant.
package dnd

import "time"

// Rule is one user's quiet window. StartMinute and EndMinute are minutes past
// midnight in Location; the window is [start, end) and wraps midnight when
// start > end. start == end is an empty window.
type Rule struct {
	UserID      string
	StartMinute int
	EndMinute   int
	// Weekdays restricts the rule to the listed days, evaluated on the
	// instant's weekday in Location. An empty set applies every day.
	Weekdays map[time.Weekday]bool
	Location *time.Location
}

// Active reports whether t falls inside the quiet window.
func (r Rule) Active(t time.Time) bool {
	loc := r.Location
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)

	if len(r.Weekdays) > 0 && !r.Weekdays[local.Weekday()] {
		return false
	}

	m := local.Hour()*60 + local.Minute()
	switch {
	case r.StartMinute == r.EndMinute:
		return false
	case r.StartMinute < r.EndMinute:
		return m >= r.StartMinute && m < r.EndMinute
	default:
		return m >= r.StartMinute || m < r.EndMinute
	}
}

// Filter holds the quiet-hours rules of all users for one cycle. It is
// immutable after construction and safe for concurrent use.
type Filter struct {
	rules map[string]Rule
}

// NewFilter indexes rules by user. A later rule for the same user wins.
func NewFilter(rules []Rule) *Filter {
	f := &Filter{rules: make(map[string]Rule, len(rules))}
	for _, r := range rules {
		f.rules[r.UserID] = r
	}
	return f
}

// Allows reports whether a notification may be delivered to the user at t.
// Users without a rule are always allowed.
func (f *Filter) Allows(userID string, t time.Time) bool {
	if f == nil {
		return true
	}
	r, ok := f.rules[userID]
	if !ok {
		return true
	}
	return !r.Active(t)
}

// Len returns the number of users with a rule.
func (f *Filter) Len() int {
	if f == nil {
		return 0
	}
	return len(f.rules)
}

// FromMondayZero converts a weekday numbered Monday=0 .. Sunday=6, as stored
// by the command layer, into a time.Weekday.
func FromMondayZero(d int) time.Weekday {
	return time.Weekday((d + 1) % 7)
}
