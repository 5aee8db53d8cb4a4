// Package activehours gates proactive surfacing (daily review, exact-time
// check) to a configured time-of-day window in a named IANA timezone.
package activehours

import (
	"fmt"
	"time"
)

// Window is a "HH:MM"-"HH:MM" window in a timezone. An empty Start/End
// means "always active" (no gating).
type Window struct {
	Start    string
	End      string
	Timezone string
}

// Active reports whether at is within the window. End < Start is treated
// as an overnight window wrapping past midnight (e.g. 22:00-06:00); End ==
// Start is treated as always active.
func (w Window) Active(at time.Time) (bool, error) {
	if w.Start == "" || w.End == "" {
		return true, nil
	}
	loc := time.UTC
	if w.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(w.Timezone)
		if err != nil {
			return false, fmt.Errorf("activehours: load timezone %q: %w", w.Timezone, err)
		}
	}
	local := at.In(loc)
	nowMinutes := local.Hour()*60 + local.Minute()

	start, err := parseHHMM(w.Start)
	if err != nil {
		return false, fmt.Errorf("activehours: start: %w", err)
	}
	end, err := parseHHMM(w.End)
	if err != nil {
		return false, fmt.Errorf("activehours: end: %w", err)
	}

	if start == end {
		return true, nil // zero-width window means "always active"
	}
	if start < end {
		return nowMinutes >= start && nowMinutes < end, nil
	}
	// Overnight window: active from start through midnight, then from
	// midnight through end.
	return nowMinutes >= start || nowMinutes < end, nil
}

func parseHHMM(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse %q as HH:MM: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}
