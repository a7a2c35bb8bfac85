// Package actor carries the acting user's identity and locale through
// every fulfillment operation instead of reading them from ambient state.
package actor

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

// Actor is the user on whose behalf an operation runs.
type Actor struct {
	UserID    int64
	CompanyID int64
	// Timezone is an IANA zone name; empty means the service default.
	Timezone string
}

// System is used by background jobs and the CLI when no user is supplied.
func System(timezone string) Actor {
	return Actor{Timezone: timezone}
}

// Location resolves the actor's timezone, falling back to fallback when unset.
func (a Actor) Location(fallback string) (*time.Location, error) {
	name := a.Timezone
	if name == "" {
		name = fallback
	}
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return loc, nil
}

// Today returns the actor's current calendar date as midnight UTC.
func Today(now time.Time, loc *time.Location) time.Time {
	return DateOf(now.In(loc))
}

// DateOf drops the clock part of t, keeping its calendar date as midnight UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// LocalMidnightUTC interprets the calendar date as midnight in loc and
// returns that instant in UTC.
func LocalMidnightUTC(date time.Time, loc *time.Location) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc).UTC()
}
