package models

import "time"

// Fixture status values as reported by the schedule oracle.
const (
	FixtureScheduled = "scheduled"
	FixtureLive      = "live"
	FixturePostponed = "postponed"
	FixtureFinished  = "finished"
)

// Gameweek is a scoring window in the external schedule. The oracle owns it;
// this service only observes, never mutates.
type Gameweek struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	Deadline  time.Time `json:"deadline"`
	IsCurrent bool      `json:"is_current"`
	Ended     bool      `json:"ended"`
}

// Fixture is a single match contributing point events within a gameweek.
type Fixture struct {
	ID          int       `json:"id"`
	GameweekID  int       `json:"gameweek_id"`
	Status      string    `json:"status"`
	KickoffTime time.Time `json:"kickoff_time"`
}

// IsFinished reports whether the fixture has fully resolved. A postponed
// fixture is NOT finished — it keeps its gameweek open until it resolves.
func (f Fixture) IsFinished() bool {
	return f.Status == FixtureFinished
}
