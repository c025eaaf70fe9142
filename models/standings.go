package models

import "time"

// Standings status classification. This — not League.State — decides whether
// a read recomputes or serves the last snapshot.
const (
	StandingsNotStarted = "not_started"
	StandingsLive       = "live"
	StandingsFinal      = "final"
)

// StandingsSnapshot is an immutable, versioned leaderboard for one league.
// A new computation always produces a new snapshot; Version is strictly
// increasing per league (enforced by the unique index), so a concurrent
// writer that lost the race fails the insert and is discarded as stale.
type StandingsSnapshot struct {
	ID         string    `json:"id" gorm:"primaryKey"`
	LeagueID   string    `json:"league_id" gorm:"not null;uniqueIndex:idx_snapshot_league_version"`
	GameweekID int       `json:"gameweek_id"`
	Version    int64     `json:"version" gorm:"not null;uniqueIndex:idx_snapshot_league_version"`
	InputHash  string    `json:"input_hash"` // content hash of the point-event set used
	Status     string    `json:"status"`
	ComputedAt time.Time `json:"computed_at" gorm:"autoCreateTime"`

	// Relationships
	Rankings []SnapshotRanking `json:"rankings,omitempty" gorm:"foreignKey:SnapshotID"`
}

// SnapshotRanking is one row of a published leaderboard.
type SnapshotRanking struct {
	ID         string  `json:"id" gorm:"primaryKey"`
	SnapshotID string  `json:"snapshot_id" gorm:"not null;index"`
	EntryID    string  `json:"entry_id"`
	RosterID   string  `json:"roster_id"`
	UserName   string  `json:"user_name"`
	Points     int     `json:"points"`
	Rank       int     `json:"rank"`
	Payout     float64 `json:"payout"`
	SortOrder  int     `json:"sort_order" gorm:"column:sort_order;default:0"`
}

// PlayerPointEvent is the atomic scoring unit ingested from the stats feed.
// Point values can change retroactively (VAR, stat corrections) even after a
// fixture finishes; the reconciliation check diffs the full set by hash.
type PlayerPointEvent struct {
	ID         string    `json:"id" gorm:"primaryKey"`
	RosterID   string    `json:"roster_id" gorm:"not null;uniqueIndex:idx_point_event_slot"`
	FixtureID  int       `json:"fixture_id" gorm:"not null;uniqueIndex:idx_point_event_slot"`
	PlayerID   string    `json:"player_id" gorm:"uniqueIndex:idx_point_event_slot"`
	GameweekID int       `json:"gameweek_id" gorm:"index"`
	Points     int       `json:"points"`
	Finalized  bool      `json:"finalized" gorm:"default:false"`
	UpdatedAt  time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
