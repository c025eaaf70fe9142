package models

import "time"

// League lifecycle states. Transitions are owned by the lifecycle service;
// nothing else writes League.State.
const (
	LeagueDraft        = "draft"
	LeagueOpenForEntry = "open_for_entry"
	LeagueLocked       = "locked"
	LeagueInProgress   = "in_progress"
	LeagueCompleted    = "completed"
	LeagueCancelled    = "cancelled"
)

// League formats.
const (
	FormatClassic    = "classic"
	FormatHeadToHead = "head_to_head"
)

// Prize distribution schemes. Splits per scheme live in the standings service.
const (
	DistributionWinnerTakesAll = "winner_takes_all"
	DistributionTop3           = "top_3"
	DistributionTop5           = "top_5"
)

// LeagueTemplate drives automatic league creation: the provisioner stamps out
// one League per active template for each upcoming gameweek.
type LeagueTemplate struct {
	ID                string    `json:"id" gorm:"primaryKey"`
	Key               string    `json:"key" gorm:"uniqueIndex;not null"`
	NamePattern       string    `json:"name_pattern" gorm:"not null"` // e.g. "Weekly Classic GW%d"
	Format            string    `json:"format" gorm:"default:'classic'"`
	EntryFee          float64   `json:"entry_fee" gorm:"default:0"`
	PrizePool         float64   `json:"prize_pool" gorm:"default:0"`
	PrizeDistribution string    `json:"prize_distribution" gorm:"default:'top_3'"`
	Capacity          int       `json:"capacity" gorm:"default:0"` // 0 = unlimited
	IsInvitational    bool      `json:"is_invitational" gorm:"default:false"`
	IsPrivate         bool      `json:"is_private" gorm:"default:false"`
	Active            bool      `json:"active" gorm:"default:true"`
	CreatedAt         time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt         time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// League is one competition instance scoped to a gameweek span.
// The unique index over (template_key, start_gameweek, season) makes
// provisioning idempotent: a repeat create for the same gameweek is a no-op.
type League struct {
	ID                string     `json:"id" gorm:"primaryKey"`
	Slug              string     `json:"slug" gorm:"index"`
	Name              string     `json:"name" gorm:"not null"`
	Format            string     `json:"format" gorm:"default:'classic'"`
	Season            string     `json:"season" gorm:"not null;uniqueIndex:idx_league_provision"`
	TemplateKey       string     `json:"template_key" gorm:"uniqueIndex:idx_league_provision"`
	StartGameweek     int        `json:"start_gameweek" gorm:"not null;uniqueIndex:idx_league_provision"`
	EndGameweek       *int       `json:"end_gameweek,omitempty"` // nil = single-gameweek league
	Capacity          int        `json:"capacity" gorm:"default:0"`
	EntryFee          float64    `json:"entry_fee" gorm:"default:0"`
	PrizePool         float64    `json:"prize_pool" gorm:"default:0"`
	PrizeDistribution string     `json:"prize_distribution" gorm:"default:'top_3'"`
	State             string     `json:"state" gorm:"default:'draft';index"`
	UnlockAt          *time.Time `json:"unlock_at,omitempty"`
	IsInvitational    bool       `json:"is_invitational" gorm:"default:false"`
	IsPrivate         bool       `json:"is_private" gorm:"default:false"`
	CreatedAt         time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt         time.Time  `json:"updated_at" gorm:"autoUpdateTime"`

	// Relationships
	Entries []LeagueEntry `json:"entries,omitempty" gorm:"foreignKey:LeagueID"`
}

// LastGameweek returns the end of the league's gameweek span.
func (l *League) LastGameweek() int {
	if l.EndGameweek != nil && *l.EndGameweek > l.StartGameweek {
		return *l.EndGameweek
	}
	return l.StartGameweek
}

// IsTerminal reports whether the league can transition no further.
func (l *League) IsTerminal() bool {
	return l.State == LeagueCompleted || l.State == LeagueCancelled
}

// LeagueEntry is a participant's roster enrolled in a league. TotalPoints,
// Rank and PayoutEstimate are cached results of the latest standings
// computation — always rewritten wholesale, never patched incrementally.
type LeagueEntry struct {
	ID             string    `json:"id" gorm:"primaryKey"`
	LeagueID       string    `json:"league_id" gorm:"not null;index"`
	RosterID       string    `json:"roster_id" gorm:"not null;index"`
	UserName       string    `json:"user_name"`
	TotalPoints    int       `json:"total_points" gorm:"default:0"`
	Rank           int       `json:"rank" gorm:"default:0"`
	PayoutEstimate float64   `json:"payout_estimate" gorm:"default:0"`
	CreatedAt      time.Time `json:"created_at" gorm:"autoCreateTime"` // deterministic tie-break key
}
