package services

import (
	"context"
	"time"

	"fantasy-league-system/models"
)

// GameweekView is one consistent read of the oracle, built once per scheduler
// cycle (or per standings request) and shared by every consumer so the
// "has the gameweek ended" answer cannot diverge between them.
type GameweekView struct {
	Current  models.Gameweek
	Fixtures map[int][]models.Fixture
	Now      time.Time
}

// BuildGameweekView fetches the current gameweek plus fixtures for the union
// of the current gameweek and every requested gameweek.
func BuildGameweekView(ctx context.Context, oracle OracleSource, gameweeks []int) (*GameweekView, error) {
	current, err := oracle.CurrentGameweek(ctx)
	if err != nil {
		return nil, err
	}

	want := map[int]bool{current.ID: true}
	for _, gw := range gameweeks {
		if gw > 0 && gw <= current.ID {
			want[gw] = true
		}
	}

	view := &GameweekView{
		Current:  current,
		Fixtures: make(map[int][]models.Fixture, len(want)),
		Now:      time.Now().UTC(),
	}
	for gw := range want {
		fixtures, err := oracle.Fixtures(ctx, gw)
		if err != nil {
			return nil, err
		}
		view.Fixtures[gw] = fixtures
	}
	return view, nil
}

// DeadlinePassed reports whether a gameweek's entry deadline has elapsed.
// Anything before the current gameweek is past by definition; anything after
// it has not started.
func (v *GameweekView) DeadlinePassed(gameweekID int) bool {
	if gameweekID < v.Current.ID {
		return true
	}
	if gameweekID > v.Current.ID {
		return false
	}
	return v.Now.After(v.Current.Deadline)
}

// HasLiveFixture reports whether any known fixture of the gameweek is live.
func (v *GameweekView) HasLiveFixture(gameweekID int) bool {
	for _, f := range v.Fixtures[gameweekID] {
		if f.Status == models.FixtureLive {
			return true
		}
	}
	return false
}

// HasStartedFixture reports whether any fixture of the gameweek is live or
// already finished.
func (v *GameweekView) HasStartedFixture(gameweekID int) bool {
	for _, f := range v.Fixtures[gameweekID] {
		if f.Status == models.FixtureLive || f.Status == models.FixtureFinished {
			return true
		}
	}
	return false
}

// AllFinished reports whether every known fixture of the gameweek is
// finished. An empty fixture set is NOT finished — no data means we cannot
// declare the gameweek settled.
func (v *GameweekView) AllFinished(gameweekID int) bool {
	fixtures := v.Fixtures[gameweekID]
	if len(fixtures) == 0 {
		return false
	}
	for _, f := range fixtures {
		if !f.IsFinished() {
			return false
		}
	}
	return true
}

// SpanFinished reports whether every fixture in the inclusive gameweek span
// is finished. A span reaching past the current gameweek cannot be finished.
func (v *GameweekView) SpanFinished(startGameweek, endGameweek int) bool {
	if endGameweek > v.Current.ID {
		return false
	}
	for gw := startGameweek; gw <= endGameweek; gw++ {
		if !v.AllFinished(gw) {
			return false
		}
	}
	return true
}

// Ended is the two-step verification that the current gameweek is over:
// (1) the oracle's own metadata says the window has elapsed, AND (2) every
// fixture in it reports finished. The deadline alone is unsafe — postponed
// fixtures routinely resolve after it.
func (v *GameweekView) Ended() bool {
	windowElapsed := v.Current.Ended || v.Now.After(v.Current.Deadline)
	if !windowElapsed {
		return false
	}
	return v.AllFinished(v.Current.ID)
}
