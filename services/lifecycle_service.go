package services

import (
	"context"
	"errors"
	"log"

	"fantasy-league-system/models"

	"gorm.io/gorm"
)

// allowedTransitions is the full transition table. CANCELLED is reachable
// from every non-terminal state; nothing leaves COMPLETED or CANCELLED.
var allowedTransitions = map[string][]string{
	models.LeagueDraft:        {models.LeagueOpenForEntry, models.LeagueCancelled},
	models.LeagueOpenForEntry: {models.LeagueLocked, models.LeagueCancelled},
	models.LeagueLocked:       {models.LeagueInProgress, models.LeagueCancelled},
	models.LeagueInProgress:   {models.LeagueCompleted, models.LeagueCancelled},
	models.LeagueCompleted:    {},
	models.LeagueCancelled:    {},
}

// TransitionAllowed reports whether from → to is in the transition table.
func TransitionAllowed(from, to string) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextState is the pure state machine: given the league and one oracle view
// it returns the state the league should be in. Re-evaluating a league that
// is already correct returns the same state, so evaluation is idempotent and
// safe to retry. DRAFT is untouched here — unlocking drafts is the
// provisioner's call (it owns the unlock-time condition).
func NextState(league *models.League, view *GameweekView) string {
	switch league.State {
	case models.LeagueOpenForEntry:
		if view.DeadlinePassed(league.StartGameweek) {
			return models.LeagueLocked
		}
	case models.LeagueLocked:
		// Live fixture starts the league; an already-finished fixture means
		// we missed the live window and must catch up.
		if view.HasStartedFixture(league.StartGameweek) {
			return models.LeagueInProgress
		}
	case models.LeagueInProgress:
		// Every fixture in the span must be FINISHED. A postponed fixture
		// keeps the league in progress until it resolves — no early payout.
		if view.SpanFinished(league.StartGameweek, league.LastGameweek()) {
			return models.LeagueCompleted
		}
	}
	return league.State
}

// LifecycleService owns league state transitions. League.State is mutated
// here and nowhere else.
type LifecycleService struct {
	DB     *gorm.DB
	Oracle OracleSource
	Payout PayoutNotifier
}

func NewLifecycleService(db *gorm.DB, oracle OracleSource, payout PayoutNotifier) *LifecycleService {
	return &LifecycleService{DB: db, Oracle: oracle, Payout: payout}
}

// EvaluateLeague re-evaluates one league against a fresh oracle view and
// applies the resulting transition, if any. Returns the league's (possibly
// unchanged) state.
func (s *LifecycleService) EvaluateLeague(ctx context.Context, leagueID string) (string, error) {
	var league models.League
	if err := s.DB.WithContext(ctx).First(&league, "id = ?", leagueID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrLeagueNotFound
		}
		return "", err
	}
	if league.IsTerminal() {
		return league.State, nil
	}

	view, err := BuildGameweekView(ctx, s.Oracle, spanGameweeks(&league))
	if err != nil {
		return "", err
	}
	return s.EvaluateWithView(ctx, &league, view)
}

// EvaluateWithView runs the state machine against an already-built view. The
// scheduler uses this so every league in a cycle sees the same oracle read.
func (s *LifecycleService) EvaluateWithView(ctx context.Context, league *models.League, view *GameweekView) (string, error) {
	next := NextState(league, view)
	if next == league.State {
		return next, nil
	}
	if err := s.ApplyTransition(ctx, league, next); err != nil {
		return league.State, err
	}
	return next, nil
}

// ApplyTransition validates and persists a single state change. The write is
// guarded on the expected current state, so a concurrent transition simply
// makes this one a no-op (re-evaluation will converge next cycle). Cascading
// notifications fire only after the commit lands.
func (s *LifecycleService) ApplyTransition(ctx context.Context, league *models.League, next string) error {
	if next == league.State {
		return nil
	}
	if !TransitionAllowed(league.State, next) {
		log.Printf("[Lifecycle] rejected transition %s → %s for league %s", league.State, next, league.ID)
		return ErrInvalidTransition
	}

	prev := league.State
	var applied bool
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.League{}).
			Where("id = ? AND state = ?", league.ID, prev).
			Update("state", next)
		if res.Error != nil {
			return res.Error
		}
		applied = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return err
	}
	if !applied {
		// Lost the race to another evaluator; state machine converges on the
		// next pass.
		log.Printf("[Lifecycle] league %s no longer in %s, skipping %s", league.ID, prev, next)
		return nil
	}

	league.State = next
	log.Printf("[Lifecycle] league %s (%s): %s → %s", league.ID, league.Name, prev, next)

	switch next {
	case models.LeagueLocked:
		log.Printf("[Lifecycle] league %s locked — entries closed for gameweek %d", league.ID, league.StartGameweek)
	case models.LeagueCompleted:
		if s.Payout != nil {
			if err := s.Payout.NotifyCompleted(ctx, league.ID); err != nil {
				// Payout processor is retried out of band; completion stands.
				log.Printf("[Lifecycle] payout notification failed for league %s: %v", league.ID, err)
			}
		}
	case models.LeagueCancelled:
		log.Printf("[Lifecycle] league %s cancelled — payout processing blocked", league.ID)
	}
	return nil
}

// CancelLeague is the administrative escape hatch. Valid from any
// non-terminal state; cancelling an already-cancelled league is a no-op.
func (s *LifecycleService) CancelLeague(ctx context.Context, leagueID, reason string) error {
	var league models.League
	if err := s.DB.WithContext(ctx).First(&league, "id = ?", leagueID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrLeagueNotFound
		}
		return err
	}
	if league.State == models.LeagueCancelled {
		return nil
	}
	if err := s.ApplyTransition(ctx, &league, models.LeagueCancelled); err != nil {
		return err
	}
	log.Printf("[Lifecycle] league %s cancelled by admin: %s", leagueID, reason)
	return nil
}

// spanGameweeks lists every gameweek in the league's span, for view building.
func spanGameweeks(l *models.League) []int {
	gws := make([]int, 0, l.LastGameweek()-l.StartGameweek+1)
	for gw := l.StartGameweek; gw <= l.LastGameweek(); gw++ {
		gws = append(gws, gw)
	}
	return gws
}
