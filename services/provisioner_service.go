package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"fantasy-league-system/models"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

// ProvisionerService stamps out leagues for upcoming gameweeks from the
// active templates and opens them for entry once the previous gameweek has
// truly ended.
type ProvisionerService struct {
	DB        *gorm.DB
	Oracle    OracleSource
	Lifecycle *LifecycleService
	Season    string
}

func NewProvisionerService(db *gorm.DB, oracle OracleSource, lifecycle *LifecycleService, season string) *ProvisionerService {
	return &ProvisionerService{DB: db, Oracle: oracle, Lifecycle: lifecycle, Season: season}
}

// CreateLeaguesForNextGameweek creates one DRAFT league per active template
// for the gameweek after the oracle's current one. The unlock time is derived
// from the current (i.e. previous, relative to the new leagues) gameweek's
// deadline — actually unlocking still waits for the two-step ended check.
func (s *ProvisionerService) CreateLeaguesForNextGameweek(ctx context.Context) (int, error) {
	current, err := s.Oracle.CurrentGameweek(ctx)
	if err != nil {
		return 0, err
	}
	return s.CreateLeaguesForGameweek(ctx, current.ID+1, current.Deadline)
}

// CreateLeaguesForGameweek is idempotent per (template key, gameweek,
// season): templates that already produced a league for this gameweek are
// skipped, so repeat calls are no-ops, not errors.
func (s *ProvisionerService) CreateLeaguesForGameweek(ctx context.Context, gameweekID int, unlockAt time.Time) (int, error) {
	var templates []models.LeagueTemplate
	if err := s.DB.WithContext(ctx).Where("active = ?", true).Find(&templates).Error; err != nil {
		return 0, err
	}

	created := 0
	for _, tpl := range templates {
		var count int64
		err := s.DB.WithContext(ctx).Model(&models.League{}).
			Where("template_key = ? AND start_gameweek = ? AND season = ?", tpl.Key, gameweekID, s.Season).
			Count(&count).Error
		if err != nil {
			return created, err
		}
		if count > 0 {
			continue
		}

		name := renderNamePattern(tpl.NamePattern, gameweekID)
		unlock := unlockAt
		league := models.League{
			ID:                uuid.NewString(),
			Slug:              slug.Make(fmt.Sprintf("%s %s", name, s.Season)),
			Name:              name,
			Format:            tpl.Format,
			Season:            s.Season,
			TemplateKey:       tpl.Key,
			StartGameweek:     gameweekID,
			Capacity:          tpl.Capacity,
			EntryFee:          tpl.EntryFee,
			PrizePool:         tpl.PrizePool,
			PrizeDistribution: tpl.PrizeDistribution,
			State:             models.LeagueDraft,
			UnlockAt:          &unlock,
			IsInvitational:    tpl.IsInvitational,
			IsPrivate:         tpl.IsPrivate,
		}
		if err := s.DB.WithContext(ctx).Create(&league).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				// Concurrent provisioner won the race; same no-op as the
				// count check above.
				continue
			}
			log.Printf("[Provisioner] failed to create league from template %s for GW%d: %v", tpl.Key, gameweekID, err)
			continue
		}
		created++
		log.Printf("[Provisioner] created league %s (%s) for GW%d, unlocks at %s", league.ID, league.Name, gameweekID, unlock.Format(time.RFC3339))
	}
	return created, nil
}

// UnlockLeaguesForEntry moves every DRAFT league whose unlock condition is
// met into OPEN_FOR_ENTRY. forceUnlock bypasses the gameweek-ended check for
// manual administrative overrides and is logged as such.
func (s *ProvisionerService) UnlockLeaguesForEntry(ctx context.Context, forceUnlock bool) (int, error) {
	view, err := BuildGameweekView(ctx, s.Oracle, nil)
	if err != nil {
		return 0, err
	}
	return s.UnlockWithView(ctx, view, forceUnlock)
}

// UnlockWithView runs the unlock pass against an already-built view (the
// scheduler shares one view across the whole cycle).
func (s *ProvisionerService) UnlockWithView(ctx context.Context, view *GameweekView, forceUnlock bool) (int, error) {
	var drafts []models.League
	if err := s.DB.WithContext(ctx).Where("state = ?", models.LeagueDraft).Find(&drafts).Error; err != nil {
		return 0, err
	}

	unlocked := 0
	for i := range drafts {
		league := &drafts[i]
		if !forceUnlock && !unlockDue(league, view) {
			continue
		}
		if forceUnlock {
			log.Printf("[Provisioner] FORCE unlock for league %s (%s) — manual override, bypassing gameweek-ended check", league.ID, league.Name)
		}
		if err := s.Lifecycle.ApplyTransition(ctx, league, models.LeagueOpenForEntry); err != nil {
			// One league's failure must not abort the rest of the pass.
			log.Printf("[Provisioner] unlock failed for league %s: %v", league.ID, err)
			continue
		}
		unlocked++
	}
	return unlocked, nil
}

// unlockDue holds the unlock condition: the gameweek before the league's
// start has actually ended (two-step check), not merely passed its deadline.
// A postponed fixture in the previous gameweek keeps the league in DRAFT.
func unlockDue(league *models.League, view *GameweekView) bool {
	prev := league.StartGameweek - 1
	if prev <= 0 {
		// Season opener: nothing to wait for.
		return true
	}
	if view.Current.ID > prev {
		// Oracle has already rolled past the previous gameweek.
		return true
	}
	if view.Current.ID < prev {
		return false
	}
	return view.Ended()
}

// renderNamePattern fills a template name pattern with the gameweek number.
// Patterns without a %d verb get a " GW<n>" suffix.
func renderNamePattern(pattern string, gameweekID int) string {
	if strings.Contains(pattern, "%d") {
		return fmt.Sprintf(pattern, gameweekID)
	}
	return fmt.Sprintf("%s GW%d", pattern, gameweekID)
}
