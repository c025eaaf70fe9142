package services

import (
	"context"
	"errors"
	"log"
	"math"
	"sort"
	"time"

	"fantasy-league-system/models"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

const defaultStaleAfter = 60 * time.Second

// distributionSplits maps a prize distribution scheme to the fraction of the
// pool paid to each finishing position.
var distributionSplits = map[string][]float64{
	models.DistributionWinnerTakesAll: {1.0},
	models.DistributionTop3:           {0.50, 0.30, 0.20},
	models.DistributionTop5:           {0.40, 0.25, 0.15, 0.12, 0.08},
}

// StandingsResult is what a standings read hands back: the snapshot plus the
// live/not-started/final classification that produced it.
type StandingsResult struct {
	Snapshot *models.StandingsSnapshot `json:"snapshot"`
	Status   string                    `json:"status"`
}

// StandingsService turns raw point events into ranked, payout-annotated
// leaderboards. Recomputations are single-flighted per league: a concurrent
// request for the same league waits on the in-flight computation instead of
// starting a second one.
type StandingsService struct {
	DB         *gorm.DB
	Oracle     OracleSource
	Push       Pusher
	Payout     PayoutNotifier
	StaleAfter time.Duration

	flight singleflight.Group
}

func NewStandingsService(db *gorm.DB, oracle OracleSource, push Pusher, payout PayoutNotifier) *StandingsService {
	return &StandingsService{
		DB:         db,
		Oracle:     oracle,
		Push:       push,
		Payout:     payout,
		StaleAfter: defaultStaleAfter,
	}
}

// GetStandings serves the league's leaderboard, recomputing only when the
// classification policy demands it:
//   - not_started: synthesized snapshot, point data never touched
//   - live:        cached snapshot until it crosses the staleness threshold
//   - final:       cached snapshot is definitive unless the point-event hash
//     diverges (retroactive correction), which forces a recompute
func (s *StandingsService) GetStandings(ctx context.Context, leagueID string) (*StandingsResult, error) {
	var league models.League
	if err := s.DB.WithContext(ctx).First(&league, "id = ?", leagueID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLeagueNotFound
		}
		return nil, err
	}

	view, err := BuildGameweekView(ctx, s.Oracle, spanGameweeks(&league))
	if err != nil {
		return nil, err
	}
	status := classifyStandings(&league, view)

	switch status {
	case models.StandingsNotStarted:
		return s.synthesizeNotStarted(ctx, &league)

	case models.StandingsLive:
		last, err := s.latestSnapshot(ctx, league.ID)
		if err != nil {
			return nil, err
		}
		if last != nil && time.Since(last.ComputedAt) < s.StaleAfter {
			return &StandingsResult{Snapshot: last, Status: status}, nil
		}
		return s.recompute(ctx, &league, status)

	default: // models.StandingsFinal
		last, err := s.latestSnapshot(ctx, league.ID)
		if err != nil {
			return nil, err
		}
		if last != nil {
			events, err := s.loadEvents(ctx, &league)
			if err != nil {
				return nil, err
			}
			if !NeedsRecompute(last, PointEventsHash(events)) {
				return &StandingsResult{Snapshot: last, Status: status}, nil
			}
			log.Printf("[Standings] league %s: point data changed after snapshot v%d — forcing recomputation", league.ID, last.Version)
		}
		res, err := s.recompute(ctx, &league, status)
		if err != nil {
			return nil, err
		}
		// A correction that reorders an already-completed league is
		// legitimate, but issued payouts must be re-evaluated.
		if last != nil && league.State == models.LeagueCompleted && RanksChanged(last, res.Snapshot) && s.Payout != nil {
			if err := s.Payout.NotifyReevaluation(ctx, league.ID, res.Snapshot.ID); err != nil {
				log.Printf("[Standings] payout re-evaluation notification failed for league %s: %v", league.ID, err)
			}
		}
		return res, nil
	}
}

// recompute funnels every recomputation for a league through one in-flight
// slot. Concurrent callers share the result; ErrComputationConflict never
// escapes to them. The computation runs detached from the leader's context —
// a disconnecting leader must not cancel the result its followers wait on.
func (s *StandingsService) recompute(ctx context.Context, league *models.League, status string) (*StandingsResult, error) {
	flightCtx := context.WithoutCancel(ctx)
	v, err, shared := s.flight.Do(league.ID, func() (interface{}, error) {
		return s.computeAndStore(flightCtx, league, status)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		log.Printf("[Standings] league %s: joined in-flight computation", league.ID)
	}
	return v.(*StandingsResult), nil
}

// computeAndStore performs one full standings computation and publishes it as
// a new immutable snapshot. Entries are rewritten wholesale in the same
// transaction, never patched. Idempotent given the same inputs.
func (s *StandingsService) computeAndStore(ctx context.Context, league *models.League, status string) (*StandingsResult, error) {
	entries, err := s.loadEntries(ctx, league.ID)
	if err != nil {
		return nil, err
	}
	events, err := s.loadEvents(ctx, league)
	if err != nil {
		return nil, err
	}

	pointsByRoster := make(map[string]int)
	for _, e := range events {
		pointsByRoster[e.RosterID] += e.Points
	}

	ranked := RankEntries(entries, pointsByRoster)
	pool := league.PrizePool
	if league.State == models.LeagueCancelled {
		// Cancellation blocks payout processing; estimates go to zero.
		pool = 0
	}
	ranked = ApplyPayouts(ranked, pool, league.PrizeDistribution)

	snapshot := &models.StandingsSnapshot{
		ID:         uuid.NewString(),
		LeagueID:   league.ID,
		GameweekID: league.StartGameweek,
		InputHash:  PointEventsHash(events),
		Status:     status,
		ComputedAt: time.Now().UTC(),
	}
	for i, r := range ranked {
		snapshot.Rankings = append(snapshot.Rankings, models.SnapshotRanking{
			ID:         uuid.NewString(),
			SnapshotID: snapshot.ID,
			EntryID:    r.EntryID,
			RosterID:   r.RosterID,
			UserName:   r.UserName,
			Points:     r.Points,
			Rank:       r.Rank,
			Payout:     r.Payout,
			SortOrder:  i,
		})
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxVersion int64
		if err := tx.Model(&models.StandingsSnapshot{}).
			Where("league_id = ?", league.ID).
			Select("COALESCE(MAX(version), 0)").
			Scan(&maxVersion).Error; err != nil {
			return err
		}
		snapshot.Version = maxVersion + 1

		if err := tx.Omit("Rankings").Create(snapshot).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrStaleWrite
			}
			return err
		}
		for i := range snapshot.Rankings {
			if err := tx.Create(&snapshot.Rankings[i]).Error; err != nil {
				return err
			}
		}

		for _, r := range ranked {
			if err := tx.Model(&models.LeagueEntry{}).
				Where("id = ?", r.EntryID).
				Updates(map[string]interface{}{
					"total_points":    r.Points,
					"rank":            r.Rank,
					"payout_estimate": r.Payout,
				}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, ErrStaleWrite) {
		// A concurrent writer published a higher version first. Highest
		// version wins; silently serve the stored snapshot.
		log.Printf("[Standings] league %s: discarded stale snapshot write", league.ID)
		stored, loadErr := s.latestSnapshot(ctx, league.ID)
		if loadErr != nil {
			return nil, loadErr
		}
		return &StandingsResult{Snapshot: stored, Status: status}, nil
	}
	if err != nil {
		return nil, err
	}

	log.Printf("[Standings] league %s: published snapshot v%d (%s, %d entries)", league.ID, snapshot.Version, status, len(ranked))

	if s.Push != nil {
		// Fire-and-forget: delivery failure must not fail the computation.
		if err := s.Push.PublishStandings(ctx, league.ID, snapshot); err != nil {
			log.Printf("[Standings] push publish failed for league %s: %v", league.ID, err)
		}
	}

	return &StandingsResult{Snapshot: snapshot, Status: status}, nil
}

// synthesizeNotStarted builds the by-convention leaderboard for a league
// whose fixtures have not kicked off: every entry at rank 1 with 0 points.
// Nothing is persisted and no point data is read.
func (s *StandingsService) synthesizeNotStarted(ctx context.Context, league *models.League) (*StandingsResult, error) {
	entries, err := s.loadEntries(ctx, league.ID)
	if err != nil {
		return nil, err
	}
	snapshot := &models.StandingsSnapshot{
		ID:         uuid.NewString(),
		LeagueID:   league.ID,
		GameweekID: league.StartGameweek,
		Version:    0,
		Status:     models.StandingsNotStarted,
		ComputedAt: time.Now().UTC(),
	}
	for i, e := range entries {
		snapshot.Rankings = append(snapshot.Rankings, models.SnapshotRanking{
			ID:         uuid.NewString(),
			SnapshotID: snapshot.ID,
			EntryID:    e.ID,
			RosterID:   e.RosterID,
			UserName:   e.UserName,
			Points:     0,
			Rank:       1,
			Payout:     0,
			SortOrder:  i,
		})
	}
	return &StandingsResult{Snapshot: snapshot, Status: models.StandingsNotStarted}, nil
}

func (s *StandingsService) loadEntries(ctx context.Context, leagueID string) ([]models.LeagueEntry, error) {
	var entries []models.LeagueEntry
	err := s.DB.WithContext(ctx).
		Where("league_id = ?", leagueID).
		Order("created_at ASC").
		Find(&entries).Error
	return entries, err
}

func (s *StandingsService) loadEvents(ctx context.Context, league *models.League) ([]models.PlayerPointEvent, error) {
	var events []models.PlayerPointEvent
	err := s.DB.WithContext(ctx).
		Where("gameweek_id >= ? AND gameweek_id <= ?", league.StartGameweek, league.LastGameweek()).
		Find(&events).Error
	return events, err
}

func (s *StandingsService) latestSnapshot(ctx context.Context, leagueID string) (*models.StandingsSnapshot, error) {
	var snapshot models.StandingsSnapshot
	err := s.DB.WithContext(ctx).
		Preload("Rankings", func(db *gorm.DB) *gorm.DB {
			return db.Order("sort_order ASC")
		}).
		Where("league_id = ?", leagueID).
		Order("version DESC").
		First(&snapshot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// classifyStandings decides not_started / live / final from the fixtures in
// the league's gameweek span. This classification — not League.State —
// drives the caching policy.
func classifyStandings(league *models.League, view *GameweekView) string {
	started := false
	for gw := league.StartGameweek; gw <= league.LastGameweek(); gw++ {
		if view.HasStartedFixture(gw) {
			started = true
			break
		}
	}
	if !started {
		return models.StandingsNotStarted
	}
	if view.SpanFinished(league.StartGameweek, league.LastGameweek()) {
		return models.StandingsFinal
	}
	return models.StandingsLive
}

// RankedEntry is one computed leaderboard row before snapshotting.
type RankedEntry struct {
	EntryID  string
	RosterID string
	UserName string
	Points   int
	Rank     int
	Payout   float64
}

// RankEntries orders entries by total points descending, breaking ties by
// entry creation time ascending, and assigns competition ranks: tied entries
// share a rank and the next distinct score resumes at its position, so
// 50, 50, 40 ranks as 1, 1, 3.
func RankEntries(entries []models.LeagueEntry, pointsByRoster map[string]int) []RankedEntry {
	ranked := make([]RankedEntry, 0, len(entries))
	createdAt := make(map[string]time.Time, len(entries))
	for _, e := range entries {
		createdAt[e.ID] = e.CreatedAt
		ranked = append(ranked, RankedEntry{
			EntryID:  e.ID,
			RosterID: e.RosterID,
			UserName: e.UserName,
			Points:   pointsByRoster[e.RosterID],
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Points != ranked[j].Points {
			return ranked[i].Points > ranked[j].Points
		}
		return createdAt[ranked[i].EntryID].Before(createdAt[ranked[j].EntryID])
	})

	for i := range ranked {
		if i > 0 && ranked[i].Points == ranked[i-1].Points {
			ranked[i].Rank = ranked[i-1].Rank
		} else {
			ranked[i].Rank = i + 1
		}
	}
	return ranked
}

// ApplyPayouts annotates ranked entries with prize estimates. Tie policy:
// entries tied at a rank share the combined prize of the positions they
// occupy, split equally — a two-way tie for first under TOP_3 with pool 100
// pays (50+30)/2 = 40 each, and rank 3 still takes 20.
func ApplyPayouts(ranked []RankedEntry, pool float64, distribution string) []RankedEntry {
	splits := distributionSplits[distribution]
	if pool <= 0 || len(splits) == 0 {
		for i := range ranked {
			ranked[i].Payout = 0
		}
		return ranked
	}

	for i := 0; i < len(ranked); {
		j := i
		for j < len(ranked) && ranked[j].Rank == ranked[i].Rank {
			j++
		}
		// Tied group occupies positions i+1 .. j (1-based).
		var groupPrize float64
		for pos := i; pos < j && pos < len(splits); pos++ {
			groupPrize += splits[pos] * pool
		}
		share := roundCents(groupPrize / float64(j-i))
		for k := i; k < j; k++ {
			ranked[k].Payout = share
		}
		i = j
	}
	return ranked
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
