// services/scheduler.go
package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"fantasy-league-system/models"

	"github.com/go-co-op/gocron/v2"
	"gorm.io/gorm"
)

const (
	defaultSchedulerInterval = 5 * time.Minute
	defaultTriggerWait       = 10 * time.Second
)

// CycleResult summarizes one reconciliation pass.
type CycleResult struct {
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Evaluated     int       `json:"evaluated"`
	Transitioned  int       `json:"transitioned"`
	Unlocked      int       `json:"unlocked"`
	Created       int       `json:"created"`
	Refreshed     int       `json:"refreshed"`
	GameweekEnded bool      `json:"gameweek_ended"`
	Errors        []string  `json:"errors,omitempty"`
}

func (r CycleResult) Summary() string {
	return fmt.Sprintf("evaluated=%d transitioned=%d unlocked=%d created=%d refreshed=%d gameweek_ended=%t errors=%d",
		r.Evaluated, r.Transitioned, r.Unlocked, r.Created, r.Refreshed, r.GameweekEnded, len(r.Errors))
}

// SchedulerStatus is the externally visible scheduler state.
type SchedulerStatus struct {
	Running    bool         `json:"running"`
	LastRunAt  *time.Time   `json:"last_run_at,omitempty"`
	LastResult *CycleResult `json:"last_result,omitempty"`
	NextRunAt  *time.Time   `json:"next_run_at,omitempty"`
}

// TriggerOutcome is what a manual trigger caller gets back. StillRunning
// means the caller's wait elapsed or the trigger coalesced into an in-flight
// cycle — the underlying work continues either way.
type TriggerOutcome struct {
	Completed    bool         `json:"completed"`
	StillRunning bool         `json:"still_running"`
	Result       *CycleResult `json:"result,omitempty"`
}

// LeagueScheduler is the single periodic control loop: refresh the oracle,
// drive league transitions, unlock entries, and provision the next gameweek's
// leagues when the current one ends. All of its mutable state is owned here,
// nothing ambient or global, so start/stop/trigger are testable in isolation.
// At most one cycle executes at a time.
type LeagueScheduler struct {
	DB          *gorm.DB
	Oracle      OracleSource
	Lifecycle   *LifecycleService
	Provisioner *ProvisionerService
	Standings   *StandingsService
	Interval    time.Duration

	mu         sync.Mutex // guards sched/job/running/lastRun/lastResult
	sched      gocron.Scheduler
	job        gocron.Job
	running    bool
	lastRun    *time.Time
	lastResult *CycleResult

	cycleMu   sync.Mutex  // held for the duration of one cycle
	rerun     atomic.Bool // a trigger arrived mid-cycle; run once more
	prevEnded atomic.Bool // set once the ended gameweek's provisioning pass succeeds
}

func NewLeagueScheduler(db *gorm.DB, oracle OracleSource, lifecycle *LifecycleService, provisioner *ProvisionerService, standings *StandingsService, interval time.Duration) *LeagueScheduler {
	if interval <= 0 {
		interval = defaultSchedulerInterval
	}
	return &LeagueScheduler{
		DB:          db,
		Oracle:      oracle,
		Lifecycle:   lifecycle,
		Provisioner: provisioner,
		Standings:   standings,
		Interval:    interval,
	}
}

// Start begins the periodic timer. Idempotent; manual triggers work whether
// or not the timer is running.
func (s *LeagueScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	job, err := sched.NewJob(
		gocron.DurationJob(s.Interval),
		gocron.NewTask(func() {
			s.RunCycle(context.Background())
		}),
	)
	if err != nil {
		return err
	}
	sched.Start()

	s.sched = sched
	s.job = job
	s.running = true
	log.Printf("[Scheduler] started, interval %s", s.Interval)
	return nil
}

// Stop halts the periodic timer. A cycle already in flight runs to
// completion; manual triggers remain available while stopped.
func (s *LeagueScheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	err := s.sched.Shutdown()
	s.sched = nil
	s.job = nil
	s.running = false
	log.Println("[Scheduler] stopped")
	return err
}

// TriggerManualCheck runs a cycle on demand, waiting at most `wait` for it to
// finish. The caller may get a "still running" answer; the work is never
// aborted.
func (s *LeagueScheduler) TriggerManualCheck(wait time.Duration) TriggerOutcome {
	if wait <= 0 {
		wait = defaultTriggerWait
	}

	type runOutcome struct {
		result CycleResult
		ran    bool
	}
	done := make(chan runOutcome, 1)
	go func() {
		result, ran := s.RunCycle(context.Background())
		done <- runOutcome{result: result, ran: ran}
	}()

	select {
	case out := <-done:
		if !out.ran {
			// Coalesced into an in-flight cycle: no-op now, the running
			// cycle reruns immediately after it finishes.
			return TriggerOutcome{StillRunning: true, Result: &out.result}
		}
		return TriggerOutcome{Completed: true, Result: &out.result}
	case <-time.After(wait):
		return TriggerOutcome{StillRunning: true}
	}
}

// GetStatus reports running flag, last run, last result summary, and the next
// scheduled run time.
func (s *LeagueScheduler) GetStatus() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := SchedulerStatus{
		Running:    s.running,
		LastRunAt:  s.lastRun,
		LastResult: s.lastResult,
	}
	if s.running && s.job != nil {
		if next, err := s.job.NextRun(); err == nil {
			status.NextRunAt = &next
		}
	}
	return status
}

// RunCycle executes one cycle, guaranteeing no overlap: a second caller while
// a cycle is in flight marks a rerun and returns immediately with ran=false.
// The in-flight holder performs the coalesced rerun before releasing.
func (s *LeagueScheduler) RunCycle(ctx context.Context) (CycleResult, bool) {
	if !s.cycleMu.TryLock() {
		s.rerun.Store(true)
		s.mu.Lock()
		last := s.lastResult
		s.mu.Unlock()
		if last != nil {
			return *last, false
		}
		return CycleResult{}, false
	}
	defer s.cycleMu.Unlock()

	result := s.doCycle(ctx)
	s.record(result)
	for s.rerun.CompareAndSwap(true, false) {
		result = s.doCycle(ctx)
		s.record(result)
	}
	return result, true
}

func (s *LeagueScheduler) record(result CycleResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	finished := result.FinishedAt
	s.lastRun = &finished
	r := result
	s.lastResult = &r
}

// doCycle is the sequential cycle body: (1) one oracle view for everyone,
// (2) state machine over all non-terminal leagues, (3) unlock pass, (4)
// provision the next gameweek when the current one just ended, (5) refresh
// live standings. Failures are isolated per league — one league's error
// never aborts the rest.
func (s *LeagueScheduler) doCycle(ctx context.Context) CycleResult {
	result := CycleResult{StartedAt: time.Now().UTC()}

	var leagues []models.League
	if err := s.DB.WithContext(ctx).
		Where("state NOT IN ?", []string{models.LeagueCompleted, models.LeagueCancelled}).
		Find(&leagues).Error; err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("load leagues: %v", err))
		result.FinishedAt = time.Now().UTC()
		return result
	}

	needed := make([]int, 0, len(leagues))
	for i := range leagues {
		needed = append(needed, spanGameweeks(&leagues[i])...)
	}
	view, err := BuildGameweekView(ctx, s.Oracle, needed)
	if err != nil {
		// Oracle down: log and retry next interval. Nothing is mutated.
		log.Printf("[Scheduler] oracle refresh failed, skipping cycle: %v", err)
		result.Errors = append(result.Errors, err.Error())
		result.FinishedAt = time.Now().UTC()
		return result
	}

	refresh := make([]string, 0)
	for i := range leagues {
		league := &leagues[i]
		prev := league.State
		next, err := s.Lifecycle.EvaluateWithView(ctx, league, view)
		result.Evaluated++
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("league %s: %v", league.ID, err))
			continue
		}
		if next != prev {
			result.Transitioned++
		}
		if next == models.LeagueInProgress || (next != prev && next == models.LeagueCompleted) {
			refresh = append(refresh, league.ID)
		}
	}

	unlocked, err := s.Provisioner.UnlockWithView(ctx, view, false)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("unlock: %v", err))
	}
	result.Unlocked = unlocked

	ended := view.Ended()
	result.GameweekEnded = ended
	if ended && !s.prevEnded.Load() {
		created, err := s.Provisioner.CreateLeaguesForGameweek(ctx, view.Current.ID+1, view.Current.Deadline)
		result.Created = created
		if err != nil {
			// Leave the edge unlatched: the create is idempotent, so the next
			// cycle retries it instead of losing the gameweek's leagues.
			result.Errors = append(result.Errors, fmt.Sprintf("provision GW%d: %v", view.Current.ID+1, err))
		} else {
			s.prevEnded.Store(true)
		}
	} else {
		s.prevEnded.Store(ended)
	}

	for _, leagueID := range refresh {
		if _, err := s.Standings.GetStandings(ctx, leagueID); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("standings %s: %v", leagueID, err))
			continue
		}
		result.Refreshed++
	}

	result.FinishedAt = time.Now().UTC()
	log.Printf("[Scheduler] cycle done in %s: %s", result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond), result.Summary())
	return result
}
