package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"fantasy-league-system/models"
)

func newTestScheduler(t *testing.T, oracle *stubOracle) *LeagueScheduler {
	t.Helper()
	db := openTestDB(t)
	lifecycle := NewLifecycleService(db, oracle, nil)
	provisioner := NewProvisionerService(db, oracle, lifecycle, "2026/27")
	standings := NewStandingsService(db, oracle, nil, nil)
	return NewLeagueScheduler(db, oracle, lifecycle, provisioner, standings, time.Hour)
}

func TestSchedulerStartStopIdempotent(t *testing.T) {
	s := newTestScheduler(t, &stubOracle{err: errors.New("offline")})

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("second Start should be a no-op, got %v", err)
	}

	status := s.GetStatus()
	if !status.Running {
		t.Error("status should report running")
	}
	if status.NextRunAt == nil {
		t.Error("running scheduler should expose its next run time")
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop should be a no-op, got %v", err)
	}
	if s.GetStatus().Running {
		t.Error("status should report stopped")
	}
}

func TestRunCycleOracleFailureMutatesNothing(t *testing.T) {
	oracle := &stubOracle{err: errors.New("oracle offline")}
	s := newTestScheduler(t, oracle)

	league := models.League{ID: "l1", Name: "Weekly", Season: "2026/27", TemplateKey: "classic", StartGameweek: 4, State: models.LeagueOpenForEntry}
	if err := s.DB.Create(&league).Error; err != nil {
		t.Fatalf("seed league: %v", err)
	}

	result, ran := s.RunCycle(context.Background())
	if !ran {
		t.Fatal("cycle should have run")
	}
	if len(result.Errors) == 0 {
		t.Error("cycle should record the oracle failure")
	}
	if result.Evaluated != 0 || result.Transitioned != 0 || result.Created != 0 {
		t.Errorf("failed refresh must not evaluate anything: %+v", result)
	}

	var stored models.League
	s.DB.First(&stored, "id = ?", "l1")
	if stored.State != models.LeagueOpenForEntry {
		t.Errorf("league state = %s, want untouched open_for_entry", stored.State)
	}

	status := s.GetStatus()
	if status.LastRunAt == nil || status.LastResult == nil {
		t.Error("failed cycle should still be recorded in status")
	}
}

func TestRunCycleDrivesLifecycleUnlockAndProvisioning(t *testing.T) {
	// Current gameweek 4 has fully ended: its deadline is in the past and all
	// its fixtures are finished.
	oracle := &stubOracle{
		current: models.Gameweek{ID: 4, Deadline: time.Now().UTC().Add(-2 * time.Hour), Ended: true},
		fixtures: map[int][]models.Fixture{
			4: {fx(1, 4, models.FixtureFinished)},
		},
	}
	s := newTestScheduler(t, oracle)
	ctx := context.Background()

	templates := []models.LeagueTemplate{
		{ID: "t1", Key: "weekly-classic", NamePattern: "Weekly Classic GW%d", Active: true},
		{ID: "t2", Key: "high-roller", NamePattern: "High Roller GW%d", Active: true},
	}
	for i := range templates {
		if err := s.DB.Create(&templates[i]).Error; err != nil {
			t.Fatalf("seed template: %v", err)
		}
	}
	leagues := []models.League{
		// Past its entry deadline: must lock this cycle.
		{ID: "open4", Name: "Weekly Classic GW4", Season: "2026/27", TemplateKey: "open-classic", StartGameweek: 4, State: models.LeagueOpenForEntry},
		// Next gameweek's draft: GW4 has ended, so it unlocks this cycle.
		{ID: "draft5", Name: "Weekly Classic GW5", Season: "2026/27", TemplateKey: "weekly-classic", StartGameweek: 5, State: models.LeagueDraft},
	}
	for i := range leagues {
		if err := s.DB.Create(&leagues[i]).Error; err != nil {
			t.Fatalf("seed league: %v", err)
		}
	}

	result, ran := s.RunCycle(ctx)
	if !ran {
		t.Fatal("cycle should have run")
	}
	if result.Transitioned != 1 {
		t.Errorf("transitioned = %d, want 1", result.Transitioned)
	}
	if result.Unlocked != 1 {
		t.Errorf("unlocked = %d, want 1", result.Unlocked)
	}
	if !result.GameweekEnded {
		t.Error("cycle should report the gameweek as ended")
	}
	// GW4 just ended: GW5 leagues are provisioned for templates that lack
	// one. weekly-classic already has draft5, so only high-roller is created.
	if result.Created != 1 {
		t.Errorf("created = %d, want 1", result.Created)
	}

	var open4, draft5 models.League
	s.DB.First(&open4, "id = ?", "open4")
	s.DB.First(&draft5, "id = ?", "draft5")
	if open4.State != models.LeagueLocked {
		t.Errorf("open4 state = %s, want locked", open4.State)
	}
	if draft5.State != models.LeagueOpenForEntry {
		t.Errorf("draft5 state = %s, want open_for_entry", draft5.State)
	}

	var provisioned models.League
	if err := s.DB.First(&provisioned, "template_key = ? AND start_gameweek = ?", "high-roller", 5).Error; err != nil {
		t.Fatalf("provisioned league missing: %v", err)
	}
	if provisioned.State != models.LeagueDraft {
		t.Errorf("provisioned state = %s, want draft", provisioned.State)
	}

	// The ended signal is edge-triggered: the next cycle sees it still ended
	// and must not provision again.
	result2, _ := s.RunCycle(ctx)
	if result2.Created != 0 {
		t.Errorf("second cycle created = %d, want 0", result2.Created)
	}
}

func TestRunCycleRetriesProvisioningAfterFailure(t *testing.T) {
	oracle := &stubOracle{
		current: models.Gameweek{ID: 4, Deadline: time.Now().UTC().Add(-2 * time.Hour), Ended: true},
		fixtures: map[int][]models.Fixture{
			4: {fx(1, 4, models.FixtureFinished)},
		},
	}
	s := newTestScheduler(t, oracle)
	ctx := context.Background()

	// Break template loading for the exact cycle where the gameweek
	// transitions to ended.
	if err := s.DB.Migrator().DropTable(&models.LeagueTemplate{}); err != nil {
		t.Fatalf("drop templates: %v", err)
	}

	result, ran := s.RunCycle(ctx)
	if !ran {
		t.Fatal("cycle should have run")
	}
	if !result.GameweekEnded {
		t.Fatal("cycle should report the gameweek as ended")
	}
	if len(result.Errors) == 0 {
		t.Fatal("failed provisioning must be recorded")
	}
	if result.Created != 0 {
		t.Fatalf("created = %d, want 0", result.Created)
	}

	// Infrastructure recovers. The gameweek is still ended, so the next
	// cycle must retry the idempotent create rather than treat the edge as
	// consumed.
	if err := s.DB.AutoMigrate(&models.LeagueTemplate{}); err != nil {
		t.Fatalf("restore templates: %v", err)
	}
	tpl := models.LeagueTemplate{ID: "t1", Key: "weekly-classic", NamePattern: "Weekly Classic GW%d", Active: true}
	if err := s.DB.Create(&tpl).Error; err != nil {
		t.Fatalf("seed template: %v", err)
	}

	result2, _ := s.RunCycle(ctx)
	if len(result2.Errors) != 0 {
		t.Fatalf("recovered cycle errors = %v", result2.Errors)
	}
	if result2.Created != 1 {
		t.Fatalf("recovered cycle created = %d, want 1 (provisioning retried)", result2.Created)
	}
	var league models.League
	if err := s.DB.First(&league, "template_key = ? AND start_gameweek = ?", "weekly-classic", 5).Error; err != nil {
		t.Fatalf("retried league missing: %v", err)
	}

	// Only after a successful pass is the edge consumed.
	result3, _ := s.RunCycle(ctx)
	if result3.Created != 0 {
		t.Errorf("post-recovery cycle created = %d, want 0", result3.Created)
	}
}

func TestRunCycleCoalescesOverlappingTriggers(t *testing.T) {
	oracle := &stubOracle{err: errors.New("offline")}
	s := newTestScheduler(t, oracle)
	ctx := context.Background()

	// Simulate an in-flight cycle by holding the cycle lock.
	s.cycleMu.Lock()
	_, ran := s.RunCycle(ctx)
	if ran {
		t.Fatal("overlapping cycle must not run")
	}
	if !s.rerun.Load() {
		t.Fatal("overlapping trigger should mark a rerun")
	}
	s.cycleMu.Unlock()

	// The next holder performs the coalesced rerun: two cycle bodies, hence
	// two oracle reads.
	if _, ran := s.RunCycle(ctx); !ran {
		t.Fatal("cycle should run once the lock is free")
	}
	oracle.mu.Lock()
	calls := oracle.currentCalls
	oracle.mu.Unlock()
	if calls != 2 {
		t.Errorf("oracle reads = %d, want 2 (cycle + coalesced rerun)", calls)
	}
}

func TestTriggerManualCheck(t *testing.T) {
	s := newTestScheduler(t, &stubOracle{err: errors.New("offline")})

	outcome := s.TriggerManualCheck(5 * time.Second)
	if !outcome.Completed {
		t.Fatalf("trigger should complete within the wait: %+v", outcome)
	}
	if outcome.Result == nil {
		t.Fatal("completed trigger should carry its result")
	}
	if s.GetStatus().LastRunAt == nil {
		t.Error("trigger should record the run")
	}
}
