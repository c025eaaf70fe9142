package workers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fantasy-league-system/models"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap test db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.PlayerPointEvent{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func TestGetChangedEvents(t *testing.T) {
	since := time.Date(2026, 8, 22, 11, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/point-events" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("since"); got != since.Format(time.RFC3339) {
			t.Errorf("since = %q", got)
		}
		if r.Header.Get("X-Service-Token") != "secret" {
			t.Errorf("missing service token")
		}
		fmt.Fprint(w, `{"events": [
			{"id": "ev1", "roster_id": "rA", "fixture_id": 1, "player_id": "p1", "gameweek_id": 4, "points": 6, "finalized": true}
		]}`)
	}))
	defer server.Close()

	client := NewPointSyncClient(openTestDB(t), server.URL, "secret")
	events, err := client.GetChangedEvents(context.Background(), since)
	if err != nil {
		t.Fatalf("GetChangedEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].RosterID != "rA" || events[0].Points != 6 || !events[0].Finalized {
		t.Errorf("event = %+v", events[0])
	}
}

func TestGetChangedEventsUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewPointSyncClient(openTestDB(t), server.URL, "")
	if _, err := client.GetChangedEvents(context.Background(), time.Now()); err == nil {
		t.Fatal("expected error on upstream failure")
	}
}

func TestUpsertPointEventsOverwritesCorrections(t *testing.T) {
	db := openTestDB(t)

	initial := []models.PlayerPointEvent{
		{RosterID: "rA", FixtureID: 1, PlayerID: "p1", GameweekID: 4, Points: 5},
		{RosterID: "rB", FixtureID: 1, PlayerID: "p2", GameweekID: 4, Points: 2},
	}
	if err := UpsertPointEvents(db, initial); err != nil {
		t.Fatalf("initial upsert: %v", err)
	}

	// A re-emitted correction for the same roster/fixture/player slot must
	// update in place, not duplicate.
	correction := []models.PlayerPointEvent{
		{RosterID: "rA", FixtureID: 1, PlayerID: "p1", GameweekID: 4, Points: 8, Finalized: true},
	}
	if err := UpsertPointEvents(db, correction); err != nil {
		t.Fatalf("correction upsert: %v", err)
	}

	var count int64
	db.Model(&models.PlayerPointEvent{}).Count(&count)
	if count != 2 {
		t.Fatalf("row count = %d, want 2", count)
	}

	var stored models.PlayerPointEvent
	if err := db.First(&stored, "roster_id = ? AND fixture_id = ? AND player_id = ?", "rA", 1, "p1").Error; err != nil {
		t.Fatalf("load corrected event: %v", err)
	}
	if stored.Points != 8 || !stored.Finalized {
		t.Errorf("corrected event = pts=%d finalized=%t, want 8/true", stored.Points, stored.Finalized)
	}

	if err := UpsertPointEvents(db, nil); err != nil {
		t.Errorf("empty batch should be a no-op, got %v", err)
	}
}
