package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"fantasy-league-system/models"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// openTestDB opens an in-memory database with the same error translation the
// production config uses, so duplicate-key races surface as
// gorm.ErrDuplicatedKey here too.
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
	// One connection, so every session sees the same in-memory database.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&models.LeagueTemplate{},
		&models.League{},
		&models.LeagueEntry{},
		&models.StandingsSnapshot{},
		&models.SnapshotRanking{},
		&models.PlayerPointEvent{},
	); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

// stubOracle is an in-memory OracleSource.
type stubOracle struct {
	mu           sync.Mutex
	current      models.Gameweek
	fixtures     map[int][]models.Fixture
	err          error
	currentCalls int
}

func (o *stubOracle) CurrentGameweek(ctx context.Context) (models.Gameweek, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.currentCalls++
	if o.err != nil {
		return models.Gameweek{}, o.err
	}
	return o.current, nil
}

func (o *stubOracle) Fixtures(ctx context.Context, gameweekID int) ([]models.Fixture, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	return o.fixtures[gameweekID], nil
}

func fx(id, gameweekID int, status string) models.Fixture {
	return models.Fixture{ID: id, GameweekID: gameweekID, Status: status}
}

func viewAt(current models.Gameweek, fixtures map[int][]models.Fixture, now time.Time) *GameweekView {
	if fixtures == nil {
		fixtures = map[int][]models.Fixture{}
	}
	return &GameweekView{Current: current, Fixtures: fixtures, Now: now}
}
