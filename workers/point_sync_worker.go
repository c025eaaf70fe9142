package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"fantasy-league-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PointSyncClient pulls player point events from the stats feed and mirrors
// them into the local player_point_events table. This mirror is the input set
// the standings engine sums and the reconciliation detector diffs.
type PointSyncClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	DB         *gorm.DB
}

func NewPointSyncClient(db *gorm.DB, baseURL, token string) *PointSyncClient {
	return &PointSyncClient{
		BaseURL: baseURL,
		Token:   token,
		DB:      db,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetChangedEvents fetches point events changed since the given watermark.
// Retroactive corrections to already-finalized fixtures arrive on this same
// path — the feed re-emits the corrected event with a newer change time.
func (c *PointSyncClient) GetChangedEvents(ctx context.Context, since time.Time) ([]models.PlayerPointEvent, error) {
	since = since.UTC()

	u, err := url.Parse(fmt.Sprintf("%s/api/v1/point-events", c.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}
	q := u.Query()
	q.Set("since", since.Format(time.RFC3339))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call stats feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("stats feed returned status %d: %s", resp.StatusCode, string(body))
	}

	var response struct {
		Events []models.PlayerPointEvent `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode stats feed response: %w", err)
	}
	return response.Events, nil
}

// UpsertPointEvents bulk-upserts a batch keyed on the roster/fixture/player
// slot, so a re-emitted correction overwrites the stale points in place.
func UpsertPointEvents(db *gorm.DB, events []models.PlayerPointEvent) error {
	if len(events) == 0 {
		return nil
	}
	for i := range events {
		if events[i].ID == "" {
			events[i].ID = uuid.NewString()
		}
	}
	return db.Clauses(
		clause.OnConflict{
			Columns: []clause.Column{{Name: "roster_id"}, {Name: "fixture_id"}, {Name: "player_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"gameweek_id",
				"points",
				"finalized",
				"updated_at",
			}),
		},
	).Create(&events).Error
}

// PollPointEvents runs the ingest loop: fetch changes since the watermark,
// bulk-upsert, advance the watermark only on success so a failed window is
// retried whole on the next tick.
func PollPointEvents(ctx context.Context, client *PointSyncClient, pollInterval time.Duration) {
	log.Println("[PointSync] starting point-event polling...")
	lastSyncTime := time.Now().UTC().Add(-24 * time.Hour)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[PointSync] polling stopped.")
			return
		case <-ticker.C:
			tickTime := time.Now().UTC()

			events, err := client.GetChangedEvents(ctx, lastSyncTime)
			if err != nil {
				log.Printf("[PointSync] fetch failed: %v", err)
				continue
			}
			if len(events) == 0 {
				continue
			}

			if err := UpsertPointEvents(client.DB, events); err != nil {
				log.Printf("[PointSync] failed to upsert %d event(s): %v", len(events), err)
				// Watermark untouched — same window retried next tick.
				continue
			}

			lastSyncTime = tickTime
			log.Printf("[PointSync] upserted %d point event(s)", len(events))
		}
	}
}
