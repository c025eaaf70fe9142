package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"fantasy-league-system/models"
)

// Pusher delivers published standings to the notification/push service.
// Fire-and-forget from the core's point of view: a delivery failure is
// logged, never propagated into a computation result.
type Pusher interface {
	PublishStandings(ctx context.Context, leagueID string, snapshot *models.StandingsSnapshot) error
}

// PayoutNotifier tells the external payout processor when a league completes
// and when a post-completion correction requires re-evaluating issued
// payouts.
type PayoutNotifier interface {
	NotifyCompleted(ctx context.Context, leagueID string) error
	NotifyReevaluation(ctx context.Context, leagueID, snapshotID string) error
}

// PushClient calls the notification service.
type PushClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewPushClient(baseURL, token string) *PushClient {
	return &PushClient{
		BaseURL: baseURL,
		Token:   token,
		Client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *PushClient) PublishStandings(ctx context.Context, leagueID string, snapshot *models.StandingsSnapshot) error {
	payload := map[string]interface{}{
		"league_id": leagueID,
		"snapshot":  snapshot,
	}
	return postJSON(ctx, c.Client, c.Token, fmt.Sprintf("%s/api/v1/push/standings", c.BaseURL), payload)
}

// PayoutClient calls the payout processor service.
type PayoutClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewPayoutClient(baseURL, token string) *PayoutClient {
	return &PayoutClient{
		BaseURL: baseURL,
		Token:   token,
		Client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *PayoutClient) NotifyCompleted(ctx context.Context, leagueID string) error {
	return postJSON(ctx, c.Client, c.Token,
		fmt.Sprintf("%s/api/v1/payouts/leagues/%s/completed", c.BaseURL, leagueID), nil)
}

func (c *PayoutClient) NotifyReevaluation(ctx context.Context, leagueID, snapshotID string) error {
	payload := map[string]interface{}{
		"snapshot_id": snapshotID,
		"reason":      "post_completion_reconciliation",
	}
	return postJSON(ctx, c.Client, c.Token,
		fmt.Sprintf("%s/api/v1/payouts/leagues/%s/reevaluate", c.BaseURL, leagueID), payload)
}

func postJSON(ctx context.Context, client *http.Client, token, url string, payload interface{}) error {
	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Token", token)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		log.Printf("[Notify] %s returned %d: %s", url, resp.StatusCode, string(respBody))
		return fmt.Errorf("notification endpoint returned %d", resp.StatusCode)
	}
	return nil
}
