package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"fantasy-league-system/models"

	"github.com/cenkalti/backoff/v4"
)

const (
	oracleDefaultTimeout  = 10 * time.Second
	oracleDefaultCacheTTL = 30 * time.Second
	oracleMaxRetries      = 3
)

// OracleSource is the read-only view of the external gameweek schedule that
// the rest of the core consumes.
type OracleSource interface {
	CurrentGameweek(ctx context.Context) (models.Gameweek, error)
	Fixtures(ctx context.Context, gameweekID int) ([]models.Fixture, error)
}

// OracleClient wraps the external schedule/point-data provider. Pure read
// adapter: its only state is a short-lived response cache so that one
// scheduler cycle and concurrent standings requests share upstream reads.
type OracleClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client

	cacheTTL time.Duration

	mu          sync.Mutex
	current     *models.Gameweek
	currentAt   time.Time
	fixtures    map[int][]models.Fixture
	fixturesAt  map[int]time.Time
}

func NewOracleClient(baseURL, token string) *OracleClient {
	return &OracleClient{
		BaseURL: baseURL,
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: oracleDefaultTimeout,
		},
		cacheTTL:   oracleDefaultCacheTTL,
		fixtures:   make(map[int][]models.Fixture),
		fixturesAt: make(map[int]time.Time),
	}
}

// CurrentGameweek returns the oracle's current gameweek with its deadline.
// On sustained upstream failure it returns ErrOracleUnavailable — it never
// fabricates a default gameweek; callers serve last-known data instead.
func (c *OracleClient) CurrentGameweek(ctx context.Context) (models.Gameweek, error) {
	c.mu.Lock()
	if c.current != nil && time.Since(c.currentAt) < c.cacheTTL {
		gw := *c.current
		c.mu.Unlock()
		return gw, nil
	}
	c.mu.Unlock()

	var gw models.Gameweek
	err := c.getJSON(ctx, "/api/v1/gameweeks/current", &gw)
	if err != nil {
		return models.Gameweek{}, err
	}

	c.mu.Lock()
	c.current = &gw
	c.currentAt = time.Now()
	c.mu.Unlock()
	return gw, nil
}

// Fixtures returns the fixture list for one gameweek.
func (c *OracleClient) Fixtures(ctx context.Context, gameweekID int) ([]models.Fixture, error) {
	c.mu.Lock()
	if at, ok := c.fixturesAt[gameweekID]; ok && time.Since(at) < c.cacheTTL {
		cached := c.fixtures[gameweekID]
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	var out struct {
		Fixtures []models.Fixture `json:"fixtures"`
	}
	path := fmt.Sprintf("/api/v1/gameweeks/%d/fixtures", gameweekID)
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.fixtures[gameweekID] = out.Fixtures
	c.fixturesAt[gameweekID] = time.Now()
	c.mu.Unlock()
	return out.Fixtures, nil
}

// getJSON performs a GET with bounded exponential backoff. 4xx responses are
// permanent (no retry); everything else is treated as transient.
func (c *OracleClient) getJSON(ctx context.Context, path string, dst interface{}) error {
	u, err := url.JoinPath(c.BaseURL, path)
	if err != nil {
		return fmt.Errorf("oracle: bad base URL: %w", err)
	}

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		if c.Token != "" {
			req.Header.Set("X-Service-Token", c.Token)
		}

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(fmt.Errorf("oracle returned %d: %s", resp.StatusCode, string(body)))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("oracle returned %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(dst)
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), oracleMaxRetries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
	}
	return nil
}
