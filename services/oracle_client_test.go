package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestOracleClientCurrentGameweekCaches(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/gameweeks/current" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-Service-Token") != "secret" {
			t.Errorf("missing service token")
		}
		atomic.AddInt32(&hits, 1)
		fmt.Fprint(w, `{"id": 4, "name": "Gameweek 4", "deadline": "2026-08-22T11:00:00Z", "is_current": true, "ended": false}`)
	}))
	defer server.Close()

	client := NewOracleClient(server.URL, "secret")
	ctx := context.Background()

	gw, err := client.CurrentGameweek(ctx)
	if err != nil {
		t.Fatalf("CurrentGameweek: %v", err)
	}
	if gw.ID != 4 || gw.Ended {
		t.Errorf("gameweek = %+v", gw)
	}
	if !gw.Deadline.Equal(time.Date(2026, 8, 22, 11, 0, 0, 0, time.UTC)) {
		t.Errorf("deadline = %s", gw.Deadline)
	}

	// Second read within the TTL is served from cache.
	if _, err := client.CurrentGameweek(ctx); err != nil {
		t.Fatalf("cached CurrentGameweek: %v", err)
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Errorf("upstream hits = %d, want 1", n)
	}
}

func TestOracleClientFixtures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/gameweeks/7/fixtures" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"fixtures": [
			{"id": 1, "gameweek_id": 7, "status": "finished"},
			{"id": 2, "gameweek_id": 7, "status": "postponed"}
		]}`)
	}))
	defer server.Close()

	client := NewOracleClient(server.URL, "")
	fixtures, err := client.Fixtures(context.Background(), 7)
	if err != nil {
		t.Fatalf("Fixtures: %v", err)
	}
	if len(fixtures) != 2 {
		t.Fatalf("fixtures = %d, want 2", len(fixtures))
	}
	if !fixtures[0].IsFinished() || fixtures[1].IsFinished() {
		t.Errorf("fixture statuses decoded wrong: %+v", fixtures)
	}
}

func TestOracleClientDoesNotRetryClientErrors(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "no current gameweek", http.StatusNotFound)
	}))
	defer server.Close()

	client := NewOracleClient(server.URL, "")
	_, err := client.CurrentGameweek(context.Background())
	if !errors.Is(err, ErrOracleUnavailable) {
		t.Fatalf("err = %v, want ErrOracleUnavailable", err)
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Errorf("upstream hits = %d, want 1 (4xx must not retry)", n)
	}
}

func TestOracleClientRetriesServerErrors(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			http.Error(w, "flaky", http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"id": 4, "deadline": "2026-08-22T11:00:00Z"}`)
	}))
	defer server.Close()

	client := NewOracleClient(server.URL, "")
	gw, err := client.CurrentGameweek(context.Background())
	if err != nil {
		t.Fatalf("CurrentGameweek after retry: %v", err)
	}
	if gw.ID != 4 {
		t.Errorf("gameweek id = %d, want 4", gw.ID)
	}
	if n := atomic.LoadInt32(&hits); n != 2 {
		t.Errorf("upstream hits = %d, want 2", n)
	}
}
