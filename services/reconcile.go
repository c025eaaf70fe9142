package services

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"fantasy-league-system/models"
)

// PointEventsHash computes a canonical content hash over a point-event set.
// The set is sorted before hashing so the hash depends only on content, never
// on query order. Recorded on every snapshot; a later read whose fresh hash
// differs proves the inputs changed retroactively.
func PointEventsHash(events []models.PlayerPointEvent) string {
	sorted := make([]models.PlayerPointEvent, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.RosterID != b.RosterID {
			return a.RosterID < b.RosterID
		}
		if a.FixtureID != b.FixtureID {
			return a.FixtureID < b.FixtureID
		}
		return a.PlayerID < b.PlayerID
	})

	h := sha256.New()
	for _, e := range sorted {
		fmt.Fprintf(h, "%s|%d|%s|%d|%t;", e.RosterID, e.FixtureID, e.PlayerID, e.Points, e.Finalized)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// NeedsRecompute reports whether the fresh point-event hash diverges from the
// one recorded on the last published snapshot. No snapshot yet always means
// recompute.
func NeedsRecompute(last *models.StandingsSnapshot, freshHash string) bool {
	if last == nil {
		return true
	}
	return last.InputHash != freshHash
}

// RanksChanged reports whether two snapshots rank any entry differently.
// Used to decide whether a post-completion reconciliation must re-open payout
// processing.
func RanksChanged(prev, next *models.StandingsSnapshot) bool {
	if prev == nil || next == nil {
		return prev != next
	}
	if len(prev.Rankings) != len(next.Rankings) {
		return true
	}
	prevRanks := make(map[string]int, len(prev.Rankings))
	for _, r := range prev.Rankings {
		prevRanks[r.EntryID] = r.Rank
	}
	for _, r := range next.Rankings {
		if rank, ok := prevRanks[r.EntryID]; !ok || rank != r.Rank {
			return true
		}
	}
	return false
}
