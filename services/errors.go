package services

import "errors"

// Error taxonomy for the league core. Nothing here maps directly to an HTTP
// status — handlers and the scheduler decide how each surfaces.
var (
	// ErrOracleUnavailable: the schedule oracle could not be reached after
	// retries. Transient — the cycle logs it and tries again next interval.
	// No league state is mutated on this path.
	ErrOracleUnavailable = errors.New("gameweek oracle unavailable")

	// ErrInvalidTransition: an attempted league state change is not in the
	// allowed table. Programmer error — rejected, logged, league unchanged.
	ErrInvalidTransition = errors.New("invalid league state transition")

	// ErrComputationConflict: a standings recomputation for the league was
	// already in flight. Internal condition — callers are handed the shared
	// in-flight result instead of this error.
	ErrComputationConflict = errors.New("standings computation already in flight")

	// ErrStaleWrite: a snapshot write arrived with a version at or below the
	// stored one. Silently discarded; the stored snapshot wins.
	ErrStaleWrite = errors.New("stale standings snapshot write")

	// ErrLeagueNotFound is returned when an operation references an unknown
	// league id.
	ErrLeagueNotFound = errors.New("league not found")
)
