package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrRateLimited     = errors.New("rate limited")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrLockHeld        = errors.New("lock already held")
	ErrInvalidNumber   = errors.New("invalid number")
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrInvalidObjectID = errors.New("invalid object id")

	// ErrDataUnavailable means the indexer could not be reached or answered
	// with something that could not be parsed. Readers keep their last
	// snapshot and flag it stale.
	ErrDataUnavailable = errors.New("data unavailable")

	// ErrActionFailed wraps any execution-layer rejection of a dispatched
	// action.
	ErrActionFailed = errors.New("action failed")

	// ErrSuperseded is returned with a result that a newer request or an
	// invalidation made obsolete while it was in flight.
	ErrSuperseded = errors.New("superseded by a newer request")

	// ErrNoManager is returned when an operation needs a margin manager and
	// the (network, account, pool) triple has none.
	ErrNoManager = errors.New("no margin manager")
)
