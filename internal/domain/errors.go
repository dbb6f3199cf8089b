package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors carry no infrastructure dependency.

var (
	// Store errors
	ErrVersionConflict  = errors.New("progress record was modified concurrently")
	ErrStoreUnavailable = errors.New("progress store is unavailable")
	ErrUnknownDriver    = errors.New("unknown store driver")

	// Update errors
	ErrTooManyConflicts = errors.New("gave up after repeated version conflicts")

	// Lookup errors
	ErrChallengeNotFound = errors.New("challenge not found")
	ErrRewardNotFound    = errors.New("reward not found")
	ErrUserIDRequired    = errors.New("user id is required")

	// Catalog errors
	ErrUnknownChallengeType = errors.New("unknown challenge type")
	ErrInvalidCatalog       = errors.New("invalid catalog entry")

	// Input errors
	ErrInvalidDate = errors.New("date must be formatted YYYY-MM-DD")
)
