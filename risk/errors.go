package risk

import "errors"

var (
	// ErrInvalidConfig marks configuration that must be rejected before any
	// position is opened.
	ErrInvalidConfig = errors.New("invalid risk config")

	// ErrInvalidPosition marks bad position data: zero R unit, non-positive
	// prices, or an update stamped before the position opened.
	ErrInvalidPosition = errors.New("invalid position")

	// ErrStalePosition is returned for updates on a closed position. Callers
	// drop the handle and carry on.
	ErrStalePosition = errors.New("stale position")
)
