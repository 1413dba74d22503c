package domain

import "errors"

// Error taxonomy for one rebalancing cycle.
//
// Fatal conditions terminate the cycle with exec_failed; non-fatal ones
// are logged and reflected in statistics but never block order emission.
var (
	// ErrUnresolvedPrice - no waterfall source produced a valid price for
	// a symbol. Non-fatal: the order is retained, flagged, and excluded
	// from monetary totals.
	ErrUnresolvedPrice = errors.New("no valid price from any source")

	// ErrProtocolTimeout - the counterpart process never advanced the
	// state record within the wait window. Fatal to the cycle.
	ErrProtocolTimeout = errors.New("handshake wait timed out")

	// ErrHoldingPeriod - a sell was attempted for a symbol held fewer
	// trading days than the configured minimum. Fatal: this signals a
	// logic error in the caller's candidate set, never a skippable case.
	ErrHoldingPeriod = errors.New("holding period not satisfied")

	// ErrMalformedData - an external file failed structural validation
	// (missing required columns, unparsable rows). Fatal at the boundary.
	ErrMalformedData = errors.New("malformed external data")

	// ErrCycleInProgress - a new cycle was requested while a prior
	// cycle's version is still unresolved.
	ErrCycleInProgress = errors.New("previous cycle still unresolved")
)
