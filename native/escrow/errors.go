package escrow

import "errors"

// Error classes surfaced by the lifecycle engine. Operation-specific detail is
// wrapped around these sentinels so callers can classify failures with
// errors.Is while the message carries the precise cause. Every error aborts
// the whole operation: the engine never leaves a partial commit behind.
var (
	// ErrNotFound indicates the referenced escrow id does not exist.
	ErrNotFound = errors.New("escrow: not found")
	// ErrValidation indicates malformed input to a state transition.
	ErrValidation = errors.New("escrow: invalid input")
	// ErrUnauthorized indicates the caller lacks the role required by the
	// target operation.
	ErrUnauthorized = errors.New("escrow: unauthorized caller")
	// ErrInvalidState indicates the escrow's current status does not permit
	// the requested transition.
	ErrInvalidState = errors.New("escrow: state does not permit operation")
	// ErrPaused indicates the ledger pause gate rejected a mutating call.
	ErrPaused = errors.New("escrow: ledger paused")
	// ErrNotPaused guards last-resort recovery paths that are only legal
	// while the ledger is paused.
	ErrNotPaused = errors.New("escrow: ledger not paused")
	// ErrTransferFailed indicates the external fund-movement primitive
	// reported a failure; any staged state change has been rolled back.
	ErrTransferFailed = errors.New("escrow: fund transfer failed")
)
