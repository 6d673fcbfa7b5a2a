package prescription

import "errors"

var (
	// ErrNotFound indicates the prescription does not exist in the store.
	ErrNotFound = errors.New("prescription not found")

	// ErrValidation indicates invalid input on creation.
	ErrValidation = errors.New("validation failed")

	// ErrPrecondition indicates a transition was attempted out of order.
	// Rejected locally before any external call; the caller may retry
	// once the prescription reaches the required state.
	ErrPrecondition = errors.New("transition precondition not met")

	// ErrWrongParty indicates the acting session does not own the
	// attempted transition.
	ErrWrongParty = errors.New("transition not owned by acting party")

	// ErrMissingLedgerAnchor indicates a ledger-gated transition was
	// attempted before an on-chain id was assigned.
	ErrMissingLedgerAnchor = errors.New("prescription has no ledger anchor")

	// ErrLedgerRejected indicates the anchoring transaction failed or
	// was declined. No store mutation has happened; the transition is
	// retryable from the prior state.
	ErrLedgerRejected = errors.New("ledger rejected transition")

	// ErrInvalidState indicates the stored flag combination violates the
	// lifecycle ordering and cannot be mapped to a status.
	ErrInvalidState = errors.New("invalid prescription state")
)
