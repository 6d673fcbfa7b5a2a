package ledger

import "errors"

// Failure modes surfaced by the signing gateway. None is retried
// automatically; the user re-invokes the action.
var (
	// ErrSignatureRejected indicates the acting party declined or failed
	// the wallet signing prompt.
	ErrSignatureRejected = errors.New("ledger: signature rejected")

	// ErrInsufficientFunds indicates the signing wallet cannot cover the
	// transaction fee.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrNetwork indicates the gateway or chain was unreachable, or the
	// call was cut off before confirmation.
	ErrNetwork = errors.New("ledger: network error")
)
