package exchange

import "errors"

// Ledger errors are synchronous and non-retryable; no partial state is
// ever committed when one is returned.
var (
	ErrInvalidAsset          = errors.New("invalid asset")
	ErrInvalidDeposit        = errors.New("invalid deposit")
	ErrInvalidOrder          = errors.New("invalid order")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrTransferNotAuthorized = errors.New("transfer not authorized")
	ErrOrderNotFound         = errors.New("order not found")
	ErrNotOrderOwner         = errors.New("not order owner")
	ErrOrderNotOpen          = errors.New("order not open")
)
