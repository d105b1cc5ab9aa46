package ledger

import "errors"

// Sentinel errors for ledger operations. The handler layer maps these to
// HTTP status codes.
var (
	ErrInsufficientBalance       = errors.New("ledger: insufficient free balance")
	ErrInsufficientLockedBalance = errors.New("ledger: insufficient locked balance")
	ErrArithmeticOverflow        = errors.New("ledger: arithmetic overflow")
	ErrTooManyHolders            = errors.New("ledger: too many holders for policy")
	ErrNoShares                  = errors.New("ledger: policy has no outstanding shares")
	ErrTransferFailed            = errors.New("ledger: quote-asset transfer failed")
	ErrZeroAmount                = errors.New("ledger: amount must be positive")
)
