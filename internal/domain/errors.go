package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrTimeout           = errors.New("gateway timeout")
	ErrRateLimited       = errors.New("rate limited")
	ErrRejected          = errors.New("rejected by venue")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAlreadyClosed     = errors.New("position already closed")
	ErrHalted            = errors.New("trading halted")
)

// Transient reports whether a gateway error is worth retrying with backoff.
// Everything else (venue rejection, bad parameters) is dropped for the cycle.
func Transient(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimited)
}
