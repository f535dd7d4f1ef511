package executor

import "time"

const (
	baseDelay = 250 * time.Millisecond
	maxDelay  = 5 * time.Second
)

// backoffDelay returns the exponential backoff duration before retry attempt
// n (0-based): baseDelay * 2^n, capped at maxDelay.
func backoffDelay(attempt int) time.Duration {
	if attempt < 0 {
		return baseDelay
	}
	if attempt > 10 {
		return maxDelay
	}
	d := baseDelay * time.Duration(1<<attempt)
	if d > maxDelay {
		return maxDelay
	}
	return d
}
