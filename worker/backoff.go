package worker

import "time"

// Dispatch retry policy: a failed send step stays due but is deferred with an
// exponentially growing delay, and the enrollment is canceled outright once
// MaxDispatchAttempts consecutive failures pile up on the same step.
const (
	MaxDispatchAttempts = 5

	retryBaseDelay = time.Minute
	retryMaxDelay  = time.Hour
)

// retryDelay returns the deferral before retry attempt n (1-indexed):
// base * 2^(n-1), capped at retryMaxDelay.
func retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := retryBaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= retryMaxDelay {
			return retryMaxDelay
		}
	}
	if d > retryMaxDelay {
		return retryMaxDelay
	}
	return d
}
