package client

import "time"

// BackoffPolicy computes reconnection delays. It is a pure function of the
// attempt counter, independent of wall-clock time.
type BackoffPolicy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
}

// DefaultBackoff is the production policy: 1s, 2s, 4s, ... capped at 30s,
// giving up after 10 attempts.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		MaxAttempts:  10,
	}
}

// Delay returns the wait before attempt n (n starting at 0):
// min(InitialDelay * 2^n, MaxDelay).
func (p BackoffPolicy) Delay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	d := p.InitialDelay
	for i := 0; i < n; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Exhausted reports whether attempt n is past the retry budget.
func (p BackoffPolicy) Exhausted(n int) bool {
	return n >= p.MaxAttempts
}
