package store

import "time"

// RetryPolicy bounds how often and how many times a failed operation is
// retried before it is surfaced to the user as permanently failed.
type RetryPolicy struct {
	MaxAttempts int           // retry cap; a pending operation past the cap moves to failed
	BaseDelay   time.Duration // delay after the first failure
	MaxDelay    time.Duration // ceiling for the exponential backoff
}

// DefaultRetryPolicy returns the default bounded exponential backoff:
// 30s, 60s, 120s, ... capped at one hour, five attempts total.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   30 * time.Second,
		MaxDelay:    time.Hour,
	}
}

// withDefaults fills zero fields from DefaultRetryPolicy.
func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	return p
}

// Backoff returns the delay before the given attempt is retried.
// Formula: BaseDelay * 2^(attempt-1), capped at MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// Shift saturates well before overflow for any realistic cap.
	backoff := p.BaseDelay << uint(attempt-1)
	if backoff > p.MaxDelay || backoff <= 0 {
		backoff = p.MaxDelay
	}
	return backoff
}
