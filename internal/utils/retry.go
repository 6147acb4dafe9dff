package utils

import (
	"context"
	"time"
)

// RetryPolicy bounds a retry loop. MaxAttempts of zero retries until the
// context ends.
type RetryPolicy struct {
	Interval    time.Duration
	MaxAttempts int
}

// Allows reports whether attempt (1-based) may run.
func (p RetryPolicy) Allows(attempt int) bool {
	return p.MaxAttempts == 0 || attempt <= p.MaxAttempts
}

// Wait pauses for one interval. It returns false when ctx ends first.
func (p RetryPolicy) Wait(ctx context.Context) bool {
	if p.Interval <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-time.After(p.Interval):
		return true
	case <-ctx.Done():
		return false
	}
}
