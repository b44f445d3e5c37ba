package events

import (
	"context"
	"time"
)

// retryPolicy runs an attempt up to attempts times with doubling delays
// capped at maxDelay.
type retryPolicy struct {
	attempts  int
	baseDelay time.Duration
	maxDelay  time.Duration
}

func defaultRetryPolicy(attempts int) retryPolicy {
	return retryPolicy{attempts: attempts, baseDelay: 100 * time.Millisecond, maxDelay: 3 * time.Second}
}

// delay is the pause after the given 1-based failed attempt.
func (p retryPolicy) delay(attempt int) time.Duration {
	d := p.baseDelay
	for i := 1; i < attempt && d < p.maxDelay; i++ {
		d *= 2
	}
	return min(d, p.maxDelay)
}

// run calls fn until it succeeds, reports the failure as final, attempts are
// exhausted or ctx ends. The last attempt's error is returned.
func (p retryPolicy) run(ctx context.Context, fn func() (retry bool, err error)) error {
	attempts := max(p.attempts, 1)
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		var retry bool
		if retry, err = fn(); err == nil || !retry || attempt == attempts {
			return err
		}
		t := time.NewTimer(p.delay(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
	}
	return err
}
