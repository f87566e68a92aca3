// Package backoff defines the retry delay schedule used for failed saves
// and staging uploads.
package backoff

import (
	"context"
	"time"
)

// Policy is a fixed schedule of retry delays. Attempt n (zero-based) waits
// Delays[n]; attempts beyond the schedule reuse the last delay. The number
// of retries a caller should perform is len(Delays).
type Policy struct {
	Delays []time.Duration
}

// Default mirrors the schedule the original client used for failed saves.
func Default() Policy {
	return Policy{Delays: []time.Duration{2 * time.Second, 5 * time.Second, 10 * time.Second}}
}

// Delay returns the wait before retry number attempt (zero-based).
func (p Policy) Delay(attempt int) time.Duration {
	if len(p.Delays) == 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(p.Delays) {
		attempt = len(p.Delays) - 1
	}
	return p.Delays[attempt]
}

// MaxRetries is how many retries the schedule allows.
func (p Policy) MaxRetries() int {
	return len(p.Delays)
}

// SleepFunc waits for d or until ctx is done. Injected so retry loops are
// testable without real timers.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the production SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
