package llm

import (
	"context"
	"sync"
	"time"
)

// WaitFunc receives how long one summarization call waited for the
// provider's rate budget. Calls that did not wait report zero.
type WaitFunc func(client string, waited time.Duration)

// callLimiter spaces provider calls at one per period, letting up to burst
// calls through back to back. It keeps a single theoretical arrival time
// instead of a refill goroutine, so there is nothing to stop. A nil
// limiter never blocks.
type callLimiter struct {
	mu     sync.Mutex
	period time.Duration
	slack  time.Duration
	tat    time.Time
	now    func() time.Time
}

// newCallLimiter returns nil when rps <= 0.
func newCallLimiter(rps float64, burst int) *callLimiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	period := time.Duration(float64(time.Second) / rps)
	if period <= 0 {
		period = time.Millisecond
	}
	return &callLimiter{
		period: period,
		slack:  time.Duration(burst-1) * period,
		now:    time.Now,
	}
}

// reserve books the next slot and returns how long to wait for it.
func (l *callLimiter) reserve() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if l.tat.Before(now) {
		l.tat = now
	}
	wait := l.tat.Sub(now) - l.slack
	l.tat = l.tat.Add(l.period)
	if wait < 0 {
		return 0
	}
	return wait
}

// release hands back a slot booked by a caller that gave up waiting.
func (l *callLimiter) release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tat = l.tat.Add(-l.period)
}

// Wait blocks until the caller's slot arrives or ctx is done, and
// returns the time spent waiting.
func (l *callLimiter) Wait(ctx context.Context) (time.Duration, error) {
	if l == nil {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	wait := l.reserve()
	if wait == 0 {
		return 0, nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		l.release()
		return 0, ctx.Err()
	case <-t.C:
		return wait, nil
	}
}
