package billing

import (
	"context"
	"sync"
	"time"
)

// requestPacer enforces a minimum interval between outbound requests.
// Every billing call, including each retry attempt, waits its turn here
// before touching the wire.
type requestPacer struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

func newRequestPacer(interval time.Duration) *requestPacer {
	return &requestPacer{interval: interval}
}

// Wait blocks until the minimum interval since the previous request has
// elapsed, or until the context is done. The caller's slot is claimed
// under the lock before sleeping, so concurrent callers line up at
// interval spacing instead of waking together.
func (p *requestPacer) Wait(ctx context.Context) error {
	if p.interval <= 0 {
		return ctx.Err()
	}

	p.mu.Lock()
	now := time.Now()
	next := p.last.Add(p.interval)
	if next.Before(now) {
		next = now
	}
	p.last = next
	p.mu.Unlock()

	wait := time.Until(next)
	if wait <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
