// Package backoff implements capped exponential backoff for reconnect loops.
package backoff

import (
	"context"
	"time"
)

// Policy computes reconnect delays: Base doubles per attempt up to Cap.
type Policy struct {
	Base time.Duration
	Cap  time.Duration
}

// Default matches the capture and transport reconnect settings: 2s base, 30s cap.
func Default() Policy {
	return Policy{Base: 2 * time.Second, Cap: 30 * time.Second}
}

// Delay returns the wait before the given attempt (1-based):
// min(Base * 2^(attempt-1), Cap). Attempts below 1 are treated as 1.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.Cap {
			return p.Cap
		}
	}
	if d > p.Cap {
		return p.Cap
	}
	return d
}

// Wait sleeps for the attempt's delay or until ctx is cancelled.
// Returns false if the context ended first.
func (p Policy) Wait(ctx context.Context, attempt int) bool {
	t := time.NewTimer(p.Delay(attempt))
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
