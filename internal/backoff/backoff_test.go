package backoff

import (
	"context"
	"testing"
	"time"
)

func TestDelaySequence(t *testing.T) {
	p := Policy{Base: 2 * time.Second, Cap: 30 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second}, // capped, not 32
		{6, 30 * time.Second},
	}

	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestDelayClampsAttempt(t *testing.T) {
	p := Default()
	if p.Delay(0) != p.Delay(1) {
		t.Error("Delay(0) should behave like Delay(1)")
	}
	if p.Delay(-3) != p.Base {
		t.Errorf("Delay(-3) = %v, want %v", p.Delay(-3), p.Base)
	}
}

func TestDelayLargeAttemptStaysCapped(t *testing.T) {
	p := Policy{Base: time.Second, Cap: 30 * time.Second}
	// Large attempts must not overflow past the cap.
	if got := p.Delay(64); got != 30*time.Second {
		t.Errorf("Delay(64) = %v, want 30s", got)
	}
}

func TestWaitHonorsCancellation(t *testing.T) {
	p := Policy{Base: 10 * time.Second, Cap: 10 * time.Second}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool, 1)
	go func() {
		done <- p.Wait(ctx, 1)
	}()
	cancel()

	select {
	case ok := <-done:
		if ok {
			t.Error("Wait should return false when context is cancelled")
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after cancellation")
	}
}
