package metrics

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRateFormula(t *testing.T) {
	tr := NewTracker(100)

	// 10 timestamps spaced exactly 0.1s apart: span 0.9s, rate 10/0.9.
	base := 1000.0
	for i := 0; i < 10; i++ {
		tr.frameTimes = push(tr.frameTimes, base+float64(i)*0.1, tr.window)
	}
	tr.updateRate()

	want := 10.0 / 0.9
	assert.InDelta(t, want, tr.currentRate, 1e-9)
	assert.InDelta(t, 11.11, tr.Rate(), 0.01)
}

func TestRateZeroCases(t *testing.T) {
	tr := NewTracker(100)

	tr.updateRate()
	assert.Equal(t, 0.0, tr.currentRate, "empty window")

	tr.frameTimes = push(tr.frameTimes, 5.0, tr.window)
	tr.updateRate()
	assert.Equal(t, 0.0, tr.currentRate, "single sample")

	tr.frameTimes = push(tr.frameTimes, 5.0, tr.window)
	tr.updateRate()
	assert.Equal(t, 0.0, tr.currentRate, "zero span")
}

func TestRateRecomputeThrottled(t *testing.T) {
	tr := NewTracker(100)

	// Samples 0.1s apart: recompute fires at most every 0.5s.
	base := 2000.0
	for i := 0; i < 6; i++ {
		tr.recordFrameAt(base + float64(i)*0.1)
	}
	rateAfterHalfSecond := tr.Rate()

	// The 0.5s-boundary recompute saw 6 samples over a 0.5s span.
	assert.InDelta(t, 6.0/0.5, rateAfterHalfSecond, 1e-9)

	// Samples inside the throttle interval must not change the rate.
	tr.recordFrameAt(base + 0.7)
	assert.Equal(t, rateAfterHalfSecond, tr.Rate())
}

func TestLatencyWindow(t *testing.T) {
	tr := NewTracker(3)

	tr.RecordLatency(10)
	tr.RecordLatency(20)
	tr.RecordLatency(30)
	tr.RecordLatency(40) // evicts 10

	s := tr.Summary()
	assert.InDelta(t, 30.0, s.AvgLatencyMS, 1e-9)
	assert.Equal(t, 20.0, s.MinLatencyMS)
	assert.Equal(t, 40.0, s.MaxLatencyMS)
}

func TestDropRate(t *testing.T) {
	tr := NewTracker(100)

	assert.Equal(t, 0.0, tr.DropRate(), "no samples yet")

	for i := 0; i < 30; i++ {
		tr.RecordFrame()
	}
	tr.AddDropped(70)

	assert.InDelta(t, 70.0, tr.DropRate(), 1e-9)

	s := tr.Summary()
	assert.Equal(t, uint64(30), s.TotalFrames)
	assert.Equal(t, uint64(70), s.DroppedFrames)
	assert.InDelta(t, 70.0, s.DropRatePct, 1e-9)
}

func TestQueueDepthWindow(t *testing.T) {
	tr := NewTracker(4)

	for _, d := range []int{1, 2, 3, 4, 5} { // 1 falls out of the window
		tr.RecordQueueDepth(d)
	}

	s := tr.Summary()
	assert.InDelta(t, 3.5, s.AvgQueueDepth, 1e-9)
}

func TestEmptySummary(t *testing.T) {
	tr := NewTracker(100)
	s := tr.Summary()

	assert.Equal(t, 0.0, s.AvgLatencyMS)
	assert.Equal(t, 0.0, s.MinLatencyMS)
	assert.Equal(t, 0.0, s.MaxLatencyMS)
	assert.Equal(t, 0.0, s.FPS)
	assert.Equal(t, 0.0, s.AvgQueueDepth)
}

func TestConcurrentRecording(t *testing.T) {
	tr := NewTracker(100)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				tr.RecordLatency(float64(i % 50))
				tr.RecordFrame()
				tr.RecordQueueDepth(i % 20)
				tr.RecordDropped()
			}
		}()
	}
	wg.Wait()

	s := tr.Summary()
	assert.Equal(t, uint64(4000), s.TotalFrames)
	assert.Equal(t, uint64(4000), s.DroppedFrames)
	assert.False(t, math.IsNaN(s.AvgLatencyMS))
	assert.Len(t, tr.latencies, 100)
}
