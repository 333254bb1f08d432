// Package metrics tracks pipeline performance: end-to-end latency, processing
// rate, drop rate and queue depth over fixed-size rolling windows.
package metrics

import (
	"sync"
	"time"
)

// DefaultWindow is the rolling window size used when none is configured.
const DefaultWindow = 100

// rateInterval bounds how often the instantaneous rate is recomputed.
const rateInterval = 500 * time.Millisecond

// Tracker is a goroutine-safe metrics collector. All state is guarded by one
// mutex; no operation blocks beyond acquiring it.
type Tracker struct {
	mu sync.Mutex

	window int

	latencies   []float64 // milliseconds, newest last
	frameTimes  []float64 // seconds since epoch, newest last
	queueDepths []int

	totalFrames   uint64
	droppedFrames uint64

	currentRate float64
	lastRateAt  float64

	startedAt time.Time
}

// Summary is a point-in-time snapshot of all derived metrics.
type Summary struct {
	UptimeSeconds  float64 `json:"uptime_seconds"`
	TotalFrames    uint64  `json:"total_frames"`
	DroppedFrames  uint64  `json:"dropped_frames"`
	DropRatePct    float64 `json:"drop_rate_percent"`
	FPS            float64 `json:"current_fps"`
	AvgLatencyMS   float64 `json:"avg_latency_ms"`
	MinLatencyMS   float64 `json:"min_latency_ms"`
	MaxLatencyMS   float64 `json:"max_latency_ms"`
	AvgQueueDepth  float64 `json:"avg_queue_depth"`
}

// NewTracker creates a tracker with the given rolling-window size.
func NewTracker(window int) *Tracker {
	if window < 1 {
		window = DefaultWindow
	}
	return &Tracker{
		window:    window,
		startedAt: time.Now(),
	}
}

// RecordLatency records one end-to-end latency sample in milliseconds.
func (t *Tracker) RecordLatency(latencyMS float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.latencies = push(t.latencies, latencyMS, t.window)
}

// RecordFrame records a processed frame at the current time.
func (t *Tracker) RecordFrame() {
	t.recordFrameAt(now())
}

func (t *Tracker) recordFrameAt(ts float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.frameTimes = push(t.frameTimes, ts, t.window)
	t.totalFrames++

	if ts-t.lastRateAt >= rateInterval.Seconds() {
		t.updateRate()
		t.lastRateAt = ts
	}
}

// RecordDropped records one dropped frame.
func (t *Tracker) RecordDropped() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.droppedFrames++
}

// AddDropped folds in a batch of drops, typically a queue's cumulative
// counter delta.
func (t *Tracker) AddDropped(n uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.droppedFrames += n
}

// RecordQueueDepth records the current depth of the input queue.
func (t *Tracker) RecordQueueDepth(depth int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queueDepths = push(t.queueDepths, depth, t.window)
}

// updateRate recomputes the instantaneous rate from the frame-time window:
// window length divided by the span between newest and oldest sample.
// Caller must hold mu.
func (t *Tracker) updateRate() {
	if len(t.frameTimes) < 2 {
		t.currentRate = 0
		return
	}
	span := t.frameTimes[len(t.frameTimes)-1] - t.frameTimes[0]
	if span > 0 {
		t.currentRate = float64(len(t.frameTimes)) / span
	} else {
		t.currentRate = 0
	}
}

// Rate returns the most recently computed processing rate in frames/second.
func (t *Tracker) Rate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentRate
}

// DropRate returns dropped / (dropped + total) as a percentage.
func (t *Tracker) DropRate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropRate()
}

func (t *Tracker) dropRate() float64 {
	total := t.totalFrames + t.droppedFrames
	if total == 0 {
		return 0
	}
	return float64(t.droppedFrames) / float64(total) * 100
}

// AvgLatency returns the mean latency over the window in milliseconds.
func (t *Tracker) AvgLatency() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return mean(t.latencies)
}

// Summary returns a snapshot of all metrics.
func (t *Tracker) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	minL, maxL := bounds(t.latencies)

	depths := make([]float64, len(t.queueDepths))
	for i, d := range t.queueDepths {
		depths[i] = float64(d)
	}

	return Summary{
		UptimeSeconds: time.Since(t.startedAt).Seconds(),
		TotalFrames:   t.totalFrames,
		DroppedFrames: t.droppedFrames,
		DropRatePct:   t.dropRate(),
		FPS:           t.currentRate,
		AvgLatencyMS:  mean(t.latencies),
		MinLatencyMS:  minL,
		MaxLatencyMS:  maxL,
		AvgQueueDepth: mean(depths),
	}
}

func now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// push appends v and trims the slice to the window size.
func push[T any](s []T, v T, window int) []T {
	s = append(s, v)
	if len(s) > window {
		s = s[1:]
	}
	return s
}

func mean(s []float64) float64 {
	if len(s) == 0 {
		return 0
	}
	var sum float64
	for _, v := range s {
		sum += v
	}
	return sum / float64(len(s))
}

func bounds(s []float64) (min, max float64) {
	if len(s) == 0 {
		return 0, 0
	}
	min, max = s[0], s[0]
	for _, v := range s[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}
