package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/visionflow/go-visionflow/pkg/metrics"
	"github.com/visionflow/go-visionflow/pkg/protocol"
	"github.com/visionflow/go-visionflow/pkg/queue"
)

// fakeEngine records calls and returns a canned detection.
type fakeEngine struct {
	calls atomic.Int64
	fail  bool
	empty bool
}

func (e *fakeEngine) Detect(img gocv.Mat) ([]protocol.Detection, error) {
	e.calls.Add(1)
	if e.fail {
		return nil, errors.New("inference exploded")
	}
	if e.empty {
		return nil, nil
	}
	return []protocol.Detection{
		{Label: "person", Confidence: 0.91, BBox: [4]float32{10, 20, 110, 220}},
	}, nil
}

func (e *fakeEngine) Close() error { return nil }

// rawFrame builds a decodable 4x4 BGR frame captured at the given offset
// before now.
func rawFrame(id uint64, age time.Duration) protocol.FrameMessage {
	return protocol.FrameMessage{
		StreamID:   "cam_1",
		FrameID:    id,
		CapturedAt: float64(time.Now().Add(-age).UnixNano()) / 1e9,
		Width:      4,
		Height:     4,
		Payload:    make([]byte, 4*4*3),
	}
}

func drainResults(t *testing.T, out *queue.Queue[protocol.ResultMessage], want int) []protocol.ResultMessage {
	t.Helper()
	var results []protocol.ResultMessage
	deadline := time.Now().Add(3 * time.Second)
	for len(results) < want && time.Now().Before(deadline) {
		if res, ok := out.Get(50 * time.Millisecond); ok {
			results = append(results, res)
		}
	}
	require.Len(t, results, want)
	return results
}

func TestPoolProcessesFrames(t *testing.T) {
	input := queue.New[protocol.FrameMessage](32, queue.DropOldest)
	output := queue.New[protocol.ResultMessage](32, queue.DropNewest)
	engine := &fakeEngine{}
	tracker := metrics.NewTracker(100)

	pool := NewPool(Config{NumWorkers: 2}, engine, input, output, tracker)
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)

	const n = 10
	for i := uint64(1); i <= n; i++ {
		require.True(t, input.Put(rawFrame(i, 20*time.Millisecond)))
	}

	results := drainResults(t, output, n)
	cancel()
	pool.Wait()

	seen := make(map[uint64]bool)
	for _, res := range results {
		assert.Equal(t, "cam_1", res.StreamID)
		assert.False(t, seen[res.FrameID], "frame %d delivered twice", res.FrameID)
		seen[res.FrameID] = true
		assert.GreaterOrEqual(t, res.LatencyMS, float32(20.0))
		require.Len(t, res.Detections, 1)
		assert.Equal(t, "person", res.Detections[0].Label)
	}
	assert.Equal(t, int64(n), engine.calls.Load())
	assert.Equal(t, uint64(n), tracker.Summary().TotalFrames)
}

func TestPoolSkipsBadFrames(t *testing.T) {
	input := queue.New[protocol.FrameMessage](8, queue.DropOldest)
	output := queue.New[protocol.ResultMessage](8, queue.DropNewest)
	engine := &fakeEngine{}

	pool := NewPool(Config{NumWorkers: 1}, engine, input, output, nil)
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)

	// Truncated payload cannot decode; it must be skipped, not jam the worker.
	bad := rawFrame(1, 0)
	bad.Payload = bad.Payload[:5]
	require.True(t, input.Put(bad))
	require.True(t, input.Put(rawFrame(2, 0)))

	results := drainResults(t, output, 1)
	cancel()
	pool.Wait()

	assert.Equal(t, uint64(2), results[0].FrameID)
	assert.Equal(t, int64(1), engine.calls.Load(), "undecodable frame must not reach the engine")
}

func TestPoolSkipsEngineFailures(t *testing.T) {
	input := queue.New[protocol.FrameMessage](8, queue.DropOldest)
	output := queue.New[protocol.ResultMessage](8, queue.DropNewest)
	engine := &fakeEngine{fail: true}

	pool := NewPool(Config{NumWorkers: 1}, engine, input, output, nil)
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)

	require.True(t, input.Put(rawFrame(1, 0)))
	require.True(t, input.Put(rawFrame(2, 0)))

	deadline := time.Now().Add(time.Second)
	for engine.calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	pool.Wait()

	assert.Equal(t, int64(2), engine.calls.Load())
	assert.Equal(t, 0, output.Size())
}

func TestPoolStopsPromptlyWhenIdle(t *testing.T) {
	input := queue.New[protocol.FrameMessage](8, queue.DropOldest)
	output := queue.New[protocol.ResultMessage](8, queue.DropNewest)

	pool := NewPool(Config{NumWorkers: 3}, &fakeEngine{}, input, output, nil)
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)

	time.Sleep(30 * time.Millisecond)
	start := time.Now()
	cancel()
	pool.Wait()

	// Idle workers block at most one poll interval before noticing.
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestPoolEmptyDetectionsEncodeAsList(t *testing.T) {
	input := queue.New[protocol.FrameMessage](4, queue.DropOldest)
	output := queue.New[protocol.ResultMessage](4, queue.DropNewest)
	engine := &fakeEngine{empty: true}
	pool := NewPool(Config{NumWorkers: 1}, engine, input, output, nil)

	fm := rawFrame(7, 0)
	pool.process(0, &fm)

	res, ok := output.TryGet()
	require.True(t, ok)
	assert.NotNil(t, res.Detections)
}
