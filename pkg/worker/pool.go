// Package worker runs the inference stage: a fixed pool of goroutines
// pulls frames from the input queue, runs the detection engine, and
// pushes results onto the output queue.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/visionflow/go-visionflow/internal/log"
	"github.com/visionflow/go-visionflow/pkg/detect"
	"github.com/visionflow/go-visionflow/pkg/metrics"
	"github.com/visionflow/go-visionflow/pkg/protocol"
	"github.com/visionflow/go-visionflow/pkg/queue"
)

// pollTimeout bounds how long an idle worker blocks on the input
// queue before rechecking for shutdown.
const pollTimeout = 100 * time.Millisecond

// Config holds pool configuration.
type Config struct {
	NumWorkers int
}

// Pool owns N workers sharing one engine. A frame that fails to
// decode or infer is logged and skipped; the pipeline never stalls on
// a bad frame.
type Pool struct {
	cfg     Config
	engine  detect.Engine
	input   *queue.Queue[protocol.FrameMessage]
	output  *queue.Queue[protocol.ResultMessage]
	tracker *metrics.Tracker
	wg      sync.WaitGroup
}

// NewPool wires a pool to its queues and engine.
func NewPool(cfg Config, engine detect.Engine, input *queue.Queue[protocol.FrameMessage], output *queue.Queue[protocol.ResultMessage], tracker *metrics.Tracker) *Pool {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 1
	}
	return &Pool{
		cfg:     cfg,
		engine:  engine,
		input:   input,
		output:  output,
		tracker: tracker,
	}
}

// Start launches the workers. They exit when ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.NumWorkers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
	log.Info("worker pool started", "workers", p.cfg.NumWorkers)
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			log.Debug("worker exiting", "worker", id)
			return
		default:
		}

		fm, ok := p.input.Get(pollTimeout)
		if !ok {
			continue
		}
		p.process(id, &fm)
	}
}

func (p *Pool) process(id int, fm *protocol.FrameMessage) {
	img, err := detect.Decode(fm)
	if err != nil {
		log.Warn("dropping undecodable frame",
			"worker", id, "stream_id", fm.StreamID, "frame_id", fm.FrameID, "error", err)
		return
	}
	defer img.Close()

	detections, err := p.engine.Detect(img)
	if err != nil {
		log.Warn("inference failed",
			"worker", id, "stream_id", fm.StreamID, "frame_id", fm.FrameID, "error", err)
		return
	}

	if detections == nil {
		detections = []protocol.Detection{}
	}

	now := time.Now()
	latency := float32((float64(now.UnixNano())/1e9 - fm.CapturedAt) * 1e3)
	res := protocol.ResultMessage{
		StreamID:   fm.StreamID,
		FrameID:    fm.FrameID,
		Timestamp:  now.Unix(),
		LatencyMS:  protocol.Round1(latency),
		Detections: detections,
	}

	if p.tracker != nil {
		p.tracker.RecordLatency(float64(res.LatencyMS))
		p.tracker.RecordFrame()
		p.tracker.RecordQueueDepth(p.input.Size())
	}

	if !p.output.Put(res) {
		log.Debug("result dropped, output queue full",
			"stream_id", res.StreamID, "frame_id", res.FrameID)
	}
}
