// The inference server receives frames over websocket, runs object
// detection across a worker pool, and streams results back out.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/visionflow/go-visionflow/internal/config"
	"github.com/visionflow/go-visionflow/internal/log"
	"github.com/visionflow/go-visionflow/pkg/detect"
	"github.com/visionflow/go-visionflow/pkg/metrics"
	"github.com/visionflow/go-visionflow/pkg/protocol"
	"github.com/visionflow/go-visionflow/pkg/queue"
	"github.com/visionflow/go-visionflow/pkg/transport"
	"github.com/visionflow/go-visionflow/pkg/worker"
)

func main() {
	cfg := config.LoadServer()
	log.Init(cfg.LogLevel)

	engine, err := detect.NewYOLO(detect.YOLOConfig{
		ModelPath:        cfg.ModelPath,
		ConfidenceThresh: float32(cfg.ConfThreshold),
		NMSThresh:        float32(cfg.NMSThreshold),
		InputSize:        cfg.InputSize,
	})
	if err != nil {
		log.Error("load detection model", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	tracker := metrics.NewTracker(cfg.MetricsWindow)
	input := queue.New[protocol.FrameMessage](cfg.QueueSize, queue.ParsePolicy(cfg.DropPolicy))
	output := queue.New[protocol.ResultMessage](cfg.QueueSize, queue.DropNewest)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down")
		cancel()
	}()

	pool := worker.NewPool(worker.Config{NumWorkers: cfg.NumWorkers}, engine, input, output, tracker)
	pool.Start(ctx)

	go reportMetrics(ctx, cfg.MetricsInterval, tracker, input)

	srv := transport.NewServer(transport.ServerConfig{ListenPort: cfg.ListenPort}, input, output, tracker)
	if err := srv.Run(ctx); err != nil {
		log.Error("transport server", "error", err)
	}

	cancel()
	pool.Wait()

	s := tracker.Summary()
	log.Info("final summary",
		"total_frames", s.TotalFrames,
		"dropped_frames", s.DroppedFrames,
		"drop_rate_percent", s.DropRatePct,
		"avg_latency_ms", s.AvgLatencyMS,
		"current_fps", s.FPS,
	)
}

// reportMetrics folds queue drop counts into the tracker and logs a
// summary every interval.
func reportMetrics(ctx context.Context, interval time.Duration, tracker *metrics.Tracker, input *queue.Queue[protocol.FrameMessage]) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastDropped uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if d := input.Dropped(); d > lastDropped {
				tracker.AddDropped(d - lastDropped)
				lastDropped = d
			}

			s := tracker.Summary()
			log.Info("pipeline stats",
				"fps", s.FPS,
				"avg_latency_ms", s.AvgLatencyMS,
				"queue_depth", input.Size(),
				"total_frames", s.TotalFrames,
				"dropped_frames", s.DroppedFrames,
				"drop_rate_percent", s.DropRatePct,
			)
		}
	}
}
