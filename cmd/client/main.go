// The capture client reads frames from a video source, ships them to the
// inference server, and stores the detection results it gets back.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/visionflow/go-visionflow/internal/backoff"
	"github.com/visionflow/go-visionflow/internal/config"
	"github.com/visionflow/go-visionflow/internal/log"
	"github.com/visionflow/go-visionflow/pkg/capture"
	"github.com/visionflow/go-visionflow/pkg/protocol"
	"github.com/visionflow/go-visionflow/pkg/queue"
	"github.com/visionflow/go-visionflow/pkg/results"
	"github.com/visionflow/go-visionflow/pkg/transport"
)

const pollTimeout = 100 * time.Millisecond

func main() {
	cfg := config.LoadClient()
	log.Init(cfg.LogLevel)

	policy := backoff.Policy{Base: cfg.ReconnectBase, Cap: cfg.ReconnectCap}

	device := capture.NewWebcam(capture.WebcamConfig{
		StreamURL:   cfg.StreamURL,
		Width:       cfg.FrameWidth,
		Height:      cfg.FrameHeight,
		JPEGQuality: cfg.JPEGQuality,
	})

	frames := queue.New[protocol.FrameMessage](cfg.QueueSize, queue.DropOldest)
	src := capture.NewSource(capture.Config{
		StreamID:  cfg.StreamID,
		TargetFPS: cfg.TargetFPS,
		Backoff:   policy,
	}, device, frames)

	client := transport.NewClient(transport.ClientConfig{
		ServerHost: cfg.ServerHost,
		ServerPort: cfg.ServerPort,
		SendBuffer: cfg.QueueSize,
		Backoff:    policy,
	})

	sinks := []results.Sink{results.NewFileSink(cfg.OutputDir)}
	if len(cfg.KafkaBrokers) > 0 {
		sinks = append(sinks, results.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic))
		log.Info("kafka result sink enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down")
		cancel()
	}()

	src.Start(ctx)
	client.Start(ctx)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		pumpFrames(ctx, frames, client)
	}()
	go func() {
		defer wg.Done()
		storeResults(ctx, client, sinks)
	}()

	<-ctx.Done()
	src.Wait()
	client.Wait()
	wg.Wait()

	for _, sink := range sinks {
		if err := sink.Close(); err != nil {
			log.Warn("closing result sink", "error", err)
		}
	}

	log.Info("final summary",
		"frames_captured", src.NextFrameID(),
		"frames_sent", client.FramesSent(),
		"frames_dropped_queue", frames.Dropped(),
		"frames_dropped_send", client.FramesDropped(),
		"results_received", client.ResultsReceived(),
	)
}

// pumpFrames moves captured frames from the local queue to the wire.
func pumpFrames(ctx context.Context, frames *queue.Queue[protocol.FrameMessage], client *transport.Client) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		frame, ok := frames.Get(pollTimeout)
		if !ok {
			continue
		}
		if !client.SendFrame(&frame) {
			log.Debug("frame dropped, send buffer full", "frame_id", frame.FrameID)
		}
	}
}

// storeResults drains incoming results into every configured sink.
func storeResults(ctx context.Context, client *transport.Client, sinks []results.Sink) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, ok := client.ReceiveResult(pollTimeout)
		if !ok {
			continue
		}
		for _, sink := range sinks {
			if err := sink.Store(res); err != nil {
				log.Warn("storing result",
					"stream_id", res.StreamID, "frame_id", res.FrameID, "error", err)
			}
		}
	}
}
