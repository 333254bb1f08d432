// Package capture reads timestamped frames from a video source at a target
// rate and feeds them into an outbound queue, reconnecting with exponential
// backoff whenever the source fails.
package capture

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/visionflow/go-visionflow/internal/backoff"
	"github.com/visionflow/go-visionflow/internal/log"
	"github.com/visionflow/go-visionflow/pkg/protocol"
	"github.com/visionflow/go-visionflow/pkg/queue"
)

// State is the capture state machine's current state.
type State int32

const (
	Disconnected State = iota
	Connecting
	Streaming
	Reconnecting
	Stopped
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Streaming:
		return "streaming"
	case Reconnecting:
		return "reconnecting"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// RawFrame is one frame read from a Device.
type RawFrame struct {
	Payload []byte
	Width   int
	Height  int
	Encoded bool // true when Payload is a compressed image (JPEG)
}

// Device abstracts the underlying video source so the state machine does not
// depend on any particular capture backend.
type Device interface {
	// Open acquires the source. Safe to call again after Close.
	Open() error
	// Grab reads one frame. An error means the source is gone and the
	// caller should reconnect.
	Grab() (RawFrame, error)
	// Close releases the source handle. Idempotent.
	Close()
}

// ErrNoFrame is returned by Grab when the source produced no data.
var ErrNoFrame = errors.New("capture: no frame available")

// Config holds the capture source settings.
type Config struct {
	StreamID  string
	TargetFPS float64
	Backoff   backoff.Policy
}

// Source drives the capture state machine:
//
//	Disconnected → Connecting → Streaming
//	Streaming → Reconnecting → Connecting  (on read failure)
//	any → Stopped                          (context cancelled)
//
// Frame sequence numbers are scoped to the Source instance and never reset,
// including across reconnects.
type Source struct {
	cfg    Config
	device Device
	out    *queue.Queue[protocol.FrameMessage]

	state    atomic.Int32
	frameID  atomic.Uint64
	attempts atomic.Uint32

	wg sync.WaitGroup
}

// NewSource creates a capture source feeding the given queue.
func NewSource(cfg Config, device Device, out *queue.Queue[protocol.FrameMessage]) *Source {
	if cfg.TargetFPS <= 0 {
		cfg.TargetFPS = 30
	}
	if cfg.Backoff.Base == 0 {
		cfg.Backoff = backoff.Default()
	}
	s := &Source{
		cfg:    cfg,
		device: device,
		out:    out,
	}
	s.state.Store(int32(Disconnected))
	return s
}

// State returns the current state.
func (s *Source) State() State {
	return State(s.state.Load())
}

// Attempts returns the current consecutive reconnect attempt count. It is
// monotonic across consecutive failures and resets to 0 on a successful
// connect.
func (s *Source) Attempts() uint32 {
	return s.attempts.Load()
}

// NextFrameID returns the sequence number the next frame will carry.
func (s *Source) NextFrameID() uint64 {
	return s.frameID.Load()
}

// Start launches the capture loop. It returns immediately; the loop runs
// until ctx is cancelled.
func (s *Source) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Wait blocks until the capture loop has exited.
func (s *Source) Wait() {
	s.wg.Wait()
}

func (s *Source) run(ctx context.Context) {
	defer func() {
		s.device.Close()
		s.state.Store(int32(Stopped))
		log.Info("capture: stopped",
			"stream_id", s.cfg.StreamID,
			"frames", s.frameID.Load(),
		)
	}()

	s.state.Store(int32(Connecting))

	for {
		if ctx.Err() != nil {
			return
		}

		switch s.State() {
		case Connecting:
			s.connect()
		case Streaming:
			s.stream(ctx)
		case Reconnecting:
			if !s.reconnectWait(ctx) {
				return
			}
		default:
			return
		}
	}
}

// connect opens the device and performs one test read. Success enters
// Streaming and resets the attempt counter; failure enters Reconnecting.
func (s *Source) connect() {
	if err := s.device.Open(); err != nil {
		log.Warn("capture: open failed",
			"stream_id", s.cfg.StreamID,
			"error", err,
		)
		s.state.Store(int32(Reconnecting))
		return
	}

	if _, err := s.device.Grab(); err != nil {
		log.Warn("capture: test read failed",
			"stream_id", s.cfg.StreamID,
			"error", err,
		)
		s.device.Close()
		s.state.Store(int32(Reconnecting))
		return
	}

	s.attempts.Store(0)
	s.state.Store(int32(Streaming))
	log.Info("capture: connected", "stream_id", s.cfg.StreamID)
}

// stream reads frames at the target rate until the source fails or ctx ends.
func (s *Source) stream(ctx context.Context) {
	interval := time.Duration(float64(time.Second) / s.cfg.TargetFPS)
	var lastFrame time.Time

	for {
		if ctx.Err() != nil {
			return
		}

		// Rate limiting: suspend until the inter-frame interval elapses.
		if wait := interval - time.Since(lastFrame); wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return
			}
		}
		lastFrame = time.Now()

		raw, err := s.device.Grab()
		if err != nil {
			log.Warn("capture: read failed, reconnecting",
				"stream_id", s.cfg.StreamID,
				"error", err,
			)
			s.state.Store(int32(Reconnecting))
			return
		}

		id := s.frameID.Add(1) - 1
		retained := s.out.Put(protocol.FrameMessage{
			StreamID:   s.cfg.StreamID,
			FrameID:    id,
			CapturedAt: float64(time.Now().UnixNano()) / 1e9,
			Width:      raw.Width,
			Height:     raw.Height,
			Payload:    raw.Payload,
			Encoded:    raw.Encoded,
		})
		if !retained {
			// Drop-on-full is the queue's policy, not a capture error.
			log.Debug("capture: outbound queue full, frame dropped",
				"stream_id", s.cfg.StreamID,
				"frame_id", id,
			)
		}
	}
}

// reconnectWait releases the device, bumps the attempt counter and sleeps the
// backoff delay. Returns false if the context ended during the wait.
func (s *Source) reconnectWait(ctx context.Context) bool {
	s.device.Close()

	attempt := int(s.attempts.Add(1))
	delay := s.cfg.Backoff.Delay(attempt)
	log.Warn("capture: reconnecting",
		"stream_id", s.cfg.StreamID,
		"attempt", attempt,
		"wait", delay,
	)

	if !s.cfg.Backoff.Wait(ctx, attempt) {
		return false
	}
	s.state.Store(int32(Connecting))
	return true
}
