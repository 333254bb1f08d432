// Package transport moves frames and results between the capture client
// and the inference server over two one-way websocket channels. Delivery
// is at most once: a channel that cannot keep up drops, it never blocks
// the pipeline behind it.
package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/visionflow/go-visionflow/internal/log"
	"github.com/visionflow/go-visionflow/pkg/metrics"
	"github.com/visionflow/go-visionflow/pkg/protocol"
	"github.com/visionflow/go-visionflow/pkg/queue"
)

// dispatchPoll bounds how long the dispatcher blocks on the output
// queue before rechecking for shutdown.
const dispatchPoll = 100 * time.Millisecond

// egressSendBuffer is the per-connection result buffer. A consumer
// that falls this far behind starts losing results.
const egressSendBuffer = 16

// ServerConfig holds transport server configuration.
type ServerConfig struct {
	ListenPort int
}

// egressConn is one result consumer. The writer pump is the only
// goroutine that touches the websocket.
type egressConn struct {
	id   string
	send chan []byte
}

// Server terminates the ingest channel into the input queue and fans
// results from the output queue out to egress connections.
type Server struct {
	cfg     ServerConfig
	app     *fiber.App
	input   *queue.Queue[protocol.FrameMessage]
	output  *queue.Queue[protocol.ResultMessage]
	tracker *metrics.Tracker

	mu     sync.RWMutex
	egress map[string]*egressConn

	framesReceived atomic.Uint64
	resultsSent    atomic.Uint64
}

// NewServer builds the server around its queues.
func NewServer(cfg ServerConfig, input *queue.Queue[protocol.FrameMessage], output *queue.Queue[protocol.ResultMessage], tracker *metrics.Tracker) *Server {
	s := &Server{
		cfg:     cfg,
		input:   input,
		output:  output,
		tracker: tracker,
		egress:  make(map[string]*egressConn),
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/ingest", websocket.New(s.handleIngest))
	app.Get("/ws/egress", websocket.New(s.handleEgress))

	app.Get("/api/stats", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"frames_received": s.framesReceived.Load(),
			"results_sent":    s.resultsSent.Load(),
			"egress_conns":    s.EgressCount(),
			"queue_depth":     s.input.Size(),
			"metrics":         s.tracker.Summary(),
		})
	})

	s.app = app
	return s
}

// Run serves until ctx is cancelled, then shuts the listener down.
// The dispatcher goroutine exits with ctx as well.
func (s *Server) Run(ctx context.Context) error {
	go s.dispatch(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.app.Listen(fmt.Sprintf(":%d", s.cfg.ListenPort))
	}()
	log.Info("transport listening", "port", s.cfg.ListenPort)

	select {
	case <-ctx.Done():
		return s.app.Shutdown()
	case err := <-errCh:
		return err
	}
}

// handleIngest reads frame envelopes off one producer connection. A
// malformed message is logged and skipped; a read error ends the
// connection and the producer is expected to reconnect.
func (s *Server) handleIngest(c *websocket.Conn) {
	remote := c.RemoteAddr().String()
	log.Info("ingest connected", "remote", remote)
	defer log.Info("ingest disconnected", "remote", remote)

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			log.Debug("ingest read error", "remote", remote, "error", err)
			return
		}

		msg, err := protocol.ParseMessage(data)
		if err != nil {
			log.Warn("discarding malformed ingest message", "remote", remote, "error", err)
			continue
		}
		frame, err := msg.GetFrame()
		if err != nil {
			log.Warn("discarding non-frame ingest message", "remote", remote, "type", msg.Type)
			continue
		}

		frame.ReceivedAt = float64(time.Now().UnixNano()) / 1e9
		s.framesReceived.Add(1)

		if !s.input.Put(*frame) {
			log.Debug("frame rejected, input queue full",
				"stream_id", frame.StreamID, "frame_id", frame.FrameID)
		}
		if s.tracker != nil {
			s.tracker.RecordQueueDepth(s.input.Size())
		}
	}
}

// handleEgress registers a result consumer and pumps its send channel
// until the connection dies or the channel closes.
func (s *Server) handleEgress(c *websocket.Conn) {
	conn := &egressConn{
		id:   uuid.NewString(),
		send: make(chan []byte, egressSendBuffer),
	}

	s.mu.Lock()
	s.egress[conn.id] = conn
	count := len(s.egress)
	s.mu.Unlock()
	log.Info("egress connected", "conn_id", conn.id, "total", count)

	defer func() {
		s.mu.Lock()
		delete(s.egress, conn.id)
		count := len(s.egress)
		s.mu.Unlock()
		log.Info("egress disconnected", "conn_id", conn.id, "total", count)
	}()

	// Reader goroutine exists only to observe the close handshake.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case data := <-conn.send:
			if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug("egress write error", "conn_id", conn.id, "error", err)
				return
			}
			s.resultsSent.Add(1)
		case <-done:
			return
		}
	}
}

// dispatch drains the output queue and hands each result to one egress
// connection, rotating through them. With no consumers connected the
// result is dropped; results do not outlive their usefulness.
func (s *Server) dispatch(ctx context.Context) {
	next := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, ok := s.output.Get(dispatchPoll)
		if !ok {
			continue
		}

		msg, err := protocol.NewResultMessage(&res)
		if err != nil {
			log.Error("encode result", "frame_id", res.FrameID, "error", err)
			continue
		}
		data, err := msg.Bytes()
		if err != nil {
			log.Error("encode result", "frame_id", res.FrameID, "error", err)
			continue
		}

		s.mu.RLock()
		conns := make([]*egressConn, 0, len(s.egress))
		for _, conn := range s.egress {
			conns = append(conns, conn)
		}
		s.mu.RUnlock()

		if len(conns) == 0 {
			log.Debug("result dropped, no egress consumers", "frame_id", res.FrameID)
			continue
		}

		conn := conns[next%len(conns)]
		next++
		select {
		case conn.send <- data:
		default:
			log.Debug("result dropped, slow egress consumer",
				"conn_id", conn.id, "frame_id", res.FrameID)
		}
	}
}

// EgressCount returns the number of connected result consumers.
func (s *Server) EgressCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.egress)
}

// FramesReceived returns the lifetime ingest frame count.
func (s *Server) FramesReceived() uint64 {
	return s.framesReceived.Load()
}
