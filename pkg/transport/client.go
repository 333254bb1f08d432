package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/visionflow/go-visionflow/internal/backoff"
	"github.com/visionflow/go-visionflow/internal/log"
	"github.com/visionflow/go-visionflow/pkg/protocol"
)

// ClientConfig holds transport client configuration.
type ClientConfig struct {
	ServerHost string
	ServerPort int
	SendBuffer int
	Backoff    backoff.Policy
}

// Client maintains the two client-side channel halves: an ingest
// connection that carries frames to the server and an egress
// connection that carries results back. Each half reconnects on its
// own; the loss of one never stalls the other.
type Client struct {
	cfg     ClientConfig
	send    chan []byte
	results chan protocol.ResultMessage
	wg      sync.WaitGroup

	framesSent      atomic.Uint64
	framesDropped   atomic.Uint64
	resultsReceived atomic.Uint64
}

// NewClient builds a client for the given server.
func NewClient(cfg ClientConfig) *Client {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 8
	}
	return &Client{
		cfg:     cfg,
		send:    make(chan []byte, cfg.SendBuffer),
		results: make(chan protocol.ResultMessage, 64),
	}
}

// Start launches both connection loops. They run until ctx is
// cancelled, reconnecting forever on failure.
func (c *Client) Start(ctx context.Context) {
	c.wg.Add(2)
	go c.runIngest(ctx)
	go c.runEgress(ctx)
}

// Wait blocks until both loops have exited.
func (c *Client) Wait() {
	c.wg.Wait()
}

// SendFrame queues one frame for delivery. It never blocks: when the
// send buffer is full the frame is dropped and false is returned.
func (c *Client) SendFrame(frame *protocol.FrameMessage) bool {
	msg, err := protocol.NewFrameMessage(frame)
	if err != nil {
		log.Error("encode frame", "frame_id", frame.FrameID, "error", err)
		return false
	}
	data, err := msg.Bytes()
	if err != nil {
		log.Error("encode frame", "frame_id", frame.FrameID, "error", err)
		return false
	}

	select {
	case c.send <- data:
		return true
	default:
		c.framesDropped.Add(1)
		return false
	}
}

// ReceiveResult waits up to timeout for the next result. The second
// return is false when the timeout elapsed with nothing arriving.
func (c *Client) ReceiveResult(timeout time.Duration) (*protocol.ResultMessage, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-c.results:
		return &res, true
	case <-timer.C:
		return nil, false
	}
}

// FramesSent returns the lifetime count of frames written to the wire.
func (c *Client) FramesSent() uint64 { return c.framesSent.Load() }

// FramesDropped returns frames discarded because the send buffer was full.
func (c *Client) FramesDropped() uint64 { return c.framesDropped.Load() }

// ResultsReceived returns the lifetime count of results read off the wire.
func (c *Client) ResultsReceived() uint64 { return c.resultsReceived.Load() }

func (c *Client) url(path string) string {
	return fmt.Sprintf("ws://%s:%d%s", c.cfg.ServerHost, c.cfg.ServerPort, path)
}

func (c *Client) dial(ctx context.Context, path string) (*websocket.Conn, bool) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	for attempt := 1; ; attempt++ {
		conn, _, err := dialer.DialContext(ctx, c.url(path), nil)
		if err == nil {
			log.Info("channel connected", "path", path)
			return conn, true
		}
		log.Warn("channel connect failed", "path", path, "attempt", attempt, "error", err)
		if !c.cfg.Backoff.Wait(ctx, attempt) {
			return nil, false
		}
	}
}

// runIngest pumps queued frames onto the ingest connection. A write
// error drops the in-flight frame and triggers a reconnect.
func (c *Client) runIngest(ctx context.Context) {
	defer c.wg.Done()

	for {
		conn, ok := c.dial(ctx, "/ws/ingest")
		if !ok {
			return
		}
		if !c.pumpIngest(ctx, conn) {
			return
		}
	}
}

// pumpIngest writes until the connection fails (true, reconnect) or
// ctx ends (false).
func (c *Client) pumpIngest(ctx context.Context, conn *websocket.Conn) bool {
	defer conn.Close()

	for {
		select {
		case <-ctx.Done():
			return false
		case data := <-c.send:
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn("ingest write failed, reconnecting", "error", err)
				return true
			}
			c.framesSent.Add(1)
		}
	}
}

// runEgress reads results off the egress connection and buffers them
// for ReceiveResult. A slow caller loses the oldest buffered results.
func (c *Client) runEgress(ctx context.Context) {
	defer c.wg.Done()

	for {
		conn, ok := c.dial(ctx, "/ws/egress")
		if !ok {
			return
		}

		// Close the socket when ctx ends so the blocked read returns.
		stop := context.AfterFunc(ctx, func() { conn.Close() })

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				stop()
				conn.Close()
				if ctx.Err() != nil {
					return
				}
				log.Warn("egress read failed, reconnecting", "error", err)
				break
			}

			msg, err := protocol.ParseMessage(data)
			if err != nil {
				log.Warn("discarding malformed result", "error", err)
				continue
			}
			res, err := msg.GetResult()
			if err != nil {
				log.Warn("discarding non-result message", "type", msg.Type)
				continue
			}

			c.resultsReceived.Add(1)
			select {
			case c.results <- *res:
			default:
				// Evict the oldest buffered result to make room.
				select {
				case <-c.results:
				default:
				}
				select {
				case c.results <- *res:
				default:
				}
			}
		}
	}
}
