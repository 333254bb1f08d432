// Package protocol defines the wire messages exchanged between the capture
// client and the inference server. Messages are JSON-encoded; one websocket
// message carries exactly one envelope.
package protocol

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// MessageType identifies the type of message on the wire.
type MessageType string

const (
	// Client → Server
	TypeFrame MessageType = "frame" // Captured video frame

	// Server → Client
	TypeResult MessageType = "result" // Detection results for a frame
)

// Message is the envelope for all wire messages.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// FrameMessage carries one captured frame.
//
// FrameID is monotonically increasing per capture-source lifetime and never
// resets on reconnect. Payload holds either raw BGR pixels (Encoded=false,
// dimensions in Width/Height) or a pre-encoded JPEG (Encoded=true).
type FrameMessage struct {
	StreamID   string  `json:"stream_id"`
	FrameID    uint64  `json:"frame_id"`
	CapturedAt float64 `json:"captured_at"` // Seconds since epoch
	Width      int     `json:"width,omitempty"`
	Height     int     `json:"height,omitempty"`
	Payload    []byte  `json:"payload"` // base64 on the wire
	Encoded    bool    `json:"encoded"`

	// ReceivedAt is stamped by the server transport on arrival.
	// Not part of the client wire format.
	ReceivedAt float64 `json:"received_at,omitempty"`
}

// Detection is one detected object in the frame's pixel coordinate space.
type Detection struct {
	Label      string     `json:"label"`
	Confidence float32    `json:"confidence"`        // [0,1], rounded to 2 decimals
	BBox       [4]float32 `json:"bbox"`              // [x1, y1, x2, y2]
}

// ResultMessage carries the detections for one frame. FrameID echoes the
// originating FrameMessage; gaps in the sequence observed by the consumer
// are routine, not corruption.
type ResultMessage struct {
	StreamID   string      `json:"stream_id"`
	FrameID    uint64      `json:"frame_id"`
	Timestamp  int64       `json:"timestamp"`  // Seconds since epoch
	LatencyMS  float32     `json:"latency_ms"` // End-to-end, rounded to 1 decimal
	Detections []Detection `json:"detections"`
}

// NewMessage creates an envelope of the given type with the current timestamp.
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// NewFrameMessage wraps a FrameMessage in an envelope.
func NewFrameMessage(frame *FrameMessage) (*Message, error) {
	return NewMessage(TypeFrame, frame)
}

// NewResultMessage wraps a ResultMessage in an envelope.
func NewResultMessage(result *ResultMessage) (*Message, error) {
	return NewMessage(TypeResult, result)
}

// GetFrame extracts the FrameMessage payload. Errors if the envelope is not
// a frame message or the payload does not parse.
func (m *Message) GetFrame() (*FrameMessage, error) {
	if m.Type != TypeFrame {
		return nil, fmt.Errorf("message type is %s, not %s", m.Type, TypeFrame)
	}
	var frame FrameMessage
	if err := json.Unmarshal(m.Data, &frame); err != nil {
		return nil, fmt.Errorf("failed to parse frame data: %w", err)
	}
	return &frame, nil
}

// GetResult extracts the ResultMessage payload.
func (m *Message) GetResult() (*ResultMessage, error) {
	if m.Type != TypeResult {
		return nil, fmt.Errorf("message type is %s, not %s", m.Type, TypeResult)
	}
	var result ResultMessage
	if err := json.Unmarshal(m.Data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse result data: %w", err)
	}
	return &result, nil
}

// Bytes returns the JSON-encoded envelope.
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON envelope from bytes. Payload validation happens
// here at the transport boundary, not in downstream consumers.
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type != TypeFrame && msg.Type != TypeResult {
		return nil, fmt.Errorf("unknown message type %q", msg.Type)
	}
	return &msg, nil
}

// Round1 rounds to 1 decimal place (latency values).
func Round1(v float32) float32 {
	return float32(math.Round(float64(v)*10) / 10)
}

// Round2 rounds to 2 decimal places (confidence values).
func Round2(v float32) float32 {
	return float32(math.Round(float64(v)*100) / 100)
}
