// Package results persists detection results on the client side.
package results

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/visionflow/go-visionflow/pkg/protocol"
)

// Sink stores one result at a time. Implementations are used from a
// single goroutine.
type Sink interface {
	Store(res *protocol.ResultMessage) error
	Close() error
}

// FileSink writes each result to <dir>/<stream_id>/frame_<id>.json.
type FileSink struct {
	dir  string
	made map[string]bool // stream dirs already created
}

// NewFileSink creates the sink rooted at dir.
func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir, made: make(map[string]bool)}
}

// Store writes one result as indented JSON. The stream subdirectory is
// created on first use.
func (s *FileSink) Store(res *protocol.ResultMessage) error {
	streamDir := filepath.Join(s.dir, res.StreamID)
	if !s.made[res.StreamID] {
		if err := os.MkdirAll(streamDir, 0o755); err != nil {
			return fmt.Errorf("create results dir: %w", err)
		}
		s.made[res.StreamID] = true
	}

	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	path := filepath.Join(streamDir, fmt.Sprintf("frame_%06d.json", res.FrameID))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

// Close is a no-op; every Store call flushes to disk.
func (s *FileSink) Close() error { return nil }
