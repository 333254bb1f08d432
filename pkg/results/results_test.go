package results

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visionflow/go-visionflow/pkg/protocol"
)

func TestFileSinkLayout(t *testing.T) {
	dir := t.TempDir()
	sink := NewFileSink(dir)
	defer sink.Close()

	res := &protocol.ResultMessage{
		StreamID:  "cam_1",
		FrameID:   42,
		Timestamp: 1724660000,
		LatencyMS: 18.3,
		Detections: []protocol.Detection{
			{Label: "person", Confidence: 0.91, BBox: [4]float32{10, 20, 110, 220}},
		},
	}
	require.NoError(t, sink.Store(res))

	path := filepath.Join(dir, "cam_1", "frame_000042.json")
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var parsed protocol.ResultMessage
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.Equal(t, res.FrameID, parsed.FrameID)
	assert.Equal(t, res.LatencyMS, parsed.LatencyMS)
	require.Len(t, parsed.Detections, 1)
	assert.Equal(t, "person", parsed.Detections[0].Label)

	// Files are indented for human inspection.
	assert.True(t, strings.Contains(string(data), "\n  "), "output should be indented JSON")
}

func TestFileSinkSeparatesStreams(t *testing.T) {
	dir := t.TempDir()
	sink := NewFileSink(dir)
	defer sink.Close()

	require.NoError(t, sink.Store(&protocol.ResultMessage{StreamID: "cam_1", FrameID: 1}))
	require.NoError(t, sink.Store(&protocol.ResultMessage{StreamID: "cam_2", FrameID: 1}))
	require.NoError(t, sink.Store(&protocol.ResultMessage{StreamID: "cam_1", FrameID: 2}))

	for _, path := range []string{
		filepath.Join(dir, "cam_1", "frame_000001.json"),
		filepath.Join(dir, "cam_1", "frame_000002.json"),
		filepath.Join(dir, "cam_2", "frame_000001.json"),
	} {
		_, err := os.Stat(path)
		assert.NoError(t, err, "missing %s", path)
	}
}

func TestFileSinkOverwritesSameFrame(t *testing.T) {
	dir := t.TempDir()
	sink := NewFileSink(dir)
	defer sink.Close()

	require.NoError(t, sink.Store(&protocol.ResultMessage{StreamID: "cam_1", FrameID: 3, LatencyMS: 1.0}))
	require.NoError(t, sink.Store(&protocol.ResultMessage{StreamID: "cam_1", FrameID: 3, LatencyMS: 2.0}))

	data, err := os.ReadFile(filepath.Join(dir, "cam_1", "frame_000003.json"))
	require.NoError(t, err)

	var parsed protocol.ResultMessage
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.Equal(t, float32(2.0), parsed.LatencyMS)
}

func TestKafkaSinkConfiguration(t *testing.T) {
	sink := NewKafkaSink([]string{"localhost:9092"}, "detection-results")
	defer sink.Close()

	assert.Equal(t, "detection-results", sink.writer.Topic)
	assert.False(t, sink.writer.Async)
}
