// Package detect runs object detection on decoded frames. The compute
// stage is hidden behind Engine so the worker pool stays agnostic to
// the model in use.
package detect

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/visionflow/go-visionflow/pkg/protocol"
)

// Engine is the compute stage applied to each frame.
type Engine interface {
	Detect(img gocv.Mat) ([]protocol.Detection, error)
	Close() error
}

// Decode turns a frame payload into a BGR Mat. Encoded payloads are
// image bytes (JPEG/PNG); raw payloads are packed BGR pixels whose
// dimensions come from the frame header. Caller owns the returned Mat.
func Decode(fm *protocol.FrameMessage) (gocv.Mat, error) {
	if fm.Encoded {
		img, err := gocv.IMDecode(fm.Payload, gocv.IMReadColor)
		if err != nil {
			return gocv.Mat{}, fmt.Errorf("decode image: %w", err)
		}
		if img.Empty() {
			img.Close()
			return gocv.Mat{}, fmt.Errorf("decode image: empty result")
		}
		return img, nil
	}

	if fm.Width <= 0 || fm.Height <= 0 {
		return gocv.Mat{}, fmt.Errorf("raw frame missing dimensions")
	}
	if want := fm.Width * fm.Height * 3; len(fm.Payload) != want {
		return gocv.Mat{}, fmt.Errorf("raw frame payload is %d bytes, want %d", len(fm.Payload), want)
	}
	img, err := gocv.NewMatFromBytes(fm.Height, fm.Width, gocv.MatTypeCV8UC3, fm.Payload)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("wrap raw frame: %w", err)
	}
	return img, nil
}
