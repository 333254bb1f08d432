package capture

import (
	"fmt"
	"image"
	"strconv"

	"gocv.io/x/gocv"
)

// WebcamConfig configures the gocv-backed capture device.
type WebcamConfig struct {
	// StreamURL is a device index ("0") or an RTSP/file URL.
	StreamURL string
	// Target dimensions frames are resized to before encoding.
	// Zero leaves the source resolution untouched.
	Width  int
	Height int
	// JPEGQuality in 1..100; frames ship pre-encoded to cut wire size.
	JPEGQuality int
}

// Webcam reads frames from a local camera or network stream via OpenCV.
// It implements Device. Not safe for concurrent use; the capture loop is the
// single caller.
type Webcam struct {
	cfg WebcamConfig
	cap *gocv.VideoCapture
	mat gocv.Mat
}

// NewWebcam creates a gocv capture device. The source is not opened until
// Open is called by the capture state machine.
func NewWebcam(cfg WebcamConfig) *Webcam {
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 80
	}
	return &Webcam{
		cfg: cfg,
		mat: gocv.NewMat(),
	}
}

// Open acquires the video source.
func (w *Webcam) Open() error {
	cap, err := gocv.OpenVideoCapture(parseSource(w.cfg.StreamURL))
	if err != nil {
		return fmt.Errorf("capture: failed to open %q: %w", w.cfg.StreamURL, err)
	}
	if !cap.IsOpened() {
		cap.Close()
		return fmt.Errorf("capture: source %q is not open", w.cfg.StreamURL)
	}

	// Keep the driver buffer shallow so frames are as fresh as possible.
	cap.Set(gocv.VideoCaptureBufferSize, 1)

	w.cap = cap
	return nil
}

// Grab reads, resizes and JPEG-encodes one frame.
func (w *Webcam) Grab() (RawFrame, error) {
	if w.cap == nil {
		return RawFrame{}, fmt.Errorf("capture: device not open")
	}
	if ok := w.cap.Read(&w.mat); !ok || w.mat.Empty() {
		return RawFrame{}, ErrNoFrame
	}

	frame := w.mat
	if w.cfg.Width > 0 && w.cfg.Height > 0 &&
		(frame.Cols() != w.cfg.Width || frame.Rows() != w.cfg.Height) {
		resized := gocv.NewMat()
		gocv.Resize(frame, &resized, image.Pt(w.cfg.Width, w.cfg.Height), 0, 0, gocv.InterpolationLinear)
		defer resized.Close()
		frame = resized
	}

	buf, err := gocv.IMEncodeWithParams(".jpg", frame,
		[]int{gocv.IMWriteJpegQuality, w.cfg.JPEGQuality})
	if err != nil {
		return RawFrame{}, fmt.Errorf("capture: jpeg encode failed: %w", err)
	}
	defer buf.Close()

	payload := make([]byte, len(buf.GetBytes()))
	copy(payload, buf.GetBytes())

	return RawFrame{
		Payload: payload,
		Width:   frame.Cols(),
		Height:  frame.Rows(),
		Encoded: true,
	}, nil
}

// Close releases the source handle.
func (w *Webcam) Close() {
	if w.cap != nil {
		w.cap.Close()
		w.cap = nil
	}
}

// parseSource passes numeric device indices through as ints so gocv opens
// them as local devices rather than URLs.
func parseSource(url string) interface{} {
	if idx, err := strconv.Atoi(url); err == nil {
		return idx
	}
	return url
}
