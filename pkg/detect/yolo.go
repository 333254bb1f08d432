package detect

import (
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/visionflow/go-visionflow/pkg/protocol"
)

// YOLOConfig holds YOLOv8 engine configuration.
type YOLOConfig struct {
	ModelPath        string
	ConfidenceThresh float32
	NMSThresh        float32
	InputSize        int
}

// DefaultYOLOConfig returns production defaults for YOLOv8n.
func DefaultYOLOConfig() YOLOConfig {
	return YOLOConfig{
		ModelPath:        "models/yolov8n.onnx",
		ConfidenceThresh: 0.25,
		NMSThresh:        0.45,
		InputSize:        640,
	}
}

// YOLO runs a YOLOv8 ONNX model through the OpenCV DNN backend.
// The mutex serializes forward passes; gocv.Net is not safe for
// concurrent inference on one handle.
type YOLO struct {
	net       gocv.Net
	cfg       YOLOConfig
	mu        sync.Mutex
	inputSize image.Point
}

// NewYOLO loads the ONNX model from disk.
func NewYOLO(cfg YOLOConfig) (*YOLO, error) {
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load model from %s", cfg.ModelPath)
	}

	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &YOLO{
		net:       net,
		cfg:       cfg,
		inputSize: image.Pt(cfg.InputSize, cfg.InputSize),
	}, nil
}

// Detect runs one forward pass and returns detections with bounding
// boxes in pixel coordinates of the input image.
func (y *YOLO) Detect(img gocv.Mat) ([]protocol.Detection, error) {
	y.mu.Lock()
	defer y.mu.Unlock()

	if img.Empty() {
		return nil, fmt.Errorf("empty image")
	}

	imgW := float32(img.Cols())
	imgH := float32(img.Rows())

	blob := gocv.BlobFromImage(img, 1.0/255.0, y.inputSize, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	y.net.SetInput(blob, "")

	output := y.net.Forward("")
	defer output.Close()

	return y.parseOutput(output, imgW, imgH), nil
}

// parseOutput decodes the YOLOv8 output tensor.
// Shape is [1, 84, 8400]: 84 = 4 bbox values + 80 class scores.
func (y *YOLO) parseOutput(output gocv.Mat, imgW, imgH float32) []protocol.Detection {
	var boxes []image.Rectangle
	var confidences []float32
	var classIDs []int

	rows := output.Cols() // 8400 candidates
	cols := output.Rows() // 84 channels

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil
	}

	scaleX := imgW / float32(y.cfg.InputSize)
	scaleY := imgH / float32(y.cfg.InputSize)

	for i := 0; i < rows; i++ {
		maxScore := float32(0)
		maxClassID := 0
		for c := 4; c < cols; c++ {
			if score := data[c*rows+i]; score > maxScore {
				maxScore = score
				maxClassID = c - 4
			}
		}
		if maxScore < y.cfg.ConfidenceThresh {
			continue
		}

		// Model emits center x/y plus width/height in input-size space.
		cx := data[0*rows+i]
		cy := data[1*rows+i]
		w := data[2*rows+i]
		h := data[3*rows+i]

		x1 := int((cx - w/2) * scaleX)
		y1 := int((cy - h/2) * scaleY)
		x2 := int((cx + w/2) * scaleX)
		y2 := int((cy + h/2) * scaleY)

		boxes = append(boxes, image.Rect(x1, y1, x2, y2))
		confidences = append(confidences, maxScore)
		classIDs = append(classIDs, maxClassID)
	}

	if len(boxes) == 0 {
		return nil
	}

	indices := gocv.NMSBoxes(boxes, confidences, y.cfg.ConfidenceThresh, y.cfg.NMSThresh)

	detections := make([]protocol.Detection, 0, len(indices))
	for _, idx := range indices {
		box := boxes[idx]
		detections = append(detections, protocol.Detection{
			Label:      COCOClasses[classIDs[idx]],
			Confidence: protocol.Round2(confidences[idx]),
			BBox: [4]float32{
				float32(box.Min.X), float32(box.Min.Y),
				float32(box.Max.X), float32(box.Max.Y),
			},
		})
	}
	return detections
}

// Close releases the model.
func (y *YOLO) Close() error {
	y.mu.Lock()
	defer y.mu.Unlock()
	return y.net.Close()
}

// COCOClasses contains the 80 COCO class names in model order.
var COCOClasses = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat",
	"dog", "horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack",
	"umbrella", "handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball",
	"kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket",
	"bottle", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple",
	"sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair",
	"couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink", "refrigerator",
	"book", "clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
}
