// Package detector wraps the object-detection model. It feeds decoded still
// images (or the frames of an uploaded video) through an ONNX session and
// turns the raw tensor output into detection records.
package detector

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/muqadasejaz/Strawberry-Disease-Prediction/internal/models"
)

// ErrDecode marks unreadable or corrupt media.
var ErrDecode = errors.New("media decode failed")

// ErrInference marks a model invocation failure.
var ErrInference = errors.New("inference failed")

// Metadata describes the exported detection model.
type Metadata struct {
	InputShape    []int64  `json:"input_shape"`
	OutputShape   []int64  `json:"output_shape"`
	Classes       []string `json:"classes"`
	ImageSize     int      `json:"image_size"`
	ConfThreshold float32  `json:"confidence_threshold"`
	IoUThreshold  float32  `json:"iou_threshold"`
}

// Engine owns the detection session. The weights are loaded once and shared
// read-only; the session's scratch tensors are not, so Run is serialized
// behind a mutex.
type Engine struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	meta         Metadata
	mu           sync.Mutex
	logger       *zap.Logger
}

// NewEngine loads model metadata and builds the ONNX session. The ONNX
// runtime environment must already be initialized by the caller.
func NewEngine(modelPath, metadataPath string, logger *zap.Logger) (*Engine, error) {
	metaFile, err := os.ReadFile(metadataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read detector metadata: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal(metaFile, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse detector metadata: %w", err)
	}
	if meta.ConfThreshold == 0 {
		meta.ConfThreshold = 0.25
	}
	if meta.IoUThreshold == 0 {
		meta.IoUThreshold = 0.45
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"images"}, []string{"output0"},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create detection session: %w", err)
	}

	logger.Info("Detection model loaded",
		zap.String("model_path", modelPath),
		zap.Strings("classes", meta.Classes),
		zap.Int("image_size", meta.ImageSize))

	return &Engine{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		meta:         meta,
		logger:       logger,
	}, nil
}

// DetectImage runs one inference pass over a decoded image and returns the
// detections in source-pixel coordinates. An empty slice is a valid result.
func (e *Engine) DetectImage(img image.Image) ([]models.Detection, error) {
	input, lb := letterbox(img, e.meta.ImageSize)

	e.mu.Lock()
	copy(e.inputTensor.GetData(), input)
	err := e.session.Run()
	var output []float32
	if err == nil {
		raw := e.outputTensor.GetData()
		output = make([]float32, len(raw))
		copy(output, raw)
	}
	e.mu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}

	boxes := decodeBoxes(output, len(e.meta.Classes), e.meta.ConfThreshold)
	boxes = nonMaxSuppression(boxes, e.meta.IoUThreshold)

	bounds := img.Bounds()
	detections := make([]models.Detection, 0, len(boxes))
	for _, b := range boxes {
		detections = append(detections, models.Detection{
			Class:      e.meta.Classes[b.class],
			Confidence: b.score,
			BBox:       lb.toSource(b, bounds.Dx(), bounds.Dy()),
		})
	}
	return detections, nil
}

// Classes exposes the model's label set.
func (e *Engine) Classes() []string {
	return e.meta.Classes
}

// Close tears down the session and its tensors.
func (e *Engine) Close() {
	if e.inputTensor != nil {
		e.inputTensor.Destroy()
	}
	if e.outputTensor != nil {
		e.outputTensor.Destroy()
	}
	if e.session != nil {
		e.session.Destroy()
	}
}
