// Package classifier wraps the tabular plant-health model: a standard scaler
// followed by an ONNX decision tree exported from the training pipeline.
package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/muqadasejaz/Strawberry-Disease-Prediction/internal/models"
)

// ErrSchemaMismatch is returned when a feature vector does not match the
// trained schema's length and order.
var ErrSchemaMismatch = errors.New("feature vector does not match trained schema")

// ErrInference marks a model invocation failure.
var ErrInference = errors.New("classification failed")

// Metadata describes the exported tabular model and its scaler.
type Metadata struct {
	Features []string  `json:"features"`
	Mean     []float32 `json:"scaler_mean"`
	Scale    []float32 `json:"scaler_scale"`
	Labels   []string  `json:"labels"`
}

// Classifier owns the tabular session. Run is serialized for the same reason
// as the detection engine: the pre-allocated tensors are shared scratch.
type Classifier struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	meta         Metadata
	mu           sync.Mutex
	logger       *zap.Logger
}

// New loads the scaler parameters and label set, then builds the session.
// The ONNX runtime environment must already be initialized.
func New(modelPath, metadataPath string, logger *zap.Logger) (*Classifier, error) {
	metaFile, err := os.ReadFile(metadataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read classifier metadata: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal(metaFile, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse classifier metadata: %w", err)
	}
	if len(meta.Features) == 0 || len(meta.Labels) == 0 {
		return nil, fmt.Errorf("classifier metadata is missing features or labels")
	}
	if len(meta.Mean) != len(meta.Features) || len(meta.Scale) != len(meta.Features) {
		return nil, fmt.Errorf("scaler parameters do not match feature schema")
	}

	n := int64(len(meta.Features))
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, n))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(len(meta.Labels))))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input"}, []string{"probabilities"},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create classifier session: %w", err)
	}

	logger.Info("Health classifier loaded",
		zap.String("model_path", modelPath),
		zap.Strings("labels", meta.Labels))

	return &Classifier{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		meta:         meta,
		logger:       logger,
	}, nil
}

// Classify scales the feature vector and returns the predicted label with
// its confidence in percent. Partial vectors are rejected up front.
func (c *Classifier) Classify(vector []float32) (models.HealthResult, error) {
	if len(vector) != len(c.meta.Features) {
		return models.HealthResult{}, fmt.Errorf("%w: expected %d features, got %d",
			ErrSchemaMismatch, len(c.meta.Features), len(vector))
	}

	scaled := transform(vector, c.meta.Mean, c.meta.Scale)

	c.mu.Lock()
	copy(c.inputTensor.GetData(), scaled)
	err := c.session.Run()
	var probs []float32
	if err == nil {
		raw := c.outputTensor.GetData()
		probs = make([]float32, len(raw))
		copy(probs, raw)
	}
	c.mu.Unlock()

	if err != nil {
		return models.HealthResult{}, fmt.Errorf("%w: %v", ErrInference, err)
	}

	code, conf := argmax(probs)
	return models.HealthResult{
		Status:     c.meta.Labels[code],
		Confidence: conf * 100,
		Code:       code,
	}, nil
}

// Close tears down the session and its tensors.
func (c *Classifier) Close() {
	if c.inputTensor != nil {
		c.inputTensor.Destroy()
	}
	if c.outputTensor != nil {
		c.outputTensor.Destroy()
	}
	if c.session != nil {
		c.session.Destroy()
	}
}

// transform applies the training-time standard scaler.
func transform(vector, mean, scale []float32) []float32 {
	scaled := make([]float32, len(vector))
	for i, v := range vector {
		s := scale[i]
		if s == 0 {
			s = 1
		}
		scaled[i] = (v - mean[i]) / s
	}
	return scaled
}

// argmax returns the index and value of the largest probability.
func argmax(probs []float32) (int, float32) {
	best := 0
	var bestVal float32
	if len(probs) > 0 {
		bestVal = probs[0]
	}
	for i, p := range probs {
		if p > bestVal {
			bestVal = p
			best = i
		}
	}
	return best, bestVal
}
