package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransformAppliesStandardScaler(t *testing.T) {
	vector := []float32{10, 20, 30}
	mean := []float32{10, 10, 10}
	scale := []float32{2, 5, 0} // zero scale must not divide by zero

	scaled := transform(vector, mean, scale)
	require.Len(t, scaled, 3)
	assert.InDelta(t, 0, scaled[0], 1e-6)
	assert.InDelta(t, 2, scaled[1], 1e-6)
	assert.InDelta(t, 20, scaled[2], 1e-6)
}

func TestArgmax(t *testing.T) {
	code, conf := argmax([]float32{0.1, 0.7, 0.2})
	assert.Equal(t, 1, code)
	assert.InDelta(t, 0.7, conf, 1e-6)

	code, conf = argmax(nil)
	assert.Equal(t, 0, code)
	assert.InDelta(t, 0, conf, 1e-6)
}

func TestClassifyRejectsPartialVectors(t *testing.T) {
	c := &Classifier{
		meta: Metadata{
			Features: make([]string, 12),
			Mean:     make([]float32, 12),
			Scale:    make([]float32, 12),
			Labels:   []string{"Healthy", "Moderate Stress", "High Stress"},
		},
	}

	_, err := c.Classify([]float32{1, 2, 3})
	require.ErrorIs(t, err, ErrSchemaMismatch)

	_, err = c.Classify(make([]float32, 13))
	require.ErrorIs(t, err, ErrSchemaMismatch)
}
