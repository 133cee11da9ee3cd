package detector

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLetterboxPreservesAspectRatio(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 50))
	for y := 0; y < 50; y++ {
		for x := 0; x < 100; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 255, A: 255})
		}
	}

	data, lb := letterbox(img, 64)
	require.Len(t, data, 3*64*64)

	assert.InDelta(t, 0.64, lb.scale, 1e-6)
	assert.InDelta(t, 0, lb.padX, 1e-6)
	assert.InDelta(t, 16, lb.padY, 1e-6)

	// Top-left corner is padding gray on every channel.
	const padValue = float32(114.0 / 255.0)
	assert.InDelta(t, padValue, data[0], 1e-4)
	assert.InDelta(t, padValue, data[64*64], 1e-4)
	assert.InDelta(t, padValue, data[2*64*64], 1e-4)

	// Center of the image region is red: R near 1, G and B near 0.
	idx := 32*64 + 32
	assert.InDelta(t, 1.0, data[idx], 0.05)
	assert.InDelta(t, 0.0, data[64*64+idx], 0.05)
	assert.InDelta(t, 0.0, data[2*64*64+idx], 0.05)
}

func TestToSourceMapsBackThroughLetterbox(t *testing.T) {
	lb := letterboxParams{scale: 0.64, padX: 0, padY: 16}

	// A box covering the whole padded image maps to the full source frame.
	bbox := lb.toSource(rawBox{x1: 0, y1: 16, x2: 64, y2: 48}, 100, 50)
	assert.InDelta(t, 0, bbox[0], 1e-3)
	assert.InDelta(t, 0, bbox[1], 1e-3)
	assert.InDelta(t, 100, bbox[2], 1e-3)
	assert.InDelta(t, 50, bbox[3], 1e-3)

	// Out-of-frame coordinates are clamped.
	bbox = lb.toSource(rawBox{x1: -10, y1: 0, x2: 200, y2: 100}, 100, 50)
	assert.GreaterOrEqual(t, bbox[0], float32(0))
	assert.LessOrEqual(t, bbox[2], float32(100))
	assert.LessOrEqual(t, bbox[3], float32(50))
}
