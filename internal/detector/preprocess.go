package detector

import (
	"image"

	"github.com/nfnt/resize"
)

// letterboxParams records how an image was fitted into the square model
// input, so box coordinates can be mapped back to source pixels.
type letterboxParams struct {
	scale float32
	padX  float32
	padY  float32
}

// letterbox scales the image to fit the model's square input while keeping
// its aspect ratio, pads the remainder, and flattens it into a normalized
// CHW float32 tensor.
func letterbox(img image.Image, size int) ([]float32, letterboxParams) {
	bounds := img.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()

	scale := float32(size) / float32(srcW)
	if s := float32(size) / float32(srcH); s < scale {
		scale = s
	}
	newW := int(float32(srcW) * scale)
	newH := int(float32(srcH) * scale)
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	resized := resize.Resize(uint(newW), uint(newH), img, resize.Lanczos3)

	padX := (size - newW) / 2
	padY := (size - newH) / 2

	// CHW layout, RGB in [0,1]; padding stays at the 114/255 gray YOLO
	// models are trained with.
	data := make([]float32, 3*size*size)
	const padValue = float32(114.0 / 255.0)
	for i := range data {
		data[i] = padValue
	}

	plane := size * size
	rb := resized.Bounds()
	for y := 0; y < newH; y++ {
		for x := 0; x < newW; x++ {
			r, g, b, _ := resized.At(rb.Min.X+x, rb.Min.Y+y).RGBA()
			idx := (y+padY)*size + (x + padX)
			data[idx] = float32(r) / 65535.0
			data[plane+idx] = float32(g) / 65535.0
			data[2*plane+idx] = float32(b) / 65535.0
		}
	}

	return data, letterboxParams{
		scale: scale,
		padX:  float32(padX),
		padY:  float32(padY),
	}
}

// toSource maps a box from model-input coordinates back onto the original
// image, clamped to its bounds.
func (p letterboxParams) toSource(b rawBox, srcW, srcH int) [4]float32 {
	x1 := (b.x1 - p.padX) / p.scale
	y1 := (b.y1 - p.padY) / p.scale
	x2 := (b.x2 - p.padX) / p.scale
	y2 := (b.y2 - p.padY) / p.scale

	return [4]float32{
		clamp(x1, 0, float32(srcW)),
		clamp(y1, 0, float32(srcH)),
		clamp(x2, 0, float32(srcW)),
		clamp(y2, 0, float32(srcH)),
	}
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
