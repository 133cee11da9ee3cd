package detector

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/muqadasejaz/Strawberry-Disease-Prediction/internal/models"
)

var (
	boxColor   = color.RGBA{R: 34, G: 139, B: 34, A: 255}
	labelColor = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

const boxThickness = 3

// annotate draws detection boxes and class labels onto a copy of the frame.
func annotate(img image.Image, detections []models.Detection) *image.RGBA {
	bounds := img.Bounds()
	out := image.NewRGBA(bounds)
	draw.Draw(out, bounds, img, bounds.Min, draw.Src)

	for _, d := range detections {
		rect := image.Rect(
			bounds.Min.X+int(d.BBox[0]),
			bounds.Min.Y+int(d.BBox[1]),
			bounds.Min.X+int(d.BBox[2]),
			bounds.Min.Y+int(d.BBox[3]),
		).Intersect(bounds)
		if rect.Empty() {
			continue
		}

		drawRect(out, rect)
		drawLabel(out, rect, fmt.Sprintf("%s %.2f", d.Class, d.Confidence))
	}
	return out
}

func drawRect(img *image.RGBA, rect image.Rectangle) {
	for t := 0; t < boxThickness; t++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			setPixel(img, x, rect.Min.Y+t)
			setPixel(img, x, rect.Max.Y-1-t)
		}
		for y := rect.Min.Y; y < rect.Max.Y; y++ {
			setPixel(img, rect.Min.X+t, y)
			setPixel(img, rect.Max.X-1-t, y)
		}
	}
}

func setPixel(img *image.RGBA, x, y int) {
	if (image.Point{X: x, Y: y}).In(img.Bounds()) {
		img.Set(x, y, boxColor)
	}
}

func drawLabel(img *image.RGBA, rect image.Rectangle, text string) {
	face := basicfont.Face7x13

	textW := font.MeasureString(face, text).Ceil()
	textH := face.Metrics().Height.Ceil()

	// Label sits just above the box, or inside its top edge when there is
	// no room.
	bgTop := rect.Min.Y - textH - 2
	if bgTop < img.Bounds().Min.Y {
		bgTop = rect.Min.Y
	}
	bg := image.Rect(rect.Min.X, bgTop, rect.Min.X+textW+4, bgTop+textH+2).
		Intersect(img.Bounds())
	draw.Draw(img, bg, image.NewUniform(boxColor), image.Point{}, draw.Src)

	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(labelColor),
		Face: face,
		Dot:  fixed.P(bg.Min.X+2, bg.Min.Y+face.Metrics().Ascent.Ceil()),
	}
	d.DrawString(text)
}
