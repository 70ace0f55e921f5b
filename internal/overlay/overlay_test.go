package overlay

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"

	"dronelink/pkg/models"
)

func gray(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: 40, G: 40, B: 40, A: 255})
		}
	}
	return img
}

func TestAnnotateDrawsBox(t *testing.T) {
	src := gray(200, 100)
	det := models.Detection{Label: "red cup", X: 100, Y: 50, Box: models.Box{X1: 50, Y1: 30, X2: 150, Y2: 90}}

	out := Annotate(src, []models.Detection{det})

	assert.Equal(t, BoxColor, color.RGBAModel.Convert(out.At(50, 60)))
	assert.Equal(t, BoxColor, color.RGBAModel.Convert(out.At(149, 60)))
	assert.Equal(t, BoxColor, color.RGBAModel.Convert(out.At(100, 30)))
	assert.Equal(t, BoxColor, color.RGBAModel.Convert(out.At(100, 89)))

	// interior untouched
	assert.Equal(t, color.RGBA{R: 40, G: 40, B: 40, A: 255}, color.RGBAModel.Convert(out.At(100, 60)))

	// the source is not modified
	assert.Equal(t, color.RGBA{R: 40, G: 40, B: 40, A: 255}, src.RGBAAt(50, 60))
}

func TestAnnotateDrawsLabel(t *testing.T) {
	src := gray(200, 100)
	det := models.Detection{Label: "cup", Box: models.Box{X1: 20, Y1: 40, X2: 120, Y2: 90}}

	out := Annotate(src, []models.Detection{det}).(*image.RGBA)

	lit := 0
	for x := 20; x < 60; x++ {
		for y := 20; y < 38; y++ {
			if out.RGBAAt(x, y) == BoxColor {
				lit++
			}
		}
	}
	assert.Positive(t, lit)
}

func TestAnnotateNoDetections(t *testing.T) {
	src := gray(10, 10)
	assert.Same(t, src, Annotate(src, nil))
}

func TestAnnotateClipsOutOfBoundsBox(t *testing.T) {
	src := gray(50, 50)
	dets := []models.Detection{
		{Label: "far away", Box: models.Box{X1: 100, Y1: 100, X2: 200, Y2: 200}},
		{ID: "3", Box: models.Box{X1: -10, Y1: -10, X2: 20, Y2: 20}},
	}

	out := Annotate(src, dets)
	assert.Equal(t, src.Bounds(), out.Bounds())
	assert.Equal(t, BoxColor, color.RGBAModel.Convert(out.At(0, 10)))
}
