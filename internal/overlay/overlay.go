// Package overlay annotates frames with detection boxes and labels
package overlay

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"dronelink/pkg/models"
)

// BoxColor is the outline and label color
var BoxColor = color.RGBA{G: 255, A: 255}

const thickness = 2

// Annotate returns a copy of img with a box and label drawn for every
// detection. img itself is not modified.
func Annotate(img image.Image, detections []models.Detection) image.Image {
	if img == nil || len(detections) == 0 {
		return img
	}

	bounds := img.Bounds()
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, img, bounds.Min, draw.Src)

	for _, d := range detections {
		r := d.Box.Rect().Intersect(bounds)
		if r.Empty() {
			continue
		}
		drawRect(dst, r, BoxColor)
		drawLabel(dst, r, label(d), BoxColor)
	}
	return dst
}

func label(d models.Detection) string {
	if d.Label != "" {
		return d.Label
	}
	return d.ID
}

func drawRect(dst *image.RGBA, r image.Rectangle, c color.Color) {
	src := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+thickness),
		image.Rect(r.Min.X, r.Max.Y-thickness, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+thickness, r.Max.Y),
		image.Rect(r.Max.X-thickness, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(r), src, image.Point{}, draw.Src)
	}
}

// drawLabel writes text just above the box, or inside it at the top edge
func drawLabel(dst *image.RGBA, r image.Rectangle, text string, c color.Color) {
	if text == "" {
		return
	}

	face := basicfont.Face7x13
	y := r.Min.Y - 4
	if y-face.Ascent < dst.Bounds().Min.Y {
		y = r.Min.Y + face.Ascent + thickness
	}

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(r.Min.X, y),
	}
	d.DrawString(text)
}
