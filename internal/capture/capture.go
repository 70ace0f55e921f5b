// Package capture produces camera frames on the drone and prepares them for
// the video link.
package capture

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"
)

// PatternDevice selects the synthetic source instead of a camera
const PatternDevice = "pattern"

// ErrCaptureFailed means the source produced no frame. The drone treats it
// as fatal.
var ErrCaptureFailed = errors.New("capture failed")

// Source yields frames one at a time
type Source interface {
	Read(ctx context.Context) (image.Image, error)
	Close() error
}

// Resize scales img to w x h. Images already at that size are returned as is.
func Resize(img image.Image, w, h int) image.Image {
	b := img.Bounds()
	if b.Dx() == w && b.Dy() == h {
		return img
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// EncodeJPEG encodes img at the given quality (1-100)
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, errors.Wrap(err, "failed to encode frame")
	}
	return buf.Bytes(), nil
}
