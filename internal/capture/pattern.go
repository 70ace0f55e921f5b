package capture

import (
	"context"
	"image"
	"image/color"
	"sync"
)

// PatternSource generates a moving test card. With Limit > 0 it fails after
// that many frames, like a camera being unplugged.
type PatternSource struct {
	Width  int
	Height int
	Limit  int

	mu     sync.Mutex
	n      int
	closed bool
}

// NewPatternSource creates an unlimited pattern source
func NewPatternSource(w, h int) *PatternSource {
	return &PatternSource{Width: w, Height: h}
}

func (s *PatternSource) Read(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || (s.Limit > 0 && s.n >= s.Limit) {
		return nil, ErrCaptureFailed
	}
	s.n++

	img := image.NewRGBA(image.Rect(0, 0, s.Width, s.Height))
	// vertical bar sweeping left to right
	bar := (s.n * 8) % max(s.Width, 1)
	for y := 0; y < s.Height; y++ {
		for x := 0; x < s.Width; x++ {
			c := color.RGBA{R: uint8(x), G: uint8(y), B: 96, A: 255}
			if x >= bar && x < bar+16 {
				c = color.RGBA{R: 255, G: 255, B: 255, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img, nil
}

func (s *PatternSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
