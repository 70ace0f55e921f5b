// Package detect connects the drone to the external object detector.
package detect

import (
	"context"
	"image"
	"sync"
	"time"

	"dronelink/pkg/models"
)

// Detector returns the objects visible in a frame
type Detector interface {
	Detect(ctx context.Context, frame image.Image) ([]models.Detection, error)
}

// Nop is a detector that never sees anything
type Nop struct{}

func (Nop) Detect(context.Context, image.Image) ([]models.Detection, error) {
	return nil, nil
}

// Cache holds the most recent detection result for the gimbal controller
type Cache struct {
	mu     sync.RWMutex
	latest *models.DetectionResult
}

// NewCache creates an empty cache
func NewCache() *Cache {
	return &Cache{}
}

// Store replaces the cached result. frameWidth is the width of the frame
// the detections were taken in.
func (c *Cache) Store(detections []models.Detection, frameWidth int, at time.Time) {
	result := &models.DetectionResult{Detections: detections, FrameWidth: frameWidth, At: at}

	c.mu.Lock()
	c.latest = result
	c.mu.Unlock()
}

// Latest returns the cached result, or nil before the first Store. The
// result must not be modified.
func (c *Cache) Latest() *models.DetectionResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest
}

// Clear drops the cached result
func (c *Cache) Clear() {
	c.mu.Lock()
	c.latest = nil
	c.mu.Unlock()
}

// Matching returns the detections that designate target
func Matching(detections []models.Detection, target string) []models.Detection {
	var out []models.Detection
	for _, d := range detections {
		if d.Matches(target) {
			out = append(out, d)
		}
	}
	return out
}
