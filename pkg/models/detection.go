package models

import (
	"image"
	"time"
)

// Detection is a single detector hit
type Detection struct {
	ID         string  `json:"id"`    // Tracker or tag id (may be empty)
	Label      string  `json:"label"` // Class name, e.g. "cup"
	X          float64 `json:"x"`     // Centroid x in pixels
	Y          float64 `json:"y"`     // Centroid y in pixels
	Box        Box     `json:"box"`   // Bounding box, zero if unknown
	Confidence float64 `json:"confidence,omitempty"`
}

// Box is an xyxy bounding box in pixels
type Box struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Rect converts the box to an image rectangle
func (b Box) Rect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2)
}

// Matches reports whether the detection designates the given target.
// Both the label and the id are accepted so tag ids ("2") and class names
// ("red cup") work the same way.
func (d Detection) Matches(target string) bool {
	if target == "" {
		return false
	}
	return d.Label == target || (d.ID != "" && d.ID == target)
}

// DetectionResult is the detector output for one frame
type DetectionResult struct {
	Detections []Detection `json:"detections"`
	FrameWidth int         `json:"frame_width,omitempty"` // Width of the frame the pixel coordinates refer to
	At         time.Time   `json:"at"`
}

// CenterX is the horizontal center of the frame the detections were taken
// in, or fallback when the width is unknown
func (r *DetectionResult) CenterX(fallback float64) float64 {
	if r == nil || r.FrameWidth <= 0 {
		return fallback
	}
	return float64(r.FrameWidth) / 2
}

// Find returns the first detection matching target
func (r *DetectionResult) Find(target string) (Detection, bool) {
	if r == nil {
		return Detection{}, false
	}
	for _, d := range r.Detections {
		if d.Matches(target) {
			return d, true
		}
	}
	return Detection{}, false
}
