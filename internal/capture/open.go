//go:build !gocv

package capture

import "github.com/pkg/errors"

// Open returns the source for device. Only the pattern source is available
// in builds without the gocv tag.
func Open(device string, w, h int) (Source, error) {
	if device == PatternDevice {
		return NewPatternSource(w, h), nil
	}
	return nil, errors.Errorf("camera %q needs a build with -tags gocv", device)
}
