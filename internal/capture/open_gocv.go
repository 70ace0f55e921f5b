//go:build gocv

package capture

import (
	"context"
	"image"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Open returns the source for device: a camera index, a stream URL or the
// pattern source
func Open(device string, w, h int) (Source, error) {
	if device == PatternDevice {
		return NewPatternSource(w, h), nil
	}
	return OpenCamera(device, w, h)
}

// CameraSource reads frames through OpenCV
type CameraSource struct {
	mu      sync.Mutex
	capture *gocv.VideoCapture
	mat     gocv.Mat
}

// OpenCamera opens a camera by index, or any other OpenCV capture URI
func OpenCamera(device string, w, h int) (*CameraSource, error) {
	var (
		vc  *gocv.VideoCapture
		err error
	)
	if idx, convErr := strconv.Atoi(device); convErr == nil {
		vc, err = gocv.OpenVideoCapture(idx)
	} else {
		vc, err = gocv.OpenVideoCapture(device)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open camera %s", device)
	}

	vc.Set(gocv.VideoCaptureFrameWidth, float64(w))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(h))

	return &CameraSource{capture: vc, mat: gocv.NewMat()}, nil
}

func (s *CameraSource) Read(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ok := s.capture.Read(&s.mat); !ok || s.mat.Empty() {
		return nil, ErrCaptureFailed
	}

	img, err := s.mat.ToImage()
	if err != nil {
		return nil, errors.Wrap(ErrCaptureFailed, err.Error())
	}
	return img, nil
}

func (s *CameraSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mat.Close()
	return s.capture.Close()
}
