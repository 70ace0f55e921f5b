package detect

import (
	"bufio"
	"context"
	"image"
	"net"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"dronelink/pkg/models"
)

const maxLineSize = 1 << 20

// SocketFeed receives detections from the inference process. The process
// connects to a unix socket and writes one JSON object per line, with
// pixel coordinates in the streamed frame (capture.width x capture.height):
//
//	{"detections":[{"label":"red cup","x":380,"y":240,"box":{"x1":330,"y1":180,"x2":430,"y2":300}}]}
//
// Detect returns the newest result no older than maxAge.
type SocketFeed struct {
	path   string
	maxAge time.Duration
	logger logrus.FieldLogger
	now    func() time.Time

	mu     sync.RWMutex
	latest models.DetectionResult
}

// NewSocketFeed creates a feed listening at path. A zero maxAge accepts
// results of any age.
func NewSocketFeed(path string, maxAge time.Duration, logger logrus.FieldLogger) *SocketFeed {
	return &SocketFeed{
		path:   path,
		maxAge: maxAge,
		logger: logger,
		now:    time.Now,
	}
}

// Detect returns the latest detections pushed by the inference process
func (f *SocketFeed) Detect(ctx context.Context, _ image.Image) ([]models.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.latest.At.IsZero() {
		return nil, nil
	}
	if f.maxAge > 0 && f.now().Sub(f.latest.At) > f.maxAge {
		return nil, nil
	}
	return f.latest.Detections, nil
}

// Run accepts producer connections until ctx is cancelled
func (f *SocketFeed) Run(ctx context.Context) error {
	if _, err := os.Stat(f.path); err == nil {
		if err := os.Remove(f.path); err != nil {
			return errors.Wrapf(err, "failed to remove stale socket %s", f.path)
		}
	}

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: f.path, Net: "unix"})
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", f.path)
	}
	defer os.Remove(f.path)
	defer ln.Close()

	stop := context.AfterFunc(ctx, func() {
		ln.Close()
	})
	defer stop()

	f.logger.WithField("socket", f.path).Info("Waiting for detector")

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := ln.AcceptUnix()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return errors.Wrap(err, "failed to accept detector connection")
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			f.serve(ctx, conn)
		}()
	}
}

func (f *SocketFeed) serve(ctx context.Context, conn *net.UnixConn) {
	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()
	defer conn.Close()

	f.logger.Info("Detector connected")

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var result models.DetectionResult
		if err := json.Unmarshal(line, &result); err != nil {
			f.logger.WithError(err).Warn("Ignoring malformed detection line")
			continue
		}
		f.Publish(result)
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		f.logger.WithError(err).Warn("Detector connection failed")
		return
	}
	f.logger.Info("Detector disconnected")
}

// Publish replaces the latest result. A zero timestamp is set to now.
func (f *SocketFeed) Publish(result models.DetectionResult) {
	if result.At.IsZero() {
		result.At = f.now()
	}

	f.mu.Lock()
	f.latest = result
	f.mu.Unlock()
}
