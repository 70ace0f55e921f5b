// Package snapshot archives frames from the live view
package snapshot

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"dronelink/internal/metrics"
	"dronelink/internal/storage"
	"dronelink/pkg/models"
)

// ErrNoFrame means nothing has been received yet
var ErrNoFrame = errors.New("no frame received yet")

// ErrInvalidName means a snapshot name is not one this recorder produces
var ErrInvalidName = errors.New("invalid snapshot name")

// FrameSource returns the newest frame
type FrameSource interface {
	Latest() (*models.Frame, bool)
}

// Snapshot describes a stored frame
type Snapshot struct {
	Name      string    `json:"name"`
	Seq       uint64    `json:"seq"`
	Size      int       `json:"size"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	CreatedAt time.Time `json:"createdAt"`
}

// Recorder writes snapshots under a directory of a Storage
type Recorder struct {
	store   storage.Storage
	frames  FrameSource
	dir     string
	logger  logrus.FieldLogger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewRecorder creates a recorder storing under dir, typically the session id
func NewRecorder(store storage.Storage, frames FrameSource, dir string, logger logrus.FieldLogger, m *metrics.Metrics) *Recorder {
	return &Recorder{
		store:   store,
		frames:  frames,
		dir:     dir,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// Capture stores the newest frame
func (r *Recorder) Capture(ctx context.Context) (Snapshot, error) {
	frame, ok := r.frames.Latest()
	if !ok {
		return Snapshot{}, ErrNoFrame
	}

	now := r.now().UTC()
	snap := Snapshot{
		Name:      fmt.Sprintf("%s-%06d.jpg", now.Format("20060102T150405.000"), frame.Seq),
		Seq:       frame.Seq,
		Size:      frame.Size(),
		Width:     frame.Width,
		Height:    frame.Height,
		CreatedAt: now,
	}

	if err := r.store.Write(ctx, path.Join(r.dir, snap.Name), frame.Data); err != nil {
		return Snapshot{}, errors.Wrapf(err, "failed to store snapshot %s", snap.Name)
	}

	r.metrics.RecordSnapshot()
	r.logger.WithFields(logrus.Fields{
		"name": snap.Name,
		"seq":  snap.Seq,
		"size": snap.Size,
	}).Info("Snapshot stored")

	return snap, nil
}

// List returns the names of stored snapshots, oldest first
func (r *Recorder) List(ctx context.Context) ([]string, error) {
	names, err := r.store.List(ctx, r.dir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list snapshots")
	}

	out := names[:0]
	for _, n := range names {
		if strings.HasSuffix(n, ".jpg") {
			out = append(out, n)
		}
	}
	return out, nil
}

// Read returns the JPEG bytes of a stored snapshot
func (r *Recorder) Read(ctx context.Context, name string) ([]byte, error) {
	if name == "" || strings.ContainsAny(name, "/\\") || !strings.HasSuffix(name, ".jpg") {
		return nil, errors.Wrapf(ErrInvalidName, "%q", name)
	}
	return r.store.Read(ctx, path.Join(r.dir, name))
}
