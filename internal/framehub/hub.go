// Package framehub hands frames from the video receiver to viewers on the
// ground station. Only the newest frame is retained; slow subscribers lose
// frames instead of holding up the receiver.
package framehub

import (
	"net/http"
	"sync"
	"time"

	"github.com/hybridgroup/mjpeg"

	"dronelink/internal/metrics"
	"dronelink/pkg/models"
)

// Stats summarises hub activity
type Stats struct {
	FramesPublished uint64    `json:"framesPublished"`
	FramesDropped   uint64    `json:"framesDropped"` // subscriber channel full
	Subscribers     int       `json:"subscribers"`
	LastFrameAt     time.Time `json:"lastFrameAt,omitempty"`
	Width           int       `json:"width,omitempty"`
	Height          int       `json:"height,omitempty"`
}

// Hub is the display sink for reassembled frames
type Hub struct {
	mu        sync.RWMutex
	latest    *models.Frame
	published uint64
	dropped   uint64

	// Channels for pub/sub
	subscribers []chan *models.Frame
	subMu       sync.RWMutex

	stream  *mjpeg.Stream
	metrics *metrics.Metrics
}

// New creates an empty hub
func New(m *metrics.Metrics) *Hub {
	return &Hub{
		stream:  mjpeg.NewStream(),
		metrics: m,
	}
}

// Publish makes frame the latest frame and fans it out to subscribers
// without blocking
func (h *Hub) Publish(frame *models.Frame) {
	h.mu.Lock()
	h.latest = frame
	h.published++
	h.mu.Unlock()

	h.stream.UpdateJPEG(frame.Data)

	h.subMu.RLock()
	defer h.subMu.RUnlock()

	for _, ch := range h.subscribers {
		select {
		case ch <- frame:
		default:
			// Channel is full, drop frame
			h.mu.Lock()
			h.dropped++
			h.mu.Unlock()
		}
	}
}

// Latest returns the newest frame
func (h *Hub) Latest() (*models.Frame, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest, h.latest != nil
}

// Subscribe returns a channel receiving every frame published from now on
// and a cleanup function that closes it
func (h *Hub) Subscribe(bufferSize int) (<-chan *models.Frame, func()) {
	h.subMu.Lock()
	defer h.subMu.Unlock()

	ch := make(chan *models.Frame, bufferSize)
	h.subscribers = append(h.subscribers, ch)
	h.metrics.RecordViewerStart()

	var once sync.Once
	cleanup := func() {
		once.Do(func() { h.unsubscribe(ch) })
	}
	return ch, cleanup
}

func (h *Hub) unsubscribe(ch chan *models.Frame) {
	h.subMu.Lock()
	defer h.subMu.Unlock()

	for i, subCh := range h.subscribers {
		if subCh == ch {
			h.subscribers = append(h.subscribers[:i], h.subscribers[i+1:]...)
			close(ch)
			h.metrics.RecordViewerStop()
			return
		}
	}
}

// Close closes every subscriber channel
func (h *Hub) Close() {
	h.subMu.Lock()
	defer h.subMu.Unlock()

	for _, ch := range h.subscribers {
		close(ch)
		h.metrics.RecordViewerStop()
	}
	h.subscribers = nil
}

// MJPEG serves the live multipart JPEG stream
func (h *Hub) MJPEG() http.Handler {
	return h.stream
}

// Stats returns a snapshot of hub activity
func (h *Hub) Stats() Stats {
	h.subMu.RLock()
	subs := len(h.subscribers)
	h.subMu.RUnlock()

	h.mu.RLock()
	defer h.mu.RUnlock()

	s := Stats{
		FramesPublished: h.published,
		FramesDropped:   h.dropped,
		Subscribers:     subs,
	}
	if h.latest != nil {
		s.LastFrameAt = h.latest.ReceivedAt
		s.Width = h.latest.Width
		s.Height = h.latest.Height
	}
	return s
}
