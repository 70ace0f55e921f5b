package transport

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"dronelink/internal/metrics"
	"dronelink/pkg/models"
)

// ErrDecode means a reassembled frame could not be decoded
var ErrDecode = errors.New("frame decode failed")

// FrameSink receives fully reassembled frames. Publish must not block for
// long; the receive loop stalls while it runs.
type FrameSink interface {
	Publish(frame *models.Frame)
}

// Decoder validates an encoded frame
type Decoder interface {
	Decode(data []byte) (image.Image, error)
}

// JPEGDecoder decodes baseline and progressive JPEG
type JPEGDecoder struct{}

func (JPEGDecoder) Decode(data []byte) (image.Image, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(ErrDecode, err.Error())
	}
	return img, nil
}

// Receiver reassembles frames from the video socket
type Receiver struct {
	conn      *net.UDPConn
	assembler Assembler
	decoder   Decoder
	sink      FrameSink
	logger    logrus.FieldLogger
	metrics   *metrics.Metrics
	seq       uint64
}

// ListenVideo binds the video port on all interfaces
func ListenVideo(port int) (*net.UDPConn, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to bind video port %d", port)
	}
	conn.SetReadBuffer(4 << 20)
	return conn, nil
}

// NewReceiver creates a receiver reading from conn. The receiver owns conn
// and closes it when Run returns.
func NewReceiver(conn *net.UDPConn, framing Framing, maxFrameBytes int, decoder Decoder, sink FrameSink, logger logrus.FieldLogger, m *metrics.Metrics) *Receiver {
	r := &Receiver{
		conn:    conn,
		decoder: decoder,
		sink:    sink,
		logger:  logger,
		metrics: m,
	}
	r.assembler = framing.NewAssembler(maxFrameBytes, func(reason string) {
		r.metrics.RecordFrameDropped(reason)
		r.logger.WithField("reason", reason).Debug("Discarded partial frame")
	})
	return r
}

// Run receives until ctx is cancelled. Socket errors reset the partial
// frame and the loop keeps listening.
func (r *Receiver) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		r.conn.Close()
	})
	defer stop()
	defer r.conn.Close()

	r.logger.WithField("addr", r.conn.LocalAddr().String()).Info("Listening for video")

	buf := make([]byte, maxDatagram)
	var failures int
	for {
		n, _, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			failures++
			r.metrics.RecordTransportError()
			if r.assembler.Pending() > 0 {
				r.metrics.RecordFrameDropped("transport")
			}
			r.assembler.Reset()

			entry := r.logger.WithError(err).WithField("failures", failures)
			if failures == 1 {
				entry.Warn("Video receive failed, buffer reset")
			} else {
				entry.Debug("Video receive still failing")
			}

			// Persistent socket errors return at once; back off instead of spinning
			select {
			case <-time.After(receiveBackoff(failures)):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		if failures > 0 {
			r.logger.WithField("failures", failures).Info("Video receive recovered")
			failures = 0
		}
		r.metrics.RecordChunk()
		r.handleDatagram(buf[:n])
	}
}

// receiveBackoff doubles from 10ms per consecutive failure up to one second
func receiveBackoff(failures int) time.Duration {
	d := 10 * time.Millisecond
	for i := 1; i < failures && d < time.Second; i++ {
		d *= 2
	}
	return min(d, time.Second)
}

func (r *Receiver) handleDatagram(datagram []byte) {
	data, done, err := r.assembler.Push(datagram)
	if err != nil {
		r.metrics.RecordFrameDropped("bad_chunk")
		r.logger.WithError(err).Debug("Ignoring datagram")
		return
	}
	if !done {
		return
	}

	img, err := r.decoder.Decode(data)
	if err != nil {
		r.metrics.RecordFrameDropped("decode")
		r.logger.WithError(err).WithField("size", len(data)).Warn("Dropping undecodable frame")
		return
	}

	r.seq++
	bounds := img.Bounds()
	frame := &models.Frame{
		Seq:        r.seq,
		Data:       data,
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
		ReceivedAt: time.Now(),
	}

	r.sink.Publish(frame)
	r.metrics.RecordFrame(len(data))
}
