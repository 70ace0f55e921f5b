package transport

import (
	"context"
	"net"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"dronelink/internal/metrics"
	"dronelink/pkg/models"
)

// Sender writes frames to the ground station's video endpoint
type Sender struct {
	conn    *net.UDPConn
	peer    *net.UDPAddr
	framing Framing
	logger  logrus.FieldLogger
	metrics *metrics.Metrics
}

// NewSender opens an unbound UDP socket for sending to peer
func NewSender(peer models.PeerEndpoint, framing Framing, logger logrus.FieldLogger, m *metrics.Metrics) (*Sender, error) {
	if peer.IsZero() {
		return nil, errors.New("no video endpoint")
	}
	addr, err := peer.UDPAddr()
	if err != nil {
		return nil, errors.Wrapf(err, "invalid video endpoint %s", peer)
	}

	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open video socket")
	}

	// Frames go out back to back; a larger send buffer absorbs the burst
	conn.SetWriteBuffer(1 << 20)

	return &Sender{
		conn:    conn,
		peer:    addr,
		framing: framing,
		logger:  logger,
		metrics: m,
	}, nil
}

// SendFrame sends every datagram of one encoded frame in order. A failed
// write abandons the rest of the frame.
func (s *Sender) SendFrame(ctx context.Context, frame []byte) error {
	datagrams, err := s.framing.Datagrams(frame)
	if err != nil {
		return err
	}

	for i, d := range datagrams {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.conn.WriteToUDP(d, s.peer); err != nil {
			s.metrics.RecordSendError()
			return errors.Wrapf(err, "failed to send datagram %d/%d", i+1, len(datagrams))
		}
	}

	s.metrics.RecordFrameSent(len(frame), len(datagrams))
	return nil
}

// Close closes the socket
func (s *Sender) Close() error {
	return s.conn.Close()
}
