package command

import (
	"context"
	"net"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"dronelink/internal/metrics"
	"dronelink/pkg/models"
)

var (
	// ErrEmptyTarget means the operator asked to track nothing
	ErrEmptyTarget = errors.New("target description is empty")
	// ErrReservedTarget means the descriptor is the stop command
	ErrReservedTarget = errors.New(`"STOP" is reserved, use stop`)
)

// Sender sends commands to the drone. There is no acknowledgment.
type Sender struct {
	peer    models.PeerEndpoint
	logger  logrus.FieldLogger
	metrics *metrics.Metrics
}

// NewSender creates a sender for the drone's command endpoint
func NewSender(peer models.PeerEndpoint, logger logrus.FieldLogger, m *metrics.Metrics) *Sender {
	return &Sender{peer: peer, logger: logger, metrics: m}
}

// Peer returns the command endpoint
func (s *Sender) Peer() models.PeerEndpoint {
	return s.peer
}

// Track asks the drone to track descriptor
func (s *Sender) Track(ctx context.Context, descriptor string) error {
	descriptor = strings.TrimSpace(descriptor)
	if descriptor == "" {
		return ErrEmptyTarget
	}
	if descriptor == StopCommand {
		return ErrReservedTarget
	}
	return s.send(ctx, descriptor)
}

// Stop asks the drone to stop tracking
func (s *Sender) Stop(ctx context.Context) error {
	return s.send(ctx, StopCommand)
}

func (s *Sender) send(ctx context.Context, body string) error {
	addr, err := s.peer.UDPAddr()
	if err != nil {
		return errors.Wrapf(err, "invalid command endpoint %s", s.peer)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp4", addr.String())
	if err != nil {
		return errors.Wrap(err, "failed to open command socket")
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(body)); err != nil {
		return errors.Wrapf(err, "failed to send command to %s", s.peer)
	}

	s.metrics.RecordCommandSent()
	s.logger.WithFields(logrus.Fields{
		"peer":    s.peer.String(),
		"command": body,
	}).Info("Command sent")
	return nil
}
