package rendezvous

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"dronelink/internal/metrics"
	"dronelink/pkg/models"
)

// Responder is the ground side of the handshake. It is purely reactive and
// never retries.
type Responder struct {
	port         int
	advertiseIP  string
	videoPort    int
	commandPort  int
	pollInterval time.Duration
	logger       logrus.FieldLogger
	metrics      *metrics.Metrics
}

// NewResponder creates a responder listening on port. An empty advertiseIP
// means the reply carries the local address routed towards the prober.
func NewResponder(port int, advertiseIP string, videoPort, commandPort int, logger logrus.FieldLogger, m *metrics.Metrics) *Responder {
	return &Responder{
		port:         port,
		advertiseIP:  advertiseIP,
		videoPort:    videoPort,
		commandPort:  commandPort,
		pollInterval: time.Second,
		logger:       logger,
		metrics:      m,
	}
}

// ListenAndWait binds the discovery port and blocks until a drone probes
func (r *Responder) ListenAndWait(ctx context.Context) (models.PeerEndpoint, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: r.port})
	if err != nil {
		return models.PeerEndpoint{}, errors.Wrapf(err, "failed to bind discovery port %d", r.port)
	}
	defer conn.Close()

	return r.Serve(ctx, conn)
}

// Serve answers the first probe read from conn and returns the drone's
// command endpoint. Non-probe datagrams are ignored.
func (r *Responder) Serve(ctx context.Context, conn *net.UDPConn) (models.PeerEndpoint, error) {
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	r.logger.WithField("addr", conn.LocalAddr().String()).Info("Waiting for drone discovery probe")

	buf := make([]byte, replyBufferSize)
	for {
		if ctx.Err() != nil {
			return models.PeerEndpoint{}, ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(r.pollInterval))
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return models.PeerEndpoint{}, ctx.Err()
			}
			if isTimeout(err) {
				r.logger.Debug("Searching for drone...")
				continue
			}
			return models.PeerEndpoint{}, errors.Wrap(err, "failed to read discovery probe")
		}

		if !IsProbe(buf[:n]) {
			r.logger.WithField("from", from.String()).Debug("Ignoring non-probe datagram on discovery port")
			continue
		}

		ip := r.advertiseIP
		if ip == "" {
			ip, err = LocalIPFor(from)
			if err != nil {
				r.logger.WithError(err).Warn("Cannot determine local address for reply")
				continue
			}
		}

		if _, err := conn.WriteToUDP(FormatReply(ip, r.videoPort), from); err != nil {
			r.logger.WithError(err).Warn("Failed to send discovery reply")
			continue
		}

		drone := models.PeerEndpoint{Address: from.IP.String(), Port: r.commandPort}
		r.metrics.RecordDiscoveryAttempt("found")
		r.logger.WithFields(logrus.Fields{
			"drone":     drone.Address,
			"advertise": ip,
			"videoPort": r.videoPort,
		}).Info("Found drone")

		return drone, nil
	}
}
