package rendezvous

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"dronelink/internal/metrics"
	"dronelink/pkg/models"
)

// Prober is the drone side of the handshake
type Prober struct {
	target     string // broadcast host:port
	timeout    time.Duration
	retryDelay time.Duration
	logger     logrus.FieldLogger
	metrics    *metrics.Metrics
}

// NewProber creates a prober that broadcasts to broadcastAddr:port and
// waits up to timeout for each reply
func NewProber(broadcastAddr string, port int, timeout time.Duration, logger logrus.FieldLogger, m *metrics.Metrics) *Prober {
	return &Prober{
		target:     net.JoinHostPort(broadcastAddr, strconv.Itoa(port)),
		timeout:    timeout,
		retryDelay: time.Second,
		logger:     logger,
		metrics:    m,
	}
}

// Probe runs a single probe-and-wait cycle
func (p *Prober) Probe(ctx context.Context) (models.PeerEndpoint, error) {
	dst, err := net.ResolveUDPAddr("udp4", p.target)
	if err != nil {
		return models.PeerEndpoint{}, errors.Wrapf(err, "invalid broadcast address %s", p.target)
	}

	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return models.PeerEndpoint{}, errors.Wrap(err, "failed to open discovery socket")
	}
	defer conn.Close()

	if _, err := conn.WriteToUDP([]byte(DiscoveryMessage), dst); err != nil {
		return models.PeerEndpoint{}, errors.Wrap(err, "failed to send discovery probe")
	}

	deadline := time.Now().Add(p.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)

	// Unblock the read as soon as the caller gives up
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, replyBufferSize)
	n, from, err := conn.ReadFromUDP(buf)
	if err != nil {
		if ctx.Err() != nil {
			return models.PeerEndpoint{}, ctx.Err()
		}
		if isTimeout(err) {
			return models.PeerEndpoint{}, ErrDiscoveryTimeout
		}
		return models.PeerEndpoint{}, errors.Wrap(err, "failed to read discovery reply")
	}

	peer, err := ParseReply(buf[:n])
	if err != nil {
		return models.PeerEndpoint{}, errors.Wrapf(err, "reply from %s", from)
	}

	return peer, nil
}

// DiscoverUntilFound repeats Probe until a valid reply arrives or ctx is
// cancelled. Timeouts and malformed replies are both retried.
func (p *Prober) DiscoverUntilFound(ctx context.Context) (models.PeerEndpoint, error) {
	p.logger.WithField("target", p.target).Info("Looking for ground station")

	for attempt := 1; ; attempt++ {
		peer, err := p.Probe(ctx)
		if err == nil {
			p.metrics.RecordDiscoveryAttempt("found")
			p.logger.WithFields(logrus.Fields{
				"peer":    peer.String(),
				"attempt": attempt,
			}).Info("Found ground station")
			return peer, nil
		}

		if ctx.Err() != nil {
			return models.PeerEndpoint{}, ctx.Err()
		}

		switch {
		case errors.Is(err, ErrDiscoveryTimeout):
			p.metrics.RecordDiscoveryAttempt("timeout")
			p.logger.WithField("attempt", attempt).Info("No ground station found, still searching")
			continue
		case errors.Is(err, ErrMalformedReply):
			p.metrics.RecordDiscoveryAttempt("malformed")
			p.logger.WithError(err).Warn("Ignoring malformed discovery reply, retrying")
			continue
		default:
			p.metrics.RecordDiscoveryAttempt("error")
			p.logger.WithError(err).Warn("Discovery attempt failed, retrying")
		}

		// Socket-level failures (no route, interface down) return at once, so
		// pace them instead of spinning
		select {
		case <-time.After(p.retryDelay):
		case <-ctx.Done():
			return models.PeerEndpoint{}, ctx.Err()
		}
	}
}
