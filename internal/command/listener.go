package command

import (
	"context"
	"net"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"dronelink/internal/metrics"
)

const maxCommandSize = 4096

// Listener receives commands on the drone's command port
type Listener struct {
	conn    *net.UDPConn
	state   *TargetState
	logger  logrus.FieldLogger
	metrics *metrics.Metrics
}

// Listen binds the command port on all interfaces
func Listen(port int) (*net.UDPConn, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to bind command port %d", port)
	}
	return conn, nil
}

// NewListener creates a listener that applies commands to state. The
// listener owns conn and closes it when Run returns.
func NewListener(conn *net.UDPConn, state *TargetState, logger logrus.FieldLogger, m *metrics.Metrics) *Listener {
	return &Listener{
		conn:    conn,
		state:   state,
		logger:  logger,
		metrics: m,
	}
}

// Run applies commands until ctx is cancelled. Bad datagrams and socket
// errors are logged and the loop continues.
func (l *Listener) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		l.conn.Close()
	})
	defer stop()
	defer l.conn.Close()

	l.logger.WithField("addr", l.conn.LocalAddr().String()).Info("Listening for commands")

	buf := make([]byte, maxCommandSize)
	for {
		n, from, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			l.logger.WithError(err).Warn("Command receive failed")
			continue
		}

		l.handle(buf[:n], from)
	}
}

func (l *Listener) handle(payload []byte, from *net.UDPAddr) {
	log := l.logger.WithField("from", from.String())

	kind, err := l.state.Apply(payload)
	if err != nil {
		l.metrics.RecordCommand("invalid")
		log.WithError(err).Warn("Ignoring command")
		return
	}
	l.metrics.RecordCommand(kind)

	switch kind {
	case KindStop:
		log.Info("Tracking stopped")
	case KindTarget:
		target, _ := l.state.Get()
		log.WithField("target", target).Info("Now tracking")
	default:
		log.Debug("Ignoring empty command")
	}
}
