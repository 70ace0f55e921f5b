// Package mavlink drives the flight controller over MAVLink. It implements
// the gimbal actuator: search sweeps become body-frame yaw-rate setpoints
// and lock-on becomes a mount control command.
package mavlink

import (
	"context"
	"strings"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"dronelink/pkg/models"
)

// velocityTypeMask keeps the velocity and yaw-rate fields of a
// SET_POSITION_TARGET_LOCAL_NED and ignores the rest
const velocityTypeMask = common.POSITION_TARGET_TYPEMASK_X_IGNORE |
	common.POSITION_TARGET_TYPEMASK_Y_IGNORE |
	common.POSITION_TARGET_TYPEMASK_Z_IGNORE |
	common.POSITION_TARGET_TYPEMASK_AX_IGNORE |
	common.POSITION_TARGET_TYPEMASK_AY_IGNORE |
	common.POSITION_TARGET_TYPEMASK_AZ_IGNORE |
	common.POSITION_TARGET_TYPEMASK_YAW_IGNORE

// MessageWriter sends a message on every open channel. *gomavlib.Node
// satisfies it.
type MessageWriter interface {
	WriteMessageAll(m message.Message) error
}

// Config addresses the flight controller
type Config struct {
	Endpoint        string // e.g. "udp-client:127.0.0.1:14550"
	SystemID        uint8
	TargetSystem    uint8
	TargetComponent uint8
}

// Actuator converts gimbal commands into MAVLink messages
type Actuator struct {
	w               MessageWriter
	targetSystem    uint8
	targetComponent uint8
	logger          logrus.FieldLogger
}

// NewActuator creates an actuator writing to w
func NewActuator(w MessageWriter, targetSystem, targetComponent uint8, logger logrus.FieldLogger) *Actuator {
	return &Actuator{
		w:               w,
		targetSystem:    targetSystem,
		targetComponent: targetComponent,
		logger:          logger,
	}
}

// SetVelocity sends a body-frame velocity and yaw-rate setpoint
func (a *Actuator) SetVelocity(ctx context.Context, twist models.Twist) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return a.w.WriteMessageAll(&common.MessageSetPositionTargetLocalNed{
		TargetSystem:    a.targetSystem,
		TargetComponent: a.targetComponent,
		CoordinateFrame: common.MAV_FRAME_BODY_OFFSET_NED,
		TypeMask:        velocityTypeMask,
		Vx:              float32(twist.LinearX),
		Vy:              float32(twist.LinearY),
		Vz:              float32(twist.LinearZ),
		YawRate:         float32(twist.AngularZ),
	})
}

// SetMount points the gimbal
func (a *Actuator) SetMount(ctx context.Context, cmd models.MountCommand) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return a.w.WriteMessageAll(&common.MessageCommandLong{
		TargetSystem:    a.targetSystem,
		TargetComponent: a.targetComponent,
		Command:         common.MAV_CMD_DO_MOUNT_CONTROL,
		Param1:          float32(cmd.Pitch),
		Param2:          float32(cmd.Roll),
		Param3:          float32(cmd.Yaw),
		Param7:          float32(cmd.Mode),
	})
}

// ParseEndpoint converts "kind:address" into a gomavlib endpoint. Kinds are
// udp-client, udp-server, udp-broadcast, tcp-client and tcp-server.
func ParseEndpoint(s string) (gomavlib.EndpointConf, error) {
	kind, addr, ok := strings.Cut(s, ":")
	if !ok || addr == "" {
		return nil, errors.Errorf("invalid mavlink endpoint %q", s)
	}

	switch kind {
	case "udp-client":
		return gomavlib.EndpointUDPClient{Address: addr}, nil
	case "udp-server":
		return gomavlib.EndpointUDPServer{Address: addr}, nil
	case "udp-broadcast":
		return gomavlib.EndpointUDPBroadcast{BroadcastAddress: addr}, nil
	case "tcp-client":
		return gomavlib.EndpointTCPClient{Address: addr}, nil
	case "tcp-server":
		return gomavlib.EndpointTCPServer{Address: addr}, nil
	default:
		return nil, errors.Errorf("unknown mavlink endpoint kind %q", kind)
	}
}

// Link owns a gomavlib node
type Link struct {
	node   *gomavlib.Node
	logger logrus.FieldLogger
}

// Dial creates the node. Run must be called to service its events.
func Dial(cfg Config, logger logrus.FieldLogger) (*Link, error) {
	endpoint, err := ParseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	node, err := gomavlib.NewNode(gomavlib.NodeConf{
		Endpoints:   []gomavlib.EndpointConf{endpoint},
		Dialect:     common.Dialect,
		OutVersion:  gomavlib.V2,
		OutSystemID: cfg.SystemID,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open mavlink endpoint %s", cfg.Endpoint)
	}

	return &Link{node: node, logger: logger}, nil
}

// Writer returns the node as a MessageWriter
func (l *Link) Writer() MessageWriter {
	return l.node
}

// Run drains node events until ctx is cancelled, then closes the node
func (l *Link) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, l.node.Close)
	defer stop()

	events := l.node.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			switch e := evt.(type) {
			case *gomavlib.EventChannelOpen:
				l.logger.WithField("channel", e.Channel.String()).Info("MAVLink channel open")
			case *gomavlib.EventChannelClose:
				l.logger.WithField("channel", e.Channel.String()).Warn("MAVLink channel closed")
			case *gomavlib.EventParseError:
				l.logger.WithError(e.Error).Debug("MAVLink parse error")
			}
		}
	}
}
