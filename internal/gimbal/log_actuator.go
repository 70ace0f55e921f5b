package gimbal

import (
	"context"

	"github.com/sirupsen/logrus"

	"dronelink/pkg/models"
)

// LogActuator logs commands instead of sending them. It is used when no
// flight controller is attached.
type LogActuator struct {
	Logger logrus.FieldLogger
}

func (a LogActuator) SetVelocity(_ context.Context, twist models.Twist) error {
	a.Logger.WithField("yawRate", twist.AngularZ).Debug("Velocity command")
	return nil
}

func (a LogActuator) SetMount(_ context.Context, cmd models.MountCommand) error {
	a.Logger.WithFields(logrus.Fields{
		"yaw":   cmd.Yaw,
		"pitch": cmd.Pitch,
		"roll":  cmd.Roll,
		"mode":  cmd.Mode,
	}).Debug("Mount command")
	return nil
}
