// Package gimbal points the camera at the designated target.
//
// Every tick the controller looks at the latest detection result. If the
// target is visible it integrates the horizontal pixel error into the yaw
// setpoint and sends a mount command; otherwise it sends a constant yaw-rate
// command so the drone sweeps for the target. Exactly one actuator command
// is sent per tick.
package gimbal

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"dronelink/internal/metrics"
	"dronelink/pkg/models"
)

// Tick states
const (
	StateSearching = "searching"
	StateLocked    = "locked"
)

// Actuator publishes commands to the flight controller
type Actuator interface {
	SetVelocity(ctx context.Context, twist models.Twist) error
	SetMount(ctx context.Context, cmd models.MountCommand) error
}

// TargetSource returns the designated target, if any
type TargetSource interface {
	Get() (string, bool)
}

// DetectionSource returns the most recent detector output, or nil
type DetectionSource interface {
	Latest() *models.DetectionResult
}

// Config holds the control law parameters
type Config struct {
	Kp         float64
	CenterX    float64 // Used when a result does not carry its frame width
	SearchRate float64
	Mode       models.MountMode
	StaleAfter time.Duration // 0 accepts detections of any age
}

// Status is a snapshot for telemetry
type Status struct {
	State  string             `json:"state"`
	Gimbal models.GimbalState `json:"gimbal"`
	Target string             `json:"target,omitempty"`
	Ticks  uint64             `json:"ticks"`
}

// Controller runs the two-state search/lock law
type Controller struct {
	cfg        Config
	target     TargetSource
	detections DetectionSource
	actuator   Actuator
	logger     logrus.FieldLogger
	metrics    *metrics.Metrics
	now        func() time.Time

	mu     sync.RWMutex
	state  models.GimbalState
	status string
	ticks  uint64
}

// NewController creates a controller with yaw and pitch at zero
func NewController(cfg Config, target TargetSource, detections DetectionSource, actuator Actuator, logger logrus.FieldLogger, m *metrics.Metrics) *Controller {
	return &Controller{
		cfg:        cfg,
		target:     target,
		detections: detections,
		actuator:   actuator,
		logger:     logger,
		metrics:    m,
		now:        time.Now,
		status:     StateSearching,
	}
}

// Tick runs one control step and returns the state it acted in
func (c *Controller) Tick(ctx context.Context) (string, error) {
	det, centerX, found := c.lookup()
	if !found {
		c.record(StateSearching)
		c.logger.Debug("Still searching")
		if err := c.actuator.SetVelocity(ctx, models.Twist{AngularZ: c.cfg.SearchRate}); err != nil {
			return StateSearching, errors.Wrap(err, "failed to send search command")
		}
		return StateSearching, nil
	}

	errorX := centerX - det.X

	c.mu.Lock()
	c.state.Yaw += errorX * c.cfg.Kp
	c.state.Pitch = 0
	cmd := models.MountCommand{
		Yaw:   c.state.Yaw,
		Pitch: c.state.Pitch,
		Roll:  0,
		Mode:  c.cfg.Mode,
	}
	c.mu.Unlock()

	c.record(StateLocked)
	c.logger.WithFields(logrus.Fields{
		"x":     det.X,
		"error": errorX,
		"yaw":   cmd.Yaw,
	}).Debug("Found it")

	if err := c.actuator.SetMount(ctx, cmd); err != nil {
		return StateLocked, errors.Wrap(err, "failed to send mount command")
	}
	return StateLocked, nil
}

// lookup finds the designated target in the latest detection result and
// returns the frame center its x is measured against
func (c *Controller) lookup() (models.Detection, float64, bool) {
	target, ok := c.target.Get()
	if !ok {
		return models.Detection{}, 0, false
	}

	result := c.detections.Latest()
	if result == nil {
		return models.Detection{}, 0, false
	}
	if c.cfg.StaleAfter > 0 && !result.At.IsZero() && c.now().Sub(result.At) > c.cfg.StaleAfter {
		return models.Detection{}, 0, false
	}

	det, found := result.Find(target)
	return det, result.CenterX(c.cfg.CenterX), found
}

func (c *Controller) record(state string) {
	c.mu.Lock()
	c.status = state
	c.ticks++
	yaw := c.state.Yaw
	c.mu.Unlock()

	c.metrics.RecordGimbalTick(state, yaw)
}

// State returns the current setpoint
func (c *Controller) State() models.GimbalState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Status returns a telemetry snapshot
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	target, _ := c.target.Get()
	return Status{
		State:  c.status,
		Gimbal: c.state,
		Target: target,
		Ticks:  c.ticks,
	}
}

// Run ticks the controller on scheduler until ctx is cancelled. Actuator
// errors are logged and the loop continues.
func (c *Controller) Run(ctx context.Context, scheduler Scheduler) error {
	c.logger.Info("Gimbal controller started")

	return scheduler.Every(ctx, func(ctx context.Context) {
		if _, err := c.Tick(ctx); err != nil {
			c.logger.WithError(err).Warn("Gimbal tick failed")
		}
	})
}
