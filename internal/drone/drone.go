// Package drone wires the airborne side of the link: discovery, the frame
// loop, the command listener and the gimbal controller.
package drone

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"dronelink/config"
	"dronelink/httpServer"
	"dronelink/internal/capture"
	"dronelink/internal/command"
	"dronelink/internal/detect"
	"dronelink/internal/gimbal"
	"dronelink/internal/logging"
	"dronelink/internal/metrics"
	"dronelink/internal/overlay"
	"dronelink/internal/rendezvous"
	"dronelink/internal/session"
	"dronelink/internal/transport"
	"dronelink/pkg/models"
)

// Deps are the collaborators that touch hardware or other processes
type Deps struct {
	Source    capture.Source
	Detector  detect.Detector
	Actuator  gimbal.Actuator
	Scheduler gimbal.Scheduler

	// Background loops owned by the collaborators, e.g. the detection
	// socket feed or the MAVLink event loop
	Background []func(ctx context.Context) error
}

// Drone is the airborne process
type Drone struct {
	cfg      *config.Config
	deps     Deps
	logger   logrus.FieldLogger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	target     *command.TargetState
	detections *detect.Cache
	controller *gimbal.Controller
	server     *httpServer.DroneServer

	commandPort atomic.Int32
	session     atomic.Pointer[session.Session]
}

// New creates a drone from configuration and collaborators
func New(cfg *config.Config, deps Deps, logger logrus.FieldLogger) (*Drone, error) {
	if deps.Source == nil {
		return nil, errors.New("no capture source")
	}
	if deps.Detector == nil {
		deps.Detector = detect.Nop{}
	}
	if deps.Actuator == nil {
		deps.Actuator = gimbal.LogActuator{Logger: logging.Component(logger, "actuator")}
	}
	if deps.Scheduler == nil {
		sched, err := gimbal.NewTickerScheduler(cfg.GimbalPeriod)
		if err != nil {
			return nil, err
		}
		deps.Scheduler = sched
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	d := &Drone{
		cfg:        cfg,
		deps:       deps,
		logger:     logger,
		registry:   registry,
		metrics:    m,
		target:     command.NewTargetState(),
		detections: detect.NewCache(),
	}

	d.controller = gimbal.NewController(gimbal.Config{
		Kp:         cfg.GimbalKp,
		CenterX:    cfg.FrameCenterX(),
		SearchRate: cfg.SearchRate,
		Mode:       models.MountMode(cfg.MountMode),
		StaleAfter: cfg.DetectionStaleAge,
	}, d.target, d.detections, deps.Actuator, logging.Component(logger, "gimbal"), m)

	d.server = httpServer.NewDroneServer(d.controller, d.target, registry, logging.Component(logger, "http"))

	return d, nil
}

// Target returns the shared target cell
func (d *Drone) Target() *command.TargetState { return d.target }

// Detections returns the latest detection cache
func (d *Drone) Detections() *detect.Cache { return d.detections }

// Controller returns the gimbal controller
func (d *Drone) Controller() *gimbal.Controller { return d.controller }

// Metrics returns the drone's metrics
func (d *Drone) Metrics() *metrics.Metrics { return d.metrics }

// CommandPort returns the bound command port, or 0 before Run has bound it
func (d *Drone) CommandPort() int { return int(d.commandPort.Load()) }

// Session returns the established session, or nil while discovering
func (d *Drone) Session() *session.Session { return d.session.Load() }

// Run starts every loop and blocks until ctx is cancelled or a loop fails.
// A capture failure ends the run with an error.
func (d *Drone) Run(ctx context.Context) error {
	defer d.deps.Source.Close()

	conn, err := command.Listen(d.cfg.CommandPort)
	if err != nil {
		return err
	}
	d.commandPort.Store(int32(conn.LocalAddr().(*net.UDPAddr).Port))

	framing, err := transport.NewFraming(d.cfg.Framing, d.cfg.MaxChunk)
	if err != nil {
		conn.Close()
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	listener := command.NewListener(conn, d.target, logging.Component(d.logger, "command"), d.metrics)
	g.Go(func() error { return listener.Run(ctx) })

	g.Go(func() error {
		return d.controller.Run(ctx, d.deps.Scheduler)
	})

	for _, bg := range d.deps.Background {
		g.Go(func() error { return bg(ctx) })
	}

	if d.cfg.HTTPAddr != "" {
		g.Go(func() error { return d.server.Run(ctx, d.cfg.HTTPAddr) })
	}

	g.Go(func() error {
		prober := rendezvous.NewProber(d.cfg.BroadcastAddr, d.cfg.DiscoveryPort, d.cfg.DiscoveryTimeout,
			logging.Component(d.logger, "discovery"), d.metrics)

		peer, err := prober.DiscoverUntilFound(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		sess := session.New(session.RoleDrone, peer, peer.Port, d.CommandPort())
		d.session.Store(sess)
		d.server.SetSession(sess)

		logger := d.logger.WithFields(sess.Fields())
		logger.Info("Session established")

		sender, err := transport.NewSender(peer, framing, logging.Component(logger, "transport"), d.metrics)
		if err != nil {
			return err
		}
		defer sender.Close()

		return d.streamFrames(ctx, sender, logger)
	})

	return g.Wait()
}

// streamFrames runs the capture, detect, annotate, encode and send loop
func (d *Drone) streamFrames(ctx context.Context, sender transport.FrameTransport, logger logrus.FieldLogger) error {
	var pace <-chan time.Time
	if d.cfg.FrameRate > 0 {
		ticker := time.NewTicker(time.Second / time.Duration(d.cfg.FrameRate))
		defer ticker.Stop()
		pace = ticker.C
	}

	logger.WithField("fps", d.cfg.FrameRate).Info("Streaming video")

	for {
		if pace != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-pace:
			}
		} else if ctx.Err() != nil {
			return nil
		}

		data, err := d.nextFrame(ctx, logger)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if err := sender.SendFrame(ctx, data); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.WithError(err).Warn("Frame send failed")
		}
	}
}

// nextFrame captures and encodes one frame. Detection runs only while a
// target is designated.
func (d *Drone) nextFrame(ctx context.Context, logger logrus.FieldLogger) ([]byte, error) {
	img, err := d.deps.Source.Read(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "camera read failed")
	}

	img = capture.Resize(img, d.cfg.FrameWidth, d.cfg.FrameHeight)

	target, ok := d.target.Get()
	if !ok {
		// Detections of a cleared target must not steer the gimbal later
		d.detections.Clear()
		return capture.EncodeJPEG(img, d.cfg.JPEGQuality)
	}

	dets, err := d.deps.Detector.Detect(ctx, img)
	if err != nil {
		logger.WithError(err).Warn("Detection failed")
	} else {
		// Coordinates are in img's pixel space; the gimbal centers on its width
		d.detections.Store(dets, img.Bounds().Dx(), time.Now())
		if matches := detect.Matching(dets, target); len(matches) > 0 {
			img = overlay.Annotate(img, matches)
		}
	}

	return capture.EncodeJPEG(img, d.cfg.JPEGQuality)
}
