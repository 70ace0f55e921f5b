// Package ground wires the ground station: discovery responder, video
// receiver, live view and the operator API.
package ground

import (
	"context"
	"net"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"dronelink/config"
	"dronelink/httpServer"
	"dronelink/internal/command"
	"dronelink/internal/framehub"
	"dronelink/internal/logging"
	"dronelink/internal/metrics"
	"dronelink/internal/rendezvous"
	"dronelink/internal/session"
	"dronelink/internal/snapshot"
	"dronelink/internal/storage"
	"dronelink/internal/transport"
	"dronelink/pkg/models"
)

// Station is the ground process
type Station struct {
	cfg      *config.Config
	logger   logrus.FieldLogger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	hub      *framehub.Hub
	server   *httpServer.GroundServer

	session atomic.Pointer[session.Session]
}

// New creates a station. store may be nil to disable snapshots.
func New(cfg *config.Config, store storage.Storage, logger logrus.FieldLogger) *Station {
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	hub := framehub.New(m)

	var recorder *snapshot.Recorder
	if store != nil {
		recorder = snapshot.NewRecorder(store, hub, "", logging.Component(logger, "snapshot"), m)
	}

	return &Station{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		metrics:  m,
		hub:      hub,
		server:   httpServer.NewGroundServer(hub, recorder, registry, logging.Component(logger, "http")),
	}
}

// Hub returns the live view hub
func (s *Station) Hub() *framehub.Hub { return s.hub }

// Server returns the operator API
func (s *Station) Server() *httpServer.GroundServer { return s.server }

// Session returns the established session, or nil while waiting for a drone
func (s *Station) Session() *session.Session { return s.session.Load() }

// Run binds the video port, answers the first discovery probe and then
// receives video until ctx is cancelled
func (s *Station) Run(ctx context.Context) error {
	video, err := transport.ListenVideo(s.cfg.VideoPort)
	if err != nil {
		return err
	}
	return s.run(ctx, video, nil)
}

// run is Run with pre-bound sockets. A nil discovery conn binds the
// configured discovery port.
func (s *Station) run(ctx context.Context, video, discovery *net.UDPConn) error {
	framing, err := transport.NewFraming(s.cfg.Framing, s.cfg.MaxChunk)
	if err != nil {
		video.Close()
		return err
	}

	defer s.hub.Close()

	g, ctx := errgroup.WithContext(ctx)

	if s.cfg.HTTPAddr != "" {
		g.Go(func() error { return s.server.Run(ctx, s.cfg.HTTPAddr) })
	}

	g.Go(func() error {
		responder := rendezvous.NewResponder(s.cfg.DiscoveryPort, s.cfg.AdvertiseIP, s.cfg.VideoPort, s.cfg.CommandPort,
			logging.Component(s.logger, "discovery"), s.metrics)

		var (
			drone models.PeerEndpoint
			err   error
		)
		if discovery != nil {
			drone, err = responder.Serve(ctx, discovery)
		} else {
			drone, err = responder.ListenAndWait(ctx)
		}
		if err != nil {
			video.Close()
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		sess := session.New(session.RoleGround, drone, s.cfg.VideoPort, s.cfg.CommandPort)
		s.session.Store(sess)

		logger := s.logger.WithFields(sess.Fields())
		logger.Info("Session established")

		sender := command.NewSender(drone, logging.Component(logger, "command"), s.metrics)
		s.server.Connect(sess, sender)

		receiver := transport.NewReceiver(video, framing, s.cfg.MaxFrameBytes, transport.JPEGDecoder{}, s.hub,
			logging.Component(logger, "transport"), s.metrics)
		return receiver.Run(ctx)
	})

	return g.Wait()
}
