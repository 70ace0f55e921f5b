package httpServer

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"dronelink/internal/command"
	"dronelink/internal/framehub"
	"dronelink/internal/session"
	"dronelink/internal/snapshot"
	"dronelink/internal/storage"
	"dronelink/pkg/models"
)

// eventBuffer is how many frame events a slow viewer may fall behind
const eventBuffer = 8

// Commander sends tracking commands to the drone
type Commander interface {
	Track(ctx context.Context, descriptor string) error
	Stop(ctx context.Context) error
}

// GroundServer is the operator API. Track commands are rejected until a
// drone has been discovered.
type GroundServer struct {
	router   *gin.Engine
	hub      *framehub.Hub
	recorder *snapshot.Recorder
	logger   logrus.FieldLogger

	mu        sync.RWMutex
	commander Commander
	session   *session.Session
	tracking  string
}

// NewGroundServer creates the ground API. recorder may be nil to disable
// snapshots.
func NewGroundServer(hub *framehub.Hub, recorder *snapshot.Recorder, gatherer prometheus.Gatherer, logger logrus.FieldLogger) *GroundServer {
	s := &GroundServer{
		hub:      hub,
		recorder: recorder,
		logger:   logger,
	}
	s.setupRoutes(gatherer)
	return s
}

func (s *GroundServer) setupRoutes(gatherer prometheus.Gatherer) {
	router := newRouter(s.logger, gatherer)

	api := router.Group("/api/v1")
	{
		api.GET("/status", s.handleStatus)
		api.POST("/track", s.handleTrack)
		api.POST("/track/stop", s.handleStop)
		api.POST("/snapshots", s.handleCreateSnapshot)
		api.GET("/snapshots", s.handleListSnapshots)
		api.GET("/snapshots/:name", s.handleGetSnapshot)
	}

	live := router.Group("/live")
	{
		live.GET("/frame.jpg", s.handleLatestFrame)
		live.GET("/stream.mjpg", gin.WrapH(s.hub.MJPEG()))
		live.GET("/events", s.handleFrameEvents)
	}

	s.router = router
}

// Handler returns the HTTP handler
func (s *GroundServer) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled
func (s *GroundServer) Run(ctx context.Context, addr string) error {
	return serve(ctx, addr, s.router, s.logger)
}

// Connect enables track commands for an established session
func (s *GroundServer) Connect(sess *session.Session, commander Commander) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = sess
	s.commander = commander
}

func (s *GroundServer) link() (Commander, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commander, s.commander != nil
}

func (s *GroundServer) handleStatus(c *gin.Context) {
	s.mu.RLock()
	status := models.GroundStatus{
		Connected: s.session != nil,
		Tracking:  s.tracking,
		Video:     s.hub.Stats(),
	}
	if s.session != nil {
		status.Session = s.session.Info()
	}
	s.mu.RUnlock()

	c.JSON(http.StatusOK, status)
}

func (s *GroundServer) handleTrack(c *gin.Context) {
	var req models.TrackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	target := strings.TrimSpace(req.Target)
	if target == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": command.ErrEmptyTarget.Error()})
		return
	}

	commander, ok := s.link()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "drone not connected"})
		return
	}

	if err := commander.Track(c.Request.Context(), target); err != nil {
		if errors.Is(err, command.ErrEmptyTarget) || errors.Is(err, command.ErrReservedTarget) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.logger.WithError(err).Warn("Track command failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	s.tracking = target
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"message":  "Currently tracking: " + target,
		"tracking": target,
	})
}

func (s *GroundServer) handleStop(c *gin.Context) {
	commander, ok := s.link()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "drone not connected"})
		return
	}

	if err := commander.Stop(c.Request.Context()); err != nil {
		s.logger.WithError(err).Warn("Stop command failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	s.tracking = ""
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"message": "tracking stopped"})
}

func (s *GroundServer) handleLatestFrame(c *gin.Context) {
	frame, ok := s.hub.Latest()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no frame received yet"})
		return
	}

	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Data(http.StatusOK, "image/jpeg", frame.Data)
}

// handleFrameEvents streams a server-sent "frame" event per received frame
// until the client goes away or the hub closes
func (s *GroundServer) handleFrameEvents(c *gin.Context) {
	frames, unsubscribe := s.hub.Subscribe(eventBuffer)
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case frame, ok := <-frames:
			if !ok {
				return false
			}
			c.SSEvent("frame", frame.Event())
			return true
		}
	})
}

func (s *GroundServer) handleCreateSnapshot(c *gin.Context) {
	if s.recorder == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "snapshots disabled"})
		return
	}

	snap, err := s.recorder.Capture(c.Request.Context())
	if errors.Is(err, snapshot.ErrNoFrame) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		s.logger.WithError(err).Warn("Snapshot failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store snapshot"})
		return
	}

	c.JSON(http.StatusCreated, snap)
}

func (s *GroundServer) handleListSnapshots(c *gin.Context) {
	if s.recorder == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "snapshots disabled"})
		return
	}

	names, err := s.recorder.List(c.Request.Context())
	if err != nil {
		s.logger.WithError(err).Warn("Listing snapshots failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list snapshots"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"snapshots": names,
		"total":     len(names),
	})
}

func (s *GroundServer) handleGetSnapshot(c *gin.Context) {
	if s.recorder == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "snapshots disabled"})
		return
	}

	data, err := s.recorder.Read(c.Request.Context(), c.Param("name"))
	switch {
	case errors.Is(err, snapshot.ErrInvalidName):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "snapshot not found"})
	case err != nil:
		s.logger.WithError(err).Warn("Reading snapshot failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read snapshot"})
	default:
		c.Header("Cache-Control", "public, max-age=3600")
		c.Data(http.StatusOK, "image/jpeg", data)
	}
}
