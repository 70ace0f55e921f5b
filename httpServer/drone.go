package httpServer

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"dronelink/internal/gimbal"
	"dronelink/internal/session"
	"dronelink/pkg/models"
)

// GimbalStatus reports the controller state
type GimbalStatus interface {
	Status() gimbal.Status
}

// TargetSource reports the current target
type TargetSource interface {
	Get() (string, bool)
}

// DroneServer is the read-only telemetry API on the drone
type DroneServer struct {
	router *gin.Engine
	gimbal GimbalStatus
	target TargetSource
	logger logrus.FieldLogger

	mu      sync.RWMutex
	session *session.Session
}

// NewDroneServer creates the telemetry API
func NewDroneServer(g GimbalStatus, target TargetSource, gatherer prometheus.Gatherer, logger logrus.FieldLogger) *DroneServer {
	s := &DroneServer{
		gimbal: g,
		target: target,
		logger: logger,
	}

	router := newRouter(logger, gatherer)
	router.GET("/api/v1/status", s.handleStatus)
	router.GET("/api/v1/gimbal", s.handleGimbal)
	s.router = router

	return s
}

// Handler returns the HTTP handler
func (s *DroneServer) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled
func (s *DroneServer) Run(ctx context.Context, addr string) error {
	return serve(ctx, addr, s.router, s.logger)
}

// SetSession records the established session
func (s *DroneServer) SetSession(sess *session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = sess
}

func (s *DroneServer) handleStatus(c *gin.Context) {
	target, _ := s.target.Get()
	status := models.DroneStatus{
		Target: target,
		Gimbal: s.gimbal.Status(),
	}

	s.mu.RLock()
	if s.session != nil {
		status.Connected = true
		status.Session = s.session.Info()
	}
	s.mu.RUnlock()

	c.JSON(http.StatusOK, status)
}

func (s *DroneServer) handleGimbal(c *gin.Context) {
	c.JSON(http.StatusOK, s.gimbal.Status())
}
