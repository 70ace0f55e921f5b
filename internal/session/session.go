package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"dronelink/pkg/models"
)

// Role identifies which end of the link a session belongs to
type Role string

const (
	RoleDrone  Role = "drone"
	RoleGround Role = "ground"
)

// Session is the result of a completed rendezvous. It is built once and
// handed to every component that needs the peer address.
type Session struct {
	ID   uuid.UUID
	Role Role

	// Peer is the remote endpoint this side writes to: the ground video
	// endpoint for the drone, the drone command endpoint for the ground.
	Peer models.PeerEndpoint

	VideoPort   int
	CommandPort int

	EstablishedAt time.Time
}

// New creates a session for a freshly resolved peer
func New(role Role, peer models.PeerEndpoint, videoPort, commandPort int) *Session {
	return &Session{
		ID:            uuid.New(),
		Role:          role,
		Peer:          peer,
		VideoPort:     videoPort,
		CommandPort:   commandPort,
		EstablishedAt: time.Now(),
	}
}

// Fields returns log fields identifying the session
func (s *Session) Fields() logrus.Fields {
	return logrus.Fields{
		"session": s.ID.String(),
		"role":    string(s.Role),
		"peer":    s.Peer.String(),
	}
}

// Age returns the time since the rendezvous completed
func (s *Session) Age() time.Duration {
	return time.Since(s.EstablishedAt)
}

// Info returns the API view of the session
func (s *Session) Info() *models.SessionInfo {
	return &models.SessionInfo{
		ID:            s.ID.String(),
		Role:          string(s.Role),
		Peer:          s.Peer.String(),
		VideoPort:     s.VideoPort,
		CommandPort:   s.CommandPort,
		EstablishedAt: s.EstablishedAt,
		AgeSeconds:    int(s.Age().Seconds()),
	}
}
