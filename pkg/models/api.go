package models

import "time"

// TrackRequest is the body of POST /api/v1/track
type TrackRequest struct {
	Target string `json:"target" binding:"required"`
}

// SessionInfo describes an established link
type SessionInfo struct {
	ID            string    `json:"id"`
	Role          string    `json:"role"`
	Peer          string    `json:"peer"`
	VideoPort     int       `json:"videoPort"`
	CommandPort   int       `json:"commandPort"`
	EstablishedAt time.Time `json:"establishedAt"`
	AgeSeconds    int       `json:"ageSeconds"`
}

// GroundStatus is the ground station status response
type GroundStatus struct {
	Connected bool         `json:"connected"`
	Session   *SessionInfo `json:"session,omitempty"`
	Tracking  string       `json:"tracking,omitempty"`
	Video     interface{}  `json:"video"`
}

// DroneStatus is the drone telemetry response
type DroneStatus struct {
	Connected bool         `json:"connected"`
	Session   *SessionInfo `json:"session,omitempty"`
	Target    string       `json:"target,omitempty"`
	Gimbal    interface{}  `json:"gimbal"`
}
