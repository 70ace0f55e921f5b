package models

import "time"

// Frame represents a single reassembled video frame received from the drone
type Frame struct {
	Seq        uint64    // Receiver-local frame counter
	Data       []byte    // Encoded image bytes (JPEG)
	Width      int       // Decoded width in pixels
	Height     int       // Decoded height in pixels
	ReceivedAt time.Time // When the terminator (or last chunk) arrived
}

// Size returns the encoded size in bytes
func (f *Frame) Size() int {
	return len(f.Data)
}

// FrameEvent announces a received frame to live viewers
type FrameEvent struct {
	Seq        uint64    `json:"seq"`
	Size       int       `json:"size"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// Event describes the frame without its payload
func (f *Frame) Event() FrameEvent {
	return FrameEvent{
		Seq:        f.Seq,
		Size:       f.Size(),
		Width:      f.Width,
		Height:     f.Height,
		ReceivedAt: f.ReceivedAt,
	}
}
