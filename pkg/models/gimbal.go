package models

// GimbalState is owned by the gimbal controller. Yaw integrates pixel
// error every locked tick and is never reset.
type GimbalState struct {
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
}

// MountMode mirrors MAV_MOUNT_MODE
type MountMode uint8

const (
	MountModeRetract          MountMode = 0
	MountModeNeutral          MountMode = 1
	MountModeMavlinkTargeting MountMode = 2
	MountModeRCTargeting      MountMode = 3
	MountModeGPSPoint         MountMode = 4
)

// Twist is a body-frame velocity command. Only AngularZ is used while
// searching.
type Twist struct {
	LinearX  float64
	LinearY  float64
	LinearZ  float64
	AngularX float64
	AngularY float64
	AngularZ float64
}

// MountCommand points the gimbal
type MountCommand struct {
	Yaw   float64
	Pitch float64
	Roll  float64
	Mode  MountMode
}
