package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	// Rendezvous
	DiscoveryPort    int
	DiscoveryTimeout time.Duration
	BroadcastAddr    string
	AdvertiseIP      string // Ground only; derived from the route to the drone when empty

	// Link ports
	VideoPort   int
	CommandPort int

	// Frame transport
	MaxChunk      int
	MaxFrameBytes int
	Framing       string // "raw" or "sequenced"

	// Capture
	CameraDevice string // gocv device id, or "pattern"
	FrameWidth   int
	FrameHeight  int
	JPEGQuality  int
	FrameRate    int // 0 sends as fast as the camera delivers

	// Detection feed
	DetectionSocket string

	// Gimbal
	GimbalPeriod      time.Duration
	GimbalKp          float64
	CameraFrameWidth  int // Width detections are reported in when the detector does not say; defaults to FrameWidth
	SearchRate        float64
	MountMode         int
	DetectionStaleAge time.Duration

	// MAVLink
	MavlinkEndpoint string // "udp-client:host:port", "udp-server:addr" or "none"
	MavlinkSystemID int
	TargetSystem    int
	TargetComponent int

	// HTTP
	HTTPAddr string

	// Snapshots
	StorageType   string // "local" or "gcs"
	StorageDir    string
	GCSProjectID  string
	GCSBucketName string
	GCSBaseDir    string

	// Logging
	LogLevel string
}

var v = viper.New()

func init() {
	setDefaults(v)

	v.SetEnvPrefix("DRONELINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("gcs.project", "GCS_PROJECT_ID")
	v.BindEnv("gcs.bucket", "GCS_BUCKET_NAME")

	v.SetConfigName("dronelink")
	v.SetConfigType("yaml")
	for _, path := range []string{".", "$HOME/.dronelink", "/etc/dronelink"} {
		v.AddConfigPath(os.ExpandEnv(path))
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("discovery.port", 8499)
	v.SetDefault("discovery.timeout", 5*time.Second)
	v.SetDefault("discovery.broadcast", "255.255.255.255")
	v.SetDefault("discovery.advertise_ip", "")

	v.SetDefault("video.port", 8500)
	v.SetDefault("command.port", 8501)

	v.SetDefault("transport.max_chunk", 8000)
	v.SetDefault("transport.max_frame_bytes", 4<<20)
	v.SetDefault("transport.framing", "raw")

	v.SetDefault("capture.device", "0")
	v.SetDefault("capture.width", 640)
	v.SetDefault("capture.height", 480)
	v.SetDefault("capture.jpeg_quality", 40)
	v.SetDefault("capture.fps", 30)

	v.SetDefault("detect.socket", "/tmp/dronelink-detections.sock")

	v.SetDefault("gimbal.period", 50*time.Millisecond)
	v.SetDefault("gimbal.kp", 0.01)
	v.SetDefault("gimbal.frame_width", 0) // same as capture.width
	v.SetDefault("gimbal.search_rate", 0.5)
	v.SetDefault("gimbal.mount_mode", 2)
	v.SetDefault("gimbal.stale_after", 500*time.Millisecond)

	v.SetDefault("mavlink.endpoint", "udp-client:127.0.0.1:14550")
	v.SetDefault("mavlink.system_id", 10)
	v.SetDefault("mavlink.target_system", 1)
	v.SetDefault("mavlink.target_component", 1)

	v.SetDefault("http.addr", ":8080")

	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.dir", "./data/snapshots")
	v.SetDefault("gcs.project", "")
	v.SetDefault("gcs.bucket", "")
	v.SetDefault("gcs.base_dir", "snapshots")

	v.SetDefault("log.level", "info")
}

// Viper exposes the underlying store so commands can bind flags to keys
func Viper() *viper.Viper {
	return v
}

// Load loads configuration from the config file, environment variables and
// bound flags, falling back to defaults
func Load() (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		DiscoveryPort:     v.GetInt("discovery.port"),
		DiscoveryTimeout:  v.GetDuration("discovery.timeout"),
		BroadcastAddr:     v.GetString("discovery.broadcast"),
		AdvertiseIP:       v.GetString("discovery.advertise_ip"),
		VideoPort:         v.GetInt("video.port"),
		CommandPort:       v.GetInt("command.port"),
		MaxChunk:          v.GetInt("transport.max_chunk"),
		MaxFrameBytes:     v.GetInt("transport.max_frame_bytes"),
		Framing:           v.GetString("transport.framing"),
		CameraDevice:      v.GetString("capture.device"),
		FrameWidth:        v.GetInt("capture.width"),
		FrameHeight:       v.GetInt("capture.height"),
		JPEGQuality:       v.GetInt("capture.jpeg_quality"),
		FrameRate:         v.GetInt("capture.fps"),
		DetectionSocket:   v.GetString("detect.socket"),
		GimbalPeriod:      v.GetDuration("gimbal.period"),
		GimbalKp:          v.GetFloat64("gimbal.kp"),
		CameraFrameWidth:  v.GetInt("gimbal.frame_width"),
		SearchRate:        v.GetFloat64("gimbal.search_rate"),
		MountMode:         v.GetInt("gimbal.mount_mode"),
		DetectionStaleAge: v.GetDuration("gimbal.stale_after"),
		MavlinkEndpoint:   v.GetString("mavlink.endpoint"),
		MavlinkSystemID:   v.GetInt("mavlink.system_id"),
		TargetSystem:      v.GetInt("mavlink.target_system"),
		TargetComponent:   v.GetInt("mavlink.target_component"),
		HTTPAddr:          v.GetString("http.addr"),
		StorageType:       v.GetString("storage.type"),
		StorageDir:        v.GetString("storage.dir"),
		GCSProjectID:      v.GetString("gcs.project"),
		GCSBucketName:     v.GetString("gcs.bucket"),
		GCSBaseDir:        v.GetString("gcs.base_dir"),
		LogLevel:          v.GetString("log.level"),
	}

	// Detections are taken on the resized frame
	if cfg.CameraFrameWidth == 0 {
		cfg.CameraFrameWidth = cfg.FrameWidth
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside a loop
func (c *Config) Validate() error {
	for name, port := range map[string]int{
		"discovery.port": c.DiscoveryPort,
		"video.port":     c.VideoPort,
		"command.port":   c.CommandPort,
	} {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("%s out of range: %d", name, port)
		}
	}

	// 65507 is the IPv4 UDP payload ceiling
	if c.MaxChunk <= 0 || c.MaxChunk > 65507 {
		return fmt.Errorf("transport.max_chunk out of range: %d", c.MaxChunk)
	}

	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("capture.jpeg_quality out of range: %d", c.JPEGQuality)
	}
	if c.FrameRate < 0 {
		return fmt.Errorf("capture.fps must not be negative")
	}

	switch c.Framing {
	case "raw", "sequenced":
	default:
		return fmt.Errorf("unknown transport.framing %q", c.Framing)
	}

	if c.GimbalPeriod <= 0 {
		return fmt.Errorf("gimbal.period must be positive")
	}
	if c.FrameWidth <= 0 || c.FrameHeight <= 0 {
		return fmt.Errorf("capture size must be positive: %dx%d", c.FrameWidth, c.FrameHeight)
	}
	if c.CameraFrameWidth <= 0 {
		return fmt.Errorf("gimbal.frame_width must be positive")
	}

	switch c.StorageType {
	case "local", "gcs":
	default:
		return fmt.Errorf("unknown storage.type %q", c.StorageType)
	}
	if c.StorageType == "gcs" && (c.GCSProjectID == "" || c.GCSBucketName == "") {
		return fmt.Errorf("GCS_PROJECT_ID and GCS_BUCKET_NAME must be set when storage.type=gcs")
	}

	return nil
}

// FrameCenterX is the horizontal pixel center detections are measured against
func (c *Config) FrameCenterX() float64 {
	return float64(c.CameraFrameWidth) / 2
}
