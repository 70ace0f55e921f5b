package cmd

import (
	"github.com/spf13/cobra"

	"dronelink/internal/capture"
	"dronelink/internal/detect"
	"dronelink/internal/drone"
	"dronelink/internal/logging"
	"dronelink/internal/mavlink"
)

// NewDroneCommand creates the drone command
func NewDroneCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drone",
		Short: "Run the airborne side of the link",
		Long: `Discover the ground station, stream camera frames to it and steer the
gimbal towards the designated target.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDrone()
		},
	}

	cmd.Flags().String("camera", "0", "Camera device id, or \"pattern\" for a synthetic source")
	cmd.Flags().String("broadcast", "255.255.255.255", "Address discovery probes are sent to")
	cmd.Flags().String("mavlink", "udp-client:127.0.0.1:14550", "Flight controller endpoint, or \"none\" to log gimbal commands")
	cmd.Flags().String("detect-socket", "/tmp/dronelink-detections.sock", "Unix socket detections are read from, empty to disable")
	cmd.Flags().String("http", ":8080", "Status API address, empty to disable")

	keys := map[string]string{
		"capture.device":      "camera",
		"discovery.broadcast": "broadcast",
		"mavlink.endpoint":    "mavlink",
		"detect.socket":       "detect-socket",
		"http.addr":           "http",
	}
	// Bound at run time; drone and ground share some keys
	cmd.PreRun = func(cmd *cobra.Command, args []string) { bindFlags(cmd, keys) }

	return cmd
}

func runDrone() error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	source, err := capture.Open(cfg.CameraDevice, cfg.FrameWidth, cfg.FrameHeight)
	if err != nil {
		return err
	}

	deps := drone.Deps{Source: source}

	if cfg.DetectionSocket != "" {
		feed := detect.NewSocketFeed(cfg.DetectionSocket, cfg.DetectionStaleAge, logging.Component(logger, "detect"))
		deps.Detector = feed
		deps.Background = append(deps.Background, feed.Run)
	}

	if cfg.MavlinkEndpoint != "none" {
		link, err := mavlink.Dial(mavlink.Config{
			Endpoint:        cfg.MavlinkEndpoint,
			SystemID:        uint8(cfg.MavlinkSystemID),
			TargetSystem:    uint8(cfg.TargetSystem),
			TargetComponent: uint8(cfg.TargetComponent),
		}, logging.Component(logger, "mavlink"))
		if err != nil {
			source.Close()
			return err
		}
		deps.Actuator = mavlink.NewActuator(link.Writer(), uint8(cfg.TargetSystem), uint8(cfg.TargetComponent),
			logging.Component(logger, "actuator"))
		deps.Background = append(deps.Background, link.Run)
	}

	d, err := drone.New(cfg, deps, logger)
	if err != nil {
		source.Close()
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	logger.WithField("camera", cfg.CameraDevice).Info("Starting drone")
	return d.Run(ctx)
}
