package cmd

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"dronelink/internal/ground"
	"dronelink/internal/storage"
)

// NewGroundCommand creates the ground command
func NewGroundCommand() *cobra.Command {
	var noSnapshots bool

	cmd := &cobra.Command{
		Use:   "ground",
		Short: "Run the ground station",
		Long: `Answer the drone's discovery probe, receive its video and serve the live
view and operator API.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGround(noSnapshots)
		},
	}

	cmd.Flags().String("advertise-ip", "", "IP sent to the drone, derived from the route to it when empty")
	cmd.Flags().String("http", ":8080", "Operator API address, empty to disable")
	cmd.Flags().String("storage", "local", "Snapshot storage (local or gcs)")
	cmd.Flags().String("storage-dir", "./data/snapshots", "Directory for local snapshots")
	cmd.Flags().BoolVar(&noSnapshots, "no-snapshots", false, "Disable snapshot storage")

	keys := map[string]string{
		"discovery.advertise_ip": "advertise-ip",
		"http.addr":              "http",
		"storage.type":           "storage",
		"storage.dir":            "storage-dir",
	}
	// Bound at run time; drone and ground share some keys
	cmd.PreRun = func(cmd *cobra.Command, args []string) { bindFlags(cmd, keys) }

	return cmd
}

func runGround(noSnapshots bool) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	var store storage.Storage
	if !noSnapshots {
		store, err = storage.New(ctx, cfg.StorageType, cfg.StorageDir, cfg.GCSProjectID, cfg.GCSBucketName, cfg.GCSBaseDir)
		if err != nil {
			return err
		}
		if closer, ok := store.(interface{ Close() error }); ok {
			defer closer.Close()
		}
	}

	logger.WithFields(logrus.Fields{
		"video_port": cfg.VideoPort,
		"http":       cfg.HTTPAddr,
	}).Info("Starting ground station")

	return ground.New(cfg, store, logger).Run(ctx)
}
