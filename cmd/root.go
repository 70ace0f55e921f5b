package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"dronelink/config"
	"dronelink/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "dronelink",
	Short: "Drone to ground video and target designation link",
	Long: `dronelink connects a drone and a ground station over UDP. The drone finds
the ground station by broadcast, streams JPEG frames to it and turns its
gimbal towards the target the operator designates.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Config file (default ./dronelink.yaml)")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.Int("discovery-port", 8499, "UDP port of the rendezvous exchange")
	flags.Int("video-port", 8500, "UDP port the ground station receives frames on")
	flags.Int("command-port", 8501, "UDP port the drone receives commands on")
	flags.String("framing", "raw", "Frame transport framing (raw or sequenced)")

	bindFlags(rootCmd, map[string]string{
		"log.level":         "log-level",
		"discovery.port":    "discovery-port",
		"video.port":        "video-port",
		"command.port":      "command-port",
		"transport.framing": "framing",
	})

	cobra.OnInitialize(func() {
		if path, _ := rootCmd.PersistentFlags().GetString("config"); path != "" {
			config.Viper().SetConfigFile(path)
		}
	})

	rootCmd.AddCommand(NewDroneCommand())
	rootCmd.AddCommand(NewGroundCommand())
	rootCmd.AddCommand(NewTrackCommand())
	rootCmd.AddCommand(NewStopCommand())
}

// bindFlags binds config keys to the command's flags
func bindFlags(cmd *cobra.Command, keys map[string]string) {
	v := config.Viper()
	for key, name := range keys {
		flag := cmd.PersistentFlags().Lookup(name)
		if flag == nil {
			flag = cmd.Flags().Lookup(name)
		}
		if flag == nil {
			panic("unknown flag " + name)
		}
		v.BindPFlag(key, flag)
	}
}

// setup loads configuration and builds the process logger
func setup() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, logging.New(cfg.LogLevel), nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
