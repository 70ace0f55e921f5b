package cmd

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"dronelink/internal/command"
	"dronelink/internal/logging"
	"dronelink/internal/metrics"
	"dronelink/pkg/models"
)

const sendTimeout = 2 * time.Second

// NewTrackCommand creates the track command
func NewTrackCommand() *cobra.Command {
	var droneAddr string

	cmd := &cobra.Command{
		Use:   "track <descriptor>",
		Short: "Designate a target on the drone",
		Example: `  dronelink track "red cup" --drone 10.0.0.7
  dronelink track 3 --drone 10.0.0.7:8501`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendCommand(droneAddr, func(ctx context.Context, s *command.Sender) error {
				return s.Track(ctx, strings.Join(args, " "))
			})
		},
	}
	cmd.Flags().StringVar(&droneAddr, "drone", "", "Drone address, host or host:port")
	cmd.MarkFlagRequired("drone")

	return cmd
}

// NewStopCommand creates the stop command
func NewStopCommand() *cobra.Command {
	var droneAddr string

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Clear the drone's target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendCommand(droneAddr, func(ctx context.Context, s *command.Sender) error {
				return s.Stop(ctx)
			})
		},
	}
	cmd.Flags().StringVar(&droneAddr, "drone", "", "Drone address, host or host:port")
	cmd.MarkFlagRequired("drone")

	return cmd
}

func sendCommand(droneAddr string, send func(ctx context.Context, s *command.Sender) error) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	peer, err := parsePeer(droneAddr, cfg.CommandPort)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	sender := command.NewSender(peer, logging.Component(logger, "command"), metrics.New(prometheus.NewRegistry()))
	if err := send(ctx, sender); err != nil {
		return err
	}

	fmt.Printf("Sent to %s\n", peer)
	return nil
}

// parsePeer accepts "host" or "host:port"
func parsePeer(addr string, defaultPort int) (models.PeerEndpoint, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return models.PeerEndpoint{}, errors.New("drone address is required")
	}

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		// No port given
		return models.PeerEndpoint{Address: strings.Trim(addr, "[]"), Port: defaultPort}, nil
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return models.PeerEndpoint{}, errors.Errorf("invalid port in %q", addr)
	}
	if host == "" {
		return models.PeerEndpoint{}, errors.Errorf("missing host in %q", addr)
	}
	return models.PeerEndpoint{Address: host, Port: port}, nil
}
