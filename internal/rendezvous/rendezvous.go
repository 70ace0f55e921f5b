// Package rendezvous implements the one-shot broadcast handshake that lets
// the drone find the ground station with no prior configuration.
//
// The drone broadcasts DiscoveryMessage on the discovery port and waits for
// a unicast "ip:port" reply on the same socket. The ground station answers
// the first probe it sees with its own address and video port. Replies carry
// no correlation id, so any datagram arriving on the probe socket during the
// listen window is taken as the answer.
package rendezvous

import (
	"bytes"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"dronelink/pkg/models"
)

// DiscoveryMessage is the fixed probe payload
const DiscoveryMessage = "DISCOVER_STREAMING_SERVER"

const replyBufferSize = 1024

var (
	// ErrDiscoveryTimeout means no reply arrived inside the listen window
	ErrDiscoveryTimeout = errors.New("discovery timed out")

	// ErrMalformedReply means the reply body was not "ip:port"
	ErrMalformedReply = errors.New("malformed discovery reply")
)

// IsProbe reports whether payload is a discovery probe
func IsProbe(payload []byte) bool {
	return bytes.Equal(bytes.TrimSpace(payload), []byte(DiscoveryMessage))
}

// FormatReply builds the reply body for an endpoint
func FormatReply(ip string, port int) []byte {
	return []byte(fmt.Sprintf("%s:%d", ip, port))
}

// ParseReply parses an "ip:port" reply body. The host must be an IP literal
// and the port must be in 1..65535.
func ParseReply(payload []byte) (models.PeerEndpoint, error) {
	body := strings.TrimSpace(string(payload))

	host, portStr, err := net.SplitHostPort(body)
	if err != nil {
		return models.PeerEndpoint{}, errors.Wrapf(ErrMalformedReply, "%q", body)
	}

	if net.ParseIP(host) == nil {
		return models.PeerEndpoint{}, errors.Wrapf(ErrMalformedReply, "invalid address %q", host)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return models.PeerEndpoint{}, errors.Wrapf(ErrMalformedReply, "invalid port %q", portStr)
	}

	return models.PeerEndpoint{Address: host, Port: port}, nil
}

// LocalIPFor returns the local address the kernel would use to reach
// remote. No packet is sent.
func LocalIPFor(remote *net.UDPAddr) (string, error) {
	conn, err := net.DialUDP("udp4", nil, remote)
	if err != nil {
		return "", errors.Wrap(err, "failed to resolve route to peer")
	}
	defer conn.Close()

	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
