package models

import (
	"net"
	"strconv"
)

// PeerEndpoint is a resolved host/port pair. It is immutable once resolved
// for a session.
type PeerEndpoint struct {
	Address string
	Port    int
}

// String formats the endpoint as host:port
func (p PeerEndpoint) String() string {
	return net.JoinHostPort(p.Address, strconv.Itoa(p.Port))
}

// UDPAddr resolves the endpoint into a UDP address
func (p PeerEndpoint) UDPAddr() (*net.UDPAddr, error) {
	return net.ResolveUDPAddr("udp4", p.String())
}

// IsZero reports whether the endpoint is unset
func (p PeerEndpoint) IsZero() bool {
	return p.Address == "" && p.Port == 0
}
