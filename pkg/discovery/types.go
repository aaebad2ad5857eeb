package discovery

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

const (
	// ServiceType is the DNS-SD service type of chanmux servers.
	ServiceType = "_chanmux._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// ProtocolVersion is advertised in the v TXT record.
	ProtocolVersion = 1

	// DefaultTTL is the record TTL used when none is configured.
	DefaultTTL = 120 * time.Second

	// DefaultResolveTimeout bounds Resolve when the context has no deadline.
	DefaultResolveTimeout = 5 * time.Second

	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63
)

var (
	// ErrNotFound is returned when no server with the requested name
	// answered before the deadline.
	ErrNotFound = errors.New("server not found")

	// ErrInvalidName is returned for an empty or oversized instance name.
	ErrInvalidName = errors.New("invalid instance name")

	// ErrInvalidPort is returned for a zero port.
	ErrInvalidPort = errors.New("invalid port")

	// ErrNotAdvertising is returned by Update before Advertise.
	ErrNotAdvertising = errors.New("not advertising")
)

// ServerInfo is what a server advertises about itself.
type ServerInfo struct {
	// Name is the instance name.
	Name string

	// Port is the TCP port of the chanmux transport.
	Port uint16

	// DataSources lists the data source names served.
	DataSources []string

	// WebSocketPath is the HTTP path of the WebSocket endpoint, if any.
	WebSocketPath string
}

// Validate checks that info can be registered.
func (i *ServerInfo) Validate() error {
	if i.Name == "" || len(i.Name) > MaxInstanceNameLen {
		return fmt.Errorf("%w: %q", ErrInvalidName, i.Name)
	}
	if i.Port == 0 {
		return ErrInvalidPort
	}
	return nil
}

// Service is a server found on the network.
type Service struct {
	InstanceName string
	Host         string
	Port         uint16
	Addresses    []string
	Version      int
	DataSources  []string

	// WebSocketPath is empty when the server offers TCP only.
	WebSocketPath string
}

// Address returns host:port for the first known address, falling back to
// the advertised host name.
func (s *Service) Address() string {
	host := s.Host
	if len(s.Addresses) > 0 {
		host = s.Addresses[0]
	}
	return net.JoinHostPort(host, strconv.Itoa(int(s.Port)))
}

// Serves reports whether the server advertises the named data source. A
// server that advertises no list is assumed to serve everything.
func (s *Service) Serves(dataSource string) bool {
	if len(s.DataSources) == 0 {
		return true
	}
	for _, ds := range s.DataSources {
		if ds == dataSource {
			return true
		}
	}
	return false
}
