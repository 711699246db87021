package transport

import (
	"fmt"
	"net"
	"strconv"
)

// Endpoint identifies a backend node. It is used as the pool and
// routing key, so it must stay a comparable value type.
type Endpoint struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

func NewEndpoint(host string, port int) Endpoint {
	return Endpoint{
		Host: host,
		Port: port,
	}
}

// ParseEndpoint splits a "host:port" address into an Endpoint.
func ParseEndpoint(addr string) (Endpoint, error) {
	host, portRaw, err := net.SplitHostPort(addr)
	if err != nil {
		return Endpoint{}, fmt.Errorf("transport: invalid endpoint address %q: %w", addr, err)
	}

	port, err := strconv.Atoi(portRaw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("transport: invalid endpoint port %q: %w", portRaw, err)
	}

	return NewEndpoint(host, port), nil
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}
