package transport

import (
	"fmt"
	"net"
	"strconv"
)

// Address is a (host, port) pair naming a sink.
type Address struct {
	Host string
	Port int
}

// ParseAddress parses "host:port". An empty string yields nil, meaning
// the sink is absent.
func ParseAddress(s string) (*Address, error) {
	if s == "" {
		return nil, nil
	}
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", s, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid port in address %q", s)
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return &Address{Host: host, Port: port}, nil
}

func (a Address) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}
