package main

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// resolveSockaddr turns a "host:port" string into an IPv4 unix.Sockaddr,
// the only address family the demo server/client bother supporting.
func resolveSockaddr(hostport string) (unix.Sockaddr, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp4", hostport)
	if err != nil {
		return nil, fmt.Errorf("resolving %q: %w", hostport, err)
	}
	var ip [4]byte
	v4 := tcpAddr.IP.To4()
	if v4 == nil {
		return nil, fmt.Errorf("resolving %q: not an IPv4 address", hostport)
	}
	copy(ip[:], v4)
	return &unix.SockaddrInet4{Port: tcpAddr.Port, Addr: ip}, nil
}
