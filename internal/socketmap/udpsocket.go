//go:build linux

package socketmap

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// UDPOpener binds real UDP sockets for the LS/IP device-socket map,
// using golang.org/x/sys/unix directly for multicast group membership —
// the net package alone doesn't expose IP_ADD_MEMBERSHIP with the
// specificity C4 needs (joining per-group multicast addresses on a
// socket that's otherwise a plain unicast listener). Grounded on
// internal/tunnel/netlink.go's direct unix socket-option use.
type UDPOpener struct {
	Port int
}

type udpSocket struct {
	conn *net.UDPConn
	fd   int
}

func (o *UDPOpener) Bind(addr IPBytes) (Socket, error) {
	laddr := &net.UDPAddr{IP: net.IPv4(addr[0], addr[1], addr[2], addr[3]), Port: o.Port}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, fmt.Errorf("socketmap: binding udp %v: %w", addr, err)
	}

	raw, err := conn.SyscallConn()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("socketmap: getting raw conn: %w", err)
	}

	var fd int
	if err := raw.Control(func(f uintptr) { fd = int(f) }); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("socketmap: reading fd: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("socketmap: SO_REUSEADDR: %w", err)
	}

	return &udpSocket{conn: conn, fd: fd}, nil
}

func (s *udpSocket) Close() error { return s.conn.Close() }

func (s *udpSocket) JoinMulticast(group IPBytes) error {
	mreq := &unix.IPMreq{
		Multiaddr: [4]byte(group),
	}
	return unix.SetsockoptIPMreq(s.fd, unix.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP, mreq)
}

func (s *udpSocket) LeaveMulticast(group IPBytes) error {
	mreq := &unix.IPMreq{
		Multiaddr: [4]byte(group),
	}
	return unix.SetsockoptIPMreq(s.fd, unix.IPPROTO_IP, unix.IP_DROP_MEMBERSHIP, mreq)
}
