// Package transport creates and connects stream endpoints for resolved
// candidates. Three backends exist: plain sockets, io_uring through
// iouring-go and io_uring through go-uring.
//
// iouring-go reaches into package syscall with go:linkname, which the Go
// 1.23+ linker rejects by default. Anything importing this package must be
// built and tested with
//
//	go test -ldflags=-checklinkname=0 ./...
package transport

import (
	"fmt"
	"io"
	"net"
	"syscall"

	sockaddrnet "github.com/libp2p/go-sockaddr/net"
	"golang.org/x/sys/unix"
)

// Candidate is one resolved, attemptable stream endpoint: an address plus
// the socket family, type and protocol needed to reach it.
type Candidate struct {
	Family   int
	SockType int
	Protocol int
	Addr     *net.TCPAddr
}

// NewCandidate derives family, socket type and protocol from addr.
func NewCandidate(addr *net.TCPAddr) Candidate {
	return Candidate{
		Family:   sockaddrnet.NetAddrAF(addr),
		SockType: sockaddrnet.NetAddrSOCK(addr),
		Protocol: sockaddrnet.NetAddrIPPROTO(addr),
		Addr:     addr,
	}
}

// Sockaddr returns the candidate address in the form connect(2) takes.
func (c Candidate) Sockaddr() unix.Sockaddr {
	return sockaddrnet.TCPAddrToSockaddr(c.Addr)
}

// syscallSockaddr is Sockaddr for APIs built on package syscall.
func (c Candidate) syscallSockaddr() syscall.Sockaddr {
	if ip4 := c.Addr.IP.To4(); ip4 != nil {
		sa4 := &syscall.SockaddrInet4{Port: c.Addr.Port}
		copy(sa4.Addr[:], ip4)
		return sa4
	}
	sa6 := &syscall.SockaddrInet6{Port: c.Addr.Port}
	copy(sa6.Addr[:], c.Addr.IP.To16())
	if c.Addr.Zone != "" {
		if ifi, err := net.InterfaceByName(c.Addr.Zone); err == nil {
			sa6.ZoneId = uint32(ifi.Index)
		}
	}
	return sa6
}

func (c Candidate) String() string {
	family := "ipv4"
	if c.Family == unix.AF_INET6 {
		family = "ipv6"
	}
	return fmt.Sprintf("%s/%s", family, c.Addr)
}

// Conn is a connected, bi-directional byte stream. net.Conn satisfies it.
type Conn interface {
	io.ReadWriteCloser
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

// Endpoint is a transport endpoint created for a single Candidate but not
// yet connected. A successful Connect transfers the underlying descriptor
// to the returned Conn; Close after that is a no-op. Close is idempotent.
type Endpoint interface {
	Connect() (Conn, error)
	Close() error
}

// EndpointFactory creates unconnected endpoints. Open fails only when the
// endpoint itself cannot be created.
type EndpointFactory interface {
	Open(c Candidate) (Endpoint, error)
}
