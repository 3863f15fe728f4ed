package server

import (
	"fmt"
	"net"
	"os"

	sockaddrnet "github.com/libp2p/go-sockaddr/net"
	"golang.org/x/sys/unix"

	neterrors "github.com/nczempin/advnet/errors"
)

// DefaultBacklog is the listen queue length used when none is configured.
const DefaultBacklog = 10

// Listen binds a TCP socket to host:port and listens with the given backlog.
// An empty host binds the IPv4 wildcard address. Port 0 picks a free port.
func Listen(host string, port, backlog int) (*net.TCPListener, error) {
	if port < 0 || port > 65535 {
		return nil, neterrors.NewTransportError(neterrors.InvalidArgument, fmt.Sprintf("port %d out of range", port), nil)
	}
	if backlog <= 0 {
		backlog = DefaultBacklog
	}

	ip := net.IPv4zero
	if host != "" {
		if ip = net.ParseIP(host); ip == nil {
			return nil, neterrors.NewTransportError(neterrors.InvalidArgument, fmt.Sprintf("not an IP address: %q", host), nil)
		}
	}
	addr := &net.TCPAddr{IP: ip, Port: port}

	fd, err := unix.Socket(sockaddrnet.NetAddrAF(addr), unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, neterrors.NewTransportError(neterrors.SocketCreateFailure, "listen", err)
	}

	if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, neterrors.NewTransportError(neterrors.InitFailure, "SO_REUSEADDR", err)
	}
	if err = unix.Bind(fd, sockaddrnet.TCPAddrToSockaddr(addr)); err != nil {
		unix.Close(fd)
		return nil, neterrors.NewTransportError(neterrors.InitFailure, fmt.Sprintf("bind %s", addr), err)
	}
	if err = unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, neterrors.NewTransportError(neterrors.InitFailure, "listen", err)
	}

	// FileListener dups the descriptor; the original is closed with f.
	f := os.NewFile(uintptr(fd), "tcp-listener")
	defer f.Close()

	ln, err := net.FileListener(f)
	if err != nil {
		return nil, neterrors.NewTransportError(neterrors.InitFailure, "file listener", err)
	}
	return ln.(*net.TCPListener), nil
}
