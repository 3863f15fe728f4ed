package transport

import (
	"errors"
	"net"
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	neterrors "github.com/nczempin/advnet/errors"
)

// SocketFactory creates plain kernel sockets and connects them with a
// blocking connect(2). Connected sockets are handed to the Go runtime
// poller as a net.Conn.
type SocketFactory struct {
	NoDelay bool
}

// NewSocketFactory creates a new SocketFactory with Nagle's algorithm disabled
func NewSocketFactory() *SocketFactory {
	return &SocketFactory{NoDelay: true}
}

// Open creates a socket matching the candidate's family, type and protocol
func (f *SocketFactory) Open(c Candidate) (Endpoint, error) {
	fd, err := openSocket(c, 0)
	if err != nil {
		return nil, err
	}
	return &socketEndpoint{fd: fd, cand: c, noDelay: f.NoDelay}, nil
}

type socketEndpoint struct {
	fd      int
	cand    Candidate
	noDelay bool
}

// Connect establishes the connection and converts the descriptor into a net.Conn
func (e *socketEndpoint) Connect() (Conn, error) {
	if e.fd < 0 {
		return nil, neterrors.NewTransportError(neterrors.SocketConnectFailure, "endpoint closed", nil)
	}

	if err := connectFD(e.fd, e.cand.Sockaddr()); err != nil {
		return nil, classifyConnectError(e.cand, err)
	}

	// net.FileConn dups the descriptor, so the original is always closed here.
	f := os.NewFile(uintptr(e.fd), "tcp:"+e.cand.Addr.String())
	e.fd = -1
	conn, err := net.FileConn(f)
	f.Close()
	if err != nil {
		return nil, neterrors.NewTransportError(neterrors.InitFailure, "wrap socket "+e.cand.String(), err)
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok && e.noDelay {
		if err := tcpConn.SetNoDelay(true); err != nil {
			conn.Close()
			return nil, neterrors.NewTransportError(neterrors.InitFailure, "set TCP_NODELAY", err)
		}
	}
	return conn, nil
}

// Close releases the socket if it was never connected
func (e *socketEndpoint) Close() error {
	return closeFD(&e.fd)
}

func openSocket(c Candidate, flags int) (int, error) {
	fd, err := unix.Socket(c.Family, c.SockType|unix.SOCK_CLOEXEC|flags, c.Protocol)
	if err != nil {
		return -1, neterrors.NewTransportError(neterrors.SocketCreateFailure, "socket "+c.String(), err)
	}
	return fd, nil
}

func closeFD(fd *int) error {
	if *fd < 0 {
		return nil // Idempotent close
	}
	err := unix.Close(*fd)
	*fd = -1
	if err != nil {
		return neterrors.NewTransportError(neterrors.SocketCloseFailure, "", err)
	}
	return nil
}

// connectFD runs a blocking connect. A connect interrupted by a signal keeps
// going in the kernel, so completion is awaited with poll and SO_ERROR.
func connectFD(fd int, sa unix.Sockaddr) error {
	switch err := unix.Connect(fd, sa); err {
	case nil, unix.EISCONN:
		return nil
	case unix.EINTR, unix.EINPROGRESS, unix.EALREADY:
	default:
		return err
	}

	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
	for {
		_, err := unix.Poll(fds, -1)
		if err == nil {
			break
		}
		if err != unix.EINTR {
			return err
		}
	}

	soErr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if soErr != 0 {
		return unix.Errno(soErr)
	}
	return nil
}

func classifyConnectError(c Candidate, err error) error {
	msg := "connect " + c.String()
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		msg += ": refused"
	case errors.Is(err, syscall.ENETUNREACH), errors.Is(err, syscall.EHOSTUNREACH):
		msg += ": unreachable"
	case errors.Is(err, syscall.ETIMEDOUT):
		msg += ": timed out"
	}
	return neterrors.NewTransportError(neterrors.SocketConnectFailure, msg, err)
}
