package transport

import (
	"net"

	"github.com/iceber/iouring-go"
	sockaddrnet "github.com/libp2p/go-sockaddr/net"
	"golang.org/x/sys/unix"

	neterrors "github.com/nczempin/advnet/errors"
)

// UringFactory creates non-blocking sockets whose connect, send and receive
// are submitted to a shared io_uring instance.
type UringFactory struct {
	iour *iouring.IOURing
}

// NewUringFactory creates a new io_uring instance with the given queue depth
func NewUringFactory(entries uint) (*UringFactory, error) {
	iour, err := iouring.New(entries)
	if err != nil {
		return nil, neterrors.NewTransportError(
			neterrors.InitFailure,
			"failed to initialize io_uring",
			err,
		)
	}
	return &UringFactory{iour: iour}, nil
}

// Open creates a non-blocking socket with TCP_NODELAY set
func (f *UringFactory) Open(c Candidate) (Endpoint, error) {
	fd, err := openSocket(c, unix.SOCK_NONBLOCK)
	if err != nil {
		return nil, err
	}

	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		unix.Close(fd)
		return nil, neterrors.NewTransportError(
			neterrors.SocketCreateFailure,
			"failed to set TCP_NODELAY",
			err,
		)
	}

	return &uringEndpoint{iour: f.iour, fd: fd, cand: c}, nil
}

// Close releases the io_uring instance. Connections opened through the
// factory must be closed first.
func (f *UringFactory) Close() error {
	if f.iour == nil {
		return nil
	}
	err := f.iour.Close()
	f.iour = nil
	return err
}

type uringEndpoint struct {
	iour *iouring.IOURing
	fd   int
	cand Candidate
}

// Connect submits the connect operation and waits for its completion
func (e *uringEndpoint) Connect() (Conn, error) {
	if e.fd < 0 {
		return nil, neterrors.NewTransportError(neterrors.SocketConnectFailure, "endpoint closed", nil)
	}

	prep, err := iouring.Connect(e.fd, e.cand.syscallSockaddr())
	if err != nil {
		return nil, neterrors.NewTransportError(
			neterrors.SocketConnectFailure,
			"failed to prepare connect request",
			err,
		)
	}

	ch := make(chan iouring.Result, 1)
	if _, err := e.iour.SubmitRequest(prep, ch); err != nil {
		return nil, neterrors.NewTransportError(
			neterrors.SocketConnectFailure,
			"failed to submit connect request",
			err,
		)
	}

	// Connect completions carry no value, only an error.
	result := <-ch
	if err := result.Err(); err != nil {
		return nil, classifyConnectError(e.cand, err)
	}

	conn := &uringConn{iour: e.iour, fd: e.fd, remote: e.cand.Addr}
	if sa, err := unix.Getsockname(e.fd); err == nil {
		conn.local = sockaddrnet.SockaddrToTCPAddr(sa)
	}
	e.fd = -1
	return conn, nil
}

func (e *uringEndpoint) Close() error {
	return closeFD(&e.fd)
}

type uringConn struct {
	iour   *iouring.IOURing
	fd     int
	local  *net.TCPAddr
	remote *net.TCPAddr
}

// Write sends all of buf, resubmitting after partial sends
func (c *uringConn) Write(buf []byte) (int, error) {
	if c.fd < 0 {
		return 0, neterrors.NewTransportError(neterrors.SocketWriteFailure, "not connected", nil)
	}

	totalWritten := 0
	for totalWritten < len(buf) {
		ch := make(chan iouring.Result, 1)
		if _, err := c.iour.SubmitRequest(iouring.Send(c.fd, buf[totalWritten:], 0), ch); err != nil {
			return totalWritten, neterrors.NewTransportError(
				neterrors.SocketWriteFailure,
				"failed to submit write request",
				err,
			)
		}

		result := <-ch
		n, err := result.ReturnInt()
		if err != nil {
			return totalWritten, classifyWriteError(err)
		}
		if n <= 0 {
			return totalWritten, neterrors.NewTransportError(
				neterrors.ConnectionClosed,
				"connection closed during write",
				nil,
			)
		}
		totalWritten += n
	}
	return totalWritten, nil
}

// Read receives at most len(buf) bytes; a zero-length receive is io.EOF
func (c *uringConn) Read(buf []byte) (int, error) {
	if c.fd < 0 {
		return 0, neterrors.NewTransportError(neterrors.SocketReadFailure, "not connected", nil)
	}

	ch := make(chan iouring.Result, 1)
	if _, err := c.iour.SubmitRequest(iouring.Recv(c.fd, buf, 0), ch); err != nil {
		return 0, neterrors.NewTransportError(
			neterrors.SocketReadFailure,
			"failed to submit read request",
			err,
		)
	}

	result := <-ch
	n, err := result.ReturnInt()
	if err != nil {
		return 0, classifyReadError(err)
	}
	return eofOnEmpty(n, buf)
}

func (c *uringConn) Close() error {
	return closeFD(&c.fd)
}

func (c *uringConn) LocalAddr() net.Addr {
	if c.local == nil {
		return nil
	}
	return c.local
}

func (c *uringConn) RemoteAddr() net.Addr {
	return c.remote
}
