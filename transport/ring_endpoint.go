package transport

import (
	"net"
	"os"

	"github.com/godzie44/go-uring/uring"
	sockaddrnet "github.com/libp2p/go-sockaddr/net"
	"golang.org/x/sys/unix"

	neterrors "github.com/nczempin/advnet/errors"
)

// RingFactory creates blocking sockets that connect with connect(2) and
// then move their reads and writes through a per-connection io_uring.
type RingFactory struct {
	Entries uint32
}

// NewRingFactory creates a RingFactory with the given queue depth
func NewRingFactory(entries uint32) *RingFactory {
	return &RingFactory{Entries: entries}
}

// Open creates the socket and its ring. Either failing fails the endpoint.
func (f *RingFactory) Open(c Candidate) (Endpoint, error) {
	fd, err := openSocket(c, 0)
	if err != nil {
		return nil, err
	}

	ring, err := uring.New(f.Entries)
	if err != nil {
		closeFD(&fd)
		return nil, neterrors.NewTransportError(
			neterrors.SocketCreateFailure,
			"failed to initialize io_uring",
			err,
		)
	}

	return &ringEndpoint{ring: ring, fd: fd, cand: c}, nil
}

type ringEndpoint struct {
	ring *uring.Ring
	fd   int
	cand Candidate
}

// Connect uses a blocking connect; the ring is only used for data transfer
func (e *ringEndpoint) Connect() (Conn, error) {
	if e.fd < 0 {
		return nil, neterrors.NewTransportError(neterrors.SocketConnectFailure, "endpoint closed", nil)
	}

	if err := connectFD(e.fd, e.cand.Sockaddr()); err != nil {
		return nil, classifyConnectError(e.cand, err)
	}

	if err := unix.SetsockoptInt(e.fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		return nil, neterrors.NewTransportError(
			neterrors.InitFailure,
			"failed to set TCP_NODELAY",
			err,
		)
	}

	conn := &ringConn{
		ring:   e.ring,
		file:   os.NewFile(uintptr(e.fd), "socket"),
		remote: e.cand.Addr,
	}
	if sa, err := unix.Getsockname(e.fd); err == nil {
		conn.local = sockaddrnet.SockaddrToTCPAddr(sa)
	}
	e.fd = -1
	e.ring = nil
	return conn, nil
}

func (e *ringEndpoint) Close() error {
	if e.ring != nil {
		e.ring.Close()
		e.ring = nil
	}
	return closeFD(&e.fd)
}

type ringConn struct {
	ring   *uring.Ring
	file   *os.File
	local  *net.TCPAddr
	remote *net.TCPAddr
}

// submit queues one operation and waits for its completion
func (c *ringConn) submit(op uring.Operation) (int, error) {
	if err := c.ring.QueueSQE(op, 0, 0); err != nil {
		return 0, err
	}
	if _, err := c.ring.Submit(); err != nil {
		return 0, err
	}

	cqe, err := c.ring.WaitCQEvents(1)
	if err != nil {
		return 0, err
	}
	defer c.ring.SeenCQE(cqe)

	if err := cqe.Error(); err != nil {
		return 0, err
	}
	return int(cqe.Res), nil
}

// Write sends all of buf through the ring
func (c *ringConn) Write(buf []byte) (int, error) {
	if c.file == nil {
		return 0, neterrors.NewTransportError(neterrors.SocketWriteFailure, "not connected", nil)
	}

	totalWritten := 0
	for totalWritten < len(buf) {
		// Sockets are not seekable, the offset is ignored.
		n, err := c.submit(uring.Write(c.file.Fd(), buf[totalWritten:], 0))
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

// Read receives at most len(buf) bytes; a zero-length read is io.EOF
func (c *ringConn) Read(buf []byte) (int, error) {
	if c.file == nil {
		return 0, neterrors.NewTransportError(neterrors.SocketReadFailure, "not connected", nil)
	}

	n, err := c.submit(uring.Read(c.file.Fd(), buf, 0))
	if err != nil {
		return 0, classifyReadError(err)
	}
	return eofOnEmpty(n, buf)
}

// Close closes the socket and the ring. It is idempotent.
func (c *ringConn) Close() error {
	if c.file == nil {
		return nil
	}

	err := c.file.Close()
	c.file = nil
	c.ring.Close()
	c.ring = nil

	if err != nil {
		return neterrors.NewTransportError(neterrors.SocketCloseFailure, "", err)
	}
	return nil
}

func (c *ringConn) LocalAddr() net.Addr {
	if c.local == nil {
		return nil
	}
	return c.local
}

func (c *ringConn) RemoteAddr() net.Addr {
	return c.remote
}
