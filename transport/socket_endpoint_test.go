package transport

import (
	"io"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	neterrors "github.com/nczempin/advnet/errors"
)

func setupTcpTestServer(t *testing.T, network, address string, serverLogic func(net.Conn)) (*net.TCPAddr, func()) {
	t.Helper()

	listener, err := net.Listen(network, address)
	if err != nil {
		t.Skipf("cannot listen on %s %s: %v", network, address, err)
	}

	addr := listener.Addr().(*net.TCPAddr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		serverLogic(conn)
		conn.Close()
	}()

	cleanup := func() {
		listener.Close()
		<-done
	}

	return addr, cleanup
}

// closedPort returns a loopback address nothing listens on.
func closedPort(t *testing.T) *net.TCPAddr {
	t.Helper()

	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().(*net.TCPAddr)
	require.NoError(t, listener.Close())
	return addr
}

func TestNewCandidate_Family(t *testing.T) {
	v4 := NewCandidate(&net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 7})
	assert.Equal(t, syscall.AF_INET, v4.Family)
	assert.Equal(t, syscall.SOCK_STREAM, v4.SockType)
	assert.Equal(t, syscall.IPPROTO_TCP, v4.Protocol)
	assert.Equal(t, "ipv4/127.0.0.1:7", v4.String())

	v6 := NewCandidate(&net.TCPAddr{IP: net.ParseIP("::1"), Port: 7})
	assert.Equal(t, syscall.AF_INET6, v6.Family)
	assert.Equal(t, "ipv6/[::1]:7", v6.String())

	sa, ok := v4.Sockaddr().(*unix.SockaddrInet4)
	require.True(t, ok)
	assert.Equal(t, 7, sa.Port)
	assert.Equal(t, [4]byte{127, 0, 0, 1}, sa.Addr)
}

func TestSocketFactory_Connect_Success(t *testing.T) {
	addr, cleanup := setupTcpTestServer(t, "tcp4", "127.0.0.1:0", func(conn net.Conn) {})
	defer cleanup()

	ep, err := NewSocketFactory().Open(NewCandidate(addr))
	require.NoError(t, err)

	conn, err := ep.Connect()
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, addr.String(), conn.RemoteAddr().String())

	// The descriptor now belongs to conn.
	assert.NoError(t, ep.Close())
	assert.Equal(t, -1, ep.(*socketEndpoint).fd)
}

func TestSocketFactory_Connect_IPv6(t *testing.T) {
	addr, cleanup := setupTcpTestServer(t, "tcp6", "[::1]:0", func(conn net.Conn) {})
	defer cleanup()

	ep, err := NewSocketFactory().Open(NewCandidate(addr))
	require.NoError(t, err)
	defer ep.Close()

	conn, err := ep.Connect()
	require.NoError(t, err)
	conn.Close()
}

func TestSocketFactory_Connect_Failure_ConnectionRefused(t *testing.T) {
	ep, err := NewSocketFactory().Open(NewCandidate(closedPort(t)))
	require.NoError(t, err)

	_, err = ep.Connect()
	require.Error(t, err)

	te, ok := err.(*neterrors.Error)
	require.True(t, ok, "expected *neterrors.Error, got %T", err)
	assert.Equal(t, neterrors.SocketConnectFailure, te.TransportErr)
	assert.ErrorIs(t, err, syscall.ECONNREFUSED)

	// A failed endpoint still owns its socket until Close.
	assert.GreaterOrEqual(t, ep.(*socketEndpoint).fd, 0)
	assert.NoError(t, ep.Close())
	assert.Equal(t, -1, ep.(*socketEndpoint).fd)
}

func TestSocketFactory_Open_Failure_BadFamily(t *testing.T) {
	c := NewCandidate(&net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 7})
	c.Family = -1

	_, err := NewSocketFactory().Open(c)
	require.Error(t, err)
	assert.True(t, neterrors.Is(err, neterrors.SocketCreateFailure))
}

func TestSocketEndpoint_Close_Idempotent(t *testing.T) {
	ep, err := NewSocketFactory().Open(NewCandidate(closedPort(t)))
	require.NoError(t, err)

	assert.NoError(t, ep.Close())
	assert.NoError(t, ep.Close())

	_, err = ep.Connect()
	assert.True(t, neterrors.Is(err, neterrors.SocketConnectFailure))
}

// Every backend must move bytes both ways once connected.
func TestFactories_RoundTrip(t *testing.T) {
	factories := map[string]func(t *testing.T) EndpointFactory{
		"socket": func(t *testing.T) EndpointFactory { return NewSocketFactory() },
		"uring": func(t *testing.T) EndpointFactory {
			f, err := NewUringFactory(8)
			if err != nil {
				t.Skipf("io_uring unavailable: %v", err)
			}
			t.Cleanup(func() { f.Close() })
			return f
		},
		"ring": func(t *testing.T) EndpointFactory {
			skipWithoutRing(t)
			return NewRingFactory(8)
		},
	}

	for name, newFactory := range factories {
		t.Run(name, func(t *testing.T) {
			factory := newFactory(t)

			addr, cleanup := setupTcpTestServer(t, "tcp4", "127.0.0.1:0", func(conn net.Conn) {
				buf := make([]byte, 64)
				n, _ := conn.Read(buf)
				conn.Write(buf[:n])
			})
			defer cleanup()

			ep, err := factory.Open(NewCandidate(addr))
			require.NoError(t, err)
			defer ep.Close()

			conn, err := ep.Connect()
			require.NoError(t, err)
			defer conn.Close()

			n, err := conn.Write([]byte("ping"))
			require.NoError(t, err)
			assert.Equal(t, 4, n)

			buf := make([]byte, 64)
			n, err = io.ReadAtLeast(conn, buf, 4)
			require.NoError(t, err)
			assert.Equal(t, "ping", string(buf[:n]))

			n, err = conn.Read(buf)
			assert.Equal(t, 0, n)
			assert.ErrorIs(t, err, io.EOF)
		})
	}
}

func TestFactories_ConnectionRefused(t *testing.T) {
	uringFactory, err := NewUringFactory(8)
	if err != nil {
		t.Skipf("io_uring unavailable: %v", err)
	}
	defer uringFactory.Close()

	ep, err := uringFactory.Open(NewCandidate(closedPort(t)))
	require.NoError(t, err)
	defer ep.Close()

	_, err = ep.Connect()
	assert.True(t, neterrors.Is(err, neterrors.SocketConnectFailure))
}

func TestUringFactory_Connect_LiveListener(t *testing.T) {
	uringFactory, err := NewUringFactory(8)
	if err != nil {
		t.Skipf("io_uring unavailable: %v", err)
	}
	defer uringFactory.Close()

	addr, cleanup := setupTcpTestServer(t, "tcp4", "127.0.0.1:0", func(conn net.Conn) {})
	defer cleanup()

	ep, err := uringFactory.Open(NewCandidate(addr))
	require.NoError(t, err)
	defer ep.Close()

	conn, err := ep.Connect()
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, addr.String(), conn.RemoteAddr().String())
	require.NotNil(t, conn.LocalAddr())
	assert.Equal(t, "127.0.0.1", conn.LocalAddr().(*net.TCPAddr).IP.String())
}

func TestCandidate_SyscallSockaddr(t *testing.T) {
	v4 := NewCandidate(&net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 13})
	sa4, ok := v4.syscallSockaddr().(*syscall.SockaddrInet4)
	require.True(t, ok)
	assert.Equal(t, 13, sa4.Port)
	assert.Equal(t, [4]byte{127, 0, 0, 1}, sa4.Addr)

	v6 := NewCandidate(&net.TCPAddr{IP: net.ParseIP("::1"), Port: 7})
	sa6, ok := v6.syscallSockaddr().(*syscall.SockaddrInet6)
	require.True(t, ok)
	assert.Equal(t, 7, sa6.Port)
	assert.Equal(t, net.IPv6loopback, net.IP(sa6.Addr[:]))
}
