package connector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nczempin/advnet/transport"

	neterrors "github.com/nczempin/advnet/errors"
)

type stubResolver struct {
	candidates []transport.Candidate
	err        error
	calls      int
}

func (r *stubResolver) Resolve(ctx context.Context, host, service string) ([]transport.Candidate, error) {
	r.calls++
	return r.candidates, r.err
}

// behaviour of one stub candidate, keyed by address
type behaviour int

const (
	accept behaviour = iota
	refuse
	noSocket
	poison
)

type stubFactory struct {
	t         *testing.T
	behaviour map[string]behaviour
	opened    []string
	connected []string
	live      map[string]bool
}

func newStubFactory(t *testing.T, b map[string]behaviour) *stubFactory {
	return &stubFactory{t: t, behaviour: b, live: map[string]bool{}}
}

func (f *stubFactory) Open(c transport.Candidate) (transport.Endpoint, error) {
	key := c.Addr.String()
	if f.behaviour[key] == poison {
		f.t.Fatalf("candidate %s must not be attempted", c)
	}
	f.opened = append(f.opened, key)
	if f.behaviour[key] == noSocket {
		return nil, neterrors.NewTransportError(neterrors.SocketCreateFailure, "stub", syscall.EAFNOSUPPORT)
	}
	f.live[key] = true
	return &stubEndpoint{f: f, cand: c}, nil
}

// leaked lists endpoints or connections that were never closed.
func (f *stubFactory) leaked() []string {
	var out []string
	for key, live := range f.live {
		if live {
			out = append(out, key)
		}
	}
	return out
}

type stubEndpoint struct {
	f         *stubFactory
	cand      transport.Candidate
	connected bool
}

func (e *stubEndpoint) Connect() (transport.Conn, error) {
	key := e.cand.Addr.String()
	e.f.connected = append(e.f.connected, key)
	if e.f.behaviour[key] == refuse {
		return nil, neterrors.NewTransportError(neterrors.SocketConnectFailure, "stub", syscall.ECONNREFUSED)
	}
	e.connected = true
	return &stubConn{f: e.f, cand: e.cand}, nil
}

func (e *stubEndpoint) Close() error {
	if !e.connected {
		e.f.live[e.cand.Addr.String()] = false
	}
	return nil
}

type stubConn struct {
	f    *stubFactory
	cand transport.Candidate
}

func (c *stubConn) Read(p []byte) (int, error)  { return 0, io.EOF }
func (c *stubConn) Write(p []byte) (int, error) { return len(p), nil }
func (c *stubConn) LocalAddr() net.Addr         { return nil }
func (c *stubConn) RemoteAddr() net.Addr        { return c.cand.Addr }
func (c *stubConn) Close() error {
	c.f.live[c.cand.Addr.String()] = false
	return nil
}

func candidate(ip string, port int) transport.Candidate {
	return transport.NewCandidate(&net.TCPAddr{IP: net.ParseIP(ip), Port: port})
}

func quietLogger() log.FieldLogger {
	l := log.New()
	l.SetOutput(io.Discard)
	return l
}

func TestConnect_ResolutionFailure(t *testing.T) {
	r := &stubResolver{err: errors.New("no such host")}
	f := newStubFactory(t, nil)

	_, err := New(r, f, quietLogger()).Connect(context.Background(), "nowhere.invalid", "80")

	require.True(t, neterrors.IsResolution(err), "got %v", err)
	assert.Empty(t, f.opened)
	assert.Empty(t, f.leaked())
}

func TestConnect_ZeroCandidates(t *testing.T) {
	r := &stubResolver{}
	f := newStubFactory(t, nil)

	_, err := New(r, f, quietLogger()).Connect(context.Background(), "empty.test", "80")

	require.True(t, neterrors.IsResolution(err), "got %v", err)
	assert.Empty(t, f.opened)
}

func TestConnect_ResolutionErrorPassesThrough(t *testing.T) {
	want := neterrors.NewResolutionError("x", "y", nil)
	r := &stubResolver{err: want}

	_, err := New(r, newStubFactory(t, nil), quietLogger()).Connect(context.Background(), "x", "y")

	assert.Same(t, want, err)
}

func TestConnect_AllCandidatesFail(t *testing.T) {
	r := &stubResolver{candidates: []transport.Candidate{
		candidate("::1", 7),
		candidate("127.0.0.1", 7),
		candidate("127.0.0.2", 7),
	}}
	f := newStubFactory(t, map[string]behaviour{
		"[::1]:7":     refuse,
		"127.0.0.1:7": noSocket,
		"127.0.0.2:7": refuse,
	})

	conn, err := New(r, f, quietLogger()).Connect(context.Background(), "localhost", "7")

	require.Nil(t, conn)
	require.True(t, neterrors.IsAllCandidatesFailed(err), "got %v", err)
	assert.Equal(t, []string{"[::1]:7", "127.0.0.1:7", "127.0.0.2:7"}, f.opened)
	assert.Equal(t, []string{"[::1]:7", "127.0.0.2:7"}, f.connected)
	assert.Empty(t, f.leaked())

	var te *neterrors.Error
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 3, te.Attempts)
	assert.ErrorIs(t, err, syscall.ECONNREFUSED)
	assert.Equal(t, 1, r.calls)
}

func TestConnect_FirstSuccessStops(t *testing.T) {
	r := &stubResolver{candidates: []transport.Candidate{
		candidate("::1", 7),
		candidate("127.0.0.1", 7),
	}}
	f := newStubFactory(t, map[string]behaviour{"[::1]:7": accept, "127.0.0.1:7": poison})

	conn, err := New(r, f, quietLogger()).Connect(context.Background(), "localhost", "7")
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "[::1]:7", conn.Candidate.Addr.String())
	assert.Equal(t, []string{"[::1]:7"}, f.opened)
}

func TestConnect_FallsBackToLaterCandidate(t *testing.T) {
	first := candidate("::1", 7)
	second := candidate("127.0.0.1", 7)
	r := &stubResolver{candidates: []transport.Candidate{first, second}}
	f := newStubFactory(t, map[string]behaviour{"[::1]:7": refuse, "127.0.0.1:7": accept})

	conn, err := New(r, f, quietLogger()).Connect(context.Background(), "localhost", "7")
	require.NoError(t, err)

	assert.Equal(t, second, conn.Candidate)
	assert.Equal(t, second.Addr, conn.RemoteAddr())
	assert.False(t, f.live["[::1]:7"], "refused endpoint must be released")
	assert.True(t, f.live["127.0.0.1:7"])

	require.NoError(t, conn.Close())
	assert.Empty(t, f.leaked())
}

func TestConnect_SkipsEndpointCreationFailure(t *testing.T) {
	r := &stubResolver{candidates: []transport.Candidate{
		candidate("::1", 7),
		candidate("127.0.0.1", 7),
	}}
	f := newStubFactory(t, map[string]behaviour{"[::1]:7": noSocket, "127.0.0.1:7": accept})

	conn, err := New(r, f, quietLogger()).Connect(context.Background(), "localhost", "7")
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "127.0.0.1:7", conn.Candidate.Addr.String())
	assert.Equal(t, []string{"127.0.0.1:7"}, f.connected)
}

// Refused candidate followed by a live listener, with real sockets.
func TestConnect_RealSockets(t *testing.T) {
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	live := listener.Addr().(*net.TCPAddr)

	closed, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	dead := closed.Addr().(*net.TCPAddr)
	closed.Close()

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		fmt.Fprint(conn, "hello")
		conn.Close()
	}()

	r := &stubResolver{candidates: []transport.Candidate{transport.NewCandidate(dead), transport.NewCandidate(live)}}
	conn, err := New(r, transport.NewSocketFactory(), quietLogger()).Connect(context.Background(), "localhost", "7")
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, live.String(), conn.RemoteAddr().String())
	got, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestNewDefault_Literal(t *testing.T) {
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	go func() {
		if conn, err := listener.Accept(); err == nil {
			conn.Close()
		}
	}()

	port := fmt.Sprint(listener.Addr().(*net.TCPAddr).Port)
	conn, err := NewDefault(quietLogger()).Connect(context.Background(), "127.0.0.1", port)
	require.NoError(t, err)
	conn.Close()
}
