// Package server runs iterative TCP servers: one connection is accepted,
// handled and closed before the next is accepted.
package server

import (
	"context"
	"errors"
	"io"
	"net"

	log "github.com/sirupsen/logrus"

	"github.com/nczempin/advnet/transport"

	neterrors "github.com/nczempin/advnet/errors"
)

// Handler serves one accepted connection. The server closes the connection
// after Handle returns.
type Handler interface {
	Handle(s *transport.Stream, logger log.FieldLogger) error
}

type HandlerFunc func(s *transport.Stream, logger log.FieldLogger) error

func (f HandlerFunc) Handle(s *transport.Stream, logger log.FieldLogger) error {
	return f(s, logger)
}

type Server struct {
	Listener net.Listener
	Handler  Handler
	Logger   log.FieldLogger
}

func New(ln net.Listener, h Handler, logger log.FieldLogger) *Server {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Server{Listener: ln, Handler: h, Logger: logger}
}

// Serve accepts connections until ctx is done or an error occurs. A peer
// that goes away mid-exchange is logged and does not stop the server. Serve
// closes the listener before returning and returns nil only when ctx ended.
func (s *Server) Serve(ctx context.Context) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			s.Listener.Close()
		case <-stop:
		}
	}()
	defer s.Listener.Close()

	for {
		conn, err := s.Listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return neterrors.NewTransportError(neterrors.SocketReadFailure, "accept", err)
		}

		if err = s.serveConn(conn); err != nil {
			if neterrors.Is(err, neterrors.ConnectionClosed) {
				s.Logger.WithError(err).Warn("client went away")
				continue
			}
			return err
		}
	}
}

func (s *Server) serveConn(conn net.Conn) error {
	stream := transport.NewStream(conn)
	defer stream.Close()

	logger := s.Logger
	if addr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		logger.Infof("connection from %s, port %d", addr.IP, addr.Port)
		logger = logger.WithField("peer", addr.String())
	}

	return s.Handler.Handle(stream, logger)
}

// DaytimeHandler writes one timestamp line.
type DaytimeHandler struct {
	Stamper *Stamper
}

func (h *DaytimeHandler) Handle(s *transport.Stream, logger log.FieldLogger) error {
	line := h.Stamper.Stamp()
	n, err := s.Write([]byte(line))
	if err != nil {
		return err
	}
	if n < len(line) {
		logger.Warnf("Wrote %d of %d bytes", n, len(line))
	}
	return nil
}

// DefaultEchoBuffer bounds the single read of EchoHandler.
const DefaultEchoBuffer = 160

// EchoHandler reads at most Buffer bytes once and writes them back.
type EchoHandler struct {
	Buffer int
}

func (h *EchoHandler) Handle(s *transport.Stream, logger log.FieldLogger) error {
	size := h.Buffer
	if size <= 0 {
		size = DefaultEchoBuffer
	}

	buf := make([]byte, size)
	n, err := s.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	written, err := s.Write(buf[:n])
	if err != nil {
		return err
	}
	logger.Infof("Wrote %d bytes", written)
	return nil
}
