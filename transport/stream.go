package transport

import (
	"errors"
	"io"
	"syscall"

	neterrors "github.com/nczempin/advnet/errors"
)

// Stream wraps a connected Conn and reports every failure as a
// *neterrors.Error. End of stream is reported as ConnectionClosed.
type Stream struct {
	conn Conn
}

// NewStream creates a new Stream over conn
func NewStream(conn Conn) *Stream {
	return &Stream{conn: conn}
}

// Conn returns the wrapped connection, or nil after Close
func (s *Stream) Conn() Conn {
	return s.conn
}

// Write sends data over the connection
func (s *Stream) Write(buf []byte) (int, error) {
	if s.conn == nil {
		return 0, neterrors.NewTransportError(neterrors.SocketWriteFailure, "not connected", nil)
	}

	n, err := s.conn.Write(buf)
	if err != nil {
		return n, classifyWriteError(err)
	}
	return n, nil
}

// Read receives data from the connection
func (s *Stream) Read(buf []byte) (int, error) {
	if s.conn == nil {
		return 0, neterrors.NewTransportError(neterrors.SocketReadFailure, "not connected", nil)
	}

	n, err := s.conn.Read(buf)
	if err != nil {
		if n > 0 && errors.Is(err, io.EOF) {
			return n, nil
		}
		return n, classifyReadError(err)
	}
	return n, nil
}

// Close closes the connection
func (s *Stream) Close() error {
	if s.conn == nil {
		return nil // Idempotent close
	}

	err := s.conn.Close()
	s.conn = nil

	if err != nil {
		var te *neterrors.Error
		if errors.As(err, &te) {
			return err
		}
		return neterrors.NewTransportError(neterrors.SocketCloseFailure, "", err)
	}
	return nil
}

func classifyWriteError(err error) error {
	var te *neterrors.Error
	if errors.As(err, &te) {
		return err
	}
	// Check for broken pipe or connection reset
	if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
		return neterrors.NewTransportError(neterrors.ConnectionClosed, "write", err)
	}
	return neterrors.NewTransportError(neterrors.SocketWriteFailure, "", err)
}

func classifyReadError(err error) error {
	var te *neterrors.Error
	if errors.As(err, &te) {
		return err
	}
	if errors.Is(err, io.EOF) || errors.Is(err, syscall.ECONNRESET) {
		return neterrors.NewTransportError(neterrors.ConnectionClosed, "read", err)
	}
	return neterrors.NewTransportError(neterrors.SocketReadFailure, "", err)
}

func eofOnEmpty(n int, buf []byte) (int, error) {
	if n == 0 && len(buf) > 0 {
		return 0, io.EOF
	}
	return n, nil
}
