package transport

import (
	"fmt"
	"io"

	neterrors "github.com/nczempin/advnet/errors"
)

const (
	BackendSocket = "socket"
	BackendUring  = "uring"
	BackendRing   = "ring"
)

// NewFactory returns the EndpointFactory for backend. entries is the queue
// depth of the io_uring backends and is ignored by the socket backend.
// Release the factory with CloseFactory.
func NewFactory(backend string, entries uint32) (EndpointFactory, error) {
	switch backend {
	case "", BackendSocket:
		return NewSocketFactory(), nil
	case BackendUring:
		f, err := NewUringFactory(uint(entries))
		if err != nil {
			return nil, err
		}
		return f, nil
	case BackendRing:
		return NewRingFactory(entries), nil
	default:
		return nil, neterrors.NewTransportError(neterrors.InvalidArgument, fmt.Sprintf("unknown backend %q", backend), nil)
	}
}

// CloseFactory releases resources held by f, if any.
func CloseFactory(f EndpointFactory) error {
	if c, ok := f.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
