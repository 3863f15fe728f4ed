package client

import (
	"errors"
	"io"

	"github.com/nczempin/advnet/transport"

	neterrors "github.com/nczempin/advnet/errors"
)

const (
	// DefaultResponseLimit bounds the single response read by Exchange.
	DefaultResponseLimit = 160
	// DefaultReadChunk is the read size used by Copy.
	DefaultReadChunk = 80
)

// Client runs simple request/response exchanges over one connection
type Client struct {
	stream        *transport.Stream
	responseLimit int
}

// Result describes one exchange
type Result struct {
	Written int
	// Short is set when fewer bytes than the message were written.
	Short    bool
	Response []byte
	// Truncated is set when the response filled the limit, so the peer
	// may have sent more than was read.
	Truncated bool
}

// NewClient creates a new Client over conn. A non-positive limit selects
// DefaultResponseLimit.
func NewClient(conn transport.Conn, responseLimit int) *Client {
	if responseLimit <= 0 {
		responseLimit = DefaultResponseLimit
	}
	return &Client{
		stream:        transport.NewStream(conn),
		responseLimit: responseLimit,
	}
}

// ResponseLimit returns the maximum response size Exchange returns
func (c *Client) ResponseLimit() int {
	return c.responseLimit
}

// Close closes the connection
func (c *Client) Close() error {
	return c.stream.Close()
}

// Exchange writes msg once and reads one response chunk of at most
// ResponseLimit bytes. A short write is reported in the result, not
// retried. A peer that closes without answering yields an empty response.
func (c *Client) Exchange(msg []byte) (*Result, error) {
	if len(msg) == 0 {
		return nil, neterrors.NewTransportError(neterrors.InvalidArgument, "empty message", nil)
	}

	n, err := c.stream.Write(msg)
	res := &Result{Written: n, Short: n < len(msg)}
	if err != nil {
		return res, err
	}

	buf := make([]byte, c.responseLimit)
	n, err = c.stream.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return res, err
	}

	res.Response = buf[:n]
	res.Truncated = n == c.responseLimit
	return res, nil
}

// Copy reads from the connection in chunks of at most chunk bytes and
// writes each chunk to dst verbatim until the peer closes the stream.
func (c *Client) Copy(dst io.Writer, chunk int) (int64, error) {
	if chunk <= 0 {
		chunk = DefaultReadChunk
	}

	var total int64
	buf := make([]byte, chunk)
	for {
		n, err := c.stream.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
		}
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}
