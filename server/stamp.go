package server

import (
	"time"

	"github.com/lestrrat-go/strftime"
	"github.com/pkg/errors"
)

// DefaultStampFormat renders like ctime(3): "Mon Jan  2 15:04:05 2006".
const DefaultStampFormat = "%a %b %e %H:%M:%S %Y"

// stampWidth is the number of timestamp bytes sent before CRLF.
const stampWidth = 24

// Stamper renders the daytime line sent to each client.
type Stamper struct {
	format *strftime.Strftime
	// Now returns the time to render; time.Now when nil.
	Now func() time.Time
}

func NewStamper(pattern string) (*Stamper, error) {
	if pattern == "" {
		pattern = DefaultStampFormat
	}
	f, err := strftime.New(pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "daytime format %q", pattern)
	}
	return &Stamper{format: f}, nil
}

// Stamp returns at most 24 bytes of the formatted time followed by "\r\n".
func (s *Stamper) Stamp() string {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	line := s.format.FormatString(now())
	if len(line) > stampWidth {
		line = line[:stampWidth]
	}
	return line + "\r\n"
}
