// Package connector resolves a host/service pair and connects to the first
// reachable candidate.
//
// Candidates are tried strictly in resolver order, one at a time. A
// candidate whose endpoint cannot be created is skipped; a candidate whose
// connect fails has its endpoint released before the next one is tried.
// The first successful connect ends the walk.
package connector

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/nczempin/advnet/resolver"
	"github.com/nczempin/advnet/transport"

	neterrors "github.com/nczempin/advnet/errors"
)

// Connection is a connected stream bound to the candidate that accepted it.
// The caller owns it and must Close it exactly once.
type Connection struct {
	transport.Conn
	Candidate transport.Candidate
}

// Connector ties a Resolver to an EndpointFactory.
type Connector struct {
	Resolver resolver.Resolver
	Factory  transport.EndpointFactory
	Logger   log.FieldLogger
}

// New returns a Connector. A nil logger logs to the standard logrus logger.
func New(r resolver.Resolver, f transport.EndpointFactory, logger log.FieldLogger) *Connector {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Connector{Resolver: r, Factory: f, Logger: logger}
}

// NewDefault returns a Connector using the system resolver and plain sockets.
func NewDefault(logger log.FieldLogger) *Connector {
	return New(resolver.NewSystemResolver(), transport.NewSocketFactory(), logger)
}

// Connect resolves host and service and returns a connection to the first
// candidate that accepts. It fails with ResolutionFailure when nothing
// resolves and with AllCandidatesFailed when every candidate fails.
func (c *Connector) Connect(ctx context.Context, host, service string) (*Connection, error) {
	candidates, err := c.Resolver.Resolve(ctx, host, service)
	if err != nil {
		if neterrors.IsResolution(err) {
			return nil, err
		}
		return nil, neterrors.NewResolutionError(host, service, err)
	}
	if len(candidates) == 0 {
		return nil, neterrors.NewResolutionError(host, service, nil)
	}

	var lastErr error
	for i := 0; i < len(candidates); i++ {
		logger := c.Logger.WithField("candidate", candidates[i].String())

		conn, err := c.attempt(candidates[i])
		if err != nil {
			logger.WithError(err).Debug("Candidate failed")
			lastErr = err
			continue
		}

		logger.Debug("Connected")
		return &Connection{Conn: conn, Candidate: candidates[i]}, nil
	}

	return nil, neterrors.NewAllCandidatesFailedError(host, service, len(candidates), lastErr)
}

// attempt opens and connects one endpoint. The endpoint is released on
// every path except success, where the descriptor moves to the Conn.
func (c *Connector) attempt(cand transport.Candidate) (conn transport.Conn, err error) {
	ep, err := c.Factory.Open(cand)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			ep.Close()
		}
	}()

	return ep.Connect()
}
