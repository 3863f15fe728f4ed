// Package resolver turns a (host, service) pair into the ordered list of
// stream candidates the connector walks through.
package resolver

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"github.com/nczempin/advnet/transport"

	neterrors "github.com/nczempin/advnet/errors"
)

// Resolver resolves host and service into stream candidates. The returned
// order is the order the candidates must be tried in.
type Resolver interface {
	Resolve(ctx context.Context, host, service string) ([]transport.Candidate, error)
}

const (
	ModeSystem = "system"
	ModeDNS    = "dns"
)

// New returns the resolver for mode. nameserver and order only apply to ModeDNS.
func New(mode, nameserver string, order []string) (Resolver, error) {
	switch mode {
	case "", ModeSystem:
		return NewSystemResolver(), nil
	case ModeDNS:
		r, err := NewDNSResolver(nameserver, order)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, neterrors.NewTransportError(neterrors.InvalidArgument, fmt.Sprintf("unknown resolve mode %q", mode), nil)
	}
}

// LookupPort maps a numeric port or a tcp service name to a port number.
func LookupPort(ctx context.Context, service string) (int, error) {
	if n, err := strconv.ParseUint(service, 10, 16); err == nil {
		return int(n), nil
	}
	return net.DefaultResolver.LookupPort(ctx, "tcp", service)
}

// literal returns the single candidate for a numeric host, if host is one.
func literal(host string, port int) (transport.Candidate, bool) {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return transport.Candidate{}, false
	}
	return transport.NewCandidate(net.TCPAddrFromAddrPort(netip.AddrPortFrom(addr.Unmap(), uint16(port)))), true
}

func checkInput(host, service string) error {
	if host == "" || service == "" {
		return neterrors.NewResolutionError(host, service,
			neterrors.NewTransportError(neterrors.InvalidArgument, "host and service must be non-empty", nil))
	}
	return nil
}

// SystemResolver uses the operating system's resolver.
type SystemResolver struct {
	r *net.Resolver
}

func NewSystemResolver() *SystemResolver {
	return &SystemResolver{r: net.DefaultResolver}
}

// Resolve looks up host and service. Addresses keep the resolver's order.
func (s *SystemResolver) Resolve(ctx context.Context, host, service string) ([]transport.Candidate, error) {
	if err := checkInput(host, service); err != nil {
		return nil, err
	}

	port, err := LookupPort(ctx, service)
	if err != nil {
		return nil, neterrors.NewResolutionError(host, service, err)
	}

	if c, ok := literal(host, port); ok {
		return []transport.Candidate{c}, nil
	}

	addrs, err := s.r.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, neterrors.NewResolutionError(host, service, err)
	}

	candidates := make([]transport.Candidate, 0, len(addrs))
	for _, a := range addrs {
		candidates = append(candidates, transport.NewCandidate(&net.TCPAddr{IP: a.IP, Port: port, Zone: a.Zone}))
	}
	if len(candidates) == 0 {
		return nil, neterrors.NewResolutionError(host, service, nil)
	}
	return candidates, nil
}
