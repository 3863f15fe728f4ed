package resolver

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
	"github.com/pkg/errors"

	"github.com/nczempin/advnet/transport"

	neterrors "github.com/nczempin/advnet/errors"
)

const resolvConf = "/etc/resolv.conf"

// DNSResolver queries one nameserver directly instead of going through the
// system resolver. Hosts files and search domains are not consulted.
type DNSResolver struct {
	Nameserver string
	// Types are queried in this order and their answers concatenated.
	Types  []uint16
	Client *dns.Client
}

// NewDNSResolver creates a resolver for nameserver ("host" or "host:port").
// An empty nameserver selects the first server in /etc/resolv.conf. order
// lists "ip6" and/or "ip4"; empty means ip6 then ip4.
func NewDNSResolver(nameserver string, order []string) (*DNSResolver, error) {
	if nameserver == "" {
		conf, err := dns.ClientConfigFromFile(resolvConf)
		if err != nil {
			return nil, neterrors.NewTransportError(neterrors.InitFailure, "read "+resolvConf, err)
		}
		if len(conf.Servers) == 0 {
			return nil, neterrors.NewTransportError(neterrors.InitFailure, "no nameserver in "+resolvConf, nil)
		}
		nameserver = net.JoinHostPort(conf.Servers[0], conf.Port)
	} else if _, _, err := net.SplitHostPort(nameserver); err != nil {
		nameserver = net.JoinHostPort(nameserver, "53")
	}

	types, err := parseOrder(order)
	if err != nil {
		return nil, err
	}

	return &DNSResolver{
		Nameserver: nameserver,
		Types:      types,
		Client:     &dns.Client{Net: "udp", Timeout: 5 * time.Second},
	}, nil
}

func parseOrder(order []string) ([]uint16, error) {
	if len(order) == 0 {
		return []uint16{dns.TypeAAAA, dns.TypeA}, nil
	}

	types := make([]uint16, 0, len(order))
	for _, o := range order {
		switch o {
		case "ip6":
			types = append(types, dns.TypeAAAA)
		case "ip4":
			types = append(types, dns.TypeA)
		default:
			return nil, neterrors.NewTransportError(neterrors.InvalidArgument, fmt.Sprintf("unknown address family %q", o), nil)
		}
	}
	return types, nil
}

// Resolve queries every configured record type and returns the address
// records in answer order. A name error for any type fails the lookup.
func (r *DNSResolver) Resolve(ctx context.Context, host, service string) ([]transport.Candidate, error) {
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

	var candidates []transport.Candidate
	var lastErr error
	for _, qtype := range r.Types {
		ips, err := r.query(ctx, host, qtype)
		if err != nil {
			if errors.Cause(err) == errNameError {
				return nil, neterrors.NewResolutionError(host, service, err)
			}
			lastErr = err
			continue
		}
		for _, ip := range ips {
			candidates = append(candidates, transport.NewCandidate(&net.TCPAddr{IP: ip, Port: port}))
		}
	}

	if len(candidates) == 0 {
		return nil, neterrors.NewResolutionError(host, service, lastErr)
	}
	return candidates, nil
}

var errNameError = errors.New("no such host")

func (r *DNSResolver) query(ctx context.Context, host string, qtype uint16) ([]net.IP, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), qtype)
	msg.RecursionDesired = true

	in, _, err := r.Client.ExchangeContext(ctx, msg, r.Nameserver)
	if err != nil {
		return nil, errors.Wrapf(err, "query %s %s", dns.TypeToString[qtype], host)
	}

	switch in.Rcode {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		return nil, errors.WithMessagef(errNameError, "%s", host)
	default:
		return nil, errors.Errorf("query %s %s: %s", dns.TypeToString[qtype], host, dns.RcodeToString[in.Rcode])
	}

	var ips []net.IP
	for _, rr := range in.Answer {
		switch v := rr.(type) {
		case *dns.A:
			if qtype == dns.TypeA {
				ips = append(ips, v.A)
			}
		case *dns.AAAA:
			if qtype == dns.TypeAAAA {
				ips = append(ips, v.AAAA)
			}
		}
	}
	return ips, nil
}
