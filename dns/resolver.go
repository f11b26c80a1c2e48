package dns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	mdns "github.com/miekg/dns"
)

// ResolverConfig configures a DNSResolver.
type ResolverConfig struct {
	// Nameservers to query, as host:port. Empty means the servers from
	// /etc/resolv.conf, or public resolvers when that cannot be read.
	Nameservers []string

	// DNSSEC sets the DO bit and reports the AD flag of answers in
	// Result.Authentic. The upstream resolver must validate.
	DNSSEC bool

	// Timeout per query. Default 5 seconds.
	Timeout time.Duration

	// Retries over the full nameserver list. Default 2.
	Retries int

	// Logger receives one debug record per failed exchange. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// DNSResolver queries nameservers directly with github.com/miekg/dns.
// Unlike StdResolver it can report DNSSEC-authenticated answers, which the
// DKIM key resolver surfaces to callers.
type DNSResolver struct {
	config ResolverConfig
	client *mdns.Client
}

var _ Resolver = (*DNSResolver)(nil)

// NewResolver returns a DNSResolver with defaults applied to config.
func NewResolver(config ResolverConfig) *DNSResolver {
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}
	if config.Retries == 0 {
		config.Retries = 2
	}
	if len(config.Nameservers) == 0 {
		config.Nameservers = systemNameservers()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &DNSResolver{
		config: config,
		client: &mdns.Client{Timeout: config.Timeout},
	}
}

func systemNameservers() []string {
	cc, err := mdns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(cc.Servers) == 0 {
		return []string{"8.8.8.8:53", "1.1.1.1:53"}
	}
	servers := make([]string, 0, len(cc.Servers))
	for _, s := range cc.Servers {
		servers = append(servers, net.JoinHostPort(s, cc.Port))
	}
	return servers
}

// exchange sends the question to each nameserver in turn until one gives a
// definitive answer. NXDOMAIN is definitive; SERVFAIL and REFUSED are not.
func (r *DNSResolver) exchange(ctx context.Context, name string, qtype uint16) (*mdns.Msg, bool, error) {
	m := new(mdns.Msg)
	m.SetQuestion(mdns.Fqdn(name), qtype)
	m.RecursionDesired = true
	if r.config.DNSSEC {
		m.SetEdns0(4096, true)
	}

	lastErr := ErrDNSServFail
	for range r.config.Retries + 1 {
		for _, server := range r.config.Nameservers {
			if err := ctx.Err(); err != nil {
				return nil, false, err
			}

			resp, _, err := r.client.ExchangeContext(ctx, m, server)
			if err != nil {
				var nerr net.Error
				if errors.As(err, &nerr) && nerr.Timeout() {
					lastErr = ErrDNSTimeout
				} else {
					lastErr = fmt.Errorf("%w: %v", ErrDNSServFail, err)
				}
				r.config.Logger.Debug("dns exchange failed",
					slog.String("name", name),
					slog.String("server", server),
					slog.Any("error", err))
				continue
			}

			authentic := r.config.DNSSEC && resp.AuthenticatedData
			switch resp.Rcode {
			case mdns.RcodeSuccess:
				return resp, authentic, nil
			case mdns.RcodeNameError:
				return nil, authentic, ErrDNSNotFound
			case mdns.RcodeServerFailure:
				if r.config.DNSSEC {
					lastErr = ErrDNSBogus
				} else {
					lastErr = ErrDNSServFail
				}
			case mdns.RcodeRefused:
				lastErr = ErrDNSRefused
			default:
				lastErr = fmt.Errorf("%w: rcode %s", ErrDNSServFail, mdns.RcodeToString[resp.Rcode])
			}
			r.config.Logger.Debug("dns answer not usable, trying next server",
				slog.String("name", name),
				slog.String("server", server),
				slog.String("rcode", mdns.RcodeToString[resp.Rcode]))
		}
	}
	return nil, false, lastErr
}

// LookupTXT returns the TXT records at name. Multi-string records are
// joined, as a DKIM key record is usually longer than one string.
func (r *DNSResolver) LookupTXT(ctx context.Context, name string) (Result[string], error) {
	resp, authentic, err := r.exchange(ctx, name, mdns.TypeTXT)
	if err != nil {
		return Result[string]{Authentic: authentic}, err
	}

	var records []string
	for _, rr := range resp.Answer {
		if txt, ok := rr.(*mdns.TXT); ok {
			records = append(records, strings.Join(txt.Txt, ""))
		}
	}
	if len(records) == 0 {
		return Result[string]{Authentic: authentic}, ErrDNSNotFound
	}
	return Result[string]{Records: records, Authentic: authentic}, nil
}

// Config returns the resolver configuration after defaults.
func (r *DNSResolver) Config() ResolverConfig {
	return r.config
}
