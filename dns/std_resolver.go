package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// StdResolver looks up records with the net package. Answers are never
// reported as authentic.
type StdResolver struct {
	resolver *net.Resolver
}

var _ Resolver = (*StdResolver)(nil)

// NewStdResolver returns a resolver backed by net.DefaultResolver.
func NewStdResolver() *StdResolver {
	return &StdResolver{resolver: net.DefaultResolver}
}

// NewStdResolverWithDialer returns a resolver that reaches its nameserver
// through dial.
func NewStdResolverWithDialer(dial func(ctx context.Context, network, address string) (net.Conn, error)) *StdResolver {
	return &StdResolver{
		resolver: &net.Resolver{PreferGo: true, Dial: dial},
	}
}

// LookupTXT returns the TXT records at name.
func (r *StdResolver) LookupTXT(ctx context.Context, name string) (Result[string], error) {
	records, err := r.resolver.LookupTXT(ctx, strings.TrimSuffix(name, "."))
	if err != nil {
		return Result[string]{}, convertError(err)
	}
	if len(records) == 0 {
		return Result[string]{}, ErrDNSNotFound
	}
	return Result[string]{Records: records}, nil
}

func convertError(err error) error {
	var dnsErr *net.DNSError
	if !errors.As(err, &dnsErr) {
		return fmt.Errorf("dns: lookup failed: %w", err)
	}
	switch {
	case dnsErr.IsNotFound:
		return ErrDNSNotFound
	case dnsErr.IsTimeout:
		return ErrDNSTimeout
	case dnsErr.IsTemporary:
		return ErrDNSServFail
	}
	return fmt.Errorf("dns: lookup failed: %w", err)
}
