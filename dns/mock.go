package dns

import (
	"context"
	"slices"
)

// MockResolver answers TXT lookups from a map, for tests.
// Keys are FQDNs with a trailing dot.
type MockResolver struct {
	TXT map[string][]string

	// Fail lists names that answer with SERVFAIL.
	Fail []string

	// Authentic lists names whose answers are DNSSEC-authenticated.
	Authentic []string

	// Lookups records every name queried, in order. It is only updated when
	// the resolver is used through a pointer.
	Lookups []string
}

var _ Resolver = (*MockResolver)(nil)

// LookupTXT returns the configured records for name.
func (r *MockResolver) LookupTXT(ctx context.Context, name string) (Result[string], error) {
	fqdn := name
	if fqdn == "" || fqdn[len(fqdn)-1] != '.' {
		fqdn += "."
	}
	r.Lookups = append(r.Lookups, fqdn)

	if err := ctx.Err(); err != nil {
		return Result[string]{}, err
	}
	res := Result[string]{Authentic: slices.Contains(r.Authentic, fqdn)}
	if slices.Contains(r.Fail, fqdn) {
		return res, ErrDNSServFail
	}
	records := r.TXT[fqdn]
	if len(records) == 0 {
		return res, ErrDNSNotFound
	}
	res.Records = records
	return res, nil
}
