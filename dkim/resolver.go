package dkim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/synqronlabs/mailproof/dns"
)

// KeyResolver fetches the public key for a selector and signing domain.
// Implementations return an error wrapping ErrKeyNotFound when no key
// exists, whatever their lookup strategy.
type KeyResolver interface {
	ResolveKey(ctx context.Context, selector, domain string) (PublicKey, error)
}

// KeyResolverFunc adapts a function to KeyResolver.
type KeyResolverFunc func(ctx context.Context, selector, domain string) (PublicKey, error)

func (f KeyResolverFunc) ResolveKey(ctx context.Context, selector, domain string) (PublicKey, error) {
	return f(ctx, selector, domain)
}

// DNSKeyResolver looks keys up in DNS TXT records.
type DNSKeyResolver struct {
	Resolver dns.Resolver

	// Service is the service the key must allow. Default "email".
	Service string
}

var _ KeyResolver = (*DNSKeyResolver)(nil)

// RecordName returns the DNS name of a key record.
func RecordName(selector, domain string) string {
	return selector + "._domainkey." + strings.TrimSuffix(domain, ".") + "."
}

// ResolveKey fetches and parses the key record. RSA keys are returned as
// PKCS#1 DER regardless of how the record encodes them.
func (r *DNSKeyResolver) ResolveKey(ctx context.Context, selector, domain string) (PublicKey, error) {
	name := RecordName(selector, domain)
	res, err := r.Resolver.LookupTXT(ctx, name)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return PublicKey{}, ctxErr
		}
		if dns.IsNotFound(err) {
			return PublicKey{}, fmt.Errorf("%w: %s", ErrKeyNotFound, name)
		}
		return PublicKey{}, fmt.Errorf("%w: %s: %w", ErrResolution, name, err)
	}

	var rec *Record
	for _, txt := range res.Records {
		parsed, isDKIM, err := ParseRecord(txt)
		if err != nil {
			if isDKIM {
				return PublicKey{}, err
			}
			continue
		}
		if rec != nil {
			return PublicKey{}, fmt.Errorf("%w: %s", ErrMultipleRecords, name)
		}
		rec = parsed
	}
	if rec == nil {
		return PublicKey{}, fmt.Errorf("%w: no DKIM record at %s", ErrKeyNotFound, name)
	}

	service := r.Service
	if service == "" {
		service = "email"
	}
	if !rec.ServiceAllowed(service) {
		return PublicKey{}, fmt.Errorf("%w: key not for %s", ErrKeyNotFound, service)
	}
	if !rec.HashAllowed("sha256") {
		return PublicKey{}, fmt.Errorf("%w: record does not allow sha256", ErrUnsupportedAlgorithm)
	}

	key, err := rec.PublicKey()
	if err != nil {
		return PublicKey{}, err
	}
	key.Authentic = res.Authentic
	return key, nil
}

// StaticKeyResolver serves keys from a map keyed by RecordName, for
// archived keys and tests.
type StaticKeyResolver map[string]PublicKey

// ResolveKey returns the stored key.
func (s StaticKeyResolver) ResolveKey(ctx context.Context, selector, domain string) (PublicKey, error) {
	if err := ctx.Err(); err != nil {
		return PublicKey{}, err
	}
	name := RecordName(strings.ToLower(selector), strings.ToLower(domain))
	key, ok := s[name]
	if !ok {
		return PublicKey{}, fmt.Errorf("%w: %s", ErrKeyNotFound, name)
	}
	key.Data = append([]byte(nil), key.Data...)
	return key, nil
}

// ChainKeyResolver tries each resolver in order and returns the first key
// found. Only not-found and transient failures move on to the next
// resolver; a malformed key is returned as is. When every resolver fails
// the error wraps ErrKeyNotFound.
type ChainKeyResolver struct {
	Resolvers []KeyResolver
	Logger    *slog.Logger
}

// ResolveKey walks the chain.
func (c *ChainKeyResolver) ResolveKey(ctx context.Context, selector, domain string) (PublicKey, error) {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var errs []error
	for i, r := range c.Resolvers {
		key, err := r.ResolveKey(ctx, selector, domain)
		if err == nil {
			return key, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return PublicKey{}, ctxErr
		}
		if errors.Is(err, ErrKey) {
			return PublicKey{}, err
		}
		logger.Debug("key resolver failed, trying next",
			slog.Int("resolver", i),
			slog.String("selector", selector),
			slog.String("domain", domain),
			slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return PublicKey{}, fmt.Errorf("%w: no resolvers", ErrKeyNotFound)
	}
	return PublicKey{}, fmt.Errorf("%w: %s: %w", ErrKeyNotFound, RecordName(selector, domain), errors.Join(errs...))
}

// IsTemporaryError reports whether err comes from a lookup that may
// succeed if retried.
func IsTemporaryError(err error) bool {
	return dns.IsTemporary(err)
}
