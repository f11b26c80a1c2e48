// Package dns provides the TXT lookups behind DKIM key resolution.
//
// Lookups return a Result carrying the records and whether the answer was
// DNSSEC-authenticated. Errors are normalized to the sentinel values below so
// callers can tell a missing record from a transient failure.
package dns

import (
	"context"
	"errors"
)

var (
	ErrDNSNotFound = errors.New("dns: record not found")
	ErrDNSTimeout  = errors.New("dns: query timed out")
	ErrDNSServFail = errors.New("dns: server failure")
	ErrDNSRefused  = errors.New("dns: query refused")
	ErrDNSBogus    = errors.New("dns: DNSSEC validation failed")
)

// Result holds the records of a lookup.
type Result[T any] struct {
	Records []T

	// Authentic is true when the answer was validated with DNSSEC.
	Authentic bool
}

// Resolver looks up TXT records.
type Resolver interface {
	LookupTXT(ctx context.Context, name string) (Result[string], error)
}

// IsNotFound reports whether err means the record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrDNSNotFound)
}

// IsTimeout reports whether err is a query timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrDNSTimeout)
}

// IsServFail reports whether err is a SERVFAIL answer.
func IsServFail(err error) bool {
	return errors.Is(err, ErrDNSServFail)
}

// IsTemporary reports whether retrying the lookup later may succeed.
func IsTemporary(err error) bool {
	return IsTimeout(err) || IsServFail(err) || errors.Is(err, ErrDNSRefused) ||
		errors.Is(err, context.DeadlineExceeded)
}
