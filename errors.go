package mailproof

import (
	"context"
	"errors"
	"fmt"

	"github.com/synqronlabs/mailproof/dkim"
	"github.com/synqronlabs/mailproof/pattern"
)

var (
	ErrInvalidRequest    = errors.New("mailproof: invalid request")
	ErrDomainNotSigned   = fmt.Errorf("%w for the claimed domain", dkim.ErrMissingSignature)
	ErrSignatureMismatch = fmt.Errorf("%w: signature does not verify", dkim.ErrVerification)
	ErrBodyHashMismatch  = fmt.Errorf("%w: body hash does not match", dkim.ErrVerification)
)

// ErrorKind classifies why a verification did not succeed.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	// KindParse: the message, a signature header, the request or a pattern
	// artifact is malformed.
	KindParse
	// KindKey: key material is malformed, revoked, too weak or does not
	// fit the signature algorithm.
	KindKey
	// KindVerification: a signature, body hash or pattern did not match.
	KindVerification
	// KindResolution: no key could be obtained.
	KindResolution
	// KindCanceled: the context ended before verification finished.
	KindCanceled
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindParse:
		return "parse"
	case KindKey:
		return "key"
	case KindVerification:
		return "verification"
	case KindResolution:
		return "resolution"
	case KindCanceled:
		return "canceled"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// KindOf returns the kind of err. Errors of no known kind are reported as
// KindVerification, so an unexpected error is never mistaken for success.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	case errors.Is(err, dkim.ErrParse),
		errors.Is(err, ErrInvalidRequest),
		errors.Is(err, pattern.ErrArtifact),
		errors.Is(err, pattern.ErrInvalidSpec):
		return KindParse
	case errors.Is(err, dkim.ErrKey):
		return KindKey
	case errors.Is(err, dkim.ErrResolution):
		return KindResolution
	}
	return KindVerification
}
