package dkim

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
	"strings"
	"time"
)

// DefaultSignedHeaders is the header list a Signer signs when none is given.
var DefaultSignedHeaders = []string{
	"From", "To", "Cc", "Subject", "Date", "Message-ID",
	"In-Reply-To", "References", "MIME-Version", "Content-Type",
	"Content-Transfer-Encoding", "Reply-To",
}

// Signer produces DKIM-Signature headers. It exists to build verifiable
// messages in tests and tooling.
type Signer struct {
	Domain   string
	Selector string

	// PrivateKey is an *rsa.PrivateKey or ed25519.PrivateKey.
	PrivateKey crypto.Signer

	// Headers to sign; only names present in the message are used.
	// Default DefaultSignedHeaders.
	Headers []string

	// Default CanonRelaxed for both.
	HeaderCanonicalization Canonicalization
	BodyCanonicalization   Canonicalization

	Identity string

	// Time sets t=. Zero leaves the tag out so output is reproducible.
	Time time.Time

	// Expiration sets x= relative to Time.
	Expiration time.Duration
}

// Sign returns the DKIM-Signature field for message, ending in CRLF, to be
// prepended to the message.
func (s *Signer) Sign(message []byte) (string, error) {
	headers, body, err := splitMessage(normalizeLineEndings(message))
	if err != nil {
		return "", err
	}

	sig := &Signature{
		Version:                1,
		Domain:                 strings.ToLower(s.Domain),
		Selector:               strings.ToLower(s.Selector),
		Identity:               s.Identity,
		HeaderCanonicalization: s.HeaderCanonicalization,
		BodyCanonicalization:   s.BodyCanonicalization,
		Length:                 -1,
		SignTime:               -1,
		ExpireTime:             -1,
	}
	if sig.HeaderCanonicalization == "" {
		sig.HeaderCanonicalization = CanonRelaxed
	}
	if sig.BodyCanonicalization == "" {
		sig.BodyCanonicalization = CanonRelaxed
	}
	switch s.PrivateKey.(type) {
	case *rsa.PrivateKey:
		sig.Algorithm = AlgRSASHA256
	case ed25519.PrivateKey:
		sig.Algorithm = AlgEd25519SHA256
	default:
		return "", fmt.Errorf("%w: %T", ErrUnsupportedAlgorithm, s.PrivateKey)
	}
	if !s.Time.IsZero() {
		sig.SignTime = s.Time.Unix()
		if s.Expiration > 0 {
			sig.ExpireTime = s.Time.Add(s.Expiration).Unix()
		}
	}

	names := s.Headers
	if len(names) == 0 {
		names = DefaultSignedHeaders
	}
	present := make(map[string]bool, len(headers))
	for _, h := range headers {
		present[h.lname] = true
	}
	for _, name := range names {
		if present[strings.ToLower(name)] {
			sig.SignedHeaders = append(sig.SignedHeaders, name)
		}
	}
	if !signsFrom(sig.SignedHeaders) {
		return "", ErrFromRequired
	}

	sig.BodyHash = BodyHash(canonicalBody(sig.BodyCanonicalization, body))

	unsigned := sig.Header(false)
	digest := sha256.Sum256(canonicalHeaders(sig.HeaderCanonicalization, headers, sig.SignedHeaders, []byte(unsigned)))
	switch k := s.PrivateKey.(type) {
	case *rsa.PrivateKey:
		sig.Signature, err = rsa.SignPKCS1v15(rand.Reader, k, crypto.SHA256, digest[:])
		if err != nil {
			return "", fmt.Errorf("signing: %w", err)
		}
	case ed25519.PrivateKey:
		sig.Signature = ed25519.Sign(k, digest[:])
	}
	return sig.Header(true) + "\r\n", nil
}
