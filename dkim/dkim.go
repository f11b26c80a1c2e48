// Package dkim verifies DomainKeys Identified Mail signatures (RFC 6376)
// and exposes the canonical bytes each signature covers.
//
// Verification is split into steps so a caller can decide which signature
// to trust and what to do with the signed bytes afterwards:
//
//	msg, err := dkim.Canonicalize(raw)
//	for _, c := range msg.Candidates() {
//	    form, err := msg.Form(c)
//	    ok, err := dkim.VerifySignature(key, c.Signature, form)
//	    ok = dkim.VerifyBodyHash(c.Signature.BodyHash, form.Body())
//	}
//
// Supported algorithms are rsa-sha256 and ed25519-sha256 (RFC 8463).
// Both simple and relaxed canonicalization are implemented.
package dkim

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"
)

// Status is the outcome of checking one DKIM-Signature (RFC 8601).
type Status string

const (
	StatusNone      Status = "none"
	StatusPass      Status = "pass"
	StatusFail      Status = "fail"
	StatusTemperror Status = "temperror"
	StatusPermerror Status = "permerror"
)

// Algorithm is the a= tag of a signature.
type Algorithm string

const (
	AlgRSASHA256     Algorithm = "rsa-sha256"
	AlgEd25519SHA256 Algorithm = "ed25519-sha256"

	// AlgRSASHA1 is recognized so it can be rejected with a precise error.
	AlgRSASHA1 Algorithm = "rsa-sha1"
)

// KeyType returns the key type the algorithm signs with. The boolean is
// false for algorithms this package does not verify.
func (a Algorithm) KeyType() (KeyType, bool) {
	switch a {
	case AlgRSASHA256:
		return KeyTypeRSA, true
	case AlgEd25519SHA256:
		return KeyTypeEd25519, true
	}
	return "", false
}

// KeyType is the k= tag of a key record.
type KeyType string

const (
	KeyTypeRSA     KeyType = "rsa"
	KeyTypeEd25519 KeyType = "ed25519"
)

// ParseKeyType parses a key type name. An empty name means rsa, the
// default of the k= tag.
func ParseKeyType(s string) (KeyType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "rsa":
		return KeyTypeRSA, nil
	case "ed25519":
		return KeyTypeEd25519, nil
	}
	return "", fmt.Errorf("%w: key type %q", ErrUnsupportedAlgorithm, s)
}

// Canonicalization is a header or body canonicalization algorithm.
type Canonicalization string

const (
	CanonSimple  Canonicalization = "simple"
	CanonRelaxed Canonicalization = "relaxed"
)

// Error categories. Every error returned by this package wraps exactly one.
var (
	// ErrParse marks a malformed message or header.
	ErrParse = errors.New("dkim: parse error")

	// ErrKey marks malformed or unsupported key material.
	ErrKey = errors.New("dkim: key error")

	// ErrVerification marks a signature that cannot be checked as encoded.
	ErrVerification = errors.New("dkim: verification failure")

	// ErrResolution marks a key lookup that failed.
	ErrResolution = errors.New("dkim: key resolution failed")
)

var (
	ErrMissingSignature        = fmt.Errorf("%w: no DKIM-Signature header", ErrParse)
	ErrHeaderMalformed         = fmt.Errorf("%w: mail header is malformed", ErrParse)
	ErrTagSyntax               = fmt.Errorf("%w: malformed tag list", ErrParse)
	ErrMissingTag              = fmt.Errorf("%w: missing required tag", ErrParse)
	ErrDuplicateTag            = fmt.Errorf("%w: duplicate tag", ErrParse)
	ErrInvalidVersion          = fmt.Errorf("%w: invalid version", ErrParse)
	ErrCanonicalizationUnknown = fmt.Errorf("%w: unknown canonicalization", ErrParse)
	ErrFromRequired            = fmt.Errorf("%w: From header is not signed", ErrParse)
	ErrDomainIdentityMismatch  = fmt.Errorf("%w: identity is not within signing domain", ErrParse)
	ErrTLD                     = fmt.Errorf("%w: signing domain is a public suffix", ErrParse)
	ErrQueryMethod             = fmt.Errorf("%w: no recognized query method", ErrParse)
	ErrBodyHashLength          = fmt.Errorf("%w: body hash length mismatch", ErrParse)
	ErrBodyLength              = fmt.Errorf("%w: body length tag exceeds body", ErrParse)

	ErrUnsupportedAlgorithm = fmt.Errorf("%w: unsupported algorithm", ErrKey)
	ErrKeyTypeMismatch      = fmt.Errorf("%w: key type does not match signature algorithm", ErrKey)
	ErrMalformedKey         = fmt.Errorf("%w: malformed public key", ErrKey)
	ErrWeakKey              = fmt.Errorf("%w: key is too weak", ErrKey)
	ErrKeyRevoked           = fmt.Errorf("%w: key has been revoked", ErrKey)
	ErrRecordSyntax         = fmt.Errorf("%w: syntax error in key record", ErrKey)

	ErrSignatureEncoding = fmt.Errorf("%w: malformed signature encoding", ErrVerification)
	ErrSigExpired        = fmt.Errorf("%w: signature has expired", ErrVerification)

	ErrKeyNotFound     = fmt.Errorf("%w: key not found", ErrResolution)
	ErrMultipleRecords = fmt.Errorf("%w: multiple key records", ErrResolution)
)

// PublicKey is verification key material as carried in a request or
// published in a key record. For rsa, Data is PKCS#1 or PKIX DER; for
// ed25519 it is the 32 raw key bytes.
type PublicKey struct {
	Type KeyType
	Data []byte

	// Authentic is set by resolvers that obtained the key over DNSSEC.
	Authentic bool
}

// Parse decodes the key material.
func (k PublicKey) Parse() (crypto.PublicKey, error) {
	switch k.Type {
	case KeyTypeRSA:
		if pk, err := x509.ParsePKCS1PublicKey(k.Data); err == nil {
			return pk, nil
		}
		pk, err := x509.ParsePKIXPublicKey(k.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedKey, err)
		}
		rsaKey, ok := pk.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: expected RSA key, got %T", ErrMalformedKey, pk)
		}
		return rsaKey, nil
	case KeyTypeEd25519:
		if len(k.Data) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("%w: ed25519 key is %d bytes", ErrMalformedKey, len(k.Data))
		}
		return ed25519.PublicKey(k.Data), nil
	}
	return nil, fmt.Errorf("%w: key type %q", ErrUnsupportedAlgorithm, k.Type)
}

// Result is the outcome of checking one candidate signature.
type Result struct {
	Status Status

	// Signature is nil when the header could not be parsed.
	Signature *Signature

	// Err explains a status other than pass.
	Err error
}

// StatusOf maps an error from this package to the status it implies.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusPass
	case errors.Is(err, ErrMultipleRecords), IsTemporaryError(err):
		return StatusTemperror
	case errors.Is(err, ErrParse), errors.Is(err, ErrKey), errors.Is(err, ErrResolution):
		return StatusPermerror
	}
	return StatusFail
}
