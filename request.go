package mailproof

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/synqronlabs/mailproof/dkim"
	"github.com/synqronlabs/mailproof/pattern"
)

// Request is one verification. Buffers are read, never modified.
type Request struct {
	// FromDomain is the claimed signing domain. The first DKIM-Signature
	// whose d= equals it, ignoring case, is tried first.
	FromDomain string

	RawEmail []byte

	// PublicKey is the verification key. When nil the key is resolved with
	// Verifier.Keys from the selector and domain of each candidate.
	PublicKey *dkim.PublicKey

	// ExternalInputs are caller facts copied into the output unchanged.
	ExternalInputs []ExternalInput

	// AttachmentText is the target of attachment patterns.
	AttachmentText []byte

	// Patterns selects the DKIM+pattern flow. A nil or empty set runs the
	// DKIM-only flow.
	Patterns *pattern.Set
}

// ExternalInput is an opaque named value with a declared maximum length in
// bytes.
type ExternalInput struct {
	Name      string
	Value     string
	MaxLength int
}

func (r *Request) validate() error {
	if strings.TrimSpace(r.FromDomain) == "" {
		return fmt.Errorf("%w: empty from domain", ErrInvalidRequest)
	}
	if len(r.RawEmail) == 0 {
		return fmt.Errorf("%w: empty email", ErrInvalidRequest)
	}
	for i, in := range r.ExternalInputs {
		if in.MaxLength < 0 {
			return fmt.Errorf("%w: external input %d (%q): negative max length", ErrInvalidRequest, i, in.Name)
		}
		if len(in.Value) > in.MaxLength {
			return fmt.Errorf("%w: external input %d (%q) is %d bytes, max %d",
				ErrInvalidRequest, i, in.Name, len(in.Value), in.MaxLength)
		}
	}
	return nil
}

func (r *Request) flow() string {
	if r.Patterns.Len() > 0 {
		return "dkim_pattern"
	}
	return "dkim"
}

// Output is the externally observable result of a verification.
type Output struct {
	// DomainHash is SHA-256 of the claimed domain exactly as given.
	DomainHash [32]byte

	// KeyHash is SHA-256 of the key bytes used. It is zero if no key was
	// obtained.
	KeyHash [32]byte

	// MatchedLiterals holds the captures of the pattern set in order:
	// header, body, attachment. It is nil unless Verified.
	MatchedLiterals []string

	// ExternalInputs holds the request's external inputs flattened as
	// name, value pairs.
	ExternalInputs []string

	Verified bool
}

func newOutput(req *Request) Output {
	out := Output{DomainHash: DomainHash(req.FromDomain)}
	if req.PublicKey != nil {
		out.KeyHash = KeyHash(req.PublicKey.Data)
	}
	for _, in := range req.ExternalInputs {
		out.ExternalInputs = append(out.ExternalInputs, in.Name, in.Value)
	}
	return out
}

// DomainHash returns the domain hash of an output.
func DomainHash(domain string) [32]byte {
	return sha256.Sum256([]byte(domain))
}

// KeyHash returns the key hash of an output.
func KeyHash(key []byte) [32]byte {
	return sha256.Sum256(key)
}

// Attempt records one signature candidate that was tried.
type Attempt struct {
	// Index counts DKIM-Signature headers from the top of the message.
	Index int

	dkim.Result
}

// Result is the outcome of Verify.
type Result struct {
	Output Output

	// ID identifies the attempt in logs.
	ID ulid.ULID

	// Signature is the candidate that verified, nil otherwise.
	Signature *dkim.Signature

	// Attempts lists the candidates signed by the claimed domain in the
	// order they were tried. Candidates whose header did not parse are
	// listed too.
	Attempts []Attempt

	// Patterns is the pattern report of the DKIM+pattern flow.
	Patterns *pattern.Report

	// Cached reports that Output was served from the result cache. Only
	// Output and ID are set then.
	Cached bool

	// Err explains why Output.Verified is false.
	Err error
}

// Kind returns the kind of r.Err.
func (r *Result) Kind() ErrorKind {
	return KindOf(r.Err)
}
