package dkim

import (
	"bytes"
	"fmt"
	"slices"
	"strings"
)

// Message is a raw email split into header fields and body, with every
// DKIM-Signature header located. It is immutable once returned by
// Canonicalize.
type Message struct {
	headers    []header
	body       []byte
	candidates []*Candidate
}

// Candidate is one DKIM-Signature header of a message. Each is verified
// independently of the others.
type Candidate struct {
	// Index counts DKIM-Signature headers from the top of the message.
	Index int

	// Signature is nil if the header could not be parsed.
	Signature *Signature

	// Err is the parse error for this header only.
	Err error

	stripped []byte
}

// Canonicalize parses raw and locates its DKIM-Signature headers. Bare LF
// line endings are converted to CRLF first. A malformed signature header
// is reported on its Candidate and does not fail the message; a message
// with no DKIM-Signature header at all returns ErrMissingSignature.
func Canonicalize(raw []byte) (*Message, error) {
	headers, body, err := splitMessage(normalizeLineEndings(raw))
	if err != nil {
		return nil, err
	}
	m := &Message{headers: headers, body: body}
	for _, h := range headers {
		if h.lname != "dkim-signature" {
			continue
		}
		c := &Candidate{Index: len(m.candidates)}
		c.Signature, c.stripped, c.Err = ParseSignature(h.raw)
		m.candidates = append(m.candidates, c)
	}
	if len(m.candidates) == 0 {
		return nil, ErrMissingSignature
	}
	return m, nil
}

// Candidates returns the DKIM-Signature headers in message order.
func (m *Message) Candidates() []*Candidate {
	return append([]*Candidate(nil), m.candidates...)
}

// SignedHeader returns the unfolded value of the name field that c's h=
// tag covers, the bottom-most instance in the message. Fields c does not
// sign are reported as absent, however often they appear.
func (m *Message) SignedHeader(c *Candidate, name string) (string, bool) {
	if c.Signature == nil {
		return "", false
	}
	lname := strings.ToLower(name)
	if !slices.ContainsFunc(c.Signature.SignedHeaders, func(h string) bool { return strings.EqualFold(h, name) }) {
		return "", false
	}
	for i := len(m.headers) - 1; i >= 0; i-- {
		h := m.headers[i]
		if h.lname != lname {
			continue
		}
		_, v, _ := bytes.Cut(h.raw, []byte(":"))
		return strings.TrimSpace(string(bytes.ReplaceAll(v, crlf, nil))), true
	}
	return "", false
}

// Form computes the canonical bytes covered by candidate c. The candidate
// must belong to m and must have parsed.
func (m *Message) Form(c *Candidate) (*CanonicalForm, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	sig := c.Signature
	body := canonicalBody(sig.BodyCanonicalization, m.body)
	if sig.Length >= 0 {
		if sig.Length > int64(len(body)) {
			return nil, fmt.Errorf("%w: l=%d, body is %d bytes", ErrBodyLength, sig.Length, len(body))
		}
		body = body[:sig.Length]
	}
	return &CanonicalForm{
		header:    canonicalHeaders(sig.HeaderCanonicalization, m.headers, sig.SignedHeaders, c.stripped),
		body:      body,
		signature: bytes.Clone(sig.Signature),
	}, nil
}

// CanonicalForm holds the canonical bytes one signature covers. Accessors
// return copies so the form cannot change after creation.
type CanonicalForm struct {
	header    []byte
	body      []byte
	signature []byte
}

// Header returns the canonical signed header fields followed by the
// signature field with an empty b= value.
func (f *CanonicalForm) Header() []byte { return bytes.Clone(f.header) }

// Body returns the canonical body, truncated to l= when present.
func (f *CanonicalForm) Body() []byte { return bytes.Clone(f.body) }

// Signature returns the decoded b= value.
func (f *CanonicalForm) Signature() []byte { return bytes.Clone(f.signature) }
