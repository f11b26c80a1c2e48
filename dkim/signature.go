package dkim

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Fields maps the tag names of a tag=value list (RFC 6376 Section 3.2) to
// their values with surrounding whitespace removed.
type Fields map[string]string

// ParseFields parses a tag=value list.
func ParseFields(s string) (Fields, error) {
	f := Fields{}
	for part := range strings.SplitSeq(s, ";") {
		if strings.Trim(part, " \t\r\n") == "" {
			continue
		}
		tag, value, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("%w: %q has no value", ErrTagSyntax, trimFWS(part))
		}
		tag = trimFWS(tag)
		if !validTagName(tag) {
			return nil, fmt.Errorf("%w: invalid tag name %q", ErrTagSyntax, tag)
		}
		if _, dup := f[tag]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTag, tag)
		}
		f[tag] = trimFWS(value)
	}
	return f, nil
}

func trimFWS(s string) string {
	return strings.Trim(s, " \t\r\n")
}

func validTagName(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range []byte(s) {
		alpha := c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
		if i == 0 && !alpha {
			return false
		}
		if !alpha && !(c >= '0' && c <= '9') && c != '_' {
			return false
		}
	}
	return true
}

// removeFWS drops all whitespace, as allowed inside base64 tag values.
func removeFWS(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, s)
}

// Signature is a parsed DKIM-Signature header (RFC 6376 Section 3.5).
type Signature struct {
	Version       int
	Algorithm     Algorithm
	Signature     []byte // b=, decoded
	BodyHash      string // bh=, whitespace and surrounding quotes removed
	Domain        string
	Selector      string
	SignedHeaders []string

	HeaderCanonicalization Canonicalization
	BodyCanonicalization   Canonicalization

	Identity     string
	QueryMethods []string
	Length       int64 // -1 if absent
	SignTime     int64 // -1 if absent
	ExpireTime   int64 // -1 if absent

	// Fields holds every tag of the header, including unknown ones.
	Fields Fields
}

// ParseSignature parses a complete DKIM-Signature header field, name
// included. It also returns the field with the value of the b= tag removed,
// which is what the signature itself covers.
func ParseSignature(field []byte) (*Signature, []byte, error) {
	field = bytes.TrimSuffix(field, []byte("\r\n"))
	name, value, ok := bytes.Cut(field, []byte(":"))
	if !ok || !strings.EqualFold(strings.TrimRight(string(name), " \t"), "dkim-signature") {
		return nil, nil, fmt.Errorf("%w: not a DKIM-Signature header", ErrHeaderMalformed)
	}

	fields, err := ParseFields(string(value))
	if err != nil {
		return nil, nil, err
	}
	for _, tag := range []string{"v", "a", "b", "bh", "d", "h", "s"} {
		if _, ok := fields[tag]; !ok {
			return nil, nil, fmt.Errorf("%w: %s", ErrMissingTag, tag)
		}
	}

	sig := &Signature{
		Algorithm:              Algorithm(strings.ToLower(fields["a"])),
		Domain:                 strings.ToLower(strings.TrimSuffix(fields["d"], ".")),
		Selector:               strings.ToLower(fields["s"]),
		Identity:               fields["i"],
		HeaderCanonicalization: CanonSimple,
		BodyCanonicalization:   CanonSimple,
		Length:                 -1,
		SignTime:               -1,
		ExpireTime:             -1,
		Fields:                 fields,
	}

	if fields["v"] != "1" {
		return nil, nil, fmt.Errorf("%w: %q", ErrInvalidVersion, fields["v"])
	}
	sig.Version = 1

	sig.Signature, err = base64.StdEncoding.DecodeString(removeFWS(fields["b"]))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: b= is not base64: %v", ErrSignatureEncoding, err)
	}

	sig.BodyHash = strings.Trim(removeFWS(fields["bh"]), `"`)
	if strings.HasSuffix(string(sig.Algorithm), "-sha256") {
		raw, err := base64.StdEncoding.DecodeString(sig.BodyHash)
		if err != nil || len(raw) != sha256.Size {
			return nil, nil, fmt.Errorf("%w: %q", ErrBodyHashLength, sig.BodyHash)
		}
	}

	for h := range strings.SplitSeq(fields["h"], ":") {
		if h = trimFWS(h); h != "" {
			sig.SignedHeaders = append(sig.SignedHeaders, h)
		}
	}
	if !signsFrom(sig.SignedHeaders) {
		return nil, nil, ErrFromRequired
	}

	if c, ok := fields["c"]; ok {
		hc, bc, err := parseCanonicalization(c)
		if err != nil {
			return nil, nil, err
		}
		sig.HeaderCanonicalization, sig.BodyCanonicalization = hc, bc
	}

	if q, ok := fields["q"]; ok {
		for m := range strings.SplitSeq(q, ":") {
			if m = trimFWS(m); m != "" {
				sig.QueryMethods = append(sig.QueryMethods, m)
			}
		}
		if !hasDNSQuery(sig.QueryMethods) {
			return nil, nil, fmt.Errorf("%w: %s", ErrQueryMethod, q)
		}
	}

	for tag, dst := range map[string]*int64{"l": &sig.Length, "t": &sig.SignTime, "x": &sig.ExpireTime} {
		v, ok := fields[tag]
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return nil, nil, fmt.Errorf("%w: %s=%q", ErrTagSyntax, tag, v)
		}
		*dst = n
	}
	if sig.SignTime >= 0 && sig.ExpireTime >= 0 && sig.ExpireTime < sig.SignTime {
		return nil, nil, fmt.Errorf("%w: expires before it was signed", ErrSigExpired)
	}

	if isPublicSuffix(sig.Domain) {
		return nil, nil, fmt.Errorf("%w: %s", ErrTLD, sig.Domain)
	}
	if sig.Identity != "" {
		at := strings.LastIndex(sig.Identity, "@")
		if at < 0 {
			return nil, nil, fmt.Errorf("%w: %q", ErrDomainIdentityMismatch, sig.Identity)
		}
		idDomain := strings.ToLower(sig.Identity[at+1:])
		if idDomain != sig.Domain && !strings.HasSuffix(idDomain, "."+sig.Domain) {
			return nil, nil, fmt.Errorf("%w: %s not under %s", ErrDomainIdentityMismatch, idDomain, sig.Domain)
		}
	}

	return sig, stripSignatureValue(field), nil
}

func signsFrom(headers []string) bool {
	for _, h := range headers {
		if strings.EqualFold(h, "from") {
			return true
		}
	}
	return false
}

func hasDNSQuery(methods []string) bool {
	for _, m := range methods {
		if strings.EqualFold(m, "dns/txt") {
			return true
		}
	}
	return false
}

func parseCanonicalization(c string) (Canonicalization, Canonicalization, error) {
	h, b, _ := strings.Cut(strings.ToLower(c), "/")
	hc, bc := Canonicalization(h), CanonSimple
	if b != "" {
		bc = Canonicalization(b)
	}
	for _, v := range []Canonicalization{hc, bc} {
		if v != CanonSimple && v != CanonRelaxed {
			return "", "", fmt.Errorf("%w: %q", ErrCanonicalizationUnknown, c)
		}
	}
	return hc, bc, nil
}

// stripSignatureValue returns field with everything between "b=" and the
// next semicolon removed.
func stripSignatureValue(field []byte) []byte {
	colon := bytes.IndexByte(field, ':')
	pos := colon + 1
	for pos <= len(field) {
		end := bytes.IndexByte(field[pos:], ';')
		if end < 0 {
			end = len(field)
		} else {
			end += pos
		}
		seg := field[pos:end]
		if eq := bytes.IndexByte(seg, '='); eq >= 0 && trimFWS(string(seg[:eq])) == "b" {
			out := make([]byte, 0, len(field))
			out = append(out, field[:pos+eq+1]...)
			return append(out, field[end:]...)
		}
		pos = end + 1
	}
	return bytes.Clone(field)
}

// isPublicSuffix reports whether domain is empty or a public suffix such as
// "com" or "co.uk", which no one can legitimately sign for.
func isPublicSuffix(domain string) bool {
	if domain == "" {
		return true
	}
	_, err := publicsuffix.EffectiveTLDPlusOne(domain)
	return err != nil
}

// Header renders the signature as a folded DKIM-Signature field without a
// trailing CRLF. The b= tag comes last; with includeSignature false it is
// left empty, which is the form that gets signed.
func (s *Signature) Header(includeSignature bool) string {
	w := &headerWriter{}
	w.addf("", "DKIM-Signature: v=%d;", s.Version)
	w.addf(" ", "a=%s;", s.Algorithm)
	w.addf(" ", "c=%s/%s;", s.HeaderCanonicalization, s.BodyCanonicalization)
	w.addf(" ", "d=%s;", s.Domain)
	w.addf(" ", "s=%s;", s.Selector)
	if s.Identity != "" {
		w.addf(" ", "i=%s;", s.Identity)
	}
	if s.SignTime >= 0 {
		w.addf(" ", "t=%d;", s.SignTime)
	}
	if s.ExpireTime >= 0 {
		w.addf(" ", "x=%d;", s.ExpireTime)
	}
	if s.Length >= 0 {
		w.addf(" ", "l=%d;", s.Length)
	}
	for i, h := range s.SignedHeaders {
		sep := ""
		if i == 0 {
			h, sep = "h="+h, " "
		}
		if i < len(s.SignedHeaders)-1 {
			h += ":"
		} else {
			h += ";"
		}
		w.add(sep, h)
	}
	w.addf(" ", "bh=%s;", s.BodyHash)
	w.add(" ", "b=")
	if includeSignature {
		w.addWrap(base64.StdEncoding.EncodeToString(s.Signature))
	}
	return w.b.String()
}

// headerWriter folds header text at 76 columns.
type headerWriter struct {
	b        strings.Builder
	lineLen  int
	nonfirst bool
}

func (w *headerWriter) add(sep, text string) {
	const maxLen = 76
	if w.nonfirst && w.lineLen > 1 && w.lineLen+len(sep)+len(text) > maxLen {
		w.b.WriteString("\r\n\t")
		w.lineLen = 1
	} else if w.nonfirst && sep != "" {
		w.b.WriteString(sep)
		w.lineLen += len(sep)
	}
	w.b.WriteString(text)
	w.lineLen += len(text)
	w.nonfirst = true
}

func (w *headerWriter) addf(sep, format string, args ...any) {
	w.add(sep, fmt.Sprintf(format, args...))
}

// addWrap writes text that may be broken at any position.
func (w *headerWriter) addWrap(text string) {
	const maxLen = 76
	for text != "" {
		n := maxLen - w.lineLen
		if n <= 0 {
			w.b.WriteString("\r\n\t")
			w.lineLen = 1
			n = maxLen - 1
		}
		n = min(n, len(text))
		w.b.WriteString(text[:n])
		w.lineLen += n
		text = text[n:]
	}
}
