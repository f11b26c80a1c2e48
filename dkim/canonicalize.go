package dkim

import (
	"bytes"
	"strings"
)

var crlf = []byte("\r\n")

// header is one header field as it appears in the message.
type header struct {
	name  string // as written
	lname string
	raw   []byte // complete field including folding, without the final CRLF
}

// normalizeLineEndings returns a copy of msg in which every bare LF is
// preceded by a CR.
func normalizeLineEndings(msg []byte) []byte {
	out := make([]byte, 0, len(msg)+bytes.Count(msg, []byte("\n")))
	for i, c := range msg {
		if c == '\n' && (i == 0 || msg[i-1] != '\r') {
			out = append(out, '\r')
		}
		out = append(out, c)
	}
	return out
}

// splitMessage parses the header block of a CRLF-normalized message. A
// message without a blank line is all header and has an empty body.
func splitMessage(msg []byte) ([]header, []byte, error) {
	var headers []header
	rest := msg
	for len(rest) > 0 {
		line, after, found := bytes.Cut(rest, crlf)
		if found && len(line) == 0 {
			return headers, after, nil
		}
		rest = after

		if line[0] == ' ' || line[0] == '\t' {
			if len(headers) == 0 {
				return nil, nil, ErrHeaderMalformed
			}
			h := &headers[len(headers)-1]
			h.raw = append(append(h.raw, crlf...), line...)
			continue
		}

		colon := bytes.IndexByte(line, ':')
		if colon <= 0 {
			return nil, nil, ErrHeaderMalformed
		}
		name := strings.TrimRight(string(line[:colon]), " \t")
		for _, c := range []byte(name) {
			if c <= ' ' || c >= 0x7f {
				return nil, nil, ErrHeaderMalformed
			}
		}
		headers = append(headers, header{
			name:  name,
			lname: strings.ToLower(name),
			raw:   bytes.Clone(line),
		})
	}
	return headers, nil, nil
}

// canonicalHeaderRelaxed applies relaxed header canonicalization
// (RFC 6376 Section 3.4.2) to one field. The result has no trailing CRLF.
func canonicalHeaderRelaxed(field []byte) []byte {
	name, value, _ := bytes.Cut(field, []byte(":"))
	out := make([]byte, 0, len(field))
	out = append(out, strings.ToLower(strings.TrimRight(string(name), " \t"))...)
	out = append(out, ':')

	value = bytes.ReplaceAll(value, crlf, nil)
	return append(out, compressWSP(value)...)
}

// compressWSP collapses runs of spaces and tabs to a single space and drops
// leading and trailing whitespace.
func compressWSP(b []byte) []byte {
	out := make([]byte, 0, len(b))
	space := false
	for _, c := range b {
		if c == ' ' || c == '\t' {
			space = true
			continue
		}
		if space && len(out) > 0 {
			out = append(out, ' ')
		}
		space = false
		out = append(out, c)
	}
	return out
}

// canonicalHeader canonicalizes one field according to c.
func canonicalHeader(c Canonicalization, field []byte) []byte {
	if c == CanonRelaxed {
		return canonicalHeaderRelaxed(field)
	}
	return bytes.Clone(field)
}

// canonicalHeaders builds the header input of a signature: the fields named
// in signed, each taken from the bottom of the message upwards, followed by
// the signature field itself without its trailing CRLF. A name listed more
// often than it occurs contributes nothing for the extra occurrences.
func canonicalHeaders(c Canonicalization, headers []header, signed []string, sigField []byte) []byte {
	used := make(map[string]int, len(signed))
	var out []byte
	for _, name := range signed {
		lname := strings.ToLower(name)
		skip := used[lname]
		for i := len(headers) - 1; i >= 0; i-- {
			if headers[i].lname != lname {
				continue
			}
			if skip > 0 {
				skip--
				continue
			}
			out = append(out, canonicalHeader(c, headers[i].raw)...)
			out = append(out, crlf...)
			break
		}
		used[lname]++
	}
	return append(out, canonicalHeader(c, sigField)...)
}

// canonicalBody applies body canonicalization (RFC 6376 Section 3.4.3 and
// 3.4.4) to a CRLF-normalized body.
func canonicalBody(c Canonicalization, body []byte) []byte {
	if c == CanonRelaxed {
		return canonicalBodyRelaxed(body)
	}
	return canonicalBodySimple(body)
}

func canonicalBodySimple(body []byte) []byte {
	for bytes.HasSuffix(body, crlf) {
		body = body[:len(body)-2]
	}
	out := make([]byte, 0, len(body)+2)
	out = append(out, body...)
	return append(out, crlf...)
}

func canonicalBodyRelaxed(body []byte) []byte {
	out := make([]byte, 0, len(body))
	blank := 0
	for len(body) > 0 {
		var line []byte
		line, body, _ = bytes.Cut(body, crlf)
		line = compressWSPRight(line)
		if len(line) == 0 {
			blank++
			continue
		}
		for ; blank > 0; blank-- {
			out = append(out, crlf...)
		}
		out = append(out, line...)
		out = append(out, crlf...)
	}
	return out
}

// compressWSPRight collapses whitespace runs within a body line and drops
// trailing whitespace. Leading whitespace is kept as a single space.
func compressWSPRight(line []byte) []byte {
	out := make([]byte, 0, len(line))
	space := false
	for _, c := range line {
		if c == ' ' || c == '\t' {
			space = true
			continue
		}
		if space {
			out = append(out, ' ')
		}
		space = false
		out = append(out, c)
	}
	return out
}
