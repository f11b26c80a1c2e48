// Package mime locates the region of a message body that patterns are
// matched against and cleans quoted-printable soft line breaks from it.
//
// Parts keep their transfer encoding: bodies are the raw bytes between
// boundaries, so positions can be traced back to the signed body.
package mime

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"mime"
	"mime/multipart"
	"slices"
	"strings"
)

// ContentTransferEncoding is the encoding of a part body.
type ContentTransferEncoding string

const (
	Encoding7Bit            ContentTransferEncoding = "7bit"
	Encoding8Bit            ContentTransferEncoding = "8bit"
	EncodingBinary          ContentTransferEncoding = "binary"
	EncodingQuotedPrintable ContentTransferEncoding = "quoted-printable"
	EncodingBase64          ContentTransferEncoding = "base64"
)

// maxDepth bounds multipart nesting.
const maxDepth = 16

var (
	ErrMissingBoundary = errors.New("mime: multipart Content-Type missing boundary parameter")
	ErrTooDeep         = errors.New("mime: multipart nesting too deep")
)

// Header is a MIME header field.
type Header struct {
	Name  string
	Value string
}

// Part is a MIME body part (RFC 2045, RFC 2046).
type Part struct {
	Headers                 []Header
	ContentType             string
	ContentTransferEncoding ContentTransferEncoding
	Charset                 string
	Filename                string

	// Body is the raw, still encoded part body. For multipart parts it
	// is the whole multipart body.
	Body  []byte
	Parts []*Part
}

// HeaderGetter retrieves header values by name.
type HeaderGetter interface {
	Get(name string) string
}

// HeaderFunc adapts a lookup function to HeaderGetter.
type HeaderFunc func(name string) string

func (f HeaderFunc) Get(name string) string { return f(name) }

// IsMultipart reports whether the part has subparts.
func (p *Part) IsMultipart() bool {
	return strings.HasPrefix(p.ContentType, "multipart/") && len(p.Parts) > 0
}

// Leaves returns the non-multipart parts below p in depth-first order, or p
// itself if it is not multipart.
func (p *Part) Leaves() []*Part {
	if !p.IsMultipart() {
		return []*Part{p}
	}
	var out []*Part
	for _, sub := range p.Parts {
		out = append(out, sub.Leaves()...)
	}
	return out
}

// Parse parses a message body given its headers. A missing or invalid
// Content-Type means text/plain; charset=us-ascii (RFC 2045 Section 5.2).
func Parse(headers HeaderGetter, body []byte) (*Part, error) {
	return parse(headers.Get, body, 0)
}

func parse(get func(string) string, body []byte, depth int) (*Part, error) {
	part := &Part{
		ContentType:             "text/plain",
		Charset:                 "us-ascii",
		ContentTransferEncoding: Encoding7Bit,
		Body:                    body,
	}
	if cte := get("Content-Transfer-Encoding"); cte != "" {
		part.ContentTransferEncoding = ContentTransferEncoding(strings.ToLower(strings.TrimSpace(cte)))
	}
	if disp := get("Content-Disposition"); disp != "" {
		if _, params, err := mime.ParseMediaType(disp); err == nil {
			part.Filename = params["filename"]
		}
	}

	ct := get("Content-Type")
	if ct == "" {
		return part, nil
	}
	mediaType, params, err := mime.ParseMediaType(ct)
	if err != nil {
		return part, nil
	}
	part.ContentType = mediaType
	part.Charset = params["charset"]

	if !strings.HasPrefix(mediaType, "multipart/") {
		return part, nil
	}
	if depth >= maxDepth {
		return nil, ErrTooDeep
	}
	boundary := params["boundary"]
	if boundary == "" {
		return nil, ErrMissingBoundary
	}

	r := multipart.NewReader(bytes.NewReader(body), boundary)
	for {
		mp, err := r.NextRawPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("mime: reading multipart section: %w", err)
		}
		raw, err := io.ReadAll(mp)
		if err != nil {
			return nil, fmt.Errorf("mime: reading part body: %w", err)
		}
		sub, err := parse(mp.Header.Get, raw, depth+1)
		if err != nil {
			return nil, err
		}
		for _, name := range slices.Sorted(maps.Keys(mp.Header)) {
			for _, v := range mp.Header[name] {
				sub.Headers = append(sub.Headers, Header{Name: name, Value: v})
			}
		}
		part.Parts = append(part.Parts, sub)
	}
	if len(part.Parts) == 0 {
		return nil, errors.New("mime: multipart body contains no parts")
	}
	return part, nil
}

// SelectBody returns the body region patterns are matched against: the
// first text/html leaf part, else the first text/plain leaf, else the
// first leaf, else the whole body. It never fails; a body that cannot be
// parsed as MIME is returned whole. The result may alias body.
func SelectBody(headers HeaderGetter, body []byte) []byte {
	root, err := Parse(headers, body)
	if err != nil || !root.IsMultipart() {
		return body
	}
	leaves := root.Leaves()
	for _, want := range []string{"text/html", "text/plain"} {
		for _, leaf := range leaves {
			if leaf.ContentType == want {
				return leaf.Body
			}
		}
	}
	return leaves[0].Body
}
