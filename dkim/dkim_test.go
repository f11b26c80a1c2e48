package dkim

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func crlfString(s string) string {
	return strings.ReplaceAll(s, "\n", "\r\n")
}

func TestParseFields(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Fields
		wantErr error
	}{
		{
			name:  "basic",
			input: "v=1; a=rsa-sha256; d=example.com",
			want:  Fields{"v": "1", "a": "rsa-sha256", "d": "example.com"},
		},
		{
			name:  "folded and trailing semicolon",
			input: " v=1;\r\n\tbh = abc= ;\r\n s=sel;",
			want:  Fields{"v": "1", "bh": "abc=", "s": "sel"},
		},
		{
			name:    "duplicate",
			input:   "v=1; v=1",
			wantErr: ErrDuplicateTag,
		},
		{
			name:    "no equals",
			input:   "v=1; bogus",
			wantErr: ErrTagSyntax,
		},
		{
			name:    "bad tag name",
			input:   "1a=b",
			wantErr: ErrTagSyntax,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFields(tt.input)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParseFields() error = %v, want %v", err, tt.wantErr)
				}
				if !errors.Is(err, ErrParse) {
					t.Errorf("error %v is not a parse error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseFields() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d fields, want %d: %v", len(got), len(tt.want), got)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("field %s = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

const testSigField = "DKIM-Signature: v=1; a=rsa-sha256; c=relaxed/relaxed; d=example.com;\r\n" +
	"\ts=sel; h=From:To:Subject;\r\n" +
	"\tbh=\"47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU=\";\r\n" +
	"\tb=dGVzdA==\r\n\t ; x=100"

func TestParseSignature(t *testing.T) {
	sig, stripped, err := ParseSignature([]byte(testSigField))
	if err != nil {
		t.Fatalf("ParseSignature() error = %v", err)
	}
	if sig.Algorithm != AlgRSASHA256 || sig.Domain != "example.com" || sig.Selector != "sel" {
		t.Errorf("unexpected signature %+v", sig)
	}
	if sig.HeaderCanonicalization != CanonRelaxed || sig.BodyCanonicalization != CanonRelaxed {
		t.Errorf("canonicalization = %s/%s", sig.HeaderCanonicalization, sig.BodyCanonicalization)
	}
	if sig.BodyHash != "47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU=" {
		t.Errorf("body hash = %q, quotes must be stripped", sig.BodyHash)
	}
	if string(sig.Signature) != "test" {
		t.Errorf("signature = %q", sig.Signature)
	}
	if sig.ExpireTime != 100 || sig.Length != -1 || sig.SignTime != -1 {
		t.Errorf("times: x=%d l=%d t=%d", sig.ExpireTime, sig.Length, sig.SignTime)
	}
	if got := strings.Join(sig.SignedHeaders, ","); got != "From,To,Subject" {
		t.Errorf("signed headers = %s", got)
	}
	want := strings.Replace(testSigField, "dGVzdA==\r\n\t ", "", 1)
	if string(stripped) != want {
		t.Errorf("stripped field:\n%q\nwant\n%q", stripped, want)
	}
}

func TestParseSignatureErrors(t *testing.T) {
	base := "DKIM-Signature: v=1; a=rsa-sha256; d=example.com; s=sel; h=From; bh=47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU=; b=dGVzdA=="
	tests := []struct {
		name    string
		field   string
		wantErr error
	}{
		{"not a signature", "Subject: hi", ErrHeaderMalformed},
		{"missing selector", strings.Replace(base, " s=sel;", "", 1), ErrMissingTag},
		{"bad version", strings.Replace(base, "v=1", "v=2", 1), ErrInvalidVersion},
		{"from not signed", strings.Replace(base, "h=From", "h=To", 1), ErrFromRequired},
		{"public suffix domain", strings.Replace(base, "d=example.com", "d=co.uk", 1), ErrTLD},
		{"unknown canonicalization", base + "; c=fancy", ErrCanonicalizationUnknown},
		{"short body hash", strings.Replace(base, "47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU=", "dGVzdA==", 1), ErrBodyHashLength},
		{"bad signature base64", strings.Replace(base, "b=dGVzdA==", "b=!!!", 1), ErrSignatureEncoding},
		{"identity outside domain", base + "; i=joe@other.example", ErrDomainIdentityMismatch},
		{"unknown query method", base + "; q=http", ErrQueryMethod},
		{"negative length", base + "; l=-1", ErrTagSyntax},
		{"expires before signed", base + "; t=10; x=5", ErrSigExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseSignature([]byte(tt.field))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ParseSignature() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	// Unsupported algorithms parse; they are rejected when verifying.
	sig, _, err := ParseSignature([]byte(strings.Replace(base, "rsa-sha256", "rsa-sha1", 1)))
	if err != nil {
		t.Fatalf("rsa-sha1 signature should parse: %v", err)
	}
	if _, ok := sig.Algorithm.KeyType(); ok {
		t.Error("rsa-sha1 must not map to a supported key type")
	}
}

func TestSignatureHeaderRoundTrip(t *testing.T) {
	sig := &Signature{
		Version:                1,
		Algorithm:              AlgEd25519SHA256,
		Signature:              bytes.Repeat([]byte{0xab}, 64),
		BodyHash:               "47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU=",
		Domain:                 "mail.example.org",
		Selector:               "s2024",
		SignedHeaders:          []string{"From", "To", "Subject", "Date", "Message-ID", "MIME-Version", "Content-Type"},
		HeaderCanonicalization: CanonRelaxed,
		BodyCanonicalization:   CanonSimple,
		Length:                 -1,
		SignTime:               1700000000,
		ExpireTime:             -1,
	}
	field := sig.Header(true)
	for _, line := range strings.Split(field, "\r\n") {
		if len(line) > 78 {
			t.Errorf("line not folded: %q", line)
		}
	}
	got, _, err := ParseSignature([]byte(field))
	if err != nil {
		t.Fatalf("parsing rendered header: %v\n%s", err, field)
	}
	if !bytes.Equal(got.Signature, sig.Signature) || got.BodyHash != sig.BodyHash || got.SignTime != sig.SignTime {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.BodyCanonicalization != CanonSimple {
		t.Errorf("body canonicalization = %s", got.BodyCanonicalization)
	}
}

func TestCanonicalHeaderRelaxed(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Subject: Hello World", "subject:Hello World"},
		{"SUBJECT  :   Hello   \t World  ", "subject:Hello World"},
		{"Subject: Hello\r\n World", "subject:Hello World"},
		{"Subject:\r\n\tfolded\r\n\t\tagain", "subject:folded again"},
		{"X-Empty:", "x-empty:"},
	}
	for _, tt := range tests {
		if got := string(canonicalHeaderRelaxed([]byte(tt.in))); got != tt.want {
			t.Errorf("canonicalHeaderRelaxed(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCanonicalBody(t *testing.T) {
	// RFC 6376 Section 3.4.5 example; the trailing spaces are significant.
	in := crlfString(" c \nd \t e \n\n\n")

	tests := []struct {
		name  string
		canon Canonicalization
		body  string
		want  string
	}{
		{"simple example", CanonSimple, in, crlfString(" c \nd \t e \n")},
		{"relaxed example", CanonRelaxed, in, crlfString(" c\nd e\n")},
		{"simple empty", CanonSimple, "", "\r\n"},
		{"relaxed empty", CanonRelaxed, "", ""},
		{"relaxed only blank lines", CanonRelaxed, crlfString("  \n\t\n\n"), ""},
		{"simple no final newline", CanonSimple, "abc", "abc\r\n"},
		{"relaxed no final newline", CanonRelaxed, "abc  ", "abc\r\n"},
		{"relaxed trailing whitespace line", CanonRelaxed, "abc\r\n   ", "abc\r\n"},
		{"relaxed inner blank lines kept", CanonRelaxed, crlfString("a\n\n\nb\n"), crlfString("a\n\n\nb\n")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(canonicalBody(tt.canon, []byte(tt.body))); got != tt.want {
				t.Errorf("canonicalBody() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBodyHashVectors(t *testing.T) {
	tests := []struct {
		name  string
		canon Canonicalization
		body  string
		want  string
	}{
		{"simple empty", CanonSimple, "", "frcCV1k9oG9oKj3dpUqdJg1PxRT2RSN/XKdLCPjaYaY="},
		{"relaxed empty", CanonRelaxed, "", "47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU="},
		{"rfc 8463 body", CanonRelaxed, crlfString("Hi.\n\nWe lost the game.  Are you hungry yet?\n\nJoe.\n\n"), "2jUSOH9NhtVGCQWNr9BrIAPreKQjO6Sn7XIkfJVOzv8="},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := canonicalBody(tt.canon, []byte(tt.body))
			if got := BodyHash(body); got != tt.want {
				t.Errorf("BodyHash() = %s, want %s", got, tt.want)
			}
			if !VerifyBodyHash(`"`+tt.want+`"`, body) {
				t.Error("VerifyBodyHash must ignore surrounding quotes")
			}
			if VerifyBodyHash(strings.ToLower(tt.want), body) {
				t.Error("VerifyBodyHash must be case sensitive")
			}
		})
	}
}

func TestSplitMessage(t *testing.T) {
	msg := normalizeLineEndings([]byte("From: a@example.com\nSubject: one\n two\n\nbody\n"))
	headers, body, err := splitMessage(msg)
	if err != nil {
		t.Fatalf("splitMessage() error = %v", err)
	}
	if len(headers) != 2 {
		t.Fatalf("got %d headers, want 2", len(headers))
	}
	if string(headers[1].raw) != "Subject: one\r\n two" {
		t.Errorf("folded header raw = %q", headers[1].raw)
	}
	if string(body) != "body\r\n" {
		t.Errorf("body = %q", body)
	}

	for _, bad := range []string{" leading continuation\r\n\r\n", "no colon here\r\n\r\n", "Bad Name: x\r\n\r\n"} {
		if _, _, err := splitMessage([]byte(bad)); !errors.Is(err, ErrHeaderMalformed) {
			t.Errorf("splitMessage(%q) error = %v, want ErrHeaderMalformed", bad, err)
		}
	}

	headers, body, err = splitMessage([]byte("From: a@example.com"))
	if err != nil || len(headers) != 1 || len(body) != 0 {
		t.Errorf("header-only message: %v %d %q", err, len(headers), body)
	}
}

func TestCanonicalHeadersBottomUp(t *testing.T) {
	msg := []byte(crlfString("Received: first\nFrom: a@example.com\nReceived: second\nSubject: x\n\n"))
	headers, _, err := splitMessage(msg)
	if err != nil {
		t.Fatal(err)
	}
	got := string(canonicalHeaders(CanonRelaxed, headers, []string{"received", "Received", "Received", "from"}, []byte("DKIM-Signature: b=")))
	want := "received:second\r\nreceived:first\r\nfrom:a@example.com\r\ndkim-signature:b="
	if got != want {
		t.Errorf("canonicalHeaders() =\n%q\nwant\n%q", got, want)
	}
}

func TestCanonicalizeCandidates(t *testing.T) {
	msg := crlfString(`DKIM-Signature: v=1; a=rsa-sha256; d=example.com; s=one; h=From; bh=47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU=; b=dGVzdA==
DKIM-Signature: v=1; garbage
From: a@example.com

`)
	m, err := Canonicalize([]byte(msg))
	if err != nil {
		t.Fatalf("Canonicalize() error = %v", err)
	}
	cands := m.Candidates()
	if len(cands) != 2 {
		t.Fatalf("got %d candidates, want 2", len(cands))
	}
	if cands[0].Err != nil || cands[0].Signature.Selector != "one" {
		t.Errorf("first candidate: %+v", cands[0])
	}
	if !errors.Is(cands[1].Err, ErrParse) || cands[1].Signature != nil {
		t.Errorf("second candidate should carry a parse error: %+v", cands[1])
	}
	if _, err := m.Form(cands[1]); !errors.Is(err, ErrParse) {
		t.Errorf("Form of unparsed candidate: %v", err)
	}

	form, err := m.Form(cands[0])
	if err != nil {
		t.Fatalf("Form() error = %v", err)
	}
	h := form.Header()
	h[0] = 'X'
	if bytes.Equal(h, form.Header()) {
		t.Error("CanonicalForm exposed its internal buffer")
	}
	if from, ok := m.SignedHeader(cands[0], "from"); !ok || from != "a@example.com" {
		t.Errorf("SignedHeader(from) = %q, %v", from, ok)
	}
	if _, ok := m.SignedHeader(cands[1], "from"); ok {
		t.Error("SignedHeader of an unparsed candidate reported a value")
	}

	if _, err := Canonicalize([]byte("From: a@example.com\r\n\r\nhi\r\n")); !errors.Is(err, ErrMissingSignature) {
		t.Errorf("expected ErrMissingSignature, got %v", err)
	}
}

func TestSignedHeader(t *testing.T) {
	msg := crlfString(`Content-Type: text/plain
DKIM-Signature: v=1; a=rsa-sha256; d=example.com; s=one; h=From:Content-Type; bh=47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU=; b=dGVzdA==
Subject: unsigned
From: a@example.com
Content-Type: multipart/alternative;
 boundary="b1"

`)
	m, err := Canonicalize([]byte(msg))
	if err != nil {
		t.Fatal(err)
	}
	c := m.Candidates()[0]
	tests := []struct {
		name string
		want string
		ok   bool
	}{
		{"Content-Type", `multipart/alternative; boundary="b1"`, true},
		{"from", "a@example.com", true},
		{"Subject", "", false},
		{"Content-Transfer-Encoding", "", false},
	}
	for _, tt := range tests {
		got, ok := m.SignedHeader(c, tt.name)
		if got != tt.want || ok != tt.ok {
			t.Errorf("SignedHeader(%s) = %q, %v; want %q, %v", tt.name, got, ok, tt.want, tt.ok)
		}
	}
}

func TestFormBodyLength(t *testing.T) {
	msg := crlfString(`DKIM-Signature: v=1; a=rsa-sha256; c=simple/simple; d=example.com; s=one; l=4; h=From; bh=47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU=; b=dGVzdA==
From: a@example.com

abc
appended
`)
	m, err := Canonicalize([]byte(msg))
	if err != nil {
		t.Fatal(err)
	}
	form, err := m.Form(m.Candidates()[0])
	if err != nil {
		t.Fatal(err)
	}
	if string(form.Body()) != "abc\r" {
		t.Errorf("body = %q, want the first 4 canonical bytes", form.Body())
	}

	long := strings.Replace(msg, "l=4", "l=400", 1)
	m, err = Canonicalize([]byte(long))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Form(m.Candidates()[0]); !errors.Is(err, ErrBodyLength) {
		t.Errorf("expected ErrBodyLength, got %v", err)
	}
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want Status
	}{
		{nil, StatusPass},
		{ErrMissingTag, StatusPermerror},
		{ErrMalformedKey, StatusPermerror},
		{ErrKeyNotFound, StatusPermerror},
		{ErrMultipleRecords, StatusTemperror},
		{ErrSigExpired, StatusFail},
	}
	for _, tt := range tests {
		if got := StatusOf(tt.err); got != tt.want {
			t.Errorf("StatusOf(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
