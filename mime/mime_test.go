package mime

import (
	"bytes"
	"slices"
	"strings"
	"testing"
)

func headerMap(m map[string]string) HeaderGetter {
	return HeaderFunc(func(name string) string { return m[name] })
}

func crlf(s string) []byte {
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}

var alternative = crlf(`--outer
Content-Type: multipart/alternative; boundary=inner

--inner
Content-Type: text/plain; charset=utf-8

plain text
--inner
Content-Type: text/html; charset=utf-8
Content-Transfer-Encoding: quoted-printable

<p>Amount: =
$1,234.56</p>
--inner--
--outer
Content-Type: application/pdf
Content-Disposition: attachment; filename="invoice.pdf"
Content-Transfer-Encoding: base64

JVBERi0=
--outer--
`)

func TestParse(t *testing.T) {
	root, err := Parse(headerMap(map[string]string{"Content-Type": "multipart/mixed; boundary=outer"}), alternative)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !root.IsMultipart() || len(root.Parts) != 2 {
		t.Fatalf("unexpected root %+v", root)
	}
	leaves := root.Leaves()
	var types []string
	for _, l := range leaves {
		types = append(types, l.ContentType)
	}
	if want := []string{"text/plain", "text/html", "application/pdf"}; !slices.Equal(types, want) {
		t.Fatalf("leaf types = %v, want %v", types, want)
	}
	if leaves[1].ContentTransferEncoding != EncodingQuotedPrintable {
		t.Errorf("html encoding = %s", leaves[1].ContentTransferEncoding)
	}
	if string(leaves[1].Body) != "<p>Amount: =\r\n$1,234.56</p>" {
		t.Errorf("html body must stay encoded, got %q", leaves[1].Body)
	}
	if leaves[2].Filename != "invoice.pdf" {
		t.Errorf("filename = %q", leaves[2].Filename)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		ct   string
		body []byte
	}{
		{"missing boundary", "multipart/mixed", []byte("x")},
		{"no parts", "multipart/mixed; boundary=b", []byte("just text\r\n")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(headerMap(map[string]string{"Content-Type": tt.ct}), tt.body); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	p, err := Parse(headerMap(map[string]string{"Content-Type": "/"}), []byte("x"))
	if err != nil || p.ContentType != "text/plain" {
		t.Errorf("invalid Content-Type should fall back to text/plain: %v %+v", err, p)
	}
}

func TestSelectBody(t *testing.T) {
	tests := []struct {
		name string
		ct   string
		body []byte
		want string
	}{
		{
			name: "html preferred",
			ct:   "multipart/mixed; boundary=outer",
			body: alternative,
			want: "<p>Amount: =\r\n$1,234.56</p>",
		},
		{
			name: "plain when no html",
			ct:   "multipart/alternative; boundary=b",
			body: crlf("--b\nContent-Type: application/json\n\n{}\n--b\nContent-Type: text/plain\n\nhello\n--b--\n"),
			want: "hello",
		},
		{
			name: "first part otherwise",
			ct:   "multipart/mixed; boundary=b",
			body: crlf("--b\nContent-Type: application/json\n\n{}\n--b\nContent-Type: image/png\n\nPNG\n--b--\n"),
			want: "{}",
		},
		{
			name: "single part",
			ct:   "text/html",
			body: []byte("<b>hi</b>\r\n"),
			want: "<b>hi</b>\r\n",
		},
		{
			name: "unparseable multipart",
			ct:   "multipart/mixed",
			body: []byte("whole\r\n"),
			want: "whole\r\n",
		},
		{
			name: "empty body",
			ct:   "",
			body: nil,
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := headerMap(map[string]string{"Content-Type": tt.ct})
			got := SelectBody(h, tt.body)
			if string(got) != tt.want {
				t.Fatalf("SelectBody() = %q, want %q", got, tt.want)
			}
			if again := SelectBody(h, got); !bytes.Equal(again, got) {
				t.Errorf("SelectBody is not idempotent: %q", again)
			}
		})
	}
}

func TestCleanSoftBreaks(t *testing.T) {
	cleaned, index := CleanSoftBreaks([]byte("abc=\r\ndef"))
	if want := []byte("abcdef\x00\x00\x00"); !bytes.Equal(cleaned, want) {
		t.Fatalf("cleaned = %q, want %q", cleaned, want)
	}
	if want := []int{0, 1, 2, 6, 7, 8, NoSource, NoSource, NoSource}; !slices.Equal(index, want) {
		t.Fatalf("index = %v, want %v", index, want)
	}
}

func TestCleanSoftBreaksProperties(t *testing.T) {
	inputs := []string{
		"",
		"no breaks here",
		"=\r\n",
		"a=\r\nb=\r\nc",
		"==\r\n\r\n",
		"=\r=\r\n\n",
		"trailing =",
		"=3D=\r\n=20",
		"line\r\nbreak=\r\n",
	}
	for _, in := range inputs {
		cleaned, index := CleanSoftBreaks([]byte(in))
		if len(cleaned) != len(in) || len(index) != len(in) {
			t.Errorf("%q: lengths %d/%d, want %d", in, len(cleaned), len(index), len(in))
			continue
		}
		again, _ := CleanSoftBreaks(cleaned)
		if !bytes.Equal(again, cleaned) {
			t.Errorf("%q: not idempotent: %q then %q", in, cleaned, again)
		}
		if bytes.Contains(cleaned, []byte("=\r\n")) {
			t.Errorf("%q: soft break left in %q", in, cleaned)
		}
		for i, src := range index {
			if src == NoSource {
				if cleaned[i] != 0 {
					t.Errorf("%q: padding at %d is %q", in, i, cleaned[i])
				}
				continue
			}
			if in[src] != cleaned[i] {
				t.Errorf("%q: index %d maps to %d holding %q, cleaned has %q", in, i, src, in[src], cleaned[i])
			}
		}
	}
}
