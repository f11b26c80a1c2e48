package dkim

import (
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"strings"
)

// Record is a DKIM key record published at
// <selector>._domainkey.<domain> (RFC 6376 Section 3.6.1).
type Record struct {
	Version  string
	Hashes   []string // h=, empty means any
	Key      KeyType  // k=, default rsa
	Services []string // s=, empty or "*" means any
	Flags    []string // t=

	// Pubkey is the decoded p= value. Empty means the key was revoked.
	Pubkey []byte
}

// ServiceAllowed reports whether the key may be used for service.
func (r *Record) ServiceAllowed(service string) bool {
	if len(r.Services) == 0 {
		return true
	}
	for _, s := range r.Services {
		if s == "*" || strings.EqualFold(s, service) {
			return true
		}
	}
	return false
}

// HashAllowed reports whether the record permits hash.
func (r *Record) HashAllowed(hash string) bool {
	if len(r.Hashes) == 0 {
		return true
	}
	for _, h := range r.Hashes {
		if strings.EqualFold(h, hash) {
			return true
		}
	}
	return false
}

// IsTesting reports whether the domain is testing DKIM (t=y).
func (r *Record) IsTesting() bool {
	for _, f := range r.Flags {
		if strings.EqualFold(f, "y") {
			return true
		}
	}
	return false
}

// PublicKey returns the key in the form verification requests carry: rsa
// keys as PKCS#1 DER, ed25519 keys as 32 raw bytes.
func (r *Record) PublicKey() (PublicKey, error) {
	if len(r.Pubkey) == 0 {
		return PublicKey{}, ErrKeyRevoked
	}
	key := PublicKey{Type: r.Key, Data: r.Pubkey}
	pk, err := key.Parse()
	if err != nil {
		return PublicKey{}, err
	}
	if k, ok := pk.(*rsa.PublicKey); ok {
		key.Data = x509.MarshalPKCS1PublicKey(k)
	}
	return key, nil
}

// ToTXT renders the record as TXT record text.
func (r *Record) ToTXT() string {
	parts := []string{"v=DKIM1"}
	if len(r.Hashes) > 0 {
		parts = append(parts, "h="+strings.Join(r.Hashes, ":"))
	}
	if r.Key != "" && r.Key != KeyTypeRSA {
		parts = append(parts, "k="+string(r.Key))
	}
	if len(r.Services) > 0 && !(len(r.Services) == 1 && r.Services[0] == "*") {
		parts = append(parts, "s="+strings.Join(r.Services, ":"))
	}
	if len(r.Flags) > 0 {
		parts = append(parts, "t="+strings.Join(r.Flags, ":"))
	}
	parts = append(parts, "p="+base64.StdEncoding.EncodeToString(r.Pubkey))
	return strings.Join(parts, "; ")
}

// NewRecord returns a record publishing pub, which must be an
// *rsa.PublicKey or ed25519.PublicKey.
func NewRecord(pub any) (*Record, error) {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		der, err := x509.MarshalPKIXPublicKey(k)
		if err != nil {
			return nil, err
		}
		return &Record{Version: "DKIM1", Key: KeyTypeRSA, Pubkey: der}, nil
	case ed25519.PublicKey:
		return &Record{Version: "DKIM1", Key: KeyTypeEd25519, Pubkey: []byte(k)}, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedAlgorithm, pub)
}

// ParseRecord parses TXT record text. The boolean reports whether the text
// looks like a DKIM record at all, so callers can skip unrelated TXT
// records at the same name.
func ParseRecord(txt string) (*Record, bool, error) {
	fields, err := ParseFields(txt)
	if err != nil {
		return nil, false, err
	}
	if v, ok := fields["v"]; ok && v != "DKIM1" {
		return nil, false, fmt.Errorf("%w: version %q", ErrRecordSyntax, v)
	}
	p, ok := fields["p"]
	if !ok {
		_, versioned := fields["v"]
		return nil, versioned, fmt.Errorf("%w: missing p=", ErrRecordSyntax)
	}

	r := &Record{Version: "DKIM1", Services: []string{"*"}}
	if r.Key, err = ParseKeyType(fields["k"]); err != nil {
		return nil, true, err
	}
	r.Hashes = splitList(fields["h"])
	if s, ok := fields["s"]; ok {
		r.Services = splitList(s)
	}
	r.Flags = splitList(fields["t"])

	if p = removeFWS(p); p != "" {
		r.Pubkey, err = base64.StdEncoding.DecodeString(p)
		if err != nil {
			return nil, true, fmt.Errorf("%w: p= is not base64: %v", ErrRecordSyntax, err)
		}
		if _, err := (PublicKey{Type: r.Key, Data: r.Pubkey}).Parse(); err != nil {
			return nil, true, err
		}
	}
	return r, true, nil
}

func splitList(s string) []string {
	var out []string
	for v := range strings.SplitSeq(s, ":") {
		if v = trimFWS(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
