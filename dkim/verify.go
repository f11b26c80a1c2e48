package dkim

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// VerifySignature checks the signature of form with key. The key type must
// match the algorithm declared by sig; a mismatch or an algorithm other
// than rsa-sha256 and ed25519-sha256 is an error wrapping ErrKey. A
// signature of the wrong size wraps ErrVerification. A well-formed
// signature that does not verify returns false and no error.
func VerifySignature(key PublicKey, sig *Signature, form *CanonicalForm) (bool, error) {
	want, ok := sig.Algorithm.KeyType()
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, sig.Algorithm)
	}
	if key.Type != want {
		return false, fmt.Errorf("%w: %s key for %s", ErrKeyTypeMismatch, key.Type, sig.Algorithm)
	}
	pk, err := key.Parse()
	if err != nil {
		return false, err
	}

	digest := sha256.Sum256(form.header)
	switch k := pk.(type) {
	case *rsa.PublicKey:
		if len(form.signature) != k.Size() {
			return false, fmt.Errorf("%w: %d byte signature for %d bit key", ErrSignatureEncoding, len(form.signature), k.N.BitLen())
		}
		return rsa.VerifyPKCS1v15(k, crypto.SHA256, digest[:], form.signature) == nil, nil
	case ed25519.PublicKey:
		if len(form.signature) != ed25519.SignatureSize {
			return false, fmt.Errorf("%w: %d byte ed25519 signature", ErrSignatureEncoding, len(form.signature))
		}
		// RFC 8463 signs the SHA-256 digest rather than the data itself.
		return ed25519.Verify(k, digest[:], form.signature), nil
	}
	return false, fmt.Errorf("%w: %T", ErrUnsupportedAlgorithm, pk)
}

// BodyHash returns the base64 SHA-256 digest of a canonical body, as it
// appears in the bh= tag.
func BodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// VerifyBodyHash reports whether the digest of the canonical body equals
// bh exactly. Surrounding double quotes on bh are ignored.
func VerifyBodyHash(bh string, body []byte) bool {
	got := BodyHash(body)
	want := strings.Trim(bh, `"`)
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// CheckExpiry returns ErrSigExpired if sig carries an x= tag before now.
func CheckExpiry(sig *Signature, now time.Time) error {
	if sig.ExpireTime >= 0 && now.Unix() > sig.ExpireTime {
		return fmt.Errorf("%w: at %d", ErrSigExpired, sig.ExpireTime)
	}
	return nil
}

// KeyBits returns the modulus size of an rsa key and 256 for ed25519.
func KeyBits(key PublicKey) (int, error) {
	pk, err := key.Parse()
	if err != nil {
		return 0, err
	}
	if k, ok := pk.(*rsa.PublicKey); ok {
		return k.N.BitLen(), nil
	}
	return 256, nil
}
