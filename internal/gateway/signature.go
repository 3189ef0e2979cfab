package gateway

import (
	"crypto"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"strings"
)

var ErrInvalidPublicKey = errors.New("invalid gateway public key")

// signedFields is the ordered subset of notification fields covered by the
// gateway's signature. Absent fields are skipped, so payloads that carry
// orderId instead of mdOrder still canonicalize consistently.
var signedFields = []string{"amount", "mdOrder", "operation", "orderNumber", "status"}

// Verifier authenticates inbound gateway notifications before any state is
// touched. Verify is pure: it never reads or writes anything but its inputs.
type Verifier struct {
	secret    []byte
	publicKey *rsa.PublicKey
}

// NewHMACVerifier builds a verifier for the shared-secret trust model
// (HMAC-SHA256 over the canonical string, hex-encoded).
func NewHMACVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// NewRSAVerifier builds a verifier for the asymmetric trust model
// (RSA PKCS#1 v1.5 over SHA-512, hex-encoded signature).
func NewRSAVerifier(pemData []byte) (*Verifier, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, ErrInvalidPublicKey
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, ErrInvalidPublicKey
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, ErrInvalidPublicKey
	}
	return &Verifier{publicKey: key}, nil
}

// Verify reports whether signature authenticates payload. Signatures are
// hex and compared case-insensitively.
func (v *Verifier) Verify(payload map[string]string, signature string) bool {
	if signature == "" {
		return false
	}
	canonical := CanonicalString(payload)
	switch {
	case len(v.secret) > 0:
		mac := hmac.New(sha256.New, v.secret)
		mac.Write([]byte(canonical))
		computed := hex.EncodeToString(mac.Sum(nil))
		return hmac.Equal([]byte(computed), []byte(strings.ToLower(signature)))
	case v.publicKey != nil:
		raw, err := hex.DecodeString(strings.ToLower(signature))
		if err != nil {
			return false
		}
		digest := sha512.Sum512([]byte(canonical))
		return rsa.VerifyPKCS1v15(v.publicKey, crypto.SHA512, digest[:], raw) == nil
	default:
		return false
	}
}

// CanonicalString concatenates the present signed fields as "field;value;".
func CanonicalString(payload map[string]string) string {
	var b strings.Builder
	for _, field := range signedFields {
		value, ok := payload[field]
		if !ok {
			continue
		}
		b.WriteString(field)
		b.WriteString(";")
		b.WriteString(value)
		b.WriteString(";")
	}
	return b.String()
}
