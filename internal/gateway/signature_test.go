package gateway

import (
	"crypto"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPayload() map[string]string {
	return map[string]string{
		"amount":      "50000",
		"mdOrder":     "md-order-1",
		"operation":   "deposited",
		"orderNumber": "pay_1700000000000_abc123",
		"status":      "1",
	}
}

func hmacSign(secret string, payload map[string]string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(CanonicalString(payload)))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestCanonicalStringOrdersAndSkipsFields(t *testing.T) {
	got := CanonicalString(validPayload())
	want := "amount;50000;mdOrder;md-order-1;operation;deposited;orderNumber;pay_1700000000000_abc123;status;1;"
	assert.Equal(t, want, got)

	partial := map[string]string{
		"status":      "1",
		"amount":      "50000",
		"orderNumber": "pay_1",
		"orderId":     "not-a-signed-field",
	}
	assert.Equal(t, "amount;50000;orderNumber;pay_1;status;1;", CanonicalString(partial))
}

func TestHMACVerifierAcceptsValidSignature(t *testing.T) {
	verifier := NewHMACVerifier("top-secret")
	payload := validPayload()
	sig := hmacSign("top-secret", payload)

	assert.True(t, verifier.Verify(payload, sig))
	assert.True(t, verifier.Verify(payload, strings.ToUpper(sig)), "hex signature comparison is case-insensitive")
}

func TestHMACVerifierRejectsTamperedPayload(t *testing.T) {
	verifier := NewHMACVerifier("top-secret")
	payload := validPayload()
	sig := hmacSign("top-secret", payload)

	for field := range payload {
		tampered := validPayload()
		tampered[field] = tampered[field] + "x"
		assert.False(t, verifier.Verify(tampered, sig), "tampering %s must invalidate the signature", field)
	}
}

func TestHMACVerifierRejectsTamperedSignature(t *testing.T) {
	verifier := NewHMACVerifier("top-secret")
	payload := validPayload()
	sig := hmacSign("top-secret", payload)

	for i := range sig {
		flipped := []byte(sig)
		if flipped[i] == 'a' {
			flipped[i] = 'b'
		} else {
			flipped[i] = 'a'
		}
		if string(flipped) == sig {
			continue
		}
		assert.False(t, verifier.Verify(payload, string(flipped)), "flipping signature byte %d must fail verification", i)
	}
}

func TestHMACVerifierRejectsWrongSecretAndEmptySignature(t *testing.T) {
	payload := validPayload()
	sig := hmacSign("top-secret", payload)

	assert.False(t, NewHMACVerifier("other-secret").Verify(payload, sig))
	assert.False(t, NewHMACVerifier("top-secret").Verify(payload, ""))
}

func TestRSAVerifier(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pemData := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	verifier, err := NewRSAVerifier(pemData)
	require.NoError(t, err)

	payload := validPayload()
	digest := sha512.Sum512([]byte(CanonicalString(payload)))
	raw, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA512, digest[:])
	require.NoError(t, err)
	sig := hex.EncodeToString(raw)

	assert.True(t, verifier.Verify(payload, sig))
	assert.True(t, verifier.Verify(payload, strings.ToUpper(sig)))

	tampered := validPayload()
	tampered["amount"] = "50001"
	assert.False(t, verifier.Verify(tampered, sig))
	assert.False(t, verifier.Verify(payload, sig[:len(sig)-2]+"00"))
	assert.False(t, verifier.Verify(payload, "zz"+sig[2:]), "non-hex signature must be rejected")
}

func TestNewRSAVerifierRejectsGarbage(t *testing.T) {
	_, err := NewRSAVerifier([]byte("not a pem block"))
	assert.ErrorIs(t, err, ErrInvalidPublicKey)
}

func TestVerifierWithoutTrustMaterialRejectsEverything(t *testing.T) {
	verifier := &Verifier{}
	assert.False(t, verifier.Verify(validPayload(), hmacSign("any", validPayload())))
}
