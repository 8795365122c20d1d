package scheduling

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureVerifier checks webhook payload signatures against the shared
// secret agreed with the provider.
type SignatureVerifier struct {
	secret []byte
}

func NewSignatureVerifier(secret string) *SignatureVerifier {
	return &SignatureVerifier{secret: []byte(strings.TrimSpace(secret))}
}

// Verify computes HMAC-SHA256 over the raw payload and compares it in
// constant time against the signature header. The header may carry an
// optional "sha256=" prefix.
func (v *SignatureVerifier) Verify(rawPayload []byte, signatureHeader string) bool {
	if len(v.secret) == 0 || signatureHeader == "" {
		return false
	}

	signature := strings.TrimPrefix(strings.TrimSpace(signatureHeader), "sha256=")
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(rawPayload)
	return hmac.Equal(mac.Sum(nil), expected)
}

// Sign returns the hex HMAC-SHA256 signature for a payload. Used by
// tests and local tooling to produce valid webhook deliveries.
func (v *SignatureVerifier) Sign(rawPayload []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(rawPayload)
	return hex.EncodeToString(mac.Sum(nil))
}
