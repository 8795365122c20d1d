package scheduling

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignatureVerifier(t *testing.T) {
	v := NewSignatureVerifier("shared-secret")
	payload := []byte(`{"type":"invitee.created"}`)
	sig := v.Sign(payload)

	assert.True(t, v.Verify(payload, sig))
	assert.True(t, v.Verify(payload, "sha256="+sig), "prefixed header form is accepted")
	assert.True(t, v.Verify(payload, "  "+sig+"  "), "surrounding whitespace is tolerated")

	assert.False(t, v.Verify([]byte(`{"event":"tampered"}`), sig))
	assert.False(t, v.Verify(payload, ""))
	assert.False(t, v.Verify(payload, "not-hex"))

	other := NewSignatureVerifier("different-secret")
	assert.False(t, other.Verify(payload, sig))
}

func TestSignatureVerifier_EmptySecretRejectsAll(t *testing.T) {
	v := NewSignatureVerifier("")
	payload := []byte(`{}`)
	assert.False(t, v.Verify(payload, v.Sign(payload)))
}
