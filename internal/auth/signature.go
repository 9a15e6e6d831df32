package auth

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
)

var (
	ErrInvalidPublicKey = errors.New("invalid public key")
	ErrInvalidSignature = errors.New("invalid signature")
)

// VerifyChallenge checks an ed25519 signature over a challenge during the
// CLI bootstrap handshake. All three inputs are standard base64. The error
// distinguishes a malformed public key from a bad signature so the handler
// can report which one the client got wrong.
func VerifyChallenge(publicKeyB64, challengeB64, signatureB64 string) error {
	publicKey, ok := decodeB64(publicKeyB64, ed25519.PublicKeySize)
	if !ok {
		return ErrInvalidPublicKey
	}
	challenge, ok := decodeB64(challengeB64, 0)
	if !ok {
		return ErrInvalidSignature
	}
	signature, ok := decodeB64(signatureB64, ed25519.SignatureSize)
	if !ok {
		return ErrInvalidSignature
	}
	if !ed25519.Verify(ed25519.PublicKey(publicKey), challenge, signature) {
		return ErrInvalidSignature
	}
	return nil
}

// decodeB64 decodes standard base64 and enforces an exact length when
// wantLen is nonzero; either way the result must be non-empty.
func decodeB64(s string, wantLen int) ([]byte, bool) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(raw) == 0 {
		return nil, false
	}
	if wantLen > 0 && len(raw) != wantLen {
		return nil, false
	}
	return raw, true
}
