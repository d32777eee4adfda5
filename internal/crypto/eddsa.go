// Package crypto wraps the cryptographic primitives the consensus core
// relies on: EdDSA for header signing and BLS for single and aggregate commit
// signatures. Nothing here implements
// novel cryptography — it adapts library output to the core's data model.
package crypto

import (
	"crypto/ed25519"
	"errors"
)

// ErrInvalidSignature is returned by VerifyHeaderSignature on any failed check.
var ErrInvalidSignature = errors.New("crypto: invalid signature")

// SignHeader produces an EdDSA signature over msg (a header's SignedBytes).
func SignHeader(priv ed25519.PrivateKey, msg []byte) []byte {
	return ed25519.Sign(priv, msg)
}

// VerifyHeaderSignature checks an EdDSA signature over msg.
func VerifyHeaderSignature(pub ed25519.PublicKey, msg, sig []byte) error {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return ErrInvalidSignature
	}
	if !ed25519.Verify(pub, msg, sig) {
		return ErrInvalidSignature
	}
	return nil
}
