package oracle

import (
	"errors"
	"fmt"
)

// ErrInvalidSignature is returned when a submission's signature fails
// verification.
var ErrInvalidSignature = errors.New("oracle: invalid signature")

// SignatureVerifier checks that a submitted value was signed by the oracle's
// key. The production deployment supplies a real cryptographic
// implementation; the default only enforces shape so the consensus path can
// run without key material.
type SignatureVerifier interface {
	Verify(publicKey, signature string, value float64) error
}

// minSignatureLength is the shortest signature the format check accepts.
const minSignatureLength = 16

// FormatVerifier is the default SignatureVerifier. It rejects empty or
// implausibly short signatures but performs no cryptography.
type FormatVerifier struct{}

// Verify implements SignatureVerifier.
func (FormatVerifier) Verify(publicKey, signature string, value float64) error {
	if publicKey == "" {
		return fmt.Errorf("%w: oracle has no public key", ErrInvalidSignature)
	}
	if len(signature) < minSignatureLength {
		return fmt.Errorf("%w: signature too short", ErrInvalidSignature)
	}
	return nil
}
