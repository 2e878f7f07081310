package crypto

import "errors"

var (
	// ErrInvalidSecretKeySize is returned when a KEM secret key has the wrong size.
	ErrInvalidSecretKeySize = errors.New("invalid secret key size")

	// ErrInvalidPublicKeySize is returned when a public key has the wrong size.
	ErrInvalidPublicKeySize = errors.New("invalid public key size")

	// ErrInvalidSigningKeySize is returned when a signature secret key has the wrong size.
	ErrInvalidSigningKeySize = errors.New("invalid signing key size")

	// ErrInvalidCiphertextSize is returned when a KEM ciphertext has the wrong size.
	ErrInvalidCiphertextSize = errors.New("invalid ciphertext size")

	// ErrSignatureVerificationFailed is returned when signature verification fails.
	ErrSignatureVerificationFailed = errors.New("signature verification failed")

	// ErrMalformedEnvelope is returned when an envelope is missing required
	// fields or cannot be parsed.
	ErrMalformedEnvelope = errors.New("malformed envelope")

	// ErrDecryptionFailed is returned when decryption fails.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrInvalidKeySize is returned when the AES key size is invalid.
	ErrInvalidKeySize = errors.New("invalid key size")

	// ErrInvalidNonceSize is returned when the nonce size is invalid.
	ErrInvalidNonceSize = errors.New("invalid nonce size")
)
