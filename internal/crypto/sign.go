package crypto

import (
	"fmt"

	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
)

// SigningKeypair represents an ML-DSA-65 keypair for envelope signatures.
type SigningKeypair struct {
	// PublicKey is the raw ML-DSA-65 public key bytes.
	PublicKey []byte
	// SecretKey is the raw ML-DSA-65 secret key bytes.
	SecretKey []byte
}

// GenerateSigningKeypair creates a new ML-DSA-65 keypair.
func GenerateSigningKeypair() (*SigningKeypair, error) {
	pub, priv, err := mldsa65.GenerateKey(randReader)
	if err != nil {
		return nil, err
	}

	pubBytes, _ := pub.MarshalBinary()
	privBytes, _ := priv.MarshalBinary()

	return &SigningKeypair{
		PublicKey: pubBytes,
		SecretKey: privBytes,
	}, nil
}

// SigningKeypairFromSecretKey reconstructs a signing keypair from the secret
// key, deriving the matching public key.
func SigningKeypairFromSecretKey(secretKey []byte) (*SigningKeypair, error) {
	publicKey, err := DeriveSigningPublicKey(secretKey)
	if err != nil {
		return nil, err
	}
	return &SigningKeypair{
		PublicKey: publicKey,
		SecretKey: secretKey,
	}, nil
}

// DeriveSigningPublicKey derives the ML-DSA-65 public key from a secret key.
func DeriveSigningPublicKey(secretKey []byte) ([]byte, error) {
	if len(secretKey) != MLDSASecretKeySize {
		return nil, ErrInvalidSigningKeySize
	}

	sk := &mldsa65.PrivateKey{}
	if err := sk.UnmarshalBinary(secretKey); err != nil {
		return nil, fmt.Errorf("unmarshal signing key: %w", err)
	}

	pub, ok := sk.Public().(*mldsa65.PublicKey)
	if !ok {
		return nil, fmt.Errorf("unexpected public key type")
	}

	pubBytes, _ := pub.MarshalBinary()
	return pubBytes, nil
}

// Sign produces an ML-DSA-65 signature over message with the given secret key.
func Sign(secretKey, message []byte) ([]byte, error) {
	if len(secretKey) != MLDSASecretKeySize {
		return nil, ErrInvalidSigningKeySize
	}

	sk := &mldsa65.PrivateKey{}
	if err := sk.UnmarshalBinary(secretKey); err != nil {
		return nil, fmt.Errorf("unmarshal signing key: %w", err)
	}

	sig := make([]byte, mldsa65.SignatureSize)
	if err := mldsa65.SignTo(sk, message, nil, false, sig); err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}

	return sig, nil
}

// Verify checks an ML-DSA-65 signature. It never panics and returns an error
// on any parse or verification failure.
func Verify(publicKey, message, signature []byte) error {
	pk := &mldsa65.PublicKey{}
	if err := pk.UnmarshalBinary(publicKey); err != nil {
		return fmt.Errorf("failed to parse public key: %w", err)
	}

	if !mldsa65.Verify(pk, message, nil, signature) {
		return ErrSignatureVerificationFailed
	}

	return nil
}
