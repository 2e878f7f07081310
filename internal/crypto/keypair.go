package crypto

import (
	"crypto/sha512"
	"io"

	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
)

// randReader is the random source used for key generation.
// It defaults to nil (which uses crypto/rand) but can be overridden for testing.
var randReader io.Reader

// Keypair represents an ML-KEM-768 keypair for key encapsulation.
type Keypair struct {
	// PublicKey is the raw ML-KEM-768 public key bytes.
	PublicKey []byte
	// SecretKey is the raw ML-KEM-768 secret key bytes.
	SecretKey []byte
}

// GenerateKeypair creates a new ML-KEM-768 keypair.
func GenerateKeypair() (*Keypair, error) {
	pub, priv, err := mlkem768.GenerateKeyPair(randReader)
	if err != nil {
		return nil, err
	}

	// MarshalBinary never fails for valid keys from GenerateKeyPair
	pubBytes, _ := pub.MarshalBinary()
	privBytes, _ := priv.MarshalBinary()

	return &Keypair{
		PublicKey: pubBytes,
		SecretKey: privBytes,
	}, nil
}

// KeypairFromSecretKey reconstructs a keypair from the secret key.
// The public key is embedded in the secret key at offset 1152.
func KeypairFromSecretKey(secretKey []byte) (*Keypair, error) {
	publicKey, err := DerivePublicKeyFromSecret(secretKey)
	if err != nil {
		return nil, err
	}

	// Validate that the secret key actually parses.
	priv := &mlkem768.PrivateKey{}
	if err := priv.Unpack(secretKey); err != nil {
		return nil, err
	}

	return &Keypair{
		PublicKey: publicKey,
		SecretKey: secretKey,
	}, nil
}

// DerivePublicKeyFromSecret extracts the public key embedded in an
// ML-KEM-768 secret key.
func DerivePublicKeyFromSecret(secretKey []byte) ([]byte, error) {
	if len(secretKey) != MLKEMSecretKeySize {
		return nil, ErrInvalidSecretKeySize
	}

	publicKey := make([]byte, MLKEMPublicKeySize)
	copy(publicKey, secretKey[PublicKeyOffset:PublicKeyOffset+MLKEMPublicKeySize])
	return publicKey, nil
}

// FallbackKeypair derives a deterministic ML-KEM-768 keypair from a user id.
// It is used when a peer has no published keys so that encryption always
// succeeds. The same id always yields the same keypair, for every caller:
// messages sealed to a fallback key provide NO confidentiality.
func FallbackKeypair(userID string) *Keypair {
	seed := sha512.Sum512([]byte(FallbackContext + userID))

	pub, priv := mlkem768.Scheme().DeriveKeyPair(seed[:])
	pubBytes, _ := pub.MarshalBinary()
	privBytes, _ := priv.MarshalBinary()

	return &Keypair{
		PublicKey: pubBytes,
		SecretKey: privBytes,
	}
}

// Encapsulate generates a fresh shared secret for the given recipient public
// key and returns the KEM ciphertext transporting it.
func Encapsulate(recipientPublicKey []byte) (ctKem, sharedSecret []byte, err error) {
	if len(recipientPublicKey) != MLKEMPublicKeySize {
		return nil, nil, ErrInvalidPublicKeySize
	}

	pub, err := mlkem768.Scheme().UnmarshalBinaryPublicKey(recipientPublicKey)
	if err != nil {
		return nil, nil, err
	}

	return mlkem768.Scheme().Encapsulate(pub)
}

// Decapsulate recovers the shared secret from the encapsulated key.
func (k *Keypair) Decapsulate(encapsulatedKey []byte) ([]byte, error) {
	if len(encapsulatedKey) != MLKEMCiphertextSize {
		return nil, ErrInvalidCiphertextSize
	}

	var privKey mlkem768.PrivateKey
	if err := privKey.Unpack(k.SecretKey); err != nil {
		return nil, err
	}

	sharedSecret := make([]byte, MLKEMSharedKeySize)
	privKey.DecapsulateTo(sharedSecret, encapsulatedKey)

	return sharedSecret, nil
}
