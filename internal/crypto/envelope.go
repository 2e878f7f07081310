package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Envelope is the serialized structure carrying one encrypted message.
// All binary fields are base64url-encoded. An envelope is immutable once
// created.
type Envelope struct {
	// V is the envelope format version.
	V int `json:"v"`
	// Alg names the algorithm suite used, see AlgorithmTag.
	Alg string `json:"alg"`
	// EncapsulatedKey is the ML-KEM-768 ciphertext transporting the
	// per-message AES key.
	EncapsulatedKey string `json:"encapsulated_key"`
	// IV is the AES-GCM nonce.
	IV string `json:"iv"`
	// Ciphertext is the AES-256-GCM encrypted message content.
	Ciphertext string `json:"ciphertext"`
}

// ParseEnvelope deserializes an envelope from its wire form and checks that
// every required field is present.
func ParseEnvelope(blob []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.EncapsulatedKey == "" || env.IV == "" || env.Ciphertext == "" {
		return nil, fmt.Errorf("%w: missing field", ErrMalformedEnvelope)
	}
	return &env, nil
}

// Marshal serializes the envelope to its wire form.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Seal encrypts plaintext to the recipient's KEM public key and signs the
// result with the sender's signing key. It returns the envelope and the
// detached signature.
//
// A fresh AES-256 key and GCM nonce are generated for this message only:
//  1. encapsulate a shared secret under the recipient's ML-KEM-768 public key
//  2. derive the AES key from the shared secret with HKDF-SHA-512
//  3. encrypt the plaintext with AES-256-GCM
//  4. sign the envelope transcript with ML-DSA-65
func Seal(plaintext, recipientKemPk []byte, signer *SigningKeypair) (*Envelope, []byte, error) {
	ctKem, sharedSecret, err := Encapsulate(recipientKemPk)
	if err != nil {
		return nil, nil, fmt.Errorf("encapsulate: %w", err)
	}

	aesKey, err := deriveKey(sharedSecret, ctKem)
	if err != nil {
		return nil, nil, fmt.Errorf("derive key: %w", err)
	}

	nonce := make([]byte, AESNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext, err := sealAESGCM(aesKey, nonce, plaintext)
	if err != nil {
		return nil, nil, fmt.Errorf("encrypt: %w", err)
	}

	env := &Envelope{
		V:               EnvelopeVersion,
		Alg:             AlgorithmTag,
		EncapsulatedKey: ToBase64URL(ctKem),
		IV:              ToBase64URL(nonce),
		Ciphertext:      ToBase64URL(ciphertext),
	}

	transcript := buildTranscript(env.V, env.Alg, ctKem, nonce, ciphertext)
	sig, err := Sign(signer.SecretKey, transcript)
	if err != nil {
		return nil, nil, fmt.Errorf("sign envelope: %w", err)
	}

	return env, sig, nil
}

// Open decrypts an envelope with the local KEM keypair.
//
// It does NOT verify signatures; call [VerifyEnvelope] first. Decryption is
// deterministic: the same envelope and secret key always yield the same
// plaintext or the same failure.
func Open(env *Envelope, keypair *Keypair) ([]byte, error) {
	ctKem, err := FromBase64URL(env.EncapsulatedKey)
	if err != nil {
		return nil, fmt.Errorf("%w: decode encapsulated_key: %v", ErrMalformedEnvelope, err)
	}

	nonce, err := FromBase64URL(env.IV)
	if err != nil {
		return nil, fmt.Errorf("%w: decode iv: %v", ErrMalformedEnvelope, err)
	}

	ciphertext, err := FromBase64URL(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: decode ciphertext: %v", ErrMalformedEnvelope, err)
	}

	sharedSecret, err := keypair.Decapsulate(ctKem)
	if err != nil {
		return nil, fmt.Errorf("decapsulate: %w", err)
	}

	aesKey, err := deriveKey(sharedSecret, ctKem)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	plaintext, err := openAESGCM(aesKey, nonce, ciphertext)
	if err != nil {
		return nil, err
	}

	return plaintext, nil
}

// VerifyEnvelope checks the detached ML-DSA-65 signature over the envelope
// transcript against the sender's signing public key.
func VerifyEnvelope(env *Envelope, signature, senderSigPk []byte) error {
	ctKem, err := FromBase64URL(env.EncapsulatedKey)
	if err != nil {
		return fmt.Errorf("%w: decode encapsulated_key: %v", ErrMalformedEnvelope, err)
	}

	nonce, err := FromBase64URL(env.IV)
	if err != nil {
		return fmt.Errorf("%w: decode iv: %v", ErrMalformedEnvelope, err)
	}

	ciphertext, err := FromBase64URL(env.Ciphertext)
	if err != nil {
		return fmt.Errorf("%w: decode ciphertext: %v", ErrMalformedEnvelope, err)
	}

	transcript := buildTranscript(env.V, env.Alg, ctKem, nonce, ciphertext)
	return Verify(senderSigPk, transcript, signature)
}

// buildTranscript constructs the byte string the detached signature covers.
// Sender and recipient must build it identically.
func buildTranscript(version int, alg string, ctKem, nonce, ciphertext []byte) []byte {
	transcript := []byte{byte(version)}
	transcript = append(transcript, []byte(alg)...)
	transcript = append(transcript, []byte(HKDFContext)...)
	transcript = append(transcript, ctKem...)
	transcript = append(transcript, nonce...)
	transcript = append(transcript, ciphertext...)
	return transcript
}

// deriveKey derives the per-message AES-256 key from the KEM shared secret.
// The salt binds the key to this KEM ciphertext; the info string provides
// domain separation.
func deriveKey(sharedSecret, ctKem []byte) ([]byte, error) {
	saltHash := sha256.Sum256(ctKem)

	reader := hkdf.New(sha512.New, sharedSecret, saltHash[:], []byte(HKDFContext))
	key := make([]byte, AESKeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, err
	}

	return key, nil
}
