// Package keystore manages the local identity's asymmetric key material:
// an ML-KEM-768 keypair for key encapsulation and an ML-DSA-65 keypair for
// envelope signatures. Keys are held in memory for the session lifetime and
// persisted encrypted at rest under a key derived from the session secret
// with Argon2id; the payload itself is sealed with ChaCha20-Poly1305.
package keystore

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/lockbox/client-go/internal/crypto"
)

var (
	// ErrNoKeyMaterial is returned when no local identity keys are available.
	ErrNoKeyMaterial = errors.New("no local key material")

	// ErrInvalidKeyMaterial is returned when imported key bytes have the
	// wrong size for the scheme.
	ErrInvalidKeyMaterial = errors.New("invalid key material")
)

// Keypairs is the identity keypair set: KEM and signing halves.
type Keypairs struct {
	KEM     *crypto.Keypair
	Signing *crypto.SigningKeypair
}

// Publisher uploads the public halves of a freshly created or imported
// identity to the backend. Publish failures are logged, never fatal.
type Publisher func(ctx context.Context, kemPublicKey, sigPublicKey []byte) error

// Store owns the identity keypair set for one logged-in user.
type Store struct {
	path    string
	secret  []byte
	publish Publisher
	logger  *slog.Logger

	mu   sync.Mutex
	keys *Keypairs
}

// keyFile is the on-disk container. Salt is stored in the clear; Sealed is
// the ChaCha20-Poly1305 box (nonce-prefixed) over the CBOR key payload.
type keyFile struct {
	Salt   []byte `json:"salt"`
	Sealed []byte `json:"sealed"`
}

type keyPayload struct {
	KEMSecret []byte `cbor:"kem_secret"`
	SigSecret []byte `cbor:"sig_secret"`
}

// New creates a key store persisting to dir/<userID>.keys, encrypting at rest
// with a key derived from secret. publish may be nil.
func New(dir, userID string, secret []byte, publish Publisher, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create key dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:    filepath.Join(dir, userID+".keys"),
		secret:  secret,
		publish: publish,
		logger:  logger,
	}, nil
}

// Generate creates a fresh identity keypair set, persists it, and publishes
// the public halves. After Generate returns, Current is guaranteed non-nil.
func (s *Store) Generate(ctx context.Context) (*Keypairs, error) {
	kem, err := crypto.GenerateKeypair()
	if err != nil {
		return nil, fmt.Errorf("generate kem keypair: %w", err)
	}
	sig, err := crypto.GenerateSigningKeypair()
	if err != nil {
		return nil, fmt.Errorf("generate signing keypair: %w", err)
	}

	keys := &Keypairs{KEM: kem, Signing: sig}
	if err := s.persist(keys); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.keys = keys
	s.mu.Unlock()

	s.publishPublic(ctx, keys)
	return keys, nil
}

// Import installs externally supplied private keys. Both keys are validated
// against the scheme's fixed private-key sizes; the public halves are derived
// deterministically. Persists and publishes like Generate.
func (s *Store) Import(ctx context.Context, kemSecret, sigSecret []byte) (*Keypairs, error) {
	if len(kemSecret) != crypto.MLKEMSecretKeySize {
		return nil, fmt.Errorf("%w: kem secret key is %d bytes, want %d",
			ErrInvalidKeyMaterial, len(kemSecret), crypto.MLKEMSecretKeySize)
	}
	if len(sigSecret) != crypto.MLDSASecretKeySize {
		return nil, fmt.Errorf("%w: signing secret key is %d bytes, want %d",
			ErrInvalidKeyMaterial, len(sigSecret), crypto.MLDSASecretKeySize)
	}

	kem, err := crypto.KeypairFromSecretKey(kemSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyMaterial, err)
	}
	sig, err := crypto.SigningKeypairFromSecretKey(sigSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyMaterial, err)
	}

	keys := &Keypairs{KEM: kem, Signing: sig}
	if err := s.persist(keys); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.keys = keys
	s.mu.Unlock()

	s.publishPublic(ctx, keys)
	return keys, nil
}

// Load decrypts previously persisted keys into memory. A missing or corrupt
// key file is treated as absence: Load returns (nil, nil) and the caller is
// expected to Generate or Import.
func (s *Store) Load() (*Keypairs, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read key file: %w", err)
	}

	keys, err := s.decode(raw)
	if err != nil {
		s.logger.Warn("key file unreadable, treating as absent", "path", s.path, "error", err)
		return nil, nil
	}

	s.mu.Lock()
	s.keys = keys
	s.mu.Unlock()
	return keys, nil
}

// Current returns the in-memory keypair set, or nil if none is loaded.
func (s *Store) Current() *Keypairs {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys
}

// Clear wipes the in-memory keys and removes the persisted file. Subsequent
// cryptographic operations fail with ErrNoKeyMaterial until keys are
// generated, imported or loaded again.
func (s *Store) Clear() error {
	s.mu.Lock()
	if s.keys != nil {
		zero(s.keys.KEM.SecretKey)
		zero(s.keys.Signing.SecretKey)
		s.keys = nil
	}
	s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove key file: %w", err)
	}
	return nil
}

func (s *Store) persist(keys *Keypairs) error {
	payload, err := cbor.Marshal(keyPayload{
		KEMSecret: keys.KEM.SecretKey,
		SigSecret: keys.Signing.SecretKey,
	})
	if err != nil {
		return fmt.Errorf("encode key payload: %w", err)
	}

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return err
	}

	aead, err := chacha20poly1305.New(s.deriveKey(salt))
	if err != nil {
		return err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	sealed := aead.Seal(nonce, nonce, payload, nil)

	blob, err := json.Marshal(keyFile{Salt: salt, Sealed: sealed})
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o600); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func (s *Store) decode(raw []byte) (*Keypairs, error) {
	var kf keyFile
	if err := json.Unmarshal(raw, &kf); err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(s.deriveKey(kf.Salt))
	if err != nil {
		return nil, err
	}
	if len(kf.Sealed) < aead.NonceSize() {
		return nil, errors.New("sealed payload too short")
	}
	nonce := kf.Sealed[:aead.NonceSize()]
	payload, err := aead.Open(nil, nonce, kf.Sealed[aead.NonceSize():], nil)
	if err != nil {
		return nil, err
	}

	var kp keyPayload
	if err := cbor.Unmarshal(payload, &kp); err != nil {
		return nil, err
	}

	kem, err := crypto.KeypairFromSecretKey(kp.KEMSecret)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.SigningKeypairFromSecretKey(kp.SigSecret)
	if err != nil {
		return nil, err
	}
	return &Keypairs{KEM: kem, Signing: sig}, nil
}

func (s *Store) deriveKey(salt []byte) []byte {
	return argon2.IDKey(s.secret, salt, 1, 64*1024, 4, chacha20poly1305.KeySize)
}

func (s *Store) publishPublic(ctx context.Context, keys *Keypairs) {
	if s.publish == nil {
		return
	}
	if err := s.publish(ctx, keys.KEM.PublicKey, keys.Signing.PublicKey); err != nil {
		s.logger.Warn("publishing public keys failed", "error", err)
	}
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
