package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func TestGenerateKeypair_Sizes(t *testing.T) {
	t.Parallel()
	kp, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error = %v", err)
	}

	if len(kp.PublicKey) != MLKEMPublicKeySize {
		t.Errorf("public key size = %d, want %d", len(kp.PublicKey), MLKEMPublicKeySize)
	}
	if len(kp.SecretKey) != MLKEMSecretKeySize {
		t.Errorf("secret key size = %d, want %d", len(kp.SecretKey), MLKEMSecretKeySize)
	}
}

func TestKeypairFromSecretKey(t *testing.T) {
	t.Parallel()
	kp, err := GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}

	restored, err := KeypairFromSecretKey(kp.SecretKey)
	if err != nil {
		t.Fatalf("KeypairFromSecretKey() error = %v", err)
	}
	if !bytes.Equal(restored.PublicKey, kp.PublicKey) {
		t.Error("derived public key does not match the generated one")
	}
}

func TestKeypairFromSecretKey_InvalidSize(t *testing.T) {
	t.Parallel()

	for _, size := range []int{0, 1, MLKEMSecretKeySize - 1, MLKEMSecretKeySize + 1} {
		if _, err := KeypairFromSecretKey(make([]byte, size)); !errors.Is(err, ErrInvalidSecretKeySize) {
			t.Errorf("size %d: error = %v, want ErrInvalidSecretKeySize", size, err)
		}
	}
}

func TestFallbackKeypair_Deterministic(t *testing.T) {
	t.Parallel()

	a := FallbackKeypair("user-123")
	b := FallbackKeypair("user-123")
	other := FallbackKeypair("user-456")

	if !bytes.Equal(a.PublicKey, b.PublicKey) || !bytes.Equal(a.SecretKey, b.SecretKey) {
		t.Error("fallback keypair not deterministic for the same id")
	}
	if bytes.Equal(a.PublicKey, other.PublicKey) {
		t.Error("different ids produced the same fallback keypair")
	}
	if len(a.PublicKey) != MLKEMPublicKeySize {
		t.Errorf("fallback public key size = %d, want %d", len(a.PublicKey), MLKEMPublicKeySize)
	}
}

func TestFallbackKeypair_DecryptsOwnTraffic(t *testing.T) {
	t.Parallel()
	sender, err := GenerateSigningKeypair()
	if err != nil {
		t.Fatal(err)
	}

	fb := FallbackKeypair("offline-user")
	env, _, err := Seal([]byte("to an unpublished peer"), fb.PublicKey, sender)
	if err != nil {
		t.Fatalf("Seal() to fallback key error = %v", err)
	}

	// Anyone re-deriving the fallback keypair can read the message.
	got, err := Open(env, FallbackKeypair("offline-user"))
	if err != nil {
		t.Fatalf("Open() with re-derived fallback key error = %v", err)
	}
	if string(got) != "to an unpublished peer" {
		t.Errorf("Open() = %q", got)
	}
}

func TestEncapsulate_InvalidPublicKeySize(t *testing.T) {
	t.Parallel()
	if _, _, err := Encapsulate(make([]byte, 57)); !errors.Is(err, ErrInvalidPublicKeySize) {
		t.Errorf("Encapsulate() error = %v, want ErrInvalidPublicKeySize", err)
	}
}

func TestDecapsulate_InvalidCiphertextSize(t *testing.T) {
	t.Parallel()
	kp, err := GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := kp.Decapsulate(make([]byte, 12)); !errors.Is(err, ErrInvalidCiphertextSize) {
		t.Errorf("Decapsulate() error = %v, want ErrInvalidCiphertextSize", err)
	}
}
