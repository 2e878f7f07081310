package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func testIdentities(t *testing.T) (*Keypair, *SigningKeypair) {
	t.Helper()

	kem, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error = %v", err)
	}
	sig, err := GenerateSigningKeypair()
	if err != nil {
		t.Fatalf("GenerateSigningKeypair() error = %v", err)
	}
	return kem, sig
}

func TestSealOpen_RoundTrip(t *testing.T) {
	t.Parallel()
	recipient, sender := testIdentities(t)

	plaintexts := [][]byte{
		[]byte("hello"),
		[]byte(""),
		[]byte("a longer message with some unicode: héllo wörld ☃"),
		bytes.Repeat([]byte{0xAB}, 4096),
	}

	for _, plaintext := range plaintexts {
		env, sig, err := Seal(plaintext, recipient.PublicKey, sender)
		if err != nil {
			t.Fatalf("Seal() error = %v", err)
		}

		if err := VerifyEnvelope(env, sig, sender.PublicKey); err != nil {
			t.Fatalf("VerifyEnvelope() error = %v", err)
		}

		got, err := Open(env, recipient)
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Errorf("round trip mismatch: got %q, want %q", got, plaintext)
		}
	}
}

func TestSeal_FreshKeyPerMessage(t *testing.T) {
	t.Parallel()
	recipient, sender := testIdentities(t)

	env1, _, err := Seal([]byte("same plaintext"), recipient.PublicKey, sender)
	if err != nil {
		t.Fatal(err)
	}
	env2, _, err := Seal([]byte("same plaintext"), recipient.PublicKey, sender)
	if err != nil {
		t.Fatal(err)
	}

	if env1.EncapsulatedKey == env2.EncapsulatedKey {
		t.Error("encapsulated key reused across messages")
	}
	if env1.IV == env2.IV {
		t.Error("nonce reused across messages")
	}
	if env1.Ciphertext == env2.Ciphertext {
		t.Error("identical ciphertext for two encryptions of the same plaintext")
	}
}

func TestVerifyEnvelope_FlippedSignatureByte(t *testing.T) {
	t.Parallel()
	recipient, sender := testIdentities(t)

	env, sig, err := Seal([]byte("hello"), recipient.PublicKey, sender)
	if err != nil {
		t.Fatal(err)
	}

	tampered := make([]byte, len(sig))
	copy(tampered, sig)
	tampered[0] ^= 0x01

	if err := VerifyEnvelope(env, tampered, sender.PublicKey); !errors.Is(err, ErrSignatureVerificationFailed) {
		t.Errorf("VerifyEnvelope() error = %v, want ErrSignatureVerificationFailed", err)
	}

	// Decryption still succeeds: the signature is detached and leniently
	// enforced at a higher layer.
	got, err := Open(env, recipient)
	if err != nil {
		t.Fatalf("Open() after bad signature error = %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("Open() = %q, want %q", got, "hello")
	}
}

func TestOpen_WrongRecipient(t *testing.T) {
	t.Parallel()
	recipient, sender := testIdentities(t)
	other, _ := testIdentities(t)

	env, _, err := Seal([]byte("secret"), recipient.PublicKey, sender)
	if err != nil {
		t.Fatal(err)
	}

	// ML-KEM decapsulation with the wrong key yields a random shared secret,
	// so the AEAD open fails.
	if _, err := Open(env, other); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("Open() with wrong key error = %v, want ErrDecryptionFailed", err)
	}
}

func TestOpen_Deterministic(t *testing.T) {
	t.Parallel()
	recipient, sender := testIdentities(t)

	env, _, err := Seal([]byte("again and again"), recipient.PublicKey, sender)
	if err != nil {
		t.Fatal(err)
	}

	first, err := Open(env, recipient)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Open(env, recipient)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Error("Open() not deterministic for identical inputs")
	}
}

func TestParseEnvelope(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		blob    string
		wantErr bool
	}{
		{
			"valid",
			`{"v":1,"alg":"x","encapsulated_key":"YWJj","iv":"YWJj","ciphertext":"YWJj"}`,
			false,
		},
		{"not json", `hello world`, true},
		{"missing encapsulated_key", `{"v":1,"iv":"YWJj","ciphertext":"YWJj"}`, true},
		{"missing iv", `{"v":1,"encapsulated_key":"YWJj","ciphertext":"YWJj"}`, true},
		{"missing ciphertext", `{"v":1,"encapsulated_key":"YWJj","iv":"YWJj"}`, true},
		{"empty object", `{}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEnvelope([]byte(tt.blob))
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedEnvelope) {
					t.Errorf("ParseEnvelope() error = %v, want ErrMalformedEnvelope", err)
				}
			} else if err != nil {
				t.Errorf("ParseEnvelope() error = %v", err)
			}
		})
	}
}

func TestEnvelope_MarshalRoundTrip(t *testing.T) {
	t.Parallel()
	recipient, sender := testIdentities(t)

	env, sig, err := Seal([]byte("over the wire"), recipient.PublicKey, sender)
	if err != nil {
		t.Fatal(err)
	}

	blob, err := env.Marshal()
	if err != nil {
		t.Fatal(err)
	}

	parsed, err := ParseEnvelope(blob)
	if err != nil {
		t.Fatalf("ParseEnvelope() error = %v", err)
	}

	if err := VerifyEnvelope(parsed, sig, sender.PublicKey); err != nil {
		t.Errorf("VerifyEnvelope() after wire round trip error = %v", err)
	}

	got, err := Open(parsed, recipient)
	if err != nil {
		t.Fatalf("Open() after wire round trip error = %v", err)
	}
	if string(got) != "over the wire" {
		t.Errorf("Open() = %q", got)
	}
}
