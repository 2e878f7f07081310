// Package crypto implements the LockBox message envelope codec. It provides
// post-quantum key encapsulation, authenticated encryption, and digital
// signatures using modern, standardized algorithms.
//
// # Algorithm Suite
//
// The package uses the following cryptographic algorithms:
//
//   - ML-KEM-768 (NIST FIPS 203): Post-quantum key encapsulation mechanism
//     for transporting the per-message symmetric key under the recipient's
//     public key. Provides 192-bit classical and quantum security levels.
//
//   - ML-DSA-65 (NIST FIPS 204): Post-quantum digital signature algorithm
//     for authenticating envelopes. Provides 192-bit security.
//
//   - AES-256-GCM: Authenticated encryption for message content.
//
//   - HKDF-SHA-512 (RFC 5869): Key derivation function for deriving AES keys
//     from KEM shared secrets with domain separation.
//
// # Envelope Format
//
// Each message is carried in an [Envelope]: a self-describing JSON structure
// holding the KEM ciphertext, the AEAD nonce, the AEAD ciphertext and an
// algorithm tag, paired with a detached ML-DSA-65 signature over the envelope
// transcript. A fresh symmetric key and nonce are generated for every message
// and never reused.
//
// # Security Notes
//
// [VerifyEnvelope] should be called before [Open]. The relay treats a failed
// verification as non-fatal (it is logged and decryption proceeds) to match
// the protocol's lenient delivery policy, but callers are given the
// verification result so they can surface it.
//
// Peers without published keys are addressed via [FallbackKeypair], a keypair
// derived deterministically from the peer's user id. Messages sealed to a
// fallback key are readable by anyone who can derive the same keypair, so
// they are NOT confidential. Callers must treat fallback delivery as
// plaintext-equivalent and flag it.
//
// # Key Management
//
// Use [GenerateKeypair] to create a new ML-KEM-768 keypair and
// [GenerateSigningKeypair] for ML-DSA-65. The KEM secret key contains an
// embedded copy of the public key at offset 1152, which can be extracted
// using [KeypairFromSecretKey] or [DerivePublicKeyFromSecret].
package crypto
