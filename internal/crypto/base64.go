package crypto

import "encoding/base64"

// ToBase64URL encodes bytes to URL-safe base64 without padding.
// All protocol values (keys, nonces, ciphertexts, signatures) use this form.
func ToBase64URL(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

// FromBase64URL decodes URL-safe unpadded base64.
func FromBase64URL(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}
