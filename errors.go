package lockbox

import (
	"errors"
	"fmt"

	"github.com/lockbox/client-go/internal/api"
	"github.com/lockbox/client-go/internal/crypto"
	"github.com/lockbox/client-go/internal/keystore"
)

// Sentinel errors for errors.Is() checks.
var (
	// ErrNoKeyMaterial is returned when no local identity keys exist.
	// Recoverable by GenerateKeys, ImportKeys or LoadKeys.
	ErrNoKeyMaterial = errors.New("no local key material")

	// ErrInvalidKeyMaterial is returned when imported key material has the
	// wrong size or shape.
	ErrInvalidKeyMaterial = errors.New("invalid key material")

	// ErrMalformedEnvelope is returned when wire data cannot be parsed as
	// an envelope.
	ErrMalformedEnvelope = errors.New("malformed envelope")

	// ErrDecryptionFailed is returned when an envelope cannot be decrypted
	// with the local keys.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrSignatureInvalid indicates a failed envelope signature check.
	// Decryption is not blocked by it; see Message.Verified.
	ErrSignatureInvalid = errors.New("signature verification failed")

	// ErrBackendUnavailable is returned on timeouts and network failures.
	// Local optimistic state is preserved; the operation may be retried.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrDuplicateRequest is returned when a chat request targets a user
	// who is already an active or pending contact.
	ErrDuplicateRequest = errors.New("chat request already exists")

	// ErrSessionExpired is returned after the backend rejected the session
	// token. The caller must re-authenticate and call SetToken.
	ErrSessionExpired = errors.New("session expired")

	// ErrClientClosed is returned when operations are attempted on a
	// closed client.
	ErrClientClosed = errors.New("client has been closed")
)

// APIError represents an HTTP error from the LockBox backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error %d", e.StatusCode)
}

// Is implements errors.Is for sentinel error matching.
func (e *APIError) Is(target error) bool {
	switch e.StatusCode {
	case 401:
		return target == ErrSessionExpired
	case 409:
		return target == ErrDuplicateRequest
	}
	return false
}

// NetworkError represents a network-level failure reaching the backend.
type NetworkError struct {
	Err     error
	URL     string
	Attempt int
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for sentinel error matching.
func (e *NetworkError) Is(target error) bool {
	return target == ErrBackendUnavailable
}

// wrapError converts internal errors to public errors so that errors.Is()
// checks work against the package sentinels.
func wrapError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, api.ErrNoSession):
		return ErrSessionExpired
	case errors.Is(err, keystore.ErrNoKeyMaterial):
		return ErrNoKeyMaterial
	case errors.Is(err, keystore.ErrInvalidKeyMaterial):
		return ErrInvalidKeyMaterial
	case errors.Is(err, crypto.ErrMalformedEnvelope):
		return ErrMalformedEnvelope
	case errors.Is(err, crypto.ErrDecryptionFailed):
		return ErrDecryptionFailed
	case errors.Is(err, crypto.ErrSignatureVerificationFailed):
		return ErrSignatureInvalid
	}

	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		return &APIError{
			StatusCode: apiErr.StatusCode,
			Message:    apiErr.Message,
		}
	}

	var netErr *api.NetworkError
	if errors.As(err, &netErr) {
		return &NetworkError{
			Err:     netErr.Err,
			URL:     netErr.URL,
			Attempt: netErr.Attempt,
		}
	}

	return err
}
