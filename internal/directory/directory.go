// Package directory resolves peer public keys from the backend.
//
// Lookups are always fresh: the backend is the source of truth for key
// rotation, so results are never cached on the client. When a lookup fails
// for any reason (network error, unknown user, malformed key material) the
// directory degrades to a deterministic fallback record so that sending
// never blocks on key resolution. Fallback records are flagged so callers
// can warn that confidentiality is not guaranteed.
package directory

import (
	"context"
	"log/slog"

	"github.com/lockbox/client-go/internal/api"
	"github.com/lockbox/client-go/internal/crypto"
)

// KeyFetcher is the backend surface the directory depends on.
type KeyFetcher interface {
	GetPublicKeys(ctx context.Context, userID string) (*api.PeerKeys, error)
}

// Record holds the resolved key material for one peer.
type Record struct {
	UserID       string
	KemPublicKey []byte
	SigPublicKey []byte // nil when the peer never published a signing key
	Fallback     bool
}

// Directory resolves peer encryption and signing keys.
type Directory struct {
	fetcher KeyFetcher
	logger  *slog.Logger
}

// New builds a directory over the given backend client.
func New(fetcher KeyFetcher, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{fetcher: fetcher, logger: logger}
}

// Resolve fetches the peer's published keys. It never fails: any error on
// the lookup path yields the deterministic fallback record for userID.
func (d *Directory) Resolve(ctx context.Context, userID string) *Record {
	keys, err := d.fetcher.GetPublicKeys(ctx, userID)
	if err != nil {
		d.logger.Warn("key lookup failed, using fallback keys",
			"user_id", userID, "error", err)
		return fallbackRecord(userID)
	}

	kemPk, err := crypto.FromBase64URL(keys.KemPublicKey)
	if err != nil || len(kemPk) != crypto.MLKEMPublicKeySize {
		d.logger.Warn("peer published malformed encryption key, using fallback keys",
			"user_id", userID, "size", len(kemPk))
		return fallbackRecord(userID)
	}

	rec := &Record{UserID: userID, KemPublicKey: kemPk}
	if keys.SigPublicKey != "" {
		sigPk, err := crypto.FromBase64URL(keys.SigPublicKey)
		if err != nil || len(sigPk) != crypto.MLDSAPublicKeySize {
			// A bad signing key only weakens authentication, not
			// confidentiality. Keep the real encryption key.
			d.logger.Warn("peer published malformed signing key, skipping verification",
				"user_id", userID, "size", len(sigPk))
		} else {
			rec.SigPublicKey = sigPk
		}
	}
	return rec
}

func fallbackRecord(userID string) *Record {
	kp := crypto.FallbackKeypair(userID)
	return &Record{
		UserID:       userID,
		KemPublicKey: kp.PublicKey,
		Fallback:     true,
	}
}
