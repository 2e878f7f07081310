// Package cache mirrors the decrypted conversation state to disk so a new
// session can render immediately while the backend is consulted. The cache
// is advisory: it is reconciled against server truth on the first full
// load, and every failure degrades to a cache miss.
package cache

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketContacts      = []byte("contacts")
	bucketConversations = []byte("conversations")

	contactsKey = []byte("all")
)

// Contact is the persisted form of one contact row.
type Contact struct {
	ID          string    `cbor:"id"`
	Username    string    `cbor:"username"`
	LastMessage string    `cbor:"last_message"`
	Timestamp   string    `cbor:"timestamp"`
	UnreadCount int       `cbor:"unread_count"`
	Pending     bool      `cbor:"pending"`
	SavedAt     time.Time `cbor:"saved_at"`
}

// Message is the persisted form of one decrypted message.
type Message struct {
	ID          string    `cbor:"id"`
	ClientID    string    `cbor:"client_id"`
	SenderID    string    `cbor:"sender_id"`
	RecipientID string    `cbor:"recipient_id"`
	Body        string    `cbor:"body"`
	Status      string    `cbor:"status"`
	Verified    bool      `cbor:"verified"`
	Degraded    bool      `cbor:"degraded"`
	CreatedAt   time.Time `cbor:"created_at"`
}

// Store is a write-through snapshot store backed by bbolt.
type Store struct {
	db     *bolt.DB
	logger *slog.Logger
}

// Open opens (or creates) the snapshot store at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open cache %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketContacts); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketConversations)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init cache buckets: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveContacts replaces the persisted contact list. Failures are logged
// and swallowed: the cache must never make a live operation fail.
func (s *Store) SaveContacts(contacts []Contact) {
	blob, err := cbor.Marshal(contacts)
	if err != nil {
		s.logger.Warn("cache encode failed", "what", "contacts", "error", err)
		return
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketContacts).Put(contactsKey, blob)
	})
	if err != nil {
		s.logger.Warn("cache write failed", "what", "contacts", "error", err)
	}
}

// LoadContacts returns the persisted contact list, or nil on any miss.
func (s *Store) LoadContacts() []Contact {
	var blob []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketContacts).Get(contactsKey); v != nil {
			blob = append(blob, v...)
		}
		return nil
	})
	if err != nil || blob == nil {
		return nil
	}
	var contacts []Contact
	if err := cbor.Unmarshal(blob, &contacts); err != nil {
		s.logger.Warn("cache decode failed, dropping snapshot", "what", "contacts", "error", err)
		return nil
	}
	return contacts
}

// SaveConversation replaces the persisted message list for one peer.
func (s *Store) SaveConversation(peerID string, messages []Message) {
	blob, err := cbor.Marshal(messages)
	if err != nil {
		s.logger.Warn("cache encode failed", "what", "conversation", "peer_id", peerID, "error", err)
		return
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConversations).Put([]byte(peerID), blob)
	})
	if err != nil {
		s.logger.Warn("cache write failed", "what", "conversation", "peer_id", peerID, "error", err)
	}
}

// LoadConversation returns the persisted messages for one peer, or nil.
func (s *Store) LoadConversation(peerID string) []Message {
	var blob []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketConversations).Get([]byte(peerID)); v != nil {
			blob = append(blob, v...)
		}
		return nil
	})
	if err != nil || blob == nil {
		return nil
	}
	var messages []Message
	if err := cbor.Unmarshal(blob, &messages); err != nil {
		s.logger.Warn("cache decode failed, dropping snapshot", "what", "conversation", "peer_id", peerID, "error", err)
		return nil
	}
	return messages
}

// Conversations lists the peer ids with a persisted conversation.
func (s *Store) Conversations() []string {
	var peers []string
	s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConversations).ForEach(func(k, _ []byte) error {
			peers = append(peers, string(k))
			return nil
		})
	})
	return peers
}

// Clear wipes the snapshot. Used when the session ends or the account's
// key material is destroyed, so no plaintext outlives the keys.
func (s *Store) Clear() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketContacts, bucketConversations} {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
}
