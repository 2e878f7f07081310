package lockbox

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/lockbox/client-go/internal/api"
	"github.com/lockbox/client-go/internal/crypto"
	"github.com/lockbox/client-go/internal/keystore"
	"github.com/lockbox/client-go/internal/realtime"
)

// degradedBody replaces plaintext for messages that cannot be decrypted.
// The entry stays visible instead of disappearing.
const degradedBody = "[encrypted message]"

// LoadAll fetches the full message set from the backend, decrypts it and
// merges it into the conversation state. Records missing a required field
// are dropped; records that fail to decrypt degrade to a placeholder body.
// Idempotent: re-applying the same server snapshot changes nothing.
func (c *Client) LoadAll(ctx context.Context) error {
	if err := c.checkClosed(); err != nil {
		return err
	}
	keys, err := c.requireKeys()
	if err != nil {
		return err
	}

	recs, err := c.apiClient.GetMessages(ctx)
	if err != nil {
		return wrapError(err)
	}

	notifyNew := c.initialLoadDone()
	dropped := 0
	for _, rec := range recs {
		if !validRecord(rec) {
			dropped++
			continue
		}
		msg := c.decryptRecord(rec, keys)
		if c.applyInbound(msg) && notifyNew && !msg.Own {
			c.notifyMessage(msg)
		}
	}
	if dropped > 0 {
		c.logger.Debug("dropped malformed message records", "count", dropped)
	}

	c.mu.Lock()
	c.loaded = true
	c.mu.Unlock()

	c.persistSnapshot()
	return nil
}

// LoadConversation refreshes a single conversation. Calls inside the
// throttle window are dropped, not queued. The merge is skipped entirely
// when the server tail matches the local tail.
func (c *Client) LoadConversation(ctx context.Context, contactID string) error {
	if err := c.checkClosed(); err != nil {
		return err
	}
	if !c.limiter.Allow("conversation:" + contactID) {
		return nil
	}
	keys, err := c.requireKeys()
	if err != nil {
		return err
	}

	recs, err := c.apiClient.GetConversation(ctx, contactID)
	if err != nil {
		return wrapError(err)
	}
	if c.conversationUnchanged(contactID, recs) {
		return nil
	}

	notifyNew := c.initialLoadDone()
	for _, rec := range recs {
		if !validRecord(rec) {
			continue
		}
		msg := c.decryptRecord(rec, keys)
		if c.applyInbound(msg) && notifyNew && !msg.Own {
			c.notifyMessage(msg)
		}
	}
	c.persistSnapshot()
	return nil
}

// Send encrypts plaintext for the contact and transmits it. The optimistic
// entry is visible in the conversation before the network round trip; on
// success it carries the server id in state "sent", on failure it stays
// visible marked "failed". Sending to a contact that is not active is a
// silent no-op returning (nil, nil).
func (c *Client) Send(ctx context.Context, contactID, plaintext string) (*Message, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	contact := c.contacts[contactID]
	active := contact != nil && contact.Status == ContactActive
	c.mu.RUnlock()
	if !active {
		c.logger.Debug("send to non-active contact ignored", "contact_id", contactID)
		return nil, nil
	}

	keys, err := c.requireKeys()
	if err != nil {
		return nil, err
	}

	msg := Message{
		ClientID:    uuid.NewString(),
		SenderID:    c.userID,
		RecipientID: contactID,
		Body:        plaintext,
		Own:         true,
		Status:      StatusSending,
		Verified:    true,
		CreatedAt:   time.Now().UTC(),
	}
	c.appendOptimistic(msg)

	rec := c.dir.Resolve(ctx, contactID)
	if rec.Fallback {
		c.logger.Warn("recipient has no published keys, message is not confidential",
			"contact_id", contactID)
	}

	env, sig, err := crypto.Seal([]byte(plaintext), rec.KemPublicKey, keys.Signing)
	if err != nil {
		failed := c.updateByClientID(contactID, msg.ClientID, func(m *Message) {
			m.Status = StatusFailed
		})
		return &failed, wrapError(err)
	}
	blob, err := env.Marshal()
	if err != nil {
		failed := c.updateByClientID(contactID, msg.ClientID, func(m *Message) {
			m.Status = StatusFailed
		})
		return &failed, wrapError(err)
	}

	result, err := c.apiClient.SendMessage(ctx, api.SendMessagePayload{
		RecipientID:     contactID,
		EncryptedBlob:   string(blob),
		Signature:       crypto.ToBase64URL(sig),
		SenderPublicKey: crypto.ToBase64URL(keys.Signing.PublicKey),
	})
	if err != nil {
		failed := c.updateByClientID(contactID, msg.ClientID, func(m *Message) {
			m.Status = StatusFailed
		})
		c.persistSnapshot()
		return &failed, wrapError(err)
	}

	sent := c.updateByClientID(contactID, msg.ClientID, func(m *Message) {
		m.ID = result.ServerID()
		m.Status = StatusSent
	})
	c.persistSnapshot()
	return &sent, nil
}

// Conversation returns a copy of the messages exchanged with a contact,
// ordered by creation time.
func (c *Client) Conversation(contactID string) []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	conv := c.conversations[contactID]
	out := make([]Message, len(conv))
	copy(out, conv)
	return out
}

// requireKeys returns the in-memory keys, loading persisted ones once if
// needed. Key absence blocks the whole pipeline.
func (c *Client) requireKeys() (*keystore.Keypairs, error) {
	if keys := c.keys.Current(); keys != nil {
		return keys, nil
	}
	keys, err := c.keys.Load()
	if err != nil {
		return nil, wrapError(err)
	}
	if keys == nil {
		return nil, ErrNoKeyMaterial
	}
	return keys, nil
}

// validRecord rejects records missing a field the pipeline depends on.
func validRecord(rec api.MessageRecord) bool {
	return rec.ID != "" && rec.SenderID != "" && rec.RecipientID != "" && rec.EncryptedBlob != ""
}

// decryptRecord turns one wire record into a Message. Parsing and
// decryption failures degrade to a placeholder body; signature failures
// are logged and reflected in Verified, never fatal.
func (c *Client) decryptRecord(rec api.MessageRecord, keys *keystore.Keypairs) Message {
	msg := Message{
		ID:             rec.ID,
		SenderID:       rec.SenderID,
		SenderUsername: rec.SenderUsername,
		RecipientID:    rec.RecipientID,
		Own:            rec.SenderID == c.userID,
		Status:         StatusDelivered,
		CreatedAt:      rec.CreatedAt,
	}

	env, err := crypto.ParseEnvelope([]byte(rec.EncryptedBlob))
	if err != nil {
		c.logger.Warn("malformed envelope", "message_id", rec.ID, "error", err)
		msg.Degraded = true
		msg.Body = degradedBody
		return msg
	}

	msg.Verified = c.verifyRecord(rec, env)

	if msg.Own {
		// Sent from this or another session; the ciphertext is
		// encapsulated to the recipient, so only a local optimistic
		// entry can supply the plaintext (applyInbound keeps it).
		msg.Degraded = true
		msg.Body = degradedBody
		return msg
	}

	plaintext, err := crypto.Open(env, keys.KEM)
	if err != nil {
		c.logger.Warn("message decryption failed", "message_id", rec.ID, "error", err)
		msg.Degraded = true
		msg.Body = degradedBody
		return msg
	}
	msg.Body = string(plaintext)
	return msg
}

// verifyRecord checks the envelope signature against the sender's signing
// key carried on the record. Failure is deliberate leniency: it is logged
// and surfaced via Message.Verified while decryption proceeds.
func (c *Client) verifyRecord(rec api.MessageRecord, env *crypto.Envelope) bool {
	if rec.Signature == "" || rec.SenderPublicKey == "" {
		c.logger.Debug("message carries no signature material", "message_id", rec.ID)
		return false
	}
	sig, err := crypto.FromBase64URL(rec.Signature)
	if err != nil {
		c.logger.Warn("undecodable message signature", "message_id", rec.ID, "error", err)
		return false
	}
	senderPk, err := crypto.FromBase64URL(rec.SenderPublicKey)
	if err != nil {
		c.logger.Warn("undecodable sender signing key", "message_id", rec.ID, "error", err)
		return false
	}
	if err := crypto.VerifyEnvelope(env, sig, senderPk); err != nil {
		c.logger.Warn("signature verification failed, decrypting anyway",
			"message_id", rec.ID, "sender_id", rec.SenderID, "error", err)
		return false
	}
	return true
}

// applyInbound is the single merge point for both delivery paths (poll
// and push). Entries are keyed by server id: a known id is a no-op except
// that it confirms delivery of an own "sent" message. Optimistic entries
// keyed by client id have no server id yet and are never displaced.
// Reports whether the message was newly appended.
func (c *Client) applyInbound(msg Message) bool {
	key := c.counterpart(msg)

	c.mu.Lock()
	defer c.mu.Unlock()

	conv := c.conversations[key]
	if msg.ID != "" {
		for i := range conv {
			if conv[i].ID == msg.ID {
				if conv[i].Own && conv[i].Status == StatusSent {
					conv[i].Status = StatusDelivered
				}
				return false
			}
		}
		if msg.Own {
			// A snapshot can carry the server row for a send whose HTTP
			// response has not assigned the id to its optimistic entry
			// yet. That entry will claim the id; appending the row now
			// would duplicate the message.
			for i := range conv {
				if conv[i].Own && conv[i].ID == "" && conv[i].Status == StatusSending {
					return false
				}
			}
		}
	}

	conv = append(conv, msg)
	sort.SliceStable(conv, func(i, j int) bool {
		return conv[i].CreatedAt.Before(conv[j].CreatedAt)
	})
	c.conversations[key] = conv

	c.touchContactLocked(key, msg)
	return true
}

// appendOptimistic inserts a local "sending" entry so the caller observes
// the message synchronously.
func (c *Client) appendOptimistic(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := msg.RecipientID
	c.conversations[key] = append(c.conversations[key], msg)
	c.touchContactLocked(key, msg)
}

// updateByClientID mutates the optimistic entry in place and returns the
// updated copy.
func (c *Client) updateByClientID(contactID, clientID string, fn func(*Message)) Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv := c.conversations[contactID]
	for i := range conv {
		if conv[i].ClientID == clientID {
			fn(&conv[i])
			return conv[i]
		}
	}
	return Message{}
}

func (c *Client) counterpart(msg Message) string {
	if msg.Own {
		return msg.RecipientID
	}
	return msg.SenderID
}

// touchContactLocked synthesizes a contact for an unknown counterpart and
// refreshes the preview fields. Callers hold c.mu.
func (c *Client) touchContactLocked(contactID string, msg Message) {
	contact := c.contacts[contactID]
	if contact == nil {
		username := contactID
		if !msg.Own && msg.SenderUsername != "" {
			username = msg.SenderUsername
		}
		contact = &Contact{
			ID:       contactID,
			Username: username,
			Status:   ContactActive,
		}
		c.contacts[contactID] = contact
	}
	if !msg.CreatedAt.Before(contact.LastMessageAt) {
		contact.LastMessageAt = msg.CreatedAt
		if !msg.Degraded {
			contact.LastMessage = truncatePreview(msg.Body, messagePreviewLength)
		}
	}
	if !msg.Own {
		contact.UnreadCount++
	}
}

// conversationUnchanged compares the server tail with the local tail so an
// identical snapshot skips the merge.
func (c *Client) conversationUnchanged(contactID string, recs []api.MessageRecord) bool {
	if len(recs) == 0 {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	conv := c.conversations[contactID]
	if len(conv) == 0 || len(conv) != len(recs) {
		return false
	}
	return conv[len(conv)-1].ID == recs[len(recs)-1].ID
}

func (c *Client) initialLoadDone() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

func (c *Client) notifyMessage(msg Message) {
	if c.cfg.onMessage != nil {
		c.cfg.onMessage(msg)
	}
}

// handlePushMessage is the push-path entry into the merge. It shares
// applyInbound with the polling path.
func (c *Client) handlePushMessage(rec api.MessageRecord) {
	keys, err := c.requireKeys()
	if err != nil {
		c.logger.Warn("pushed message dropped, no key material", "error", err)
		return
	}
	if !validRecord(rec) {
		c.logger.Debug("pushed message record malformed, dropped")
		return
	}
	msg := c.decryptRecord(rec, keys)
	if c.applyInbound(msg) && !msg.Own {
		c.notifyMessage(msg)
	}
	c.persistSnapshot()
}

// handlePushChatRequest refreshes the pending request set when the backend
// signals a new chat request.
func (c *Client) handlePushChatRequest(realtime.Notification) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		c.limiter.Reset(requestsThrottleKey)
		if _, err := c.IncomingRequests(ctx); err != nil {
			c.logger.Debug("chat request refresh failed", "error", err)
		}
	}()
}

func truncatePreview(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}
