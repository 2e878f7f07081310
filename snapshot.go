package lockbox

import (
	"github.com/lockbox/client-go/internal/cache"
)

// persistSnapshot mirrors the current state to the local cache. Every
// mutation path calls it after releasing the state lock; failures are
// logged inside the cache layer and never surface here.
func (c *Client) persistSnapshot() {
	if c.snapshot == nil {
		return
	}

	c.mu.RLock()
	contacts := make([]cache.Contact, 0, len(c.contacts))
	for _, contact := range c.contacts {
		contacts = append(contacts, cache.Contact{
			ID:          contact.ID,
			Username:    contact.Username,
			LastMessage: contact.LastMessage,
			Timestamp:   contact.LastMessageAt.Format(timestampLayout),
			UnreadCount: contact.UnreadCount,
			Pending:     contact.Status == ContactPending,
		})
	}
	conversations := make(map[string][]cache.Message, len(c.conversations))
	for peerID, conv := range c.conversations {
		msgs := make([]cache.Message, 0, len(conv))
		for _, m := range conv {
			msgs = append(msgs, cache.Message{
				ID:          m.ID,
				ClientID:    m.ClientID,
				SenderID:    m.SenderID,
				RecipientID: m.RecipientID,
				Body:        m.Body,
				Status:      string(m.Status),
				Verified:    m.Verified,
				Degraded:    m.Degraded,
				CreatedAt:   m.CreatedAt,
			})
		}
		conversations[peerID] = msgs
	}
	c.mu.RUnlock()

	c.snapshot.SaveContacts(contacts)
	for peerID, msgs := range conversations {
		c.snapshot.SaveConversation(peerID, msgs)
	}
}

// restoreFromCache seeds the state from the last persisted snapshot so a
// new session renders immediately. Server truth overwrites it on the
// first LoadAll. Entries persisted mid-send cannot still be in flight, so
// "sending" becomes "failed".
func (c *Client) restoreFromCache() {
	for _, cc := range c.snapshot.LoadContacts() {
		status := ContactActive
		if cc.Pending {
			status = ContactPending
		}
		c.contacts[cc.ID] = &Contact{
			ID:            cc.ID,
			Username:      cc.Username,
			Status:        status,
			UnreadCount:   cc.UnreadCount,
			LastMessage:   cc.LastMessage,
			LastMessageAt: parseTimestamp(cc.Timestamp),
		}
	}

	for _, peerID := range c.snapshot.Conversations() {
		cached := c.snapshot.LoadConversation(peerID)
		if len(cached) == 0 {
			continue
		}
		conv := make([]Message, 0, len(cached))
		for _, m := range cached {
			status := DeliveryStatus(m.Status)
			if status == StatusSending {
				status = StatusFailed
			}
			conv = append(conv, Message{
				ID:          m.ID,
				ClientID:    m.ClientID,
				SenderID:    m.SenderID,
				RecipientID: m.RecipientID,
				Body:        m.Body,
				Own:         m.SenderID == c.userID,
				Status:      status,
				Verified:    m.Verified,
				Degraded:    m.Degraded,
				CreatedAt:   m.CreatedAt,
			})
		}
		c.conversations[peerID] = conv
	}
}
