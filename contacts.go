package lockbox

import (
	"context"
	"sort"
	"time"

	"github.com/lockbox/client-go/internal/api"
)

const requestsThrottleKey = "chat-requests"

// RequestChat starts a chat request to another user. It fails with
// ErrDuplicateRequest when the target is already an active or pending
// contact; the backend is not contacted in that case. On success a local
// pending contact appears immediately.
func (c *Client) RequestChat(ctx context.Context, targetUserID, introMessage string) error {
	if err := c.checkClosed(); err != nil {
		return err
	}

	c.mu.RLock()
	_, exists := c.contacts[targetUserID]
	c.mu.RUnlock()
	if exists {
		return ErrDuplicateRequest
	}

	err := c.apiClient.SendChatRequest(ctx, api.SendChatRequestPayload{
		RecipientID: targetUserID,
		Message:     introMessage,
	})
	if err != nil {
		return wrapError(err)
	}

	c.mu.Lock()
	c.contacts[targetUserID] = &Contact{
		ID:       targetUserID,
		Username: targetUserID,
		Status:   ContactPending,
	}
	c.mu.Unlock()
	c.persistSnapshot()
	return nil
}

// IncomingRequests returns the pending incoming chat requests. Backend
// calls are throttled; inside the window the last known set is returned.
// Newly seen requests fire the chat-request handler.
func (c *Client) IncomingRequests(ctx context.Context) ([]ChatRequest, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}

	if !c.limiter.Allow(requestsThrottleKey) {
		return c.pendingRequests(), nil
	}

	recs, err := c.apiClient.GetIncomingRequests(ctx)
	if err != nil {
		return nil, wrapError(err)
	}

	fresh := make(map[string]ChatRequest, len(recs))
	var added []ChatRequest
	c.mu.Lock()
	for _, rec := range recs {
		req := ChatRequest{
			ID:           rec.ID,
			FromUserID:   rec.FromUserID,
			FromUsername: rec.FromUsername,
			Message:      rec.Message,
			CreatedAt:    rec.CreatedAt,
		}
		fresh[req.ID] = req
		if _, known := c.requests[req.ID]; !known {
			added = append(added, req)
		}
	}
	c.requests = fresh
	c.mu.Unlock()

	if c.cfg.onChatRequest != nil {
		for _, req := range added {
			c.cfg.onChatRequest(req)
		}
	}
	return c.pendingRequests(), nil
}

// Accept approves a pending chat request. The backend is updated first;
// on success the request leaves the pending set and the requester becomes
// an active contact, ready for messaging.
func (c *Client) Accept(ctx context.Context, request ChatRequest) error {
	if err := c.respondRequest(ctx, request.ID, "accept"); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.requests, request.ID)
	contact := c.contacts[request.FromUserID]
	if contact == nil {
		contact = &Contact{ID: request.FromUserID}
		c.contacts[request.FromUserID] = contact
	}
	contact.Status = ContactActive
	if request.FromUsername != "" {
		contact.Username = request.FromUsername
	} else if contact.Username == "" {
		contact.Username = request.FromUserID
	}
	c.mu.Unlock()
	c.persistSnapshot()
	return nil
}

// Decline rejects a pending chat request. The message endpoints are never
// contacted; the requester does not become a contact.
func (c *Client) Decline(ctx context.Context, request ChatRequest) error {
	if err := c.respondRequest(ctx, request.ID, "decline"); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.requests, request.ID)
	c.mu.Unlock()
	return nil
}

func (c *Client) respondRequest(ctx context.Context, requestID, action string) error {
	if err := c.checkClosed(); err != nil {
		return err
	}
	err := c.apiClient.RespondChatRequest(ctx, api.RespondChatRequestPayload{
		RequestID: requestID,
		Action:    action,
	})
	return wrapError(err)
}

// RefreshContacts reconciles the contact list with the backend. Server
// rows win for status, username and unread counts; contacts synthesized
// locally from message history survive until the server knows them.
func (c *Client) RefreshContacts(ctx context.Context) error {
	if err := c.checkClosed(); err != nil {
		return err
	}

	active, err := c.apiClient.GetContacts(ctx)
	if err != nil {
		return wrapError(err)
	}
	pending, err := c.apiClient.GetPendingContacts(ctx)
	if err != nil {
		return wrapError(err)
	}

	c.mu.Lock()
	for _, rec := range active {
		c.mergeContactLocked(rec, ContactActive)
	}
	for _, rec := range pending {
		c.mergeContactLocked(rec, ContactPending)
	}
	c.mu.Unlock()
	c.persistSnapshot()
	return nil
}

// mergeContactLocked applies one server contact row. Callers hold c.mu.
func (c *Client) mergeContactLocked(rec api.ContactRecord, status ContactStatus) {
	contact := c.contacts[rec.ID]
	if contact == nil {
		contact = &Contact{ID: rec.ID}
		c.contacts[rec.ID] = contact
	}
	contact.Status = status
	if rec.Username != "" {
		contact.Username = rec.Username
	}
	contact.UnreadCount = rec.UnreadCount
	if rec.LastMessage != "" {
		contact.LastMessage = truncatePreview(rec.LastMessage, messagePreviewLength)
	}
	if ts := parseTimestamp(rec.Timestamp); !ts.IsZero() && ts.After(contact.LastMessageAt) {
		contact.LastMessageAt = ts
	}
}

// Contacts returns a copy of the known contacts, most recent first.
func (c *Client) Contacts() []Contact {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Contact, 0, len(c.contacts))
	for _, contact := range c.contacts {
		out = append(out, *contact)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastMessageAt.Equal(out[j].LastMessageAt) {
			return out[i].LastMessageAt.After(out[j].LastMessageAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Contact returns one contact by id.
func (c *Client) Contact(id string) (Contact, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	contact, ok := c.contacts[id]
	if !ok {
		return Contact{}, false
	}
	return *contact, true
}

// MarkRead clears the unread counter for a contact.
func (c *Client) MarkRead(contactID string) {
	c.mu.Lock()
	if contact := c.contacts[contactID]; contact != nil {
		contact.UnreadCount = 0
	}
	c.mu.Unlock()
	c.persistSnapshot()
}

func (c *Client) pendingRequests() []ChatRequest {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ChatRequest, 0, len(c.requests))
	for _, req := range c.requests {
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// parseTimestamp tolerates the formats the backend emits for contact rows.
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts
		}
	}
	return time.Time{}
}
