package api

import (
	"context"
	"fmt"
	"net/url"
)

// PublishKeys uploads the identity's public keys. Callers treat failure as
// non-fatal and log it.
func (c *Client) PublishKeys(ctx context.Context, req PublishKeysRequest) error {
	return c.post(ctx, "/keys/update", req, nil)
}

// GetPublicKeys looks up a peer's published keys.
func (c *Client) GetPublicKeys(ctx context.Context, userID string) (*PeerKeys, error) {
	path := fmt.Sprintf("/keys/public/%s", url.PathEscape(userID))
	var result PeerKeys
	if err := c.get(ctx, path, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetContacts lists the user's active contacts.
func (c *Client) GetContacts(ctx context.Context) ([]ContactRecord, error) {
	var result []ContactRecord
	if err := c.get(ctx, "/contacts", &result); err != nil {
		return nil, err
	}
	return result, nil
}

// GetPendingContacts lists contacts with an outstanding chat request.
func (c *Client) GetPendingContacts(ctx context.Context) ([]ContactRecord, error) {
	var result []ContactRecord
	if err := c.get(ctx, "/contacts/pending", &result); err != nil {
		return nil, err
	}
	return result, nil
}

// SendChatRequest asks another user to start a conversation.
func (c *Client) SendChatRequest(ctx context.Context, req SendChatRequestPayload) error {
	return c.post(ctx, "/chat-requests/send", req, nil)
}

// GetIncomingRequests lists pending chat requests addressed to the user.
func (c *Client) GetIncomingRequests(ctx context.Context) ([]ChatRequestRecord, error) {
	var result []ChatRequestRecord
	if err := c.get(ctx, "/chat-requests/incoming", &result); err != nil {
		return nil, err
	}
	return result, nil
}

// RespondChatRequest accepts or declines a pending chat request.
func (c *Client) RespondChatRequest(ctx context.Context, req RespondChatRequestPayload) error {
	return c.post(ctx, "/chat-requests/respond", req, nil)
}

// GetMessages fetches the full message set for the logged-in user.
func (c *Client) GetMessages(ctx context.Context) ([]MessageRecord, error) {
	var result []MessageRecord
	if err := c.get(ctx, "/messages", &result); err != nil {
		return nil, err
	}
	return result, nil
}

// GetConversation fetches one conversation's messages.
func (c *Client) GetConversation(ctx context.Context, contactID string) ([]MessageRecord, error) {
	path := fmt.Sprintf("/messages/conversation/%s", url.PathEscape(contactID))
	var result []MessageRecord
	if err := c.get(ctx, path, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// SendMessage transmits one encrypted message and returns the
// server-assigned id.
func (c *Client) SendMessage(ctx context.Context, req SendMessagePayload) (*SendMessageResult, error) {
	var result SendMessageResult
	if err := c.post(ctx, "/messages/send", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
